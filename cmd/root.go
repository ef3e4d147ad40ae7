// Package cmd defines the CLI commands for the appscraper executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/storepulse/appscraper/internal/app"
	"github.com/storepulse/appscraper/internal/config"
)

var cfgFile string

type appKeyType struct{}

var appKey appKeyType

// newApp is the application factory, replaceable in tests.
var newApp = func(ctx context.Context, cfg config.Config) (*app.App, error) {
	return app.New(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "appscraper",
		Short: "Marketplace scraper for app rankings, listings, and reviews",
		Long: `appscraper captures point-in-time snapshots of an app marketplace:
category listings, keyword search results, app detail pages, and reviews.
Every pass is recorded as a scrape run so rankings and placements can be
compared over time.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			instance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, instance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if instance, ok := cmd.Context().Value(appKey).(*app.App); ok && instance != nil {
				instance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (environment variables apply either way)")

	cmd.AddCommand(
		newCategoriesCmd(),
		newAppCmd(),
		newAppTrackedCmd(),
		newKeywordCmd(),
		newKeywordTrackedCmd(),
		newReviewsCmd(),
		newReviewsTrackedCmd(),
		newTrackAppCmd(),
		newTrackKeywordCmd(),
		newWorkerCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	instance, ok := ctx.Value(appKey).(*app.App)
	if !ok || instance == nil {
		return nil, errors.New("application services not initialized")
	}
	return instance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
