package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newTrackAppCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track-app <slug>",
		Short: "Mark an app as tracked so scheduled passes include it",
		Args:  cobra.ExactArgs(1),
	}
	off := cmd.Flags().Bool("off", false, "stop tracking instead")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		instance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		tracked := !*off
		if err := instance.Store.SetAppTracked(cmd.Context(), args[0], tracked); err != nil {
			return fmt.Errorf("set tracked: %w", err)
		}
		instance.Logger.Info("app tracking updated",
			zap.String("app", args[0]), zap.Bool("tracked", tracked))
		return nil
	}
	return cmd
}

func newTrackKeywordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "track-keyword <keyword>",
		Short: "Register a keyword so scheduled search passes include it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			kw, err := instance.Store.UpsertKeyword(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("register keyword: %w", err)
			}
			instance.Logger.Info("keyword registered",
				zap.String("keyword", kw.Keyword), zap.String("id", kw.ID))
			return nil
		},
	}
}
