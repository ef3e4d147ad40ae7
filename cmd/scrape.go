package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/storepulse/appscraper/internal/scrape"
	"github.com/storepulse/appscraper/internal/scraper"
)

const cliTrigger = "cli"

func pageBudgetFlag(cmd *cobra.Command) *string {
	return cmd.Flags().String("pages", "", `page budget: "first", "all", or a number`)
}

func parsePages(raw string) (scrape.PageBudget, error) {
	if raw == "" {
		return scrape.PageBudget{}, nil
	}
	return scrape.ParsePageBudget(raw)
}

func newCategoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories [slug]",
		Short: "Crawl the category tree, or a single category when a slug is given",
		Args:  cobra.MaximumNArgs(1),
	}
	pagesFlag := pageBudgetFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		instance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		pages, err := parsePages(*pagesFlag)
		if err != nil {
			return err
		}
		opts := scraper.CrawlOptions{Pages: pages, TriggeredBy: cliTrigger}
		var res *scraper.CrawlResult
		if len(args) == 1 {
			res, err = instance.Categories.ScrapeSingle(cmd.Context(), args[0], opts)
		} else {
			res, err = instance.Categories.Crawl(cmd.Context(), opts)
		}
		if err != nil {
			return fmt.Errorf("crawl categories: %w", err)
		}
		instance.Logger.Info("category crawl finished",
			zap.String("run_id", res.RunID),
			zap.Int("categories", res.ItemsScraped),
			zap.Int("failed", res.ItemsFailed),
			zap.Int("apps_discovered", len(res.DiscoveredSlugs)),
		)
		return nil
	}
	return cmd
}

func newAppCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "app <slug>",
		Short: "Scrape one app's detail page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := instance.Details.ScrapeSingle(cmd.Context(), args[0], cliTrigger)
			if err != nil {
				return fmt.Errorf("scrape app %s: %w", args[0], err)
			}
			instance.Logger.Info("app details finished",
				zap.String("run_id", res.RunID),
				zap.Int("scraped", res.ItemsScraped),
				zap.Int("skipped_fresh", res.Skipped),
			)
			return nil
		},
	}
}

func newAppTrackedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "app-tracked",
		Short: "Scrape detail pages for every tracked app",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			instance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := instance.Details.ScrapeTracked(cmd.Context(), cliTrigger)
			if err != nil {
				return fmt.Errorf("scrape tracked apps: %w", err)
			}
			instance.Logger.Info("tracked app details finished",
				zap.String("run_id", res.RunID),
				zap.Int("scraped", res.ItemsScraped),
				zap.Int("failed", res.ItemsFailed),
				zap.Int("skipped_fresh", res.Skipped),
			)
			return nil
		},
	}
}

func newKeywordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keyword <keyword>",
		Short: "Scrape search results for one keyword",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := instance.Keywords.ScrapeOne(cmd.Context(), args[0], cliTrigger)
			if err != nil {
				return fmt.Errorf("scrape keyword %q: %w", args[0], err)
			}
			instance.Logger.Info("keyword search finished",
				zap.String("run_id", res.RunID),
				zap.Int("apps_discovered", len(res.DiscoveredSlugs)),
			)
			return nil
		},
	}
}

func newKeywordTrackedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keyword-tracked",
		Short: "Scrape search results for every active keyword",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			instance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := instance.Keywords.ScrapeAll(cmd.Context(), cliTrigger)
			if err != nil {
				return fmt.Errorf("scrape active keywords: %w", err)
			}
			instance.Logger.Info("keyword pass finished",
				zap.String("run_id", res.RunID),
				zap.Int("keywords", res.ItemsScraped),
				zap.Int("failed", res.ItemsFailed),
				zap.Int("apps_discovered", len(res.DiscoveredSlugs)),
			)
			return nil
		},
	}
}

func newReviewsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reviews <slug>",
		Short: "Collect recent reviews for one app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := instance.Reviews.ScrapeSingle(cmd.Context(), args[0], cliTrigger)
			if err != nil {
				return fmt.Errorf("scrape reviews for %s: %w", args[0], err)
			}
			instance.Logger.Info("review collection finished",
				zap.String("run_id", res.RunID),
				zap.Int("new_reviews", res.NewReviews),
			)
			return nil
		},
	}
}

func newReviewsTrackedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reviews-tracked",
		Short: "Collect recent reviews for every tracked app",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			instance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := instance.Reviews.ScrapeTracked(cmd.Context(), cliTrigger)
			if err != nil {
				return fmt.Errorf("scrape tracked reviews: %w", err)
			}
			instance.Logger.Info("tracked review collection finished",
				zap.String("run_id", res.RunID),
				zap.Int("apps", res.ItemsScraped),
				zap.Int("failed", res.ItemsFailed),
				zap.Int("new_reviews", res.NewReviews),
			)
			return nil
		},
	}
}
