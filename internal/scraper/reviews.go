package scraper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/storepulse/appscraper/internal/metrics"
	"github.com/storepulse/appscraper/internal/scrape"
)

// ReviewsConfig tunes review scraping.
type ReviewsConfig struct {
	BaseURL string
	// PageCap bounds review pagination per app.
	PageCap int
	// CutoffWindow bounds how far back reviews are collected.
	CutoffWindow time.Duration
}

// ReviewScraper walks review pages newest-first per app, stopping at the
// rolling cutoff and relying on the store's dedup key to make repeated
// passes idempotent.
type ReviewScraper struct {
	fetcher scrape.Fetcher
	parser  scrape.Parser
	store   scrape.Store
	clock   scrape.Clock
	logger  *zap.Logger
	cfg     ReviewsConfig
}

// NewReviewScraper assembles a review scraper.
func NewReviewScraper(f scrape.Fetcher, p scrape.Parser, st scrape.Store, clock scrape.Clock, cfg ReviewsConfig, logger *zap.Logger) *ReviewScraper {
	if cfg.PageCap <= 0 {
		cfg.PageCap = 50
	}
	if cfg.CutoffWindow <= 0 {
		cfg.CutoffWindow = 90 * 24 * time.Hour
	}
	return &ReviewScraper{
		fetcher: f,
		parser:  p,
		store:   st,
		clock:   clock,
		logger:  logger.Named("reviews"),
		cfg:     cfg,
	}
}

// ReviewsResult summarizes one finished reviews run.
type ReviewsResult struct {
	RunID        string
	NewReviews   int
	ItemsScraped int
	ItemsFailed  int
}

// ScrapeSingle collects reviews for one app inside its own run.
func (r *ReviewScraper) ScrapeSingle(ctx context.Context, slug, triggeredBy string) (*ReviewsResult, error) {
	run, err := beginRun(ctx, r.store, r.clock, scrape.ScraperReviews, triggeredBy)
	if err != nil {
		return nil, err
	}

	var meta scrape.RunMetadata
	newReviews, runErr := r.ScrapeApp(ctx, slug, run.ID)
	if runErr != nil {
		meta.ItemsFailed++
	} else {
		meta.ItemsScraped++
	}
	metrics.ObserveItem(string(scrape.ScraperReviews), runErr != nil)
	meta.Extra = map[string]any{"new_reviews": newReviews}

	finishRun(ctx, r.store, r.clock, r.logger, run, meta, runErr)
	if runErr != nil {
		return nil, runErr
	}
	return &ReviewsResult{
		RunID:        run.ID,
		NewReviews:   newReviews,
		ItemsScraped: meta.ItemsScraped,
	}, nil
}

// ScrapeTracked collects reviews for every tracked app inside one run with
// per-app failure isolation.
func (r *ReviewScraper) ScrapeTracked(ctx context.Context, triggeredBy string) (*ReviewsResult, error) {
	run, err := beginRun(ctx, r.store, r.clock, scrape.ScraperReviews, triggeredBy)
	if err != nil {
		return nil, err
	}

	var meta scrape.RunMetadata
	var runErr error
	totalNew := 0

	apps, err := r.store.TrackedApps(ctx)
	if err != nil {
		runErr = fmt.Errorf("list tracked apps: %w", err)
	}
	for _, app := range apps {
		newReviews, err := r.ScrapeApp(ctx, app.Slug, run.ID)
		if err != nil {
			if abortsRun(ctx, err) {
				runErr = err
				break
			}
			meta.ItemsFailed++
			metrics.ObserveItem(string(scrape.ScraperReviews), true)
			r.logger.Error("reviews failed",
				zap.String("run_id", run.ID),
				zap.String("app", app.Slug),
				zap.Error(err),
			)
			continue
		}
		meta.ItemsScraped++
		totalNew += newReviews
		metrics.ObserveItem(string(scrape.ScraperReviews), false)
	}
	meta.Extra = map[string]any{"new_reviews": totalNew}

	finishRun(ctx, r.store, r.clock, r.logger, run, meta, runErr)
	if runErr != nil {
		return nil, runErr
	}
	return &ReviewsResult{
		RunID:        run.ID,
		NewReviews:   totalNew,
		ItemsScraped: meta.ItemsScraped,
		ItemsFailed:  meta.ItemsFailed,
	}, nil
}

// ScrapeApp walks one app's review pages newest-first within an existing
// run and returns how many genuinely new reviews landed. Pagination stops
// at the first review older than the rolling cutoff, on an empty page, or
// at the page cap.
func (r *ReviewScraper) ScrapeApp(ctx context.Context, slug, runID string) (int, error) {
	cutoff := r.clock.Now().Add(-r.cfg.CutoffWindow)
	newReviews := 0

	for page := 1; page <= r.cfg.PageCap; page++ {
		body, err := r.fetcher.Fetch(ctx, reviewsURL(r.cfg.BaseURL, slug, page), nil)
		if err != nil {
			return newReviews, fmt.Errorf("page %d: %w", page, err)
		}
		rp, err := r.parser.ReviewPage(body, scrape.PageContext{Page: page, BaseURL: r.cfg.BaseURL})
		if err != nil {
			return newReviews, fmt.Errorf("parse page %d: %w", page, err)
		}
		if len(rp.Reviews) == 0 {
			return newReviews, nil
		}

		for _, review := range rp.Reviews {
			// Pages are newest-first; past the cutoff nothing further
			// on this or any later page can qualify.
			if review.Date.Before(cutoff) {
				return newReviews, nil
			}
			inserted, err := r.store.InsertReview(ctx, scrape.ReviewRecord{
				AppSlug:        slug,
				Reviewer:       review.Reviewer,
				Rating:         review.Rating,
				Content:        review.Content,
				DeveloperReply: review.DeveloperReply,
				Date:           review.Date,
				RunID:          runID,
			})
			if err != nil {
				return newReviews, fmt.Errorf("insert review: %w", err)
			}
			if inserted {
				newReviews++
			}
		}

		if !rp.HasNextPage {
			return newReviews, nil
		}
	}
	return newReviews, nil
}
