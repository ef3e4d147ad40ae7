// Package scraper implements the stateful crawlers that turn marketplace
// pages into time-series records: the category crawler, the keyword search
// scraper, the app details scraper, and the review scraper. Each entry point
// owns exactly one ScrapeRun and finishes it whichever way the work ends.
package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storepulse/appscraper/internal/metrics"
	"github.com/storepulse/appscraper/internal/scrape"
)

// beginRun creates and starts a ScrapeRun owned by the calling scraper.
func beginRun(ctx context.Context, store scrape.Store, clock scrape.Clock, t scrape.ScraperType, triggeredBy string) (scrape.ScrapeRun, error) {
	now := clock.Now()
	run := scrape.ScrapeRun{
		ID:          uuid.NewString(),
		Type:        t,
		Status:      scrape.RunPending,
		TriggeredBy: triggeredBy,
		CreatedAt:   now,
	}
	if err := store.CreateRun(ctx, run); err != nil {
		return scrape.ScrapeRun{}, fmt.Errorf("create %s run: %w", t, err)
	}
	if err := store.StartRun(ctx, run.ID, now); err != nil {
		return scrape.ScrapeRun{}, fmt.Errorf("start %s run: %w", t, err)
	}
	run.Status = scrape.RunRunning
	run.StartedAt = &now
	return run, nil
}

// finishRun closes the run out: completed on success, failed with the error
// text captured verbatim otherwise. Counters accumulated so far are
// persisted either way.
func finishRun(ctx context.Context, store scrape.Store, clock scrape.Clock, logger *zap.Logger, run scrape.ScrapeRun, meta scrape.RunMetadata, runErr error) {
	now := clock.Now()
	var elapsed time.Duration
	if run.StartedAt != nil {
		elapsed = now.Sub(*run.StartedAt)
	}
	meta.DurationMs = elapsed.Milliseconds()
	metrics.ObserveRun(string(run.Type), elapsed)

	if runErr != nil {
		if err := store.FailRun(ctx, run.ID, runErr.Error(), meta, now); err != nil {
			logger.Error("mark run failed",
				zap.String("run_id", run.ID), zap.Error(err))
		}
		logger.Error("scrape run failed",
			zap.String("run_id", run.ID),
			zap.String("scraper", string(run.Type)),
			zap.Int("items_scraped", meta.ItemsScraped),
			zap.Int("items_failed", meta.ItemsFailed),
			zap.Error(runErr),
		)
		return
	}
	if err := store.CompleteRun(ctx, run.ID, meta, now); err != nil {
		logger.Error("mark run completed",
			zap.String("run_id", run.ID), zap.Error(err))
		return
	}
	logger.Info("scrape run completed",
		zap.String("run_id", run.ID),
		zap.String("scraper", string(run.Type)),
		zap.Int("items_scraped", meta.ItemsScraped),
		zap.Int("items_failed", meta.ItemsFailed),
		zap.Duration("elapsed", elapsed),
	)
}

// abortsRun reports whether an error should fail the whole run rather than
// be counted against one item.
func abortsRun(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() != nil
}

func ptr[T any](v T) *T { return &v }
