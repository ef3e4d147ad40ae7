package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storepulse/appscraper/internal/metrics"
	"github.com/storepulse/appscraper/internal/scrape"
)

// AppDetailsConfig tunes app detail scraping.
type AppDetailsConfig struct {
	BaseURL string
	// FreshnessWindow skips re-fetching an app whose latest snapshot is
	// younger than this.
	FreshnessWindow time.Duration
}

// AppDetailsScraper captures app detail pages: master record upserts,
// immutable snapshots, field-change audit rows against the prior snapshot,
// and similar-app sightings.
type AppDetailsScraper struct {
	fetcher scrape.Fetcher
	parser  scrape.Parser
	store   scrape.Store
	clock   scrape.Clock
	logger  *zap.Logger
	cfg     AppDetailsConfig
}

// NewAppDetailsScraper assembles an app details scraper.
func NewAppDetailsScraper(f scrape.Fetcher, p scrape.Parser, st scrape.Store, clock scrape.Clock, cfg AppDetailsConfig, logger *zap.Logger) *AppDetailsScraper {
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = 6 * time.Hour
	}
	return &AppDetailsScraper{
		fetcher: f,
		parser:  p,
		store:   st,
		clock:   clock,
		logger:  logger.Named("app_details"),
		cfg:     cfg,
	}
}

// DetailsResult summarizes one finished details run.
type DetailsResult struct {
	RunID        string
	ItemsScraped int
	ItemsFailed  int
	Skipped      int
}

// ScrapeSingle captures one app inside its own run.
func (a *AppDetailsScraper) ScrapeSingle(ctx context.Context, slug, triggeredBy string) (*DetailsResult, error) {
	run, err := beginRun(ctx, a.store, a.clock, scrape.ScraperAppDetails, triggeredBy)
	if err != nil {
		return nil, err
	}

	var meta scrape.RunMetadata
	res := &DetailsResult{RunID: run.ID}
	skipped, runErr := a.ScrapeApp(ctx, slug, run.ID)
	switch {
	case runErr != nil:
		meta.ItemsFailed++
	case skipped:
		res.Skipped++
	default:
		meta.ItemsScraped++
	}
	metrics.ObserveItem(string(scrape.ScraperAppDetails), runErr != nil)
	meta.Extra = map[string]any{"skipped_fresh": res.Skipped}

	finishRun(ctx, a.store, a.clock, a.logger, run, meta, runErr)
	if runErr != nil {
		return nil, runErr
	}
	res.ItemsScraped = meta.ItemsScraped
	return res, nil
}

// ScrapeTracked captures every tracked app inside one run with per-app
// failure isolation.
func (a *AppDetailsScraper) ScrapeTracked(ctx context.Context, triggeredBy string) (*DetailsResult, error) {
	run, err := beginRun(ctx, a.store, a.clock, scrape.ScraperAppDetails, triggeredBy)
	if err != nil {
		return nil, err
	}

	var meta scrape.RunMetadata
	var runErr error
	res := &DetailsResult{RunID: run.ID}

	apps, err := a.store.TrackedApps(ctx)
	if err != nil {
		runErr = fmt.Errorf("list tracked apps: %w", err)
	}
	for _, app := range apps {
		skipped, err := a.ScrapeApp(ctx, app.Slug, run.ID)
		if err != nil {
			if abortsRun(ctx, err) {
				runErr = err
				break
			}
			meta.ItemsFailed++
			metrics.ObserveItem(string(scrape.ScraperAppDetails), true)
			a.logger.Error("app details failed",
				zap.String("run_id", run.ID),
				zap.String("app", app.Slug),
				zap.Error(err),
			)
			continue
		}
		if skipped {
			res.Skipped++
			continue
		}
		meta.ItemsScraped++
		metrics.ObserveItem(string(scrape.ScraperAppDetails), false)
	}
	meta.Extra = map[string]any{"skipped_fresh": res.Skipped}

	finishRun(ctx, a.store, a.clock, a.logger, run, meta, runErr)
	if runErr != nil {
		return nil, runErr
	}
	res.ItemsScraped = meta.ItemsScraped
	res.ItemsFailed = meta.ItemsFailed
	return res, nil
}

// ScrapeApp captures one app within an existing run. It reports
// (true, nil) when the latest snapshot is still fresh and the fetch was
// skipped entirely.
func (a *AppDetailsScraper) ScrapeApp(ctx context.Context, slug, runID string) (bool, error) {
	prior, err := a.store.LatestAppSnapshot(ctx, slug)
	havePrior := err == nil
	if err != nil && !errors.Is(err, scrape.ErrNotFound) {
		return false, fmt.Errorf("latest snapshot: %w", err)
	}
	if havePrior && a.clock.Now().Sub(prior.ScrapedAt) < a.cfg.FreshnessWindow {
		a.logger.Debug("snapshot still fresh, skipping",
			zap.String("app", slug),
			zap.Time("scraped_at", prior.ScrapedAt),
		)
		return true, nil
	}

	body, err := a.fetcher.Fetch(ctx, appURL(a.cfg.BaseURL, slug), nil)
	if err != nil {
		return false, err
	}
	page, err := a.parser.AppDetailPage(body, scrape.PageContext{Page: 1, BaseURL: a.cfg.BaseURL})
	if err != nil {
		return false, fmt.Errorf("parse: %w", err)
	}
	now := a.clock.Now()

	if err := a.recordChanges(ctx, slug, runID, page, prior, havePrior, now); err != nil {
		return false, err
	}

	patch := scrape.AppPatch{Slug: slug, SeenAt: now}
	if page.Name != "" {
		patch.Name = ptr(page.Name)
	}
	if page.IconURL != "" {
		patch.IconURL = ptr(page.IconURL)
	}
	if page.Developer != "" {
		patch.Developer = ptr(page.Developer)
	}
	if page.AverageRating != nil {
		patch.AverageRating = page.AverageRating
	}
	if page.LaunchDate != nil {
		patch.LaunchDate = page.LaunchDate
	}
	if err := a.store.UpsertApp(ctx, patch); err != nil {
		return false, fmt.Errorf("upsert app: %w", err)
	}

	snap := scrape.AppSnapshot{
		ID:            uuid.NewString(),
		AppSlug:       slug,
		RunID:         runID,
		Name:          page.Name,
		Introduction:  page.Introduction,
		Details:       page.Details,
		Features:      page.Features,
		PricingPlans:  page.PricingPlans,
		AverageRating: page.AverageRating,
		RatingCount:   page.RatingCount,
		Categories:    page.Categories,
		ScrapedAt:     now,
	}
	if err := a.store.InsertAppSnapshot(ctx, snap); err != nil {
		return false, fmt.Errorf("insert snapshot: %w", err)
	}

	for _, sim := range page.SimilarApps {
		simPatch := scrape.AppPatch{Slug: sim.Slug, SeenAt: now}
		if sim.Name != "" {
			simPatch.Name = ptr(sim.Name)
		}
		if sim.IconURL != "" {
			simPatch.IconURL = ptr(sim.IconURL)
		}
		if err := a.store.UpsertApp(ctx, simPatch); err != nil {
			return false, fmt.Errorf("upsert similar app %s: %w", sim.Slug, err)
		}
		obs := scrape.SightingObservation{
			Kind:    scrape.SightingSimilarApp,
			AppSlug: slug,
			Context: sim.Slug,
			Day:     now,
			RunID:   runID,
		}
		if err := a.store.RecordSighting(ctx, obs); err != nil {
			return false, fmt.Errorf("record similar sighting: %w", err)
		}
	}

	return false, nil
}

// recordChanges diffs the freshly parsed page against the master name and
// the prior snapshot's tracked fields, writing one audit row per field that
// actually changed. Structured fields compare order-sensitively: a reorder
// is a change worth recording.
func (a *AppDetailsScraper) recordChanges(ctx context.Context, slug, runID string, page *scrape.AppDetailPage, prior scrape.AppSnapshot, havePrior bool, now time.Time) error {
	record := func(field, oldValue, newValue string) error {
		fc := scrape.FieldChange{
			AppSlug:   slug,
			Field:     field,
			OldValue:  oldValue,
			NewValue:  newValue,
			RunID:     runID,
			ChangedAt: now,
		}
		if err := a.store.InsertFieldChange(ctx, fc); err != nil {
			return fmt.Errorf("insert field change %s: %w", field, err)
		}
		a.logger.Info("field changed",
			zap.String("app", slug), zap.String("field", field))
		return nil
	}

	if page.Name != "" {
		master, err := a.store.GetApp(ctx, slug)
		if err != nil && !errors.Is(err, scrape.ErrNotFound) {
			return fmt.Errorf("get app: %w", err)
		}
		if err == nil && master.Name != "" && master.Name != page.Name {
			if err := record("name", master.Name, page.Name); err != nil {
				return err
			}
		}
	}

	if !havePrior {
		return nil
	}
	if page.Introduction != prior.Introduction {
		if err := record("introduction", prior.Introduction, page.Introduction); err != nil {
			return err
		}
	}
	if page.Details != prior.Details {
		if err := record("app_details", prior.Details, page.Details); err != nil {
			return err
		}
	}
	if !slices.Equal(page.Features, prior.Features) {
		if err := record("features", marshalValue(prior.Features), marshalValue(page.Features)); err != nil {
			return err
		}
	}
	if !slices.EqualFunc(page.PricingPlans, prior.PricingPlans, pricingPlanEqual) {
		if err := record("pricing_plans", marshalValue(prior.PricingPlans), marshalValue(page.PricingPlans)); err != nil {
			return err
		}
	}
	return nil
}

func pricingPlanEqual(a, b scrape.PricingPlan) bool {
	if a.Name != b.Name || a.Interval != b.Interval {
		return false
	}
	if (a.PriceUSD == nil) != (b.PriceUSD == nil) {
		return false
	}
	if a.PriceUSD != nil && *a.PriceUSD != *b.PriceUSD {
		return false
	}
	return slices.Equal(a.Features, b.Features)
}

func marshalValue(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
