package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storepulse/appscraper/internal/metrics"
	"github.com/storepulse/appscraper/internal/scrape"
)

// KeywordConfig tunes keyword search scraping.
type KeywordConfig struct {
	BaseURL string
	// PageCap bounds search pagination; results past it are noise.
	PageCap int
}

// KeywordScraper captures search result pages per tracked keyword: a merged
// snapshot, organic rankings with drop detection against the previous
// completed pass, and ad sightings for sponsored slots.
type KeywordScraper struct {
	fetcher scrape.Fetcher
	parser  scrape.Parser
	store   scrape.Store
	clock   scrape.Clock
	logger  *zap.Logger
	cfg     KeywordConfig
}

// NewKeywordScraper assembles a keyword scraper from its collaborators.
func NewKeywordScraper(f scrape.Fetcher, p scrape.Parser, st scrape.Store, clock scrape.Clock, cfg KeywordConfig, logger *zap.Logger) *KeywordScraper {
	if cfg.PageCap <= 0 {
		cfg.PageCap = 4
	}
	return &KeywordScraper{
		fetcher: f,
		parser:  p,
		store:   st,
		clock:   clock,
		logger:  logger.Named("keyword"),
		cfg:     cfg,
	}
}

// KeywordResult summarizes one finished keyword run.
type KeywordResult struct {
	RunID           string
	DiscoveredSlugs []string
	ItemsScraped    int
	ItemsFailed     int
}

// ScrapeOne scrapes a single keyword in its own run, registering the keyword
// first so ad-hoc invocations show up in the tracked set.
func (k *KeywordScraper) ScrapeOne(ctx context.Context, keyword, triggeredBy string) (*KeywordResult, error) {
	kw, err := k.store.UpsertKeyword(ctx, keyword)
	if err != nil {
		return nil, fmt.Errorf("upsert keyword: %w", err)
	}

	run, err := beginRun(ctx, k.store, k.clock, scrape.ScraperKeywordSearch, triggeredBy)
	if err != nil {
		return nil, err
	}

	var meta scrape.RunMetadata
	discovered, runErr := k.scrapeKeyword(ctx, kw, run.ID)
	if runErr != nil {
		meta.ItemsFailed++
	} else {
		meta.ItemsScraped++
	}
	metrics.ObserveItem(string(scrape.ScraperKeywordSearch), runErr != nil)

	finishRun(ctx, k.store, k.clock, k.logger, run, meta, runErr)
	if runErr != nil {
		return nil, runErr
	}
	return &KeywordResult{
		RunID:           run.ID,
		DiscoveredSlugs: discovered,
		ItemsScraped:    meta.ItemsScraped,
	}, nil
}

// ScrapeAll walks every active keyword inside one run. Keyword failures are
// isolated: one bad keyword is counted and the pass moves on.
func (k *KeywordScraper) ScrapeAll(ctx context.Context, triggeredBy string) (*KeywordResult, error) {
	run, err := beginRun(ctx, k.store, k.clock, scrape.ScraperKeywordSearch, triggeredBy)
	if err != nil {
		return nil, err
	}

	var meta scrape.RunMetadata
	var runErr error
	var discovered []string
	seen := make(map[string]bool)

	keywords, err := k.store.ActiveKeywords(ctx)
	if err != nil {
		runErr = fmt.Errorf("list active keywords: %w", err)
	}
	for _, kw := range keywords {
		slugs, err := k.scrapeKeyword(ctx, kw, run.ID)
		if err != nil {
			if abortsRun(ctx, err) {
				runErr = err
				break
			}
			meta.ItemsFailed++
			metrics.ObserveItem(string(scrape.ScraperKeywordSearch), true)
			k.logger.Error("keyword failed",
				zap.String("run_id", run.ID),
				zap.String("keyword", kw.Keyword),
				zap.Error(err),
			)
			continue
		}
		meta.ItemsScraped++
		metrics.ObserveItem(string(scrape.ScraperKeywordSearch), false)
		for _, slug := range slugs {
			if !seen[slug] {
				seen[slug] = true
				discovered = append(discovered, slug)
			}
		}
	}

	finishRun(ctx, k.store, k.clock, k.logger, run, meta, runErr)
	if runErr != nil {
		return nil, runErr
	}
	return &KeywordResult{
		RunID:           run.ID,
		DiscoveredSlugs: discovered,
		ItemsScraped:    meta.ItemsScraped,
		ItemsFailed:     meta.ItemsFailed,
	}, nil
}

// scrapeKeyword captures up to PageCap result pages for one keyword and
// returns the slugs discovered (organic then sponsored, deduplicated).
func (k *KeywordScraper) scrapeKeyword(ctx context.Context, kw scrape.Keyword, runID string) ([]string, error) {
	var (
		organic       []scrape.SearchResult
		merged        []scrape.KeywordResult
		total         *int
		organicSeen   = make(map[string]bool)
		sponsoredSeen = make(map[string]bool)
	)
	now := k.clock.Now()

	for page := 1; page <= k.cfg.PageCap; page++ {
		body, err := k.fetcher.Fetch(ctx, searchURL(k.cfg.BaseURL, kw.Keyword, page), nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		sp, err := k.parser.SearchPage(body, scrape.PageContext{Page: page, BaseURL: k.cfg.BaseURL})
		if err != nil {
			return nil, fmt.Errorf("parse page %d: %w", page, err)
		}
		if page == 1 {
			total = sp.TotalResults
		}

		// Organic and sponsored lists are deduplicated independently: the
		// marketplace repeats promoted slots on every page.
		for _, r := range sp.Organic {
			if organicSeen[r.Slug] {
				continue
			}
			organicSeen[r.Slug] = true
			organic = append(organic, r)
			merged = append(merged, keywordResult(r, scrape.ResultOrganic))
		}
		for _, r := range sp.Sponsored {
			// Every sponsored impression counts toward the day bucket,
			// including repeats the snapshot dedup drops.
			obs := scrape.SightingObservation{
				Kind:    scrape.SightingKeywordAd,
				AppSlug: r.Slug,
				Context: kw.ID,
				Day:     now,
				RunID:   runID,
			}
			if err := k.store.RecordSighting(ctx, obs); err != nil {
				return nil, fmt.Errorf("record ad sighting: %w", err)
			}
			if err := k.upsertResult(ctx, r, now); err != nil {
				return nil, err
			}
			if sponsoredSeen[r.Slug] {
				continue
			}
			sponsoredSeen[r.Slug] = true
			merged = append(merged, keywordResult(r, scrape.ResultSponsored))
		}
		for _, r := range sp.BuiltIn {
			merged = append(merged, keywordResult(r, scrape.ResultBuiltIn))
		}

		if !sp.HasNextPage {
			break
		}
	}

	// Organic positions are renumbered over the deduplicated sequence, so
	// rankings are dense regardless of how pages overlapped.
	for i, r := range organic {
		if err := k.upsertResult(ctx, r, now); err != nil {
			return nil, err
		}
		position := i + 1
		ranking := scrape.Ranking{
			AppSlug:  r.Slug,
			Scope:    scrape.RankKeyword,
			ScopeID:  kw.ID,
			RunID:    runID,
			Position: &position,
		}
		if err := k.store.InsertRanking(ctx, ranking); err != nil {
			return nil, fmt.Errorf("insert ranking: %w", err)
		}
	}

	snap := scrape.KeywordSnapshot{
		ID:           uuid.NewString(),
		KeywordID:    kw.ID,
		RunID:        runID,
		Results:      merged,
		TotalResults: total,
		ScrapedAt:    now,
	}
	if err := k.store.InsertKeywordSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}

	if err := k.recordDrops(ctx, kw, runID, organicSeen); err != nil {
		return nil, err
	}

	discovered := make([]string, 0, len(organic)+len(sponsoredSeen))
	for _, r := range organic {
		discovered = append(discovered, r.Slug)
	}
	for slug := range sponsoredSeen {
		if !organicSeen[slug] {
			discovered = append(discovered, slug)
		}
	}
	return discovered, nil
}

// recordDrops writes a null-position ranking for every app that was ranked
// in the previous completed keyword pass but is absent now. The baseline is
// the latest completed run of this type even when it is days old.
func (k *KeywordScraper) recordDrops(ctx context.Context, kw scrape.Keyword, runID string, organicSeen map[string]bool) error {
	prev, err := k.store.LatestCompletedRun(ctx, scrape.ScraperKeywordSearch, runID)
	if errors.Is(err, scrape.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("latest completed run: %w", err)
	}
	ranked, err := k.store.RankedAppSlugs(ctx, scrape.RankKeyword, kw.ID, prev.ID)
	if err != nil {
		return fmt.Errorf("previous rankings: %w", err)
	}
	for _, slug := range ranked {
		if organicSeen[slug] {
			continue
		}
		ranking := scrape.Ranking{
			AppSlug: slug,
			Scope:   scrape.RankKeyword,
			ScopeID: kw.ID,
			RunID:   runID,
		}
		if err := k.store.InsertRanking(ctx, ranking); err != nil {
			return fmt.Errorf("insert drop ranking: %w", err)
		}
	}
	return nil
}

func (k *KeywordScraper) upsertResult(ctx context.Context, r scrape.SearchResult, now time.Time) error {
	patch := scrape.AppPatch{Slug: r.Slug, SeenAt: now}
	if r.Name != "" {
		patch.Name = ptr(r.Name)
	}
	if r.IconURL != "" {
		patch.IconURL = ptr(r.IconURL)
	}
	if r.AverageRating != nil {
		patch.AverageRating = r.AverageRating
	}
	if err := k.store.UpsertApp(ctx, patch); err != nil {
		return fmt.Errorf("upsert app %s: %w", r.Slug, err)
	}
	return nil
}

func keywordResult(r scrape.SearchResult, kind scrape.ResultKind) scrape.KeywordResult {
	return scrape.KeywordResult{
		Slug:          r.Slug,
		Name:          r.Name,
		IconURL:       r.IconURL,
		AverageRating: r.AverageRating,
		Kind:          kind,
	}
}

// ScrapeSuggestions captures autocomplete suggestions for every active
// keyword in one keyword_suggestions run and returns them keyed by keyword.
// Suggestions are not auto-registered as tracked keywords.
func (k *KeywordScraper) ScrapeSuggestions(ctx context.Context, triggeredBy string) (map[string][]string, error) {
	run, err := beginRun(ctx, k.store, k.clock, scrape.ScraperKeywordSuggestions, triggeredBy)
	if err != nil {
		return nil, err
	}

	var meta scrape.RunMetadata
	var runErr error
	out := make(map[string][]string)

	keywords, err := k.store.ActiveKeywords(ctx)
	if err != nil {
		runErr = fmt.Errorf("list active keywords: %w", err)
	}
	for _, kw := range keywords {
		body, err := k.fetcher.Fetch(ctx, suggestURL(k.cfg.BaseURL, kw.Keyword), nil)
		if err != nil {
			if abortsRun(ctx, err) {
				runErr = err
				break
			}
			meta.ItemsFailed++
			k.logger.Warn("suggestions fetch failed",
				zap.String("keyword", kw.Keyword), zap.Error(err))
			continue
		}
		suggestions, err := k.parser.Suggestions(body)
		if err != nil {
			meta.ItemsFailed++
			k.logger.Warn("suggestions parse failed",
				zap.String("keyword", kw.Keyword), zap.Error(err))
			continue
		}
		out[kw.Keyword] = suggestions
		meta.ItemsScraped++
	}
	meta.Extra = map[string]any{"keywords_with_suggestions": len(out)}

	finishRun(ctx, k.store, k.clock, k.logger, run, meta, runErr)
	if runErr != nil {
		return nil, runErr
	}
	return out, nil
}
