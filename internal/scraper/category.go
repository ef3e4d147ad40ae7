package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storepulse/appscraper/internal/metrics"
	"github.com/storepulse/appscraper/internal/scrape"
)

// CategoryConfig tunes the category crawl.
type CategoryConfig struct {
	BaseURL string
	// Seeds are the root category slugs the crawl starts from.
	Seeds []string
	// MaxDepth bounds subcategory traversal below each root.
	MaxDepth int
	// FeaturedMaxDepth bounds how deep featured sections are still harvested.
	FeaturedMaxDepth int
}

// CategoryCrawler walks the category tree (a cyclic graph in practice, cross
// links abound), capturing listing snapshots, per-category rankings, and
// sighting rows for sponsored and featured placements.
type CategoryCrawler struct {
	fetcher scrape.Fetcher
	parser  scrape.Parser
	store   scrape.Store
	clock   scrape.Clock
	logger  *zap.Logger
	cfg     CategoryConfig
}

// NewCategoryCrawler assembles a crawler from its collaborators.
func NewCategoryCrawler(f scrape.Fetcher, p scrape.Parser, st scrape.Store, clock scrape.Clock, cfg CategoryConfig, logger *zap.Logger) *CategoryCrawler {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 3
	}
	if cfg.FeaturedMaxDepth <= 0 {
		cfg.FeaturedMaxDepth = 2
	}
	return &CategoryCrawler{
		fetcher: f,
		parser:  p,
		store:   st,
		clock:   clock,
		logger:  logger.Named("category"),
		cfg:     cfg,
	}
}

// CrawlOptions parameterizes one crawl invocation.
type CrawlOptions struct {
	Pages       scrape.PageBudget
	TriggeredBy string
}

// CrawlResult summarizes a finished crawl.
type CrawlResult struct {
	RunID           string
	DiscoveredSlugs []string
	ItemsScraped    int
	ItemsFailed     int
}

type crawlNode struct {
	slug   string
	parent string
	depth  int
}

// crawlState is shared across every root within one run so that an app
// listed in several categories is still discovered only once. Ranking
// dedup is not here: that is scoped per category node, because the same
// app legitimately holds a position in each category that lists it.
type crawlState struct {
	visited    map[string]bool
	seenApps   map[string]bool
	discovered []string
}

func newCrawlState() *crawlState {
	return &crawlState{
		visited:  make(map[string]bool),
		seenApps: make(map[string]bool),
	}
}

func (st *crawlState) noteApp(slug string) bool {
	if st.seenApps[slug] {
		return false
	}
	st.seenApps[slug] = true
	st.discovered = append(st.discovered, slug)
	return true
}

// Crawl walks every configured root inside one ScrapeRun. A root that fails
// is counted and logged; the run only fails outright when the context is
// done or the run itself cannot be recorded.
func (c *CategoryCrawler) Crawl(ctx context.Context, opts CrawlOptions) (*CrawlResult, error) {
	run, err := beginRun(ctx, c.store, c.clock, scrape.ScraperCategory, opts.TriggeredBy)
	if err != nil {
		return nil, err
	}

	st := newCrawlState()
	var meta scrape.RunMetadata
	var runErr error
	for _, seed := range c.cfg.Seeds {
		if err := c.walk(ctx, st, run.ID, crawlNode{slug: seed}, opts.Pages.Limit(), false, &meta); err != nil {
			if abortsRun(ctx, err) {
				runErr = err
				break
			}
			meta.ItemsFailed++
			metrics.ObserveItem(string(scrape.ScraperCategory), true)
			c.logger.Error("category root failed",
				zap.String("run_id", run.ID),
				zap.String("root", seed),
				zap.Error(err),
			)
		}
	}
	meta.Extra = map[string]any{"discovered_apps": len(st.discovered)}

	finishRun(ctx, c.store, c.clock, c.logger, run, meta, runErr)
	if runErr != nil {
		return nil, runErr
	}
	return &CrawlResult{
		RunID:           run.ID,
		DiscoveredSlugs: st.discovered,
		ItemsScraped:    meta.ItemsScraped,
		ItemsFailed:     meta.ItemsFailed,
	}, nil
}

// ScrapeSingle captures exactly one category, without descending into its
// subcategories, inside its own run.
func (c *CategoryCrawler) ScrapeSingle(ctx context.Context, slug string, opts CrawlOptions) (*CrawlResult, error) {
	run, err := beginRun(ctx, c.store, c.clock, scrape.ScraperCategory, opts.TriggeredBy)
	if err != nil {
		return nil, err
	}

	st := newCrawlState()
	var meta scrape.RunMetadata
	runErr := c.walk(ctx, st, run.ID, crawlNode{slug: slug}, opts.Pages.Limit(), true, &meta)
	meta.Extra = map[string]any{"discovered_apps": len(st.discovered)}

	finishRun(ctx, c.store, c.clock, c.logger, run, meta, runErr)
	if runErr != nil {
		return nil, runErr
	}
	return &CrawlResult{
		RunID:           run.ID,
		DiscoveredSlugs: st.discovered,
		ItemsScraped:    meta.ItemsScraped,
		ItemsFailed:     meta.ItemsFailed,
	}, nil
}

// walk processes one root's subtree with an iterative worklist. The visited
// set is shared across roots, so cross links never loop or double-count.
func (c *CategoryCrawler) walk(ctx context.Context, st *crawlState, runID string, root crawlNode, pageLimit int, single bool, meta *scrape.RunMetadata) error {
	queue := []crawlNode{root}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if st.visited[node.slug] {
			continue
		}
		st.visited[node.slug] = true

		page, err := c.scrapeCategory(ctx, st, runID, node, pageLimit)
		if err != nil {
			return fmt.Errorf("category %s: %w", node.slug, err)
		}
		meta.ItemsScraped++
		metrics.ObserveItem(string(scrape.ScraperCategory), false)

		if single || node.depth >= c.cfg.MaxDepth {
			continue
		}
		for _, sub := range page.Subcategories {
			if !st.visited[sub.Slug] {
				queue = append(queue, crawlNode{slug: sub.Slug, parent: node.slug, depth: node.depth + 1})
			}
		}
	}
	return nil
}

// scrapeCategory fetches one category node, upserts its master record,
// snapshots the page, and records rankings and sightings. It returns the
// parsed first page so the caller can enqueue subcategories.
func (c *CategoryCrawler) scrapeCategory(ctx context.Context, st *crawlState, runID string, node crawlNode, pageLimit int) (*scrape.CategoryPage, error) {
	// Prefer the exhaustive "all items" view; not every node has one.
	listingURL := categoryAllURL(c.cfg.BaseURL, node.slug)
	body, err := c.fetcher.Fetch(ctx, listingURL, nil)
	if scrape.IsNotFound(err) {
		listingURL = categoryURL(c.cfg.BaseURL, node.slug)
		body, err = c.fetcher.Fetch(ctx, listingURL, nil)
	}
	if err != nil {
		return nil, err
	}

	page, err := c.parser.CategoryPage(body, scrape.PageContext{Page: 1, BaseURL: c.cfg.BaseURL})
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	now := c.clock.Now()
	isListing := page.AppCount != nil

	patch := scrape.CategoryPatch{
		Slug:          node.slug,
		Depth:         ptr(node.depth),
		IsListingPage: ptr(isListing),
	}
	if page.Title != "" {
		patch.Title = ptr(page.Title)
	}
	if node.parent != "" {
		patch.ParentSlug = ptr(node.parent)
	}
	if err := c.store.UpsertCategory(ctx, patch); err != nil {
		return nil, fmt.Errorf("upsert category: %w", err)
	}

	snap := scrape.CategorySnapshot{
		ID:           uuid.NewString(),
		CategorySlug: node.slug,
		RunID:        runID,
		Title:        page.Title,
		Description:  page.Description,
		Breadcrumb:   page.Breadcrumb,
		AppCount:     page.AppCount,
		ScrapedAt:    now,
	}
	if err := c.store.InsertCategorySnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}

	if err := c.harvestListing(ctx, st, runID, node, listingURL, page, pageLimit, isListing, now); err != nil {
		return nil, err
	}

	if node.depth <= c.cfg.FeaturedMaxDepth {
		if err := c.harvestFeatured(ctx, st, runID, node, page.FeaturedSections, now); err != nil {
			return nil, err
		}
	}

	return page, nil
}

// harvestListing walks the paginated app list. On hub pages the apps are
// still discovered and upserted, but no rankings or ad sightings are
// recorded: hub ordering carries no meaning.
func (c *CategoryCrawler) harvestListing(ctx context.Context, st *crawlState, runID string, node crawlNode, listingURL string, first *scrape.CategoryPage, pageLimit int, isListing bool, now time.Time) error {
	apps := first.Apps
	hasNext := first.HasNextPage
	pageNum := 1
	offset := 0
	// Ranking dedup spans this node's pagination only; the crawl-global
	// state keeps discovery deduped across categories.
	ranked := make(map[string]bool)
	for {
		newOnPage := 0
		for i, app := range apps {
			st.noteApp(app.Slug)
			isNew := !ranked[app.Slug]
			if isNew {
				ranked[app.Slug] = true
				newOnPage++
			}
			if err := c.upsertListedApp(ctx, app, now); err != nil {
				return fmt.Errorf("upsert app %s: %w", app.Slug, err)
			}
			if !isListing {
				continue
			}
			// Ad sightings count every impression, including a slot repeated
			// on a later page.
			if app.Sponsored {
				obs := scrape.SightingObservation{
					Kind:    scrape.SightingCategoryAd,
					AppSlug: app.Slug,
					Context: node.slug,
					Day:     now,
					RunID:   runID,
				}
				if err := c.store.RecordSighting(ctx, obs); err != nil {
					return fmt.Errorf("record ad sighting: %w", err)
				}
			}
			if !isNew {
				continue
			}
			position := offset + i + 1
			ranking := scrape.Ranking{
				AppSlug:  app.Slug,
				Scope:    scrape.RankCategory,
				ScopeID:  node.slug,
				RunID:    runID,
				Position: &position,
			}
			if err := c.store.InsertRanking(ctx, ranking); err != nil {
				return fmt.Errorf("insert ranking: %w", err)
			}
		}

		// Stop on budget, end of results, or a page that yielded nothing
		// new: the marketplace repeats the last page forever past the end.
		if pageNum >= pageLimit || !hasNext || newOnPage == 0 {
			return nil
		}
		offset += len(apps)
		pageNum++

		body, err := c.fetcher.Fetch(ctx, pagedURL(listingURL, pageNum), nil)
		if err != nil {
			return fmt.Errorf("page %d: %w", pageNum, err)
		}
		next, err := c.parser.CategoryPage(body, scrape.PageContext{Page: pageNum, BaseURL: c.cfg.BaseURL})
		if err != nil {
			return fmt.Errorf("parse page %d: %w", pageNum, err)
		}
		if len(next.Apps) == 0 {
			return nil
		}
		apps = next.Apps
		hasNext = next.HasNextPage
	}
}

// harvestFeatured records a featured sighting per section entry, keyed on
// the section handle and surface detail so the same app in two blocks stays
// two rows.
func (c *CategoryCrawler) harvestFeatured(ctx context.Context, st *crawlState, runID string, node crawlNode, sections []scrape.FeaturedSection, now time.Time) error {
	for _, section := range sections {
		handle := section.Handle
		// Primary recommendation blocks mislabel their handle upstream;
		// the section's own URL slug is the trustworthy identifier.
		if isPrimaryRecommended(section.Title) && section.URL != "" {
			handle = lastPathSegment(section.URL)
		}
		for _, app := range section.Apps {
			st.noteApp(app.Slug)
			if err := c.upsertListedApp(ctx, app, now); err != nil {
				return fmt.Errorf("upsert featured app %s: %w", app.Slug, err)
			}
			obs := scrape.SightingObservation{
				Kind:    scrape.SightingFeatured,
				AppSlug: app.Slug,
				Context: handle,
				Detail:  section.SurfaceDetail,
				Day:     now,
				RunID:   runID,
			}
			if err := c.store.RecordSighting(ctx, obs); err != nil {
				return fmt.Errorf("record featured sighting: %w", err)
			}
		}
	}
	return nil
}

func (c *CategoryCrawler) upsertListedApp(ctx context.Context, app scrape.ListedApp, now time.Time) error {
	patch := scrape.AppPatch{Slug: app.Slug, SeenAt: now}
	if app.Name != "" {
		patch.Name = ptr(app.Name)
	}
	if app.IconURL != "" {
		patch.IconURL = ptr(app.IconURL)
	}
	if app.AverageRating != nil {
		patch.AverageRating = app.AverageRating
	}
	return c.store.UpsertApp(ctx, patch)
}

func isPrimaryRecommended(title string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(title)), "recommended")
}
