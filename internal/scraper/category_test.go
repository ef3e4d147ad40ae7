package scraper

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storepulse/appscraper/internal/parser"
	"github.com/storepulse/appscraper/internal/scrape"
	"github.com/storepulse/appscraper/internal/store/memory"
)

func newTestCrawler(t *testing.T, fetcher *fakeFetcher, store *memory.Store, clock *fakeClock, seeds ...string) *CategoryCrawler {
	t.Helper()
	return NewCategoryCrawler(fetcher, parser.New(), store, clock, CategoryConfig{
		BaseURL: testBaseURL,
		Seeds:   seeds,
	}, zap.NewNop())
}

func TestCrawlHubAndPaginatedListing(t *testing.T) {
	fetcher := newFakeFetcher()
	store := memory.New()
	clock := newFakeClock()

	// The root hub has no "all items" view; the crawler falls back to the
	// canonical URL. It links to a listing and back to itself (cycle).
	fetcher.set(testBaseURL+"/categories/root",
		hubPage("Root", []string{"tools", "root"}, ""))

	var page1Cards, page2Cards []string
	for i := 1; i <= 24; i++ {
		page1Cards = append(page1Cards, appCard(slugN(i), false))
	}
	for i := 25; i <= 30; i++ {
		page2Cards = append(page2Cards, appCard(slugN(i), false))
	}
	fetcher.set(testBaseURL+"/categories/tools/all",
		listingPage("Tools", 30, page1Cards, true, ""))
	fetcher.set(testBaseURL+"/categories/tools/all?page=2",
		listingPage("Tools", 30, page2Cards, false, ""))

	crawler := newTestCrawler(t, fetcher, store, clock, "root")
	res, err := crawler.Crawl(context.Background(), CrawlOptions{TriggeredBy: "test"})
	require.NoError(t, err)
	require.Equal(t, 2, res.ItemsScraped)
	require.Zero(t, res.ItemsFailed)
	require.Len(t, res.DiscoveredSlugs, 30)

	run, err := store.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	require.Equal(t, scrape.RunCompleted, run.Status)

	// Dense positions 1..30 in the tools scope, no duplicates.
	positions := make(map[int]string)
	for _, r := range store.Rankings() {
		require.Equal(t, scrape.RankCategory, r.Scope)
		require.Equal(t, "tools", r.ScopeID)
		require.NotNil(t, r.Position)
		_, dup := positions[*r.Position]
		require.False(t, dup, "duplicate position %d", *r.Position)
		positions[*r.Position] = r.AppSlug
	}
	require.Len(t, positions, 30)
	require.Equal(t, slugN(1), positions[1])
	require.Equal(t, slugN(25), positions[25])
	require.Equal(t, slugN(30), positions[30])

	// Two snapshots, and the hub one carries no app count.
	snaps := store.CategorySnapshots()
	require.Len(t, snaps, 2)
	for _, snap := range snaps {
		if snap.CategorySlug == "root" {
			require.Nil(t, snap.AppCount)
		} else {
			require.NotNil(t, snap.AppCount)
			require.Equal(t, 30, *snap.AppCount)
		}
	}

	// The cycle edge must not cause a second visit of root.
	require.Equal(t, 1, fetcher.callsTo(testBaseURL+"/categories/root"))
}

func TestCrawlSponsoredCardRecordsAdSighting(t *testing.T) {
	fetcher := newFakeFetcher()
	store := memory.New()
	clock := newFakeClock()

	fetcher.set(testBaseURL+"/categories/tools/all",
		listingPage("Tools", 2, []string{appCard("promoted", true), appCard("plain", false)}, false, ""))

	crawler := newTestCrawler(t, fetcher, store, clock, "tools")
	res, err := crawler.Crawl(context.Background(), CrawlOptions{TriggeredBy: "test"})
	require.NoError(t, err)

	sighting, err := store.GetSighting(context.Background(),
		scrape.SightingCategoryAd, "promoted", "tools", "", clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, sighting.TimesSeenInDay)
	require.Equal(t, res.RunID, sighting.FirstSeenRunID)

	_, err = store.GetSighting(context.Background(),
		scrape.SightingCategoryAd, "plain", "tools", "", clock.Now())
	require.ErrorIs(t, err, scrape.ErrNotFound)
}

func TestAppRankedInEveryCategoryThatListsIt(t *testing.T) {
	fetcher := newFakeFetcher()
	store := memory.New()
	clock := newFakeClock()

	fetcher.set(testBaseURL+"/categories/root",
		hubPage("Root", []string{"tools", "marketing"}, ""))
	fetcher.set(testBaseURL+"/categories/tools/all",
		listingPage("Tools", 2, []string{appCard("shared-app", false), appCard("tools-only", false)}, false, ""))
	fetcher.set(testBaseURL+"/categories/marketing/all",
		listingPage("Marketing", 2, []string{appCard("marketing-only", false), appCard("shared-app", false)}, false, ""))

	crawler := newTestCrawler(t, fetcher, store, clock, "root")
	res, err := crawler.Crawl(context.Background(), CrawlOptions{TriggeredBy: "test"})
	require.NoError(t, err)

	// Cross-listed apps hold a position in each category that lists them.
	positions := make(map[string]map[string]int)
	for _, r := range store.Rankings() {
		require.NotNil(t, r.Position)
		if positions[r.AppSlug] == nil {
			positions[r.AppSlug] = make(map[string]int)
		}
		positions[r.AppSlug][r.ScopeID] = *r.Position
	}
	require.Equal(t, map[string]int{"tools": 1, "marketing": 2}, positions["shared-app"])
	require.Equal(t, map[string]int{"tools": 2}, positions["tools-only"])
	require.Equal(t, map[string]int{"marketing": 1}, positions["marketing-only"])

	// Discovery stays deduped across categories.
	require.ElementsMatch(t,
		[]string{"shared-app", "tools-only", "marketing-only"}, res.DiscoveredSlugs)
}

func TestSponsoredSlotRepeatedAcrossPagesCountsEachImpression(t *testing.T) {
	fetcher := newFakeFetcher()
	store := memory.New()
	clock := newFakeClock()

	// The same sponsored slot leads both pages.
	fetcher.set(testBaseURL+"/categories/tools/all",
		listingPage("Tools", 3, []string{appCard("promoted", true), appCard("a", false)}, true, ""))
	fetcher.set(testBaseURL+"/categories/tools/all?page=2",
		listingPage("Tools", 3, []string{appCard("promoted", true), appCard("b", false)}, false, ""))

	crawler := newTestCrawler(t, fetcher, store, clock, "tools")
	_, err := crawler.Crawl(context.Background(), CrawlOptions{TriggeredBy: "test"})
	require.NoError(t, err)

	sighting, err := store.GetSighting(context.Background(),
		scrape.SightingCategoryAd, "promoted", "tools", "", clock.Now())
	require.NoError(t, err)
	require.Equal(t, 2, sighting.TimesSeenInDay)

	// Only the first impression gets a ranked position.
	var promotedRankings int
	for _, r := range store.Rankings() {
		if r.AppSlug == "promoted" {
			promotedRankings++
			require.NotNil(t, r.Position)
			require.Equal(t, 1, *r.Position)
		}
	}
	require.Equal(t, 1, promotedRankings)
}

func TestFeaturedSectionUsesURLSlugForRecommendedBlocks(t *testing.T) {
	fetcher := newFakeFetcher()
	store := memory.New()
	clock := newFakeClock()

	sections := featuredSection("recommended", "Recommended for you", "homepage",
		"/collections/staff-picks", []string{appCard("starred", false)}) +
		featuredSection("trending-now", "Trending now", "homepage",
			"/collections/trending-now", []string{appCard("hot", false)})
	fetcher.set(testBaseURL+"/categories/tools/all",
		listingPage("Tools", 1, []string{appCard("plain", false)}, false, sections))

	crawler := newTestCrawler(t, fetcher, store, clock, "tools")
	_, err := crawler.Crawl(context.Background(), CrawlOptions{TriggeredBy: "test"})
	require.NoError(t, err)

	// The mislabeled recommendation block is keyed by its URL slug.
	_, err = store.GetSighting(context.Background(),
		scrape.SightingFeatured, "starred", "staff-picks", "homepage", clock.Now())
	require.NoError(t, err)

	// Ordinary sections keep their parsed handle.
	_, err = store.GetSighting(context.Background(),
		scrape.SightingFeatured, "hot", "trending-now", "homepage", clock.Now())
	require.NoError(t, err)
}

func TestCrawlRootFailureIsIsolated(t *testing.T) {
	fetcher := newFakeFetcher()
	store := memory.New()
	clock := newFakeClock()

	// "broken" resolves nowhere; "tools" is fine.
	fetcher.set(testBaseURL+"/categories/tools/all",
		listingPage("Tools", 1, []string{appCard("only", false)}, false, ""))

	crawler := newTestCrawler(t, fetcher, store, clock, "broken", "tools")
	res, err := crawler.Crawl(context.Background(), CrawlOptions{TriggeredBy: "test"})
	require.NoError(t, err)
	require.Equal(t, 1, res.ItemsScraped)
	require.Equal(t, 1, res.ItemsFailed)

	run, err := store.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	require.Equal(t, scrape.RunCompleted, run.Status)
	require.Equal(t, 1, run.Metadata.ItemsFailed)
}

func TestPaginationStopsWhenPageYieldsNothingNew(t *testing.T) {
	fetcher := newFakeFetcher()
	store := memory.New()
	clock := newFakeClock()

	cards := []string{appCard("a", false), appCard("b", false)}
	// Page 2 repeats page 1 and still claims a next page; the crawler must
	// not fetch page 3.
	fetcher.set(testBaseURL+"/categories/tools/all",
		listingPage("Tools", 2, cards, true, ""))
	fetcher.set(testBaseURL+"/categories/tools/all?page=2",
		listingPage("Tools", 2, cards, true, ""))

	crawler := newTestCrawler(t, fetcher, store, clock, "tools")
	_, err := crawler.Crawl(context.Background(), CrawlOptions{TriggeredBy: "test"})
	require.NoError(t, err)

	require.Equal(t, 0, fetcher.callsTo(testBaseURL+"/categories/tools/all?page=3"))
	require.Len(t, store.Rankings(), 2)
}

func TestScrapeSingleDoesNotDescend(t *testing.T) {
	fetcher := newFakeFetcher()
	store := memory.New()
	clock := newFakeClock()

	fetcher.set(testBaseURL+"/categories/tools/all",
		listingPage("Tools", 1, []string{appCard("a", false)}, false,
			`<a data-subcategory href="/categories/child">child</a>`))

	crawler := newTestCrawler(t, fetcher, store, clock)
	res, err := crawler.ScrapeSingle(context.Background(), "tools", CrawlOptions{TriggeredBy: "test"})
	require.NoError(t, err)
	require.Equal(t, 1, res.ItemsScraped)
	require.Equal(t, 0, fetcher.callsTo(testBaseURL+"/categories/child/all"))
}

func slugN(i int) string {
	return fmt.Sprintf("app-%02d", i)
}
