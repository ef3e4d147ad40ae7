package scraper

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storepulse/appscraper/internal/parser"
	"github.com/storepulse/appscraper/internal/scrape"
	"github.com/storepulse/appscraper/internal/store/memory"
)

func newTestKeywordScraper(fetcher *fakeFetcher, store *memory.Store, clock *fakeClock) *KeywordScraper {
	return NewKeywordScraper(fetcher, parser.New(), store, clock, KeywordConfig{
		BaseURL: testBaseURL,
	}, zap.NewNop())
}

func kwSearchURL(keyword string, page int) string {
	return fmt.Sprintf("%s/search?q=%s&page=%d", testBaseURL, url.QueryEscape(keyword), page)
}

func TestScrapeOneRankingsSnapshotAndAdSightings(t *testing.T) {
	fetcher := newFakeFetcher()
	store := memory.New()
	clock := newFakeClock()

	// The sponsored slot and one organic result repeat on both pages; the
	// built-in feature rides along without a rank.
	fetcher.set(kwSearchURL("crm", 1), searchPage(42, []string{
		searchResult("promo", "sponsored"),
		searchResult("alpha", "organic"),
		searchResult("beta", "organic"),
		searchResult("native", "built_in"),
	}, true))
	fetcher.set(kwSearchURL("crm", 2), searchPage(42, []string{
		searchResult("promo", "sponsored"),
		searchResult("beta", "organic"),
		searchResult("gamma", "organic"),
	}, false))

	scraper := newTestKeywordScraper(fetcher, store, clock)
	res, err := scraper.ScrapeOne(context.Background(), "crm", "test")
	require.NoError(t, err)

	kw, err := store.UpsertKeyword(context.Background(), "crm")
	require.NoError(t, err)

	// Organic positions renumber densely over the deduplicated sequence.
	wantPositions := map[string]int{"alpha": 1, "beta": 2, "gamma": 3}
	for _, r := range store.Rankings() {
		require.Equal(t, scrape.RankKeyword, r.Scope)
		require.Equal(t, kw.ID, r.ScopeID)
		require.NotNil(t, r.Position)
		require.Equal(t, wantPositions[r.AppSlug], *r.Position)
	}
	require.Len(t, store.Rankings(), 3)

	// One snapshot: page-1 total, one sponsored entry despite two
	// impressions, no organic duplicates.
	snaps := store.KeywordSnapshots()
	require.Len(t, snaps, 1)
	require.NotNil(t, snaps[0].TotalResults)
	require.Equal(t, 42, *snaps[0].TotalResults)
	kinds := make(map[scrape.ResultKind]int)
	for _, r := range snaps[0].Results {
		kinds[r.Kind]++
	}
	require.Equal(t, 3, kinds[scrape.ResultOrganic])
	require.Equal(t, 1, kinds[scrape.ResultSponsored])
	require.Equal(t, 1, kinds[scrape.ResultBuiltIn])

	// Both impressions of the ad landed in the same day bucket.
	sighting, err := store.GetSighting(context.Background(),
		scrape.SightingKeywordAd, "promo", kw.ID, "", clock.Now())
	require.NoError(t, err)
	require.Equal(t, 2, sighting.TimesSeenInDay)
	require.Equal(t, res.RunID, sighting.LastSeenRunID)

	// Discovery covers organic and sponsored, not built-in.
	require.ElementsMatch(t, []string{"alpha", "beta", "gamma", "promo"}, res.DiscoveredSlugs)
}

func TestDropDetectionWritesNullPositionRows(t *testing.T) {
	fetcher := newFakeFetcher()
	store := memory.New()
	clock := newFakeClock()
	scraper := newTestKeywordScraper(fetcher, store, clock)

	fetcher.set(kwSearchURL("crm", 1), searchPage(3, []string{
		searchResult("alpha", "organic"),
		searchResult("beta", "organic"),
		searchResult("gamma", "organic"),
	}, false))
	first, err := scraper.ScrapeOne(context.Background(), "crm", "test")
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)

	fetcher.set(kwSearchURL("crm", 1), searchPage(1, []string{
		searchResult("alpha", "organic"),
	}, false))
	second, err := scraper.ScrapeOne(context.Background(), "crm", "test")
	require.NoError(t, err)

	kw, err := store.UpsertKeyword(context.Background(), "crm")
	require.NoError(t, err)

	var dropped []string
	for _, r := range store.Rankings() {
		if r.RunID == second.RunID && r.Position == nil {
			dropped = append(dropped, r.AppSlug)
		}
	}
	require.ElementsMatch(t, []string{"beta", "gamma"}, dropped)

	// The baseline run's rows are untouched.
	ranked, err := store.RankedAppSlugs(context.Background(), scrape.RankKeyword, kw.ID, first.RunID)
	require.NoError(t, err)
	require.Len(t, ranked, 3)

	// The surviving app keeps a real position in the new run.
	ranked, err = store.RankedAppSlugs(context.Background(), scrape.RankKeyword, kw.ID, second.RunID)
	require.NoError(t, err)
	require.Equal(t, []string{"alpha"}, ranked)
}

func TestFirstRunHasNoDrops(t *testing.T) {
	fetcher := newFakeFetcher()
	store := memory.New()
	clock := newFakeClock()
	scraper := newTestKeywordScraper(fetcher, store, clock)

	fetcher.set(kwSearchURL("crm", 1), searchPage(1, []string{
		searchResult("alpha", "organic"),
	}, false))
	_, err := scraper.ScrapeOne(context.Background(), "crm", "test")
	require.NoError(t, err)

	for _, r := range store.Rankings() {
		require.NotNil(t, r.Position)
	}
}

func TestScrapeAllIsolatesKeywordFailures(t *testing.T) {
	fetcher := newFakeFetcher()
	store := memory.New()
	clock := newFakeClock()
	scraper := newTestKeywordScraper(fetcher, store, clock)

	_, err := store.UpsertKeyword(context.Background(), "broken")
	require.NoError(t, err)
	_, err = store.UpsertKeyword(context.Background(), "crm")
	require.NoError(t, err)

	// Only "crm" resolves; "broken" 404s.
	fetcher.set(kwSearchURL("crm", 1), searchPage(1, []string{
		searchResult("alpha", "organic"),
	}, false))

	res, err := scraper.ScrapeAll(context.Background(), "test")
	require.NoError(t, err)
	require.Equal(t, 1, res.ItemsScraped)
	require.Equal(t, 1, res.ItemsFailed)

	run, err := store.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	require.Equal(t, scrape.RunCompleted, run.Status)
}

func TestScrapeSuggestions(t *testing.T) {
	fetcher := newFakeFetcher()
	store := memory.New()
	clock := newFakeClock()
	scraper := newTestKeywordScraper(fetcher, store, clock)

	_, err := store.UpsertKeyword(context.Background(), "crm")
	require.NoError(t, err)
	fetcher.set(testBaseURL+"/search/suggestions?q=crm", `["crm software","crm free"]`)

	out, err := scraper.ScrapeSuggestions(context.Background(), "test")
	require.NoError(t, err)
	require.Equal(t, []string{"crm software", "crm free"}, out["crm"])

	run, err := store.LatestCompletedRun(context.Background(), scrape.ScraperKeywordSuggestions, "")
	require.NoError(t, err)
	require.Equal(t, 1, run.Metadata.ItemsScraped)
}
