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

func newTestReviewScraper(fetcher *fakeFetcher, store *memory.Store, clock *fakeClock) *ReviewScraper {
	return NewReviewScraper(fetcher, parser.New(), store, clock, ReviewsConfig{
		BaseURL: testBaseURL,
	}, zap.NewNop())
}

func reviewsPageURL(slug string, page int) string {
	return fmt.Sprintf("%s/apps/%s/reviews?sort_by=newest&page=%d", testBaseURL, slug, page)
}

func daysAgo(clock *fakeClock, days int) string {
	return clock.Now().AddDate(0, 0, -days).Format("2006-01-02")
}

func TestCutoffStopsPaginationMidPage(t *testing.T) {
	fetcher := newFakeFetcher()
	store := memory.New()
	clock := newFakeClock()

	// The third review is older than 90 days; nothing after it can
	// qualify, so page 2 must never be fetched despite the next link.
	fetcher.set(reviewsPageURL("widget", 1), reviewsPage([]string{
		reviewRow("alice", 5, daysAgo(clock, 1), "great"),
		reviewRow("bob", 4, daysAgo(clock, 10), "good"),
		reviewRow("carol", 2, daysAgo(clock, 120), "old"),
	}, true))

	scraper := newTestReviewScraper(fetcher, store, clock)
	res, err := scraper.ScrapeSingle(context.Background(), "widget", "test")
	require.NoError(t, err)
	require.Equal(t, 2, res.NewReviews)
	require.Equal(t, 1, fetcher.callCount())
}

func TestPaginationFollowsNextLink(t *testing.T) {
	fetcher := newFakeFetcher()
	store := memory.New()
	clock := newFakeClock()

	fetcher.set(reviewsPageURL("widget", 1), reviewsPage([]string{
		reviewRow("alice", 5, daysAgo(clock, 1), "great"),
		reviewRow("bob", 4, daysAgo(clock, 2), "good"),
	}, true))
	fetcher.set(reviewsPageURL("widget", 2), reviewsPage([]string{
		reviewRow("carol", 3, daysAgo(clock, 3), "fine"),
	}, false))

	scraper := newTestReviewScraper(fetcher, store, clock)
	res, err := scraper.ScrapeSingle(context.Background(), "widget", "test")
	require.NoError(t, err)
	require.Equal(t, 3, res.NewReviews)
	require.Equal(t, 2, fetcher.callCount())
}

func TestRepeatedPassCountsOnlyNewReviews(t *testing.T) {
	fetcher := newFakeFetcher()
	store := memory.New()
	clock := newFakeClock()

	fetcher.set(reviewsPageURL("widget", 1), reviewsPage([]string{
		reviewRow("alice", 5, daysAgo(clock, 1), "great"),
	}, false))

	scraper := newTestReviewScraper(fetcher, store, clock)
	first, err := scraper.ScrapeSingle(context.Background(), "widget", "test")
	require.NoError(t, err)
	require.Equal(t, 1, first.NewReviews)

	// Same page again plus one genuinely new review.
	fetcher.set(reviewsPageURL("widget", 1), reviewsPage([]string{
		reviewRow("dave", 4, daysAgo(clock, 0), "nice"),
		reviewRow("alice", 5, daysAgo(clock, 1), "great"),
	}, false))
	second, err := scraper.ScrapeSingle(context.Background(), "widget", "test")
	require.NoError(t, err)
	require.Equal(t, 1, second.NewReviews)
}

func TestScrapeTrackedAggregatesAcrossApps(t *testing.T) {
	fetcher := newFakeFetcher()
	store := memory.New()
	clock := newFakeClock()

	require.NoError(t, store.SetAppTracked(context.Background(), "widget", true))
	require.NoError(t, store.SetAppTracked(context.Background(), "gizmo", true))
	fetcher.set(reviewsPageURL("widget", 1), reviewsPage([]string{
		reviewRow("alice", 5, daysAgo(clock, 1), "great"),
	}, false))
	fetcher.set(reviewsPageURL("gizmo", 1), reviewsPage([]string{
		reviewRow("bob", 3, daysAgo(clock, 2), "ok"),
		reviewRow("carol", 4, daysAgo(clock, 4), "fine"),
	}, false))

	scraper := newTestReviewScraper(fetcher, store, clock)
	res, err := scraper.ScrapeTracked(context.Background(), "test")
	require.NoError(t, err)
	require.Equal(t, 2, res.ItemsScraped)
	require.Equal(t, 3, res.NewReviews)

	run, err := store.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	require.Equal(t, scrape.RunCompleted, run.Status)
	require.Equal(t, 3, run.Metadata.Extra["new_reviews"])
}

func TestEmptyFirstPageYieldsNoReviews(t *testing.T) {
	fetcher := newFakeFetcher()
	store := memory.New()
	clock := newFakeClock()

	fetcher.set(reviewsPageURL("widget", 1), reviewsPage(nil, false))

	scraper := newTestReviewScraper(fetcher, store, clock)
	res, err := scraper.ScrapeSingle(context.Background(), "widget", "test")
	require.NoError(t, err)
	require.Zero(t, res.NewReviews)
}
