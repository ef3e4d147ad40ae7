package scraper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storepulse/appscraper/internal/parser"
	"github.com/storepulse/appscraper/internal/scrape"
	"github.com/storepulse/appscraper/internal/store/memory"
)

func newTestDetailsScraper(fetcher *fakeFetcher, store *memory.Store, clock *fakeClock) *AppDetailsScraper {
	return NewAppDetailsScraper(fetcher, parser.New(), store, clock, AppDetailsConfig{
		BaseURL: testBaseURL,
	}, zap.NewNop())
}

func TestFreshSnapshotSkipsFetchEntirely(t *testing.T) {
	fetcher := newFakeFetcher()
	store := memory.New()
	clock := newFakeClock()

	require.NoError(t, store.InsertAppSnapshot(context.Background(), scrape.AppSnapshot{
		ID:        "snap-1",
		AppSlug:   "widget",
		Name:      "Widget",
		ScrapedAt: clock.Now().Add(-time.Hour),
	}))

	scraper := newTestDetailsScraper(fetcher, store, clock)
	res, err := scraper.ScrapeSingle(context.Background(), "widget", "test")
	require.NoError(t, err)
	require.Equal(t, 1, res.Skipped)
	require.Zero(t, res.ItemsScraped)
	require.Zero(t, fetcher.callCount())

	run, err := store.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	require.Equal(t, scrape.RunCompleted, run.Status)
}

func TestStaleSnapshotIsRefetched(t *testing.T) {
	fetcher := newFakeFetcher()
	store := memory.New()
	clock := newFakeClock()

	require.NoError(t, store.InsertAppSnapshot(context.Background(), scrape.AppSnapshot{
		ID:        "snap-1",
		AppSlug:   "widget",
		Name:      "Widget",
		ScrapedAt: clock.Now().Add(-7 * time.Hour),
	}))
	fetcher.set(testBaseURL+"/apps/widget",
		detailPage("Widget", "Acme", "Intro", "Details", []string{"Sync"}, nil))

	scraper := newTestDetailsScraper(fetcher, store, clock)
	res, err := scraper.ScrapeSingle(context.Background(), "widget", "test")
	require.NoError(t, err)
	require.Equal(t, 1, res.ItemsScraped)
	require.Zero(t, res.Skipped)
	require.Len(t, store.AppSnapshots(), 2)
}

func TestIntroductionChangeRecordsExactlyOneAuditRow(t *testing.T) {
	fetcher := newFakeFetcher()
	store := memory.New()
	clock := newFakeClock()

	require.NoError(t, store.UpsertApp(context.Background(), scrape.AppPatch{
		Slug:   "widget",
		Name:   ptr("Widget"),
		SeenAt: clock.Now().Add(-24 * time.Hour),
	}))
	require.NoError(t, store.InsertAppSnapshot(context.Background(), scrape.AppSnapshot{
		ID:           "snap-1",
		AppSlug:      "widget",
		Name:         "Widget",
		Introduction: "Old intro",
		Details:      "Same details",
		Features:     []string{"Sync"},
		ScrapedAt:    clock.Now().Add(-7 * time.Hour),
	}))
	fetcher.set(testBaseURL+"/apps/widget",
		detailPage("Widget", "Acme", "New intro", "Same details", []string{"Sync"}, nil))

	scraper := newTestDetailsScraper(fetcher, store, clock)
	res, err := scraper.ScrapeSingle(context.Background(), "widget", "test")
	require.NoError(t, err)

	changes := store.FieldChanges()
	require.Len(t, changes, 1)
	require.Equal(t, "introduction", changes[0].Field)
	require.Equal(t, "Old intro", changes[0].OldValue)
	require.Equal(t, "New intro", changes[0].NewValue)
	require.Equal(t, res.RunID, changes[0].RunID)
}

func TestNameChangeDiffsAgainstMasterRecord(t *testing.T) {
	fetcher := newFakeFetcher()
	store := memory.New()
	clock := newFakeClock()

	require.NoError(t, store.UpsertApp(context.Background(), scrape.AppPatch{
		Slug:   "widget",
		Name:   ptr("Widget Classic"),
		SeenAt: clock.Now().Add(-24 * time.Hour),
	}))
	fetcher.set(testBaseURL+"/apps/widget",
		detailPage("Widget Pro", "Acme", "Intro", "Details", nil, nil))

	scraper := newTestDetailsScraper(fetcher, store, clock)
	_, err := scraper.ScrapeSingle(context.Background(), "widget", "test")
	require.NoError(t, err)

	changes := store.FieldChanges()
	require.Len(t, changes, 1)
	require.Equal(t, "name", changes[0].Field)
	require.Equal(t, "Widget Classic", changes[0].OldValue)
	require.Equal(t, "Widget Pro", changes[0].NewValue)

	// The master record now carries the new name.
	app, err := store.GetApp(context.Background(), "widget")
	require.NoError(t, err)
	require.Equal(t, "Widget Pro", app.Name)
}

func TestFeatureReorderIsAChange(t *testing.T) {
	fetcher := newFakeFetcher()
	store := memory.New()
	clock := newFakeClock()

	require.NoError(t, store.InsertAppSnapshot(context.Background(), scrape.AppSnapshot{
		ID:        "snap-1",
		AppSlug:   "widget",
		Name:      "Widget",
		Features:  []string{"Sync", "Export"},
		ScrapedAt: clock.Now().Add(-7 * time.Hour),
	}))
	fetcher.set(testBaseURL+"/apps/widget",
		detailPage("Widget", "Acme", "", "", []string{"Export", "Sync"}, nil))

	scraper := newTestDetailsScraper(fetcher, store, clock)
	_, err := scraper.ScrapeSingle(context.Background(), "widget", "test")
	require.NoError(t, err)

	changes := store.FieldChanges()
	require.Len(t, changes, 1)
	require.Equal(t, "features", changes[0].Field)
}

func TestSimilarAppsUpsertMastersAndRecordSightings(t *testing.T) {
	fetcher := newFakeFetcher()
	store := memory.New()
	clock := newFakeClock()

	fetcher.set(testBaseURL+"/apps/widget",
		detailPage("Widget", "Acme", "Intro", "Details", nil, []string{"gizmo", "doodad"}))

	scraper := newTestDetailsScraper(fetcher, store, clock)
	res, err := scraper.ScrapeSingle(context.Background(), "widget", "test")
	require.NoError(t, err)

	for _, slug := range []string{"gizmo", "doodad"} {
		app, err := store.GetApp(context.Background(), slug)
		require.NoError(t, err)
		require.Equal(t, "App "+slug, app.Name)

		sighting, err := store.GetSighting(context.Background(),
			scrape.SightingSimilarApp, "widget", slug, "", clock.Now())
		require.NoError(t, err)
		require.Equal(t, res.RunID, sighting.FirstSeenRunID)
	}
}

func TestScrapeTrackedIsolatesFailures(t *testing.T) {
	fetcher := newFakeFetcher()
	store := memory.New()
	clock := newFakeClock()

	require.NoError(t, store.SetAppTracked(context.Background(), "broken", true))
	require.NoError(t, store.SetAppTracked(context.Background(), "widget", true))
	fetcher.set(testBaseURL+"/apps/widget",
		detailPage("Widget", "Acme", "Intro", "Details", nil, nil))

	scraper := newTestDetailsScraper(fetcher, store, clock)
	res, err := scraper.ScrapeTracked(context.Background(), "test")
	require.NoError(t, err)
	require.Equal(t, 1, res.ItemsScraped)
	require.Equal(t, 1, res.ItemsFailed)

	run, err := store.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	require.Equal(t, scrape.RunCompleted, run.Status)
}
