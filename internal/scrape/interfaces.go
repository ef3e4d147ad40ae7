package scrape

import (
	"context"
	"net/http"
	"time"
)

// Fetcher retrieves a page body, applying rate limiting, user-agent
// rotation, and bounded retry. Terminal failures are *FetchError; 4xx
// responses surface as *HTTPError without retry.
type Fetcher interface {
	Fetch(ctx context.Context, url string, headers http.Header) ([]byte, error)
}

// Parser turns raw page bodies into structured records. Implementations are
// pure functions of their input; all nullable fields are pointers.
type Parser interface {
	CategoryPage(html []byte, pc PageContext) (*CategoryPage, error)
	AppDetailPage(html []byte, pc PageContext) (*AppDetailPage, error)
	SearchPage(html []byte, pc PageContext) (*SearchPage, error)
	ReviewPage(html []byte, pc PageContext) (*ReviewPage, error)
	Suggestions(data []byte) ([]string, error)
}

// Store is the persistence contract the scraping core writes through.
// Upserts are keyed as documented on each record type; duplicate review and
// sighting inserts are success-no-ops.
type Store interface {
	// Scrape runs.
	CreateRun(ctx context.Context, run ScrapeRun) error
	StartRun(ctx context.Context, runID string, at time.Time) error
	CompleteRun(ctx context.Context, runID string, meta RunMetadata, at time.Time) error
	FailRun(ctx context.Context, runID string, errText string, meta RunMetadata, at time.Time) error
	GetRun(ctx context.Context, runID string) (ScrapeRun, error)
	// LatestCompletedRun returns the most recent completed run of type t,
	// excluding excludeRunID. ErrNotFound when there is none.
	LatestCompletedRun(ctx context.Context, t ScraperType, excludeRunID string) (ScrapeRun, error)

	// Master entity records.
	UpsertApp(ctx context.Context, patch AppPatch) error
	GetApp(ctx context.Context, slug string) (App, error)
	SetAppTracked(ctx context.Context, slug string, tracked bool) error
	TrackedApps(ctx context.Context) ([]App, error)
	UpsertCategory(ctx context.Context, patch CategoryPatch) error
	UpsertKeyword(ctx context.Context, keyword string) (Keyword, error)
	ActiveKeywords(ctx context.Context) ([]Keyword, error)

	// Snapshots (append-only).
	InsertCategorySnapshot(ctx context.Context, snap CategorySnapshot) error
	InsertAppSnapshot(ctx context.Context, snap AppSnapshot) error
	LatestAppSnapshot(ctx context.Context, slug string) (AppSnapshot, error)
	InsertKeywordSnapshot(ctx context.Context, snap KeywordSnapshot) error

	// Rankings (immutable, one row per subject/scope/run).
	InsertRanking(ctx context.Context, r Ranking) error
	// RankedAppSlugs lists apps with a non-null position in the given run.
	RankedAppSlugs(ctx context.Context, scope RankScope, scopeID, runID string) ([]string, error)

	// Day-bucketed sightings and audit rows.
	RecordSighting(ctx context.Context, obs SightingObservation) error
	GetSighting(ctx context.Context, kind SightingKind, appSlug, context, detail string, day time.Time) (Sighting, error)
	InsertFieldChange(ctx context.Context, fc FieldChange) error

	// Reviews. The bool result is false when the review was already known.
	InsertReview(ctx context.Context, review ReviewRecord) (bool, error)

	// Derived aggregates recomputed by compute_* jobs. An empty appSlug
	// refreshes metrics for every app with reviews.
	RefreshReviewMetrics(ctx context.Context, appSlug string) error
	RefreshSimilarityScores(ctx context.Context) error

	// Daily digest reads.
	DigestRecipients(ctx context.Context, scope DigestScope) ([]Recipient, error)
	DigestData(ctx context.Context, since time.Time) (DigestData, error)
}

// Queue provides enqueue/dequeue semantics for scrape jobs. The design
// assumes a single active consumer per process.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
}

// BlobStore archives raw page bodies and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Mailer delivers digest mail to one recipient.
type Mailer interface {
	Send(ctx context.Context, to Recipient, subject, body string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
