// Package scrape defines core types shared across subsystems: scrape runs,
// master entity records, snapshots, rankings, sightings, and the interfaces
// the scraping pipeline is assembled from.
package scrape

import "time"

// ScraperType identifies which scraper a ScrapeRun belongs to.
type ScraperType string

// Scraper type values persisted on scrape_runs rows.
const (
	ScraperCategory           ScraperType = "category"
	ScraperAppDetails         ScraperType = "app_details"
	ScraperKeywordSearch      ScraperType = "keyword_search"
	ScraperKeywordSuggestions ScraperType = "keyword_suggestions"
	ScraperReviews            ScraperType = "reviews"
	ScraperDailyDigest        ScraperType = "daily_digest"
)

// RunStatus represents the lifecycle state of a scrape run.
// Transitions are monotonic: pending -> running -> completed | failed.
type RunStatus string

// Run status values persisted on scrape_runs rows.
const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunMetadata carries opaque counters accumulated over a run. Extra holds
// domain-specific counters (pages fetched, apps skipped, and the like).
type RunMetadata struct {
	ItemsScraped int            `json:"items_scraped"`
	ItemsFailed  int            `json:"items_failed"`
	DurationMs   int64          `json:"duration_ms"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// ScrapeRun is the persisted record of one scraper invocation. It is created
// at job start and mutated exclusively by the scraper that created it.
type ScrapeRun struct {
	ID          string      `json:"id"`
	Type        ScraperType `json:"type"`
	Status      RunStatus   `json:"status"`
	TriggeredBy string      `json:"triggered_by"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Metadata    RunMetadata `json:"metadata"`
	Error       string      `json:"error,omitempty"`
}

// App is the long-lived master record for a marketplace app. Denormalized
// fields hold the last known non-null observation; a failed parse never
// blanks them.
type App struct {
	Slug          string     `json:"slug"`
	Name          string     `json:"name"`
	IconURL       string     `json:"icon_url,omitempty"`
	Developer     string     `json:"developer,omitempty"`
	AverageRating *float64   `json:"average_rating,omitempty"`
	LaunchDate    *time.Time `json:"launch_date,omitempty"`
	Tracked       bool       `json:"tracked"`
	FirstSeenAt   time.Time  `json:"first_seen_at"`
	LastSeenAt    time.Time  `json:"last_seen_at"`
}

// AppPatch is an explicit optional-field update for the app master record.
// A nil field means "leave the stored value alone"; there is no way to blank
// a field through a patch.
type AppPatch struct {
	Slug          string
	Name          *string
	IconURL       *string
	Developer     *string
	AverageRating *float64
	LaunchDate    *time.Time
	SeenAt        time.Time
}

// Category is the master record for a category tree node.
type Category struct {
	Slug          string `json:"slug"`
	Title         string `json:"title"`
	ParentSlug    string `json:"parent_slug,omitempty"`
	Depth         int    `json:"depth"`
	IsListingPage bool   `json:"is_listing_page"`
}

// CategoryPatch updates the category master record.
type CategoryPatch struct {
	Slug          string
	Title         *string
	ParentSlug    *string
	Depth         *int
	IsListingPage *bool
}

// Keyword is a tracked search keyword.
type Keyword struct {
	ID      string `json:"id"`
	Keyword string `json:"keyword"`
	Active  bool   `json:"active"`
}

// CategorySnapshot is an immutable point-in-time capture of a category page.
type CategorySnapshot struct {
	ID           string    `json:"id"`
	CategorySlug string    `json:"category_slug"`
	RunID        string    `json:"run_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Breadcrumb   []string  `json:"breadcrumb,omitempty"`
	AppCount     *int      `json:"app_count,omitempty"`
	ScrapedAt    time.Time `json:"scraped_at"`
}

// AppSnapshot is an immutable point-in-time capture of an app detail page.
type AppSnapshot struct {
	ID            string        `json:"id"`
	AppSlug       string        `json:"app_slug"`
	RunID         string        `json:"run_id"`
	Name          string        `json:"name"`
	Introduction  string        `json:"introduction,omitempty"`
	Details       string        `json:"details,omitempty"`
	Features      []string      `json:"features,omitempty"`
	PricingPlans  []PricingPlan `json:"pricing_plans,omitempty"`
	AverageRating *float64      `json:"average_rating,omitempty"`
	RatingCount   *int          `json:"rating_count,omitempty"`
	Categories    []string      `json:"categories,omitempty"`
	ScrapedAt     time.Time     `json:"scraped_at"`
}

// ResultKind classifies one search result entry.
type ResultKind string

// Result kind values stored inside keyword snapshots.
const (
	ResultOrganic   ResultKind = "organic"
	ResultSponsored ResultKind = "sponsored"
	ResultBuiltIn   ResultKind = "built_in"
)

// KeywordResult is one entry of the merged search result list.
type KeywordResult struct {
	Slug          string     `json:"slug"`
	Name          string     `json:"name,omitempty"`
	IconURL       string     `json:"icon_url,omitempty"`
	AverageRating *float64   `json:"average_rating,omitempty"`
	Kind          ResultKind `json:"kind"`
}

// KeywordSnapshot is an immutable capture of one keyword search pass.
type KeywordSnapshot struct {
	ID           string          `json:"id"`
	KeywordID    string          `json:"keyword_id"`
	RunID        string          `json:"run_id"`
	Results      []KeywordResult `json:"results"`
	TotalResults *int            `json:"total_results,omitempty"`
	ScrapedAt    time.Time       `json:"scraped_at"`
}

// RankScope is the dimension a ranking row is recorded against.
type RankScope string

// Ranking scopes.
const (
	RankCategory RankScope = "category"
	RankKeyword  RankScope = "keyword"
)

// Ranking records one app's position in one scope for one run. A nil
// Position is a meaningful value: the app was previously ranked and is no
// longer found in results.
type Ranking struct {
	AppSlug  string    `json:"app_slug"`
	Scope    RankScope `json:"scope"`
	ScopeID  string    `json:"scope_id"`
	RunID    string    `json:"run_id"`
	Position *int      `json:"position"`
}

// SightingKind classifies day-bucketed sighting rows.
type SightingKind string

// Sighting kinds.
const (
	SightingFeatured   SightingKind = "featured"
	SightingSimilarApp SightingKind = "similar_app"
	SightingCategoryAd SightingKind = "category_ad"
	SightingKeywordAd  SightingKind = "keyword_ad"
)

// SightingObservation is one observation event to upsert. The unique key is
// (Kind, AppSlug, Context, Detail, Day); repeat observations within the same
// day increment the stored counter.
type SightingObservation struct {
	Kind    SightingKind
	AppSlug string
	Context string
	Detail  string
	Day     time.Time
	RunID   string
}

// Sighting is the stored day-bucketed row.
type Sighting struct {
	Kind           SightingKind `json:"kind"`
	AppSlug        string       `json:"app_slug"`
	Context        string       `json:"context"`
	Detail         string       `json:"detail,omitempty"`
	Day            time.Time    `json:"day"`
	TimesSeenInDay int          `json:"times_seen_in_day"`
	FirstSeenRunID string       `json:"first_seen_run_id"`
	LastSeenRunID  string       `json:"last_seen_run_id"`
}

// FieldChange is an immutable audit row recorded when a diff against the
// prior snapshot finds an actual difference.
type FieldChange struct {
	AppSlug   string    `json:"app_slug"`
	Field     string    `json:"field"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	RunID     string    `json:"run_id"`
	ChangedAt time.Time `json:"changed_at"`
}

// ReviewRecord is one review row. The dedup key is
// (AppSlug, Reviewer, Date, Rating); a conflicting insert means the review
// is already known.
type ReviewRecord struct {
	AppSlug        string    `json:"app_slug"`
	Reviewer       string    `json:"reviewer"`
	Rating         int       `json:"rating"`
	Content        string    `json:"content,omitempty"`
	DeveloperReply string    `json:"developer_reply,omitempty"`
	Date           time.Time `json:"date"`
	RunID          string    `json:"run_id"`
}

// DigestScope selects daily-digest recipients. The zero value means global.
type DigestScope struct {
	UserID    string
	AccountID string
}

// Recipient is one digest mail target.
type Recipient struct {
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// DigestData is the assembled payload shared by every digest scope.
type DigestData struct {
	Since         time.Time `json:"since"`
	RunsCompleted int       `json:"runs_completed"`
	RunsFailed    int       `json:"runs_failed"`
	NewReviews    int       `json:"new_reviews"`
	FieldChanges  int       `json:"field_changes"`
	TrackedApps   int       `json:"tracked_apps"`
}

// Day truncates t to its UTC date, the bucket key for sightings.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
