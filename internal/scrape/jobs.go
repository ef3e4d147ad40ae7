package scrape

// JobKind is the closed set of job types the orchestrator dispatches on.
// Adding a kind means extending the orchestrator's switch; unknown kinds are
// rejected at dispatch time.
type JobKind string

// Job kinds carried on queue messages.
const (
	JobCategory                JobKind = "category"
	JobAppDetails              JobKind = "app_details"
	JobKeywordSearch           JobKind = "keyword_search"
	JobKeywordSuggestions      JobKind = "keyword_suggestions"
	JobReviews                 JobKind = "reviews"
	JobDailyDigest             JobKind = "daily_digest"
	JobComputeReviewMetrics    JobKind = "compute_review_metrics"
	JobComputeSimilarityScores JobKind = "compute_similarity_scores"
)

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	switch k {
	case JobCategory, JobAppDetails, JobKeywordSearch, JobKeywordSuggestions,
		JobReviews, JobDailyDigest, JobComputeReviewMetrics, JobComputeSimilarityScores:
		return true
	}
	return false
}

// JobOptions are the pass-through knobs a job may carry.
type JobOptions struct {
	Pages            PageBudget `json:"pages,omitzero"`
	ScrapeAppDetails bool       `json:"scrape_app_details,omitempty"`
	ScrapeReviews    bool       `json:"scrape_reviews,omitempty"`
}

// Job is the queue message contract. Slug scopes app/category jobs, Keyword
// scopes keyword jobs, AccountID/UserID scope digest jobs; empty scope fields
// mean "the tracked set" or "global" depending on the kind.
type Job struct {
	Kind        JobKind    `json:"type"`
	Slug        string     `json:"slug,omitempty"`
	Keyword     string     `json:"keyword,omitempty"`
	AccountID   string     `json:"account_id,omitempty"`
	UserID      string     `json:"user_id,omitempty"`
	TriggeredBy string     `json:"triggered_by"`
	Options     JobOptions `json:"options,omitzero"`
}

// CascadeTrigger derives the triggeredBy tag for jobs fanned out from this
// job, preserving provenance across the chain.
func (j Job) CascadeTrigger() string {
	return j.TriggeredBy + ":cascade"
}
