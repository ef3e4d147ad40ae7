// Package memory provides an in-memory Store implementation for local
// development and tests. Semantics mirror the Postgres store, including the
// monotonic run lifecycle and the day-bucketed sighting upsert.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storepulse/appscraper/internal/scrape"
)

type recipientRow struct {
	recipient scrape.Recipient
	accountID string
	global    bool
}

// ReviewMetrics is the derived per-app review aggregate.
type ReviewMetrics struct {
	AppSlug       string
	ReviewCount   int
	AverageRating float64
}

// Store implements scrape.Store with maps guarded by one mutex.
type Store struct {
	mu sync.RWMutex

	runs       map[string]scrape.ScrapeRun
	apps       map[string]scrape.App
	categories map[string]scrape.Category
	keywords   map[string]scrape.Keyword

	categorySnapshots []scrape.CategorySnapshot
	appSnapshots      []scrape.AppSnapshot
	keywordSnapshots  []scrape.KeywordSnapshot
	rankings          []scrape.Ranking
	fieldChanges      []scrape.FieldChange

	sightings map[string]scrape.Sighting
	reviews   map[string]scrape.ReviewRecord

	reviewMetrics map[string]ReviewMetrics
	similarity    map[string]int

	recipients []recipientRow
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		runs:          make(map[string]scrape.ScrapeRun),
		apps:          make(map[string]scrape.App),
		categories:    make(map[string]scrape.Category),
		keywords:      make(map[string]scrape.Keyword),
		sightings:     make(map[string]scrape.Sighting),
		reviews:       make(map[string]scrape.ReviewRecord),
		reviewMetrics: make(map[string]ReviewMetrics),
		similarity:    make(map[string]int),
	}
}

var _ scrape.Store = (*Store)(nil)

// CreateRun stores a new pending run.
func (s *Store) CreateRun(_ context.Context, run scrape.ScrapeRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = run
	return nil
}

// StartRun transitions a pending run to running.
func (s *Store) StartRun(_ context.Context, runID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return scrape.ErrNotFound
	}
	if run.Status != scrape.RunPending {
		return fmt.Errorf("run %s is %s, cannot start", runID, run.Status)
	}
	run.Status = scrape.RunRunning
	run.StartedAt = &at
	s.runs[runID] = run
	return nil
}

// CompleteRun transitions a running run to completed.
func (s *Store) CompleteRun(_ context.Context, runID string, meta scrape.RunMetadata, at time.Time) error {
	return s.finishRun(runID, scrape.RunCompleted, "", meta, at)
}

// FailRun transitions a pending or running run to failed, preserving the
// counters accumulated so far.
func (s *Store) FailRun(_ context.Context, runID string, errText string, meta scrape.RunMetadata, at time.Time) error {
	return s.finishRun(runID, scrape.RunFailed, errText, meta, at)
}

func (s *Store) finishRun(runID string, status scrape.RunStatus, errText string, meta scrape.RunMetadata, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return scrape.ErrNotFound
	}
	if run.Status == scrape.RunCompleted || run.Status == scrape.RunFailed {
		return fmt.Errorf("run %s is already %s", runID, run.Status)
	}
	if status == scrape.RunCompleted && run.Status != scrape.RunRunning {
		return fmt.Errorf("run %s is %s, cannot complete", runID, run.Status)
	}
	run.Status = status
	run.Error = errText
	run.Metadata = meta
	run.CompletedAt = &at
	s.runs[runID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *Store) GetRun(_ context.Context, runID string) (scrape.ScrapeRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return scrape.ScrapeRun{}, scrape.ErrNotFound
	}
	return run, nil
}

// LatestCompletedRun returns the most recent completed run of type t,
// excluding excludeRunID.
func (s *Store) LatestCompletedRun(_ context.Context, t scrape.ScraperType, excludeRunID string) (scrape.ScrapeRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  scrape.ScrapeRun
		found bool
	)
	for _, run := range s.runs {
		if run.Type != t || run.Status != scrape.RunCompleted || run.ID == excludeRunID {
			continue
		}
		if run.CompletedAt == nil {
			continue
		}
		if !found || run.CompletedAt.After(*best.CompletedAt) {
			best = run
			found = true
		}
	}
	if !found {
		return scrape.ScrapeRun{}, scrape.ErrNotFound
	}
	return best, nil
}

// UpsertApp applies an optional-field patch to the app master record. Nil
// patch fields leave the stored value alone.
func (s *Store) UpsertApp(_ context.Context, patch scrape.AppPatch) error {
	if patch.Slug == "" {
		return fmt.Errorf("app patch requires a slug")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[patch.Slug]
	if !ok {
		app = scrape.App{Slug: patch.Slug, FirstSeenAt: patch.SeenAt}
	}
	if patch.Name != nil {
		app.Name = *patch.Name
	}
	if patch.IconURL != nil {
		app.IconURL = *patch.IconURL
	}
	if patch.Developer != nil {
		app.Developer = *patch.Developer
	}
	if patch.AverageRating != nil {
		app.AverageRating = patch.AverageRating
	}
	if patch.LaunchDate != nil {
		app.LaunchDate = patch.LaunchDate
	}
	if patch.SeenAt.After(app.LastSeenAt) {
		app.LastSeenAt = patch.SeenAt
	}
	s.apps[patch.Slug] = app
	return nil
}

// GetApp fetches an app master record.
func (s *Store) GetApp(_ context.Context, slug string) (scrape.App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[slug]
	if !ok {
		return scrape.App{}, scrape.ErrNotFound
	}
	return app, nil
}

// SetAppTracked flips the tracked flag, creating the record if needed.
func (s *Store) SetAppTracked(_ context.Context, slug string, tracked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[slug]
	if !ok {
		app = scrape.App{Slug: slug}
	}
	app.Tracked = tracked
	s.apps[slug] = app
	return nil
}

// TrackedApps lists tracked apps in slug order.
func (s *Store) TrackedApps(_ context.Context) ([]scrape.App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []scrape.App
	for _, app := range s.apps {
		if app.Tracked {
			out = append(out, app)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// UpsertCategory applies an optional-field patch to a category record.
func (s *Store) UpsertCategory(_ context.Context, patch scrape.CategoryPatch) error {
	if patch.Slug == "" {
		return fmt.Errorf("category patch requires a slug")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	category, ok := s.categories[patch.Slug]
	if !ok {
		category = scrape.Category{Slug: patch.Slug}
	}
	if patch.Title != nil {
		category.Title = *patch.Title
	}
	if patch.ParentSlug != nil {
		category.ParentSlug = *patch.ParentSlug
	}
	if patch.Depth != nil {
		category.Depth = *patch.Depth
	}
	if patch.IsListingPage != nil {
		category.IsListingPage = *patch.IsListingPage
	}
	s.categories[patch.Slug] = category
	return nil
}

// UpsertKeyword inserts the keyword if new and marks it active.
func (s *Store) UpsertKeyword(_ context.Context, keyword string) (scrape.Keyword, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.keywords[keyword]; ok {
		existing.Active = true
		s.keywords[keyword] = existing
		return existing, nil
	}
	kw := scrape.Keyword{ID: uuid.NewString(), Keyword: keyword, Active: true}
	s.keywords[keyword] = kw
	return kw, nil
}

// ActiveKeywords lists active keywords in lexical order.
func (s *Store) ActiveKeywords(_ context.Context) ([]scrape.Keyword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []scrape.Keyword
	for _, kw := range s.keywords {
		if kw.Active {
			out = append(out, kw)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Keyword < out[j].Keyword })
	return out, nil
}

// InsertCategorySnapshot appends an immutable category snapshot.
func (s *Store) InsertCategorySnapshot(_ context.Context, snap scrape.CategorySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categorySnapshots = append(s.categorySnapshots, snap)
	return nil
}

// InsertAppSnapshot appends an immutable app snapshot.
func (s *Store) InsertAppSnapshot(_ context.Context, snap scrape.AppSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appSnapshots = append(s.appSnapshots, snap)
	return nil
}

// LatestAppSnapshot returns the most recent snapshot for slug.
func (s *Store) LatestAppSnapshot(_ context.Context, slug string) (scrape.AppSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  scrape.AppSnapshot
		found bool
	)
	for _, snap := range s.appSnapshots {
		if snap.AppSlug != slug {
			continue
		}
		if !found || snap.ScrapedAt.After(best.ScrapedAt) {
			best = snap
			found = true
		}
	}
	if !found {
		return scrape.AppSnapshot{}, scrape.ErrNotFound
	}
	return best, nil
}

// InsertKeywordSnapshot appends an immutable keyword snapshot.
func (s *Store) InsertKeywordSnapshot(_ context.Context, snap scrape.KeywordSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keywordSnapshots = append(s.keywordSnapshots, snap)
	return nil
}

// InsertRanking appends an immutable ranking row.
func (s *Store) InsertRanking(_ context.Context, r scrape.Ranking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rankings = append(s.rankings, r)
	return nil
}

// RankedAppSlugs lists apps with a non-null position in the given run.
func (s *Store) RankedAppSlugs(_ context.Context, scope scrape.RankScope, scopeID, runID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, r := range s.rankings {
		if r.Scope == scope && r.ScopeID == scopeID && r.RunID == runID && r.Position != nil {
			out = append(out, r.AppSlug)
		}
	}
	return out, nil
}

func sightingKey(kind scrape.SightingKind, appSlug, context, detail string, day time.Time) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", kind, appSlug, context, detail, day.Format("2006-01-02"))
}

// RecordSighting upserts a day-bucketed sighting, incrementing the counter
// on repeat observations. FirstSeenRunID is set once and never overwritten.
func (s *Store) RecordSighting(_ context.Context, obs scrape.SightingObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := scrape.Day(obs.Day)
	key := sightingKey(obs.Kind, obs.AppSlug, obs.Context, obs.Detail, day)
	sighting, ok := s.sightings[key]
	if !ok {
		sighting = scrape.Sighting{
			Kind:           obs.Kind,
			AppSlug:        obs.AppSlug,
			Context:        obs.Context,
			Detail:         obs.Detail,
			Day:            day,
			FirstSeenRunID: obs.RunID,
		}
	}
	sighting.TimesSeenInDay++
	sighting.LastSeenRunID = obs.RunID
	s.sightings[key] = sighting
	return nil
}

// GetSighting fetches one sighting row by its unique key.
func (s *Store) GetSighting(_ context.Context, kind scrape.SightingKind, appSlug, context, detail string, day time.Time) (scrape.Sighting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sighting, ok := s.sightings[sightingKey(kind, appSlug, context, detail, scrape.Day(day))]
	if !ok {
		return scrape.Sighting{}, scrape.ErrNotFound
	}
	return sighting, nil
}

// InsertFieldChange appends an immutable audit row.
func (s *Store) InsertFieldChange(_ context.Context, fc scrape.FieldChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fieldChanges = append(s.fieldChanges, fc)
	return nil
}

// InsertReview inserts a review unless its dedup key is already known.
func (s *Store) InsertReview(_ context.Context, review scrape.ReviewRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%s|%s|%s|%d", review.AppSlug, review.Reviewer, review.Date.Format("2006-01-02"), review.Rating)
	if _, exists := s.reviews[key]; exists {
		return false, nil
	}
	s.reviews[key] = review
	return true, nil
}

// RefreshReviewMetrics recomputes the per-app review aggregate. An empty
// appSlug refreshes every app with reviews.
func (s *Store) RefreshReviewMetrics(_ context.Context, appSlug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	sums := make(map[string]int)
	for _, review := range s.reviews {
		if appSlug != "" && review.AppSlug != appSlug {
			continue
		}
		counts[review.AppSlug]++
		sums[review.AppSlug] += review.Rating
	}
	for slug, count := range counts {
		s.reviewMetrics[slug] = ReviewMetrics{
			AppSlug:       slug,
			ReviewCount:   count,
			AverageRating: float64(sums[slug]) / float64(count),
		}
	}
	return nil
}

// RefreshSimilarityScores recomputes pairwise scores from similar-app
// sightings.
func (s *Store) RefreshSimilarityScores(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scores := make(map[string]int)
	for _, sighting := range s.sightings {
		if sighting.Kind != scrape.SightingSimilarApp {
			continue
		}
		scores[sighting.AppSlug+"|"+sighting.Context] += sighting.TimesSeenInDay
	}
	s.similarity = scores
	return nil
}

// AddRecipient registers a digest recipient for tests and local runs.
func (s *Store) AddRecipient(recipient scrape.Recipient, accountID string, global bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recipients = append(s.recipients, recipientRow{
		recipient: recipient,
		accountID: accountID,
		global:    global,
	})
}

// DigestRecipients resolves recipients for the given scope.
func (s *Store) DigestRecipients(_ context.Context, scope scrape.DigestScope) ([]scrape.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []scrape.Recipient
	for _, row := range s.recipients {
		switch {
		case scope.UserID != "":
			if row.recipient.UserID == scope.UserID {
				out = append(out, row.recipient)
			}
		case scope.AccountID != "":
			if row.accountID == scope.AccountID {
				out = append(out, row.recipient)
			}
		default:
			if row.global {
				out = append(out, row.recipient)
			}
		}
	}
	return out, nil
}

// DigestData assembles the shared digest payload.
func (s *Store) DigestData(_ context.Context, since time.Time) (scrape.DigestData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data := scrape.DigestData{Since: since}
	for _, run := range s.runs {
		if run.CompletedAt == nil || run.CompletedAt.Before(since) {
			continue
		}
		switch run.Status {
		case scrape.RunCompleted:
			data.RunsCompleted++
		case scrape.RunFailed:
			data.RunsFailed++
		}
	}
	for _, review := range s.reviews {
		if !review.Date.Before(since) {
			data.NewReviews++
		}
	}
	for _, fc := range s.fieldChanges {
		if !fc.ChangedAt.Before(since) {
			data.FieldChanges++
		}
	}
	for _, app := range s.apps {
		if app.Tracked {
			data.TrackedApps++
		}
	}
	return data, nil
}

// Rankings returns a copy of all ranking rows (test helper).
func (s *Store) Rankings() []scrape.Ranking {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]scrape.Ranking(nil), s.rankings...)
}

// FieldChanges returns a copy of all audit rows (test helper).
func (s *Store) FieldChanges() []scrape.FieldChange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]scrape.FieldChange(nil), s.fieldChanges...)
}

// CategorySnapshots returns a copy of all category snapshots (test helper).
func (s *Store) CategorySnapshots() []scrape.CategorySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]scrape.CategorySnapshot(nil), s.categorySnapshots...)
}

// AppSnapshots returns a copy of all app snapshots (test helper).
func (s *Store) AppSnapshots() []scrape.AppSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]scrape.AppSnapshot(nil), s.appSnapshots...)
}

// KeywordSnapshots returns a copy of all keyword snapshots (test helper).
func (s *Store) KeywordSnapshots() []scrape.KeywordSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]scrape.KeywordSnapshot(nil), s.keywordSnapshots...)
}

// ReviewMetricsFor returns the derived aggregate for slug (test helper).
func (s *Store) ReviewMetricsFor(slug string) (ReviewMetrics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.reviewMetrics[slug]
	return m, ok
}

// SimilarityScore returns the derived score for a pair (test helper).
func (s *Store) SimilarityScore(appSlug, similarSlug string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.similarity[appSlug+"|"+similarSlug]
}
