package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/storepulse/appscraper/internal/scrape"
)

// InsertRanking appends an immutable ranking row. Position may be NULL: the
// explicit record that a previously-ranked app is no longer found.
func (s *Store) InsertRanking(ctx context.Context, r scrape.Ranking) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO rankings (app_slug, scope, scope_id, run_id, position)
VALUES ($1, $2, $3, $4, $5)`,
		r.AppSlug, string(r.Scope), r.ScopeID, r.RunID, r.Position)
	if err != nil {
		return fmt.Errorf("insert ranking: %w", err)
	}
	return nil
}

// RankedAppSlugs lists apps with a non-null position in the given run.
func (s *Store) RankedAppSlugs(ctx context.Context, scope scrape.RankScope, scopeID, runID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
SELECT app_slug FROM rankings
WHERE scope = $1 AND scope_id = $2 AND run_id = $3 AND position IS NOT NULL
ORDER BY position`,
		string(scope), scopeID, runID)
	if err != nil {
		return nil, fmt.Errorf("list ranked apps: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("scan ranked app: %w", err)
		}
		out = append(out, slug)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ranked apps: %w", err)
	}
	return out, nil
}

// RecordSighting upserts a day-bucketed sighting row. The first observation
// of a key creates the row; every repeat within the same day increments the
// counter and advances last_seen_run_id, leaving first_seen_run_id alone.
func (s *Store) RecordSighting(ctx context.Context, obs scrape.SightingObservation) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO sightings (kind, app_slug, context, detail, day, times_seen_in_day, first_seen_run_id, last_seen_run_id)
VALUES ($1, $2, $3, $4, $5, 1, $6, $6)
ON CONFLICT (kind, app_slug, context, detail, day) DO UPDATE SET
    times_seen_in_day = sightings.times_seen_in_day + 1,
    last_seen_run_id = EXCLUDED.last_seen_run_id`,
		string(obs.Kind), obs.AppSlug, obs.Context, obs.Detail, scrape.Day(obs.Day), obs.RunID)
	if err != nil {
		return fmt.Errorf("record sighting: %w", err)
	}
	return nil
}

// GetSighting fetches one sighting row by its unique key.
func (s *Store) GetSighting(ctx context.Context, kind scrape.SightingKind, appSlug, context, detail string, day time.Time) (scrape.Sighting, error) {
	var sighting scrape.Sighting
	err := s.db.QueryRow(ctx, `
SELECT kind, app_slug, context, detail, day, times_seen_in_day, first_seen_run_id, last_seen_run_id
FROM sightings
WHERE kind = $1 AND app_slug = $2 AND context = $3 AND detail = $4 AND day = $5`,
		string(kind), appSlug, context, detail, scrape.Day(day)).
		Scan(&sighting.Kind, &sighting.AppSlug, &sighting.Context, &sighting.Detail,
			&sighting.Day, &sighting.TimesSeenInDay, &sighting.FirstSeenRunID, &sighting.LastSeenRunID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scrape.Sighting{}, scrape.ErrNotFound
		}
		return scrape.Sighting{}, fmt.Errorf("get sighting: %w", err)
	}
	return sighting, nil
}

// InsertFieldChange appends an immutable audit row.
func (s *Store) InsertFieldChange(ctx context.Context, fc scrape.FieldChange) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO field_changes (app_slug, field, old_value, new_value, run_id, changed_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		fc.AppSlug, fc.Field, fc.OldValue, fc.NewValue, fc.RunID, fc.ChangedAt)
	if err != nil {
		return fmt.Errorf("insert field change: %w", err)
	}
	return nil
}

// InsertReview inserts a review; a conflict on the dedup key means the
// review is already known and is reported as (false, nil), not an error.
func (s *Store) InsertReview(ctx context.Context, review scrape.ReviewRecord) (bool, error) {
	tag, err := s.db.Exec(ctx, `
INSERT INTO reviews (app_slug, reviewer, rating, content, developer_reply, review_date, run_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (app_slug, reviewer, review_date, rating) DO NOTHING`,
		review.AppSlug, review.Reviewer, review.Rating, review.Content,
		review.DeveloperReply, review.Date, review.RunID)
	if err != nil {
		return false, fmt.Errorf("insert review: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RefreshReviewMetrics recomputes the per-app review aggregate. An empty
// appSlug refreshes every app with reviews.
func (s *Store) RefreshReviewMetrics(ctx context.Context, appSlug string) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO app_review_metrics (app_slug, review_count, average_rating, computed_at)
SELECT app_slug, COUNT(*), AVG(rating)::float8, NOW()
FROM reviews
WHERE ($1 = '' OR app_slug = $1)
GROUP BY app_slug
ON CONFLICT (app_slug) DO UPDATE SET
    review_count = EXCLUDED.review_count,
    average_rating = EXCLUDED.average_rating,
    computed_at = EXCLUDED.computed_at`,
		appSlug)
	if err != nil {
		return fmt.Errorf("refresh review metrics: %w", err)
	}
	return nil
}

// RefreshSimilarityScores recomputes pairwise scores from similar-app
// sightings.
func (s *Store) RefreshSimilarityScores(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO app_similarity_scores (app_slug, similar_slug, score, computed_at)
SELECT app_slug, context, SUM(times_seen_in_day), NOW()
FROM sightings
WHERE kind = 'similar_app'
GROUP BY app_slug, context
ON CONFLICT (app_slug, similar_slug) DO UPDATE SET
    score = EXCLUDED.score,
    computed_at = EXCLUDED.computed_at`)
	if err != nil {
		return fmt.Errorf("refresh similarity scores: %w", err)
	}
	return nil
}
