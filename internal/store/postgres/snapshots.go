package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/storepulse/appscraper/internal/scrape"
)

// InsertCategorySnapshot appends an immutable category snapshot.
func (s *Store) InsertCategorySnapshot(ctx context.Context, snap scrape.CategorySnapshot) error {
	breadcrumb, err := json.Marshal(snap.Breadcrumb)
	if err != nil {
		return fmt.Errorf("marshal breadcrumb: %w", err)
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO category_snapshots (id, category_slug, run_id, title, description, breadcrumb, app_count, scraped_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		snap.ID, snap.CategorySlug, snap.RunID, snap.Title, snap.Description,
		breadcrumb, snap.AppCount, snap.ScrapedAt)
	if err != nil {
		return fmt.Errorf("insert category snapshot: %w", err)
	}
	return nil
}

// InsertAppSnapshot appends an immutable app snapshot.
func (s *Store) InsertAppSnapshot(ctx context.Context, snap scrape.AppSnapshot) error {
	features, err := json.Marshal(snap.Features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	plans, err := json.Marshal(snap.PricingPlans)
	if err != nil {
		return fmt.Errorf("marshal pricing plans: %w", err)
	}
	categories, err := json.Marshal(snap.Categories)
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO app_snapshots (id, app_slug, run_id, name, introduction, details, features, pricing_plans, average_rating, rating_count, categories, scraped_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		snap.ID, snap.AppSlug, snap.RunID, snap.Name, snap.Introduction, snap.Details,
		features, plans, snap.AverageRating, snap.RatingCount, categories, snap.ScrapedAt)
	if err != nil {
		return fmt.Errorf("insert app snapshot: %w", err)
	}
	return nil
}

// LatestAppSnapshot returns the most recent snapshot for slug.
func (s *Store) LatestAppSnapshot(ctx context.Context, slug string) (scrape.AppSnapshot, error) {
	var (
		snap       scrape.AppSnapshot
		features   []byte
		plans      []byte
		categories []byte
	)
	err := s.db.QueryRow(ctx, `
SELECT id, app_slug, run_id, name, introduction, details, features, pricing_plans, average_rating, rating_count, categories, scraped_at
FROM app_snapshots WHERE app_slug = $1
ORDER BY scraped_at DESC
LIMIT 1`, slug).
		Scan(&snap.ID, &snap.AppSlug, &snap.RunID, &snap.Name, &snap.Introduction, &snap.Details,
			&features, &plans, &snap.AverageRating, &snap.RatingCount, &categories, &snap.ScrapedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scrape.AppSnapshot{}, scrape.ErrNotFound
		}
		return scrape.AppSnapshot{}, fmt.Errorf("latest app snapshot %s: %w", slug, err)
	}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &snap.Features); err != nil {
			return scrape.AppSnapshot{}, fmt.Errorf("unmarshal features: %w", err)
		}
	}
	if len(plans) > 0 {
		if err := json.Unmarshal(plans, &snap.PricingPlans); err != nil {
			return scrape.AppSnapshot{}, fmt.Errorf("unmarshal pricing plans: %w", err)
		}
	}
	if len(categories) > 0 {
		if err := json.Unmarshal(categories, &snap.Categories); err != nil {
			return scrape.AppSnapshot{}, fmt.Errorf("unmarshal categories: %w", err)
		}
	}
	return snap, nil
}

// InsertKeywordSnapshot appends an immutable keyword snapshot.
func (s *Store) InsertKeywordSnapshot(ctx context.Context, snap scrape.KeywordSnapshot) error {
	results, err := json.Marshal(snap.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO keyword_snapshots (id, keyword_id, run_id, results, total_results, scraped_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		snap.ID, snap.KeywordID, snap.RunID, results, snap.TotalResults, snap.ScrapedAt)
	if err != nil {
		return fmt.Errorf("insert keyword snapshot: %w", err)
	}
	return nil
}
