package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/storepulse/appscraper/internal/scrape"
)

// UpsertApp applies an optional-field patch to the app master record. Nil
// patch fields arrive as SQL NULLs and COALESCE away, so a failed parse can
// never blank previously-good data.
func (s *Store) UpsertApp(ctx context.Context, patch scrape.AppPatch) error {
	if patch.Slug == "" {
		return fmt.Errorf("app patch requires a slug")
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO apps (slug, name, icon_url, developer, average_rating, launch_date, first_seen_at, last_seen_at)
VALUES ($1, COALESCE($2, ''), COALESCE($3, ''), COALESCE($4, ''), $5, $6, $7, $7)
ON CONFLICT (slug) DO UPDATE SET
    name = COALESCE($2, apps.name),
    icon_url = COALESCE($3, apps.icon_url),
    developer = COALESCE($4, apps.developer),
    average_rating = COALESCE($5, apps.average_rating),
    launch_date = COALESCE($6, apps.launch_date),
    last_seen_at = GREATEST(apps.last_seen_at, $7)`,
		patch.Slug, patch.Name, patch.IconURL, patch.Developer,
		patch.AverageRating, patch.LaunchDate, patch.SeenAt)
	if err != nil {
		return fmt.Errorf("upsert app %s: %w", patch.Slug, err)
	}
	return nil
}

// GetApp fetches an app master record.
func (s *Store) GetApp(ctx context.Context, slug string) (scrape.App, error) {
	var app scrape.App
	err := s.db.QueryRow(ctx, `
SELECT slug, name, icon_url, developer, average_rating, launch_date, tracked, first_seen_at, last_seen_at
FROM apps WHERE slug = $1`, slug).
		Scan(&app.Slug, &app.Name, &app.IconURL, &app.Developer,
			&app.AverageRating, &app.LaunchDate, &app.Tracked, &app.FirstSeenAt, &app.LastSeenAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scrape.App{}, scrape.ErrNotFound
		}
		return scrape.App{}, fmt.Errorf("get app %s: %w", slug, err)
	}
	return app, nil
}

// SetAppTracked flips the tracked flag, creating a stub record if needed.
func (s *Store) SetAppTracked(ctx context.Context, slug string, tracked bool) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO apps (slug, tracked, first_seen_at, last_seen_at)
VALUES ($1, $2, NOW(), NOW())
ON CONFLICT (slug) DO UPDATE SET tracked = $2`,
		slug, tracked)
	if err != nil {
		return fmt.Errorf("set app tracked %s: %w", slug, err)
	}
	return nil
}

// TrackedApps lists tracked apps in slug order.
func (s *Store) TrackedApps(ctx context.Context) ([]scrape.App, error) {
	rows, err := s.db.Query(ctx, `
SELECT slug, name, icon_url, developer, average_rating, launch_date, tracked, first_seen_at, last_seen_at
FROM apps WHERE tracked ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("list tracked apps: %w", err)
	}
	defer rows.Close()

	var out []scrape.App
	for rows.Next() {
		var app scrape.App
		if err := rows.Scan(&app.Slug, &app.Name, &app.IconURL, &app.Developer,
			&app.AverageRating, &app.LaunchDate, &app.Tracked, &app.FirstSeenAt, &app.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scan tracked app: %w", err)
		}
		out = append(out, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracked apps: %w", err)
	}
	return out, nil
}

// UpsertCategory applies an optional-field patch to a category record.
func (s *Store) UpsertCategory(ctx context.Context, patch scrape.CategoryPatch) error {
	if patch.Slug == "" {
		return fmt.Errorf("category patch requires a slug")
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO categories (slug, title, parent_slug, depth, is_listing_page)
VALUES ($1, COALESCE($2, ''), COALESCE($3, ''), COALESCE($4, 0), COALESCE($5, FALSE))
ON CONFLICT (slug) DO UPDATE SET
    title = COALESCE($2, categories.title),
    parent_slug = COALESCE($3, categories.parent_slug),
    depth = COALESCE($4, categories.depth),
    is_listing_page = COALESCE($5, categories.is_listing_page)`,
		patch.Slug, patch.Title, patch.ParentSlug, patch.Depth, patch.IsListingPage)
	if err != nil {
		return fmt.Errorf("upsert category %s: %w", patch.Slug, err)
	}
	return nil
}

// UpsertKeyword inserts the keyword if new and marks it active.
func (s *Store) UpsertKeyword(ctx context.Context, keyword string) (scrape.Keyword, error) {
	var kw scrape.Keyword
	err := s.db.QueryRow(ctx, `
INSERT INTO keywords (id, keyword, active)
VALUES ($1, $2, TRUE)
ON CONFLICT (keyword) DO UPDATE SET active = TRUE
RETURNING id, keyword, active`,
		uuid.NewString(), keyword).
		Scan(&kw.ID, &kw.Keyword, &kw.Active)
	if err != nil {
		return scrape.Keyword{}, fmt.Errorf("upsert keyword %q: %w", keyword, err)
	}
	return kw, nil
}

// ActiveKeywords lists active keywords in lexical order.
func (s *Store) ActiveKeywords(ctx context.Context) ([]scrape.Keyword, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, keyword, active FROM keywords WHERE active ORDER BY keyword`)
	if err != nil {
		return nil, fmt.Errorf("list active keywords: %w", err)
	}
	defer rows.Close()

	var out []scrape.Keyword
	for rows.Next() {
		var kw scrape.Keyword
		if err := rows.Scan(&kw.ID, &kw.Keyword, &kw.Active); err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		out = append(out, kw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keywords: %w", err)
	}
	return out, nil
}
