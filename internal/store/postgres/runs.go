package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/storepulse/appscraper/internal/scrape"
)

// CreateRun inserts a new run row.
func (s *Store) CreateRun(ctx context.Context, run scrape.ScrapeRun) error {
	metadata, err := json.Marshal(run.Metadata)
	if err != nil {
		return fmt.Errorf("marshal run metadata: %w", err)
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO scrape_runs (id, scraper_type, status, triggered_by, created_at, metadata, error_text)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, string(run.Type), string(run.Status), run.TriggeredBy, run.CreatedAt, metadata, run.Error)
	if err != nil {
		return fmt.Errorf("insert scrape run: %w", err)
	}
	return nil
}

// StartRun transitions a pending run to running. The WHERE clause enforces
// the monotonic lifecycle; an already-started run is an error.
func (s *Store) StartRun(ctx context.Context, runID string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
UPDATE scrape_runs SET status = 'running', started_at = $2
WHERE id = $1 AND status = 'pending'`,
		runID, at)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s is not pending", runID)
	}
	return nil
}

// CompleteRun transitions a running run to completed.
func (s *Store) CompleteRun(ctx context.Context, runID string, meta scrape.RunMetadata, at time.Time) error {
	metadata, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal run metadata: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
UPDATE scrape_runs SET status = 'completed', metadata = $2, completed_at = $3
WHERE id = $1 AND status = 'running'`,
		runID, metadata, at)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s is not running", runID)
	}
	return nil
}

// FailRun marks a pending or running run failed, keeping the counters
// accumulated so far.
func (s *Store) FailRun(ctx context.Context, runID string, errText string, meta scrape.RunMetadata, at time.Time) error {
	metadata, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal run metadata: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
UPDATE scrape_runs SET status = 'failed', error_text = $2, metadata = $3, completed_at = $4
WHERE id = $1 AND status IN ('pending', 'running')`,
		runID, errText, metadata, at)
	if err != nil {
		return fmt.Errorf("fail run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s is already finished", runID)
	}
	return nil
}

const runColumns = `id, scraper_type, status, triggered_by, created_at, started_at, completed_at, metadata, error_text`

func scanRun(row pgx.Row) (scrape.ScrapeRun, error) {
	var (
		run      scrape.ScrapeRun
		metadata []byte
	)
	err := row.Scan(&run.ID, &run.Type, &run.Status, &run.TriggeredBy,
		&run.CreatedAt, &run.StartedAt, &run.CompletedAt, &metadata, &run.Error)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scrape.ScrapeRun{}, scrape.ErrNotFound
		}
		return scrape.ScrapeRun{}, fmt.Errorf("scan scrape run: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &run.Metadata); err != nil {
			return scrape.ScrapeRun{}, fmt.Errorf("unmarshal run metadata: %w", err)
		}
	}
	return run, nil
}

// GetRun fetches a run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (scrape.ScrapeRun, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+runColumns+` FROM scrape_runs WHERE id = $1`, runID)
	return scanRun(row)
}

// LatestCompletedRun returns the most recent completed run of type t,
// excluding excludeRunID. This intentionally ignores failed runs: drop
// detection is computed against the last run that actually finished, even
// when that baseline is stale.
func (s *Store) LatestCompletedRun(ctx context.Context, t scrape.ScraperType, excludeRunID string) (scrape.ScrapeRun, error) {
	row := s.db.QueryRow(ctx, `
SELECT `+runColumns+` FROM scrape_runs
WHERE scraper_type = $1 AND status = 'completed' AND id <> $2
ORDER BY completed_at DESC
LIMIT 1`,
		string(t), excludeRunID)
	return scanRun(row)
}
