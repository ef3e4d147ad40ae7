package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/storepulse/appscraper/internal/scrape"
)

// DigestRecipients resolves daily-digest recipients for the given scope:
// a single user, a whole account, or everyone with the global flag.
func (s *Store) DigestRecipients(ctx context.Context, scope scrape.DigestScope) ([]scrape.Recipient, error) {
	rows, err := s.db.Query(ctx, `
SELECT email, name, user_id FROM digest_recipients
WHERE ($1 <> '' AND user_id = $1)
   OR ($1 = '' AND $2 <> '' AND account_id = $2)
   OR ($1 = '' AND $2 = '' AND global_digest)
ORDER BY email`,
		scope.UserID, scope.AccountID)
	if err != nil {
		return nil, fmt.Errorf("list digest recipients: %w", err)
	}
	defer rows.Close()

	var out []scrape.Recipient
	for rows.Next() {
		var r scrape.Recipient
		if err := rows.Scan(&r.Email, &r.Name, &r.UserID); err != nil {
			return nil, fmt.Errorf("scan digest recipient: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate digest recipients: %w", err)
	}
	return out, nil
}

// DigestData assembles the digest payload shared by every scope.
func (s *Store) DigestData(ctx context.Context, since time.Time) (scrape.DigestData, error) {
	data := scrape.DigestData{Since: since}

	err := s.db.QueryRow(ctx, `
SELECT
    COUNT(*) FILTER (WHERE status = 'completed'),
    COUNT(*) FILTER (WHERE status = 'failed')
FROM scrape_runs WHERE completed_at >= $1`, since).
		Scan(&data.RunsCompleted, &data.RunsFailed)
	if err != nil {
		return scrape.DigestData{}, fmt.Errorf("digest run counts: %w", err)
	}

	err = s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM reviews WHERE review_date >= $1`, since).
		Scan(&data.NewReviews)
	if err != nil {
		return scrape.DigestData{}, fmt.Errorf("digest review count: %w", err)
	}

	err = s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM field_changes WHERE changed_at >= $1`, since).
		Scan(&data.FieldChanges)
	if err != nil {
		return scrape.DigestData{}, fmt.Errorf("digest change count: %w", err)
	}

	err = s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM apps WHERE tracked`).
		Scan(&data.TrackedApps)
	if err != nil {
		return scrape.DigestData{}, fmt.Errorf("digest tracked count: %w", err)
	}

	return data, nil
}
