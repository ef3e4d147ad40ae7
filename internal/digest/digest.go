// Package digest assembles and delivers the daily activity digest.
package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storepulse/appscraper/internal/metrics"
	"github.com/storepulse/appscraper/internal/scrape"
)

// Config tunes digest delivery.
type Config struct {
	FromAddress string
	// Window is the activity lookback; defaults to 24 hours.
	Window time.Duration
}

// Sender owns the daily_digest run type: it resolves recipients for the
// requested scope, assembles one shared payload, and mails each recipient.
type Sender struct {
	store  scrape.Store
	mailer scrape.Mailer
	clock  scrape.Clock
	logger *zap.Logger
	cfg    Config
}

// NewSender assembles a digest sender.
func NewSender(store scrape.Store, mailer scrape.Mailer, clock scrape.Clock, cfg Config, logger *zap.Logger) *Sender {
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	return &Sender{
		store:  store,
		mailer: mailer,
		clock:  clock,
		logger: logger.Named("digest"),
		cfg:    cfg,
	}
}

// Run sends the digest for one scope inside its own run. A recipient whose
// mail fails is counted and skipped; the run completes as long as assembly
// succeeded.
func (s *Sender) Run(ctx context.Context, scope scrape.DigestScope, triggeredBy string) error {
	now := s.clock.Now()
	run := scrape.ScrapeRun{
		ID:          uuid.NewString(),
		Type:        scrape.ScraperDailyDigest,
		Status:      scrape.RunPending,
		TriggeredBy: triggeredBy,
		CreatedAt:   now,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("create digest run: %w", err)
	}
	if err := s.store.StartRun(ctx, run.ID, now); err != nil {
		return fmt.Errorf("start digest run: %w", err)
	}

	var meta scrape.RunMetadata
	err := s.deliver(ctx, scope, &meta)
	done := s.clock.Now()
	meta.DurationMs = done.Sub(now).Milliseconds()
	metrics.ObserveRun(string(scrape.ScraperDailyDigest), done.Sub(now))

	if err != nil {
		if ferr := s.store.FailRun(ctx, run.ID, err.Error(), meta, done); ferr != nil {
			s.logger.Error("mark digest run failed", zap.Error(ferr))
		}
		return err
	}
	if cerr := s.store.CompleteRun(ctx, run.ID, meta, done); cerr != nil {
		s.logger.Error("mark digest run completed", zap.Error(cerr))
	}
	return nil
}

func (s *Sender) deliver(ctx context.Context, scope scrape.DigestScope, meta *scrape.RunMetadata) error {
	recipients, err := s.store.DigestRecipients(ctx, scope)
	if err != nil {
		return fmt.Errorf("resolve recipients: %w", err)
	}
	if len(recipients) == 0 {
		s.logger.Info("no digest recipients for scope",
			zap.String("user_id", scope.UserID),
			zap.String("account_id", scope.AccountID),
		)
		return nil
	}

	since := s.clock.Now().Add(-s.cfg.Window)
	data, err := s.store.DigestData(ctx, since)
	if err != nil {
		return fmt.Errorf("assemble digest: %w", err)
	}
	subject, body := render(data)

	for _, recipient := range recipients {
		if err := s.mailer.Send(ctx, recipient, subject, body); err != nil {
			meta.ItemsFailed++
			s.logger.Error("digest send failed",
				zap.String("email", recipient.Email), zap.Error(err))
			continue
		}
		meta.ItemsScraped++
	}
	return nil
}

func render(data scrape.DigestData) (subject, body string) {
	subject = fmt.Sprintf("Marketplace digest for %s", data.Since.Format("2006-01-02"))
	var b strings.Builder
	fmt.Fprintf(&b, "Activity since %s\n\n", data.Since.Format(time.RFC3339))
	fmt.Fprintf(&b, "Scrape runs completed: %d\n", data.RunsCompleted)
	fmt.Fprintf(&b, "Scrape runs failed:    %d\n", data.RunsFailed)
	fmt.Fprintf(&b, "New reviews:           %d\n", data.NewReviews)
	fmt.Fprintf(&b, "Field changes:         %d\n", data.FieldChanges)
	fmt.Fprintf(&b, "Tracked apps:          %d\n", data.TrackedApps)
	return subject, b.String()
}
