package digest

import (
	"context"

	"go.uber.org/zap"

	"github.com/storepulse/appscraper/internal/scrape"
)

// LogMailer writes digest mail to the log instead of an SMTP relay. It is
// the default until an outbound mail provider is configured.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer constructs a log-backed mailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger.Named("mailer")}
}

// Send logs the mail that would have been delivered.
func (m *LogMailer) Send(_ context.Context, to scrape.Recipient, subject, body string) error {
	m.logger.Info("digest mail",
		zap.String("to", to.Email),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(body)),
	)
	return nil
}
