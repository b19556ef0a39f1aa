package smtpmail

import (
	"context"
	"log/slog"

	"github.com/ericfisherdev/afteryou/internal/domain/model"
	"github.com/ericfisherdev/afteryou/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Mailer = (*LogMailer)(nil)

// LogMailer logs outbound email instead of sending it. It is used when no
// SMTP relay is configured.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a LogMailer writing to logger.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send logs the email and reports success unless ctx is already done.
func (m *LogMailer) Send(ctx context.Context, email model.Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "email not sent, no smtp relay configured",
		"to", email.To,
		"subject", email.Subject,
		"text_bytes", len(email.Text),
	)
	return nil
}
