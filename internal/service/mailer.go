package service

import (
	"context"
	"log/slog"
)

// Mailer delivers account mail. The default implementation only logs;
// a real SMTP or provider-backed mailer slots in behind the same
// interface.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, token string) error
	SendEmailVerification(ctx context.Context, email, token string) error
}

type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendPasswordReset(ctx context.Context, email, token string) error {
	m.logger.InfoContext(ctx, "mail.password_reset", slog.String("email", email), slog.String("token", token))
	return nil
}

func (m *LogMailer) SendEmailVerification(ctx context.Context, email, token string) error {
	m.logger.InfoContext(ctx, "mail.email_verification", slog.String("email", email), slog.String("token", token))
	return nil
}
