package identity

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
)

// Mailer delivers password reset links.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, link string) error
}

// LogMailer writes reset links to the log instead of sending mail.
type LogMailer struct {
	Logger *slog.Logger
}

// SendPasswordReset logs the reset link.
func (m LogMailer) SendPasswordReset(_ context.Context, email, link string) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("password reset requested", "email", email, "link", link)
	return nil
}

func resetLink(base, token string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return token
	}
	u, err := url.Parse(base)
	if err != nil {
		return base + "?token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
