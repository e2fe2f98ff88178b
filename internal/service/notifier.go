package service

import (
	"context"
	"log/slog"
	"net/url"
)

// LogNotifier writes verification links to the log instead of delivering
// mail.
type LogNotifier struct {
	baseURL string
	logger  *slog.Logger
}

func NewLogNotifier(baseURL string, logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{baseURL: baseURL, logger: logger}
}

func (n *LogNotifier) SendVerification(ctx context.Context, email, token string) error {
	link := n.baseURL
	if u, err := url.Parse(n.baseURL); err == nil && n.baseURL != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
		link = u.String()
	}
	n.logger.InfoContext(ctx, "email verification issued", "email", email, "link", link)
	return nil
}
