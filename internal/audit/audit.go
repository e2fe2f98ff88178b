// Package audit dispatches security events to a sink without blocking the
// request path.
package audit

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventUserRegistered EventType = "USER_REGISTERED"
	EventUserLogin      EventType = "USER_LOGIN"
	EventLoginFailed    EventType = "USER_LOGIN_FAILED"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
	EventLogout         EventType = "LOGOUT"
	EventLogoutAll      EventType = "LOGOUT_ALL"
	EventEmailVerified  EventType = "EMAIL_VERIFIED"
	EventSessionEvicted EventType = "SESSION_EVICTED"
)

type Event struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"event_type"`
	UserID    uint              `json:"user_id,omitempty"`
	SessionID uint              `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Success   bool              `json:"success"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type Sink interface {
	Emit(ctx context.Context, event Event)
}

type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// SlogSink writes each event as one structured log record.
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Emit(ctx context.Context, event Event) {
	attrs := []any{
		"audit_id", event.ID,
		"event", string(event.Type),
		"user_id", event.UserID,
		"success", event.Success,
		"at", event.Timestamp,
	}
	if event.SessionID != 0 {
		attrs = append(attrs, "session_id", event.SessionID)
	}
	if event.IP != "" {
		attrs = append(attrs, "ip", event.IP)
	}
	if event.UserAgent != "" {
		attrs = append(attrs, "user_agent", event.UserAgent)
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, "meta_"+k, v)
	}
	s.logger.InfoContext(ctx, "audit", attrs...)
}
