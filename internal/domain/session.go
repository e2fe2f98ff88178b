package domain

import (
	"strings"
	"time"
)

// Session is one refresh-token lineage. Rotation replaces the hash and token
// ids in place, so a device keeps a single row for its whole sign-in.
type Session struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	UserID           uint       `gorm:"index;not null" json:"user_id"`
	RefreshTokenHash string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	RefreshTokenID   string     `gorm:"size:64;index" json:"-"`
	AccessTokenID    string     `gorm:"size:64;index" json:"-"`
	AccessExpiresAt  time.Time  `json:"-"`
	UserAgent        string     `gorm:"size:512" json:"user_agent"`
	IP               string     `gorm:"size:64" json:"ip"`
	IsRevoked        bool       `gorm:"index;not null" json:"is_revoked"`
	RevokedAt        *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	RevokedReason    *string    `gorm:"size:64" json:"revoked_reason,omitempty"`
	ExpiresAt        time.Time  `gorm:"index;not null" json:"expires_at"`
	CreatedAt        time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type SessionStatus string

const (
	SessionStatusActive  SessionStatus = "active"
	SessionStatusRevoked SessionStatus = "revoked"
	SessionStatusExpired SessionStatus = "expired"
)

// Active reports whether the session can still be used to mint tokens at now.
func (s *Session) Active(now time.Time) bool {
	return s.Status(now) == SessionStatusActive
}

// Status prefers revoked over expired.
func (s *Session) Status(now time.Time) SessionStatus {
	switch {
	case s == nil || s.IsRevoked:
		return SessionStatusRevoked
	case !s.ExpiresAt.After(now):
		return SessionStatusExpired
	default:
		return SessionStatusActive
	}
}

var deviceHints = []struct{ needle, label string }{
	{"iphone", "iPhone"},
	{"ipad", "iPad"},
	{"android", "Android"},
	{"windows", "Windows"},
	{"mac os", "macOS"},
	{"linux", "Linux"},
	{"curl/", "curl"},
	{"go-http-client", "Go client"},
}

// Device is a coarse label for the user agent, good enough for a session list.
func (s *Session) Device() string {
	ua := strings.ToLower(s.UserAgent)
	if ua == "" {
		return "unknown"
	}
	for _, h := range deviceHints {
		if strings.Contains(ua, h.needle) {
			return h.label
		}
	}
	return "other"
}
