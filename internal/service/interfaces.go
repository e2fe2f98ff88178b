package service

import (
	"context"
	"time"

	"github.com/sandeepkv93/secure-auth-core/internal/domain"
	"github.com/sandeepkv93/secure-auth-core/internal/security"
)

// CredentialStore is the slice of user storage the auth flows depend on.
type CredentialStore interface {
	FindByID(ctx context.Context, id uint) (*domain.User, error)
	FindByEmail(ctx context.Context, email string, includeSecret bool) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) error
	IncrementFailedAttempts(ctx context.Context, id uint) error
	SetVerified(ctx context.Context, id uint) error
	SetLastLogin(ctx context.Context, id uint, at time.Time) error
}

type Notifier interface {
	SendVerification(ctx context.Context, email, token string) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// PermissionSource resolves the current effective permission codes of a user.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, userID uint) ([]string, error)
}

type PrincipalKind string

const (
	PrincipalUser    PrincipalKind = "user"
	PrincipalService PrincipalKind = "service"
)

// Principal is the authenticated caller produced by the guard.
type Principal struct {
	Kind        PrincipalKind `json:"kind"`
	UserID      uint          `json:"user_id,omitempty"`
	Email       string        `json:"email,omitempty"`
	ServiceID   string        `json:"service_id,omitempty"`
	Roles       []string      `json:"roles,omitempty"`
	Permissions []string      `json:"permissions"`
	TokenID     string        `json:"-"`
	ExpiresAt   time.Time     `json:"-"`
}

// Credentials is a raw credential and where it was read from.
type Credentials struct {
	Source security.TokenSource
	Token  string
}

// ClientMeta describes the client a session is created for.
type ClientMeta struct {
	IP        string
	UserAgent string
}
