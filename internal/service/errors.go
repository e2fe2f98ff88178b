package service

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")

	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrUnauthenticated)
	ErrTokenInvalid       = fmt.Errorf("%w: token invalid", ErrUnauthenticated)
	ErrTokenExpired       = fmt.Errorf("%w: token expired", ErrUnauthenticated)
	ErrTokenRevoked       = fmt.Errorf("%w: token revoked", ErrUnauthenticated)
	ErrPermissionsStale   = fmt.Errorf("%w: permissions changed, re-authentication required", ErrUnauthenticated)

	ErrAccountDisabled       = errors.New("account disabled")
	ErrEmailUnverified       = errors.New("email not verified")
	ErrForbidden             = errors.New("forbidden")
	ErrConflict              = errors.New("conflict")
	ErrNotFound              = errors.New("not found")
	ErrSystemEntityImmutable = errors.New("system entity is immutable")
	ErrInvalidInput          = errors.New("invalid input")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrTooManyAttempts       = errors.New("too many attempts")
	ErrLastAdmin             = errors.New("the last active admin cannot be removed")
)

// ForbiddenError names the permission codes the caller lacks.
type ForbiddenError struct {
	Missing []string
}

func (e *ForbiddenError) Error() string {
	return "missing required permissions: " + strings.Join(e.Missing, ", ")
}

func (e *ForbiddenError) Is(target error) bool { return target == ErrForbidden }

// CooldownError tells the caller how long to wait before retrying.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("too many attempts, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *CooldownError) Is(target error) bool { return target == ErrTooManyAttempts }

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrDependencyUnavailable, op, err)
}
