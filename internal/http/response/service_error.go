package response

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sandeepkv93/secure-auth-core/internal/service"
)

// ServiceError writes the envelope for an error returned by the service
// layer and reports the status it chose.
func ServiceError(w http.ResponseWriter, r *http.Request, err error) int {
	var forbidden *service.ForbiddenError
	var cooldown *service.CooldownError
	switch {
	case errors.As(err, &forbidden):
		Error(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient permissions", map[string]any{"missing": forbidden.Missing})
		return http.StatusForbidden
	case errors.As(err, &cooldown):
		w.Header().Set("Retry-After", retryAfterSeconds(cooldown.RetryAfter))
		Error(w, r, http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "too many attempts", nil)
		return http.StatusTooManyRequests
	}

	status, code, msg := classify(err)
	Error(w, r, status, code, msg, nil)
	return status
}

func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials"
	case errors.Is(err, service.ErrTokenExpired):
		return http.StatusUnauthorized, "TOKEN_EXPIRED", "token expired"
	case errors.Is(err, service.ErrTokenRevoked):
		return http.StatusUnauthorized, "TOKEN_REVOKED", "token revoked"
	case errors.Is(err, service.ErrPermissionsStale):
		return http.StatusUnauthorized, "PERMISSIONS_STALE", "permissions changed, sign in again"
	case errors.Is(err, service.ErrTokenInvalid):
		return http.StatusUnauthorized, "TOKEN_INVALID", "invalid token"
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized, "UNAUTHORIZED", "authentication required"
	case errors.Is(err, service.ErrAccountDisabled):
		return http.StatusForbidden, "ACCOUNT_DISABLED", "account disabled"
	case errors.Is(err, service.ErrEmailUnverified):
		return http.StatusForbidden, "EMAIL_UNVERIFIED", "email not verified"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "insufficient permissions"
	case errors.Is(err, service.ErrLastAdmin):
		return http.StatusConflict, "LAST_ADMIN", "the last active admin cannot be removed"
	case errors.Is(err, service.ErrSystemEntityImmutable):
		return http.StatusConflict, "SYSTEM_ENTITY_IMMUTABLE", "system entities cannot be modified"
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, "CONFLICT", "resource already exists"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "resource not found"
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, "BAD_REQUEST", err.Error()
	case errors.Is(err, service.ErrTooManyAttempts):
		return http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "too many attempts"
	case errors.Is(err, service.ErrDependencyUnavailable):
		return http.StatusServiceUnavailable, "DEPENDENCY_UNAVAILABLE", "a required dependency is unavailable"
	default:
		return http.StatusInternalServerError, "INTERNAL", "internal error"
	}
}

func retryAfterSeconds(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
