package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sandeepkv93/secure-auth-core/internal/http/response"
	"github.com/sandeepkv93/secure-auth-core/internal/permission"
	"github.com/sandeepkv93/secure-auth-core/internal/security"
	"github.com/sandeepkv93/secure-auth-core/internal/service"
)

type contextKey string

const (
	PrincipalContextKey contextKey = "principal"
)

// Authorizer is satisfied by *service.AuthorizationGuard.
type Authorizer interface {
	Authorize(ctx context.Context, creds service.Credentials, reqs []permission.Requirement) (*service.Principal, error)
}

// Authorize guards op: the credential named by op.Auth is read from the
// request, checked against op.Requirements and the resulting principal is
// stored in the request context. Operations with AuthNone pass through.
func Authorize(guard Authorizer, op permission.Operation) func(http.Handler) http.Handler {
	source := security.SourceBearer
	if op.Auth == permission.AuthService {
		source = security.SourceAPIKey
	}
	return func(next http.Handler) http.Handler {
		if op.Auth == permission.AuthNone {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds := service.Credentials{Source: source, Token: security.ExtractToken(r, source)}
			principal, err := guard.Authorize(r.Context(), creds, op.Requirements)
			if err != nil {
				if errors.Is(err, service.ErrDependencyUnavailable) {
					slog.WarnContext(r.Context(), "authorization dependency unavailable", "operation", op.Name, "error", err.Error())
				}
				response.ServiceError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func WithPrincipal(ctx context.Context, principal *service.Principal) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, principal)
}

func PrincipalFromContext(ctx context.Context) (*service.Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(*service.Principal)
	return p, ok && p != nil
}
