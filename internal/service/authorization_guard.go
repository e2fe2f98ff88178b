package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sandeepkv93/secure-auth-core/internal/observability"
	"github.com/sandeepkv93/secure-auth-core/internal/permission"
	"github.com/sandeepkv93/secure-auth-core/internal/repository"
	"github.com/sandeepkv93/secure-auth-core/internal/security"
)

// AuthorizationGuard turns a raw credential into a Principal and decides
// whether it holds every required permission code. It never mutates durable
// state.
type AuthorizationGuard struct {
	tokens      *TokenService
	users       CredentialStore
	permissions PermissionSource
	snapshots   PermissionSnapshotStore
	apiKeys     *APIKeyService
	snapshotTTL time.Duration
	logger      *slog.Logger
}

func NewAuthorizationGuard(tokens *TokenService, users CredentialStore, permissions PermissionSource, snapshots PermissionSnapshotStore, apiKeys *APIKeyService, snapshotTTL time.Duration, logger *slog.Logger) *AuthorizationGuard {
	if snapshots == nil {
		snapshots = NoopPermissionSnapshotStore{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthorizationGuard{
		tokens:      tokens,
		users:       users,
		permissions: permissions,
		snapshots:   snapshots,
		apiKeys:     apiKeys,
		snapshotTTL: snapshotTTL,
		logger:      logger,
	}
}

func (g *AuthorizationGuard) Authorize(ctx context.Context, creds Credentials, reqs []permission.Requirement) (*Principal, error) {
	ctx, span := observability.Tracer().Start(ctx, "authz.authorize")
	defer span.End()
	span.SetAttributes(attribute.String("authz.source", creds.Source.String()))

	principal, err := g.authenticate(ctx, creds)
	if err != nil {
		observability.RecordAccessTokenValidation(ctx, validationOutcome(err), creds.Source.String())
		observability.RecordAuthzDecision(ctx, "deny", denyReason(err))
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	observability.RecordAccessTokenValidation(ctx, "valid", creds.Source.String())
	if err := Decide(principal, reqs); err != nil {
		observability.RecordAuthzDecision(ctx, "deny", "missing_permissions")
		span.SetStatus(codes.Error, err.Error())
		return principal, err
	}
	observability.RecordAuthzDecision(ctx, "allow", "granted")
	return principal, nil
}

// Decide reports a *ForbiddenError naming every required code the principal
// lacks. An empty requirement list always allows.
func Decide(principal *Principal, reqs []permission.Requirement) error {
	required := permission.Codes(reqs)
	if len(required) == 0 {
		return nil
	}
	missing := permission.Missing(required, principal.Permissions)
	if len(missing) > 0 {
		return &ForbiddenError{Missing: missing}
	}
	return nil
}

func (g *AuthorizationGuard) authenticate(ctx context.Context, creds Credentials) (*Principal, error) {
	if creds.Token == "" {
		return nil, ErrUnauthenticated
	}
	switch creds.Source {
	case security.SourceAPIKey:
		if g.apiKeys == nil {
			return nil, ErrUnauthenticated
		}
		return g.apiKeys.Resolve(ctx, creds.Token)
	case security.SourceBearer:
		return g.authenticateBearer(ctx, creds.Token)
	default:
		return nil, ErrUnauthenticated
	}
}

func (g *AuthorizationGuard) authenticateBearer(ctx context.Context, raw string) (*Principal, error) {
	claims, err := g.tokens.VerifyAccess(ctx, raw)
	if err != nil {
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, ErrTokenInvalid
	}
	user, err := g.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, unavailable("user lookup", err)
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}
	fresh, err := g.permissions.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, unavailable("permission lookup", err)
	}

	baseline, cached, err := g.snapshots.Get(ctx, userID)
	switch {
	case err != nil:
		g.logger.WarnContext(ctx, "permission snapshot read failed", "user_id", userID, "error", err)
		observability.RecordCacheEvent(ctx, "permission_snapshot", "error")
		cached = false
	case cached:
		observability.RecordCacheEvent(ctx, "permission_snapshot", "hit")
	default:
		observability.RecordCacheEvent(ctx, "permission_snapshot", "miss")
	}
	if !cached {
		baseline = claims.Permissions
	}
	if !permission.Equal(fresh, baseline) {
		return nil, ErrPermissionsStale
	}
	if !cached {
		if err := g.snapshots.Set(ctx, userID, fresh, g.snapshotTTL); err != nil {
			g.logger.WarnContext(ctx, "permission snapshot write failed", "user_id", userID, "error", err)
		}
	}
	return &Principal{
		Kind:        PrincipalUser,
		UserID:      userID,
		Email:       user.Email,
		Roles:       user.RoleNames(),
		Permissions: fresh,
		TokenID:     claims.ID,
		ExpiresAt:   claims.ExpiresAtTime(),
	}, nil
}

func validationOutcome(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, ErrDependencyUnavailable):
		return "error"
	default:
		return "invalid"
	}
}

func denyReason(err error) string {
	switch {
	case errors.Is(err, ErrPermissionsStale):
		return "permissions_stale"
	case errors.Is(err, ErrAccountDisabled):
		return "account_disabled"
	case errors.Is(err, ErrTokenRevoked):
		return "token_revoked"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrDependencyUnavailable):
		return "dependency_unavailable"
	default:
		return "unauthenticated"
	}
}
