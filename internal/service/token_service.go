package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sandeepkv93/secure-auth-core/internal/domain"
	"github.com/sandeepkv93/secure-auth-core/internal/observability"
	"github.com/sandeepkv93/secure-auth-core/internal/security"
)

// TokenPair is the client-facing result of a login or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// UserLoader returns the current user and effective permissions for a refresh.
type UserLoader func(ctx context.Context, userID uint) (*domain.User, []string, error)

type TokenServiceConfig struct {
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	EmailVerificationTTL time.Duration
	SnapshotTTL          time.Duration
}

type TokenService struct {
	jwtMgr      *security.JWTManager
	sessions    *SessionRegistry
	revocations RevocationIndex
	snapshots   PermissionSnapshotStore
	cfg         TokenServiceConfig
	logger      *slog.Logger
}

func NewTokenService(jwtMgr *security.JWTManager, sessions *SessionRegistry, revocations RevocationIndex, snapshots PermissionSnapshotStore, cfg TokenServiceConfig, logger *slog.Logger) *TokenService {
	if logger == nil {
		logger = slog.Default()
	}
	if snapshots == nil {
		snapshots = NoopPermissionSnapshotStore{}
	}
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = cfg.RefreshTTL
	}
	return &TokenService{
		jwtMgr:      jwtMgr,
		sessions:    sessions,
		revocations: revocations,
		snapshots:   snapshots,
		cfg:         cfg,
		logger:      logger,
	}
}

// Issue mints a new token pair for user and opens a session for it.
func (s *TokenService) Issue(ctx context.Context, user *domain.User, permissions []string, meta ClientMeta) (*TokenPair, *domain.Session, error) {
	ctx, span := observability.Tracer().Start(ctx, "token.issue")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", int64(user.ID)))

	access, refresh, err := s.mint(user, permissions)
	if err != nil {
		return nil, nil, err
	}
	session, err := s.sessions.Create(ctx, NewSession{
		UserID:          user.ID,
		RefreshToken:    refresh.Raw,
		RefreshTokenID:  refresh.Claims.ID,
		AccessTokenID:   access.Claims.ID,
		AccessExpiresAt: access.Claims.ExpiresAtTime(),
		ExpiresAt:       refresh.Claims.ExpiresAtTime(),
		Client:          meta,
	})
	if err != nil {
		return nil, nil, err
	}
	s.rememberSnapshot(ctx, user.ID, permissions)
	return s.pair(access, refresh), session, nil
}

// VerifyAccess validates an access token and checks it against the revocation
// index. A revocation store failure is reported as ErrDependencyUnavailable.
func (s *TokenService) VerifyAccess(ctx context.Context, raw string) (*security.Claims, error) {
	claims, err := s.jwtMgr.ParseAccessToken(raw)
	if err != nil {
		return nil, mapTokenError(err)
	}
	revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, unavailable("revocation lookup", err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

func (s *TokenService) VerifyRefresh(raw string) (*security.Claims, error) {
	claims, err := s.jwtMgr.ParseRefreshToken(raw)
	if err != nil {
		return nil, mapTokenError(err)
	}
	return claims, nil
}

// Rotate exchanges a live refresh token for a brand new pair. Every rejection
// is reported as ErrTokenInvalid so callers cannot tell why a token failed.
func (s *TokenService) Rotate(ctx context.Context, refreshToken string, load UserLoader, meta ClientMeta) (*TokenPair, *domain.Session, error) {
	ctx, span := observability.Tracer().Start(ctx, "token.rotate")
	defer span.End()

	claims, err := s.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, nil, ErrTokenInvalid
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, nil, ErrTokenInvalid
	}
	session, ok := s.sessions.FindActiveByRefreshToken(ctx, refreshToken)
	if !ok || session.UserID != userID {
		return nil, nil, ErrTokenInvalid
	}
	user, permissions, err := load(ctx, userID)
	if err != nil {
		s.logger.WarnContext(ctx, "refresh user load failed", "user_id", userID, "error", err)
		return nil, nil, ErrTokenInvalid
	}
	if !user.IsActive {
		return nil, nil, ErrTokenInvalid
	}
	access, refresh, err := s.mint(user, permissions)
	if err != nil {
		return nil, nil, err
	}
	err = s.sessions.Rotate(ctx, session, RotatedToken{
		RefreshToken:    refresh.Raw,
		RefreshTokenID:  refresh.Claims.ID,
		AccessTokenID:   access.Claims.ID,
		AccessExpiresAt: access.Claims.ExpiresAtTime(),
		ExpiresAt:       refresh.Claims.ExpiresAtTime(),
		Client:          meta,
	})
	if err != nil {
		if !errors.Is(err, ErrTokenInvalid) {
			s.logger.WarnContext(ctx, "session rotation failed", "session_id", session.ID, "error", err)
		}
		return nil, nil, ErrTokenInvalid
	}
	s.rememberSnapshot(ctx, user.ID, permissions)
	return s.pair(access, refresh), session, nil
}

// RevokeAccess blacklists an access token id until the token's own expiry.
func (s *TokenService) RevokeAccess(ctx context.Context, jti string, expiresAt time.Time) error {
	return s.revocations.Revoke(ctx, jti, time.Until(expiresAt))
}

func (s *TokenService) IssueEmailVerification(user *domain.User) (string, error) {
	tok, err := s.jwtMgr.SignEmailVerificationToken(user.ID, user.Email, s.cfg.EmailVerificationTTL)
	if err != nil {
		return "", err
	}
	return tok.Raw, nil
}

func (s *TokenService) VerifyEmailToken(raw string) (uint, error) {
	claims, err := s.jwtMgr.ParseEmailVerificationToken(raw)
	if err != nil {
		return 0, mapTokenError(err)
	}
	userID, err := claims.UserID()
	if err != nil {
		return 0, ErrTokenInvalid
	}
	return userID, nil
}

func (s *TokenService) mint(user *domain.User, permissions []string) (security.SignedToken, security.SignedToken, error) {
	access, err := s.jwtMgr.SignAccessToken(user.ID, user.Email, user.RoleNames(), permissions, s.cfg.AccessTTL)
	if err != nil {
		return security.SignedToken{}, security.SignedToken{}, err
	}
	refresh, err := s.jwtMgr.SignRefreshToken(user.ID, s.cfg.RefreshTTL)
	if err != nil {
		return security.SignedToken{}, security.SignedToken{}, err
	}
	return access, refresh, nil
}

func (s *TokenService) pair(access, refresh security.SignedToken) *TokenPair {
	return &TokenPair{
		AccessToken:  access.Raw,
		RefreshToken: refresh.Raw,
		ExpiresIn:    int64(s.cfg.AccessTTL / time.Second),
		TokenType:    "Bearer",
	}
}

func (s *TokenService) rememberSnapshot(ctx context.Context, userID uint, permissions []string) {
	if err := s.snapshots.Set(ctx, userID, permissions, s.cfg.SnapshotTTL); err != nil {
		s.logger.WarnContext(ctx, "permission snapshot write failed", "user_id", userID, "error", err)
	}
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, security.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenInvalid
	}
}
