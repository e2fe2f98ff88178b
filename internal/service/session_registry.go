package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sandeepkv93/secure-auth-core/internal/domain"
	"github.com/sandeepkv93/secure-auth-core/internal/observability"
	"github.com/sandeepkv93/secure-auth-core/internal/repository"
	"github.com/sandeepkv93/secure-auth-core/internal/security"
)

const (
	RevokeReasonLogout       = "logout"
	RevokeReasonLogoutAll    = "logout_all"
	RevokeReasonSessionLimit = "session_limit"
	RevokeReasonUser         = "user_session_revoked"
	RevokeReasonUserOthers   = "user_revoke_others"
	RevokeReasonUserDisabled = "user_disabled"
	RevokeReasonUserDeleted  = "user_deleted"
)

type SessionRegistryConfig struct {
	Pepper           string
	RefreshTTL       time.Duration
	RevokedRetention time.Duration
	StoreTimeout     time.Duration
}

// NewSession describes a freshly issued token pair to persist.
type NewSession struct {
	UserID          uint
	RefreshToken    string
	RefreshTokenID  string
	AccessTokenID   string
	AccessExpiresAt time.Time
	ExpiresAt       time.Time
	Client          ClientMeta
}

// SessionRegistry writes every change to the durable store before mirroring it
// into the cache. The durable row is the only authority for revocation and
// expiry.
type SessionRegistry struct {
	repo        repository.SessionRepository
	cache       SessionCache
	revocations RevocationIndex
	cfg         SessionRegistryConfig
	logger      *slog.Logger
	now         func() time.Time
}

func NewSessionRegistry(repo repository.SessionRepository, cache SessionCache, revocations RevocationIndex, cfg SessionRegistryConfig, logger *slog.Logger) *SessionRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 3 * time.Second
	}
	return &SessionRegistry{
		repo:        repo,
		cache:       cache,
		revocations: revocations,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

func (r *SessionRegistry) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.cfg.StoreTimeout)
}

func (r *SessionRegistry) HashRefreshToken(raw string) string {
	return security.HashRefreshToken(raw, r.cfg.Pepper)
}

func (r *SessionRegistry) Create(ctx context.Context, ns NewSession) (*domain.Session, error) {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	s := &domain.Session{
		UserID:           ns.UserID,
		RefreshTokenHash: r.HashRefreshToken(ns.RefreshToken),
		RefreshTokenID:   ns.RefreshTokenID,
		AccessTokenID:    ns.AccessTokenID,
		AccessExpiresAt:  ns.AccessExpiresAt,
		UserAgent:        truncate(ns.Client.UserAgent, 512),
		IP:               ns.Client.IP,
		ExpiresAt:        ns.ExpiresAt,
	}
	if err := r.repo.Create(ctx, s); err != nil {
		return nil, err
	}
	r.mirror(ctx, s)
	observability.RecordSessionEvent(ctx, "created", 1)
	return s, nil
}

// FindActiveByRefreshToken returns the live session owning raw, or false. Store
// errors and timeouts are logged and reported as not found.
func (r *SessionRegistry) FindActiveByRefreshToken(ctx context.Context, raw string) (*domain.Session, bool) {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	hash := r.HashRefreshToken(raw)
	var s *domain.Session
	_, sessionID, hit, err := r.cache.Lookup(ctx, hash)
	if err != nil {
		r.logger.WarnContext(ctx, "session cache lookup failed", "error", err)
		observability.RecordCacheEvent(ctx, "session", "error")
	}
	if hit {
		observability.RecordCacheEvent(ctx, "session", "hit")
		s, err = r.repo.FindByID(ctx, sessionID)
	} else {
		observability.RecordCacheEvent(ctx, "session", "miss")
		s, err = r.repo.FindByHash(ctx, hash)
	}
	if err != nil {
		if !errors.Is(err, repository.ErrSessionNotFound) {
			r.logger.WarnContext(ctx, "session lookup failed, treating as not found", "error", err)
		}
		return nil, false
	}
	if s.RefreshTokenHash != hash || !s.Active(r.now()) {
		return nil, false
	}
	if !hit {
		r.mirror(ctx, s)
	}
	return s, true
}

// RotatedToken carries the replacement token pair for an existing session.
type RotatedToken struct {
	RefreshToken    string
	RefreshTokenID  string
	AccessTokenID   string
	AccessExpiresAt time.Time
	ExpiresAt       time.Time
	Client          ClientMeta
}

// Rotate swaps the session's refresh token in place. It fails with
// ErrTokenInvalid when s was rotated or revoked concurrently.
func (r *SessionRegistry) Rotate(ctx context.Context, s *domain.Session, next RotatedToken) error {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	newHash := r.HashRefreshToken(next.RefreshToken)
	ok, err := r.repo.CompareAndRotate(ctx, s.ID, s.RefreshTokenHash, repository.SessionRotation{
		RefreshTokenHash: newHash,
		RefreshTokenID:   next.RefreshTokenID,
		AccessTokenID:    next.AccessTokenID,
		AccessExpiresAt:  next.AccessExpiresAt,
		ExpiresAt:        next.ExpiresAt,
		UserAgent:        truncate(next.Client.UserAgent, 512),
		IP:               next.Client.IP,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrTokenInvalid
	}
	previousAccessID, previousAccessExp := s.AccessTokenID, s.AccessExpiresAt
	s.RefreshTokenHash = newHash
	s.RefreshTokenID = next.RefreshTokenID
	s.AccessTokenID = next.AccessTokenID
	s.AccessExpiresAt = next.AccessExpiresAt
	s.ExpiresAt = next.ExpiresAt
	r.mirror(ctx, s)
	r.blacklistAccess(ctx, previousAccessID, previousAccessExp)
	observability.RecordSessionEvent(ctx, "rotated", 1)
	return nil
}

func (r *SessionRegistry) Revoke(ctx context.Context, sessionID uint, reason string) error {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	s, err := r.repo.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return ErrNotFound
		}
		return err
	}
	return r.revokeSessions(ctx, []domain.Session{*s}, reason)
}

// RevokeForUser revokes one session after checking it belongs to userID.
func (r *SessionRegistry) RevokeForUser(ctx context.Context, userID, sessionID uint, reason string) error {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	s, err := r.repo.FindByIDForUser(ctx, userID, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return ErrNotFound
		}
		return err
	}
	return r.revokeSessions(ctx, []domain.Session{*s}, reason)
}

// RevokeAllForUser revokes every session of the user except exceptSessionID
// (0 keeps none) and clears the user's cache namespace.
func (r *SessionRegistry) RevokeAllForUser(ctx context.Context, userID, exceptSessionID uint, reason string) (int, error) {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	sessions, err := r.repo.ListNonRevokedByUserID(ctx, userID, exceptSessionID)
	if err != nil {
		return 0, err
	}
	if err := r.revokeSessions(ctx, sessions, reason); err != nil {
		return 0, err
	}
	if exceptSessionID == 0 {
		if _, err := r.cache.DeleteUser(ctx, userID); err != nil {
			r.logger.WarnContext(ctx, "session cache namespace delete failed", "user_id", userID, "error", err)
		}
	}
	return len(sessions), nil
}

// EnforceLimit makes room for one more session: when the user already holds
// max or more live sessions, the oldest count-max+1 are revoked.
func (r *SessionRegistry) EnforceLimit(ctx context.Context, userID uint, max int) (int, error) {
	if max < 1 {
		return 0, nil
	}
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	sessions, err := r.repo.ListActiveByUserID(ctx, userID, r.now())
	if err != nil {
		return 0, err
	}
	if len(sessions) < max {
		return 0, nil
	}
	evict := sessions[:len(sessions)-max+1]
	if err := r.revokeSessions(ctx, evict, RevokeReasonSessionLimit); err != nil {
		return 0, err
	}
	observability.RecordSessionEvent(ctx, "evicted", int64(len(evict)))
	r.logger.InfoContext(ctx, "session limit enforced", "user_id", userID, "evicted", len(evict), "max", max)
	return len(evict), nil
}

// SweepExpired deletes expired rows and rows revoked longer than the retention
// window.
func (r *SessionRegistry) SweepExpired(ctx context.Context) (int64, error) {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	now := r.now()
	n, err := r.repo.DeleteStale(ctx, now, now.Add(-r.cfg.RevokedRetention))
	if err != nil {
		return 0, err
	}
	observability.RecordSessionEvent(ctx, "swept", n)
	return n, nil
}

func (r *SessionRegistry) ListActive(ctx context.Context, userID uint) ([]domain.Session, error) {
	ctx, cancel := r.bounded(ctx)
	defer cancel()
	return r.repo.ListActiveByUserID(ctx, userID, r.now())
}

func (r *SessionRegistry) revokeSessions(ctx context.Context, sessions []domain.Session, reason string) error {
	if len(sessions) == 0 {
		return nil
	}
	ids := make([]uint, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	if _, err := r.repo.RevokeByIDs(ctx, ids, reason); err != nil {
		return err
	}
	for _, s := range sessions {
		if err := r.cache.Delete(ctx, s.UserID, s.ID); err != nil {
			r.logger.WarnContext(ctx, "session cache delete failed", "session_id", s.ID, "error", err)
		}
		r.blacklistAccess(ctx, s.AccessTokenID, s.AccessExpiresAt)
	}
	observability.RecordSessionEvent(ctx, "revoked", int64(len(sessions)))
	return nil
}

func (r *SessionRegistry) blacklistAccess(ctx context.Context, jti string, expiresAt time.Time) {
	if jti == "" {
		return
	}
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return
	}
	if err := r.revocations.Revoke(ctx, jti, ttl); err != nil {
		r.logger.WarnContext(ctx, "access token blacklist failed", "jti", jti, "error", err)
	}
}

func (r *SessionRegistry) mirror(ctx context.Context, s *domain.Session) {
	ttl := s.ExpiresAt.Sub(r.now())
	if r.cfg.RefreshTTL > 0 && ttl > r.cfg.RefreshTTL {
		ttl = r.cfg.RefreshTTL
	}
	err := r.cache.Put(ctx, CachedSession{
		SessionID:        s.ID,
		UserID:           s.UserID,
		RefreshTokenHash: s.RefreshTokenHash,
		IP:               s.IP,
		UserAgent:        s.UserAgent,
	}, ttl)
	if err != nil {
		r.logger.WarnContext(ctx, "session cache write failed", "session_id", s.ID, "error", err)
		observability.RecordCacheEvent(ctx, "session", "error")
	}
}

func truncate(v string, n int) string {
	if len(v) <= n {
		return v
	}
	return v[:n]
}
