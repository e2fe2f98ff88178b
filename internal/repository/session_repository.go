package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/secure-auth-core/internal/domain"
	"github.com/sandeepkv93/secure-auth-core/internal/observability"

	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionRotation carries the fields replaced when a refresh token is rotated.
type SessionRotation struct {
	RefreshTokenHash string
	RefreshTokenID   string
	AccessTokenID    string
	AccessExpiresAt  time.Time
	ExpiresAt        time.Time
	UserAgent        string
	IP               string
}

type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	FindByID(ctx context.Context, id uint) (*domain.Session, error)
	FindByHash(ctx context.Context, hash string) (*domain.Session, error)
	FindByIDForUser(ctx context.Context, userID, sessionID uint) (*domain.Session, error)
	ListActiveByUserID(ctx context.Context, userID uint, now time.Time) ([]domain.Session, error)
	CompareAndRotate(ctx context.Context, id uint, oldHash string, next SessionRotation) (bool, error)
	RevokeByIDs(ctx context.Context, ids []uint, reason string) (int64, error)
	ListNonRevokedByUserID(ctx context.Context, userID, exceptSessionID uint) ([]domain.Session, error)
	DeleteStale(ctx context.Context, now, revokedBefore time.Time) (int64, error)
}

// GormSessionRepository stores and compares every timestamp in UTC. SQLite
// compares them as text, so rows written in mixed zones would misorder.
type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.AccessExpiresAt = s.AccessExpiresAt.UTC()
	err := r.db.WithContext(ctx).Create(s).Error
	observability.RecordRepositoryOperation(ctx, "session", "create", outcome(err, nil))
	return err
}

func (r *GormSessionRepository) FindByID(ctx context.Context, id uint) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).First(&s, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrSessionNotFound
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_by_id", outcome(err, ErrSessionNotFound))
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *GormSessionRepository) FindByHash(ctx context.Context, hash string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).Where("refresh_token_hash = ?", hash).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrSessionNotFound
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_by_hash", outcome(err, ErrSessionNotFound))
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *GormSessionRepository) FindByIDForUser(ctx context.Context, userID, sessionID uint) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, sessionID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrSessionNotFound
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_by_id_for_user", outcome(err, ErrSessionNotFound))
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListActiveByUserID returns the usable sessions of a user, oldest first.
func (r *GormSessionRepository) ListActiveByUserID(ctx context.Context, userID uint, now time.Time) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_revoked = ? AND expires_at > ?", userID, false, now.UTC()).
		Order("created_at ASC").
		Order("id ASC").
		Find(&sessions).Error
	observability.RecordRepositoryOperation(ctx, "session", "list_active_by_user_id", outcome(err, nil))
	return sessions, err
}

// CompareAndRotate swaps the refresh token of a live session only if the stored
// hash still equals oldHash. False means another caller rotated or revoked it.
func (r *GormSessionRepository) CompareAndRotate(ctx context.Context, id uint, oldHash string, next SessionRotation) (bool, error) {
	updates := map[string]any{
		"refresh_token_hash": next.RefreshTokenHash,
		"refresh_token_id":   next.RefreshTokenID,
		"access_token_id":    next.AccessTokenID,
		"access_expires_at":  next.AccessExpiresAt.UTC(),
		"expires_at":         next.ExpiresAt.UTC(),
	}
	if next.UserAgent != "" {
		updates["user_agent"] = next.UserAgent
	}
	if next.IP != "" {
		updates["ip"] = next.IP
	}
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ? AND refresh_token_hash = ? AND is_revoked = ?", id, oldHash, false).
		Updates(updates)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "compare_and_rotate", "error")
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "session", "compare_and_rotate", "not_found")
		return false, nil
	}
	observability.RecordRepositoryOperation(ctx, "session", "compare_and_rotate", "success")
	return true, nil
}

func (r *GormSessionRepository) RevokeByIDs(ctx context.Context, ids []uint, reason string) (int64, error) {
	if len(ids) == 0 {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_by_ids", "success")
		return 0, nil
	}
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id IN ? AND is_revoked = ?", ids, false).
		Updates(map[string]any{"is_revoked": true, "revoked_at": now, "revoked_reason": reason})
	observability.RecordRepositoryOperation(ctx, "session", "revoke_by_ids", outcome(res.Error, nil))
	return res.RowsAffected, res.Error
}

// ListNonRevokedByUserID includes expired rows so their cache entries can be
// cleared on revocation. exceptSessionID 0 keeps nothing.
func (r *GormSessionRepository) ListNonRevokedByUserID(ctx context.Context, userID, exceptSessionID uint) ([]domain.Session, error) {
	var sessions []domain.Session
	q := r.db.WithContext(ctx).Where("user_id = ? AND is_revoked = ?", userID, false)
	if exceptSessionID != 0 {
		q = q.Where("id <> ?", exceptSessionID)
	}
	err := q.Order("id ASC").Find(&sessions).Error
	observability.RecordRepositoryOperation(ctx, "session", "list_non_revoked_by_user_id", outcome(err, nil))
	return sessions, err
}

func (r *GormSessionRepository) DeleteStale(ctx context.Context, now, revokedBefore time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ? OR (is_revoked = ? AND revoked_at < ?)", now.UTC(), true, revokedBefore.UTC()).
		Delete(&domain.Session{})
	observability.RecordRepositoryOperation(ctx, "session", "delete_stale", outcome(res.Error, nil))
	return res.RowsAffected, res.Error
}
