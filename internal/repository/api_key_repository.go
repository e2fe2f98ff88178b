package repository

import (
	"context"
	"errors"

	"github.com/sandeepkv93/secure-auth-core/internal/domain"
	"github.com/sandeepkv93/secure-auth-core/internal/observability"

	"gorm.io/gorm"
)

var ErrAPIKeyNotFound = errors.New("api key not found")

type APIKeyRepository interface {
	FindActiveByHash(ctx context.Context, keyHash string) (*domain.ServiceAPIKey, error)
	Create(ctx context.Context, key *domain.ServiceAPIKey) error
}

type GormAPIKeyRepository struct{ db *gorm.DB }

func NewAPIKeyRepository(db *gorm.DB) APIKeyRepository { return &GormAPIKeyRepository{db: db} }

func (r *GormAPIKeyRepository) FindActiveByHash(ctx context.Context, keyHash string) (*domain.ServiceAPIKey, error) {
	var key domain.ServiceAPIKey
	err := r.db.WithContext(ctx).Where("key_hash = ? AND is_active = ?", keyHash, true).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrAPIKeyNotFound
	}
	observability.RecordRepositoryOperation(ctx, "api_key", "find_active_by_hash", outcome(err, ErrAPIKeyNotFound))
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *GormAPIKeyRepository) Create(ctx context.Context, key *domain.ServiceAPIKey) error {
	err := r.db.WithContext(ctx).Create(key).Error
	observability.RecordRepositoryOperation(ctx, "api_key", "create", outcome(err, nil))
	return err
}
