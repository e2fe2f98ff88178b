package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sandeepkv93/secure-auth-core/internal/domain"
	"github.com/sandeepkv93/secure-auth-core/internal/permission"
	"github.com/sandeepkv93/secure-auth-core/internal/repository"
	"github.com/sandeepkv93/secure-auth-core/internal/security"
)

const apiKeyNegativeNamespace = "api_key"

// APIKeyService resolves X-API-Key credentials of calling services. Unknown
// key hashes are remembered briefly so a client hammering with a bad key does
// not reach the durable store on every request.
type APIKeyService struct {
	repo        repository.APIKeyRepository
	negative    NegativeLookupCache
	negativeTTL time.Duration
	logger      *slog.Logger
}

func NewAPIKeyService(repo repository.APIKeyRepository, negative NegativeLookupCache, negativeTTL time.Duration, logger *slog.Logger) *APIKeyService {
	if negative == nil {
		negative = NewInMemoryNegativeLookupCache()
	}
	if negativeTTL <= 0 {
		negativeTTL = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &APIKeyService{repo: repo, negative: negative, negativeTTL: negativeTTL, logger: logger}
}

func (s *APIKeyService) Resolve(ctx context.Context, rawKey string) (*Principal, error) {
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" {
		return nil, ErrTokenInvalid
	}
	hash := security.HashAPIKey(rawKey)
	if seen, err := s.negative.Seen(ctx, apiKeyNegativeNamespace, hash); err != nil {
		s.logger.WarnContext(ctx, "api key negative cache read failed", "error", err)
	} else if seen {
		return nil, ErrTokenInvalid
	}
	key, err := s.repo.FindActiveByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrAPIKeyNotFound) {
			if err := s.negative.Remember(ctx, apiKeyNegativeNamespace, hash, s.negativeTTL); err != nil {
				s.logger.WarnContext(ctx, "api key negative cache write failed", "error", err)
			}
			return nil, ErrTokenInvalid
		}
		return nil, unavailable("api key lookup", err)
	}
	return &Principal{
		Kind:        PrincipalService,
		ServiceID:   key.ServiceID,
		Permissions: permission.Normalize(key.Permissions),
	}, nil
}

// Register stores a new key for serviceID. Only the hash is persisted.
func (s *APIKeyService) Register(ctx context.Context, serviceID, rawKey string, codes []string) (*domain.ServiceAPIKey, error) {
	serviceID = strings.TrimSpace(serviceID)
	if serviceID == "" || strings.TrimSpace(rawKey) == "" {
		return nil, invalidInput("service id and key are required")
	}
	for _, code := range codes {
		if _, err := permission.ParseCode(code); err != nil {
			return nil, invalidInput("%v", err)
		}
	}
	key := &domain.ServiceAPIKey{
		ServiceID:   serviceID,
		KeyHash:     security.HashAPIKey(strings.TrimSpace(rawKey)),
		Permissions: permission.Normalize(codes),
		IsActive:    true,
	}
	if err := s.repo.Create(ctx, key); err != nil {
		return nil, mapRepoError(err)
	}
	if err := s.negative.Forget(ctx, apiKeyNegativeNamespace); err != nil {
		s.logger.WarnContext(ctx, "api key negative cache reset failed", "error", err)
	}
	return key, nil
}
