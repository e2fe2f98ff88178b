package service

import (
	"context"
	"sync"
	"time"
)

// RevocationIndex blacklists token ids until their natural expiry. Absence of
// an entry means not revoked.
type RevocationIndex interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type InMemoryRevocationIndex struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewInMemoryRevocationIndex() *InMemoryRevocationIndex {
	return &InMemoryRevocationIndex{entries: make(map[string]time.Time), now: time.Now}
}

func (r *InMemoryRevocationIndex) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	if jti == "" || ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for k, exp := range r.entries {
		if !now.Before(exp) {
			delete(r.entries, k)
		}
	}
	r.entries[jti] = now.Add(ttl)
	return nil
}

func (r *InMemoryRevocationIndex) IsRevoked(_ context.Context, jti string) (bool, error) {
	r.mu.RLock()
	exp, ok := r.entries[jti]
	r.mu.RUnlock()
	return ok && r.now().Before(exp), nil
}
