package service

import (
	"context"
	"sync"
	"time"
)

// NegativeLookupCache remembers keys that recently resolved to nothing so
// repeated misses skip the durable store.
type NegativeLookupCache interface {
	Seen(ctx context.Context, namespace, key string) (bool, error)
	Remember(ctx context.Context, namespace, key string, ttl time.Duration) error
	Forget(ctx context.Context, namespace string) error
}

type InMemoryNegativeLookupCache struct {
	mu    sync.RWMutex
	store map[string]map[string]time.Time
}

func NewInMemoryNegativeLookupCache() *InMemoryNegativeLookupCache {
	return &InMemoryNegativeLookupCache{store: make(map[string]map[string]time.Time)}
}

func (c *InMemoryNegativeLookupCache) Seen(_ context.Context, namespace, key string) (bool, error) {
	c.mu.RLock()
	expiresAt, ok := c.store[namespace][key]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if time.Now().After(expiresAt) {
		c.mu.Lock()
		delete(c.store[namespace], key)
		c.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (c *InMemoryNegativeLookupCache) Remember(_ context.Context, namespace, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ns, ok := c.store[namespace]
	if !ok {
		ns = make(map[string]time.Time)
		c.store[namespace] = ns
	}
	ns[key] = time.Now().Add(ttl)
	return nil
}

func (c *InMemoryNegativeLookupCache) Forget(_ context.Context, namespace string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, namespace)
	return nil
}
