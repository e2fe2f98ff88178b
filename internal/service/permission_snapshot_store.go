package service

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PermissionSnapshotStore remembers the permission set a user was last issued
// tokens with. The guard compares it against freshly loaded permissions to
// detect out-of-band changes.
type PermissionSnapshotStore interface {
	Get(ctx context.Context, userID uint) ([]string, bool, error)
	Set(ctx context.Context, userID uint, permissions []string, ttl time.Duration) error
	InvalidateUsers(ctx context.Context, userIDs ...uint) error
	InvalidateAll(ctx context.Context) error
}

type NoopPermissionSnapshotStore struct{}

func (NoopPermissionSnapshotStore) Get(context.Context, uint) ([]string, bool, error) {
	return nil, false, nil
}

func (NoopPermissionSnapshotStore) Set(context.Context, uint, []string, time.Duration) error {
	return nil
}

func (NoopPermissionSnapshotStore) InvalidateUsers(context.Context, ...uint) error { return nil }

func (NoopPermissionSnapshotStore) InvalidateAll(context.Context) error { return nil }

type snapshotEntry struct {
	permissions []string
	expiresAt   time.Time
}

type InMemoryPermissionSnapshotStore struct {
	mu          sync.RWMutex
	data        map[string]snapshotEntry
	globalEpoch uint64
	now         func() time.Time
}

func NewInMemoryPermissionSnapshotStore() *InMemoryPermissionSnapshotStore {
	return &InMemoryPermissionSnapshotStore{data: make(map[string]snapshotEntry), now: time.Now}
}

func (s *InMemoryPermissionSnapshotStore) Get(_ context.Context, userID uint) ([]string, bool, error) {
	s.mu.RLock()
	key := snapshotKey(s.globalEpoch, userID)
	entry, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	now := s.now()
	if !now.After(entry.expiresAt) {
		return append([]string{}, entry.permissions...), true, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Set may have replaced the entry after the read lock was released.
	entry, ok = s.data[key]
	if !ok {
		return nil, false, nil
	}
	if now.After(entry.expiresAt) {
		delete(s.data, key)
		return nil, false, nil
	}
	return append([]string{}, entry.permissions...), true, nil
}

func (s *InMemoryPermissionSnapshotStore) Set(_ context.Context, userID uint, permissions []string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[snapshotKey(s.globalEpoch, userID)] = snapshotEntry{
		permissions: append([]string{}, permissions...),
		expiresAt:   s.now().Add(ttl),
	}
	return nil
}

func (s *InMemoryPermissionSnapshotStore) InvalidateUsers(_ context.Context, userIDs ...uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range userIDs {
		delete(s.data, snapshotKey(s.globalEpoch, id))
	}
	return nil
}

// InvalidateAll bumps the epoch so every existing key becomes unreachable.
func (s *InMemoryPermissionSnapshotStore) InvalidateAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalEpoch++
	s.data = make(map[string]snapshotEntry)
	return nil
}

func snapshotKey(globalEpoch uint64, userID uint) string {
	return fmt.Sprintf("permissions:g%d:%d", globalEpoch, userID)
}
