package service

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func TestInMemorySessionCachePrunesExpiredOnPut(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemorySessionCache()
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return clock }

	if err := cache.Put(ctx, CachedSession{SessionID: 1, UserID: 10, RefreshTokenHash: "short"}, time.Minute); err != nil {
		t.Fatalf("put short: %v", err)
	}
	if err := cache.Put(ctx, CachedSession{SessionID: 2, UserID: 20, RefreshTokenHash: "long"}, time.Hour); err != nil {
		t.Fatalf("put long: %v", err)
	}

	clock = clock.Add(2 * time.Minute)
	if err := cache.Put(ctx, CachedSession{SessionID: 3, UserID: 20, RefreshTokenHash: "fresh"}, time.Hour); err != nil {
		t.Fatalf("put fresh: %v", err)
	}

	if _, ok := cache.index["short"]; ok {
		t.Fatal("expired index entry must be pruned")
	}
	if _, ok := cache.records[10]; ok {
		t.Fatal("user with only expired sessions must be pruned")
	}
	if len(cache.index) != 2 || len(cache.records[20]) != 2 {
		t.Fatalf("live entries must survive, index=%d records=%d", len(cache.index), len(cache.records[20]))
	}
	if userID, sessionID, ok, _ := cache.Lookup(ctx, "long"); !ok || userID != 20 || sessionID != 2 {
		t.Fatalf("live lookup failed: user=%d session=%d ok=%v", userID, sessionID, ok)
	}
}

func TestInMemorySnapshotGetKeepsEntryRefreshedDuringExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryPermissionSnapshotStore()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	if err := store.Set(ctx, 5, []string{"users:read"}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	// The first clock read inside Get finds the entry expired; a Set lands
	// before Get takes the write lock.
	later := base.Add(2 * time.Minute)
	refreshed := false
	store.now = func() time.Time {
		if !refreshed {
			refreshed = true
			if err := store.Set(ctx, 5, []string{"users:read", "users:update"}, time.Hour); err != nil {
				t.Errorf("concurrent set: %v", err)
			}
		}
		return later
	}

	got, ok, err := store.Get(ctx, 5)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := []string{"users:read", "users:update"}
	if !ok || !reflect.DeepEqual(got, want) {
		t.Fatalf("expected refreshed snapshot %v, got %v ok=%v", want, got, ok)
	}
	if got, ok, _ := store.Get(ctx, 5); !ok || !reflect.DeepEqual(got, want) {
		t.Fatalf("refreshed snapshot must not be deleted, got %v ok=%v", got, ok)
	}

	store.now = func() time.Time { return later.Add(2 * time.Hour) }
	if _, ok, _ := store.Get(ctx, 5); ok {
		t.Fatal("expired snapshot must miss")
	}
	if len(store.data) != 0 {
		t.Fatalf("expired snapshot must be removed, %d left", len(store.data))
	}
}
