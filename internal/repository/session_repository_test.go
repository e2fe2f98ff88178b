package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sandeepkv93/secure-auth-core/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestSessionRepositoryListActiveByUserID(t *testing.T) {
	repo := NewSessionRepository(newRepoDBForTest(t))
	ctx := context.Background()
	now := time.Now()

	revokedAt := now.UTC()
	fixtures := []*domain.Session{
		{UserID: 1, RefreshTokenHash: "h1", ExpiresAt: now.Add(2 * time.Hour)},
		{UserID: 1, RefreshTokenHash: "h2", ExpiresAt: now.Add(2 * time.Hour), IsRevoked: true, RevokedAt: &revokedAt},
		{UserID: 1, RefreshTokenHash: "h3", ExpiresAt: now.Add(-time.Hour)},
		{UserID: 2, RefreshTokenHash: "h4", ExpiresAt: now.Add(2 * time.Hour)},
	}
	for _, s := range fixtures {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("create %s: %v", s.RefreshTokenHash, err)
		}
	}

	sessions, err := repo.ListActiveByUserID(ctx, 1, now)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 active session, got %d", len(sessions))
	}
	if sessions[0].RefreshTokenHash != "h1" {
		t.Fatalf("unexpected active session: %+v", sessions[0])
	}
}

func TestSessionRepositoryCompareAndRotateSingleWinner(t *testing.T) {
	repo := NewSessionRepository(newRepoDBForTest(t))
	ctx := context.Background()

	s := &domain.Session{UserID: 7, RefreshTokenHash: "old", RefreshTokenID: "r1", ExpiresAt: time.Now().Add(time.Hour)}
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}

	next := SessionRotation{RefreshTokenHash: "new-a", RefreshTokenID: "r2", ExpiresAt: time.Now().Add(2 * time.Hour)}
	ok, err := repo.CompareAndRotate(ctx, s.ID, "old", next)
	if err != nil || !ok {
		t.Fatalf("first rotate: ok=%v err=%v", ok, err)
	}
	ok, err = repo.CompareAndRotate(ctx, s.ID, "old", SessionRotation{RefreshTokenHash: "new-b", ExpiresAt: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("second rotate: %v", err)
	}
	if ok {
		t.Fatal("expected stale hash to lose the swap")
	}

	got, err := repo.FindByHash(ctx, "new-a")
	if err != nil {
		t.Fatalf("find rotated: %v", err)
	}
	if got.ID != s.ID || got.RefreshTokenID != "r2" {
		t.Fatalf("expected row mutated in place, got %+v", got)
	}
	if _, err := repo.FindByHash(ctx, "old"); err != ErrSessionNotFound {
		t.Fatalf("expected old hash gone, got %v", err)
	}
}

func TestSessionRepositoryRevokeAndSweep(t *testing.T) {
	repo := NewSessionRepository(newRepoDBForTest(t))
	ctx := context.Background()
	now := time.Now()

	keep := &domain.Session{UserID: 1, RefreshTokenHash: "keep", ExpiresAt: now.Add(time.Hour)}
	other := &domain.Session{UserID: 1, RefreshTokenHash: "other", ExpiresAt: now.Add(time.Hour)}
	expired := &domain.Session{UserID: 1, RefreshTokenHash: "expired", ExpiresAt: now.Add(-time.Minute)}
	for _, s := range []*domain.Session{keep, other, expired} {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	rows, err := repo.ListNonRevokedByUserID(ctx, 1, keep.ID)
	if err != nil {
		t.Fatalf("list non revoked: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 sessions besides the kept one, got %d", len(rows))
	}

	n, err := repo.RevokeByIDs(ctx, []uint{other.ID}, "logout")
	if err != nil || n != 1 {
		t.Fatalf("revoke: n=%d err=%v", n, err)
	}
	n, err = repo.RevokeByIDs(ctx, []uint{other.ID}, "logout")
	if err != nil || n != 0 {
		t.Fatalf("second revoke must be a no-op: n=%d err=%v", n, err)
	}

	deleted, err := repo.DeleteStale(ctx, now, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("delete stale: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected only the expired row deleted, got %d", deleted)
	}

	deleted, err = repo.DeleteStale(ctx, now, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("delete stale with short retention: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected revoked row past retention deleted, got %d", deleted)
	}
	if _, err := repo.FindByIDForUser(ctx, 1, keep.ID); err != nil {
		t.Fatalf("kept session must survive: %v", err)
	}
	if _, err := repo.FindByIDForUser(ctx, 2, keep.ID); err != ErrSessionNotFound {
		t.Fatalf("expected not found for another user, got %v", err)
	}
}

func newRepoDBForTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(domain.Models()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestSessionRepositoryComparesTimesAcrossZones(t *testing.T) {
	repo := NewSessionRepository(newRepoDBForTest(t))
	ctx := context.Background()
	east := time.FixedZone("east", 5*3600)
	west := time.FixedZone("west", -8*3600)
	now := time.Now()

	live := &domain.Session{UserID: 3, RefreshTokenHash: "live", ExpiresAt: now.Add(30 * time.Minute).In(west)}
	expired := &domain.Session{UserID: 3, RefreshTokenHash: "gone", ExpiresAt: now.Add(-30 * time.Minute).In(east)}
	for _, s := range []*domain.Session{live, expired} {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("create %s: %v", s.RefreshTokenHash, err)
		}
	}

	sessions, err := repo.ListActiveByUserID(ctx, 3, now.In(east))
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != live.ID {
		t.Fatalf("expected only the live session, got %+v", sessions)
	}

	if _, err := repo.RevokeByIDs(ctx, []uint{live.ID}, "logout"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	deleted, err := repo.DeleteStale(ctx, now.In(west), now.Add(-time.Hour).In(east))
	if err != nil {
		t.Fatalf("delete stale: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected only the expired row deleted, got %d", deleted)
	}
	if _, err := repo.FindByID(ctx, live.ID); err != nil {
		t.Fatalf("recently revoked session must be retained: %v", err)
	}
}
