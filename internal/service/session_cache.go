package service

import (
	"context"
	"sync"
	"time"
)

// CachedSession is the compact mirror of a session row kept in the volatile
// cache. The raw refresh token is never stored.
type CachedSession struct {
	SessionID        uint   `json:"session_id"`
	UserID           uint   `json:"user_id"`
	RefreshTokenHash string `json:"refresh_token_hash"`
	IP               string `json:"ip,omitempty"`
	UserAgent        string `json:"ua,omitempty"`
}

// SessionCache mirrors sessions under session:<user>:<session> and keeps a
// session_token:<hash> index so a refresh token resolves in one lookup.
type SessionCache interface {
	Put(ctx context.Context, rec CachedSession, ttl time.Duration) error
	Lookup(ctx context.Context, refreshTokenHash string) (userID, sessionID uint, ok bool, err error)
	Delete(ctx context.Context, userID, sessionID uint) error
	DeleteUser(ctx context.Context, userID uint) (int, error)
}

type sessionCacheEntry struct {
	rec       CachedSession
	expiresAt time.Time
}

type InMemorySessionCache struct {
	mu      sync.RWMutex
	records map[uint]map[uint]sessionCacheEntry
	index   map[string]sessionCacheEntry
	now     func() time.Time
}

func NewInMemorySessionCache() *InMemorySessionCache {
	return &InMemorySessionCache{
		records: make(map[uint]map[uint]sessionCacheEntry),
		index:   make(map[string]sessionCacheEntry),
		now:     time.Now,
	}
}

// Put also drops every expired entry, so the cache only holds live sessions
// plus whatever expired since the last write.
func (c *InMemorySessionCache) Put(_ context.Context, rec CachedSession, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	now := c.now()
	entry := sessionCacheEntry{rec: rec, expiresAt: now.Add(ttl)}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(now)
	userRecords, ok := c.records[rec.UserID]
	if !ok {
		userRecords = make(map[uint]sessionCacheEntry)
		c.records[rec.UserID] = userRecords
	}
	if prev, ok := userRecords[rec.SessionID]; ok {
		delete(c.index, prev.rec.RefreshTokenHash)
	}
	userRecords[rec.SessionID] = entry
	c.index[rec.RefreshTokenHash] = entry
	return nil
}

func (c *InMemorySessionCache) pruneLocked(now time.Time) {
	for hash, entry := range c.index {
		if !now.Before(entry.expiresAt) {
			delete(c.index, hash)
		}
	}
	for userID, userRecords := range c.records {
		for sessionID, entry := range userRecords {
			if !now.Before(entry.expiresAt) {
				delete(userRecords, sessionID)
			}
		}
		if len(userRecords) == 0 {
			delete(c.records, userID)
		}
	}
}

func (c *InMemorySessionCache) Lookup(_ context.Context, hash string) (uint, uint, bool, error) {
	c.mu.RLock()
	entry, ok := c.index[hash]
	c.mu.RUnlock()
	if !ok || !c.now().Before(entry.expiresAt) {
		return 0, 0, false, nil
	}
	return entry.rec.UserID, entry.rec.SessionID, true, nil
}

func (c *InMemorySessionCache) Delete(_ context.Context, userID, sessionID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.records[userID][sessionID]; ok {
		delete(c.index, entry.rec.RefreshTokenHash)
		delete(c.records[userID], sessionID)
	}
	return nil
}

func (c *InMemorySessionCache) DeleteUser(_ context.Context, userID uint) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	userRecords := c.records[userID]
	for _, entry := range userRecords {
		delete(c.index, entry.rec.RefreshTokenHash)
	}
	delete(c.records, userID)
	return len(userRecords), nil
}
