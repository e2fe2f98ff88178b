package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionScanBatch = 100

type RedisSessionCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisSessionCache(client redis.UniversalClient, prefix string) *RedisSessionCache {
	return &RedisSessionCache{client: client, prefix: prefix}
}

func (c *RedisSessionCache) Put(ctx context.Context, rec CachedSession, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	recordKey := c.recordKey(rec.UserID, rec.SessionID)
	prev, err := c.client.Get(ctx, recordKey).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if old, ok := decodeCachedSession(prev); ok && old.RefreshTokenHash != rec.RefreshTokenHash {
			pipe.Del(ctx, c.indexKey(old.RefreshTokenHash))
		}
		pipe.Set(ctx, recordKey, payload, ttl)
		pipe.Set(ctx, c.indexKey(rec.RefreshTokenHash), indexValue(rec.UserID, rec.SessionID), ttl)
		return nil
	})
	return err
}

func (c *RedisSessionCache) Lookup(ctx context.Context, hash string) (uint, uint, bool, error) {
	v, err := c.client.Get(ctx, c.indexKey(hash)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	userID, sessionID, err := parseIndexValue(v)
	if err != nil {
		return 0, 0, false, err
	}
	return userID, sessionID, true, nil
}

func (c *RedisSessionCache) Delete(ctx context.Context, userID, sessionID uint) error {
	recordKey := c.recordKey(userID, sessionID)
	prev, err := c.client.Get(ctx, recordKey).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	keys := []string{recordKey}
	if old, ok := decodeCachedSession(prev); ok {
		keys = append(keys, c.indexKey(old.RefreshTokenHash))
	}
	return c.client.Del(ctx, keys...).Err()
}

// DeleteUser removes every cached record in the user's namespace together with
// the index keys they point at.
func (c *RedisSessionCache) DeleteUser(ctx context.Context, userID uint) (int, error) {
	pattern := fmt.Sprintf("%ssession:%d:*", c.prefix, userID)
	var recordKeys []string
	iter := c.client.Scan(ctx, 0, pattern, sessionScanBatch).Iterator()
	for iter.Next(ctx) {
		recordKeys = append(recordKeys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	if len(recordKeys) == 0 {
		return 0, nil
	}
	values, err := c.client.MGet(ctx, recordKeys...).Result()
	if err != nil {
		return 0, err
	}
	keys := append([]string(nil), recordKeys...)
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if rec, ok := decodeCachedSession([]byte(s)); ok {
			keys = append(keys, c.indexKey(rec.RefreshTokenHash))
		}
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(recordKeys), nil
}

func (c *RedisSessionCache) recordKey(userID, sessionID uint) string {
	return fmt.Sprintf("%ssession:%d:%d", c.prefix, userID, sessionID)
}

func (c *RedisSessionCache) indexKey(hash string) string {
	return c.prefix + "session_token:" + hash
}

func indexValue(userID, sessionID uint) string {
	return fmt.Sprintf("%d:%d", userID, sessionID)
}

func parseIndexValue(v string) (uint, uint, error) {
	rawUser, rawSession, ok := strings.Cut(v, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed session index value %q", v)
	}
	userID, err := strconv.ParseUint(rawUser, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed session index user: %w", err)
	}
	sessionID, err := strconv.ParseUint(rawSession, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed session index session: %w", err)
	}
	return uint(userID), uint(sessionID), nil
}

func decodeCachedSession(raw []byte) (CachedSession, bool) {
	if len(raw) == 0 {
		return CachedSession{}, false
	}
	var rec CachedSession
	if err := json.Unmarshal(raw, &rec); err != nil || rec.RefreshTokenHash == "" {
		return CachedSession{}, false
	}
	return rec, true
}
