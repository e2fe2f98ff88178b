package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisPermissionSnapshotStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisPermissionSnapshotStore(client redis.UniversalClient, prefix string) *RedisPermissionSnapshotStore {
	return &RedisPermissionSnapshotStore{client: client, prefix: prefix}
}

func (s *RedisPermissionSnapshotStore) Get(ctx context.Context, userID uint) ([]string, bool, error) {
	key, err := s.dataKey(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var perms []string
	if err := json.Unmarshal(raw, &perms); err != nil {
		return nil, false, err
	}
	return perms, true, nil
}

func (s *RedisPermissionSnapshotStore) Set(ctx context.Context, userID uint, permissions []string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	key, err := s.dataKey(ctx, userID)
	if err != nil {
		return err
	}
	if permissions == nil {
		permissions = []string{}
	}
	payload, err := json.Marshal(permissions)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, payload, ttl).Err()
}

func (s *RedisPermissionSnapshotStore) InvalidateUsers(ctx context.Context, userIDs ...uint) error {
	if len(userIDs) == 0 {
		return nil
	}
	epoch, err := s.epoch(ctx)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, s.prefix+snapshotKey(epoch, id))
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisPermissionSnapshotStore) InvalidateAll(ctx context.Context) error {
	return s.client.Incr(ctx, s.epochKey()).Err()
}

func (s *RedisPermissionSnapshotStore) dataKey(ctx context.Context, userID uint) (string, error) {
	epoch, err := s.epoch(ctx)
	if err != nil {
		return "", err
	}
	return s.prefix + snapshotKey(epoch, userID), nil
}

func (s *RedisPermissionSnapshotStore) epoch(ctx context.Context) (uint64, error) {
	v, err := s.client.Get(ctx, s.epochKey()).Result()
	if errors.Is(err, redis.Nil) || v == "" {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(v, 10, 64)
}

func (s *RedisPermissionSnapshotStore) epochKey() string {
	return s.prefix + "permissions:epoch"
}
