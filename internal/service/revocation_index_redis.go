package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisRevocationIndex struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRevocationIndex(client redis.UniversalClient, prefix string) *RedisRevocationIndex {
	return &RedisRevocationIndex{client: client, prefix: prefix}
}

func (r *RedisRevocationIndex) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" || ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.key(jti), "1", ttl).Err()
}

func (r *RedisRevocationIndex) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisRevocationIndex) key(jti string) string {
	return r.prefix + "revoked:" + jti
}
