package service

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisNegativeLookupCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisNegativeLookupCache(client redis.UniversalClient, prefix string) *RedisNegativeLookupCache {
	return &RedisNegativeLookupCache{client: client, prefix: prefix}
}

func (c *RedisNegativeLookupCache) Seen(ctx context.Context, namespace, key string) (bool, error) {
	err := c.client.Get(ctx, c.dataKey(namespace, key)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Remember records the key and tracks it in a per-namespace set so Forget can
// drop the whole namespace without a scan.
func (c *RedisNegativeLookupCache) Remember(ctx context.Context, namespace, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	dataKey := c.dataKey(namespace, key)
	indexKey := c.indexKey(namespace)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, dataKey, "1", ttl)
		pipe.SAdd(ctx, indexKey, dataKey)
		pipe.Expire(ctx, indexKey, ttl+time.Minute)
		return nil
	})
	return err
}

func (c *RedisNegativeLookupCache) Forget(ctx context.Context, namespace string) error {
	indexKey := c.indexKey(namespace)
	keys, err := c.client.SMembers(ctx, indexKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, indexKey)
		return nil
	})
	return err
}

func (c *RedisNegativeLookupCache) dataKey(namespace, key string) string {
	return c.prefix + "negative:" + namespace + ":" + key
}

func (c *RedisNegativeLookupCache) indexKey(namespace string) string {
	return c.prefix + "negative_index:" + namespace
}
