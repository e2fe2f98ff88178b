package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisAuthAbuseGuard struct {
	client redis.UniversalClient
	prefix string
	policy AuthAbusePolicy
	now    func() time.Time
}

func NewRedisAuthAbuseGuard(client redis.UniversalClient, prefix string, policy AuthAbusePolicy) *RedisAuthAbuseGuard {
	return &RedisAuthAbuseGuard{
		client: client,
		prefix: prefix,
		policy: normalizeAuthAbusePolicy(policy),
		now:    time.Now,
	}
}

func (g *RedisAuthAbuseGuard) stateKey(scope AuthAbuseScope, kind, value string) string {
	return g.prefix + abuseKey(scope, kind, value)
}

func (g *RedisAuthAbuseGuard) keys(scope AuthAbuseScope, identity, ip string) []string {
	rel := abuseKeys(scope, identity, ip)
	out := make([]string, 0, len(rel))
	for _, k := range rel {
		out = append(out, g.prefix+k)
	}
	return out
}

func (g *RedisAuthAbuseGuard) Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	now := g.now()
	var longest time.Duration
	for _, key := range g.keys(scope, identity, ip) {
		raw, err := g.client.HGet(ctx, key, "cooldown_until_ms").Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return 0, err
		}
		untilMS, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed abuse state %s: %w", key, err)
		}
		if d := time.UnixMilli(untilMS).Sub(now); d > longest {
			longest = d
		}
	}
	return longest, nil
}

func (g *RedisAuthAbuseGuard) RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	now := g.now()
	var longest time.Duration
	for _, key := range g.keys(scope, identity, ip) {
		failures, err := g.client.HIncrBy(ctx, key, "failures", 1).Result()
		if err != nil {
			return 0, err
		}
		d := g.policy.cooldown(failures)
		_, err = g.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"last_failure_ms", now.UnixMilli(),
				"cooldown_until_ms", now.Add(d).UnixMilli(),
			)
			pipe.PExpire(ctx, key, g.policy.ResetWindow+d)
			return nil
		})
		if err != nil {
			return 0, err
		}
		if d > longest {
			longest = d
		}
	}
	return longest, nil
}

func (g *RedisAuthAbuseGuard) Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error {
	keys := g.keys(scope, identity, ip)
	if len(keys) == 0 {
		return nil
	}
	return g.client.Del(ctx, keys...).Err()
}
