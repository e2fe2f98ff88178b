package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type NoopEventPublisher struct{}

func (NoopEventPublisher) Publish(context.Context, string, any) error { return nil }

// RedisEventPublisher fans domain events out on Redis pub/sub channels named
// <prefix>events:<topic>.
type RedisEventPublisher struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisEventPublisher(client redis.UniversalClient, prefix string) *RedisEventPublisher {
	return &RedisEventPublisher{client: client, prefix: prefix}
}

func (p *RedisEventPublisher) Channel(topic string) string {
	return p.prefix + "events:" + topic
}

func (p *RedisEventPublisher) Publish(ctx context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}
	return p.client.Publish(ctx, p.Channel(topic), body).Err()
}
