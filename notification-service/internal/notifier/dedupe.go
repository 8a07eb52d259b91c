package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultDedupeTTL = 7 * 24 * time.Hour
	dedupeKeyPrefix  = "notification:sent:"
)

// Deduper remembers which orders already had a confirmation sent so a
// redelivered event does not email the buyer twice.
type Deduper interface {
	Claim(ctx context.Context, correlationID string) (bool, error)
	Release(ctx context.Context, correlationID string) error
}

type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

// Claim returns false when another delivery already claimed the order.
func (d *RedisDeduper) Claim(ctx context.Context, correlationID string) (bool, error) {
	ok, err := d.client.SetNX(ctx, dedupeKeyPrefix+correlationID, time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (d *RedisDeduper) Release(ctx context.Context, correlationID string) error {
	if err := d.client.Del(ctx, dedupeKeyPrefix+correlationID).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

type noopDeduper struct{}

func (noopDeduper) Claim(context.Context, string) (bool, error) { return true, nil }
func (noopDeduper) Release(context.Context, string) error       { return nil }
