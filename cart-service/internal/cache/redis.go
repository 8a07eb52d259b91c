package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultSessionTTL = 7 * 24 * time.Hour

func NewRedisSessionStore(client *redis.Client, baseTTL time.Duration) *RedisSessionStore {
	if baseTTL <= 0 {
		baseTTL = DefaultSessionTTL
	}
	return &RedisSessionStore{
		client:  client,
		baseTTL: baseTTL,
	}
}

type RedisSessionStore struct {
	client  *redis.Client
	baseTTL time.Duration
}

func (r *RedisSessionStore) Get(ctx context.Context, sessionID string) (*SessionState, error) {
	data, err := r.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal session cart failed: %w", err)
	}
	return &state, nil
}

func (r *RedisSessionStore) Set(ctx context.Context, sessionID string, state *SessionState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session cart failed: %w", err)
	}

	jitter := time.Duration(rand.Intn(5)) * time.Minute
	if err := r.client.Set(ctx, sessionKey(sessionID), payload, r.baseTTL+jitter).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("cart:session:%s", sessionID)
}
