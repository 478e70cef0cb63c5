package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCheckpointer persists session snapshots in Redis so several
// processes can share short-lived conversational state. Keys are
// namespaced "{prefix}:state:{session_key}". A non-zero TTL makes
// inactivity expiry Redis's problem.
type RedisCheckpointer struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisCheckpointerConfig configures the checkpointer.
type RedisCheckpointerConfig struct {
	Prefix string        // key prefix, default "talefold"
	TTL    time.Duration // 0 = snapshots never expire
}

// NewRedisCheckpointer wraps an existing go-redis client.
func NewRedisCheckpointer(client *redis.Client, cfg RedisCheckpointerConfig) *RedisCheckpointer {
	if cfg.Prefix == "" {
		cfg.Prefix = "talefold"
	}
	return &RedisCheckpointer{
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
	}
}

func (r *RedisCheckpointer) key(sessionKey string) string {
	return fmt.Sprintf("%s:state:%s", r.prefix, sessionKey)
}

// SaveState writes a snapshot, refreshing the TTL.
func (r *RedisCheckpointer) SaveState(ctx context.Context, sessionKey string, data []byte) error {
	if err := r.client.Set(ctx, r.key(sessionKey), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis save %s: %w", sessionKey, err)
	}
	return nil
}

// LoadState returns a snapshot, or nil if the key is absent or expired.
func (r *RedisCheckpointer) LoadState(ctx context.Context, sessionKey string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(sessionKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis load %s: %w", sessionKey, err)
	}
	return data, nil
}

// DeleteState removes a snapshot. Missing keys are a no-op.
func (r *RedisCheckpointer) DeleteState(ctx context.Context, sessionKey string) error {
	if err := r.client.Del(ctx, r.key(sessionKey)).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", sessionKey, err)
	}
	return nil
}

// Close releases the underlying client.
func (r *RedisCheckpointer) Close() error {
	return r.client.Close()
}
