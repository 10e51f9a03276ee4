// Package faststore adapts Redis to the pipeline's fast-store port.
package faststore

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/filetools-bot/internal/domain"
)

// Redis implements domain.FastStore over a go-redis client.
type Redis struct {
	rdb *redis.Client
}

// New wraps an existing client.
func New(rdb *redis.Client) *Redis { return &Redis{rdb: rdb} }

// NewFromAddr dials addr (host:port) and wraps the client.
func NewFromAddr(addr string) *Redis {
	return &Redis{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

// Client exposes the underlying client for queue construction and
// readiness probes.
func (r *Redis) Client() *redis.Client { return r.rdb }

// Get returns the value at key; ok is false when the key is absent.
func (r *Redis) Get(ctx domain.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("op=faststore.get: %w", err)
	}
	return v, true, nil
}

// Set writes key with the given TTL.
func (r *Redis) Set(ctx domain.Context, key, value string, ttl time.Duration) error {
	if err := r.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("op=faststore.set: %w", err)
	}
	return nil
}

// DecrBy atomically decrements key and returns the new value. The
// key's TTL is untouched.
func (r *Redis) DecrBy(ctx domain.Context, key string, n int64) (int64, error) {
	v, err := r.rdb.DecrBy(ctx, key, n).Result()
	if err != nil {
		return 0, fmt.Errorf("op=faststore.decrby: %w", err)
	}
	return v, nil
}

// IncrBy atomically increments key and returns the new value.
func (r *Redis) IncrBy(ctx domain.Context, key string, n int64) (int64, error) {
	v, err := r.rdb.IncrBy(ctx, key, n).Result()
	if err != nil {
		return 0, fmt.Errorf("op=faststore.incrby: %w", err)
	}
	return v, nil
}

// Exists reports whether key is present.
func (r *Redis) Exists(ctx domain.Context, key string) (bool, error) {
	n, err := r.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("op=faststore.exists: %w", err)
	}
	return n > 0, nil
}

// Ping probes the connection (readiness).
func (r *Redis) Ping(ctx domain.Context) error {
	return r.rdb.Ping(ctx).Err()
}
