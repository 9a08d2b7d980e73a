// Package cache keeps recently downloaded paper bytes so repeat downloads skip the remote fetch.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces asset entries in Redis.
const KeyPrefix = "pyq:asset:"

// AssetCache stores asset bytes by paper id.
type AssetCache interface {
	// Get returns the cached bytes and whether they were present.
	Get(ctx context.Context, id string) ([]byte, bool, error)
	Set(ctx context.Context, id string, data []byte) error
	Delete(ctx context.Context, id string) error
}

// RedisCache is an AssetCache backed by Redis with a fixed TTL per entry.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Dial connects to addr and pings it before returning.
func Dial(ctx context.Context, opts *redis.Options, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client, ttl), nil
}

func key(id string) string { return KeyPrefix + id }

func (c *RedisCache) Get(ctx context.Context, id string) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", id, err)
	}
	return b, true, nil
}

func (c *RedisCache) Set(ctx context.Context, id string, data []byte) error {
	if err := c.client.Set(ctx, key(id), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", id, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("cache delete %s: %w", id, err)
	}
	return nil
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Noop never stores anything. It is used when no Redis address is configured.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Noop) Set(context.Context, string, []byte) error         { return nil }
func (Noop) Delete(context.Context, string) error              { return nil }
