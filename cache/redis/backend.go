package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.pilab.hu/idp/cache"
	"go.pilab.hu/idp/domain"
)

// Backend implements cache.Backend on Redis.
type Backend struct {
	client redis.UniversalClient
	prefix string // Optional prefix for keys
}

var _ cache.Backend = (*Backend)(nil)

// NewBackend creates a new [Backend] instance.
func NewBackend(client redis.UniversalClient, prefix string) *Backend {
	return &Backend{
		client: client,
		prefix: prefix,
	}
}

func (b *Backend) redisKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return b.prefix + ":" + key
}

// Set stores value with SET EX.
func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := b.client.Set(ctx, b.redisKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key in Redis: %w", err)
	}
	return nil
}

// Get returns domain.ErrNotFound for missing keys.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, b.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get key from Redis: %w", err)
	}
	return data, nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, b.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete key from Redis: %w", err)
	}
	return nil
}

// Take uses GETDEL so concurrent callers cannot both read the value.
func (b *Backend) Take(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.GetDel(ctx, b.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to take key from Redis: %w", err)
	}
	return data, nil
}
