package cache

import (
	"context"
	"time"
)

// Backend is a byte-oriented TTL key/value store. Implementations return
// domain.ErrNotFound for missing or expired keys.
type Backend interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// Take returns the value and removes the key in one atomic step.
	Take(ctx context.Context, key string) ([]byte, error)
}
