package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.pilab.hu/idp/domain"
)

// MemoryBackend implements Backend using ttlcache. It is meant for single
// instance deployments and tests.
type MemoryBackend struct {
	cache *ttlcache.Cache[string, []byte]
}

// NewMemoryBackend creates an in-memory backend and starts its expiry loop.
func NewMemoryBackend() *MemoryBackend {
	c := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)

	go c.Start()

	return &MemoryBackend{cache: c}
}

// Set implements Backend.Set.
func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.cache.Set(key, value, ttl)
	return nil
}

// Get implements Backend.Get.
func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	item := b.cache.Get(key)
	if item == nil {
		return nil, domain.ErrNotFound
	}
	return item.Value(), nil
}

// Delete implements Backend.Delete.
func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.cache.Delete(key)
	return nil
}

// Take implements Backend.Take.
func (b *MemoryBackend) Take(_ context.Context, key string) ([]byte, error) {
	item, ok := b.cache.GetAndDelete(key)
	if !ok || item == nil || item.IsExpired() {
		return nil, domain.ErrNotFound
	}
	return item.Value(), nil
}

// Len returns the number of live entries.
func (b *MemoryBackend) Len() int {
	return b.cache.Len()
}

// Close stops the expiry goroutine.
func (b *MemoryBackend) Close() error {
	b.cache.Stop()
	return nil
}
