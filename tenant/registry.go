// Package tenant builds the per-request tenant snapshots consumed by the flows.
package tenant

import (
	"context"
	"crypto/rsa"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"go.pilab.hu/idp/config"
	"go.pilab.hu/idp/domain"
	"go.pilab.hu/idp/internal/crypto"
	"go.pilab.hu/idp/log"
)

// Registry serves tenant snapshots from configuration. Snapshots are cached
// for the configured TTL; Invalidate forces the next Get to rebuild one,
// re-reading the signing key file.
type Registry struct {
	configs map[string]config.TenantConfig
	cache   *ttlcache.Cache[string, *domain.Tenant]
	group   singleflight.Group
	logger  log.Logger

	mu            sync.Mutex
	ephemeralKeys map[string]*rsa.PrivateKey
}

var _ domain.TenantRegistry = (*Registry)(nil)

func NewRegistry(tenants []config.TenantConfig, ttl time.Duration, logger log.Logger) *Registry {
	configs := make(map[string]config.TenantConfig, len(tenants))
	for _, t := range tenants {
		configs[t.ID] = t
	}

	return &Registry{
		configs:       configs,
		cache:         ttlcache.New(ttlcache.WithTTL[string, *domain.Tenant](ttl)),
		logger:        logger,
		ephemeralKeys: make(map[string]*rsa.PrivateKey),
	}
}

// Get returns the snapshot for tenantID or domain.ErrTenantNotFound.
func (r *Registry) Get(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	if item := r.cache.Get(tenantID); item != nil {
		return item.Value(), nil
	}

	v, err, _ := r.group.Do(tenantID, func() (interface{}, error) {
		t, err := r.build(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		r.cache.Set(tenantID, t, ttlcache.DefaultTTL)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Tenant), nil
}

// Invalidate drops the cached snapshot of tenantID.
func (r *Registry) Invalidate(tenantID string) {
	r.cache.Delete(tenantID)
}

func (r *Registry) build(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	cfg, ok := r.configs[tenantID]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}

	key, err := r.signingKey(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &domain.Tenant{
		ID:                 cfg.ID,
		Issuer:             cfg.Issuer,
		AuthorizeTTL:       cfg.AuthorizeTTL,
		AccessTokenExpiry:  cfg.AccessTokenExpiry,
		RefreshTokenExpiry: cfg.RefreshTokenExpiry,
		IDTokenExpiry:      cfg.IDTokenExpiry,
		SigningKey:         key,
		KeyID:              cfg.KeyID,
		LoginPageURI:       cfg.LoginPageURI,
		ConsentPageURI:     cfg.ConsentPageURI,
		IDTokenClaims:      slices.Clone(cfg.IDTokenClaims),
		AccessTokenClaims:  slices.Clone(cfg.AccessTokenClaims),
		UserServiceURL:     cfg.UserServiceURL,
	}, nil
}

// signingKey loads the tenant key file. Tenants without one get a generated
// key that is kept for the life of the process.
func (r *Registry) signingKey(ctx context.Context, cfg config.TenantConfig) (*rsa.PrivateKey, error) {
	if cfg.SigningKeyFile != "" {
		key, err := crypto.LoadRSAKey(cfg.SigningKeyFile)
		if err != nil {
			return nil, fmt.Errorf("tenant %s: %w", cfg.ID, err)
		}
		return key, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if key, ok := r.ephemeralKeys[cfg.ID]; ok {
		return key, nil
	}

	key, err := crypto.GenerateRSAKey()
	if err != nil {
		return nil, fmt.Errorf("tenant %s: failed to generate signing key: %w", cfg.ID, err)
	}
	r.ephemeralKeys[cfg.ID] = key
	r.logger.Warn(ctx, "No signing key configured, using an ephemeral key", log.Fields{"tenant_id": cfg.ID})

	return key, nil
}
