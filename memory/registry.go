package memory

import (
	"context"
	"slices"
	"sync"

	"go.pilab.hu/idp/domain"
)

type registryKey struct {
	tenantID, id string
}

// ClientRegistry implements domain.ClientRegistry from a fixed set of clients.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[registryKey]domain.Client
}

var _ domain.ClientRegistry = (*ClientRegistry)(nil)

func NewClientRegistry(clients ...domain.Client) *ClientRegistry {
	r := &ClientRegistry{clients: make(map[registryKey]domain.Client)}
	for _, c := range clients {
		r.Put(c)
	}
	return r
}

// Put adds or replaces a client.
func (r *ClientRegistry) Put(c domain.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[registryKey{c.TenantID, c.ID}] = c
}

func (r *ClientRegistry) GetClient(_ context.Context, tenantID, clientID string) (*domain.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[registryKey{tenantID, clientID}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (r *ClientRegistry) GetClientScopes(ctx context.Context, tenantID, clientID string) ([]string, error) {
	c, err := r.GetClient(ctx, tenantID, clientID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(c.Scopes), nil
}

// ScopeRegistry implements domain.ScopeRegistry from a fixed set of scopes.
type ScopeRegistry struct {
	mu     sync.RWMutex
	scopes map[registryKey]domain.Scope
}

var _ domain.ScopeRegistry = (*ScopeRegistry)(nil)

func NewScopeRegistry(scopes ...domain.Scope) *ScopeRegistry {
	r := &ScopeRegistry{scopes: make(map[registryKey]domain.Scope)}
	for _, s := range scopes {
		r.Put(s)
	}
	return r
}

func (r *ScopeRegistry) Put(s domain.Scope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopes[registryKey{s.TenantID, s.Name}] = s
}

// GetScopes returns the known scopes among names; unknown names are skipped.
func (r *ScopeRegistry) GetScopes(_ context.Context, tenantID string, names []string) ([]domain.Scope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Scope, 0, len(names))
	for _, n := range names {
		if s, ok := r.scopes[registryKey{tenantID, n}]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}
