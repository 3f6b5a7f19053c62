package cache

import (
	"context"
	"sync"
	"time"

	"go.pilab.hu/idp/domain"
)

// MemoryRevocationStore keeps revoked fingerprints per tenant in process memory.
type MemoryRevocationStore struct {
	mu      sync.Mutex
	tenants map[string]map[string]time.Time
}

var _ domain.RevocationStore = (*MemoryRevocationStore)(nil)

func NewMemoryRevocationStore() *MemoryRevocationStore {
	return &MemoryRevocationStore{tenants: make(map[string]map[string]time.Time)}
}

// Record implements domain.RevocationStore.
func (s *MemoryRevocationStore) Record(_ context.Context, tenantID string, fingerprints []string, at time.Time, retention time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.tenants[tenantID]
	if !ok {
		set = make(map[string]time.Time)
		s.tenants[tenantID] = set
	}
	for _, fp := range fingerprints {
		set[fp] = at
	}

	cutoff := at.Add(-retention)
	for fp, ts := range set {
		if ts.Before(cutoff) {
			delete(set, fp)
		}
	}
	return nil
}

// IsRevoked implements domain.RevocationStore.
func (s *MemoryRevocationStore) IsRevoked(_ context.Context, tenantID, fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tenants[tenantID][fingerprint]
	return ok, nil
}

// Len returns the number of fingerprints held for tenantID.
func (s *MemoryRevocationStore) Len(tenantID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tenants[tenantID])
}
