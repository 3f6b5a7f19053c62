package memory

import (
	"context"
	"sync"
	"time"

	"go.pilab.hu/idp/domain"
)

type consentKey struct {
	tenantID, clientID, userID string
}

// ConsentStore implements domain.ConsentStore in memory.
type ConsentStore struct {
	mu       sync.RWMutex
	consents map[consentKey][]domain.UserConsent
}

var _ domain.ConsentStore = (*ConsentStore)(nil)

func NewConsentStore() *ConsentStore {
	return &ConsentStore{consents: make(map[consentKey][]domain.UserConsent)}
}

func (s *ConsentStore) GetConsentedScopes(_ context.Context, tenantID, clientID, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.consents[consentKey{tenantID, clientID, userID}]
	scopes := make([]string, 0, len(rows))
	for _, c := range rows {
		scopes = append(scopes, c.Scope)
	}
	return scopes, nil
}

// SaveConsents appends rows for scopes not yet recorded.
func (s *ConsentStore) SaveConsents(_ context.Context, tenantID, clientID, userID string, scopes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := consentKey{tenantID, clientID, userID}
	existing := make(map[string]struct{}, len(s.consents[key]))
	for _, c := range s.consents[key] {
		existing[c.Scope] = struct{}{}
	}
	now := time.Now().UTC()
	for _, scope := range scopes {
		if _, ok := existing[scope]; ok {
			continue
		}
		existing[scope] = struct{}{}
		s.consents[key] = append(s.consents[key], domain.UserConsent{
			TenantID:  tenantID,
			ClientID:  clientID,
			UserID:    userID,
			Scope:     scope,
			CreatedAt: now,
		})
	}
	return nil
}
