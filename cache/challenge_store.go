package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.pilab.hu/idp/domain"
)

// ChallengeStore implements domain.ChallengeStore on top of a Backend. Entries
// are JSON snapshots stored under purpose_tenant_id keys.
type ChallengeStore struct {
	backend Backend
}

var _ domain.ChallengeStore = (*ChallengeStore)(nil)

// NewChallengeStore creates a ChallengeStore backed by backend.
func NewChallengeStore(backend Backend) *ChallengeStore {
	return &ChallengeStore{backend: backend}
}

// ChallengeKey returns the storage key of an ephemeral entry.
func ChallengeKey(purpose domain.ChallengePurpose, tenantID, id string) string {
	return fmt.Sprintf("%s_%s_%s", purpose, tenantID, id)
}

func (s *ChallengeStore) SaveSession(ctx context.Context, purpose domain.ChallengePurpose, tenantID, id string, session domain.AuthorizeSession, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal authorize session: %w", err)
	}
	if err := s.backend.Set(ctx, ChallengeKey(purpose, tenantID, id), data, ttl); err != nil {
		return fmt.Errorf("failed to save %s challenge: %w", purpose, err)
	}
	return nil
}

func (s *ChallengeStore) GetSession(ctx context.Context, purpose domain.ChallengePurpose, tenantID, id string) (*domain.AuthorizeSession, error) {
	data, err := s.backend.Get(ctx, ChallengeKey(purpose, tenantID, id))
	if err != nil {
		return nil, err
	}
	var session domain.AuthorizeSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorize session: %w", err)
	}
	return &session, nil
}

func (s *ChallengeStore) DeleteSession(ctx context.Context, purpose domain.ChallengePurpose, tenantID, id string) error {
	return s.backend.Delete(ctx, ChallengeKey(purpose, tenantID, id))
}

func (s *ChallengeStore) SaveCode(ctx context.Context, tenantID, code string, authCode domain.AuthorizationCode, ttl time.Duration) error {
	data, err := json.Marshal(authCode)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}
	if err := s.backend.Set(ctx, ChallengeKey(domain.PurposeCode, tenantID, code), data, ttl); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}
	return nil
}

func (s *ChallengeStore) ConsumeCode(ctx context.Context, tenantID, code string) (*domain.AuthorizationCode, error) {
	data, err := s.backend.Take(ctx, ChallengeKey(domain.PurposeCode, tenantID, code))
	if err != nil {
		return nil, err
	}
	var authCode domain.AuthorizationCode
	if err := json.Unmarshal(data, &authCode); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}
	return &authCode, nil
}
