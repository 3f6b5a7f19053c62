package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.pilab.hu/idp/domain"
)

type tokenKey struct {
	tenantID string
	token    string
}

// TokenStore implements domain.TokenStore with a mutex-guarded map. Each
// record holds the refresh token and its SSO companion, so invalidation flips
// both under the same lock.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[tokenKey]*domain.RefreshToken
	sso    map[tokenKey]string // sso token -> refresh token
}

var _ domain.TokenStore = (*TokenStore)(nil)

func NewTokenStore() *TokenStore {
	return &TokenStore{
		tokens: make(map[tokenKey]*domain.RefreshToken),
		sso:    make(map[tokenKey]string),
	}
}

func copyToken(t *domain.RefreshToken) *domain.RefreshToken {
	cp := *t
	cp.Scopes = slices.Clone(t.Scopes)
	cp.AuthMethods = slices.Clone(t.AuthMethods)
	if t.Sso != nil {
		sso := *t.Sso
		cp.Sso = &sso
	}
	return &cp
}

func (s *TokenStore) SaveRefreshToken(_ context.Context, token *domain.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tokenKey{token.TenantID, token.Token}
	if _, exists := s.tokens[key]; exists {
		return fmt.Errorf("refresh token already exists")
	}
	s.tokens[key] = copyToken(token)
	if token.Sso != nil {
		s.sso[tokenKey{token.TenantID, token.Sso.Token}] = token.Token
	}
	return nil
}

func (s *TokenStore) GetRefreshToken(_ context.Context, tenantID, token string) (*domain.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[tokenKey{tenantID, token}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyToken(t), nil
}

func (s *TokenStore) GetClientRefreshToken(ctx context.Context, tenantID, clientID, token string) (*domain.RefreshToken, error) {
	t, err := s.GetRefreshToken(ctx, tenantID, token)
	if err != nil {
		return nil, err
	}
	if t.ClientID != clientID {
		return nil, domain.ErrNotFound
	}
	return t, nil
}

func (s *TokenStore) GetRefreshTokenBySsoToken(ctx context.Context, tenantID, ssoToken string) (*domain.RefreshToken, error) {
	s.mu.RLock()
	token, ok := s.sso[tokenKey{tenantID, ssoToken}]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.GetRefreshToken(ctx, tenantID, token)
}

func (s *TokenStore) ListActiveRefreshTokens(_ context.Context, tenantID, userID, clientID string) ([]*domain.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.RefreshToken
	for key, t := range s.tokens {
		if key.tenantID != tenantID || t.UserID != userID || !t.IsActive {
			continue
		}
		if clientID != "" && t.ClientID != clientID {
			continue
		}
		out = append(out, copyToken(t))
	}
	return out, nil
}

func (s *TokenStore) InvalidateRefreshToken(_ context.Context, tenantID, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidate(tokenKey{tenantID, token}, ""), nil
}

func (s *TokenStore) InvalidateClientRefreshToken(_ context.Context, tenantID, clientID, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidate(tokenKey{tenantID, token}, clientID), nil
}

func (s *TokenStore) InvalidateRefreshTokens(_ context.Context, tenantID string, tokens []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed int64
	for _, token := range tokens {
		if s.invalidate(tokenKey{tenantID, token}, "") {
			changed++
		}
	}
	return changed, nil
}

// invalidate must be called with mu held.
func (s *TokenStore) invalidate(key tokenKey, clientID string) bool {
	t, ok := s.tokens[key]
	if !ok || !t.IsActive {
		return false
	}
	if clientID != "" && t.ClientID != clientID {
		return false
	}
	t.IsActive = false
	if t.Sso != nil {
		t.Sso.IsActive = false
	}
	return true
}
