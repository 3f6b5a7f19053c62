package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"go.pilab.hu/idp/domain"
	"go.pilab.hu/idp/internal/crypto"
)

// UserDirectory implements domain.UserService over in-memory profiles. A
// profile's "password" attribute is used by Authenticate and never returned.
type UserDirectory struct {
	mu    sync.RWMutex
	users map[string][]map[string]any // tenant -> profiles
}

var _ domain.UserService = (*UserDirectory)(nil)

func NewUserDirectory() *UserDirectory {
	return &UserDirectory{users: make(map[string][]map[string]any)}
}

// Add stores a profile for tenantID.
func (d *UserDirectory) Add(tenantID string, profile map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[tenantID] = append(d.users[tenantID], maps.Clone(profile))
}

func publicProfile(p map[string]any) *domain.User {
	cp := maps.Clone(p)
	delete(cp, "password")
	return domain.NewUser(cp)
}

func matches(profile map[string]any, filters map[string]string) bool {
	for k, v := range filters {
		if fmt.Sprint(profile[k]) != v {
			return false
		}
	}
	return true
}

func (d *UserDirectory) GetUser(_ context.Context, tenant *domain.Tenant, filters map[string]string) (*domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, p := range d.users[tenant.ID] {
		if matches(p, filters) {
			return publicProfile(p), nil
		}
	}
	return nil, domain.ErrNotFound
}

// CreateUser stores profile under a fresh userId unless one is given. A
// "password" attribute is stored as a bcrypt hash.
func (d *UserDirectory) CreateUser(_ context.Context, tenant *domain.Tenant, profile map[string]any) (*domain.User, error) {
	p := maps.Clone(profile)
	if p == nil {
		p = map[string]any{}
	}
	if _, ok := p[domain.UserIDClaim]; !ok {
		p[domain.UserIDClaim] = uuid.NewString()
	}
	if pw, ok := p["password"].(string); ok && pw != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		p["password"] = string(hashed)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if username, ok := p["username"].(string); ok && username != "" {
		for _, existing := range d.users[tenant.ID] {
			if fmt.Sprint(existing["username"]) == username {
				return nil, domain.ErrUserExists
			}
		}
	}
	d.users[tenant.ID] = append(d.users[tenant.ID], p)
	return publicProfile(p), nil
}

// Authenticate matches "username" against the profile's username or email and
// compares "password" against the stored plain or bcrypt value.
func (d *UserDirectory) Authenticate(_ context.Context, tenant *domain.Tenant, credentials map[string]string) (*domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	username := credentials["username"]
	for _, p := range d.users[tenant.ID] {
		if fmt.Sprint(p["username"]) != username && fmt.Sprint(p["email"]) != username {
			continue
		}
		stored, _ := p["password"].(string)
		if crypto.SecretMatches(stored, credentials["password"]) {
			return publicProfile(p), nil
		}
		break
	}
	return nil, domain.ErrInvalidCredentials
}
