package domain

import "context"

//go:generate go run go.uber.org/mock/mockgen@latest -source=$GOFILE -destination=mocks/mock_$GOFILE -package=mock_domain UserService

// UserService is the external user directory.
type UserService interface {
	// GetUser returns ErrNotFound when no profile matches the filters.
	GetUser(ctx context.Context, tenant *Tenant, filters map[string]string) (*User, error)
	// CreateUser returns ErrUserExists when the username is taken.
	CreateUser(ctx context.Context, tenant *Tenant, profile map[string]any) (*User, error)
	Authenticate(ctx context.Context, tenant *Tenant, credentials map[string]string) (*User, error)
}
