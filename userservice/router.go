package userservice

import (
	"context"

	"go.pilab.hu/idp/domain"
)

// Router sends each call to the tenant's remote user service, or to the
// local directory when the tenant has no user service URL.
type Router struct {
	remote domain.UserService
	local  domain.UserService
}

var _ domain.UserService = (*Router)(nil)

func NewRouter(remote, local domain.UserService) *Router {
	return &Router{remote: remote, local: local}
}

func (r *Router) pick(tenant *domain.Tenant) domain.UserService {
	if tenant != nil && tenant.UserServiceURL != "" {
		return r.remote
	}
	return r.local
}

func (r *Router) GetUser(ctx context.Context, tenant *domain.Tenant, filters map[string]string) (*domain.User, error) {
	return r.pick(tenant).GetUser(ctx, tenant, filters)
}

func (r *Router) CreateUser(ctx context.Context, tenant *domain.Tenant, profile map[string]any) (*domain.User, error) {
	return r.pick(tenant).CreateUser(ctx, tenant, profile)
}

func (r *Router) Authenticate(ctx context.Context, tenant *domain.Tenant, credentials map[string]string) (*domain.User, error) {
	return r.pick(tenant).Authenticate(ctx, tenant, credentials)
}
