package services

import (
	"context"
	"slices"
	"strings"

	"go.pilab.hu/idp/domain"
	serrors "go.pilab.hu/idp/errors"
)

// ScopeOpenID must be present in every OIDC authorization.
const ScopeOpenID = "openid"

// ParseScope splits a space separated scope parameter.
func ParseScope(scope string) []string {
	return strings.Fields(scope)
}

// JoinScope renders scopes as a space separated parameter.
func JoinScope(scopes []string) string {
	return strings.Join(scopes, " ")
}

// IntersectScopes returns the members of requested that are also in allowed,
// in requested order with duplicates collapsed.
func IntersectScopes(requested, allowed []string) []string {
	out := make([]string, 0, len(requested))
	for _, s := range requested {
		if slices.Contains(allowed, s) && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// UnionScopes returns a followed by the members of b not already in a.
func UnionScopes(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	for _, s := range slices.Concat(a, b) {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// SubtractScopes returns the members of a that are not in b.
func SubtractScopes(a, b []string) []string {
	out := make([]string, 0, len(a))
	for _, s := range a {
		if !slices.Contains(b, s) && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// ContainsAllScopes reports whether every scope in want is in have.
func ContainsAllScopes(have, want []string) bool {
	for _, s := range want {
		if !slices.Contains(have, s) {
			return false
		}
	}
	return true
}

// ScopeResolver narrows scope requests and maps scopes to the claims they release.
type ScopeResolver struct {
	scopes domain.ScopeRegistry
}

func NewScopeResolver(scopes domain.ScopeRegistry) *ScopeResolver {
	return &ScopeResolver{scopes: scopes}
}

// Narrow returns the requested subset of allowed. An empty request yields all
// of allowed; a scope outside allowed is invalid_scope.
func (r *ScopeResolver) Narrow(allowed []string, requested string) ([]string, error) {
	wanted := ParseScope(requested)
	if len(wanted) == 0 {
		return slices.Clone(allowed), nil
	}
	for _, s := range wanted {
		if !slices.Contains(allowed, s) {
			return nil, serrors.NewInvalidScope("scope " + s + " is not allowed")
		}
	}
	return IntersectScopes(wanted, allowed), nil
}

// Released returns every claim named by the definitions of scopes, without
// the tenant's ID token filter.
func (r *ScopeResolver) Released(ctx context.Context, tenantID string, scopes []string) ([]string, error) {
	defs, err := r.scopes.GetScopes(ctx, tenantID, scopes)
	if err != nil {
		return nil, err
	}

	var claims []string
	for _, def := range defs {
		claims = UnionScopes(claims, def.Claims)
	}
	return claims, nil
}

// Claims returns the user claims released by scopes. When the tenant lists
// ID token claims, only those are kept.
func (r *ScopeResolver) Claims(ctx context.Context, tenant *domain.Tenant, scopes []string) ([]string, error) {
	claims, err := r.Released(ctx, tenant.ID, scopes)
	if err != nil {
		return nil, err
	}
	if len(tenant.IDTokenClaims) > 0 {
		claims = IntersectScopes(claims, tenant.IDTokenClaims)
	}
	return claims, nil
}
