package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/idp/domain"
	serrors "go.pilab.hu/idp/errors"
	"go.pilab.hu/idp/memory"
)

func TestScopeSetHelpers(t *testing.T) {
	assert.Equal(t, []string{"openid", "profile"}, ParseScope("  openid   profile "))
	assert.Equal(t, "openid profile", JoinScope([]string{"openid", "profile"}))

	assert.Equal(t, []string{"profile", "openid"},
		IntersectScopes([]string{"profile", "admin", "openid", "profile"}, []string{"openid", "profile", "email"}))
	assert.Empty(t, IntersectScopes(nil, []string{"openid"}))

	assert.Equal(t, []string{"openid", "email", "profile"},
		UnionScopes([]string{"openid", "email"}, []string{"email", "profile"}))

	assert.Equal(t, []string{"profile"}, SubtractScopes([]string{"openid", "profile"}, []string{"openid"}))

	assert.True(t, ContainsAllScopes([]string{"openid", "profile"}, []string{"profile"}))
	assert.True(t, ContainsAllScopes([]string{"openid"}, nil))
	assert.False(t, ContainsAllScopes([]string{"openid"}, []string{"openid", "email"}))
}

func TestScopeResolver_Narrow(t *testing.T) {
	r := NewScopeResolver(memory.NewScopeRegistry())
	allowed := []string{"openid", "profile", "email"}

	got, err := r.Narrow(allowed, "")
	require.NoError(t, err)
	assert.Equal(t, allowed, got)

	got, err = r.Narrow(allowed, "email openid")
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "openid"}, got)

	_, err = r.Narrow(allowed, "openid admin")
	var oauthErr *serrors.OAuth2Error
	require.ErrorAs(t, err, &oauthErr)
	assert.Equal(t, serrors.InvalidScope, oauthErr.Code)
}

func TestScopeResolver_Claims(t *testing.T) {
	reg := memory.NewScopeRegistry(
		domain.Scope{TenantID: "t1", Name: "profile", Claims: []string{"name", "picture"}},
		domain.Scope{TenantID: "t1", Name: "email", Claims: []string{"email", "email_verified"}},
	)
	r := NewScopeResolver(reg)
	ctx := context.Background()

	claims, err := r.Claims(ctx, &domain.Tenant{ID: "t1"}, []string{"openid", "profile", "email"})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "picture", "email", "email_verified"}, claims)

	claims, err = r.Claims(ctx, &domain.Tenant{ID: "t1", IDTokenClaims: []string{"email", "name"}}, []string{"profile", "email"})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "email"}, claims)

	claims, err = r.Claims(ctx, &domain.Tenant{ID: "t2"}, []string{"profile"})
	require.NoError(t, err)
	assert.Empty(t, claims)

	// Released ignores the tenant's ID token filter.
	claims, err = r.Released(ctx, "t1", []string{"profile", "email"})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "picture", "email", "email_verified"}, claims)
}
