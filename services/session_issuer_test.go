package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/idp/domain"
	serrors "go.pilab.hu/idp/errors"
	"go.pilab.hu/idp/services"
)

func TestSessionIssuer_IssueSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.provider.Sessions().IssueSession(ctx, f.tenant, services.LoginRequest{
		ClientID:    "c1",
		Credentials: map[string]string{"username": "alice", "password": "pw"},
		Scope:       "openid email",
		Device:      domain.DeviceInfo{Name: "cli", IP: "10.0.0.1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", res.UserID)
	assert.Len(t, res.SsoToken, services.SsoTokenLength)
	assert.Len(t, res.RefreshToken, services.RefreshTokenLength)
	assert.NotEmpty(t, res.IDToken)
	assert.Equal(t, "openid email", res.Scope)

	stored, err := f.tokens.GetRefreshTokenBySsoToken(ctx, testTenant, res.SsoToken)
	require.NoError(t, err)
	assert.Equal(t, res.RefreshToken, stored.Token)
	assert.True(t, stored.Sso.IsActive)
	assert.Equal(t, []string{services.AuthMethodPassword}, stored.AuthMethods)
	assert.Equal(t, "cli", stored.Device.Name)
	assert.Equal(t, res.SsoTokenExpiry, stored.Sso.ExpiresAt)

	at, err := f.provider.Validator().Validate(ctx, f.tenant, res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, []string{"pwd"}, at.AuthMethods)
	assert.Equal(t, "u1", at.Subject)

	// The new session is what login accept treats as already logged in.
	code := f.code(t, authorizeRequest("c1", "openid"), res.RefreshToken)
	assert.Len(t, code, services.CodeLength)
}

func TestSessionIssuer_Rejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  services.LoginRequest
		code string
	}{
		{
			name: "wrong password",
			req:  services.LoginRequest{ClientID: "c1", Credentials: map[string]string{"username": "alice", "password": "nope"}},
			code: serrors.Unauthorized,
		},
		{
			name: "unknown client",
			req:  services.LoginRequest{ClientID: "ghost", Credentials: map[string]string{"username": "alice", "password": "pw"}},
			code: serrors.InvalidClient,
		},
		{
			name: "no credentials",
			req:  services.LoginRequest{ClientID: "c1"},
			code: serrors.InvalidRequest,
		},
		{
			name: "scope outside client",
			req:  services.LoginRequest{ClientID: "c1", Credentials: map[string]string{"username": "alice", "password": "pw"}, Scope: "admin"},
			code: serrors.InvalidScope,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.provider.Sessions().IssueSession(ctx, f.tenant, tt.req)
			requireOAuthError(t, err, tt.code)
		})
	}
}

func TestSessionIssuer_SignUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.provider.Sessions().SignUp(ctx, f.tenant, services.SignUpRequest{
		ClientID: "c1",
		Username: "carol",
		Password: "s3cret",
		Profile:  map[string]any{"email": "carol@acme.test"},
		Scope:    "openid email",
		Device:   domain.DeviceInfo{Name: "web"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.UserID)
	assert.Equal(t, "openid email", res.Scope)

	stored, err := f.tokens.GetRefreshTokenBySsoToken(ctx, testTenant, res.SsoToken)
	require.NoError(t, err)
	assert.Equal(t, res.UserID, stored.UserID)
	assert.Equal(t, "web", stored.Device.Name)

	// The password was stored with the user.
	user, err := f.users.Authenticate(ctx, f.tenant, map[string]string{"username": "carol", "password": "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, res.UserID, user.ID)
	email, _ := user.Claim("email")
	assert.Equal(t, "carol@acme.test", email)

	_, err = f.provider.Sessions().SignUp(ctx, f.tenant, services.SignUpRequest{
		ClientID: "c1", Username: "carol", Password: "other",
	})
	oauthErr := requireOAuthError(t, err, serrors.InvalidRequest)
	assert.Equal(t, "User already exists", oauthErr.Description)
}

func TestSessionIssuer_SignUpRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  services.SignUpRequest
		code string
	}{
		{"missing password", services.SignUpRequest{ClientID: "c1", Username: "dave"}, serrors.InvalidRequest},
		{"missing client", services.SignUpRequest{Username: "dave", Password: "pw"}, serrors.InvalidRequest},
		{"unknown client", services.SignUpRequest{ClientID: "ghost", Username: "dave", Password: "pw"}, serrors.InvalidClient},
		{"scope outside client", services.SignUpRequest{ClientID: "c1", Username: "dave", Password: "pw", Scope: "admin"}, serrors.InvalidScope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.provider.Sessions().SignUp(ctx, f.tenant, tt.req)
			requireOAuthError(t, err, tt.code)
		})
	}

	// None of the rejected requests created the user.
	_, err := f.users.GetUser(ctx, f.tenant, map[string]string{"username": "dave"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
