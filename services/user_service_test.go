package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"go.pilab.hu/idp/domain"
	mock_domain "go.pilab.hu/idp/domain/mocks"
	serrors "go.pilab.hu/idp/errors"
	"go.pilab.hu/idp/services"
)

// bounded matches contexts carrying the store timeout.
var bounded = gomock.Cond(func(ctx context.Context) bool {
	_, ok := ctx.Deadline()
	return ok
})

// withUsers builds a provider over f's stores that talks to users instead of
// the fixture's directory.
func (f *fixture) withUsers(t *testing.T, users domain.UserService) *services.Provider {
	t.Helper()
	return f.rebuild(t, func(opts *services.ProviderOptions) { opts.Users = users })
}

func TestUserService_AuthenticateFailure(t *testing.T) {
	f := newFixture(t)
	ctrl := gomock.NewController(t)
	users := mock_domain.NewMockUserService(ctrl)
	users.EXPECT().
		Authenticate(bounded, f.tenant, map[string]string{"username": "alice", "password": "pw"}).
		Return(nil, errors.New("dial tcp: connection refused"))

	_, err := f.withUsers(t, users).Sessions().IssueSession(context.Background(), f.tenant, services.LoginRequest{
		ClientID:    "c1",
		Credentials: map[string]string{"username": "alice", "password": "pw"},
	})
	requireOAuthError(t, err, serrors.ServerError)

	active, err := f.tokens.ListActiveRefreshTokens(context.Background(), testTenant, "u1", "")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestUserService_CodeForDeletedUser(t *testing.T) {
	f := newFixture(t)
	code := f.code(t, authorizeRequest("c1", "openid"), f.session(t, "u1", "c1"))

	ctrl := gomock.NewController(t)
	users := mock_domain.NewMockUserService(ctrl)
	users.EXPECT().
		GetUser(bounded, f.tenant, map[string]string{domain.UserIDClaim: "u1"}).
		Return(nil, domain.ErrNotFound)

	_, err := f.withUsers(t, users).TokenExchange().Exchange(context.Background(), f.tenant, services.TokenRequest{
		GrantType:   "authorization_code",
		Client:      services.ClientCredentials{ID: "c1", Secret: "s1"},
		Code:        code,
		RedirectURI: testRedirect,
	})
	oauthErr := requireOAuthError(t, err, serrors.InvalidGrant)
	assert.Equal(t, "user not found", oauthErr.Description)

	// The code was spent by the failed attempt.
	_, err = f.exchangeCode(code, "")
	requireOAuthError(t, err, serrors.InvalidGrant)
}

func TestUserService_CreateUserFailure(t *testing.T) {
	f := newFixture(t)
	ctrl := gomock.NewController(t)
	users := mock_domain.NewMockUserService(ctrl)
	users.EXPECT().
		CreateUser(bounded, f.tenant, map[string]any{"username": "erin", "password": "pw"}).
		Return(nil, errors.New("user service responded with status 502"))

	_, err := f.withUsers(t, users).Sessions().SignUp(context.Background(), f.tenant, services.SignUpRequest{
		ClientID: "c1",
		Username: "erin",
		Password: "pw",
	})
	oauthErr := requireOAuthError(t, err, serrors.ServerError)
	assert.Equal(t, "Unable to create user", oauthErr.Description)
}
