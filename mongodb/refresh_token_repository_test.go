package mongodb_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.pilab.hu/idp/domain"
	"go.pilab.hu/idp/mongodb"
	"go.pilab.hu/idp/mongodb/testutil"
)

func newToken(tenant, client, user, value, sso string) *domain.RefreshToken {
	now := time.Now().UTC().Truncate(time.Millisecond)
	t := &domain.RefreshToken{
		TenantID:    tenant,
		ClientID:    client,
		UserID:      user,
		Token:       value,
		ExpiresAt:   now.Add(time.Hour),
		Scopes:      []string{"openid"},
		AuthMethods: []string{"pwd"},
		IsActive:    true,
		CreatedAt:   now,
	}
	if sso != "" {
		t.Sso = &domain.SsoToken{Token: sso, ExpiresAt: now.Add(time.Hour), IsActive: true}
	}
	return t
}

func TestRefreshTokenRepository_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	repo := mongodb.NewRefreshTokenRepository(ctx, testutil.SetupTestMongoDB(t, "rt_save"))

	require.NoError(t, repo.SaveRefreshToken(ctx, newToken("t1", "c1", "u1", "rt1", "sso1")))
	assert.Error(t, repo.SaveRefreshToken(ctx, newToken("t1", "c1", "u1", "rt1", "")), "duplicate token")

	got, err := repo.GetRefreshToken(ctx, "t1", "rt1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	require.NotNil(t, got.Sso)
	assert.Equal(t, "sso1", got.Sso.Token)

	_, err = repo.GetRefreshToken(ctx, "t2", "rt1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.GetClientRefreshToken(ctx, "t1", "other", "rt1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	bySso, err := repo.GetRefreshTokenBySsoToken(ctx, "t1", "sso1")
	require.NoError(t, err)
	assert.Equal(t, "rt1", bySso.Token)
}

func TestRefreshTokenRepository_InvalidatePair(t *testing.T) {
	ctx := context.Background()
	repo := mongodb.NewRefreshTokenRepository(ctx, testutil.SetupTestMongoDB(t, "rt_invalidate"))

	require.NoError(t, repo.SaveRefreshToken(ctx, newToken("t1", "c1", "u1", "rt1", "sso1")))
	require.NoError(t, repo.SaveRefreshToken(ctx, newToken("t1", "c1", "u1", "rt2", "")))

	changed, err := repo.InvalidateRefreshToken(ctx, "t1", "rt1")
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := repo.GetRefreshToken(ctx, "t1", "rt1")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	require.NotNil(t, got.Sso)
	assert.False(t, got.Sso.IsActive)
	assert.Equal(t, "sso1", got.Sso.Token)

	changed, err = repo.InvalidateRefreshToken(ctx, "t1", "rt1")
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = repo.InvalidateRefreshToken(ctx, "t1", "rt2")
	require.NoError(t, err)
	assert.True(t, changed)
	got, err = repo.GetRefreshToken(ctx, "t1", "rt2")
	require.NoError(t, err)
	assert.Nil(t, got.Sso)
}

func TestRefreshTokenRepository_ClientScopedAndBulk(t *testing.T) {
	ctx := context.Background()
	repo := mongodb.NewRefreshTokenRepository(ctx, testutil.SetupTestMongoDB(t, "rt_bulk"))

	require.NoError(t, repo.SaveRefreshToken(ctx, newToken("t1", "c1", "u1", "a", "")))
	require.NoError(t, repo.SaveRefreshToken(ctx, newToken("t1", "c2", "u1", "b", "")))
	require.NoError(t, repo.SaveRefreshToken(ctx, newToken("t1", "c1", "u2", "c", "")))

	changed, err := repo.InvalidateClientRefreshToken(ctx, "t1", "c2", "a")
	require.NoError(t, err)
	assert.False(t, changed)

	active, err := repo.ListActiveRefreshTokens(ctx, "t1", "u1", "")
	require.NoError(t, err)
	assert.Len(t, active, 2)

	active, err = repo.ListActiveRefreshTokens(ctx, "t1", "u1", "c2")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "b", active[0].Token)

	n, err := repo.InvalidateRefreshTokens(ctx, "t1", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	active, err = repo.ListActiveRefreshTokens(ctx, "t1", "u1", "")
	require.NoError(t, err)
	assert.Empty(t, active)

	other, err := repo.GetRefreshToken(ctx, "t1", "c")
	require.NoError(t, err)
	assert.True(t, other.IsActive)
}
