package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.pilab.hu/idp/domain"
)

func TestUserDirectory(t *testing.T) {
	ctx := context.Background()
	tenant := &domain.Tenant{ID: "t1"}
	dir := NewUserDirectory()
	dir.Add("t1", map[string]any{"userId": "u1", "email": "a@b.c", "password": "pw"})

	u, err := dir.GetUser(ctx, tenant, map[string]string{"userId": "u1"})
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	_, hasPassword := u.Claim("password")
	assert.False(t, hasPassword)

	_, err = dir.GetUser(ctx, &domain.Tenant{ID: "t2"}, map[string]string{"userId": "u1"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	u, err = dir.Authenticate(ctx, tenant, map[string]string{"username": "a@b.c", "password": "pw"})
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	_, err = dir.Authenticate(ctx, tenant, map[string]string{"username": "a@b.c", "password": "nope"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	created, err := dir.CreateUser(ctx, tenant, map[string]any{"email": "new@b.c"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
}

func TestUserDirectory_CreateUserWithPassword(t *testing.T) {
	dir := NewUserDirectory()
	tenant := &domain.Tenant{ID: "t1"}
	ctx := context.Background()

	created, err := dir.CreateUser(ctx, tenant, map[string]any{"username": "carol", "password": "s3cret"})
	require.NoError(t, err)
	_, exposed := created.Claim("password")
	assert.False(t, exposed)

	authed, err := dir.Authenticate(ctx, tenant, map[string]string{"username": "carol", "password": "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, authed.ID)

	_, err = dir.CreateUser(ctx, tenant, map[string]any{"username": "carol", "password": "other"})
	assert.ErrorIs(t, err, domain.ErrUserExists)

	// Usernames are scoped to the tenant.
	_, err = dir.CreateUser(ctx, &domain.Tenant{ID: "t2"}, map[string]any{"username": "carol"})
	assert.NoError(t, err)
}
