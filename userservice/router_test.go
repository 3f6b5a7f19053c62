package userservice

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/idp/domain"
	"go.pilab.hu/idp/memory"
)

func TestRouter(t *testing.T) {
	srv := newServer(t)
	local := memory.NewUserDirectory()
	local.Add("globex", map[string]any{"userId": "g1", "username": "gina", "password": "pw"})
	r := NewRouter(NewClient(time.Second), local)
	ctx := context.Background()

	remoteTenant := &domain.Tenant{ID: "acme", UserServiceURL: srv.URL}
	u, err := r.GetUser(ctx, remoteTenant, map[string]string{"userId": "u1"})
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	localTenant := &domain.Tenant{ID: "globex"}
	u, err = r.Authenticate(ctx, localTenant, map[string]string{"username": "gina", "password": "pw"})
	require.NoError(t, err)
	assert.Equal(t, "g1", u.ID)

	_, err = r.GetUser(ctx, localTenant, map[string]string{"userId": "u1"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	created, err := r.CreateUser(ctx, localTenant, map[string]any{"username": "new"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
}
