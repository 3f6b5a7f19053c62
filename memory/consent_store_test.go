package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsentStore_AppendOnly(t *testing.T) {
	ctx := context.Background()
	store := NewConsentStore()

	require.NoError(t, store.SaveConsents(ctx, "t1", "c1", "u1", []string{"openid", "profile"}))
	require.NoError(t, store.SaveConsents(ctx, "t1", "c1", "u1", []string{"profile", "email"}))

	scopes, err := store.GetConsentedScopes(ctx, "t1", "c1", "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"openid", "profile", "email"}, scopes)

	scopes, err = store.GetConsentedScopes(ctx, "t1", "c2", "u1")
	require.NoError(t, err)
	assert.Empty(t, scopes)
}
