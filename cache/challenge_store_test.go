package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.pilab.hu/idp/domain"
)

func newTestStore(t *testing.T) *ChallengeStore {
	t.Helper()
	backend := NewMemoryBackend()
	t.Cleanup(func() { _ = backend.Close() })
	return NewChallengeStore(backend)
}

func sampleSession() domain.AuthorizeSession {
	return domain.AuthorizeSession{
		ResponseType:  "code",
		Client:        domain.Client{ID: "c1", Secret: "never-stored", Scopes: []string{"openid"}},
		RedirectURI:   "https://app/cb",
		State:         "s1",
		AllowedScopes: []string{"openid"},
	}
}

func TestChallengeKey(t *testing.T) {
	assert.Equal(t, "login_t1_abc", ChallengeKey(domain.PurposeLogin, "t1", "abc"))
	assert.Equal(t, "code_t1_xyz", ChallengeKey(domain.PurposeCode, "t1", "xyz"))
}

func TestChallengeStore_SessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.SaveSession(ctx, domain.PurposeLogin, "t1", "L", sampleSession(), time.Minute))

	got, err := store.GetSession(ctx, domain.PurposeLogin, "t1", "L")
	require.NoError(t, err)
	assert.Equal(t, "https://app/cb", got.RedirectURI)
	assert.Equal(t, "c1", got.Client.ID)
	assert.Empty(t, got.Client.Secret, "client secret must not be serialized into the challenge store")

	t.Run("namespaced by purpose", func(t *testing.T) {
		_, err := store.GetSession(ctx, domain.PurposeConsent, "t1", "L")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("namespaced by tenant", func(t *testing.T) {
		_, err := store.GetSession(ctx, domain.PurposeLogin, "t2", "L")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.DeleteSession(ctx, domain.PurposeLogin, "t1", "L"))
		_, err := store.GetSession(ctx, domain.PurposeLogin, "t1", "L")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestChallengeStore_SessionExpires(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.SaveSession(ctx, domain.PurposeLogin, "t1", "L", sampleSession(), 20*time.Millisecond))

	assert.Eventually(t, func() bool {
		_, err := store.GetSession(ctx, domain.PurposeLogin, "t1", "L")
		return err != nil
	}, time.Second, 10*time.Millisecond)
}

func TestChallengeStore_ConsumeCodeOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	code := sampleSession().WithUser("u1").WithConsent([]string{"openid"}).Code()
	require.NoError(t, store.SaveCode(ctx, "t1", "CODE", code, time.Minute))

	got, err := store.ConsumeCode(ctx, "t1", "CODE")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	_, err = store.ConsumeCode(ctx, "t1", "CODE")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestChallengeStore_ConcurrentConsume(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	code := sampleSession().WithUser("u1").Code()
	require.NoError(t, store.SaveCode(ctx, "t1", "CODE", code, time.Minute))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ConsumeCode(ctx, "t1", "CODE"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
