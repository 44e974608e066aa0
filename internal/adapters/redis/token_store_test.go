package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/darstays/stayportal/internal/domain/auth"
	"github.com/darstays/stayportal/internal/ports"
	"github.com/darstays/stayportal/internal/testutil"
)

// setupTestRedis creates a Redis client for testing.
// Tests will be skipped if Redis is not available.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	return testutil.SetupTestRedis(t)
}

func testSession(expires time.Time) domainauth.Session {
	return domainauth.Session{
		UserID:       "user-123",
		Email:        "guest@example.com",
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    expires,
	}
}

func TestTokenStore_SaveAndGet(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	store := NewTokenStore(client, WithPrefix("test:auth:session:"))
	ctx := context.Background()
	sess := testSession(time.Now().Add(30 * time.Minute))

	require.NoError(t, store.Save(ctx, "browser-1", sess))

	got, err := store.Get(ctx, "browser-1")
	require.NoError(t, err)
	assert.Equal(t, sess.UserID, got.UserID)
	assert.Equal(t, sess.RefreshToken, got.RefreshToken)
	assert.WithinDuration(t, sess.ExpiresAt, got.ExpiresAt, time.Second)

	ttl, err := client.TTL(ctx, "test:auth:session:browser-1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 30*time.Minute, "ttl extends past the access token expiry")

	require.NoError(t, store.Delete(ctx, "browser-1"))
}

func TestTokenStore_GetNonExistent(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	store := NewTokenStore(client)
	_, err := store.Get(context.Background(), "non-existent-browser")
	assert.Equal(t, ErrNotFound, err)
	assert.ErrorIs(t, err, ports.ErrNoSession)

	_, err = store.Get(context.Background(), "")
	assert.Equal(t, ErrNotFound, err)
}

func TestTokenStore_ExpiredButRefreshable(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	store := NewTokenStore(client, WithRefreshHorizon(time.Hour))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "browser-expired", testSession(time.Now().Add(-time.Minute))))
	got, err := store.Get(ctx, "browser-expired")
	require.NoError(t, err)
	assert.True(t, got.Expired(time.Now()))
	require.NoError(t, store.Delete(ctx, "browser-expired"))

	noRefresh := testSession(time.Now().Add(-time.Minute))
	noRefresh.RefreshToken = ""
	assert.Error(t, store.Save(ctx, "browser-dead", noRefresh))
}

func TestTokenStore_Delete(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	store := NewTokenStore(client)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "browser-delete", testSession(time.Now().Add(time.Hour))))
	require.NoError(t, store.Delete(ctx, "browser-delete"))

	_, err := store.Get(ctx, "browser-delete")
	assert.Equal(t, ErrNotFound, err)

	assert.NoError(t, store.Delete(ctx, ""))
}

func TestTokenStore_SaveRejectsEmptyBrowser(t *testing.T) {
	store := NewTokenStore(nil)
	assert.Error(t, store.Save(context.Background(), "", testSession(time.Now().Add(time.Hour))))
}

func TestTokenStore_BrowsersAndDeleteAll(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	store := NewTokenStore(client, WithPrefix("test:bulk:"))
	other := NewTokenStore(client, WithPrefix("test:other:"))
	ctx := context.Background()

	for _, id := range []string{"b1", "b2", "b3"} {
		require.NoError(t, store.Save(ctx, id, testSession(time.Now().Add(time.Hour))))
	}
	require.NoError(t, other.Save(ctx, "keep", testSession(time.Now().Add(time.Hour))))

	ids, err := store.Browsers(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b1", "b2", "b3"}, ids)

	n, err := store.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	ids, err = store.Browsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = other.Get(ctx, "keep")
	assert.NoError(t, err)
}
