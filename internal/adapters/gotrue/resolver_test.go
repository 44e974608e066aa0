package gotrue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/darstays/stayportal/internal/domain/auth"
	"github.com/darstays/stayportal/internal/i18n"
	fakes "github.com/darstays/stayportal/internal/mocks/auth"
	"github.com/darstays/stayportal/internal/ports"
	"github.com/darstays/stayportal/internal/service"
)

// A resolver over the real client must notice, without a restart, that its session
// can no longer be refreshed.
func TestClient_ResolverSignsOutWhenRefreshRejected(t *testing.T) {
	api, srv := newFakeAuthAPI(t)
	c, tokens, _ := newTestClient(t, srv.URL, testSecret)

	roles := fakes.NewGatedRoleStore()
	roles.Set("u-guest", domainauth.RoleAdmin)
	r := service.NewSessionResolver(service.SessionResolverOptions{
		Backend:            c,
		Roles:              roles,
		Catalog:            i18n.New("en", ""),
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		RevalidateInterval: 50 * time.Millisecond,
	})
	t.Cleanup(r.Close)

	ctx := context.Background()
	require.NoError(t, r.Start(ctx))
	require.NoError(t, r.SignIn(ctx, "guest@example.com", "secret1"))
	syncCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, r.Sync(syncCtx))
	require.True(t, r.IsAdmin())

	stored, err := tokens.Get(ctx, "browser-1")
	require.NoError(t, err)
	stored.ExpiresAt = time.Now().Add(-time.Second)
	require.NoError(t, tokens.Save(ctx, "browser-1", stored))
	api.mu.Lock()
	api.rejectRefresh = true
	api.mu.Unlock()

	require.Eventually(t, func() bool {
		return r.CurrentSession() == nil && !r.IsAdmin()
	}, 2*time.Second, 20*time.Millisecond)

	_, err = tokens.Get(ctx, "browser-1")
	assert.ErrorIs(t, err, ports.ErrNoSession)
	assert.GreaterOrEqual(t, api.refreshes.Load(), int32(1))
}
