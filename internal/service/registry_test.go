package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	domainauth "github.com/darstays/stayportal/internal/domain/auth"
	"github.com/darstays/stayportal/internal/i18n"
	"github.com/darstays/stayportal/internal/mocks"
	fakes "github.com/darstays/stayportal/internal/mocks/auth"
	"github.com/darstays/stayportal/internal/ports"
)

func newTestRegistry(t *testing.T, factory *mocks.MockAuthBackendFactory, roles *fakes.GatedRoleStore) *ResolverRegistry {
	t.Helper()
	reg, err := NewResolverRegistry(ResolverRegistryOptions{
		Factory:     factory,
		Roles:       roles,
		Logger:      discardLogger(),
		DefaultLang: "en",
		IdleTTL:     time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(reg.Close)
	return reg
}

func TestNewResolverRegistry_RequiresDependencies(t *testing.T) {
	t.Parallel()
	_, err := NewResolverRegistry(ResolverRegistryOptions{})
	require.Error(t, err)

	ctrl := gomock.NewController(t)
	_, err = NewResolverRegistry(ResolverRegistryOptions{Factory: mocks.NewMockAuthBackendFactory(ctrl)})
	assert.Error(t, err)
}

func TestResolverRegistry_GetBuildsOncePerBrowser(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	factory := mocks.NewMockAuthBackendFactory(ctrl)
	backend := fakes.NewFakeBackend()
	factory.EXPECT().ForBrowser("b1").Return(backend, nil).Times(1)

	reg := newTestRegistry(t, factory, fakes.NewGatedRoleStore())

	var wg sync.WaitGroup
	got := make([]*SessionResolver, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := reg.Get(context.Background(), "b1", "en")
			assert.NoError(t, err)
			got[i] = r
		}(i)
	}
	wg.Wait()

	for _, r := range got {
		assert.Same(t, got[0], r)
	}
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, 1, backend.Subscribers())
}

func TestResolverRegistry_GetRejectsEmptyBrowserID(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	reg := newTestRegistry(t, mocks.NewMockAuthBackendFactory(ctrl), fakes.NewGatedRoleStore())

	_, err := reg.Get(context.Background(), "", "en")
	assert.Error(t, err)
}

func TestResolverRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	factory := mocks.NewMockAuthBackendFactory(ctrl)
	boom := errors.New("token store down")
	factory.EXPECT().ForBrowser("b1").Return(nil, boom)

	reg := newTestRegistry(t, factory, fakes.NewGatedRoleStore())

	_, err := reg.Get(context.Background(), "b1", "en")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, reg.Len())
	assert.Nil(t, reg.Inbox("b1"))
}

func TestResolverRegistry_InboxReceivesLocalizedNotifications(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	factory := mocks.NewMockAuthBackendFactory(ctrl)
	backend := fakes.NewFakeBackend()
	backend.AddUser("u1", "u1@example.com", "secret1")
	factory.EXPECT().ForBrowser("b1").Return(backend, nil)

	reg := newTestRegistry(t, factory, fakes.NewGatedRoleStore())
	r, err := reg.Get(context.Background(), "b1", "ar")
	require.NoError(t, err)

	require.NoError(t, r.SignIn(context.Background(), "u1@example.com", "secret1"))

	notes := reg.Inbox("b1").Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, i18n.KeySignInSuccess, notes[0].Key)
	assert.Equal(t, i18n.New("ar", "").Text(i18n.KeySignInSuccess), notes[0].Message)
	assert.Empty(t, reg.Inbox("b1").Drain())
}

func TestResolverRegistry_ForgetClosesResolver(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	factory := mocks.NewMockAuthBackendFactory(ctrl)
	first := fakes.NewFakeBackend()
	second := fakes.NewFakeBackend()
	gomock.InOrder(
		factory.EXPECT().ForBrowser("b1").Return(first, nil),
		factory.EXPECT().ForBrowser("b1").Return(second, nil),
	)

	reg := newTestRegistry(t, factory, fakes.NewGatedRoleStore())
	r1, err := reg.Get(context.Background(), "b1", "en")
	require.NoError(t, err)

	reg.Forget("b1")
	assert.Equal(t, 0, first.Subscribers())
	assert.Equal(t, 0, reg.Len())

	r2, err := reg.Get(context.Background(), "b1", "en")
	require.NoError(t, err)
	assert.NotSame(t, r1, r2)
	reg.Forget("unknown")
}

func TestResolverRegistry_SweepClosesIdle(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	factory := mocks.NewMockAuthBackendFactory(ctrl)
	idle := fakes.NewFakeBackend()
	active := fakes.NewFakeBackend()
	factory.EXPECT().ForBrowser("idle").Return(idle, nil)
	factory.EXPECT().ForBrowser("active").Return(active, nil)

	reg := newTestRegistry(t, factory, fakes.NewGatedRoleStore())
	now := time.Now()
	reg.now = func() time.Time { return now }

	_, err := reg.Get(context.Background(), "idle", "en")
	require.NoError(t, err)
	now = now.Add(50 * time.Second)
	_, err = reg.Get(context.Background(), "active", "en")
	require.NoError(t, err)

	now = now.Add(20 * time.Second)
	assert.Equal(t, 1, reg.Sweep())
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, 0, idle.Subscribers())
	assert.Equal(t, 1, active.Subscribers())
	assert.Nil(t, reg.Inbox("idle"))
}

func TestResolverRegistry_CloseRejectsLaterGet(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	factory := mocks.NewMockAuthBackendFactory(ctrl)
	backend := fakes.NewFakeBackend()
	sess := fakes.SessionFor("u1", "u1@example.com")
	backend.SetSession(&sess)
	roles := fakes.NewGatedRoleStore()
	roles.Set("u1", domainauth.RoleAdmin)
	factory.EXPECT().ForBrowser(gomock.Any()).Return(backend, nil).AnyTimes()

	reg := newTestRegistry(t, factory, roles)
	r, err := reg.Get(context.Background(), "b1", "en")
	require.NoError(t, err)
	syncResolver(t, r)
	require.True(t, r.IsAdmin())

	reg.Close()
	assert.False(t, r.IsAdmin())
	assert.Equal(t, 0, reg.Len())

	_, err = reg.Get(context.Background(), "b2", "en")
	assert.ErrorIs(t, err, ErrResolverClosed)
}

func TestResolverRegistry_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	reg, err := NewResolverRegistry(ResolverRegistryOptions{
		Factory:       mocks.NewMockAuthBackendFactory(ctrl),
		Roles:         fakes.NewGatedRoleStore(),
		Logger:        discardLogger(),
		SweepInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestResolverRegistry_GetFollowsLanguageChange(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	factory := mocks.NewMockAuthBackendFactory(ctrl)
	backend := fakes.NewFakeBackend()
	backend.AddUser("u1", "u1@example.com", "secret1")
	factory.EXPECT().ForBrowser("b1").Return(backend, nil).Times(1)

	reg := newTestRegistry(t, factory, fakes.NewGatedRoleStore())
	_, err := reg.Get(context.Background(), "b1", "en")
	require.NoError(t, err)

	r, err := reg.Get(context.Background(), "b1", "ar")
	require.NoError(t, err)
	assert.Equal(t, "ar", r.Catalog().Lang())
	require.NoError(t, r.SignIn(context.Background(), "u1@example.com", "secret1"))

	notes := reg.Inbox("b1").Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, i18n.New("ar", "").Text(i18n.KeySignInSuccess), notes[0].Message)
}

func TestResolverRegistry_RotateMovesSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	factory := mocks.NewMockAuthBackendFactory(ctrl)
	tokens := fakes.NewMemoryTokenStore()

	sess := fakes.SessionFor("u1", "u1@example.com")
	require.NoError(t, tokens.Save(ctx, "old", sess))
	oldBackend := fakes.NewFakeBackend()
	oldBackend.AddUser("u1", "u1@example.com", "secret1")
	newBackend := fakes.NewFakeBackend()
	newBackend.GetSessionFunc = func(ctx context.Context) (*domainauth.Session, error) {
		s, err := tokens.Get(ctx, "new")
		if errors.Is(err, ports.ErrNoSession) {
			return nil, nil
		}
		return &s, err
	}
	factory.EXPECT().ForBrowser("old").Return(oldBackend, nil)
	factory.EXPECT().ForBrowser("new").Return(newBackend, nil)

	roles := fakes.NewGatedRoleStore()
	roles.Set("u1", domainauth.RoleAdmin)
	reg, err := NewResolverRegistry(ResolverRegistryOptions{
		Factory:     factory,
		Roles:       roles,
		Tokens:      tokens,
		Logger:      discardLogger(),
		DefaultLang: "en",
	})
	require.NoError(t, err)
	t.Cleanup(reg.Close)

	before, err := reg.Get(ctx, "old", "en")
	require.NoError(t, err)
	require.NoError(t, before.SignIn(ctx, "u1@example.com", "secret1"))
	syncResolver(t, before)
	require.True(t, before.IsAdmin())

	after, err := reg.Rotate(ctx, "old", "new", "en")
	require.NoError(t, err)
	syncResolver(t, after)
	assert.True(t, after.IsAdmin())
	assert.Equal(t, "u1", after.CurrentSession().UserID)

	assert.False(t, before.IsAdmin(), "resolver for the old id is closed")
	assert.ErrorIs(t, before.Sync(ctx), ErrResolverClosed)
	_, err = tokens.Get(ctx, "old")
	assert.ErrorIs(t, err, ports.ErrNoSession)
	assert.Nil(t, reg.Inbox("old"))
	assert.Equal(t, 1, reg.Len())

	notes := reg.Inbox("new").Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, i18n.KeySignInSuccess, notes[0].Key)
}

func TestResolverRegistry_RotateValidation(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	reg := newTestRegistry(t, mocks.NewMockAuthBackendFactory(ctrl), fakes.NewGatedRoleStore())

	_, err := reg.Rotate(context.Background(), "a", "b", "en")
	assert.Error(t, err, "no token store")

	withTokens, err := NewResolverRegistry(ResolverRegistryOptions{
		Factory: mocks.NewMockAuthBackendFactory(ctrl),
		Roles:   fakes.NewGatedRoleStore(),
		Tokens:  fakes.NewMemoryTokenStore(),
		Logger:  discardLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(withTokens.Close)
	_, err = withTokens.Rotate(context.Background(), "a", "a", "en")
	assert.Error(t, err)
	_, err = withTokens.Rotate(context.Background(), "", "b", "en")
	assert.Error(t, err)
}
