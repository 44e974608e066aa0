package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	domainauth "github.com/darstays/stayportal/internal/domain/auth"
	"github.com/darstays/stayportal/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeBackend_SignInEmitsSignedIn(t *testing.T) {
	b := NewFakeBackend()
	b.AddUser("u1", "guest@example.com", "secret1")

	var got []domainauth.AuthEvent
	sub := b.OnAuthStateChange(func(ev domainauth.AuthEvent) { got = append(got, ev) })

	err := b.SignInWithPassword(context.Background(), "guest@example.com", "wrong")
	assert.ErrorIs(t, err, &domainauth.AuthError{Kind: domainauth.ErrInvalidCredentials})
	assert.Empty(t, got)

	require.NoError(t, b.SignInWithPassword(context.Background(), "guest@example.com", "secret1"))
	require.Len(t, got, 1)
	assert.Equal(t, domainauth.EventSignedIn, got[0].Type)
	assert.Equal(t, "u1", got[0].Session.UserID)

	sess, err := b.GetSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.UserID)

	sub.Unsubscribe()
	assert.Equal(t, 0, b.Subscribers())
	require.NoError(t, b.SignOut(context.Background()))
	assert.Len(t, got, 1, "unsubscribed handler must not be called")
	assert.Equal(t, 1, b.SignOutCalls())
}

func TestFakeBackend_SignUp(t *testing.T) {
	b := NewFakeBackend()
	ctx := context.Background()

	_, err := b.SignUp(ctx, ports.SignUpInput{Email: "a@example.com", Password: "123"})
	assert.Equal(t, domainauth.ErrWeakSecret, domainauth.KindOf(err))

	id, err := b.SignUp(ctx, ports.SignUpInput{Email: "a@example.com", Password: "123456", DisplayName: "A"})
	require.NoError(t, err)
	assert.NotEmpty(t, id.ID)

	_, err = b.SignUp(ctx, ports.SignUpInput{Email: "a@example.com", Password: "123456"})
	assert.Equal(t, domainauth.ErrAlreadyRegistered, domainauth.KindOf(err))
}

func TestGatedRoleStore_Hold(t *testing.T) {
	s := NewGatedRoleStore()
	s.Set("u1", domainauth.RoleStaff)
	release := s.Hold("u1")

	done := make(chan domainauth.Role, 1)
	go func() {
		role, _, _ := s.RoleFor(context.Background(), "u1")
		done <- role
	}()

	require.True(t, s.WaitEntered("u1", time.Second))
	select {
	case <-done:
		t.Fatal("lookup returned while held")
	case <-time.After(20 * time.Millisecond):
	}

	s.Set("u1", domainauth.RoleAdmin)
	release()
	release()
	assert.Equal(t, domainauth.RoleAdmin, <-done)
	assert.Equal(t, 1, s.Calls("u1"))
}

func TestGatedRoleStore_MissingAndFailing(t *testing.T) {
	s := NewGatedRoleStore()
	_, ok, err := s.RoleFor(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, ok)

	boom := errors.New("boom")
	s.Fail("u2", boom)
	_, _, err = s.RoleFor(context.Background(), "u2")
	assert.ErrorIs(t, err, boom)

	release := s.Hold("u3")
	defer release()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = s.RoleFor(ctx, "u3")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryTokenStore(t *testing.T) {
	store := NewMemoryTokenStore()
	ctx := context.Background()

	assert.Error(t, store.Save(ctx, "", domainauth.Session{}))
	_, err := store.Get(ctx, "b1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(ctx, "b1", SessionFor("u1", "u1@example.com")))
	got, err := store.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	require.NoError(t, store.Delete(ctx, "b1"))
	_, err = store.Get(ctx, "b1")
	assert.ErrorIs(t, err, ErrNotFound)
}
