package auth

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseRole(t *testing.T) {
	for _, r := range AllRoles() {
		got, ok := ParseRole(string(r))
		assert.True(t, ok, "role %s", r)
		assert.Equal(t, r, got)
	}

	_, ok := ParseRole("superuser")
	assert.False(t, ok)
	_, ok = ParseRole("")
	assert.False(t, ok)

	got, ok := ParseRole(" owner ")
	assert.True(t, ok)
	assert.Equal(t, RoleOwner, got)
}

func TestRole_Tier(t *testing.T) {
	tests := map[Role]Tier{
		RoleAdmin:             TierAdmin,
		RoleOperationsManager: TierAdmin,
		RoleStaff:             TierStaff,
		RoleHousekeeping:      TierStaff,
		RoleMaintenance:       TierStaff,
		RoleOwner:             TierOwner,
		Role("bogus"):         TierGuest,
		Role(""):              TierGuest,
	}
	for role, want := range tests {
		assert.Equal(t, want, role.Tier(), "role %q", role)
	}
}

func TestCapabilitiesFor(t *testing.T) {
	sess := &Session{UserID: "u1"}

	tests := []struct {
		name    string
		session *Session
		role    Role
		hasRole bool
		want    Capabilities
	}{
		{"no session with admin role", nil, RoleAdmin, true, Capabilities{}},
		{"no role row", sess, "", false, Capabilities{}},
		{"admin", sess, RoleAdmin, true, Capabilities{IsStaff: true, IsAdmin: true}},
		{"operations manager", sess, RoleOperationsManager, true, Capabilities{IsStaff: true, IsAdmin: true}},
		{"housekeeping", sess, RoleHousekeeping, true, Capabilities{IsStaff: true}},
		{"maintenance", sess, RoleMaintenance, true, Capabilities{IsStaff: true}},
		{"owner", sess, RoleOwner, true, Capabilities{IsOwner: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CapabilitiesFor(tt.session, tt.role, tt.hasRole))
		})
	}
}

func TestCapabilities_Tier(t *testing.T) {
	assert.Equal(t, TierGuest, Capabilities{}.Tier())
	assert.Equal(t, TierStaff, Capabilities{IsStaff: true}.Tier())
	assert.Equal(t, TierAdmin, Capabilities{IsStaff: true, IsAdmin: true}.Tier())
	assert.Equal(t, TierOwner, Capabilities{IsOwner: true}.Tier())
}

func TestSession_Expired(t *testing.T) {
	now := time.Now()
	assert.False(t, Session{}.Expired(now))
	assert.False(t, Session{ExpiresAt: now.Add(time.Minute)}.Expired(now))
	assert.True(t, Session{ExpiresAt: now.Add(-time.Minute)}.Expired(now))
}

func TestSnapshot_Settled(t *testing.T) {
	assert.False(t, Snapshot{Phase: PhaseUnresolved}.Settled())
	assert.True(t, Snapshot{Phase: PhaseUnresolved, Checked: true}.Settled())
	assert.False(t, Snapshot{Phase: PhaseResolvingRole, Checked: true, Session: &Session{}}.Settled())
	assert.True(t, Snapshot{Phase: PhaseResolved, Checked: true, Session: &Session{}}.Settled())
	assert.False(t, Snapshot{Phase: PhaseUnresolved, Checked: true}.Authenticated())
}

func TestClassifyMessage(t *testing.T) {
	tests := map[string]ErrorKind{
		"Invalid login credentials":                ErrInvalidCredentials,
		"Email not confirmed":                      ErrUnconfirmedEmail,
		"User already registered":                  ErrAlreadyRegistered,
		"Password should be at least 6 characters": ErrWeakSecret,
		"Email rate limit exceeded":                ErrRateLimited,
		"Failed to fetch":                          ErrNetworkFailure,
		"invalid login credentials":                ErrUnknown,
		"Database error saving new user":           ErrUnknown,
	}
	for msg, kind := range tests {
		ae := ClassifyMessage(msg)
		assert.Equal(t, kind, ae.Kind, "message %q", msg)
		assert.Equal(t, msg, ae.Message)
	}
}

func TestAuthError_IsAndUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := fmt.Errorf("sign in: %w", NetworkError(cause))

	assert.ErrorIs(t, err, &AuthError{Kind: ErrNetworkFailure})
	assert.NotErrorIs(t, err, &AuthError{Kind: ErrUnknown})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrNetworkFailure, KindOf(err))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}
