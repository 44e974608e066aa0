package auth

// Package auth contains domain-level types for sessions, roles and capability tiers.
// It is pure and free of framework/adapter concerns.

import (
	"strings"
	"time"
)

// Role is the administrative label attached to an identity with elevated access.
// Keep string form; it is persisted verbatim in the user_roles table.
type Role string

const (
	RoleAdmin             Role = "admin"
	RoleOperationsManager Role = "operations_manager"
	RoleStaff             Role = "staff"
	RoleHousekeeping      Role = "housekeeping"
	RoleMaintenance       Role = "maintenance"
	RoleOwner             Role = "owner"
)

// AllRoles lists the closed role set in display order.
func AllRoles() []Role {
	return []Role{
		RoleAdmin,
		RoleOperationsManager,
		RoleStaff,
		RoleHousekeeping,
		RoleMaintenance,
		RoleOwner,
	}
}

// ParseRole validates a stored role string against the closed set.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.TrimSpace(s))
	for _, known := range AllRoles() {
		if r == known {
			return r, true
		}
	}
	return "", false
}

// Tier is the derived capability classification used for route gating.
type Tier string

const (
	TierGuest Tier = "guest"
	TierStaff Tier = "staff"
	TierAdmin Tier = "admin"
	TierOwner Tier = "owner"
)

// Tier returns the highest tier a role grants. Unknown or empty roles are guests.
func (r Role) Tier() Tier {
	switch r {
	case RoleAdmin, RoleOperationsManager:
		return TierAdmin
	case RoleStaff, RoleHousekeeping, RoleMaintenance:
		return TierStaff
	case RoleOwner:
		return TierOwner
	default:
		return TierGuest
	}
}

// Capabilities is the boolean surface exposed to route guards.
// Staff and admin overlap; owner is evaluated independently (separate portal).
type Capabilities struct {
	IsStaff bool `json:"is_staff"`
	IsAdmin bool `json:"is_admin"`
	IsOwner bool `json:"is_owner"`
}

// CapabilitiesFor derives capabilities from the latest (session, role) pair.
// A nil session always yields the zero value, whatever role is passed.
func CapabilitiesFor(session *Session, role Role, hasRole bool) Capabilities {
	if session == nil || !hasRole {
		return Capabilities{}
	}
	tier := role.Tier()
	return Capabilities{
		IsStaff: tier == TierStaff || tier == TierAdmin,
		IsAdmin: tier == TierAdmin,
		IsOwner: tier == TierOwner,
	}
}

// Tier reports the priority view of the capabilities for display and logging.
func (c Capabilities) Tier() Tier {
	switch {
	case c.IsOwner:
		return TierOwner
	case c.IsAdmin:
		return TierAdmin
	case c.IsStaff:
		return TierStaff
	default:
		return TierGuest
	}
}

// Identity is the authenticated subject as reported by the auth backend.
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

// Session is the cached, possibly stale copy of the backend-issued credential.
type Session struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Identity returns the subject carried by the session.
func (s Session) Identity() Identity {
	return Identity{ID: s.UserID, Email: s.Email}
}

// Profile is the application-side record created alongside a new identity.
type Profile struct {
	UserID   string
	Email    string
	FullName string
}

// Phase is the resolver lifecycle state.
type Phase string

const (
	PhaseUnresolved    Phase = "unresolved"
	PhaseResolvingRole Phase = "resolving_role"
	PhaseResolved      Phase = "resolved"
)

// Snapshot is a consistent read of resolver state.
// Checked is false until the backend's initial session check has been applied.
type Snapshot struct {
	Phase        Phase        `json:"phase"`
	Checked      bool         `json:"checked"`
	Session      *Session     `json:"-"`
	Role         Role         `json:"role,omitempty"`
	HasRole      bool         `json:"has_role"`
	Capabilities Capabilities `json:"capabilities"`
}

// Authenticated reports whether a session is present.
func (s Snapshot) Authenticated() bool { return s.Session != nil }

// Settled reports whether guards can make a definite decision: the initial check is done
// and no role fetch for a new subject is outstanding.
func (s Snapshot) Settled() bool { return s.Checked && s.Phase != PhaseResolvingRole }

// EventType names a session-change notification from the auth backend.
type EventType string

const (
	EventInitialSession EventType = "INITIAL_SESSION"
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
	EventUserUpdated    EventType = "USER_UPDATED"
)

// AuthEvent is one asynchronous (event, session) pair. Session is nil on sign-out.
type AuthEvent struct {
	Type    EventType
	Session *Session
}
