package ports

// Package ports defines interfaces (hexagonal ports) for auth-related behavior.
// Implementations live in internal/adapters and internal/data; orchestration in internal/service.

import (
	"context"
	"errors"

	domainauth "github.com/darstays/stayportal/internal/domain/auth"
)

// SignUpInput groups the fields needed to register an identity.
type SignUpInput struct {
	Email       string
	Password    string
	DisplayName string
}

// Subscription is a cancellable handle for session-change notifications.
type Subscription interface {
	Unsubscribe()
}

// AuthBackend is the hosted authentication backend as seen from one browser.
// Implementations deliver change notifications asynchronously and make no ordering
// promise relative to their own mutating calls beyond "a successful sign-in eventually
// produces a SIGNED_IN notification".
type AuthBackend interface {
	SignInWithPassword(ctx context.Context, email, password string) error
	SignUp(ctx context.Context, in SignUpInput) (domainauth.Identity, error)
	SignOut(ctx context.Context) error
	// GetSession returns the currently persisted session, or nil when signed out.
	GetSession(ctx context.Context) (*domainauth.Session, error)
	OnAuthStateChange(fn func(domainauth.AuthEvent)) Subscription
}

// AuthBackendFactory builds a backend client bound to one browser's persisted session.
type AuthBackendFactory interface {
	ForBrowser(browserID string) (AuthBackend, error)
}

// RoleStore is the single-row-per-subject role lookup.
// A missing row is a valid, non-error response: ok=false.
type RoleStore interface {
	RoleFor(ctx context.Context, userID string) (role domainauth.Role, ok bool, err error)
}

// ProfileStore persists the application profile created on sign-up.
type ProfileStore interface {
	CreateProfile(ctx context.Context, p domainauth.Profile) error
}

// ErrNoSession matches (via errors.Is) the not-found error of every TokenStore.
var ErrNoSession = errors.New("no persisted session")

// TokenStore persists a browser's backend session between requests.
type TokenStore interface {
	Save(ctx context.Context, browserID string, sess domainauth.Session) error
	Get(ctx context.Context, browserID string) (domainauth.Session, error)
	Delete(ctx context.Context, browserID string) error
}

// NotificationLevel is the severity of a user-visible notification.
type NotificationLevel string

const (
	NotifySuccess NotificationLevel = "success"
	NotifyError   NotificationLevel = "error"
)

// Notification is a localized, user-visible message.
type Notification struct {
	Level   NotificationLevel `json:"level"`
	Key     string            `json:"key"`
	Message string            `json:"message"`
}

// Notifier surfaces notifications to the user. Presentation only.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}
