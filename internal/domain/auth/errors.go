package auth

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes failures reported by the authentication backend.
type ErrorKind string

const (
	ErrInvalidCredentials ErrorKind = "invalid_credentials"
	ErrUnconfirmedEmail   ErrorKind = "unconfirmed_email"
	ErrAlreadyRegistered  ErrorKind = "already_registered"
	ErrWeakSecret         ErrorKind = "weak_secret"
	ErrRateLimited        ErrorKind = "rate_limited"
	ErrNetworkFailure     ErrorKind = "network_failure"
	ErrUnknown            ErrorKind = "unknown"
)

// AuthError is a categorized sign-in/sign-up failure.
// Message holds the backend's original text; for ErrUnknown it is shown to users verbatim.
type AuthError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Cause }

// Is matches another *AuthError by kind so errors.Is(err, &AuthError{Kind: ...}) works.
func (e *AuthError) Is(target error) bool {
	var t *AuthError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// backendMessages maps exact backend messages to kinds.
//
//nolint:gochecknoglobals // static read-only lookup
var backendMessages = map[string]ErrorKind{
	"Invalid login credentials":                ErrInvalidCredentials,
	"Email not confirmed":                      ErrUnconfirmedEmail,
	"User already registered":                  ErrAlreadyRegistered,
	"Password should be at least 6 characters": ErrWeakSecret,
	"Signup requires a valid password":         ErrWeakSecret,
	"Email rate limit exceeded":                ErrRateLimited,
	"Request rate limit reached":               ErrRateLimited,
	"Failed to fetch":                          ErrNetworkFailure,
	"Network request failed":                   ErrNetworkFailure,

	"A user with this email address has already been registered": ErrAlreadyRegistered,
}

// ClassifyMessage maps a backend message to an AuthError by exact match.
// Unmapped messages become ErrUnknown and keep the text as-is.
func ClassifyMessage(msg string) *AuthError {
	if kind, ok := backendMessages[msg]; ok {
		return &AuthError{Kind: kind, Message: msg}
	}
	return &AuthError{Kind: ErrUnknown, Message: msg}
}

// NetworkError wraps a transport failure.
func NetworkError(cause error) *AuthError {
	return &AuthError{Kind: ErrNetworkFailure, Message: "Failed to fetch", Cause: cause}
}

// KindOf extracts the kind from err, or "" when err is not an *AuthError.
func KindOf(err error) ErrorKind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}
