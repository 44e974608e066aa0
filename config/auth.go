package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AuthMode represents the authentication backend for the application.
type AuthMode string

const (
	// AuthModeGoTrue talks to the hosted auth REST API.
	AuthModeGoTrue AuthMode = "gotrue"
	// AuthModeMock uses in-memory dev accounts (for development only).
	AuthModeMock AuthMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "gotrue", "mock":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: gotrue, mock)", v)
	}
}

// RoleSource selects where role rows are read from.
type RoleSource string

const (
	// RoleSourcePostgres reads the user_roles table.
	RoleSourcePostgres RoleSource = "postgres"
	// RoleSourceStatic reads AUTH_ROLE_SEEDS and dev account roles.
	RoleSourceStatic RoleSource = "static"
)

// UnmarshalText implements encoding.TextUnmarshaler for RoleSource.
func (r *RoleSource) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "postgres", "static":
		*r = RoleSource(v)
		return nil
	default:
		return fmt.Errorf("invalid RoleSource: %q (valid options: postgres, static)", v)
	}
}

// GoTrueConfig configures the hosted auth REST API client.
type GoTrueConfig struct {
	// URL is the project base URL; the client appends /auth/v1.
	URL string `env:"URL" envDefault:"http://localhost:54321"`

	// FallbackURLs are probed in order when URL fails its health check at startup.
	FallbackURLs []string `env:"FALLBACK_URLS" envSeparator:","`

	AnonKey   string `env:"ANON_KEY"`
	JWTSecret string `env:"JWT_SECRET"` // Optional: enables HS256 verification of access tokens

	// RefreshLeeway refreshes access tokens this long before they expire.
	RefreshLeeway time.Duration `env:"REFRESH_LEEWAY" envDefault:"1m"`
	Timeout       time.Duration `env:"TIMEOUT"        envDefault:"15s"`
}

// BaseURLs returns URL followed by the fallbacks, trimmed and de-duplicated.
func (g GoTrueConfig) BaseURLs() []string {
	seen := make(map[string]bool)
	out := make([]string, 0, 1+len(g.FallbackURLs))
	for _, raw := range append([]string{g.URL}, g.FallbackURLs...) {
		u := strings.TrimRight(strings.TrimSpace(raw), "/")
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// DevAuthConfig seeds the in-memory accounts used when AUTH_MODE=mock.
type DevAuthConfig struct {
	// Users are "email:password[:role]" entries separated by ';'.
	Users []string `env:"USERS" envSeparator:";" envDefault:"guest@example.com:devpassword;staff@example.com:devpassword:staff;admin@example.com:devpassword:admin;owner@example.com:devpassword:owner"`

	SessionDuration time.Duration `env:"SESSION_DURATION" envDefault:"1h"`
}

// DevUser is one parsed dev account.
type DevUser struct {
	Email    string
	Password string
	Role     string // empty for guests
}

// ParseUsers parses Users. Blank entries are skipped.
func (d DevAuthConfig) ParseUsers() ([]DevUser, error) {
	users := make([]DevUser, 0, len(d.Users))
	for _, raw := range d.Users {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("dev user %q: want email:password[:role]", raw)
		}
		u := DevUser{Email: strings.TrimSpace(parts[0]), Password: parts[1]}
		if len(parts) == 3 {
			u.Role = strings.ToLower(strings.TrimSpace(parts[2]))
		}
		if u.Email == "" || u.Password == "" {
			return nil, fmt.Errorf("dev user %q: email and password are required", raw)
		}
		users = append(users, u)
	}
	return users, nil
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// Mode determines which authentication backend to use.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"gotrue"`

	// GoTrue configuration (used when Mode=gotrue).
	GoTrue GoTrueConfig `envPrefix:"GOTRUE_"`

	// DevAuth configuration (used when Mode=mock).
	DevAuth DevAuthConfig `envPrefix:"DEV_AUTH_"`

	// RoleSource selects the role table implementation.
	RoleSource RoleSource `env:"AUTH_ROLE_SOURCE" envDefault:"postgres"`

	// RoleSeeds are "subject=role" entries for RoleSource=static, separated by ';'.
	// In mock mode the subject may be an email.
	RoleSeeds []string `env:"AUTH_ROLE_SEEDS" envSeparator:";"`
}

// Sanitize applies guardrails to auth configuration values.
func (a *AuthConfig) Sanitize() {
	a.GoTrue.URL = strings.TrimRight(strings.TrimSpace(a.GoTrue.URL), "/")
	a.GoTrue.AnonKey = strings.TrimSpace(a.GoTrue.AnonKey)
	if a.GoTrue.RefreshLeeway < 0 {
		a.GoTrue.RefreshLeeway = 0
	}
	if a.GoTrue.Timeout <= 0 {
		a.GoTrue.Timeout = 15 * time.Second
	}
	if a.DevAuth.SessionDuration <= 0 {
		a.DevAuth.SessionDuration = time.Hour
	}
}

// Validate reports configuration that cannot start the selected mode.
func (a *AuthConfig) Validate() error {
	switch a.Mode {
	case AuthModeGoTrue:
		if len(a.GoTrue.BaseURLs()) == 0 {
			return errors.New("GOTRUE_URL is required when AUTH_MODE=gotrue")
		}
		if a.GoTrue.AnonKey == "" {
			return errors.New("GOTRUE_ANON_KEY is required when AUTH_MODE=gotrue")
		}
	case AuthModeMock:
		if _, err := a.DevAuth.ParseUsers(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported auth mode %q", a.Mode)
	}
	return nil
}
