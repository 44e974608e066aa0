package config

import (
	"log/slog"
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - auth.go: Authentication backend and role source configuration
//   - database.go: Database and token store configuration
//   - http.go: HTTP server configuration
//   - resolver.go: Per-browser session resolver configuration
//   - observability.go: Logging and metrics configuration
type AppConfig struct {
	// IsDev controls development mode behavior (dev accounts, insecure cookies on http).
	// Set DEV=true or NODE_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Authentication configuration
	Auth AuthConfig

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Session resolver configuration
	Resolver ResolverConfig `envPrefix:"RESOLVER_"`

	// Localization configuration
	I18n I18nConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Auth.Sanitize()
	c.Redis.Sanitize()
	c.HTTP.Sanitize()
	c.Resolver.Sanitize()
	c.I18n.Sanitize()

	// Check NODE_ENV for dev mode
	c.detectDevMode()
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
// This is called by Sanitize() to ensure IsDev is set correctly.
// NODE_ENV is checked as a fallback (common in frontend tooling).
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}

// I18nConfig controls the language used when a browser expresses no preference.
type I18nConfig struct {
	DefaultLang string `env:"I18N_DEFAULT_LANG" envDefault:"ar"`
}

// Sanitize lowercases the language and falls back to Arabic for anything unsupported.
func (c *I18nConfig) Sanitize() {
	c.DefaultLang = strings.ToLower(strings.TrimSpace(c.DefaultLang))
	switch c.DefaultLang {
	case "ar", "en":
	default:
		c.DefaultLang = "ar"
	}
}

// ObservabilityConfig groups logging and metrics configuration.
type ObservabilityConfig struct {
	// LogLevel accepts slog level names (DEBUG, INFO, WARN, ERROR).
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	// MetricsEnabled exposes prometheus collectors on /metrics.
	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`
}
