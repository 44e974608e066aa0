package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/darstays/stayportal/config"
	"github.com/darstays/stayportal/internal/adapters/authroles"
	"github.com/darstays/stayportal/internal/adapters/devauth"
	"github.com/darstays/stayportal/internal/adapters/gotrue"
	"github.com/darstays/stayportal/internal/data"
	"github.com/darstays/stayportal/internal/ports"
)

// AuthConfig contains configuration for the auth backend factory.
type AuthConfig struct {
	Auth   config.AuthConfig
	Tokens ports.TokenStore
	Logger *slog.Logger

	// HTTPClient is used for the health probe and every auth API call. Optional.
	HTTPClient *http.Client
}

// BuildAuthBackend creates the per-browser backend factory for the configured auth mode.
//
//nolint:ireturn // the mode decides the concrete factory.
func BuildAuthBackend(ctx context.Context, cfg AuthConfig) (ports.AuthBackendFactory, error) {
	if cfg.Tokens == nil {
		return nil, errors.New("token store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Auth.Mode {
	case config.AuthModeMock:
		dir, err := buildDevAuthBackend(cfg, logger)
		if err != nil {
			return nil, err
		}
		return dir, nil
	case config.AuthModeGoTrue:
		factory, err := buildGoTrueBackend(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return factory, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Auth.Mode)
	}
}

func buildDevAuthBackend(cfg AuthConfig, logger *slog.Logger) (*devauth.Directory, error) {
	users, err := cfg.Auth.DevAuth.ParseUsers()
	if err != nil {
		return nil, err
	}
	seeds := make([]devauth.User, 0, len(users))
	for _, u := range users {
		seeds = append(seeds, devauth.User{Email: u.Email, Password: u.Password})
	}

	dir, err := devauth.NewDirectory(devauth.Config{
		Users:           seeds,
		SessionDuration: cfg.Auth.DevAuth.SessionDuration,
	}, cfg.Tokens)
	if err != nil {
		return nil, fmt.Errorf("create dev auth backend: %w", err)
	}
	logger.Warn("dev auth backend enabled; do not use in production", "accounts", len(seeds))
	return dir, nil
}

func buildGoTrueBackend(ctx context.Context, cfg AuthConfig, logger *slog.Logger) (*gotrue.Factory, error) {
	gt := cfg.Auth.GoTrue
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: gt.Timeout}
	}

	candidates := gt.BaseURLs()
	if len(candidates) == 0 {
		return nil, errors.New("no auth backend URL configured")
	}
	baseURL, err := gotrue.ProbeHealth(ctx, client, gt.AnonKey, candidates)
	if err != nil {
		// The backend may come up after us; calls fail with NetworkFailure until it does.
		baseURL = candidates[0]
		logger.Warn("auth backend health probe failed; using primary URL",
			"url", baseURL, "error", err)
	} else {
		logger.Info("auth backend reachable", "url", baseURL)
	}

	factory, err := gotrue.NewFactory(gotrue.Config{
		BaseURL:       baseURL,
		AnonKey:       gt.AnonKey,
		JWTSecret:     gt.JWTSecret,
		RefreshLeeway: gt.RefreshLeeway,
		HTTPClient:    client,
		Logger:        logger,
	}, cfg.Tokens)
	if err != nil {
		return nil, fmt.Errorf("create auth backend client: %w", err)
	}
	if gt.JWTSecret == "" {
		logger.Warn("GOTRUE_JWT_SECRET not set; access token signatures are not verified")
	}
	return factory, nil
}

// RoleStoreConfig contains configuration for the role store.
type RoleStoreConfig struct {
	Auth   config.AuthConfig
	DB     *sql.DB
	Logger *slog.Logger
}

// BuildRoleStore returns the role table for the configured role source.
//
//nolint:ireturn // the role source decides the concrete store.
func BuildRoleStore(cfg RoleStoreConfig) (ports.RoleStore, error) {
	switch cfg.Auth.RoleSource {
	case config.RoleSourcePostgres, "":
		if cfg.DB == nil {
			return nil, errors.New("postgres role source requires a database")
		}
		return data.NewRoleRepo(cfg.DB), nil
	case config.RoleSourceStatic:
		store, err := buildStaticRoleStore(cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported role source %q", cfg.Auth.RoleSource)
	}
}

func buildStaticRoleStore(cfg RoleStoreConfig) (*authroles.StaticRoleStore, error) {
	seeds := append([]string(nil), cfg.Auth.RoleSeeds...)
	resolveID := func(key string) string { return key }

	if cfg.Auth.Mode == config.AuthModeMock {
		users, err := cfg.Auth.DevAuth.ParseUsers()
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			if u.Role != "" {
				seeds = append(seeds, u.Email+"="+u.Role)
			}
		}
		// Dev accounts get ids derived from their email, so seeds may name the email.
		resolveID = func(key string) string {
			if strings.Contains(key, "@") {
				return devauth.IDFor(key)
			}
			return key
		}
	}

	store, err := authroles.ParseSeeds(seeds, resolveID)
	if err != nil {
		return nil, fmt.Errorf("parse role seeds: %w", err)
	}
	if cfg.Logger != nil {
		cfg.Logger.Info("static role store enabled", "seeds", len(seeds))
	}
	return store, nil
}
