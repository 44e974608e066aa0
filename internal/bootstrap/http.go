package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/darstays/stayportal/config"
	redisadapter "github.com/darstays/stayportal/internal/adapters/redis"
	"github.com/darstays/stayportal/internal/data"
	httpx "github.com/darstays/stayportal/internal/http"
	"github.com/darstays/stayportal/internal/observability/metrics"
	"github.com/darstays/stayportal/internal/ports"
	"github.com/darstays/stayportal/internal/service"
)

// AppDeps contains the connected infrastructure the application is built on.
type AppDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB               // Optional when AUTH_ROLE_SOURCE=static; enables profiles
	RedisClient redis.UniversalClient // Required: session token store
	Logger      *slog.Logger
	HTTPClient  *http.Client // Optional: auth backend client
}

// App is the wired application: the resolver registry and the HTTP handler in front of it.
type App struct {
	Registry *service.ResolverRegistry
	Handler  http.Handler
	Metrics  *metrics.Auth
}

// BuildApp wires the auth backend, role store, resolver registry and router.
func BuildApp(ctx context.Context, deps AppDeps) (*App, error) {
	if deps.Config == nil {
		return nil, errors.New("app config is required")
	}
	if deps.RedisClient == nil {
		return nil, errors.New("redis client is required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tokens := redisadapter.NewTokenStore(deps.RedisClient, redisadapter.WithPrefix(cfg.Redis.SessionPrefix))
	factory, err := BuildAuthBackend(ctx, AuthConfig{
		Auth:       cfg.Auth,
		Tokens:     tokens,
		Logger:     logger,
		HTTPClient: deps.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("build auth backend: %w", err)
	}

	roles, err := BuildRoleStore(RoleStoreConfig{Auth: cfg.Auth, DB: deps.DB, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("build role store: %w", err)
	}

	var profiles ports.ProfileStore
	if deps.DB != nil {
		profiles = data.NewProfileRepo(deps.DB)
	}

	var (
		authMetrics    *metrics.Auth
		metricsHandler http.Handler
	)
	if cfg.Observability.MetricsEnabled {
		authMetrics, metricsHandler, err = buildMetrics()
		if err != nil {
			return nil, fmt.Errorf("build metrics: %w", err)
		}
	}

	registry, err := service.NewResolverRegistry(service.ResolverRegistryOptions{
		Factory:          factory,
		Roles:            roles,
		Profiles:         profiles,
		Tokens:           tokens,
		Metrics:          authMetrics,
		Logger:           logger,
		DefaultLang:      cfg.I18n.DefaultLang,
		IdleTTL:          cfg.Resolver.IdleTTL,
		SweepInterval:    cfg.Resolver.SweepInterval,
		RoleFetchTimeout: cfg.Resolver.RoleFetchTimeout,
		InboxSize:        cfg.Resolver.InboxSize,

		RevalidateInterval: cfg.Resolver.RevalidateInterval,
		RefreshLeeway:      cfg.Auth.GoTrue.RefreshLeeway,
	})
	if err != nil {
		return nil, fmt.Errorf("build resolver registry: %w", err)
	}

	views, err := httpx.NewViews(logger)
	if err != nil {
		registry.Close()
		return nil, fmt.Errorf("parse views: %w", err)
	}

	handler := httpx.NewRouter(httpx.RouterServices{
		Resolvers:    registry,
		Views:        views,
		Metrics:      metricsHandler,
		Ready:        readinessChecks(deps.DB, deps.RedisClient),
		CookieDomain: cfg.HTTP.CookieDomain,
		DefaultLang:  cfg.I18n.DefaultLang,
		SettleWait:   cfg.HTTP.SettleWait,
		Logger:       logger,
	})

	return &App{Registry: registry, Handler: handler, Metrics: authMetrics}, nil
}

func buildMetrics() (*metrics.Auth, http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, nil, err
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, nil, err
	}
	m, err := metrics.NewAuth(reg)
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

func readinessChecks(db *sql.DB, rdb redis.UniversalClient) map[string]httpx.ReadinessCheck {
	checks := make(map[string]httpx.ReadinessCheck)
	if db != nil {
		checks["postgres"] = db.PingContext
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return checks
}

// ServeConfig contains what Serve needs to run the application.
type ServeConfig struct {
	App      *App
	HTTP     config.HTTPConfig
	Listener net.Listener // Optional: overrides HTTP.Addr
	Logger   *slog.Logger
}

// Serve runs the HTTP server and the idle resolver sweeper until ctx is cancelled or
// either fails, then shuts both down. Returns nil on graceful shutdown.
func Serve(ctx context.Context, cfg ServeConfig) error {
	if cfg.App == nil {
		return errors.New("app is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	addr := cfg.HTTP.Addr
	// Guard against empty addr to avoid listening on Go default
	if addr == "" {
		addr = ":8080"
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           cfg.App.Handler,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if cfg.Listener != nil {
			logger.Info("starting HTTP server", "addr", cfg.Listener.Addr().String())
			err = server.Serve(cfg.Listener)
		} else {
			logger.Info("starting HTTP server", "addr", server.Addr)
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return cfg.App.Registry.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down HTTP server")

		timeout := cfg.HTTP.ShutdownTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), timeout)
		defer cancel()

		err := server.Shutdown(shutdownCtx)
		cfg.App.Registry.Close()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		logger.Info("HTTP server stopped")
		return nil
	})

	return g.Wait()
}
