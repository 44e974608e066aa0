package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/darstays/stayportal/internal/i18n"
	"github.com/darstays/stayportal/internal/observability/metrics"
	"github.com/darstays/stayportal/internal/ports"
)

const (
	defaultIdleTTL       = 30 * time.Minute
	defaultSweepInterval = time.Minute
)

// ResolverRegistryOptions groups dependencies for ResolverRegistry.
type ResolverRegistryOptions struct {
	Factory  ports.AuthBackendFactory // Required: builds per-browser backend clients
	Roles    ports.RoleStore          // Required: role lookups
	Profiles ports.ProfileStore       // Optional: profile creation on sign-up
	Tokens   ports.TokenStore         // Optional: required by Rotate
	Metrics  *metrics.Auth            // Optional: prometheus collectors
	Logger   *slog.Logger             // Optional: structured logger

	DefaultLang      string
	IdleTTL          time.Duration
	SweepInterval    time.Duration
	RoleFetchTimeout time.Duration
	InboxSize        int

	RevalidateInterval time.Duration
	RefreshLeeway      time.Duration
}

type registryEntry struct {
	resolver *SessionResolver
	inbox    *Inbox
	lastUsed time.Time
}

// ResolverRegistry owns one SessionResolver per browser. Entries are created lazily on
// first use and closed after IdleTTL without a request.
type ResolverRegistry struct {
	opts    ResolverRegistryOptions
	logger  *slog.Logger
	metrics *metrics.Auth
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*registryEntry
	closed  bool
	builds  singleflight.Group
}

// NewResolverRegistry constructs a ResolverRegistry.
func NewResolverRegistry(opts ResolverRegistryOptions) (*ResolverRegistry, error) {
	if opts.Factory == nil {
		return nil, errors.New("AuthBackendFactory is required")
	}
	if opts.Roles == nil {
		return nil, errors.New("RoleStore is required")
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = defaultIdleTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "resolver_registry")

	return &ResolverRegistry{
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
		now:     time.Now,
		entries: make(map[string]*registryEntry),
	}, nil
}

// Get returns the running resolver for browserID, building and starting one when none
// exists. lang selects the language of the resolver's notifications from now on.
func (g *ResolverRegistry) Get(ctx context.Context, browserID, lang string) (*SessionResolver, error) {
	if browserID == "" {
		return nil, errors.New("browser id is required")
	}
	cat := i18n.New(lang, g.opts.DefaultLang)
	if r, ok := g.touch(browserID); ok {
		useCatalog(r, cat)
		return r, nil
	}

	v, err, _ := g.builds.Do(browserID, func() (any, error) {
		if r, ok := g.touch(browserID); ok {
			return r, nil
		}
		return g.build(ctx, browserID, cat)
	})
	if err != nil {
		return nil, err
	}
	r, _ := v.(*SessionResolver)
	useCatalog(r, cat)
	return r, nil
}

func useCatalog(r *SessionResolver, cat i18n.Catalog) {
	if r.Catalog().Lang() != cat.Lang() {
		r.SetCatalog(cat)
	}
}

// Rotate re-keys a browser: the persisted session and undelivered notifications of
// oldID move to newID, and the resolver for oldID is closed. A client still presenting
// oldID afterwards starts out signed out. It returns the running resolver for newID.
func (g *ResolverRegistry) Rotate(ctx context.Context, oldID, newID, lang string) (*SessionResolver, error) {
	if oldID == "" || newID == "" || oldID == newID {
		return nil, errors.New("rotate requires two distinct browser ids")
	}
	if g.opts.Tokens == nil {
		return nil, errors.New("rotate requires a token store")
	}

	sess, err := g.opts.Tokens.Get(ctx, oldID)
	switch {
	case errors.Is(err, ports.ErrNoSession):
	case err != nil:
		return nil, fmt.Errorf("load session: %w", err)
	default:
		if err := g.opts.Tokens.Save(ctx, newID, sess); err != nil {
			return nil, fmt.Errorf("save session: %w", err)
		}
	}
	if err := g.opts.Tokens.Delete(ctx, oldID); err != nil {
		return nil, errors.Join(fmt.Errorf("delete session: %w", err), g.opts.Tokens.Delete(ctx, newID))
	}

	var pending []ports.Notification
	if inbox := g.Inbox(oldID); inbox != nil {
		pending = inbox.Drain()
	}
	g.Forget(oldID)

	r, err := g.Get(ctx, newID, lang)
	if err != nil {
		return nil, errors.Join(err, g.opts.Tokens.Delete(ctx, newID))
	}
	if inbox := g.Inbox(newID); inbox != nil {
		for _, n := range pending {
			inbox.Notify(ctx, n)
		}
	}
	g.logger.DebugContext(ctx, "browser id rotated", "old_browser_id", oldID, "browser_id", newID)
	return r, nil
}

func (g *ResolverRegistry) touch(browserID string) (*SessionResolver, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[browserID]
	if !ok {
		return nil, false
	}
	e.lastUsed = g.now()
	return e.resolver, true
}

func (g *ResolverRegistry) build(ctx context.Context, browserID string, cat i18n.Catalog) (*SessionResolver, error) {
	backend, err := g.opts.Factory.ForBrowser(browserID)
	if err != nil {
		return nil, fmt.Errorf("build auth backend: %w", err)
	}

	inbox := NewInbox(g.opts.InboxSize)
	resolver := NewSessionResolver(SessionResolverOptions{
		Backend:          backend,
		Roles:            g.opts.Roles,
		Profiles:         g.opts.Profiles,
		Notifier:         inbox,
		Catalog:          cat,
		Metrics:          g.metrics,
		Logger:           g.logger.With("browser_id", browserID),
		RoleFetchTimeout: g.opts.RoleFetchTimeout,

		RevalidateInterval: g.opts.RevalidateInterval,
		RefreshLeeway:      g.opts.RefreshLeeway,
	})
	if err := resolver.Start(ctx); err != nil {
		resolver.Close()
		return nil, fmt.Errorf("start session resolver: %w", err)
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		resolver.Close()
		return nil, ErrResolverClosed
	}
	g.entries[browserID] = &registryEntry{resolver: resolver, inbox: inbox, lastUsed: g.now()}
	n := len(g.entries)
	g.mu.Unlock()

	g.metrics.SetActiveResolvers(n)
	g.logger.DebugContext(ctx, "session resolver started", "browser_id", browserID)
	return resolver, nil
}

// Inbox returns the notification inbox for browserID, or nil when no resolver exists.
func (g *ResolverRegistry) Inbox(browserID string) *Inbox {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.entries[browserID]; ok {
		return e.inbox
	}
	return nil
}

// Forget closes and evicts the resolver for browserID.
func (g *ResolverRegistry) Forget(browserID string) {
	g.mu.Lock()
	e, ok := g.entries[browserID]
	delete(g.entries, browserID)
	n := len(g.entries)
	g.mu.Unlock()

	if ok {
		e.resolver.Close()
		g.metrics.SetActiveResolvers(n)
	}
}

// Len reports the number of live resolvers.
func (g *ResolverRegistry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Run sweeps idle resolvers until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (g *ResolverRegistry) Run(ctx context.Context) error {
	g.logger.InfoContext(ctx, "starting resolver sweeper",
		"interval", g.opts.SweepInterval, "idle_ttl", g.opts.IdleTTL)

	ticker := time.NewTicker(g.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.logger.InfoContext(ctx, "resolver sweeper stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if n := g.Sweep(); n > 0 {
				g.logger.DebugContext(ctx, "closed idle resolvers", "count", n)
			}
		}
	}
}

// Sweep closes every resolver idle longer than IdleTTL and returns how many it closed.
func (g *ResolverRegistry) Sweep() int {
	cutoff := g.now().Add(-g.opts.IdleTTL)

	g.mu.Lock()
	var idle []*registryEntry
	for id, e := range g.entries {
		if e.lastUsed.Before(cutoff) {
			idle = append(idle, e)
			delete(g.entries, id)
		}
	}
	n := len(g.entries)
	g.mu.Unlock()

	for _, e := range idle {
		e.resolver.Close()
	}
	if len(idle) > 0 {
		g.metrics.SetActiveResolvers(n)
	}
	return len(idle)
}

// Close tears down every resolver. Later Get calls fail with ErrResolverClosed.
func (g *ResolverRegistry) Close() {
	g.mu.Lock()
	g.closed = true
	entries := g.entries
	g.entries = make(map[string]*registryEntry)
	g.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(r *SessionResolver) {
			defer wg.Done()
			r.Close()
		}(e.resolver)
	}
	wg.Wait()
	g.metrics.SetActiveResolvers(0)
}
