package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	domainauth "github.com/darstays/stayportal/internal/domain/auth"
	"github.com/darstays/stayportal/internal/i18n"
	"github.com/darstays/stayportal/internal/observability/metrics"
	"github.com/darstays/stayportal/internal/ports"
)

const (
	defaultRoleFetchTimeout   = 10 * time.Second
	defaultEventQueueSize     = 64
	defaultRevalidateInterval = 30 * time.Second
	minRevalidateDelay        = time.Second
)

// ErrResolverClosed is returned by blocking calls after Close.
var ErrResolverClosed = errors.New("session resolver closed")

// SessionResolverOptions groups dependencies for SessionResolver.
type SessionResolverOptions struct {
	Backend  ports.AuthBackend
	Roles    ports.RoleStore
	Profiles ports.ProfileStore // optional
	Notifier ports.Notifier     // optional
	Catalog  i18n.Catalog
	Metrics  *metrics.Auth // optional
	Logger   *slog.Logger

	RoleFetchTimeout time.Duration
	QueueSize        int

	// RevalidateInterval is the longest a session goes without being re-read from the
	// backend. RefreshLeeway moves the check ahead of the access token's expiry.
	RevalidateInterval time.Duration
	RefreshLeeway      time.Duration
}

// queueItem is either a backend notification or a barrier used by Sync. A revalidation
// result is tied to the access token it was derived from.
type queueItem struct {
	idx     uint64
	event   domainauth.AuthEvent
	barrier chan struct{}

	revalidation bool
	expect       string
}

// SessionResolver owns one browser's view of "who is signed in and what may they do".
//
// State changes come from two sources only: backend notifications, applied by a single
// consumer goroutine in arrival order, and RefreshRole. Every role lookup is tagged with
// the subject and a sequence number. A result is applied only when its sequence is still
// the latest issued and its subject matches the current session, so a slow lookup for a
// previous user can never surface after the session changed.
type SessionResolver struct {
	backend  ports.AuthBackend
	roles    ports.RoleStore
	profiles ports.ProfileStore
	notifier ports.Notifier
	metrics  *metrics.Auth
	logger   *slog.Logger

	fetchTimeout time.Duration
	flights      singleflight.Group
	revalidate   time.Duration
	leeway       time.Duration
	now          func() time.Time

	mu      sync.RWMutex
	catalog i18n.Catalog
	phase   domainauth.Phase
	checked bool
	session *domainauth.Session
	role    domainauth.Role
	hasRole bool
	seq     uint64        // latest issued role fetch
	cutoff  uint64        // queue items at or below this index predate the last sign-out
	changed chan struct{} // closed and replaced on every state change

	events chan queueItem
	pushed atomic.Uint64

	ctx       context.Context
	cancel    context.CancelFunc
	sub       ports.Subscription
	startOnce sync.Once
	closeOnce sync.Once
	started   atomic.Bool
	stop      chan struct{}
	done      chan struct{}
	fetches   sync.WaitGroup
	watcher   sync.WaitGroup
}

// NewSessionResolver constructs a resolver in the UNRESOLVED state. Call Start to begin
// resolving and Close to tear it down.
func NewSessionResolver(opts SessionResolverOptions) *SessionResolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.RoleFetchTimeout
	if timeout <= 0 {
		timeout = defaultRoleFetchTimeout
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultEventQueueSize
	}
	every := opts.RevalidateInterval
	if every <= 0 {
		every = defaultRevalidateInterval
	}
	leeway := max(opts.RefreshLeeway, 0)

	ctx, cancel := context.WithCancel(context.Background())
	return &SessionResolver{
		backend:      opts.Backend,
		roles:        opts.Roles,
		profiles:     opts.Profiles,
		notifier:     opts.Notifier,
		catalog:      opts.Catalog,
		metrics:      opts.Metrics,
		logger:       logger,
		fetchTimeout: timeout,
		revalidate:   every,
		leeway:       leeway,
		now:          time.Now,
		phase:        domainauth.PhaseUnresolved,
		changed:      make(chan struct{}),
		events:       make(chan queueItem, size),
		ctx:          ctx,
		cancel:       cancel,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start subscribes to session-change notifications, queues the initial session check and
// starts the consumer. It is safe to call more than once.
func (r *SessionResolver) Start(ctx context.Context) error {
	if r.backend == nil || r.roles == nil {
		return errors.New("session resolver requires a backend and a role store")
	}
	select {
	case <-r.stop:
		return ErrResolverClosed
	default:
	}

	r.startOnce.Do(func() {
		r.started.Store(true)
		go r.consume()

		// Subscribe before the initial check so no notification is lost in between.
		sub := r.backend.OnAuthStateChange(func(ev domainauth.AuthEvent) {
			r.enqueue(queueItem{event: ev})
		})
		r.mu.Lock()
		r.sub = sub
		r.mu.Unlock()

		sess, err := r.backend.GetSession(ctx)
		if err != nil {
			r.logger.WarnContext(ctx, "initial session check failed; treating as signed out", "error", err)
			sess = nil
		}
		r.enqueue(queueItem{event: domainauth.AuthEvent{Type: domainauth.EventInitialSession, Session: sess}})

		r.watcher.Add(1)
		go r.watch()
	})
	return nil
}

// Close unsubscribes, stops the consumer and clears all state. In-flight role lookups
// are cancelled and their results discarded.
func (r *SessionResolver) Close() {
	r.closeOnce.Do(func() {
		close(r.stop)
		r.cancel()
		r.startOnce.Do(func() {}) // a Start after Close must not spawn the consumer

		r.mu.Lock()
		sub := r.sub
		r.sub = nil
		r.mu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}
		if r.started.Load() {
			<-r.done
		}
		r.watcher.Wait()

		r.mu.Lock()
		r.seq++
		r.clearLocked()
		r.checked = false
		r.broadcastLocked()
		r.mu.Unlock()

		r.fetches.Wait()
	})
}

// CurrentSession returns the latest known session, or nil before the first resolution
// and after sign-out.
func (r *SessionResolver) CurrentSession() *domainauth.Session {
	return r.Snapshot().Session
}

// CurrentRole returns the role fetched for the current subject. ok is false while the
// lookup is pending or when the subject has no role row.
func (r *SessionResolver) CurrentRole() (domainauth.Role, bool) {
	s := r.Snapshot()
	return s.Role, s.HasRole
}

// Capabilities returns the derived booleans. All false without a session.
func (r *SessionResolver) Capabilities() domainauth.Capabilities {
	return r.Snapshot().Capabilities
}

// IsStaff reports whether the current role is in the staff tier.
func (r *SessionResolver) IsStaff() bool { return r.Capabilities().IsStaff }

// IsAdmin reports whether the current role is in the admin tier.
func (r *SessionResolver) IsAdmin() bool { return r.Capabilities().IsAdmin }

// IsOwner reports whether the current role is owner.
func (r *SessionResolver) IsOwner() bool { return r.Capabilities().IsOwner }

// Snapshot returns a consistent copy of the resolver state.
func (r *SessionResolver) Snapshot() domainauth.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *SessionResolver) snapshotLocked() domainauth.Snapshot {
	var sess *domainauth.Session
	if r.session != nil {
		if r.session.Expired(r.now()) {
			// Not yet revalidated; an expired token grants nothing.
			return domainauth.Snapshot{Phase: domainauth.PhaseUnresolved, Checked: r.checked}
		}
		cp := *r.session
		sess = &cp
	}
	return domainauth.Snapshot{
		Phase:        r.phase,
		Checked:      r.checked,
		Session:      sess,
		Role:         r.role,
		HasRole:      r.hasRole,
		Capabilities: domainauth.CapabilitiesFor(sess, r.role, r.hasRole),
	}
}

// WaitSettled blocks until guards can make a definite decision.
func (r *SessionResolver) WaitSettled(ctx context.Context) error {
	for {
		r.mu.RLock()
		settled := r.snapshotLocked().Settled()
		ch := r.changed
		r.mu.RUnlock()
		if settled {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stop:
			return ErrResolverClosed
		}
	}
}

// Sync waits until every notification queued before the call has been applied and the
// resulting state is settled.
func (r *SessionResolver) Sync(ctx context.Context) error {
	barrier := make(chan struct{})
	if !r.enqueue(queueItem{barrier: barrier}) {
		return ErrResolverClosed
	}
	select {
	case <-barrier:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stop:
		return ErrResolverClosed
	}
	return r.WaitSettled(ctx)
}

// SignIn submits credentials. It never sets the session or role itself; that happens when
// the backend's SIGNED_IN notification is applied. On failure the state is untouched.
func (r *SessionResolver) SignIn(ctx context.Context, email, password string) error {
	if err := r.backend.SignInWithPassword(ctx, email, password); err != nil {
		ae := asAuthError(err)
		r.logger.InfoContext(ctx, "sign in failed", "kind", ae.Kind, "error", err)
		r.metrics.Operation("sign_in", metrics.ResultError, string(ae.Kind))
		r.notifyError(ctx, ae)
		return ae
	}
	r.metrics.Operation("sign_in", metrics.ResultSuccess, "")
	r.notify(ctx, ports.NotifySuccess, i18n.KeySignInSuccess)
	return nil
}

// SignUp registers an identity, then creates its profile best-effort. Once the backend
// has accepted the registration, a profile failure is logged and never fails the call.
func (r *SessionResolver) SignUp(ctx context.Context, email, password, displayName string) error {
	identity, err := r.backend.SignUp(ctx, ports.SignUpInput{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	})
	if err != nil {
		ae := asAuthError(err)
		r.logger.InfoContext(ctx, "sign up failed", "kind", ae.Kind, "error", err)
		r.metrics.Operation("sign_up", metrics.ResultError, string(ae.Kind))
		r.notifyError(ctx, ae)
		return ae
	}

	if r.profiles != nil && identity.ID != "" {
		profile := domainauth.Profile{UserID: identity.ID, Email: identity.Email, FullName: displayName}
		if profileErr := r.profiles.CreateProfile(ctx, profile); profileErr != nil {
			r.logger.ErrorContext(ctx, "create profile failed after sign up",
				"user_id", identity.ID, "error", profileErr)
		}
	}

	r.metrics.Operation("sign_up", metrics.ResultSuccess, "")
	r.notify(ctx, ports.NotifySuccess, i18n.KeySignUpSuccess)
	return nil
}

// SignOut clears the local session and role before calling the backend, so capabilities
// are false as soon as it is invoked, whatever the backend does. Backend failures are
// logged and reported as a notification only.
func (r *SessionResolver) SignOut(ctx context.Context) {
	r.mu.Lock()
	r.seq++
	r.cutoff = r.pushed.Load()
	r.clearLocked()
	r.checked = true
	r.broadcastLocked()
	r.mu.Unlock()

	if err := r.backend.SignOut(ctx); err != nil {
		r.logger.WarnContext(ctx, "backend sign out failed; local session cleared", "error", err)
		r.metrics.Operation("sign_out", metrics.ResultError, string(asAuthError(err).Kind))
		r.notify(ctx, ports.NotifyError, i18n.KeySignOutFailed)
		return
	}
	r.metrics.Operation("sign_out", metrics.ResultSuccess, "")
	r.notify(ctx, ports.NotifySuccess, i18n.KeySignOutSuccess)
}

// RefreshRole re-fetches the role for the current subject, e.g. after an out-of-band
// grant. It is a no-op without a session.
func (r *SessionResolver) RefreshRole(ctx context.Context) {
	r.mu.Lock()
	if r.session == nil {
		r.mu.Unlock()
		r.metrics.Operation("refresh_role", metrics.ResultNoop, "")
		return
	}
	r.seq++
	seq := r.seq
	subject := r.session.UserID
	r.mu.Unlock()

	// Start a new lookup rather than joining one that began before the grant.
	r.flights.Forget(subject)
	role, ok, err := r.lookupRole(subject)
	if r.applyRole(ctx, roleResult{subject: subject, seq: seq, role: role, ok: ok, err: err}) {
		r.metrics.Operation("refresh_role", metrics.ResultSuccess, "")
		r.notify(ctx, ports.NotifySuccess, i18n.KeyRoleRefreshed)
	}
}

// Revalidate re-reads the session from the backend, which refreshes it when it is close
// to expiry. A session the backend no longer holds signs the browser out. Errors leave
// the state as it is; an expired session still grants nothing.
func (r *SessionResolver) Revalidate(ctx context.Context) error {
	r.mu.RLock()
	current := r.session
	r.mu.RUnlock()
	if current == nil {
		return nil
	}
	token := current.AccessToken

	sess, err := r.backend.GetSession(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "session revalidation failed", "error", err)
		return err
	}
	switch {
	case sess == nil:
		r.enqueue(queueItem{
			event:        domainauth.AuthEvent{Type: domainauth.EventSignedOut},
			revalidation: true,
			expect:       token,
		})
	case sess.AccessToken != token:
		r.enqueue(queueItem{
			event:        domainauth.AuthEvent{Type: domainauth.EventTokenRefreshed, Session: sess},
			revalidation: true,
			expect:       token,
		})
	}
	return nil
}

// watch revalidates the session every revalidate interval, and ahead of its expiry.
func (r *SessionResolver) watch() {
	defer r.watcher.Done()

	timer := time.NewTimer(r.nextCheck())
	defer timer.Stop()
	for {
		r.mu.RLock()
		changed := r.changed
		r.mu.RUnlock()

		select {
		case <-r.stop:
			return
		case <-changed:
		case <-timer.C:
			if err := r.Revalidate(r.ctx); err != nil {
				timer.Reset(min(minRevalidateDelay, r.revalidate))
				continue
			}
		}
		timer.Reset(r.nextCheck())
	}
}

// nextCheck returns how long until the session should be re-read.
func (r *SessionResolver) nextCheck() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d := r.revalidate
	if r.session != nil && !r.session.ExpiresAt.IsZero() {
		d = min(d, r.session.ExpiresAt.Add(-r.leeway).Sub(r.now()))
	}
	return max(d, min(minRevalidateDelay, r.revalidate))
}

// drainFetches waits for background role lookups to finish.
func (r *SessionResolver) drainFetches() { r.fetches.Wait() }

func (r *SessionResolver) consume() {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			return
		case it := <-r.events:
			if it.barrier != nil {
				close(it.barrier)
				continue
			}
			r.apply(it)
		}
	}
}

// enqueue hands an item to the consumer. It returns false once the resolver is closed.
func (r *SessionResolver) enqueue(it queueItem) bool {
	it.idx = r.pushed.Add(1)
	select {
	case r.events <- it:
		return true
	case <-r.stop:
		return false
	}
}

func (r *SessionResolver) apply(it queueItem) {
	ev := it.event

	r.mu.Lock()
	if it.revalidation && (r.session == nil || r.session.AccessToken != it.expect) {
		// The session moved on since this item was derived.
		r.mu.Unlock()
		r.logger.Debug("dropping outdated revalidation", "event", ev.Type)
		return
	}
	if ev.Session == nil {
		r.seq++
		r.clearLocked()
		r.checked = true
		r.broadcastLocked()
		r.mu.Unlock()
		r.logger.Debug("session cleared", "event", ev.Type)
		return
	}
	if it.idx <= r.cutoff {
		// Emitted before the last sign-out; applying it would resurrect the session.
		r.mu.Unlock()
		r.logger.Debug("dropping notification that predates sign out", "event", ev.Type)
		return
	}

	sess := *ev.Session
	sameSubject := r.session != nil && r.session.UserID == sess.UserID
	r.session = &sess
	r.checked = true
	if !sameSubject {
		r.role = ""
		r.hasRole = false
		r.phase = domainauth.PhaseResolvingRole
	}
	// Same subject (token refresh, repeated sign-in): revalidate quietly with the current
	// role still visible.
	r.seq++
	seq := r.seq
	r.broadcastLocked()
	r.mu.Unlock()

	r.fetchAsync(sess.UserID, seq)
}

type roleResult struct {
	subject string
	seq     uint64
	role    domainauth.Role
	ok      bool
	err     error
}

func (r *SessionResolver) fetchAsync(subject string, seq uint64) {
	r.fetches.Add(1)
	go func() {
		defer r.fetches.Done()
		role, ok, err := r.lookupRole(subject)
		r.applyRole(r.ctx, roleResult{subject: subject, seq: seq, role: role, ok: ok, err: err})
	}()
}

// lookupRole coalesces concurrent lookups for the same subject.
func (r *SessionResolver) lookupRole(subject string) (domainauth.Role, bool, error) {
	type found struct {
		role domainauth.Role
		ok   bool
	}
	start := time.Now()
	v, err, _ := r.flights.Do(subject, func() (any, error) {
		ctx, cancel := context.WithTimeout(r.ctx, r.fetchTimeout)
		defer cancel()
		role, ok, err := r.roles.RoleFor(ctx, subject)
		return found{role: role, ok: ok}, err
	})
	if err != nil {
		r.metrics.RoleFetch(metrics.ResultError, time.Since(start))
		return "", false, err
	}
	res, _ := v.(found)
	r.metrics.RoleFetch(metrics.ResultSuccess, time.Since(start))
	return res.role, res.ok, nil
}

// applyRole commits a lookup result if it is still current. It reports whether the
// result was applied.
func (r *SessionResolver) applyRole(ctx context.Context, res roleResult) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res.seq != r.seq || r.session == nil || r.session.UserID != res.subject {
		r.metrics.StaleDiscard()
		r.logger.DebugContext(ctx, "discarding stale role result",
			"subject", res.subject, "seq", res.seq, "current_seq", r.seq)
		return false
	}

	if res.err != nil {
		// A failed lookup is no role.
		r.logger.WarnContext(ctx, "role fetch failed; falling back to guest",
			"user_id", res.subject, "error", res.err)
		r.role = ""
		r.hasRole = false
	} else if _, valid := domainauth.ParseRole(string(res.role)); res.ok && !valid {
		// Fail safe: an unknown role is no role.
		r.logger.WarnContext(ctx, "ignoring unknown role", "user_id", res.subject, "role", res.role)
		r.role = ""
		r.hasRole = false
	} else {
		r.role = res.role
		r.hasRole = res.ok
	}
	r.phase = domainauth.PhaseResolved
	r.broadcastLocked()
	return true
}

func (r *SessionResolver) clearLocked() {
	r.session = nil
	r.role = ""
	r.hasRole = false
	r.phase = domainauth.PhaseUnresolved
}

func (r *SessionResolver) broadcastLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// SetCatalog switches the language of later notifications.
func (r *SessionResolver) SetCatalog(cat i18n.Catalog) {
	r.mu.Lock()
	r.catalog = cat
	r.mu.Unlock()
}

// Catalog returns the catalog notifications are currently rendered with.
func (r *SessionResolver) Catalog() i18n.Catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.catalog
}

func (r *SessionResolver) notify(ctx context.Context, level ports.NotificationLevel, key string) {
	if r.notifier == nil {
		return
	}
	r.notifier.Notify(ctx, ports.Notification{Level: level, Key: key, Message: r.Catalog().Text(key)})
}

func (r *SessionResolver) notifyError(ctx context.Context, ae *domainauth.AuthError) {
	if r.notifier == nil {
		return
	}
	r.notifier.Notify(ctx, ports.Notification{
		Level:   ports.NotifyError,
		Key:     i18n.ErrorKey(ae.Kind),
		Message: r.Catalog().Error(ae),
	})
}

// asAuthError categorizes err, passing unrecognized errors through as ErrUnknown with
// their text intact.
func asAuthError(err error) *domainauth.AuthError {
	var ae *domainauth.AuthError
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domainauth.NetworkError(err)
	}
	return &domainauth.AuthError{Kind: domainauth.ErrUnknown, Message: err.Error(), Cause: err}
}
