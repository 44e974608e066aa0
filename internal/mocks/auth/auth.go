package auth

// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domainauth "github.com/darstays/stayportal/internal/domain/auth"
	"github.com/darstays/stayportal/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.AuthBackend  = (*FakeBackend)(nil)
	_ ports.RoleStore    = (*GatedRoleStore)(nil)
	_ ports.TokenStore   = (*MemoryTokenStore)(nil)
	_ ports.Notifier     = (*RecordingNotifier)(nil)
	_ ports.ProfileStore = (*MemoryProfileStore)(nil)
)

type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }

func (notFoundError) Is(target error) bool { return target == ports.ErrNoSession }

// ErrNotFound is returned by mocks when an entity is not present.
var ErrNotFound error = notFoundError{}

type fakeUser struct {
	id       string
	password string
}

// FakeBackend simulates the hosted auth backend. Successful mutating calls update the
// fake's session and then notify subscribers, the way the real backend does.
type FakeBackend struct {
	SignInFunc     func(ctx context.Context, email, password string) error
	SignUpFunc     func(ctx context.Context, in ports.SignUpInput) (domainauth.Identity, error)
	SignOutFunc    func(ctx context.Context) error
	GetSessionFunc func(ctx context.Context) (*domainauth.Session, error)

	mu      sync.Mutex
	users   map[string]fakeUser
	session *domainauth.Session
	subs    map[int]func(domainauth.AuthEvent)
	nextSub int
	signOut int
}

// NewFakeBackend creates an empty fake backend.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		users: make(map[string]fakeUser),
		subs:  make(map[int]func(domainauth.AuthEvent)),
	}
}

// AddUser registers credentials that SignInWithPassword will accept.
func (f *FakeBackend) AddUser(id, email, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[email] = fakeUser{id: id, password: password}
}

// SetSession sets the persisted session returned by GetSession without notifying.
func (f *FakeBackend) SetSession(sess *domainauth.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = sess
}

// Emit delivers ev to every subscriber, in subscription order.
func (f *FakeBackend) Emit(ev domainauth.AuthEvent) {
	f.mu.Lock()
	fns := make([]func(domainauth.AuthEvent), 0, len(f.subs))
	for i := 0; i < f.nextSub; i++ {
		if fn, ok := f.subs[i]; ok {
			fns = append(fns, fn)
		}
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Subscribers reports how many handlers are registered.
func (f *FakeBackend) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// SignOutCalls reports how many times SignOut was invoked.
func (f *FakeBackend) SignOutCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOut
}

func (f *FakeBackend) SignInWithPassword(ctx context.Context, email, password string) error {
	if f.SignInFunc != nil {
		return f.SignInFunc(ctx, email, password)
	}

	f.mu.Lock()
	u, ok := f.users[email]
	if !ok || u.password != password {
		f.mu.Unlock()
		return domainauth.ClassifyMessage("Invalid login credentials")
	}
	sess := SessionFor(u.id, email)
	f.session = &sess
	f.mu.Unlock()

	f.Emit(domainauth.AuthEvent{Type: domainauth.EventSignedIn, Session: &sess})
	return nil
}

func (f *FakeBackend) SignUp(ctx context.Context, in ports.SignUpInput) (domainauth.Identity, error) {
	if f.SignUpFunc != nil {
		return f.SignUpFunc(ctx, in)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.users[in.Email]; exists {
		return domainauth.Identity{}, domainauth.ClassifyMessage("User already registered")
	}
	if len(in.Password) < 6 {
		return domainauth.Identity{}, domainauth.ClassifyMessage("Password should be at least 6 characters")
	}
	id := fmt.Sprintf("user-%d", len(f.users)+1)
	f.users[in.Email] = fakeUser{id: id, password: in.Password}
	return domainauth.Identity{ID: id, Email: in.Email, DisplayName: in.DisplayName}, nil
}

func (f *FakeBackend) SignOut(ctx context.Context) error {
	f.mu.Lock()
	f.signOut++
	f.mu.Unlock()

	if f.SignOutFunc != nil {
		return f.SignOutFunc(ctx)
	}

	f.mu.Lock()
	f.session = nil
	f.mu.Unlock()
	f.Emit(domainauth.AuthEvent{Type: domainauth.EventSignedOut})
	return nil
}

func (f *FakeBackend) GetSession(ctx context.Context) (*domainauth.Session, error) {
	if f.GetSessionFunc != nil {
		return f.GetSessionFunc(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return nil, nil
	}
	cp := *f.session
	return &cp, nil
}

func (f *FakeBackend) OnAuthStateChange(fn func(domainauth.AuthEvent)) ports.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	return subscription(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	})
}

type subscription func()

func (s subscription) Unsubscribe() { s() }

// SessionFor builds a deterministic session for tests.
func SessionFor(userID, email string) domainauth.Session {
	return domainauth.Session{
		UserID:       userID,
		Email:        email,
		AccessToken:  "access-" + userID,
		RefreshToken: "refresh-" + userID,
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

// GatedRoleStore is an in-memory role table whose lookups can be held open per subject,
// so tests can control the order in which concurrent lookups complete.
type GatedRoleStore struct {
	mu      sync.Mutex
	roles   map[string]domainauth.Role
	errs    map[string]error
	gates   map[string]chan struct{}
	calls   map[string]int
	entered chan string
}

// NewGatedRoleStore creates an empty store with no gates.
func NewGatedRoleStore() *GatedRoleStore {
	return &GatedRoleStore{
		roles:   make(map[string]domainauth.Role),
		errs:    make(map[string]error),
		gates:   make(map[string]chan struct{}),
		calls:   make(map[string]int),
		entered: make(chan string, 256),
	}
}

// Set stores a role row for userID.
func (s *GatedRoleStore) Set(userID string, role domainauth.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[userID] = role
}

// Remove deletes the role row for userID.
func (s *GatedRoleStore) Remove(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roles, userID)
}

// Fail makes lookups for userID return err. A nil err clears the failure.
func (s *GatedRoleStore) Fail(userID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, userID)
		return
	}
	s.errs[userID] = err
}

// Hold makes subsequent lookups for userID block until the returned release func is
// called. Release is idempotent.
func (s *GatedRoleStore) Hold(userID string) (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gates[userID] = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { close(gate) })
	}
}

// Entered yields the subject of every lookup as it starts.
func (s *GatedRoleStore) Entered() <-chan string { return s.entered }

// WaitEntered blocks until a lookup for userID starts or the timeout elapses.
func (s *GatedRoleStore) WaitEntered(userID string, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case got := <-s.entered:
			if got == userID {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

// ResetEntered discards lookup starts recorded so far.
func (s *GatedRoleStore) ResetEntered() {
	for {
		select {
		case <-s.entered:
		default:
			return
		}
	}
}

// Calls reports how many lookups ran for userID.
func (s *GatedRoleStore) Calls(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[userID]
}

func (s *GatedRoleStore) RoleFor(ctx context.Context, userID string) (domainauth.Role, bool, error) {
	s.mu.Lock()
	s.calls[userID]++
	gate := s.gates[userID]
	s.mu.Unlock()

	select {
	case s.entered <- userID:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}

	// Read after the gate so a Set while held is visible to the held lookup.
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[userID]; err != nil {
		return "", false, err
	}
	role, ok := s.roles[userID]
	return role, ok, nil
}

// MemoryTokenStore is an in-memory token store for unit tests.
type MemoryTokenStore struct {
	mu       sync.Mutex
	sessions map[string]domainauth.Session
}

// NewMemoryTokenStore creates a new in-memory token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{sessions: make(map[string]domainauth.Session)}
}

func (m *MemoryTokenStore) Save(_ context.Context, browserID string, sess domainauth.Session) error {
	if browserID == "" {
		return errors.New("browser ID cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[browserID] = sess
	return nil
}

func (m *MemoryTokenStore) Get(_ context.Context, browserID string) (domainauth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[browserID]
	if !ok {
		return domainauth.Session{}, ErrNotFound
	}
	return sess, nil
}

func (m *MemoryTokenStore) Delete(_ context.Context, browserID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, browserID)
	return nil
}

// RecordingNotifier captures notifications in order.
type RecordingNotifier struct {
	mu   sync.Mutex
	list []ports.Notification
}

func (n *RecordingNotifier) Notify(_ context.Context, note ports.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.list = append(n.list, note)
}

// All returns a copy of the captured notifications.
func (n *RecordingNotifier) All() []ports.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ports.Notification(nil), n.list...)
}

// MemoryProfileStore records created profiles. Err, when set, is returned by every call.
type MemoryProfileStore struct {
	Err error

	mu       sync.Mutex
	profiles []domainauth.Profile
}

func (m *MemoryProfileStore) CreateProfile(_ context.Context, p domainauth.Profile) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles = append(m.profiles, p)
	return nil
}

// Profiles returns a copy of the created profiles.
func (m *MemoryProfileStore) Profiles() []domainauth.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domainauth.Profile(nil), m.profiles...)
}
