package devauth

// Package devauth provides a simple, config-driven auth backend for local development.

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	domainauth "github.com/darstays/stayportal/internal/domain/auth"
	"github.com/darstays/stayportal/internal/ports"
)

const (
	minPasswordLength      = 6
	defaultSessionDuration = time.Hour
)

// userNamespace derives stable ids from emails so seeded accounts keep their id across
// restarts and can be referenced by role seeds.
var userNamespace = uuid.MustParse("6f1c2f0e-8a43-4c1e-9d7e-2f4b6a3c9e10")

// User seeds one account.
type User struct {
	Email       string
	Password    string
	DisplayName string
}

// Config controls the dev auth backend.
type Config struct {
	Users           []User
	SessionDuration time.Duration // default 1h when zero
	BcryptCost      int           // default bcrypt.DefaultCost when zero
}

type account struct {
	id          string
	email       string
	displayName string
	hash        []byte
}

// Directory is the shared in-memory account table. It hands out one Backend per browser;
// sessions are persisted in the TokenStore under the browser id.
type Directory struct {
	tokens   ports.TokenStore
	duration time.Duration
	cost     int

	mu       sync.RWMutex
	accounts map[string]account
}

// NewDirectory builds a Directory and seeds cfg.Users.
func NewDirectory(cfg Config, tokens ports.TokenStore) (*Directory, error) {
	if tokens == nil {
		return nil, errors.New("dev auth: token store is required")
	}
	d := &Directory{
		tokens:   tokens,
		duration: cfg.SessionDuration,
		cost:     cfg.BcryptCost,
		accounts: make(map[string]account),
	}
	if d.duration <= 0 {
		d.duration = defaultSessionDuration
	}
	if d.cost == 0 {
		d.cost = bcrypt.DefaultCost
	}
	for _, u := range cfg.Users {
		if _, err := d.register(u.Email, u.Password, u.DisplayName); err != nil {
			return nil, fmt.Errorf("dev auth: seed %s: %w", u.Email, err)
		}
	}
	return d, nil
}

// IDFor returns the stable user id for email.
func IDFor(email string) string {
	return uuid.NewSHA1(userNamespace, []byte(normalizeEmail(email))).String()
}

// ForBrowser implements ports.AuthBackendFactory.
func (d *Directory) ForBrowser(browserID string) (ports.AuthBackend, error) {
	if browserID == "" {
		return nil, errors.New("dev auth: browser id is required")
	}
	return &Backend{dir: d, browserID: browserID, subs: make(map[uint64]func(domainauth.AuthEvent))}, nil
}

func (d *Directory) register(email, password, displayName string) (domainauth.Identity, error) {
	email = normalizeEmail(email)
	if !strings.Contains(email, "@") {
		return domainauth.Identity{}, domainauth.ClassifyMessage("Unable to validate email address: invalid format")
	}
	if len(password) < minPasswordLength {
		return domainauth.Identity{}, domainauth.ClassifyMessage("Password should be at least 6 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		return domainauth.Identity{}, fmt.Errorf("hash password: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.accounts[email]; exists {
		return domainauth.Identity{}, domainauth.ClassifyMessage("User already registered")
	}
	acct := account{id: IDFor(email), email: email, displayName: displayName, hash: hash}
	d.accounts[email] = acct
	return domainauth.Identity{ID: acct.id, Email: email, DisplayName: displayName}, nil
}

func (d *Directory) authenticate(email, password string) (account, error) {
	d.mu.RLock()
	acct, ok := d.accounts[normalizeEmail(email)]
	d.mu.RUnlock()
	if !ok {
		// Same error as a bad password so accounts cannot be enumerated.
		return account{}, domainauth.ClassifyMessage("Invalid login credentials")
	}
	if err := bcrypt.CompareHashAndPassword(acct.hash, []byte(password)); err != nil {
		return account{}, domainauth.ClassifyMessage("Invalid login credentials")
	}
	return acct, nil
}

// Backend implements ports.AuthBackend for one browser.
type Backend struct {
	dir       *Directory
	browserID string

	mu      sync.Mutex
	subs    map[uint64]func(domainauth.AuthEvent)
	nextSub uint64
}

func (b *Backend) SignInWithPassword(ctx context.Context, email, password string) error {
	acct, err := b.dir.authenticate(email, password)
	if err != nil {
		return err
	}

	access, err := randomString(32)
	if err != nil {
		return fmt.Errorf("generate access token: %w", err)
	}
	refresh, err := randomString(32)
	if err != nil {
		return fmt.Errorf("generate refresh token: %w", err)
	}
	sess := domainauth.Session{
		UserID:       acct.id,
		Email:        acct.email,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    time.Now().Add(b.dir.duration),
	}
	if err := b.dir.tokens.Save(ctx, b.browserID, sess); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	b.emit(domainauth.AuthEvent{Type: domainauth.EventSignedIn, Session: &sess})
	return nil
}

// SignUp registers the account. No session is issued; the user signs in afterwards.
func (b *Backend) SignUp(_ context.Context, in ports.SignUpInput) (domainauth.Identity, error) {
	return b.dir.register(in.Email, in.Password, in.DisplayName)
}

func (b *Backend) SignOut(ctx context.Context) error {
	if err := b.dir.tokens.Delete(ctx, b.browserID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	b.emit(domainauth.AuthEvent{Type: domainauth.EventSignedOut})
	return nil
}

// GetSession returns the persisted session. Expired dev sessions are dropped since they
// cannot be refreshed.
func (b *Backend) GetSession(ctx context.Context) (*domainauth.Session, error) {
	sess, err := b.dir.tokens.Get(ctx, b.browserID)
	if errors.Is(err, ports.ErrNoSession) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.Expired(time.Now()) {
		if delErr := b.dir.tokens.Delete(ctx, b.browserID); delErr != nil {
			return nil, fmt.Errorf("cleanup expired session: %w", delErr)
		}
		return nil, nil
	}
	return &sess, nil
}

func (b *Backend) OnAuthStateChange(fn func(domainauth.AuthEvent)) ports.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	return unsubscribeFunc(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	})
}

func (b *Backend) emit(ev domainauth.AuthEvent) {
	b.mu.Lock()
	fns := make([]func(domainauth.AuthEvent), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

type unsubscribeFunc func()

func (f unsubscribeFunc) Unsubscribe() { f() }

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
