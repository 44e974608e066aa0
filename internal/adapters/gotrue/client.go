package gotrue

// Package gotrue is a client for the hosted auth service's REST API (GoTrue-compatible).
// One Client is bound to one browser; its session is persisted in a ports.TokenStore.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	domainauth "github.com/darstays/stayportal/internal/domain/auth"
	"github.com/darstays/stayportal/internal/ports"
)

const (
	defaultTimeout       = 15 * time.Second
	defaultRefreshLeeway = time.Minute
	maxErrorBody         = 64 << 10
)

// Config holds configuration for the hosted auth client.
type Config struct {
	BaseURL       string        // project URL; the client appends /auth/v1
	AnonKey       string        // sent as the apikey header on every call
	JWTSecret     string        // optional; enables HS256 verification of access tokens
	RefreshLeeway time.Duration // refresh this long before expiry; default 1m
	HTTPClient    *http.Client  // optional, defaults to a client with a 15s timeout
	Logger        *slog.Logger
}

// Factory builds per-browser clients sharing one HTTP client and token store.
type Factory struct {
	cfg    Config
	tokens ports.TokenStore
	logger *slog.Logger
}

// NewFactory validates cfg and returns a Factory.
func NewFactory(cfg Config, tokens ports.TokenStore) (*Factory, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("gotrue: base URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("gotrue: invalid base URL: %w", err)
	}
	if cfg.AnonKey == "" {
		return nil, errors.New("gotrue: anon key is required")
	}
	if tokens == nil {
		return nil, errors.New("gotrue: token store is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if cfg.RefreshLeeway <= 0 {
		cfg.RefreshLeeway = defaultRefreshLeeway
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{cfg: cfg, tokens: tokens, logger: logger.With("component", "gotrue")}, nil
}

// ForBrowser implements ports.AuthBackendFactory.
func (f *Factory) ForBrowser(browserID string) (ports.AuthBackend, error) {
	return f.Client(browserID)
}

// Client returns the concrete client for browserID.
func (f *Factory) Client(browserID string) (*Client, error) {
	if browserID == "" {
		return nil, errors.New("gotrue: browser id is required")
	}
	return &Client{
		cfg:       f.cfg,
		tokens:    f.tokens,
		logger:    f.logger.With("browser_id", browserID),
		browserID: browserID,
		subs:      make(map[uint64]func(domainauth.AuthEvent)),
	}, nil
}

// Client implements ports.AuthBackend against the hosted auth API.
type Client struct {
	cfg       Config
	tokens    ports.TokenStore
	logger    *slog.Logger
	browserID string

	// mu serializes session reads that may refresh.
	mu        sync.Mutex
	source    oauth2.TokenSource
	sourceFor string
	refresher *refresher

	subMu   sync.Mutex
	subs    map[uint64]func(domainauth.AuthEvent)
	nextSub uint64
}

type passwordRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpRequest struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Data     map[string]any `json:"data,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type userResponse struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

type sessionResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user"`
}

// signUpResponse is either a bare user (confirmation pending) or a session with a user.
type signUpResponse struct {
	sessionResponse
	userResponse
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) error {
	var resp sessionResponse
	err := c.do(ctx, http.MethodPost, "/token?grant_type=password", "", passwordRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return err
	}
	sess, err := c.sessionFrom(resp)
	if err != nil {
		return err
	}
	if err := c.tokens.Save(ctx, c.browserID, sess); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	c.emit(domainauth.AuthEvent{Type: domainauth.EventSignedIn, Session: &sess})
	return nil
}

// SignUp registers the identity. When the project auto-confirms emails the response
// carries a session, which is persisted and announced as SIGNED_IN.
func (c *Client) SignUp(ctx context.Context, in ports.SignUpInput) (domainauth.Identity, error) {
	body := signUpRequest{Email: in.Email, Password: in.Password}
	if in.DisplayName != "" {
		body.Data = map[string]any{"full_name": in.DisplayName}
	}
	var resp signUpResponse
	if err := c.do(ctx, http.MethodPost, "/signup", "", body, &resp); err != nil {
		return domainauth.Identity{}, err
	}

	user := resp.userResponse
	if resp.User != nil {
		user = *resp.User
	}
	if user.ID == "" {
		return domainauth.Identity{}, domainauth.ClassifyMessage("Signup response did not include a user")
	}
	ident := domainauth.Identity{ID: user.ID, Email: user.Email, DisplayName: displayName(user.UserMetadata)}
	if ident.DisplayName == "" {
		ident.DisplayName = in.DisplayName
	}

	if resp.AccessToken != "" {
		sess, err := c.sessionFrom(resp.sessionResponse)
		if err != nil {
			return ident, err
		}
		if err := c.tokens.Save(ctx, c.browserID, sess); err != nil {
			return ident, fmt.Errorf("persist session: %w", err)
		}
		c.emit(domainauth.AuthEvent{Type: domainauth.EventSignedIn, Session: &sess})
	}
	return ident, nil
}

// SignOut revokes the session remotely and always forgets it locally: the stored session
// is deleted and SIGNED_OUT emitted even when loading or revoking it failed. Every
// failure is returned, joined.
func (c *Client) SignOut(ctx context.Context) error {
	var errs []error
	sess, err := c.tokens.Get(ctx, c.browserID)
	switch {
	case err == nil && sess.AccessToken != "":
		if remoteErr := c.do(ctx, http.MethodPost, "/logout", sess.AccessToken, nil, nil); remoteErr != nil {
			errs = append(errs, remoteErr)
		}
	case err != nil && !errors.Is(err, ports.ErrNoSession):
		errs = append(errs, fmt.Errorf("load session: %w", err))
	}

	c.mu.Lock()
	c.source, c.sourceFor = nil, ""
	c.mu.Unlock()

	if delErr := c.tokens.Delete(ctx, c.browserID); delErr != nil {
		errs = append(errs, fmt.Errorf("delete session: %w", delErr))
	}
	c.emit(domainauth.AuthEvent{Type: domainauth.EventSignedOut})
	return errors.Join(errs...)
}

// GetSession returns the persisted session, refreshing it first when the access token is
// within the refresh leeway of expiry. A rejected refresh token ends the session.
func (c *Client) GetSession(ctx context.Context) (*domainauth.Session, error) {
	sess, err := c.tokens.Get(ctx, c.browserID)
	if errors.Is(err, ports.ErrNoSession) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !sess.Expired(time.Now().Add(c.cfg.RefreshLeeway)) {
		return &sess, nil
	}
	if sess.RefreshToken == "" {
		return nil, c.dropSession(ctx)
	}

	refreshed, err := c.refresh(ctx, sess)
	if err != nil {
		if kind := domainauth.KindOf(err); kind == "" || kind == domainauth.ErrNetworkFailure {
			return nil, err
		}
		c.logger.WarnContext(ctx, "refresh token rejected, ending session", "error", err)
		return nil, errors.Join(err, c.dropSession(ctx))
	}
	return refreshed, nil
}

func (c *Client) dropSession(ctx context.Context) error {
	if err := c.tokens.Delete(ctx, c.browserID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	c.emit(domainauth.AuthEvent{Type: domainauth.EventSignedOut})
	return nil
}

func (c *Client) OnAuthStateChange(fn func(domainauth.AuthEvent)) ports.Subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return unsubscribeFunc(func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subs, id)
	})
}

func (c *Client) emit(ev domainauth.AuthEvent) {
	c.subMu.Lock()
	fns := make([]func(domainauth.AuthEvent), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

type unsubscribeFunc func()

func (f unsubscribeFunc) Unsubscribe() { f() }

// do sends a JSON request to {base}/auth/v1{path}. A non-2xx response is decoded into an
// *AuthError; transport failures become network failures.
func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+"/auth/v1"+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", c.cfg.AnonKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer == "" {
		bearer = c.cfg.AnonKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return domainauth.NetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", strings.SplitN(path, "?", 2)[0], err)
	}
	return nil
}

type errorResponse struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorDescription string `json:"error_description"`
	Error            string `json:"error"`
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var er errorResponse
	_ = json.Unmarshal(raw, &er)

	msg := firstNonEmpty(er.Msg, er.Message, er.ErrorDescription, er.Error)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	ae := domainauth.ClassifyMessage(msg)
	if ae.Kind == domainauth.ErrUnknown && resp.StatusCode == http.StatusTooManyRequests {
		ae.Kind = domainauth.ErrRateLimited
	}
	ae.Cause = fmt.Errorf("auth api status %d", resp.StatusCode)
	return ae
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func displayName(meta map[string]any) string {
	for _, key := range []string{"full_name", "name"} {
		if s, ok := meta[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
