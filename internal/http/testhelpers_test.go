package httpx

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/darstays/stayportal/internal/adapters/devauth"
	fakes "github.com/darstays/stayportal/internal/mocks/auth"
	"github.com/darstays/stayportal/internal/service"
)

const testPassword = "secret-pass"

type testEnv struct {
	t      *testing.T
	srv    *httptest.Server
	client *http.Client
	roles  *fakes.GatedRoleStore
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// newTestEnv serves the full router over the dev auth backend with seeded accounts
// guest@, staff@, admin@ and owner@example.com.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, nil)
}

func newTestEnvWith(t *testing.T, ready map[string]ReadinessCheck) *testEnv {
	t.Helper()
	var users []devauth.User
	for _, name := range []string{"guest", "staff", "admin", "owner"} {
		users = append(users, devauth.User{Email: name + "@example.com", Password: testPassword})
	}
	tokens := fakes.NewMemoryTokenStore()
	dir, err := devauth.NewDirectory(devauth.Config{Users: users, BcryptCost: bcrypt.MinCost}, tokens)
	require.NoError(t, err)

	roles := fakes.NewGatedRoleStore()
	roles.Set(devauth.IDFor("staff@example.com"), "staff")
	roles.Set(devauth.IDFor("admin@example.com"), "admin")
	roles.Set(devauth.IDFor("owner@example.com"), "owner")

	reg, err := service.NewResolverRegistry(service.ResolverRegistryOptions{
		Factory:     dir,
		Roles:       roles,
		Tokens:      tokens,
		Logger:      discardLogger(),
		DefaultLang: "en",
	})
	require.NoError(t, err)
	t.Cleanup(reg.Close)

	views, err := NewViews(discardLogger())
	require.NoError(t, err)

	handler := NewRouter(RouterServices{
		Resolvers:   reg,
		Views:       views,
		Metrics:     http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "# metrics\n") }),
		Ready:       ready,
		DefaultLang: "en",
		SettleWait:  100 * time.Millisecond,
		Logger:      discardLogger(),
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{
		Jar:     jar,
		Timeout: 5 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &testEnv{t: t, srv: srv, client: client, roles: roles}
}

func (e *testEnv) do(method, path string, header http.Header, body io.Reader) *http.Response {
	e.t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	require.NoError(e.t, err)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := e.client.Do(req)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// browserGet requests path as a browser would.
func (e *testEnv) browserGet(path string) *http.Response {
	e.t.Helper()
	return e.do(http.MethodGet, path, http.Header{"Accept": {"text/html"}}, nil)
}

// apiGet requests path as a JSON client.
func (e *testEnv) apiGet(path string) *http.Response {
	e.t.Helper()
	return e.do(http.MethodGet, path, http.Header{"Accept": {"application/json"}}, nil)
}

func (e *testEnv) apiPost(path string, body any) *http.Response {
	e.t.Helper()
	return e.do(http.MethodPost, path, http.Header{
		"Accept":       {"application/json"},
		"Content-Type": {"application/json"},
	}, jsonBody(e.t, body))
}

// formPost submits a browser form, including the CSRF token unless withCSRF is false.
func (e *testEnv) formPost(path string, vals url.Values, withCSRF bool) *http.Response {
	e.t.Helper()
	if withCSRF {
		vals.Set(CSRFFieldName, e.csrfToken())
	}
	return e.do(http.MethodPost, path, http.Header{
		"Accept":       {"text/html"},
		"Content-Type": {"application/x-www-form-urlencoded"},
	}, strings.NewReader(vals.Encode()))
}

func (e *testEnv) csrfToken() string {
	e.t.Helper()
	u, err := url.Parse(e.srv.URL)
	require.NoError(e.t, err)
	if tok := e.cookie(u, CSRFCookieName); tok != "" {
		return tok
	}
	e.browserGet("/auth/login")
	tok := e.cookie(u, CSRFCookieName)
	require.NotEmpty(e.t, tok)
	return tok
}

func (e *testEnv) cookie(u *url.URL, name string) string {
	for _, c := range e.client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func (e *testEnv) signIn(email string) StatusResponse {
	e.t.Helper()
	resp := e.apiPost("/auth/sign-in", map[string]string{"email": email, "password": testPassword})
	require.Equal(e.t, http.StatusOK, resp.StatusCode)
	return decodeBody[StatusResponse](e.t, resp)
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return strings.NewReader(string(raw))
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}
