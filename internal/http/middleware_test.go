package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsBrowserRequest(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		want   bool
	}{
		{"no accept", nil, true},
		{"html", map[string]string{"Accept": "text/html,application/xhtml+xml"}, true},
		{"json", map[string]string{"Accept": "application/json"}, false},
		{"wildcard", map[string]string{"Accept": "*/*"}, true},
		{"json body", map[string]string{"Content-Type": "application/json"}, false},
		{"xhr", map[string]string{"X-Requested-With": "XMLHttpRequest"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, isBrowserRequest(req))
		})
	}
}

func TestBrowserSession_AssignsStableID(t *testing.T) {
	var seen string
	h := BrowserSession(BrowserConfig{DefaultLang: "en"})(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = BrowserIDFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	_, err := uuid.Parse(seen)
	require.NoError(t, err)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, BrowserCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	w = httptest.NewRecorder()
	first := seen
	h.ServeHTTP(w, req)
	assert.Equal(t, first, seen)
	assert.Empty(t, w.Result().Cookies())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: BrowserCookieName, Value: "not-a-uuid"})
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.NotEqual(t, "not-a-uuid", seen)
}

func TestBrowserSession_Language(t *testing.T) {
	var lang string
	h := BrowserSession(BrowserConfig{DefaultLang: "ar"})(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		lang = CatalogFromContext(r.Context()).Lang()
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "ar", lang)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "en-GB,en;q=0.9")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "en", lang)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "en")
	req.AddCookie(&http.Cookie{Name: LangCookieName, Value: "ar"})
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "ar", lang)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/?lang=en", nil))
	assert.Equal(t, "en", lang)
	var langCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == LangCookieName {
			langCookie = c
		}
	}
	require.NotNil(t, langCookie)
	assert.Equal(t, "en", langCookie.Value)
}

func TestCSRFProtection(t *testing.T) {
	h := CSRFProtection("")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	token := cookies[0].Value

	post := func(body string, header map[string]string, withCookie bool) int {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		for k, v := range header {
			req.Header.Set(k, v)
		}
		if withCookie {
			req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: token})
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusForbidden, post("", nil, true))
	assert.Equal(t, http.StatusForbidden, post(url.Values{CSRFFieldName: {"wrong"}}.Encode(), nil, true))
	assert.Equal(t, http.StatusForbidden, post(url.Values{CSRFFieldName: {token}}.Encode(), nil, false))
	assert.Equal(t, http.StatusNoContent, post(url.Values{CSRFFieldName: {token}}.Encode(), nil, true))
	assert.Equal(t, http.StatusNoContent, post("", map[string]string{CSRFHeaderName: token}, true))
	assert.Equal(t, http.StatusNoContent, post("{}", map[string]string{"Content-Type": "application/json"}, false))
}

func TestRecover(t *testing.T) {
	h := Recover(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	env := newTestEnvWith(t, map[string]ReadinessCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	health := env.do(http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, health.StatusCode)
	assert.Empty(t, health.Cookies())

	ready := env.do(http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, ready.StatusCode)
	body := decodeBody[struct {
		Checks map[string]string `json:"checks"`
	}](t, ready)
	assert.Equal(t, "ok", body.Checks["postgres"])
	assert.Equal(t, "connection refused", body.Checks["redis"])

	metrics := env.do(http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, metrics.StatusCode)
	assert.Contains(t, readBody(t, metrics), "# metrics")
}
