package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/darstays/stayportal/internal/i18n"
)

const (
	// BrowserCookieName holds the opaque per-browser id the resolver registry is keyed by.
	BrowserCookieName = "browser_id"
	// LangCookieName remembers an explicit ?lang= choice.
	LangCookieName = "lang"

	defaultBrowserCookieAge = 365 * 24 * time.Hour
)

// BrowserConfig controls the browser identity middleware.
type BrowserConfig struct {
	CookieDomain string
	CookieMaxAge time.Duration // default one year
	DefaultLang  string
}

// BrowserSession assigns every browser a stable id cookie and picks its language, then
// stores both in the request context. Language order: ?lang=, lang cookie,
// Accept-Language, DefaultLang.
func BrowserSession(cfg BrowserConfig) func(http.Handler) http.Handler {
	cfg = cfg.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if c, err := r.Cookie(BrowserCookieName); err == nil {
				if parsed, parseErr := uuid.Parse(c.Value); parseErr == nil {
					id = parsed.String()
				}
			}
			if id == "" {
				id = uuid.NewString()
				setBrowserCookie(w, r, cfg, id)
			}

			lang := r.Header.Get("Accept-Language")
			if c, err := r.Cookie(LangCookieName); err == nil && c.Value != "" {
				lang = c.Value
			}
			if q := strings.TrimSpace(r.URL.Query().Get("lang")); q != "" {
				cat := i18n.New(q, cfg.DefaultLang)
				lang = cat.Lang()
				setCookie(w, r, cookieParams{
					Name: LangCookieName, Value: lang, Domain: cfg.CookieDomain, MaxAge: cfg.CookieMaxAge,
				})
			}

			ctx := withBrowser(r.Context(), id, i18n.New(lang, cfg.DefaultLang))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (cfg BrowserConfig) withDefaults() BrowserConfig {
	if cfg.CookieMaxAge <= 0 {
		cfg.CookieMaxAge = defaultBrowserCookieAge
	}
	return cfg
}

func setBrowserCookie(w http.ResponseWriter, r *http.Request, cfg BrowserConfig, id string) {
	cfg = cfg.withDefaults()
	setCookie(w, r, cookieParams{
		Name: BrowserCookieName, Value: id, Domain: cfg.CookieDomain,
		MaxAge: cfg.CookieMaxAge, HTTPOnly: true,
	})
}

type cookieParams struct {
	Name     string
	Value    string
	Domain   string
	MaxAge   time.Duration
	HTTPOnly bool
}

func setCookie(w http.ResponseWriter, r *http.Request, p cookieParams) {
	http.SetCookie(w, &http.Cookie{
		Name:     p.Name,
		Value:    p.Value,
		Path:     "/",
		Domain:   p.Domain,
		HttpOnly: p.HTTPOnly,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(p.MaxAge.Seconds()),
	})
}

// isSecureRequest reports whether the request arrived over TLS, directly or through a
// proxy that set X-Forwarded-Proto (comma-separated values allowed).
func isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	for _, proto := range strings.Split(r.Header.Get("X-Forwarded-Proto"), ",") {
		if strings.EqualFold(strings.TrimSpace(proto), "https") {
			return true
		}
	}
	return false
}
