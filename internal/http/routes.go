// Package httpx serves the sign-in endpoints and the role-guarded areas.
package httpx

import (
	"log/slog"
	"net/http"
	"time"
)

// RouterServices holds everything the HTTP router needs.
type RouterServices struct {
	Resolvers    ResolverSource
	Views        *Views
	Metrics      http.Handler              // Optional: served on /metrics
	Ready        map[string]ReadinessCheck // Optional: dependency checks for /readyz
	CookieDomain string
	DefaultLang  string
	SettleWait   time.Duration
	Logger       *slog.Logger
}

// NewRouter builds the application handler. Probe and metrics endpoints sit outside the
// browser middleware so they never mint cookies.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	app := http.NewServeMux()
	browser := BrowserConfig{CookieDomain: services.CookieDomain, DefaultLang: services.DefaultLang}
	auth := &AuthHandlers{
		Resolvers:  services.Resolvers,
		Views:      services.Views,
		Browser:    browser,
		SettleWait: services.SettleWait,
		Logger:     logger,
	}
	guard := &Guard{
		Resolvers:  services.Resolvers,
		Views:      services.Views,
		SettleWait: services.SettleWait,
		Logger:     logger,
	}
	pages := &Pages{Views: services.Views}

	registerAuthRoutes(app, auth)
	app.HandleFunc("GET /{$}", pages.Home)
	for _, area := range []Area{AreaAccount, AreaConsole, AreaAdmin, AreaOwner} {
		app.Handle("GET "+area.Home, guard.Require(area)(pages.Area(area)))
	}

	var handler http.Handler = app
	handler = CSRFProtection(services.CookieDomain)(handler)
	handler = BrowserSession(browser)(handler)
	handler = BrowserDetection()(handler)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", healthHandler)
	root.HandleFunc("HEAD /healthz", healthHandler)
	root.Handle("GET /readyz", readyHandler(services.Ready))
	if services.Metrics != nil {
		root.Handle("GET /metrics", services.Metrics)
	}
	root.Handle("/", handler)

	return Recover(logger)(Logging(logger)(root))
}

func registerAuthRoutes(mux *http.ServeMux, h *AuthHandlers) {
	mux.Handle("GET /auth/login", h.LoginPage(AreaAccount))
	mux.Handle("GET /auth/staff/login", h.LoginPage(AreaConsole))
	mux.Handle("GET /auth/owner/login", h.LoginPage(AreaOwner))
	mux.HandleFunc("POST /auth/sign-in", h.SignIn)
	mux.HandleFunc("POST /auth/sign-up", h.SignUp)
	mux.HandleFunc("POST /auth/sign-out", h.SignOut)
	mux.HandleFunc("POST /auth/refresh-role", h.RefreshRole)
	mux.HandleFunc("GET /auth/status", h.Status)
	mux.HandleFunc("GET /auth/notifications", h.Notifications)
}
