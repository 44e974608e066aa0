package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	domainauth "github.com/darstays/stayportal/internal/domain/auth"
	"github.com/darstays/stayportal/internal/service"
)

const defaultSettleWait = 2 * time.Second

// ResolverSource hands out the running resolver for a browser.
type ResolverSource interface {
	Get(ctx context.Context, browserID, lang string) (*service.SessionResolver, error)
	Rotate(ctx context.Context, oldID, newID, lang string) (*service.SessionResolver, error)
	Inbox(browserID string) *service.Inbox
}

// Area is one guarded surface: its sign-in entry and the capability check it applies.
type Area struct {
	Name      string
	Home      string
	LoginPath string
	Allows    func(domainauth.Capabilities) bool
}

//nolint:gochecknoglobals // static area table
var (
	// AreaAccount is the guest area; any session passes.
	AreaAccount = Area{
		Name: "My account", Home: "/account/", LoginPath: "/auth/login",
		Allows: func(domainauth.Capabilities) bool { return true },
	}
	AreaConsole = Area{
		Name: "Staff console", Home: "/console/", LoginPath: "/auth/staff/login",
		Allows: func(c domainauth.Capabilities) bool { return c.IsStaff },
	}
	AreaAdmin = Area{
		Name: "Administration", Home: "/console/admin/", LoginPath: "/auth/staff/login",
		Allows: func(c domainauth.Capabilities) bool { return c.IsAdmin },
	}
	AreaOwner = Area{
		Name: "Owner portal", Home: "/owner/", LoginPath: "/auth/owner/login",
		Allows: func(c domainauth.Capabilities) bool { return c.IsOwner },
	}
)

// Guard gates areas on the browser's resolver snapshot.
type Guard struct {
	Resolvers  ResolverSource
	Views      *Views
	SettleWait time.Duration // how long a request waits for the resolver to settle
	Logger     *slog.Logger
}

func (g *Guard) logger() *slog.Logger {
	if g != nil && g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

// Require admits a request only once its resolver has settled with a session that
// passes area.Allows. While unsettled it shows a loading view; without a session it
// sends the caller to the area's sign-in entry; a failed tier check is denied in place.
func (g *Guard) Require(area Area) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := resolverFor(w, r, g.Resolvers, g.logger())
			if !ok {
				return
			}
			snap := settledSnapshot(r.Context(), res, g.SettleWait)

			switch {
			case !snap.Settled():
				g.loading(w, r, snap)
			case !snap.Authenticated():
				g.signInRequired(w, r, area)
			case !area.Allows(snap.Capabilities):
				g.denied(w, r, area, snap)
			default:
				next.ServeHTTP(w, r.WithContext(SetSnapshotInContext(r.Context(), snap)))
			}
		})
	}
}

func (g *Guard) loading(w http.ResponseWriter, r *http.Request, snap domainauth.Snapshot) {
	if IsBrowserRequest(r) {
		w.Header().Set("Refresh", "1")
		g.Views.Render(w, r, http.StatusOK, PageLoading, ViewData{Title: "Loading", Snapshot: snap})
		return
	}
	w.Header().Set("Retry-After", "1")
	WriteError(w, ErrorParams{
		Code:    http.StatusServiceUnavailable,
		ErrCode: "session_resolving",
		Message: "session is still being resolved",
	})
}

func (g *Guard) signInRequired(w http.ResponseWriter, r *http.Request, area Area) {
	if !IsBrowserRequest(r) {
		WriteError(w, ErrorParams{
			Code:    http.StatusUnauthorized,
			ErrCode: "authentication_required",
			Message: "authentication required",
		})
		return
	}
	http.Redirect(w, r, loginURL(area.LoginPath, safeRedirectPath(r.URL.RequestURI())), http.StatusSeeOther)
}

func (g *Guard) denied(w http.ResponseWriter, r *http.Request, area Area, snap domainauth.Snapshot) {
	g.logger().InfoContext(r.Context(), "access denied",
		"area", area.Home, "tier", snap.Capabilities.Tier(), "user_id", snap.Session.UserID)
	if !IsBrowserRequest(r) {
		WriteError(w, ErrorParams{
			Code:    http.StatusForbidden,
			ErrCode: "insufficient_permissions",
			Message: "insufficient permissions",
		})
		return
	}
	g.Views.Render(w, r, http.StatusForbidden, PageDenied, ViewData{
		Title:       "Access denied",
		Snapshot:    snap,
		Area:        area,
		RedirectURI: safeRedirectPath(r.URL.RequestURI()),
	})
}

// resolverFor fetches the request's resolver, writing a 500 when it cannot be built.
func resolverFor(w http.ResponseWriter, r *http.Request, src ResolverSource, logger *slog.Logger) (*service.SessionResolver, bool) {
	browserID := BrowserIDFromContext(r.Context())
	res, err := src.Get(r.Context(), browserID, CatalogFromContext(r.Context()).Lang())
	if err != nil {
		logger.ErrorContext(r.Context(), "session resolver unavailable", "browser_id", browserID, "error", err)
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "session_unavailable",
			Message: "session service unavailable",
		})
		return nil, false
	}
	return res, true
}

// settledSnapshot waits up to wait for the resolver to settle and returns its snapshot,
// settled or not.
func settledSnapshot(ctx context.Context, res *service.SessionResolver, wait time.Duration) domainauth.Snapshot {
	if wait <= 0 {
		wait = defaultSettleWait
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	// A timeout just leaves the snapshot unsettled.
	_ = res.WaitSettled(waitCtx)
	return res.Snapshot()
}

func loginURL(loginPath, redirect string) string {
	u := url.URL{Path: loginPath}
	q := url.Values{}
	q.Set("redirect_uri", redirect)
	u.RawQuery = q.Encode()
	return u.String()
}

// safeRedirectPath ensures the provided redirect is a same-origin relative path
// starting with "/" and not an absolute URL. Returns "/" when invalid.
func safeRedirectPath(candidate string) string {
	if candidate == "" {
		return "/"
	}
	u, err := url.Parse(candidate)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(candidate, "//") {
		return "/"
	}
	return candidate
}
