package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	domainauth "github.com/darstays/stayportal/internal/domain/auth"
	"github.com/darstays/stayportal/internal/ports"
	"github.com/darstays/stayportal/internal/service"
)

// AuthHandlers provides HTTP handlers for authentication operations.
type AuthHandlers struct {
	Resolvers  ResolverSource
	Views      *Views
	Browser    BrowserConfig // cookie settings for a re-issued browser id
	SettleWait time.Duration
	Logger     *slog.Logger
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

type credentialsRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FullName    string `json:"full_name,omitempty"`
	RedirectURI string `json:"redirect_uri,omitempty"`
	LoginPath   string `json:"login_path,omitempty"`
}

// readCredentials accepts a JSON body or a form post.
func readCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	var in credentialsRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if !DecodeJSON(w, r, &in) {
			return in, false
		}
	} else {
		if err := r.ParseForm(); err != nil {
			WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_form", Message: err.Error()})
			return in, false
		}
		in = credentialsRequest{
			Email:       r.PostFormValue("email"),
			Password:    r.PostFormValue("password"),
			FullName:    r.PostFormValue("full_name"),
			RedirectURI: r.PostFormValue("redirect_uri"),
			LoginPath:   r.PostFormValue("login_path"),
		}
	}
	in.Email = strings.TrimSpace(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
	return in, true
}

// StatusResponse is the JSON view of a resolver snapshot.
type StatusResponse struct {
	Authenticated bool                    `json:"authenticated"`
	Checked       bool                    `json:"checked"`
	Settled       bool                    `json:"settled"`
	Phase         domainauth.Phase        `json:"phase"`
	User          *domainauth.Identity    `json:"user,omitempty"`
	Role          domainauth.Role         `json:"role,omitempty"`
	Tier          domainauth.Tier         `json:"tier"`
	Capabilities  domainauth.Capabilities `json:"capabilities"`
	ExpiresAt     *time.Time              `json:"expires_at,omitempty"`
}

func statusFrom(snap domainauth.Snapshot) StatusResponse {
	out := StatusResponse{
		Authenticated: snap.Authenticated(),
		Checked:       snap.Checked,
		Settled:       snap.Settled(),
		Phase:         snap.Phase,
		Tier:          snap.Capabilities.Tier(),
		Capabilities:  snap.Capabilities,
	}
	if snap.HasRole {
		out.Role = snap.Role
	}
	if snap.Session != nil {
		ident := snap.Session.Identity()
		out.User = &ident
		if !snap.Session.ExpiresAt.IsZero() {
			exp := snap.Session.ExpiresAt
			out.ExpiresAt = &exp
		}
	}
	return out
}

// areaForLogin maps a sign-in entry path back to its area; unknown paths use the guest area.
func areaForLogin(loginPath string) Area {
	switch loginPath {
	case AreaConsole.LoginPath:
		return AreaConsole
	case AreaOwner.LoginPath:
		return AreaOwner
	default:
		return AreaAccount
	}
}

// postAuthRedirect picks where a browser lands after signing in: the requested path when
// safe, otherwise the area's home.
func postAuthRedirect(candidate string, area Area) string {
	if candidate == "" {
		return area.Home
	}
	return safeRedirectPath(candidate)
}

// settle waits for queued notifications to be applied so the response reflects them.
func (h *AuthHandlers) settle(ctx context.Context, res *service.SessionResolver) {
	wait := h.SettleWait
	if wait <= 0 {
		wait = defaultSettleWait
	}
	syncCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := res.Sync(syncCtx); err != nil {
		h.logger().DebugContext(ctx, "resolver not settled before response", "error", err)
	}
}

func (h *AuthHandlers) drain(r *http.Request) []ports.Notification {
	if inbox := h.Resolvers.Inbox(BrowserIDFromContext(r.Context())); inbox != nil {
		return inbox.Drain()
	}
	return nil
}

// rotateBrowser moves a freshly signed-in session under a new browser id and issues it
// as the cookie, so an id known before sign-in never carries the session. On failure
// the session is signed out and an error response is written.
func (h *AuthHandlers) rotateBrowser(w http.ResponseWriter, r *http.Request, res *service.SessionResolver) (*service.SessionResolver, *http.Request, bool) {
	ctx := r.Context()
	oldID := BrowserIDFromContext(ctx)
	newID := uuid.NewString()
	cat := CatalogFromContext(ctx)

	rotated, err := h.Resolvers.Rotate(ctx, oldID, newID, cat.Lang())
	if err != nil {
		h.logger().ErrorContext(ctx, "browser id rotation failed; signing out", "browser_id", oldID, "error", err)
		res.SignOut(ctx)
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "session_unavailable",
			Message: "session service unavailable",
		})
		return nil, r, false
	}
	setBrowserCookie(w, r, h.Browser, newID)
	return rotated, r.WithContext(withBrowser(ctx, newID, cat)), true
}

// LoginPage renders an area's sign-in entry. A browser already admitted to the area is
// sent straight on.
// GET /auth/login, /auth/staff/login, /auth/owner/login.
func (h *AuthHandlers) LoginPage(area Area) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, ok := resolverFor(w, r, h.Resolvers, h.logger())
		if !ok {
			return
		}
		redirect := postAuthRedirect(r.URL.Query().Get("redirect_uri"), area)
		snap := settledSnapshot(r.Context(), res, h.SettleWait)
		if snap.Settled() && snap.Authenticated() && area.Allows(snap.Capabilities) {
			http.Redirect(w, r, redirect, http.StatusSeeOther)
			return
		}
		h.renderLogin(w, r, http.StatusOK, loginView{area: area, snap: snap, redirect: redirect})
	}
}

type loginView struct {
	area     Area
	snap     domainauth.Snapshot
	redirect string
	email    string
}

func (h *AuthHandlers) renderLogin(w http.ResponseWriter, r *http.Request, status int, v loginView) {
	title := "Sign in"
	if v.area.LoginPath != AreaAccount.LoginPath {
		title = v.area.Name + " sign in"
	}
	h.Views.Render(w, r, status, PageLogin, ViewData{
		Title:         title,
		Snapshot:      v.snap,
		Notifications: h.drain(r),
		Area:          v.area,
		RedirectURI:   v.redirect,
		Email:         v.email,
		AllowSignUp:   v.area.LoginPath == AreaAccount.LoginPath,
	})
}

// SignIn submits credentials for the browser.
// POST /auth/sign-in.
func (h *AuthHandlers) SignIn(w http.ResponseWriter, r *http.Request) {
	in, ok := readCredentials(w, r)
	if !ok {
		return
	}
	res, ok := resolverFor(w, r, h.Resolvers, h.logger())
	if !ok {
		return
	}
	area := areaForLogin(in.LoginPath)

	if err := res.SignIn(r.Context(), in.Email, in.Password); err != nil {
		if IsBrowserRequest(r) {
			ae := asAuthError(err)
			h.renderLogin(w, r, authErrorStatus(ae.Kind), loginView{
				area: area, snap: res.Snapshot(), redirect: postAuthRedirect(in.RedirectURI, area), email: in.Email,
			})
			return
		}
		WriteAuthError(w, CatalogFromContext(r.Context()), err)
		return
	}

	res, r, ok = h.rotateBrowser(w, r, res)
	if !ok {
		return
	}
	h.settle(r.Context(), res)
	if IsBrowserRequest(r) {
		http.Redirect(w, r, postAuthRedirect(in.RedirectURI, area), http.StatusSeeOther)
		return
	}
	WriteJSON(w, http.StatusOK, statusFrom(res.Snapshot()))
}

// SignUp registers a guest account.
// POST /auth/sign-up.
func (h *AuthHandlers) SignUp(w http.ResponseWriter, r *http.Request) {
	in, ok := readCredentials(w, r)
	if !ok {
		return
	}
	res, ok := resolverFor(w, r, h.Resolvers, h.logger())
	if !ok {
		return
	}

	if err := res.SignUp(r.Context(), in.Email, in.Password, in.FullName); err != nil {
		if IsBrowserRequest(r) {
			ae := asAuthError(err)
			h.renderLogin(w, r, authErrorStatus(ae.Kind), loginView{
				area: AreaAccount, snap: res.Snapshot(), redirect: AreaAccount.Home,
			})
			return
		}
		WriteAuthError(w, CatalogFromContext(r.Context()), err)
		return
	}

	// Auto-confirmed accounts come back signed in.
	h.settle(r.Context(), res)
	if res.Snapshot().Authenticated() {
		res, r, ok = h.rotateBrowser(w, r, res)
		if !ok {
			return
		}
		h.settle(r.Context(), res)
	}
	if IsBrowserRequest(r) {
		http.Redirect(w, r, AreaAccount.LoginPath, http.StatusSeeOther)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{"status": "registered", "session": statusFrom(res.Snapshot())})
}

// SignOut clears the browser's session. Backend failures are logged by the resolver and
// never block the local sign-out.
// POST /auth/sign-out.
func (h *AuthHandlers) SignOut(w http.ResponseWriter, r *http.Request) {
	res, ok := resolverFor(w, r, h.Resolvers, h.logger())
	if !ok {
		return
	}
	res.SignOut(r.Context())

	if IsBrowserRequest(r) {
		http.Redirect(w, r, AreaAccount.LoginPath, http.StatusSeeOther)
		return
	}
	WriteJSON(w, http.StatusOK, statusFrom(res.Snapshot()))
}

// RefreshRole re-reads the role for the current subject.
// POST /auth/refresh-role.
func (h *AuthHandlers) RefreshRole(w http.ResponseWriter, r *http.Request) {
	res, ok := resolverFor(w, r, h.Resolvers, h.logger())
	if !ok {
		return
	}
	res.RefreshRole(r.Context())

	if IsBrowserRequest(r) {
		target := "/"
		if err := r.ParseForm(); err == nil {
			target = safeRedirectPath(r.PostFormValue("redirect_uri"))
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	WriteJSON(w, http.StatusOK, statusFrom(res.Snapshot()))
}

// Status returns the current authentication status.
// GET /auth/status.
func (h *AuthHandlers) Status(w http.ResponseWriter, r *http.Request) {
	res, ok := resolverFor(w, r, h.Resolvers, h.logger())
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, statusFrom(settledSnapshot(r.Context(), res, h.SettleWait)))
}

// Notifications returns and clears the browser's pending notifications.
// GET /auth/notifications.
func (h *AuthHandlers) Notifications(w http.ResponseWriter, r *http.Request) {
	notes := h.drain(r)
	if notes == nil {
		notes = []ports.Notification{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"notifications": notes})
}
