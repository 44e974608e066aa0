package httpx

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	domainauth "github.com/darstays/stayportal/internal/domain/auth"
	"github.com/darstays/stayportal/internal/ports"
)

//go:embed views/*.html
var viewFS embed.FS

// Page names.
const (
	PageHome    = "home"
	PageLogin   = "login"
	PageLoading = "loading"
	PageDenied  = "denied"
	PageArea    = "area"
)

// ViewData is the template payload. Lang, Dir and CSRFToken are filled by Render.
type ViewData struct {
	Title         string
	Lang          string
	Dir           string
	CSRFToken     string
	Snapshot      domainauth.Snapshot
	Notifications []ports.Notification
	Area          Area
	RedirectURI   string
	Email         string
	AllowSignUp   bool
}

// Views renders the embedded HTML pages. Each page is parsed with the shared layout.
type Views struct {
	pages  map[string]*template.Template
	logger *slog.Logger
}

// NewViews parses every page template.
func NewViews(logger *slog.Logger) (*Views, error) {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Views{pages: make(map[string]*template.Template), logger: logger}
	for _, page := range []string{PageHome, PageLogin, PageLoading, PageDenied, PageArea} {
		t, err := template.ParseFS(viewFS, "views/layout.html", "views/"+page+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s view: %w", page, err)
		}
		v.pages[page] = t
	}
	return v, nil
}

// Render executes page into a buffer first so a template error can still produce a 500.
func (v *Views) Render(w http.ResponseWriter, r *http.Request, status int, page string, data ViewData) {
	t, ok := v.pages[page]
	if !ok {
		v.logger.ErrorContext(r.Context(), "unknown view", "page", page)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	cat := CatalogFromContext(r.Context())
	data.Lang = cat.Lang()
	data.Dir = cat.Dir()
	data.CSRFToken = CSRFToken(r)

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		v.logger.ErrorContext(r.Context(), "render view failed", "page", page, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
