package httpx

import (
	"net/http"
)

// Pages serves the landing pages of the guarded areas.
type Pages struct {
	Views *Views
}

// Home renders the public entry page.
// GET /{$}.
func (p *Pages) Home(w http.ResponseWriter, r *http.Request) {
	p.Views.Render(w, r, http.StatusOK, PageHome, ViewData{Title: "Home"})
}

// Area renders the landing page of area for an admitted request. Deeper paths under the
// area are not served.
func (p *Pages) Area(area Area) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != area.Home {
			http.NotFound(w, r)
			return
		}
		snap, _ := SnapshotFromContext(r.Context())
		if !IsBrowserRequest(r) {
			WriteJSON(w, http.StatusOK, map[string]any{"area": area.Home, "session": statusFrom(snap)})
			return
		}
		p.Views.Render(w, r, http.StatusOK, PageArea, ViewData{Title: area.Name, Snapshot: snap, Area: area})
	}
}
