package httpx

import (
	"context"

	domainauth "github.com/darstays/stayportal/internal/domain/auth"
	"github.com/darstays/stayportal/internal/i18n"
)

// Unexported context key types to avoid collisions across packages.
type (
	browserKey  struct{}
	catalogKey  struct{}
	snapshotKey struct{}
)

// withBrowser returns a child context carrying the browser id and its message catalog.
func withBrowser(ctx context.Context, browserID string, cat i18n.Catalog) context.Context {
	ctx = context.WithValue(ctx, browserKey{}, browserID)
	return context.WithValue(ctx, catalogKey{}, cat)
}

// BrowserIDFromContext returns the browser id set by BrowserSession, or "".
func BrowserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(browserKey{}).(string)
	return id
}

// CatalogFromContext returns the request's message catalog. Without BrowserSession it
// falls back to the default catalog.
func CatalogFromContext(ctx context.Context) i18n.Catalog {
	if cat, ok := ctx.Value(catalogKey{}).(i18n.Catalog); ok {
		return cat
	}
	return i18n.New("", "")
}

// SetSnapshotInContext returns a child context that carries the guard's snapshot.
func SetSnapshotInContext(ctx context.Context, snap domainauth.Snapshot) context.Context {
	return context.WithValue(ctx, snapshotKey{}, snap)
}

// SnapshotFromContext returns the snapshot a guard admitted the request with.
func SnapshotFromContext(ctx context.Context) (domainauth.Snapshot, bool) {
	snap, ok := ctx.Value(snapshotKey{}).(domainauth.Snapshot)
	return snap, ok
}
