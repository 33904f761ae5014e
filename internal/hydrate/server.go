// Package hydrate produces the first render state. The server half reads
// the cookie mirror of each request into a snapshot; the client half lets
// the store adopt that snapshot before its own bootstrap completes.
package hydrate

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/oriys/cartsync/internal/cookie"
	"github.com/oriys/cartsync/internal/domain"
)

type contextKey struct{}

// Middleware computes the snapshot of every request from its mirror
// cookies and stores it in the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := cookie.ReadSnapshot(r)
		next.ServeHTTP(w, r.WithContext(WithSnapshot(r.Context(), snap)))
	})
}

// WithSnapshot returns a copy of ctx carrying snap.
func WithSnapshot(ctx context.Context, snap domain.Snapshot) context.Context {
	return context.WithValue(ctx, contextKey{}, snap)
}

// FromContext returns the request snapshot. Without Middleware it reports
// false and an empty snapshot.
func FromContext(ctx context.Context) (domain.Snapshot, bool) {
	snap, ok := ctx.Value(contextKey{}).(domain.Snapshot)
	if !ok {
		return domain.EmptySnapshot(), false
	}
	return snap, true
}

// Handler serves the request snapshot with derived totals as JSON. It
// reads the cookies itself when Middleware is not mounted.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, ok := FromContext(r.Context())
		if !ok {
			snap = cookie.ReadSnapshot(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		json.NewEncoder(w).Encode(snap.View())
	})
}

// Decode parses a snapshot served by Handler.
func Decode(data []byte) (domain.Snapshot, error) {
	var view domain.SnapshotView
	if err := json.Unmarshal(data, &view); err != nil {
		return domain.Snapshot{}, err
	}
	return domain.Snapshot{Cart: view.Cart.State(), Bookmarks: view.Bookmarks.State()}, nil
}
