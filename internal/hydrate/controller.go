package hydrate

import (
	"context"

	"github.com/oriys/cartsync/internal/domain"
	"github.com/oriys/cartsync/internal/logging"
	"github.com/oriys/cartsync/internal/state"
)

// Refresher pulls canonical state once the store is hydrated.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Controller mounts a store.
type Controller struct {
	store  *state.Store
	remote Refresher
}

// NewController creates a controller; remote may be nil.
func NewController(store *state.Store, remote Refresher) *Controller {
	return &Controller{store: store, remote: remote}
}

// Mount hydrates the store and returns the state of the first render. A
// server snapshot is adopted only while the store has not bootstrapped;
// once adopted it wins over the Local Cache. The remote pull that follows
// is best effort.
func (c *Controller) Mount(ctx context.Context, snap *domain.Snapshot) domain.Snapshot {
	adopted := snap != nil && c.store.AdoptSnapshot(*snap)
	first := c.store.Snapshot()

	c.store.Bootstrap(ctx)
	if !adopted {
		first = c.store.Snapshot()
	}
	logging.Op().Debug("store mounted", "from_snapshot", adopted, "total_items", first.Cart.TotalItems())

	if c.remote != nil {
		if err := c.remote.Refresh(ctx); err != nil {
			logging.Op().Debug("post-mount refresh failed", "error", err)
		}
	}
	return first
}
