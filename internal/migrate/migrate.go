package migrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oriys/cartsync/internal/domain"
	"github.com/oriys/cartsync/internal/localcache"
	"github.com/oriys/cartsync/internal/logging"
	"github.com/oriys/cartsync/internal/metrics"
	"github.com/oriys/cartsync/internal/observability"
	"github.com/oriys/cartsync/internal/offline"
	"github.com/oriys/cartsync/internal/remote"
)

// ErrMigrationFailed is returned when the merge could not be written. The
// guest data is untouched in that case.
var ErrMigrationFailed = errors.New("migration failed")

// Config holds the retry budget of each remote call.
type Config struct {
	MaxRetries   int
	RetryBackoff time.Duration
}

// Result is the outcome of a successful migration.
type Result struct {
	Snapshot domain.Snapshot // canonical account state after the merge
	Skipped  bool            // guest state was empty, nothing was written
}

// Migrator runs the login merge.
type Migrator struct {
	local   *localcache.Local
	backend remote.Backend
	queue   *offline.Queue
	cfg     Config
}

func New(local *localcache.Local, backend remote.Backend, queue *offline.Queue, cfg Config) *Migrator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Migrator{local: local, backend: backend, queue: queue, cfg: cfg}
}

func (m *Migrator) retry(ctx context.Context, fn func(context.Context) error) error {
	return remote.WithRetry(ctx, m.cfg.MaxRetries, m.cfg.RetryBackoff, fn)
}

// Migrate merges the guest state cached under guestPartition into the
// account of user. Either both entities are written and the guest cache
// entries and queue are deleted, or an error wrapping ErrMigrationFailed
// is returned and nothing guest-side changed.
func (m *Migrator) Migrate(ctx context.Context, guestPartition string, user domain.SessionIdentity) (Result, error) {
	ctx, span := observability.StartSpan(ctx, "migrate.login",
		append(observability.IdentityAttrs(user.Partition(), user),
			observability.AttrGuest.String(guestPartition))...)

	start := time.Now()
	res, err := m.migrate(ctx, guestPartition, user)

	metrics.Global().RecordMigration(err == nil)
	entry := &logging.ActivityEntry{
		Timestamp:  start,
		Action:     "migrate",
		Partition:  user.Partition(),
		DurationMs: time.Since(start).Milliseconds(),
		Success:    err == nil,
	}
	if err != nil {
		entry.Error = err.Error()
		logging.Op().Warn("guest migration failed", "user", user.ID, "error", err)
	} else {
		logging.Op().Info("guest state migrated", "user", user.ID,
			"items", res.Snapshot.Cart.TotalItems(), "bookmarks", res.Snapshot.Bookmarks.Count(), "skipped", res.Skipped)
	}
	logging.Activity().Log(entry)
	observability.End(span, err)
	return res, err
}

func (m *Migrator) migrate(ctx context.Context, guestPartition string, user domain.SessionIdentity) (Result, error) {
	if !user.IsAuthenticated() {
		return Result{}, fmt.Errorf("%w: %s is not an account", ErrMigrationFailed, user)
	}

	guestCart := localcache.Load(ctx, m.local, localcache.CartKey(guestPartition),
		domain.CartState{Items: []domain.LineItem{}}).Normalize()
	guestBookmarks := localcache.Load(ctx, m.local, localcache.BookmarksKey(guestPartition),
		domain.BookmarkState{Products: []domain.Product{}}).Normalize()

	var (
		authCart      domain.CartState
		authBookmarks domain.BookmarkState
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.retry(gctx, func(ctx context.Context) error {
			c, err := m.backend.GetCart(ctx, user)
			authCart = c
			return err
		})
	})
	g.Go(func() error {
		return m.retry(gctx, func(ctx context.Context) error {
			b, err := m.backend.GetBookmarks(ctx, user)
			authBookmarks = b
			return err
		})
	})
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("%w: fetch account state: %w", ErrMigrationFailed, err)
	}

	if len(guestCart.Items) == 0 && len(guestBookmarks.Products) == 0 {
		m.clearGuest(ctx, guestPartition)
		return Result{
			Snapshot: domain.Snapshot{Cart: authCart, Bookmarks: authBookmarks},
			Skipped:  true,
		}, nil
	}

	var (
		cart      domain.CartState
		bookmarks domain.BookmarkState
	)
	err := m.retry(ctx, func(ctx context.Context) error {
		c, err := m.backend.ReplaceCart(ctx, user, MergeCart(authCart, guestCart))
		cart = c
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: write cart: %w", ErrMigrationFailed, err)
	}

	err = m.retry(ctx, func(ctx context.Context) error {
		b, err := m.backend.ReplaceBookmarks(ctx, user, MergeBookmarks(authBookmarks, guestBookmarks))
		bookmarks = b
		return err
	})
	if err != nil {
		m.rollbackCart(ctx, user, authCart)
		return Result{}, fmt.Errorf("%w: write bookmarks: %w", ErrMigrationFailed, err)
	}

	m.clearGuest(ctx, guestPartition)
	return Result{Snapshot: domain.Snapshot{Cart: cart, Bookmarks: bookmarks}}, nil
}

// rollbackCart restores the account cart to its pre-merge body. It runs
// even when ctx is already cancelled.
func (m *Migrator) rollbackCart(ctx context.Context, user domain.SessionIdentity, before domain.CartState) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	err := m.retry(ctx, func(ctx context.Context) error {
		_, err := m.backend.ReplaceCart(ctx, user, before)
		return err
	})
	if err != nil {
		logging.Op().Error("cart rollback after failed migration did not complete",
			"user", user.ID, "items", len(before.Items), "error", err)
		return
	}
	logging.Op().Info("cart rolled back after failed migration", "user", user.ID)
}

// clearGuest deletes the guest cache entries and the guest queue.
func (m *Migrator) clearGuest(ctx context.Context, guestPartition string) {
	for _, key := range []string{localcache.CartKey(guestPartition), localcache.BookmarksKey(guestPartition)} {
		if err := m.local.Clear(ctx, key); err != nil {
			logging.Op().Warn("guest cache entry not deleted", "key", key, "error", err)
		}
	}
	if m.queue != nil {
		if err := m.queue.Clear(ctx, guestPartition); err != nil {
			logging.Op().Warn("guest queue not cleared", "partition", guestPartition, "error", err)
		}
	}
}
