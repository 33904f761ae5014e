package syncd

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oriys/cartsync/internal/domain"
	"github.com/oriys/cartsync/internal/logging"
	"github.com/oriys/cartsync/internal/metrics"
	"github.com/oriys/cartsync/internal/notify"
	"github.com/oriys/cartsync/internal/offline"
	"github.com/oriys/cartsync/internal/remote"
)

// SetOnline records the reachability signal and shares it with other
// processes on the notifier. Regaining reachability drains the offline
// queue.
func (d *Daemon) SetOnline(online bool) {
	d.setOnline(online, true)
}

func (d *Daemon) setOnline(online, announce bool) {
	d.mu.Lock()
	was := d.online
	d.online = online
	d.mu.Unlock()

	if announce {
		payload := notify.Offline
		if online {
			payload = notify.Online
		}
		msg := notify.Message{Topic: notify.TopicReachability, Origin: d.cfg.Origin, Payload: payload}
		if err := d.cfg.Notifier.Notify(d.ctx, msg); err != nil {
			logging.Op().Debug("reachability not announced", "error", err)
		}
	}

	if online && !was {
		logging.Op().Info("backend reachable again, draining offline queue")
		d.trigger("online")
	}
}

// Focus is the window-focus trigger.
func (d *Daemon) Focus() { d.trigger("focus") }

// Visible is the visibility-regained trigger.
func (d *Daemon) Visible() { d.trigger("visible") }

// trigger runs a refresh in the background.
func (d *Daemon) trigger(reason string) {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.mu.Unlock()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(d.ctx, d.cfg.TriggerTimeout)
		defer cancel()
		if err := d.Refresh(ctx); err != nil {
			logging.Op().Debug("triggered sync failed", "trigger", reason, "error", err)
		}
	}()
}

// Refresh drains the offline queue and then pulls canonical state.
// Concurrent callers share one in-flight refresh. Offline it does nothing.
func (d *Daemon) Refresh(ctx context.Context) error {
	_, err, _ := d.flight.Do("refresh", func() (any, error) {
		if !d.Online() {
			return nil, nil
		}
		if _, err := d.Drain(ctx); err != nil {
			return nil, err
		}
		return nil, d.Pull(ctx)
	})
	return err
}

// Drain replays the offline queue of the current partition and reconciles
// the store with the last canonical body of each entity.
func (d *Daemon) Drain(ctx context.Context) (offline.DrainResult, error) {
	id := d.target.Identity()
	partition := id.Partition()
	if d.queue.Len(ctx, partition) == 0 {
		return offline.DrainResult{}, nil
	}

	revs := d.revisions()
	start := time.Now()
	last := make(map[domain.Entity]remote.Result)
	res, err := d.queue.Drain(ctx, partition, func(ctx context.Context, op domain.Operation) error {
		r, err := d.send(ctx, pendingOp{identity: id, op: op})
		if err == nil {
			last[op.Entity] = r
		}
		return err
	})

	entry := &logging.ActivityEntry{
		Timestamp:  start,
		Action:     "drain",
		Partition:  partition,
		DurationMs: time.Since(start).Milliseconds(),
		Success:    err == nil,
		Attempts:   res.Replayed + res.Dropped,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	logging.Activity().Log(entry)

	if err == nil && d.queue.Len(ctx, partition) == 0 {
		for entity, r := range last {
			if !d.lanePending(entity) {
				d.reconcile(id, revs[entity], r)
			}
		}
	}
	if err != nil {
		return res, fmt.Errorf("drain %s: %w", partition, err)
	}
	return res, nil
}

// Pull replaces the store's state with the backend's, cart and bookmarks
// fetched concurrently. It is skipped while local intent is unsent.
func (d *Daemon) Pull(ctx context.Context) error {
	id := d.target.Identity()
	if d.hasPending(ctx, id.Partition()) {
		logging.Op().Debug("pull skipped, operations pending", "partition", id.Partition())
		return nil
	}

	revs := d.revisions()
	start := time.Now()
	var (
		cart      domain.CartState
		bookmarks domain.BookmarkState
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.retry(gctx, func(ctx context.Context) error {
			c, err := d.backend.GetCart(ctx, id)
			cart = c
			return err
		})
	})
	g.Go(func() error {
		return d.retry(gctx, func(ctx context.Context) error {
			b, err := d.backend.GetBookmarks(ctx, id)
			bookmarks = b
			return err
		})
	})
	err := g.Wait()

	metrics.Global().RecordPull(err == nil)
	entry := &logging.ActivityEntry{
		Timestamp:  start,
		Action:     "pull",
		Partition:  id.Partition(),
		DurationMs: time.Since(start).Milliseconds(),
		Success:    err == nil,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	logging.Activity().Log(entry)

	if err != nil {
		logging.Op().Warn("pull failed, keeping local state", "partition", id.Partition(), "error", err)
		return fmt.Errorf("pull: %w", err)
	}
	if d.hasPending(ctx, id.Partition()) {
		return nil
	}
	d.reconcile(id, revs[domain.EntityCart], remote.Result{Cart: &cart})
	d.reconcile(id, revs[domain.EntityBookmarks], remote.Result{Bookmarks: &bookmarks})
	return nil
}

// Flush waits until every pushed operation was delivered or parked.
func (d *Daemon) Flush(ctx context.Context) error {
	d.mu.Lock()
	if !d.started || d.stopped || d.idleLocked() {
		d.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	d.waiters = append(d.waiters, ch)
	d.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unload is the page-unload trigger: a best-effort flush bounded by ctx.
// Whatever is still waiting afterwards is parked in the offline queue.
func (d *Daemon) Unload(ctx context.Context) {
	if err := d.Flush(ctx); err != nil {
		logging.Op().Debug("unload flush incomplete", "error", err)
	}
	d.parkAll()
}

// SyncNow is the interactive sync: it flushes pushes, drains the offline
// queue and pulls. It fails only when the backend stayed out of reach.
func (d *Daemon) SyncNow(ctx context.Context) error {
	if !d.Online() {
		return fmt.Errorf("%w: %w", ErrSyncFailed, ErrOffline)
	}
	if err := d.Flush(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrSyncFailed, err)
	}
	if err := d.Refresh(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrSyncFailed, err)
	}
	return nil
}

// revisions records the target's revision of each entity before a fetch.
func (d *Daemon) revisions() map[domain.Entity]string {
	return map[domain.Entity]string{
		domain.EntityCart:      d.target.Revision(domain.EntityCart),
		domain.EntityBookmarks: d.target.Revision(domain.EntityBookmarks),
	}
}

func (d *Daemon) lanePending(entity domain.Entity) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	l := d.lanes[entity]
	return l != nil && (len(l.ops) > 0 || l.inFlight)
}

func (d *Daemon) hasPending(ctx context.Context, partition string) bool {
	d.mu.Lock()
	idle := d.idleLocked()
	d.mu.Unlock()
	return !idle || d.queue.Len(ctx, partition) > 0
}
