// Package syncd moves state between the reactive store and the remote
// backend: it pushes every mutation, pulls canonical state on triggers and
// hands undeliverable operations to the offline queue.
package syncd

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/oriys/cartsync/internal/domain"
	"github.com/oriys/cartsync/internal/logging"
	"github.com/oriys/cartsync/internal/metrics"
	"github.com/oriys/cartsync/internal/notify"
	"github.com/oriys/cartsync/internal/observability"
	"github.com/oriys/cartsync/internal/offline"
	"github.com/oriys/cartsync/internal/remote"
	"github.com/oriys/cartsync/internal/scheduler"
)

var (
	// ErrSyncFailed is returned by SyncNow when the backend could not be
	// brought up to date.
	ErrSyncFailed = errors.New("sync failed")
	// ErrOffline is wrapped by SyncNow while reachability is false.
	ErrOffline = errors.New("offline")
)

// Target is the store the daemon reconciles. Server bodies carry the
// revision they were fetched at; the target drops them when a local
// mutation came later.
type Target interface {
	Identity() domain.SessionIdentity
	Revision(entity domain.Entity) string
	ApplyCart(identity domain.SessionIdentity, rev string, c domain.CartState) bool
	ApplyBookmarks(identity domain.SessionIdentity, rev string, b domain.BookmarkState) bool
}

// Config configures a Daemon.
type Config struct {
	MaxRetries     int
	RetryBackoff   time.Duration
	Interval       time.Duration // zero disables the interval trigger
	TriggerTimeout time.Duration
	Notifier       notify.Notifier
	Origin         string
	StartOffline   bool
}

type pendingOp struct {
	identity domain.SessionIdentity
	op       domain.Operation
}

// lane carries the operations of one entity. A single worker sends them
// in arrival order.
type lane struct {
	entity   domain.Entity
	ops      []pendingOp
	inFlight bool
	wake     chan struct{}
}

func (l *lane) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Daemon is the synchronization daemon of one engine.
type Daemon struct {
	backend remote.Backend
	target  Target
	queue   *offline.Queue
	cfg     Config

	mu      sync.Mutex
	online  bool
	lanes   map[domain.Entity]*lane
	waiters []chan struct{}
	started bool
	stopped bool

	flight singleflight.Group
	sched  *scheduler.Scheduler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a stopped daemon.
func New(backend remote.Backend, target Target, queue *offline.Queue, cfg Config) *Daemon {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.TriggerTimeout <= 0 {
		cfg.TriggerTimeout = 30 * time.Second
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NewNoopNotifier()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		backend: backend,
		target:  target,
		queue:   queue,
		cfg:     cfg,
		online:  !cfg.StartOffline,
		lanes:   make(map[domain.Entity]*lane),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, e := range []domain.Entity{domain.EntityCart, domain.EntityBookmarks} {
		d.lanes[e] = &lane{entity: e, wake: make(chan struct{}, 1)}
	}
	return d
}

// Start launches the entity workers, the reachability listener and the
// interval trigger.
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return nil
	}

	if d.cfg.Interval > 0 {
		d.sched = scheduler.New(d.cfg.TriggerTimeout)
		err := d.sched.Add("sync-interval", scheduler.Every(d.cfg.Interval), func(ctx context.Context) {
			if err := d.Refresh(ctx); err != nil {
				logging.Op().Debug("interval sync failed", "error", err)
			}
		})
		if err != nil {
			return err
		}
		d.sched.Start()
	}

	d.started = true
	for _, l := range d.lanes {
		d.wg.Add(1)
		go d.worker(l)
		l.signal()
	}

	msgs := d.cfg.Notifier.Subscribe(d.ctx, notify.TopicReachability)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for msg := range msgs {
			if msg.Origin == d.cfg.Origin {
				continue
			}
			d.setOnline(msg.Payload == notify.Online, false)
		}
	}()

	logging.Op().Debug("sync daemon started", "interval", d.cfg.Interval, "online", d.online)
	return nil
}

// Stop halts every goroutine. Operations still waiting to be sent are
// parked in the offline queue.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	sched := d.sched
	d.mu.Unlock()

	if sched != nil {
		sched.Stop()
	}
	d.cancel()
	d.wg.Wait()
	d.parkAll()
	logging.Op().Debug("sync daemon stopped")
}

// Push implements state.Pusher. It never blocks on the network.
func (d *Daemon) Push(identity domain.SessionIdentity, op domain.Operation) {
	d.mu.Lock()
	l, ok := d.lanes[op.Entity]
	if !ok || d.stopped {
		d.mu.Unlock()
		return
	}
	l.ops = coalesce(l.ops, pendingOp{identity: identity, op: op})
	d.mu.Unlock()
	l.signal()
}

// coalesce appends next to ops, dropping pending operations it makes
// redundant: a clear supersedes everything before it, and an update or
// remove supersedes an earlier update of the same product.
func coalesce(ops []pendingOp, next pendingOp) []pendingOp {
	out := make([]pendingOp, 0, len(ops)+1)
	for _, p := range ops {
		if p.identity == next.identity && supersedes(next.op, p.op) {
			continue
		}
		out = append(out, p)
	}
	return append(out, next)
}

func supersedes(next, prev domain.Operation) bool {
	switch next.Kind {
	case domain.OpClear:
		return true
	case domain.OpUpdate, domain.OpRemove:
		return prev.Kind == domain.OpUpdate && prev.ProductRef() == next.ProductRef()
	}
	return false
}

// Pending returns the number of operations not yet delivered or parked.
func (d *Daemon) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, l := range d.lanes {
		n += len(l.ops)
		if l.inFlight {
			n++
		}
	}
	return n
}

// Online reports the current reachability.
func (d *Daemon) Online() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.online
}

func (d *Daemon) worker(l *lane) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-l.wake:
		}
		for d.pushNext(l) {
		}
	}
}

// pushNext sends the head of l. It reports whether the worker should look
// at the lane again right away. The lane stays marked in flight until the
// outcome is applied, so Flush never returns halfway through.
func (d *Daemon) pushNext(l *lane) bool {
	d.mu.Lock()
	if len(l.ops) == 0 || d.ctx.Err() != nil {
		d.notifyIdleLocked()
		d.mu.Unlock()
		return false
	}
	head := l.ops[0]
	l.inFlight = true
	if !d.online || d.queue.Len(d.ctx, head.identity.Partition()) > 0 {
		ops := l.ops
		l.ops = nil
		d.mu.Unlock()

		d.park(ops, "offline")
		d.settle(l)
		return false
	}
	l.ops = l.ops[1:]
	d.mu.Unlock()

	res, err := d.send(d.ctx, head)

	switch {
	case err == nil:
		// The body only stands while head is the last local mutation.
		d.reconcile(head.identity, head.op.ID, res)
		d.settle(l)
		return true
	case !remote.Retryable(err) && d.ctx.Err() == nil:
		logging.Op().Warn("operation rejected by backend", "op", head.op.ID,
			"entity", head.op.Entity, "kind", head.op.Kind, "error", err)
		d.settle(l)
		return true
	}

	// Retries exhausted or shutting down: this operation and everything
	// behind it wait in the offline queue.
	d.mu.Lock()
	rest := l.ops
	l.ops = nil
	d.mu.Unlock()
	d.park(append([]pendingOp{head}, rest...), "retries exhausted")
	d.settle(l)
	return false
}

// settle clears the in-flight mark of l and wakes Flush callers when
// nothing is left.
func (d *Daemon) settle(l *lane) {
	d.mu.Lock()
	l.inFlight = false
	d.notifyIdleLocked()
	d.mu.Unlock()
}

// send delivers one operation through the bounded retrier.
func (d *Daemon) send(ctx context.Context, p pendingOp) (remote.Result, error) {
	ctx, span := observability.StartSpan(ctx, "syncd.push",
		observability.OperationAttrs(p.identity, p.op)...)

	start := time.Now()
	attempts := 0
	var res remote.Result
	err := d.retry(ctx, func(ctx context.Context) error {
		attempts++
		r, err := remote.Send(ctx, d.backend, p.identity, p.op)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	elapsed := time.Since(start).Milliseconds()

	span.SetAttributes(observability.AttrAttempts.Int(attempts))
	observability.End(span, err)

	metrics.Global().RecordPush(string(p.op.Entity), string(p.op.Kind), elapsed, err == nil)
	entry := &logging.ActivityEntry{
		Timestamp:   start,
		Action:      "push",
		Entity:      string(p.op.Entity),
		Partition:   p.identity.Partition(),
		OperationID: p.op.ID,
		DurationMs:  elapsed,
		Success:     err == nil,
		Attempts:    attempts,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	logging.Activity().Log(entry)
	return res, err
}

func (d *Daemon) retry(ctx context.Context, fn func(context.Context) error) error {
	return remote.WithRetry(ctx, d.cfg.MaxRetries, d.cfg.RetryBackoff, fn)
}

func (d *Daemon) reconcile(identity domain.SessionIdentity, rev string, res remote.Result) {
	var applied bool
	switch {
	case res.Cart != nil:
		applied = d.target.ApplyCart(identity, rev, *res.Cart)
	case res.Bookmarks != nil:
		applied = d.target.ApplyBookmarks(identity, rev, *res.Bookmarks)
	}
	if !applied {
		logging.Op().Debug("server body not applied", "partition", identity.Partition(), "revision", rev)
	}
}

// park moves ops to the offline queue, keeping their order. Parking must
// survive shutdown, so it does not inherit the daemon's cancellation.
func (d *Daemon) park(ops []pendingOp, reason string) {
	ctx := context.WithoutCancel(d.ctx)
	for len(ops) > 0 {
		partition := ops[0].identity.Partition()
		n := 1
		for n < len(ops) && ops[n].identity.Partition() == partition {
			n++
		}
		batch := make([]domain.Operation, 0, n)
		for _, p := range ops[:n] {
			batch = append(batch, p.op)
			logging.Activity().Log(&logging.ActivityEntry{
				Timestamp:   time.Now(),
				Action:      "queue",
				Entity:      string(p.op.Entity),
				Partition:   partition,
				OperationID: p.op.ID,
				Success:     true,
				Queued:      true,
			})
		}
		if err := d.queue.Enqueue(ctx, partition, batch...); err != nil {
			logging.Op().Error("park operations failed", "partition", partition, "count", n, "error", err)
		} else {
			logging.Op().Info("operations parked in offline queue", "partition", partition, "count", n, "reason", reason)
		}
		ops = ops[n:]
	}
}

// parkAll moves every waiting operation of every lane to the queue.
func (d *Daemon) parkAll() {
	d.mu.Lock()
	var ops []pendingOp
	for _, e := range []domain.Entity{domain.EntityCart, domain.EntityBookmarks} {
		l := d.lanes[e]
		ops = append(ops, l.ops...)
		l.ops = nil
	}
	d.mu.Unlock()

	if len(ops) > 0 {
		d.park(ops, "unload")
	}

	d.mu.Lock()
	d.notifyIdleLocked()
	d.mu.Unlock()
}

func (d *Daemon) idleLocked() bool {
	for _, l := range d.lanes {
		if len(l.ops) > 0 || l.inFlight {
			return false
		}
	}
	return true
}

func (d *Daemon) notifyIdleLocked() {
	if !d.idleLocked() {
		return
	}
	for _, ch := range d.waiters {
		close(ch)
	}
	d.waiters = nil
}
