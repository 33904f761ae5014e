// Package offline holds remote mutations that could not be delivered and
// replays them in order once the backend is reachable again.
package offline

import (
	"context"
	"fmt"
	"sync"

	"github.com/oriys/cartsync/internal/domain"
	"github.com/oriys/cartsync/internal/localcache"
	"github.com/oriys/cartsync/internal/logging"
	"github.com/oriys/cartsync/internal/metrics"
)

// SendFunc delivers one operation to the remote backend.
type SendFunc func(ctx context.Context, op domain.Operation) error

// DropFunc is told about an operation that exhausted its attempts.
type DropFunc func(partition string, op domain.Operation, err error)

// Config configures a Queue.
type Config struct {
	MaxAttempts int
	OnDrop      DropFunc
}

// DrainResult summarizes one drain cycle.
type DrainResult struct {
	Replayed  int
	Dropped   int
	Remaining int
}

// Queue is a durable FIFO of operations per partition, persisted through
// the local cache under queue:<partition>.
type Queue struct {
	local *localcache.Local
	cfg   Config

	mu       sync.Mutex // guards read-modify-write of persisted queues
	drainMu  sync.Mutex // one drain at a time
	draining bool
}

// New creates a Queue backed by local.
func New(local *localcache.Local, cfg Config) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Queue{local: local, cfg: cfg}
}

func (q *Queue) slot(partition string) localcache.Slot[[]domain.Operation] {
	return localcache.NewSlot[[]domain.Operation](q.local, localcache.QueueKey(partition))
}

func (q *Queue) load(ctx context.Context, partition string) []domain.Operation {
	return q.slot(partition).Load(ctx, []domain.Operation{})
}

func (q *Queue) save(ctx context.Context, partition string, ops []domain.Operation) error {
	defer metrics.Global().SetQueueDepth(len(ops))
	if len(ops) == 0 {
		return q.slot(partition).Clear(ctx)
	}
	return q.slot(partition).Save(ctx, ops)
}

// Enqueue appends ops behind everything already queued for partition.
func (q *Queue) Enqueue(ctx context.Context, partition string, ops ...domain.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	queued := append(q.load(ctx, partition), ops...)
	if err := q.save(ctx, partition, queued); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	for _, op := range ops {
		metrics.Global().RecordQueue("enqueued")
		logging.Op().Debug("operation queued", "partition", partition, "op", op.ID, "entity", op.Entity, "kind", op.Kind)
	}
	return nil
}

// List returns the queued operations of partition in replay order.
func (q *Queue) List(ctx context.Context, partition string) []domain.Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx, partition)
}

// Len returns how many operations wait for partition.
func (q *Queue) Len(ctx context.Context, partition string) int {
	return len(q.List(ctx, partition))
}

// Clear discards every queued operation of partition.
func (q *Queue) Clear(ctx context.Context, partition string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.save(ctx, partition, nil)
}

// Draining reports whether a drain cycle is in progress.
func (q *Queue) Draining() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.draining
}

// Drain replays queued operations of partition one at a time, oldest
// first. A failed send increments the operation's attempt count and ends
// the cycle, leaving the rest untouched. An operation that reaches
// MaxAttempts is dropped and the cycle moves on. The returned error is the
// send failure that stopped the cycle, if any.
func (q *Queue) Drain(ctx context.Context, partition string, send SendFunc) (DrainResult, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	q.mu.Lock()
	q.draining = true
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	var res DrainResult
	for {
		if err := ctx.Err(); err != nil {
			res.Remaining = q.Len(ctx, partition)
			return res, err
		}

		head, ok := q.head(ctx, partition)
		if !ok {
			return res, nil
		}

		sendErr := send(ctx, head)

		q.mu.Lock()
		ops := q.load(ctx, partition)
		i := indexOf(ops, head.ID)
		if sendErr == nil {
			if i >= 0 {
				ops = append(ops[:i], ops[i+1:]...)
			}
			err := q.save(ctx, partition, ops)
			q.mu.Unlock()
			if err != nil {
				return res, fmt.Errorf("persist queue: %w", err)
			}
			res.Replayed++
			metrics.Global().RecordQueue("replayed")
			continue
		}

		metrics.Global().RecordQueue("failed")
		if i < 0 {
			// Removed by a concurrent Clear.
			q.mu.Unlock()
			continue
		}
		ops[i].AttemptCount++
		dropped := ops[i].AttemptCount >= q.cfg.MaxAttempts
		op := ops[i]
		if dropped {
			ops = append(ops[:i], ops[i+1:]...)
		}
		err := q.save(ctx, partition, ops)
		remaining := len(ops)
		q.mu.Unlock()
		if err != nil {
			return res, fmt.Errorf("persist queue: %w", err)
		}

		if dropped {
			res.Dropped++
			metrics.Global().RecordQueue("dropped")
			logging.Op().Warn("queued operation dropped", "partition", partition, "op", op.ID,
				"entity", op.Entity, "kind", op.Kind, "attempts", op.AttemptCount, "error", sendErr)
			if q.cfg.OnDrop != nil {
				q.cfg.OnDrop(partition, op, sendErr)
			}
			continue
		}

		logging.Op().Debug("queue drain stopped", "partition", partition, "op", op.ID,
			"attempts", op.AttemptCount, "remaining", remaining, "error", sendErr)
		res.Remaining = remaining
		return res, sendErr
	}
}

func (q *Queue) head(ctx context.Context, partition string) (domain.Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ops := q.load(ctx, partition)
	if len(ops) == 0 {
		return domain.Operation{}, false
	}
	return ops[0], true
}

func indexOf(ops []domain.Operation, id string) int {
	for i, op := range ops {
		if op.ID == id {
			return i
		}
	}
	return -1
}
