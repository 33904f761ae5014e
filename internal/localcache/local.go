package localcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/cartsync/internal/cache"
	"github.com/oriys/cartsync/internal/logging"
	"github.com/oriys/cartsync/internal/metrics"
	"github.com/oriys/cartsync/internal/notify"
)

// Options configures a Local.
type Options struct {
	TTL           time.Duration    // envelope lifetime; 30 days when zero
	SchemaVersion int              // current envelope version; 1 when zero
	Notifier      notify.Notifier  // storage-change fan-out; Noop when nil
	Origin        string           // identifies this writer in notifications
	Clock         func() time.Time // time.Now when nil
}

// Local is the device-local cache of one engine. Writes are full-entry
// overwrites, so concurrent writers on one device resolve last-writer-wins.
type Local struct {
	backend  cache.Cache
	notifier notify.Notifier
	origin   string
	ttl      time.Duration
	version  int
	now      func() time.Time
}

// New creates a Local over backend.
func New(backend cache.Cache, opts Options) *Local {
	l := &Local{
		backend:  backend,
		notifier: opts.Notifier,
		origin:   opts.Origin,
		ttl:      opts.TTL,
		version:  opts.SchemaVersion,
		now:      opts.Clock,
	}
	if l.notifier == nil {
		l.notifier = notify.NewNoopNotifier()
	}
	if l.origin == "" {
		l.origin = uuid.NewString()
	}
	if l.ttl <= 0 {
		l.ttl = 30 * 24 * time.Hour
	}
	if l.version <= 0 {
		l.version = 1
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// Origin returns the writer id stamped on this cache's notifications.
func (l *Local) Origin() string { return l.origin }

// Backend returns the underlying key/value store.
func (l *Local) Backend() cache.Cache { return l.backend }

// Save wraps data in an envelope and overwrites key.
func (l *Local) Save(ctx context.Context, key string, data any) error {
	env := Wrap(data, l.now(), l.ttl, l.version)
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := l.backend.Set(ctx, key, raw, l.ttl); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	l.announce(ctx, key)
	return nil
}

// Clear deletes key outright.
func (l *Local) Clear(ctx context.Context, key string) error {
	if err := l.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("clear %s: %w", key, err)
	}
	l.announce(ctx, key)
	return nil
}

func (l *Local) announce(ctx context.Context, key string) {
	msg := notify.Message{Topic: notify.StorageTopic(key), Origin: l.origin}
	if err := l.notifier.Notify(ctx, msg); err != nil {
		logging.Op().Debug("storage change not announced", "key", key, "error", err)
	}
}

// Load reads key into a value of type T. It never fails: a missing,
// unreadable, stale or expired entry yields def, and the offending entry is
// removed from the backend.
func Load[T any](ctx context.Context, l *Local, key string, def T) T {
	raw, err := l.backend.Get(ctx, key)
	if errors.Is(err, cache.ErrNotFound) {
		return def
	}
	if err != nil {
		logging.Op().Warn("local cache read failed", "key", key, "error", err)
		return def
	}

	var env Envelope[T]
	if err := json.Unmarshal(raw, &env); err != nil {
		l.discard(ctx, key, "corrupt", err)
		return def
	}
	if env.Version != l.version {
		l.discard(ctx, key, "stale", errStale(env.Version, l.version))
		return def
	}
	if env.Expired(l.now()) {
		l.discard(ctx, key, "expired", nil)
		return def
	}
	return env.Data
}

func (l *Local) discard(ctx context.Context, key, reason string, cause error) {
	if reason == "expired" {
		logging.Op().Debug("local cache entry expired", "key", key)
	} else {
		logging.Op().Warn("discarding local cache entry", "key", key, "reason", reason, "error", cause)
	}
	metrics.Global().RecordCacheDiscard(reason)
	if err := l.backend.Delete(ctx, key); err != nil {
		logging.Op().Warn("delete of discarded entry failed", "key", key, "error", err)
	}
}

// Watch reports changes of key made by other writers. Before a message is
// forwarded the backend's process-local copy of key is invalidated, so a
// following Load observes the foreign write. The channel closes with ctx.
func (l *Local) Watch(ctx context.Context, key string) <-chan notify.Message {
	in := l.notifier.Subscribe(ctx, notify.StorageTopic(key))
	out := make(chan notify.Message, 1)
	go func() {
		defer close(out)
		for msg := range in {
			if msg.Origin == l.origin {
				continue
			}
			if inv, ok := l.backend.(cache.Invalidator); ok {
				_ = inv.Invalidate(ctx, key)
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			default:
				// a reload is already pending
			}
		}
	}()
	return out
}
