// Package engine assembles the client side of cartsync for one tab: the
// reactive store, its Local Cache, the cookie mirror, the synchronization
// daemon with its offline queue, and the login migrator.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/oriys/cartsync/internal/cache"
	"github.com/oriys/cartsync/internal/config"
	"github.com/oriys/cartsync/internal/cookie"
	"github.com/oriys/cartsync/internal/domain"
	"github.com/oriys/cartsync/internal/hydrate"
	"github.com/oriys/cartsync/internal/localcache"
	"github.com/oriys/cartsync/internal/logging"
	"github.com/oriys/cartsync/internal/metrics"
	"github.com/oriys/cartsync/internal/migrate"
	"github.com/oriys/cartsync/internal/notify"
	"github.com/oriys/cartsync/internal/offline"
	"github.com/oriys/cartsync/internal/remote"
	"github.com/oriys/cartsync/internal/scheduler"
	"github.com/oriys/cartsync/internal/state"
	"github.com/oriys/cartsync/internal/syncd"
)

// SessionKey is the Local Cache key of the persisted session identity.
const SessionKey = "session"

// ErrAlreadyAuthenticated is returned by Login when another user is signed in.
var ErrAlreadyAuthenticated = errors.New("engine: another user is signed in")

// Options overrides parts of the stack built from the config. Zero fields
// are built from the config.
type Options struct {
	Backend    remote.Backend
	HTTPClient *http.Client
	Cache      cache.Cache
	Notifier   notify.Notifier

	// Jar receives the cookie mirror for StorefrontURL. A fresh in-memory
	// jar is used when nil; StorefrontURL defaults to the remote base URL.
	Jar           http.CookieJar
	StorefrontURL *url.URL

	StartOffline bool
}

// Engine is one tab's view of the cart and bookmarks.
type Engine struct {
	cfg *config.Config

	backing      cache.Cache
	ownsCache    bool
	notifier     notify.Notifier
	ownsNotifier bool

	local    *localcache.Local
	store    *state.Store
	mirror   *cookie.Mirror
	queue    *offline.Queue
	daemon   *syncd.Daemon
	migrator *migrate.Migrator
	hydrator *hydrate.Controller
	sched    *scheduler.Scheduler

	authMu sync.Mutex // serializes Login and Logout

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// Open builds and starts an engine. Call Mount to hydrate the store.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	e := &Engine{cfg: cfg}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	purge, err := e.openCache(opts)
	if err != nil {
		e.cancel()
		return nil, err
	}
	e.openNotifier(opts)

	e.local = localcache.New(e.backing, localcache.Options{
		TTL:           cfg.Sync.LocalCacheTTL(),
		SchemaVersion: cfg.Sync.SchemaVersion,
		Notifier:      e.notifier,
		Origin:        uuid.NewString(),
	})

	identity := e.loadIdentity(ctx)

	jar, site, err := cookieTarget(cfg, opts)
	if err != nil {
		e.closeBacking()
		e.cancel()
		return nil, err
	}
	e.mirror = cookie.NewMirror(cookie.Options{
		Jar:       jar,
		URL:       site,
		MaxAge:    cfg.Sync.CookieMaxAge(),
		SizeLimit: cfg.Sync.CookieSizeLimitBytes,
		Interval:  cfg.Sync.SyncInterval(),
		Source:    func() domain.Snapshot { return e.store.Snapshot() },
	})

	e.store = state.New(e.ctx, state.Options{
		Identity: identity,
		Local:    e.local,
		Mirror:   e.mirror,
	})

	e.queue = offline.New(e.local, offline.Config{
		MaxAttempts: cfg.Sync.QueueMaxAttempts,
		OnDrop: func(partition string, op domain.Operation, err error) {
			logging.Op().Warn("queued operation abandoned",
				"partition", partition, "operation", op.String(), "error", err)
		},
	})

	backend := opts.Backend
	if backend == nil {
		client := opts.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: cfg.Remote.Timeout()}
		}
		backend = remote.NewHTTPBackend(cfg.Remote.BaseURL, client)
	}

	e.daemon = syncd.New(backend, e.store, e.queue, syncd.Config{
		MaxRetries:   cfg.Sync.MaxRetries,
		RetryBackoff: cfg.Sync.RetryBackoff(),
		Interval:     cfg.Sync.SyncInterval(),
		Notifier:     e.notifier,
		Origin:       e.local.Origin(),
		StartOffline: opts.StartOffline,
	})
	e.store.SetPusher(e.daemon)

	e.migrator = migrate.New(e.local, backend, e.queue, migrate.Config{
		MaxRetries:   cfg.Sync.MaxRetries,
		RetryBackoff: cfg.Sync.RetryBackoff(),
	})
	e.hydrator = hydrate.NewController(e.store, e.daemon)

	e.sched = scheduler.New(time.Minute)
	if purge != nil {
		if err := e.sched.Add("cache-purge", scheduler.Every(time.Hour), purge); err != nil {
			e.Close()
			return nil, err
		}
	}

	if err := e.daemon.Start(); err != nil {
		e.Close()
		return nil, fmt.Errorf("start sync daemon: %w", err)
	}
	e.mirror.Start()
	e.sched.Start()

	logging.Op().Info("engine opened",
		"identity", identity.String(),
		"cache", cfg.Cache.Backend,
		"remote", cfg.Remote.BaseURL)
	return e, nil
}

// openCache selects the device cache. It returns the purge job of a
// SQLite-backed cache, or nil.
func (e *Engine) openCache(opts Options) (scheduler.Job, error) {
	if opts.Cache != nil {
		e.backing = opts.Cache
		return nil, nil
	}

	cfg := e.cfg
	e.ownsCache = true
	switch cfg.Cache.Backend {
	case "memory":
		e.backing = cache.NewInMemoryCache()
		return nil, nil
	case "redis":
		e.backing = cache.NewRedisCache(cache.RedisCacheConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix + "cache:",
		})
		return nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Cache.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := cache.OpenSQLiteCache(cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("open local cache: %w", err)
	}
	purge := func(ctx context.Context) {
		n, err := db.Purge(ctx)
		if err != nil {
			logging.Op().Warn("cache purge failed", "error", err)
			return
		}
		if n > 0 {
			metrics.Global().RecordCacheDiscard("purged")
			logging.Op().Debug("expired cache entries purged", "count", n)
		}
	}

	if cfg.Cache.Backend == "tiered" {
		l1TTL := time.Duration(cfg.Cache.L1TTLMs) * time.Millisecond
		e.backing = cache.NewTieredCache(cache.NewInMemoryCache(), db, l1TTL)
	} else {
		e.backing = db
	}
	return purge, nil
}

// openNotifier picks the storage-change fan-out. A Redis cache shares its
// client so tabs in other processes hear each other.
func (e *Engine) openNotifier(opts Options) {
	if opts.Notifier != nil {
		e.notifier = opts.Notifier
		return
	}
	e.ownsNotifier = true
	if rc, ok := e.backing.(*cache.RedisCache); ok {
		e.notifier = notify.NewRedisNotifier(rc.Client(), e.cfg.Redis.KeyPrefix+"notify:")
		return
	}
	e.notifier = notify.NewChannelNotifier()
}

func cookieTarget(cfg *config.Config, opts Options) (http.CookieJar, *url.URL, error) {
	jar := opts.Jar
	if jar == nil {
		var err error
		if jar, err = cookiejar.New(nil); err != nil {
			return nil, nil, err
		}
	}
	site := opts.StorefrontURL
	if site == nil {
		u, err := url.Parse(cfg.Remote.BaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse remote url: %w", err)
		}
		site = u
	}
	return jar, site, nil
}

// loadIdentity restores the persisted session or starts a new guest one.
func (e *Engine) loadIdentity(ctx context.Context) domain.SessionIdentity {
	id := localcache.Load(ctx, e.local, SessionKey, domain.SessionIdentity{})
	if id.Validate() == nil {
		return id
	}
	id = domain.NewAnonymous()
	e.saveIdentity(ctx, id)
	return id
}

func (e *Engine) saveIdentity(ctx context.Context, id domain.SessionIdentity) {
	if err := e.local.Save(ctx, SessionKey, id); err != nil {
		logging.Op().Warn("session not persisted", "identity", id.String(), "error", err)
	}
}

// Store returns the reactive store for the rendering layer.
func (e *Engine) Store() *state.Store { return e.store }

// Identity returns the current session identity.
func (e *Engine) Identity() domain.SessionIdentity { return e.store.Identity() }

// Queued lists the offline queue of the current partition.
func (e *Engine) Queued(ctx context.Context) []domain.Operation {
	return e.queue.List(ctx, e.store.Identity().Partition())
}

// Mount hydrates the store, adopting snap when given, and returns the
// state of the first render.
func (e *Engine) Mount(ctx context.Context, snap *domain.Snapshot) domain.Snapshot {
	return e.hydrator.Mount(ctx, snap)
}

// Login signs userID in and merges the guest cart and bookmarks into the
// account. On failure the engine stays on the guest session with its data
// intact.
func (e *Engine) Login(ctx context.Context, userID string) error {
	e.authMu.Lock()
	defer e.authMu.Unlock()

	user := domain.Authenticated(userID)
	if err := user.Validate(); err != nil {
		return err
	}
	current := e.store.Identity()
	if current.IsAuthenticated() {
		if current.ID == userID {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrAlreadyAuthenticated, current.ID)
	}

	// Mutations made before the first mount reach the guest entries the
	// merge reads. From here until the switch, new ones are held back.
	e.store.Bootstrap(ctx)
	e.store.Hold()
	e.daemon.Unload(ctx)

	res, err := e.migrator.Migrate(ctx, current.Partition(), user)
	if err != nil {
		e.store.Resume()
		return err
	}

	e.store.SwitchIdentity(user, res.Snapshot)
	e.saveIdentity(ctx, user)
	logging.Op().Info("signed in", "user", userID, "merged", !res.Skipped)
	return nil
}

// Logout destroys the signed-in user's local entries and starts a fresh
// guest session. Pending changes get a bounded chance to reach the backend
// first.
func (e *Engine) Logout(ctx context.Context) error {
	e.authMu.Lock()
	defer e.authMu.Unlock()

	current := e.store.Identity()
	if !current.IsAuthenticated() {
		return nil
	}

	e.store.Bootstrap(ctx)
	e.daemon.Unload(ctx)

	guest := domain.NewAnonymous()
	e.store.Reset(guest)
	e.saveIdentity(ctx, guest)

	var errs error
	for _, key := range localcache.PartitionKeys(current.Partition()) {
		errs = multierr.Append(errs, e.local.Clear(ctx, key))
	}
	logging.Op().Info("signed out", "user", current.ID)
	return errs
}

// Online reports the reachability the daemon currently assumes.
func (e *Engine) Online() bool { return e.daemon.Online() }

// SetOnline feeds the reachability signal.
func (e *Engine) SetOnline(online bool) { e.daemon.SetOnline(online) }

// Focus handles the window regaining focus.
func (e *Engine) Focus() {
	e.mirror.Focus()
	e.daemon.Focus()
}

// Visible handles the document becoming visible again.
func (e *Engine) Visible() {
	e.mirror.Visible()
	e.daemon.Visible()
}

// Unload is the page-unload hook.
func (e *Engine) Unload(ctx context.Context) { e.daemon.Unload(ctx) }

// SyncNow pushes everything pending, drains the offline queue and pulls.
func (e *Engine) SyncNow(ctx context.Context) error { return e.daemon.SyncNow(ctx) }

// Flush waits until every pushed mutation was delivered or parked.
func (e *Engine) Flush(ctx context.Context) error { return e.daemon.Flush(ctx) }

// Close stops background work and releases what Open created.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if e.sched != nil {
			e.sched.Stop()
		}
		if e.mirror != nil {
			e.mirror.Stop()
		}
		if e.daemon != nil {
			e.daemon.Stop()
		}
		if e.store != nil {
			e.store.Close()
		}
		e.cancel()
		e.closeErr = e.closeBacking()
	})
	return e.closeErr
}

func (e *Engine) closeBacking() error {
	var err error
	if e.ownsNotifier && e.notifier != nil {
		err = multierr.Append(err, e.notifier.Close())
	}
	if e.ownsCache && e.backing != nil {
		err = multierr.Append(err, e.backing.Close())
	}
	return err
}
