// Package state holds the reactive in-memory store of one engine: the cart,
// the bookmark set and the session identity they belong to.
//
// Mutations apply instantly, notify listeners synchronously and hand an
// Operation to the Pusher. Until the store is hydrated from the Local Cache
// (or seeded by a server snapshot) mutations are applied optimistically and
// buffered; Bootstrap replays them on top of the hydrated base.
package state

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/oriys/cartsync/internal/domain"
	"github.com/oriys/cartsync/internal/localcache"
	"github.com/oriys/cartsync/internal/logging"
)

// Pusher receives every mutation once the store is hydrated.
type Pusher interface {
	Push(identity domain.SessionIdentity, op domain.Operation)
}

// Mirror re-serializes the store into its cookie projection.
type Mirror interface {
	Update(snap domain.Snapshot)
}

// Listener observes state changes. It runs in the mutating goroutine and
// must not mutate the store.
type Listener func(domain.Snapshot)

type noopPusher struct{}

func (noopPusher) Push(domain.SessionIdentity, domain.Operation) {}

type noopMirror struct{}

func (noopMirror) Update(domain.Snapshot) {}

// Options configures a Store.
type Options struct {
	Identity domain.SessionIdentity
	Local    *localcache.Local
	Pusher   Pusher
	Mirror   Mirror
}

// Store is the reactive state of one tab.
type Store struct {
	mu     sync.Mutex
	emitMu sync.Mutex // serializes listener and mirror calls in mutation order

	ctx    context.Context
	local  *localcache.Local
	pusher Pusher
	mirror Mirror

	identity domain.SessionIdentity
	base     domain.Snapshot // hydrated or seeded state, before buffered ops
	current  domain.Snapshot
	buffer   []pending
	hydrated bool
	held     bool // an identity switch is running; mutations are buffered
	seeded   map[domain.Entity]bool
	lastOp   map[domain.Entity]string

	gen     uint64        // local writes scheduled for persistence
	flushed atomic.Uint64 // gen of the last write that reached the Local Cache

	listeners map[int]Listener
	nextID    int

	watchCancel context.CancelFunc
	watchWG     sync.WaitGroup
	closed      bool
}

// New creates an empty, not yet hydrated store. ctx bounds background work
// (persistence and cross-tab watching) and should live as long as the store.
func New(ctx context.Context, opts Options) *Store {
	s := &Store{
		ctx:       ctx,
		local:     opts.Local,
		pusher:    opts.Pusher,
		mirror:    opts.Mirror,
		identity:  opts.Identity,
		base:      domain.EmptySnapshot(),
		current:   domain.EmptySnapshot(),
		seeded:    make(map[domain.Entity]bool),
		lastOp:    make(map[domain.Entity]string),
		listeners: make(map[int]Listener),
	}
	if s.pusher == nil {
		s.pusher = noopPusher{}
	}
	if s.mirror == nil {
		s.mirror = noopMirror{}
	}
	return s
}

// SetPusher replaces the pusher. It exists because the sync daemon needs
// the store and the store needs the daemon.
func (s *Store) SetPusher(p Pusher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pusher = p
}

// SetMirror replaces the cookie mirror.
func (s *Store) SetMirror(m Mirror) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirror = m
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Getters. All of them return copies.

func (s *Store) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

func (s *Store) Cart() domain.CartState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Cart.Clone()
}

func (s *Store) Bookmarks() domain.BookmarkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Bookmarks.Clone()
}

func (s *Store) TotalItems() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Cart.TotalItems()
}

func (s *Store) TotalPrice() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Cart.TotalPrice()
}

func (s *Store) IsBookmarked(productID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Bookmarks.Contains(productID)
}

func (s *Store) Identity() domain.SessionIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *Store) Hydrated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hydrated
}

// Buffered returns how many mutations wait for hydration or for an
// identity switch to finish.
func (s *Store) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Revision returns the ID of the last local operation on entity. A server
// body fetched at one revision is only applied while it is still current.
func (s *Store) Revision(entity domain.Entity) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOp[entity]
}

// change is one state transition on its way out of the store.
type change struct {
	snap      domain.Snapshot
	partition string
	persist   []domain.Entity
	gen       uint64
}

// changeLocked captures the current state. Entities listed in persist are
// written to the Local Cache before anyone is notified.
func (s *Store) changeLocked(persist ...domain.Entity) change {
	c := change{snap: s.current.Clone(), partition: s.identity.Partition(), persist: persist}
	if len(persist) > 0 && s.local != nil {
		s.gen++
		c.gen = s.gen
	}
	return c
}

// emitLocked persists c and hands it to the mirror and every listener. The
// caller holds s.mu, which is released once emitMu is taken: the Local
// Cache and the notifications see changes in mutation order while s.mu is
// already free for the next mutation.
func (s *Store) emitLocked(c change) {
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	mirror := s.mirror

	s.emitMu.Lock()
	s.mu.Unlock()
	defer s.emitMu.Unlock()

	for _, entity := range c.persist {
		s.persist(c.partition, entity, c.snap)
	}
	if c.gen > 0 {
		s.flushed.Store(c.gen)
	}
	mirror.Update(c.snap)
	for _, l := range listeners {
		l(c.snap.Clone())
	}
}

func (s *Store) cartSlot(partition string) localcache.Slot[domain.CartState] {
	return localcache.NewSlot[domain.CartState](s.local, localcache.CartKey(partition))
}

func (s *Store) bookmarksSlot(partition string) localcache.Slot[domain.BookmarkState] {
	return localcache.NewSlot[domain.BookmarkState](s.local, localcache.BookmarksKey(partition))
}

func (s *Store) persist(partition string, entity domain.Entity, snap domain.Snapshot) {
	if s.local == nil {
		return
	}
	var err error
	switch entity {
	case domain.EntityCart:
		err = s.cartSlot(partition).Save(s.ctx, snap.Cart)
	case domain.EntityBookmarks:
		err = s.bookmarksSlot(partition).Save(s.ctx, snap.Bookmarks)
	}
	if err != nil {
		logging.Op().Warn("persist failed", "entity", entity, "partition", partition, "error", err)
	}
}
