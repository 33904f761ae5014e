package state

import (
	"context"

	"github.com/oriys/cartsync/internal/domain"
	"github.com/oriys/cartsync/internal/localcache"
	"github.com/oriys/cartsync/internal/logging"
)

// replayLocked recomputes the in-memory state as base plus buffered ops.
// Buffered toggles are resolved against the state they now land on.
func (s *Store) replayLocked() {
	cur := s.base.Clone()
	for i := range s.buffer {
		m := &s.buffer[i]
		if m.toggle != nil {
			m.op = resolveToggle(cur, *m.toggle, m.op)
		}
		cur = cur.Apply(m.op)
	}
	s.current = cur
}

// AdoptSnapshot seeds the store with a server-rendered snapshot. It only
// takes effect before hydration; once seeded, Bootstrap keeps the snapshot
// instead of the Local Cache value. Buffered mutations stay on top.
func (s *Store) AdoptSnapshot(snap domain.Snapshot) bool {
	s.mu.Lock()
	if s.hydrated || s.closed {
		s.mu.Unlock()
		return false
	}
	s.base = normalizeSnapshot(snap)
	s.seeded[domain.EntityCart] = true
	s.seeded[domain.EntityBookmarks] = true
	s.replayLocked()
	s.emitLocked(s.changeLocked())
	return true
}

// Bootstrap completes hydration. Each entity's base is its seeded value
// or, when nothing seeded it, the Local Cache value of the current
// partition. Buffered mutations are then replayed, persisted and pushed in
// arrival order. Bootstrap is a no-op once hydrated.
func (s *Store) Bootstrap(ctx context.Context) {
	s.mu.Lock()
	if s.hydrated || s.closed {
		s.mu.Unlock()
		return
	}

	partition := s.identity.Partition()
	if s.local != nil {
		if !s.seeded[domain.EntityCart] {
			s.base.Cart = s.cartSlot(partition).Load(ctx, domain.CartState{Items: []domain.LineItem{}}).Normalize()
		}
		if !s.seeded[domain.EntityBookmarks] {
			s.base.Bookmarks = s.bookmarksSlot(partition).Load(ctx, domain.BookmarkState{Products: []domain.Product{}}).Normalize()
		}
	}
	s.replayLocked()
	s.hydrated = true

	// While held, the buffer belongs to the pending identity switch and
	// must not reach the entries of the outgoing partition.
	replayed := 0
	persist := []domain.Entity{domain.EntityCart, domain.EntityBookmarks}
	if s.held {
		persist = nil
	} else {
		for _, m := range s.buffer {
			s.pusher.Push(s.identity, m.op)
		}
		replayed = len(s.buffer)
		s.buffer = nil
		s.base = domain.EmptySnapshot()
	}
	logging.Op().Debug("store hydrated",
		"partition", partition,
		"seeded_cart", s.seeded[domain.EntityCart],
		"seeded_bookmarks", s.seeded[domain.EntityBookmarks],
		"replayed", replayed,
		"total_items", s.current.Cart.TotalItems())

	s.startWatchLocked()
	s.emitLocked(s.changeLocked(persist...))
}

// ApplyCart replaces the cart with a canonical server body fetched while
// the cart was at revision rev. The body is dropped when the identity no
// longer matches or a local mutation came after rev. Before hydration it
// seeds the cart like a snapshot would.
func (s *Store) ApplyCart(identity domain.SessionIdentity, rev string, c domain.CartState) bool {
	return s.apply(identity, rev, domain.EntityCart, func(snap *domain.Snapshot) { snap.Cart = c.Normalize() })
}

// ApplyBookmarks replaces the bookmark set with a canonical server body.
func (s *Store) ApplyBookmarks(identity domain.SessionIdentity, rev string, b domain.BookmarkState) bool {
	return s.apply(identity, rev, domain.EntityBookmarks, func(snap *domain.Snapshot) { snap.Bookmarks = b.Normalize() })
}

func (s *Store) apply(identity domain.SessionIdentity, rev string, entity domain.Entity, set func(*domain.Snapshot)) bool {
	s.mu.Lock()
	if s.closed || s.held || identity != s.identity || s.lastOp[entity] != rev {
		s.mu.Unlock()
		return false
	}

	if !s.hydrated {
		set(&s.base)
		s.seeded[entity] = true
		s.replayLocked()
		s.emitLocked(s.changeLocked())
		return true
	}

	next := s.current.Clone()
	set(&next)
	if next.Cart.Equal(s.current.Cart) && next.Bookmarks.Equal(s.current.Bookmarks) {
		s.mu.Unlock()
		return false
	}
	s.current = next
	s.emitLocked(s.changeLocked(entity))
	return true
}

// Hold buffers mutations until Resume or SwitchIdentity. It is used while
// the login flow migrates the guest partition, so nothing lands in guest
// entries that are about to be deleted. Server bodies are ignored while
// held.
func (s *Store) Hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held = true
}

// Resume ends a Hold without switching identity: the mutations buffered
// meanwhile are persisted and pushed as the current identity.
func (s *Store) Resume() {
	s.mu.Lock()
	if !s.held || s.closed {
		s.mu.Unlock()
		return
	}
	s.held = false
	if !s.hydrated {
		s.mu.Unlock()
		return
	}
	var touched []domain.Entity
	seen := make(map[domain.Entity]bool)
	for _, m := range s.buffer {
		s.pusher.Push(s.identity, m.op)
		if !seen[m.op.Entity] {
			seen[m.op.Entity] = true
			touched = append(touched, m.op.Entity)
		}
	}
	s.buffer = nil
	s.base = domain.EmptySnapshot()
	s.emitLocked(s.changeLocked(touched...))
}

// SwitchIdentity moves the store to identity with snap as its state. It is
// used by the login flow once the merge has succeeded. Mutations buffered
// during a Hold are replayed on top of snap and pushed as identity.
func (s *Store) SwitchIdentity(identity domain.SessionIdentity, snap domain.Snapshot) {
	s.mu.Lock()
	s.switchLocked(identity, snap)
}

// Reset drops all state, buffered mutations included, and starts over as
// identity. Used on logout.
func (s *Store) Reset(identity domain.SessionIdentity) {
	s.mu.Lock()
	s.buffer = nil
	s.switchLocked(identity, domain.EmptySnapshot())
}

func (s *Store) switchLocked(identity domain.SessionIdentity, snap domain.Snapshot) {
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.stopWatchLocked()
	s.identity = identity
	s.base = normalizeSnapshot(snap)
	s.replayLocked()
	s.hydrated = true
	s.held = false
	for _, m := range s.buffer {
		s.pusher.Push(s.identity, m.op)
	}
	s.buffer = nil
	s.base = domain.EmptySnapshot()
	s.startWatchLocked()
	s.emitLocked(s.changeLocked(domain.EntityCart, domain.EntityBookmarks))
}

// reloadFromCache adopts the Local Cache value of entity when another tab
// wrote it. Equal values are ignored, so own-write echoes cost nothing.
func (s *Store) reloadFromCache(entity domain.Entity) {
	s.mu.Lock()
	if s.closed || !s.hydrated || s.held || s.local == nil {
		s.mu.Unlock()
		return
	}
	// A local write still on its way to the Local Cache supersedes
	// whatever the other tab wrote.
	if s.flushed.Load() != s.gen {
		s.mu.Unlock()
		return
	}
	partition := s.identity.Partition()
	next := s.current.Clone()
	switch entity {
	case domain.EntityCart:
		next.Cart = s.cartSlot(partition).Load(s.ctx, domain.CartState{Items: []domain.LineItem{}}).Normalize()
	case domain.EntityBookmarks:
		next.Bookmarks = s.bookmarksSlot(partition).Load(s.ctx, domain.BookmarkState{Products: []domain.Product{}}).Normalize()
	}
	if next.Cart.Equal(s.current.Cart) && next.Bookmarks.Equal(s.current.Bookmarks) {
		s.mu.Unlock()
		return
	}
	logging.Op().Debug("adopting change from another tab", "entity", entity, "partition", partition)
	s.current = next
	s.emitLocked(s.changeLocked())
}

func (s *Store) startWatchLocked() {
	if s.local == nil {
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.watchCancel = cancel
	partition := s.identity.Partition()

	watch := func(key string, entity domain.Entity) {
		changes := s.local.Watch(ctx, key)
		s.watchWG.Add(1)
		go func() {
			defer s.watchWG.Done()
			for range changes {
				s.reloadFromCache(entity)
			}
		}()
	}
	watch(localcache.CartKey(partition), domain.EntityCart)
	watch(localcache.BookmarksKey(partition), domain.EntityBookmarks)
}

// stopWatchLocked cancels the watchers without waiting: a watcher may be
// blocked on s.mu, which the caller holds.
func (s *Store) stopWatchLocked() {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
}

// Close stops cross-tab watching. Mutations after Close are ignored.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopWatchLocked()
	s.mu.Unlock()
	s.watchWG.Wait()
}

func normalizeSnapshot(snap domain.Snapshot) domain.Snapshot {
	return domain.Snapshot{Cart: snap.Cart.Normalize(), Bookmarks: snap.Bookmarks.Normalize()}
}
