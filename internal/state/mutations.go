package state

import (
	"github.com/oriys/cartsync/internal/domain"
	"github.com/oriys/cartsync/internal/logging"
)

// AddItem adds qty of p to the cart. qty below 1 counts as 1.
func (s *Store) AddItem(p domain.Product, qty int) {
	if err := domain.ValidateProduct(p); err != nil {
		logging.Op().Warn("add item rejected", "error", err)
		return
	}
	if qty < 1 {
		qty = 1
	}
	s.mutate(domain.NewOperation(domain.EntityCart, domain.OpAdd,
		domain.OperationPayload{Product: &p, Quantity: qty}))
}

// RemoveItem removes productID from the cart.
func (s *Store) RemoveItem(productID string) {
	s.mutate(domain.NewOperation(domain.EntityCart, domain.OpRemove,
		domain.OperationPayload{ProductID: productID}))
}

// UpdateQuantity sets the quantity of productID; qty <= 0 removes it.
func (s *Store) UpdateQuantity(productID string, qty int) {
	if qty <= 0 {
		s.RemoveItem(productID)
		return
	}
	s.mutate(domain.NewOperation(domain.EntityCart, domain.OpUpdate,
		domain.OperationPayload{ProductID: productID, Quantity: qty}))
}

// Clear empties the cart.
func (s *Store) Clear() {
	s.mutate(domain.NewOperation(domain.EntityCart, domain.OpClear, domain.OperationPayload{}))
}

// ToggleBookmark bookmarks p, or removes it when already bookmarked. A
// toggle buffered before hydration is resolved again against the hydrated
// state when it is replayed.
func (s *Store) ToggleBookmark(p domain.Product) {
	if err := domain.ValidateProduct(p); err != nil {
		logging.Op().Warn("toggle bookmark rejected", "error", err)
		return
	}
	s.record(pending{toggle: &p})
}

// ClearBookmarks removes every bookmark.
func (s *Store) ClearBookmarks() {
	s.mutate(domain.NewOperation(domain.EntityBookmarks, domain.OpClear, domain.OperationPayload{}))
}

// pending is a mutation waiting in the buffer. Toggles keep their product.
type pending struct {
	op     domain.Operation
	toggle *domain.Product
}

// resolveToggle turns a toggle of p into an add or a remove against cur,
// keeping the ID and creation time of prev when it has one.
func resolveToggle(cur domain.Snapshot, p domain.Product, prev domain.Operation) domain.Operation {
	var op domain.Operation
	if cur.Bookmarks.Contains(p.ID) {
		op = domain.NewOperation(domain.EntityBookmarks, domain.OpRemove,
			domain.OperationPayload{ProductID: p.ID})
	} else {
		op = domain.NewOperation(domain.EntityBookmarks, domain.OpAdd,
			domain.OperationPayload{Product: &p})
	}
	if prev.ID != "" {
		op.ID, op.CreatedAt = prev.ID, prev.CreatedAt
	}
	return op
}

func (s *Store) mutate(op domain.Operation) {
	s.record(pending{op: op})
}

// record applies m to the current state. Once hydrated it is persisted and
// pushed; before hydration, or while an identity switch holds the store,
// it is buffered. Listeners are notified in every case.
func (s *Store) record(m pending) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if m.toggle != nil {
		m.op = resolveToggle(s.current, *m.toggle, domain.Operation{})
	}
	s.current = s.current.Apply(m.op)
	s.lastOp[m.op.Entity] = m.op.ID

	if !s.hydrated || s.held {
		s.buffer = append(s.buffer, m)
		s.emitLocked(s.changeLocked())
		return
	}

	s.pusher.Push(s.identity, m.op)
	s.emitLocked(s.changeLocked(m.op.Entity))
}
