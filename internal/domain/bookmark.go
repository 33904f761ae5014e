package domain

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// BookmarkState is a set of products keyed by product ID. Insertion order
// is kept for display only.
type BookmarkState struct {
	Products []Product `json:"bookmarkedProducts"`
}

// Count returns the number of bookmarked products.
func (b BookmarkState) Count() int {
	return len(b.Products)
}

// IDs returns the product IDs as a set.
func (b BookmarkState) IDs() mapset.Set[string] {
	ids := mapset.NewThreadUnsafeSetWithSize[string](len(b.Products))
	for _, p := range b.Products {
		ids.Add(p.ID)
	}
	return ids
}

// Contains reports whether productID is bookmarked.
func (b BookmarkState) Contains(productID string) bool {
	for _, p := range b.Products {
		if p.ID == productID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (b BookmarkState) Clone() BookmarkState {
	products := make([]Product, len(b.Products))
	copy(products, b.Products)
	return BookmarkState{Products: products}
}

// WithAdded returns a new state containing p. Adding a present product is a no-op.
func (b BookmarkState) WithAdded(p Product) BookmarkState {
	if b.Contains(p.ID) {
		return b.Clone()
	}
	next := b.Clone()
	next.Products = append(next.Products, p)
	return next
}

// WithRemoved returns a new state without productID.
func (b BookmarkState) WithRemoved(productID string) BookmarkState {
	next := BookmarkState{Products: make([]Product, 0, len(b.Products))}
	for _, p := range b.Products {
		if p.ID != productID {
			next.Products = append(next.Products, p)
		}
	}
	return next
}

// Union returns b plus every product of o not already in b.
func (b BookmarkState) Union(o BookmarkState) BookmarkState {
	seen := b.IDs()
	next := b.Clone()
	for _, p := range o.Products {
		if seen.Add(p.ID) {
			next.Products = append(next.Products, p)
		}
	}
	return next
}

// Normalize collapses duplicate product IDs, keeping the first occurrence.
func (b BookmarkState) Normalize() BookmarkState {
	return BookmarkState{Products: []Product{}}.Union(b)
}

// Equal reports whether both states hold the same products in the same order.
func (b BookmarkState) Equal(o BookmarkState) bool {
	if len(b.Products) != len(o.Products) {
		return false
	}
	for i := range b.Products {
		if b.Products[i] != o.Products[i] {
			return false
		}
	}
	return true
}
