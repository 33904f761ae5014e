// Package migrate merges the guest state of a device into an account when
// the shopper signs in.
package migrate

import "github.com/oriys/cartsync/internal/domain"

// MergeCart folds guest into auth. A product present on both sides gets
// the sum of both quantities; guest-only products are appended after the
// account's items in guest order.
func MergeCart(auth, guest domain.CartState) domain.CartState {
	merged := auth.Normalize()
	for _, it := range guest.Normalize().Items {
		if i := merged.Find(it.Product.ID); i >= 0 {
			merged.Items[i].Quantity += it.Quantity
			continue
		}
		merged.Items = append(merged.Items, it)
	}
	return merged
}

// MergeBookmarks is the set union of both sides, account products first.
func MergeBookmarks(auth, guest domain.BookmarkState) domain.BookmarkState {
	return auth.Normalize().Union(guest)
}
