package domain

// Snapshot is the complete client state at one point in time.
type Snapshot struct {
	Cart      CartState     `json:"cart"`
	Bookmarks BookmarkState `json:"bookmarks"`
}

// EmptySnapshot returns a snapshot with non-nil empty collections.
func EmptySnapshot() Snapshot {
	return Snapshot{
		Cart:      CartState{Items: []LineItem{}},
		Bookmarks: BookmarkState{Products: []Product{}},
	}
}

// Clone deep-copies both entities.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{Cart: s.Cart.Clone(), Bookmarks: s.Bookmarks.Clone()}
}

// IsEmpty reports whether neither entity holds anything.
func (s Snapshot) IsEmpty() bool {
	return len(s.Cart.Items) == 0 && len(s.Bookmarks.Products) == 0
}

// CartView is the wire shape of a cart: items plus derived totals.
// Totals are output only; decoders ignore them.
type CartView struct {
	Items      []LineItem `json:"items"`
	TotalItems int        `json:"totalItems"`
	TotalPrice float64    `json:"totalPrice"`
}

// BookmarksView is the wire shape of a bookmark set.
type BookmarksView struct {
	BookmarkedProducts []Product `json:"bookmarkedProducts"`
	BookmarkCount      int       `json:"bookmarkCount"`
}

// ViewOfCart derives the wire shape of c.
func ViewOfCart(c CartState) CartView {
	items := c.Items
	if items == nil {
		items = []LineItem{}
	}
	return CartView{Items: items, TotalItems: c.TotalItems(), TotalPrice: c.TotalPrice()}
}

// ViewOfBookmarks derives the wire shape of b.
func ViewOfBookmarks(b BookmarkState) BookmarksView {
	products := b.Products
	if products == nil {
		products = []Product{}
	}
	return BookmarksView{BookmarkedProducts: products, BookmarkCount: len(products)}
}

// State recovers a normalized cart from its wire shape.
func (v CartView) State() CartState {
	return CartState{Items: v.Items}.Normalize()
}

// State recovers a normalized bookmark set from its wire shape.
func (v BookmarksView) State() BookmarkState {
	return BookmarkState{Products: v.BookmarkedProducts}.Normalize()
}

// SnapshotView is the wire shape of a full snapshot.
type SnapshotView struct {
	Cart      CartView      `json:"cart"`
	Bookmarks BookmarksView `json:"bookmarks"`
}

// View derives the wire shape of s.
func (s Snapshot) View() SnapshotView {
	return SnapshotView{Cart: ViewOfCart(s.Cart), Bookmarks: ViewOfBookmarks(s.Bookmarks)}
}

// Apply returns s with op applied. Operations that fail Validate leave s
// unchanged.
func (s Snapshot) Apply(op Operation) Snapshot {
	if op.Validate() != nil {
		return s
	}
	p := op.Payload
	switch op.Entity {
	case EntityCart:
		switch op.Kind {
		case OpAdd:
			s.Cart = s.Cart.WithAdded(*p.Product, p.Quantity)
		case OpRemove:
			s.Cart = s.Cart.WithRemoved(p.ProductID)
		case OpUpdate:
			s.Cart = s.Cart.WithQuantity(p.ProductID, p.Quantity)
		case OpClear:
			s.Cart = CartState{Items: []LineItem{}}
		}
	case EntityBookmarks:
		switch op.Kind {
		case OpAdd:
			s.Bookmarks = s.Bookmarks.WithAdded(*p.Product)
		case OpRemove:
			s.Bookmarks = s.Bookmarks.WithRemoved(p.ProductID)
		case OpClear:
			s.Bookmarks = BookmarkState{Products: []Product{}}
		}
	}
	return s
}
