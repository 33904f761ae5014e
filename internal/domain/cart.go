package domain

import (
	"fmt"
	"math"
	"strings"
)

// Product is the catalog projection carried by carts and bookmarks.
// Only ID takes part in identity; the rest is display data.
type Product struct {
	ID    string  `json:"id"`
	Name  string  `json:"name,omitempty"`
	Price float64 `json:"price"`
	Image string  `json:"image,omitempty"`
}

// ValidateProduct rejects products that cannot be addressed remotely.
func ValidateProduct(p Product) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("product id is required")
	}
	if p.Price < 0 {
		return fmt.Errorf("product %s: price must be >= 0", p.ID)
	}
	return nil
}

// LineItem is one product with a positive quantity.
type LineItem struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

// CartState is an ordered sequence of line items, at most one per product.
// Totals are derived on every call and never stored.
type CartState struct {
	Items []LineItem `json:"items"`
}

// TotalItems returns the sum of all quantities.
func (c CartState) TotalItems() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

// TotalPrice returns the sum of price*quantity rounded to cents.
func (c CartState) TotalPrice() float64 {
	total := 0.0
	for _, it := range c.Items {
		total += it.Product.Price * float64(it.Quantity)
	}
	return math.Round(total*100) / 100
}

// Find returns the index of the line item for productID, or -1.
func (c CartState) Find(productID string) int {
	for i, it := range c.Items {
		if it.Product.ID == productID {
			return i
		}
	}
	return -1
}

// Quantity returns the quantity held for productID (0 when absent).
func (c CartState) Quantity(productID string) int {
	if i := c.Find(productID); i >= 0 {
		return c.Items[i].Quantity
	}
	return 0
}

// Clone returns a deep copy so callers can never alias store memory.
func (c CartState) Clone() CartState {
	items := make([]LineItem, len(c.Items))
	copy(items, c.Items)
	return CartState{Items: items}
}

// WithAdded returns a new state with qty more of p. A qty below 1 counts as 1.
func (c CartState) WithAdded(p Product, qty int) CartState {
	if qty < 1 {
		qty = 1
	}
	next := c.Clone()
	if i := next.Find(p.ID); i >= 0 {
		next.Items[i].Quantity += qty
		next.Items[i].Product = p
		return next
	}
	next.Items = append(next.Items, LineItem{Product: p, Quantity: qty})
	return next
}

// WithRemoved returns a new state without productID.
func (c CartState) WithRemoved(productID string) CartState {
	next := CartState{Items: make([]LineItem, 0, len(c.Items))}
	for _, it := range c.Items {
		if it.Product.ID != productID {
			next.Items = append(next.Items, it)
		}
	}
	return next
}

// WithQuantity sets the quantity of productID. qty <= 0 removes the item;
// an unknown product leaves the state unchanged.
func (c CartState) WithQuantity(productID string, qty int) CartState {
	if qty <= 0 {
		return c.WithRemoved(productID)
	}
	next := c.Clone()
	if i := next.Find(productID); i >= 0 {
		next.Items[i].Quantity = qty
	}
	return next
}

// Normalize folds duplicate products and drops non-positive quantities.
// Server bodies and legacy payloads pass through here before adoption.
func (c CartState) Normalize() CartState {
	next := CartState{Items: make([]LineItem, 0, len(c.Items))}
	for _, it := range c.Items {
		if it.Product.ID == "" || it.Quantity <= 0 {
			continue
		}
		if i := next.Find(it.Product.ID); i >= 0 {
			next.Items[i].Quantity += it.Quantity
			continue
		}
		next.Items = append(next.Items, it)
	}
	return next
}

// Equal reports whether both carts hold the same items in the same order.
func (c CartState) Equal(o CartState) bool {
	if len(c.Items) != len(o.Items) {
		return false
	}
	for i := range c.Items {
		if c.Items[i] != o.Items[i] {
			return false
		}
	}
	return true
}
