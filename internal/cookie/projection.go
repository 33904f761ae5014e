// Package cookie projects engine state into cookies that travel with every
// request to the rendering boundary, and reads them back on the server side.
package cookie

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/oriys/cartsync/internal/domain"
)

// Cookie names.
const (
	CartCookie      = "cart-state"
	BookmarksCookie = "bookmarks-state"
)

// Encode returns the cookie values of snap: URL-encoded JSON of the cart
// and bookmark views, keyed by cookie name.
func Encode(snap domain.Snapshot) (map[string]string, error) {
	cart, err := json.Marshal(domain.ViewOfCart(snap.Cart))
	if err != nil {
		return nil, err
	}
	bookmarks, err := json.Marshal(domain.ViewOfBookmarks(snap.Bookmarks))
	if err != nil {
		return nil, err
	}
	return map[string]string{
		CartCookie:      url.QueryEscape(string(cart)),
		BookmarksCookie: url.QueryEscape(string(bookmarks)),
	}, nil
}

// ReadSnapshot decodes the mirror cookies of r. Missing or unreadable
// cookies yield empty entities.
func ReadSnapshot(r *http.Request) domain.Snapshot {
	return ReadCookies(r.Cookies())
}

// ReadCookies decodes the mirror cookies found in cookies.
func ReadCookies(cookies []*http.Cookie) domain.Snapshot {
	snap := domain.EmptySnapshot()
	for _, c := range cookies {
		switch c.Name {
		case CartCookie:
			if cart, ok := decodeCart(unescape(c.Value)); ok {
				snap.Cart = cart
			}
		case BookmarksCookie:
			if bm, ok := decodeBookmarks(unescape(c.Value)); ok {
				snap.Bookmarks = bm
			}
		}
	}
	return snap
}

func unescape(v string) []byte {
	if s, err := url.QueryUnescape(v); err == nil {
		return []byte(s)
	}
	return []byte(v)
}

// envelopeShapes lists the wrappers older writers put around the direct
// shape, in the order they are tried.
type envelopeShapes struct {
	State json.RawMessage `json:"state"` // {"state":{...},"version":n}
	Data  json.RawMessage `json:"data"`  // {"data":{...},"timestamp":ms}
}

func unwrap(raw []byte, direct func([]byte) bool) bool {
	if direct(raw) {
		return true
	}
	var shapes envelopeShapes
	if err := json.Unmarshal(raw, &shapes); err != nil {
		return false
	}
	for _, inner := range []json.RawMessage{shapes.State, shapes.Data} {
		if len(inner) > 0 && !bytes.Equal(inner, []byte("null")) && direct(inner) {
			return true
		}
	}
	return false
}

func decodeCart(raw []byte) (domain.CartState, bool) {
	var out domain.CartState
	ok := unwrap(raw, func(b []byte) bool {
		var v struct {
			Items *[]domain.LineItem `json:"items"`
		}
		if json.Unmarshal(b, &v) != nil || v.Items == nil {
			return false
		}
		out = domain.CartState{Items: *v.Items}.Normalize()
		return true
	})
	return out, ok
}

func decodeBookmarks(raw []byte) (domain.BookmarkState, bool) {
	var out domain.BookmarkState
	ok := unwrap(raw, func(b []byte) bool {
		var v struct {
			Products *[]domain.Product `json:"bookmarkedProducts"`
		}
		if json.Unmarshal(b, &v) != nil || v.Products == nil {
			return false
		}
		out = domain.BookmarkState{Products: *v.Products}.Normalize()
		return true
	})
	return out, ok
}
