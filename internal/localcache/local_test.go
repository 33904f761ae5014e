package localcache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/oriys/cartsync/internal/cache"
	"github.com/oriys/cartsync/internal/domain"
	"github.com/oriys/cartsync/internal/notify"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLocal(t *testing.T) (*Local, *cache.InMemoryCache, *fakeClock) {
	t.Helper()
	backend := cache.NewInMemoryCache()
	t.Cleanup(func() { backend.Close() })
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := New(backend, Options{TTL: 30 * 24 * time.Hour, SchemaVersion: 1, Clock: clock.Now})
	return l, backend, clock
}

func sampleCart() domain.CartState {
	return domain.CartState{}.
		WithAdded(domain.Product{ID: "P1", Name: "Mug", Price: 12.5, Image: "/p1.png"}, 2).
		WithAdded(domain.Product{ID: "P2", Name: "Tea", Price: 4}, 1)
}

func TestLocal_RoundTrip(t *testing.T) {
	l, _, clock := newTestLocal(t)
	ctx := context.Background()
	slot := NewSlot[domain.CartState](l, CartKey("guest"))

	want := sampleCart()
	if err := slot.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	clock.Advance(29 * 24 * time.Hour)

	got := slot.Load(ctx, domain.CartState{})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Load mismatch (-want +got):\n%s", diff)
	}
}

func TestLocal_MissingReturnsDefault(t *testing.T) {
	l, _, _ := newTestLocal(t)
	def := domain.BookmarkState{Products: []domain.Product{}}
	got := Load(context.Background(), l, BookmarksKey("guest"), def)
	if diff := cmp.Diff(def, got); diff != "" {
		t.Fatalf("expected default (-want +got):\n%s", diff)
	}
}

func TestLocal_ExpiredEntryIsRemoved(t *testing.T) {
	l, backend, clock := newTestLocal(t)
	ctx := context.Background()
	key := CartKey("guest")

	if err := l.Save(ctx, key, sampleCart()); err != nil {
		t.Fatal(err)
	}
	clock.Advance(31 * 24 * time.Hour)

	got := Load(ctx, l, key, domain.CartState{})
	if len(got.Items) != 0 {
		t.Fatalf("expected default after expiry, got %+v", got.Items)
	}
	if _, err := backend.Get(ctx, key); err != cache.ErrNotFound {
		t.Fatalf("expired entry should be deleted, got %v", err)
	}
}

func TestLocal_StaleVersionIsRemoved(t *testing.T) {
	l, backend, clock := newTestLocal(t)
	ctx := context.Background()
	key := CartKey("guest")

	old := New(backend, Options{SchemaVersion: 0, Clock: clock.Now})
	old.version = 7
	if err := old.Save(ctx, key, sampleCart()); err != nil {
		t.Fatal(err)
	}

	if got := Load(ctx, l, key, domain.CartState{}); len(got.Items) != 0 {
		t.Fatalf("stale envelope should yield default, got %+v", got.Items)
	}
	if ok, _ := backend.Exists(ctx, key); ok {
		t.Fatal("stale entry should be deleted")
	}
}

func TestLocal_CorruptEntryIsRemoved(t *testing.T) {
	l, backend, _ := newTestLocal(t)
	ctx := context.Background()
	key := BookmarksKey("user:u-1")

	backend.Set(ctx, key, []byte(`{"data": [not json`), 0)

	got := Load(ctx, l, key, domain.BookmarkState{})
	if got.Count() != 0 {
		t.Fatalf("corrupt entry should yield default, got %+v", got)
	}
	if ok, _ := backend.Exists(ctx, key); ok {
		t.Fatal("corrupt entry should be deleted")
	}
}

func TestLocal_EnvelopeWireFormat(t *testing.T) {
	l, backend, clock := newTestLocal(t)
	ctx := context.Background()

	l.Save(ctx, SessionKey, "s-1")
	raw, err := backend.Get(ctx, SessionKey)
	if err != nil {
		t.Fatal(err)
	}
	created := clock.t.UnixMilli()
	expires := clock.t.Add(30 * 24 * time.Hour).UnixMilli()
	want := `{"data":"s-1","timestamp":` + itoa(created) + `,"expirationDate":` + itoa(expires) + `,"version":1}`
	if string(raw) != want {
		t.Fatalf("envelope = %s\nwant %s", raw, want)
	}
}

func TestLocal_WatchSeesForeignWriteThroughTieredCache(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shared := cache.NewInMemoryCache()
	defer shared.Close()
	n := notify.NewChannelNotifier()
	defer n.Close()

	tabA := New(cache.NewTieredCache(cache.NewInMemoryCache(), shared, time.Hour), Options{Notifier: n, Origin: "a"})
	tabB := New(cache.NewTieredCache(cache.NewInMemoryCache(), shared, time.Hour), Options{Notifier: n, Origin: "b"})
	key := CartKey("guest")

	// Warm B's L1 with an empty cart.
	tabB.Save(ctx, key, domain.CartState{})
	changes := tabB.Watch(ctx, key)

	tabB.Save(ctx, key, domain.CartState{})
	select {
	case msg := <-changes:
		t.Fatalf("own write should not be reported: %+v", msg)
	case <-time.After(20 * time.Millisecond):
	}

	tabA.Save(ctx, key, sampleCart())
	select {
	case msg := <-changes:
		if msg.Origin != "a" {
			t.Fatalf("Origin = %q, want a", msg.Origin)
		}
	case <-time.After(time.Second):
		t.Fatal("expected change notification from tab a")
	}

	got := Load(ctx, tabB, key, domain.CartState{})
	if diff := cmp.Diff(sampleCart(), got); diff != "" {
		t.Fatalf("tab b should observe tab a's write (-want +got):\n%s", diff)
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
