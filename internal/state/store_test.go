package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/oriys/cartsync/internal/cache"
	"github.com/oriys/cartsync/internal/domain"
	"github.com/oriys/cartsync/internal/localcache"
	"github.com/oriys/cartsync/internal/notify"
)

type recordingPusher struct {
	mu  sync.Mutex
	ops []domain.Operation
	ids []domain.SessionIdentity
}

func (p *recordingPusher) Push(id domain.SessionIdentity, op domain.Operation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = append(p.ops, op)
	p.ids = append(p.ids, id)
}

func (p *recordingPusher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.ops))
	for i, op := range p.ops {
		out[i] = string(op.Entity) + "/" + string(op.Kind)
	}
	return out
}

type recordingMirror struct {
	mu    sync.Mutex
	snaps []domain.Snapshot
}

func (m *recordingMirror) Update(snap domain.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, snap)
}

var (
	p1 = domain.Product{ID: "P1", Name: "Mug", Price: 10}
	p2 = domain.Product{ID: "P2", Name: "Tea", Price: 2.5}
)

type harness struct {
	store  *Store
	local  *localcache.Local
	pusher *recordingPusher
	mirror *recordingMirror
}

func newHarness(t *testing.T, backend cache.Cache, n notify.Notifier) *harness {
	t.Helper()
	if backend == nil {
		mem := cache.NewInMemoryCache()
		t.Cleanup(func() { mem.Close() })
		backend = mem
	}
	local := localcache.New(backend, localcache.Options{Notifier: n})
	h := &harness{local: local, pusher: &recordingPusher{}, mirror: &recordingMirror{}}
	h.store = New(context.Background(), Options{
		Identity: domain.Anonymous("s-1"),
		Local:    local,
		Pusher:   h.pusher,
		Mirror:   h.mirror,
	})
	t.Cleanup(h.store.Close)
	return h
}

func TestStore_AddItemToEmptyCart(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.store.Bootstrap(context.Background())

	h.store.AddItem(p1, 2)

	cart := h.store.Cart()
	want := []domain.LineItem{{Product: p1, Quantity: 2}}
	if diff := cmp.Diff(want, cart.Items); diff != "" {
		t.Fatalf("items mismatch (-want +got):\n%s", diff)
	}
	if h.store.TotalItems() != 2 || h.store.TotalPrice() != 20 {
		t.Fatalf("totals = %d/%v", h.store.TotalItems(), h.store.TotalPrice())
	}
	if got := h.pusher.kinds(); !cmp.Equal(got, []string{"cart/add"}) {
		t.Fatalf("pushed %v", got)
	}
}

func TestStore_UpdateQuantityZeroRemoves(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.store.Bootstrap(context.Background())

	h.store.AddItem(p1, 2)
	h.store.UpdateQuantity("P1", 0)

	if h.store.Cart().Find("P1") != -1 {
		t.Fatalf("P1 should be absent: %+v", h.store.Cart())
	}
	if got := h.pusher.kinds(); !cmp.Equal(got, []string{"cart/add", "cart/remove"}) {
		t.Fatalf("pushed %v", got)
	}
}

func TestStore_MutationsPersist(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	h.store.Bootstrap(ctx)

	h.store.AddItem(p1, 1)
	h.store.ToggleBookmark(p2)

	cart := localcache.Load(ctx, h.local, localcache.CartKey("guest"), domain.CartState{})
	if cart.Quantity("P1") != 1 {
		t.Fatalf("persisted cart = %+v", cart)
	}
	bm := localcache.Load(ctx, h.local, localcache.BookmarksKey("guest"), domain.BookmarkState{})
	if !bm.Contains("P2") {
		t.Fatalf("persisted bookmarks = %+v", bm)
	}

	h.store.ToggleBookmark(p2)
	if h.store.IsBookmarked("P2") {
		t.Fatal("second toggle should remove the bookmark")
	}
}

func TestStore_ListenersRunSynchronouslyInOrder(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.store.Bootstrap(context.Background())

	var seen []int
	unsubscribe := h.store.Subscribe(func(s domain.Snapshot) {
		seen = append(seen, s.Cart.TotalItems())
	})

	h.store.AddItem(p1, 1)
	h.store.AddItem(p1, 2)
	unsubscribe()
	h.store.AddItem(p1, 1)

	if !cmp.Equal(seen, []int{1, 3}) {
		t.Fatalf("listener saw %v, want [1 3]", seen)
	}
}

func TestStore_PreHydrationMutationsReplayOnHydratedBase(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	// Another session left a cart on the device.
	localcache.NewSlot[domain.CartState](h.local, localcache.CartKey("guest")).
		Save(ctx, domain.CartState{}.WithAdded(p2, 4))

	h.store.AddItem(p1, 1)
	h.store.UpdateQuantity("P2", 1)

	if h.store.Hydrated() {
		t.Fatal("store should not be hydrated yet")
	}
	if h.store.Buffered() != 2 {
		t.Fatalf("Buffered() = %d, want 2", h.store.Buffered())
	}
	if len(h.pusher.kinds()) != 0 {
		t.Fatal("nothing should be pushed before hydration")
	}

	h.store.Bootstrap(ctx)

	want := []domain.LineItem{{Product: p2, Quantity: 1}, {Product: p1, Quantity: 1}}
	if diff := cmp.Diff(want, h.store.Cart().Items); diff != "" {
		t.Fatalf("replayed cart mismatch (-want +got):\n%s", diff)
	}
	if got := h.pusher.kinds(); !cmp.Equal(got, []string{"cart/add", "cart/update"}) {
		t.Fatalf("pushed %v", got)
	}
	persisted := localcache.Load(ctx, h.local, localcache.CartKey("guest"), domain.CartState{})
	if diff := cmp.Diff(want, persisted.Items); diff != "" {
		t.Fatalf("persisted cart mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_SnapshotWinsOverStaleLocalCache(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	localcache.NewSlot[domain.CartState](h.local, localcache.CartKey("guest")).
		Save(ctx, domain.CartState{Items: []domain.LineItem{}})

	snap := domain.EmptySnapshot()
	snap.Cart = domain.CartState{}.WithAdded(p1, 5)

	var firstRender int
	h.store.Subscribe(func(s domain.Snapshot) {
		if firstRender == 0 {
			firstRender = s.Cart.TotalItems()
		}
	})

	if !h.store.AdoptSnapshot(snap) {
		t.Fatal("snapshot should be adopted before hydration")
	}
	h.store.Bootstrap(ctx)

	if firstRender != 5 {
		t.Fatalf("first render totalItems = %d, want 5", firstRender)
	}
	if h.store.TotalItems() != 5 {
		t.Fatalf("TotalItems() after bootstrap = %d, want 5", h.store.TotalItems())
	}
	if h.store.AdoptSnapshot(domain.EmptySnapshot()) {
		t.Fatal("a snapshot must not be adopted after hydration")
	}
}

func TestStore_ApplyCartIgnoresOtherIdentity(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.store.Bootstrap(context.Background())
	h.store.AddItem(p1, 1)

	rev := h.store.Revision(domain.EntityCart)
	server := domain.CartState{}.WithAdded(p1, 3)
	if h.store.ApplyCart(domain.Authenticated("u-9"), rev, server) {
		t.Fatal("body for another identity must be ignored")
	}
	if !h.store.ApplyCart(domain.Anonymous("s-1"), rev, server) {
		t.Fatal("body for the current identity should be adopted")
	}
	if h.store.Cart().Quantity("P1") != 3 {
		t.Fatalf("Quantity(P1) = %d, want 3", h.store.Cart().Quantity("P1"))
	}
	if got := h.pusher.kinds(); len(got) != 1 {
		t.Fatalf("reconciliation must not push, got %v", got)
	}
}

func TestStore_StaleServerBodyIsDropped(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	h.store.Bootstrap(ctx)
	h.store.AddItem(p1, 1)

	// The body answers the first add; P2 was added while it was in flight.
	rev := h.store.Revision(domain.EntityCart)
	h.store.AddItem(p2, 1)
	if h.store.ApplyCart(domain.Anonymous("s-1"), rev, domain.CartState{}.WithAdded(p1, 1)) {
		t.Fatal("body older than the last mutation must be dropped")
	}
	if h.store.Cart().Quantity("P2") != 1 {
		t.Fatalf("P2 lost from memory: %+v", h.store.Cart().Items)
	}
	persisted := localcache.Load(ctx, h.local, localcache.CartKey("guest"), domain.CartState{})
	if persisted.Quantity("P2") != 1 {
		t.Fatalf("P2 lost from the local cache: %+v", persisted.Items)
	}

	// Bookmarks moved on independently of the cart.
	if !h.store.ApplyBookmarks(domain.Anonymous("s-1"), h.store.Revision(domain.EntityBookmarks),
		domain.BookmarkState{}.WithAdded(p1)) {
		t.Fatal("bookmark body at the current revision should be adopted")
	}
}

func TestStore_ServerBodyBeforeBootstrapKeepsOtherEntity(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	localcache.NewSlot[domain.BookmarkState](h.local, localcache.BookmarksKey("guest")).
		Save(ctx, domain.BookmarkState{}.WithAdded(p2))

	if !h.store.ApplyCart(domain.Anonymous("s-1"), "", domain.CartState{}.WithAdded(p1, 2)) {
		t.Fatal("cart body should seed the store before hydration")
	}
	h.store.Bootstrap(ctx)

	if h.store.Cart().Quantity("P1") != 2 {
		t.Fatalf("seeded cart lost: %+v", h.store.Cart().Items)
	}
	if !h.store.IsBookmarked("P2") {
		t.Fatalf("cached bookmarks lost: %+v", h.store.Bookmarks().Products)
	}
	persisted := localcache.Load(ctx, h.local, localcache.BookmarksKey("guest"), domain.BookmarkState{})
	if !persisted.Contains("P2") {
		t.Fatalf("cached bookmarks overwritten: %+v", persisted.Products)
	}
}

func TestStore_BufferedToggleResolvesOnHydratedState(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	localcache.NewSlot[domain.BookmarkState](h.local, localcache.BookmarksKey("guest")).
		Save(ctx, domain.BookmarkState{}.WithAdded(p2))

	h.store.ToggleBookmark(p2)
	h.store.ToggleBookmark(p1)
	h.store.Bootstrap(ctx)

	if h.store.IsBookmarked("P2") {
		t.Fatal("toggle of a cached bookmark should remove it")
	}
	if !h.store.IsBookmarked("P1") {
		t.Fatal("toggle of a new product should add it")
	}
	if got := h.pusher.kinds(); !cmp.Equal(got, []string{"bookmarks/remove", "bookmarks/add"}) {
		t.Fatalf("pushed %v", got)
	}
}

func TestStore_HoldBuffersUntilIdentitySwitch(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	h.store.Bootstrap(ctx)
	h.store.AddItem(p1, 1)

	h.store.Hold()
	h.store.AddItem(p2, 2)
	if h.store.Cart().Quantity("P2") != 2 {
		t.Fatal("held mutation should still apply in memory")
	}
	if h.store.Buffered() != 1 || len(h.pusher.kinds()) != 1 {
		t.Fatalf("held mutation should be buffered: buffered=%d pushed=%v", h.store.Buffered(), h.pusher.kinds())
	}
	guestCart := localcache.Load(ctx, h.local, localcache.CartKey("guest"), domain.CartState{})
	if guestCart.Quantity("P2") != 0 {
		t.Fatal("held mutation must not reach the guest entries")
	}
	if h.store.ApplyCart(domain.Anonymous("s-1"), h.store.Revision(domain.EntityCart), domain.CartState{}) {
		t.Fatal("server bodies are ignored while held")
	}

	user := domain.Authenticated("u-1")
	merged := domain.EmptySnapshot()
	merged.Cart = domain.CartState{}.WithAdded(p1, 4)
	h.store.SwitchIdentity(user, merged)

	want := []domain.LineItem{{Product: p1, Quantity: 4}, {Product: p2, Quantity: 2}}
	if diff := cmp.Diff(want, h.store.Cart().Items); diff != "" {
		t.Fatalf("cart after switch (-want +got):\n%s", diff)
	}
	h.pusher.mu.Lock()
	lastID, lastOp := h.pusher.ids[len(h.pusher.ids)-1], h.pusher.ops[len(h.pusher.ops)-1]
	h.pusher.mu.Unlock()
	if lastID != user || lastOp.ProductRef() != "P2" {
		t.Fatalf("held mutation pushed as %s: %s", lastID, lastOp)
	}
	persisted := localcache.Load(ctx, h.local, localcache.CartKey("user:u-1"), domain.CartState{})
	if diff := cmp.Diff(want, persisted.Items); diff != "" {
		t.Fatalf("user cart not persisted (-want +got):\n%s", diff)
	}
}

func TestStore_ResumeFlushesHeldMutations(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	h.store.Bootstrap(ctx)

	h.store.Hold()
	h.store.AddItem(p1, 1)
	h.store.Resume()

	if h.store.Buffered() != 0 {
		t.Fatalf("Buffered() = %d after resume", h.store.Buffered())
	}
	if got := h.pusher.kinds(); !cmp.Equal(got, []string{"cart/add"}) {
		t.Fatalf("pushed %v", got)
	}
	persisted := localcache.Load(ctx, h.local, localcache.CartKey("guest"), domain.CartState{})
	if persisted.Quantity("P1") != 1 {
		t.Fatalf("resumed mutation not persisted: %+v", persisted.Items)
	}
}

// gatedCache blocks writes once armed until release is closed.
type gatedCache struct {
	*cache.InMemoryCache
	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func (c *gatedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	armed := c.armed
	c.armed = false
	c.mu.Unlock()
	if armed {
		close(c.entered)
		<-c.release
	}
	return c.InMemoryCache.Set(ctx, key, value, ttl)
}

func TestStore_ReadsDoNotWaitForPersistence(t *testing.T) {
	mem := cache.NewInMemoryCache()
	t.Cleanup(func() { mem.Close() })
	gate := &gatedCache{InMemoryCache: mem, entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, gate, nil)
	ctx := context.Background()
	h.store.Bootstrap(ctx)

	gate.mu.Lock()
	gate.armed = true
	gate.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.store.AddItem(p1, 1)
	}()
	<-gate.entered

	read := make(chan int, 1)
	go func() { read <- h.store.Cart().Quantity("P1") }()
	select {
	case q := <-read:
		if q != 1 {
			t.Fatalf("quantity during persist = %d, want 1", q)
		}
	case <-time.After(time.Second):
		close(gate.release)
		t.Fatal("read blocked behind the Local Cache write")
	}

	close(gate.release)
	<-done
	persisted := localcache.Load(ctx, h.local, localcache.CartKey("guest"), domain.CartState{})
	if persisted.Quantity("P1") != 1 {
		t.Fatalf("persisted cart = %+v", persisted)
	}
}

func TestStore_MirrorSeesEveryChange(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.store.Bootstrap(context.Background())
	h.store.AddItem(p1, 1)
	h.store.Clear()

	h.mirror.mu.Lock()
	defer h.mirror.mu.Unlock()
	last := h.mirror.snaps[len(h.mirror.snaps)-1]
	if len(last.Cart.Items) != 0 {
		t.Fatalf("mirror last saw %+v", last.Cart)
	}
}

func TestStore_SwitchIdentityAndReset(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	h.store.Bootstrap(ctx)
	h.store.AddItem(p1, 1)

	user := domain.Authenticated("u-1")
	merged := domain.EmptySnapshot()
	merged.Cart = domain.CartState{}.WithAdded(p1, 3)
	h.store.SwitchIdentity(user, merged)

	if h.store.Identity() != user || h.store.TotalItems() != 3 {
		t.Fatalf("after switch: %s %d", h.store.Identity(), h.store.TotalItems())
	}
	persisted := localcache.Load(ctx, h.local, localcache.CartKey("user:u-1"), domain.CartState{})
	if persisted.Quantity("P1") != 3 {
		t.Fatalf("user partition not persisted: %+v", persisted)
	}

	h.store.AddItem(p2, 1)
	h.pusher.mu.Lock()
	lastID := h.pusher.ids[len(h.pusher.ids)-1]
	h.pusher.mu.Unlock()
	if lastID != user {
		t.Fatalf("push after login went to %s", lastID)
	}

	guest := domain.Anonymous("s-2")
	h.store.Reset(guest)
	if !h.store.Snapshot().IsEmpty() || h.store.Identity() != guest {
		t.Fatalf("after reset: %+v %s", h.store.Snapshot(), h.store.Identity())
	}
}

func TestStore_CrossTabChangeIsAdopted(t *testing.T) {
	defer goleak.VerifyNone(t)

	shared := cache.NewInMemoryCache()
	defer shared.Close()
	n := notify.NewChannelNotifier()
	defer n.Close()

	tabA := newHarness(t, shared, n)
	tabB := newHarness(t, shared, n)
	ctx := context.Background()
	tabA.store.Bootstrap(ctx)
	tabB.store.Bootstrap(ctx)

	changed := make(chan int, 4)
	tabB.store.Subscribe(func(s domain.Snapshot) { changed <- s.Cart.TotalItems() })

	tabA.store.AddItem(p1, 2)

	select {
	case n := <-changed:
		if n != 2 {
			t.Fatalf("tab b saw totalItems %d, want 2", n)
		}
	case <-time.After(time.Second):
		t.Fatal("tab b should adopt tab a's write")
	}
	if got := tabB.pusher.kinds(); len(got) != 0 {
		t.Fatalf("adopting a foreign write must not push, got %v", got)
	}

	tabA.store.Close()
	tabB.store.Close()
}

func TestStore_ClosedIgnoresMutations(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.store.Bootstrap(context.Background())
	h.store.Close()
	h.store.AddItem(p1, 1)
	if h.store.TotalItems() != 0 {
		t.Fatal("mutation after Close should be ignored")
	}
}
