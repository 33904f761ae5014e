package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/oriys/cartsync/internal/domain"
)

func product(id string, price float64) domain.Product {
	return domain.Product{ID: id, Name: "Product " + id, Price: price}
}

func TestPartitionOf(t *testing.T) {
	if got := PartitionOf(domain.Anonymous("s-1")); got != "session:s-1" {
		t.Fatalf("PartitionOf(anonymous) = %q", got)
	}
	if got := PartitionOf(domain.Authenticated("u-1")); got != "user:u-1" {
		t.Fatalf("PartitionOf(user) = %q", got)
	}
}

// stores returns every backend reachable from this test environment.
func stores(t *testing.T) map[string]CartStore {
	t.Helper()
	out := map[string]CartStore{"memory": NewMemoryStore()}

	if dsn := os.Getenv("CARTSYNC_TEST_POSTGRES_DSN"); dsn != "" {
		s, err := NewPostgresStore(context.Background(), dsn)
		if err != nil {
			t.Fatalf("NewPostgresStore: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		out["postgres"] = s
	}

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	if err := client.Ping(context.Background()).Err(); err == nil {
		prefix := fmt.Sprintf("cartsync:test:%s:", t.Name())
		t.Cleanup(func() {
			keys, _ := client.Keys(context.Background(), prefix+"*").Result()
			if len(keys) > 0 {
				client.Del(context.Background(), keys...)
			}
			client.Close()
		})
		out["redis"] = NewRedisStoreFromClient(client, prefix)
	} else {
		client.Close()
	}
	return out
}

func TestCartStore_MissingPartitionIsEmpty(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		c, err := s.GetCart(ctx, "session:missing")
		if err != nil {
			t.Fatalf("%s: GetCart: %v", name, err)
		}
		if c.Items == nil || len(c.Items) != 0 {
			t.Fatalf("%s: expected empty non-nil items, got %#v", name, c.Items)
		}
		b, err := s.GetBookmarks(ctx, "session:missing")
		if err != nil {
			t.Fatalf("%s: GetBookmarks: %v", name, err)
		}
		if b.Products == nil || len(b.Products) != 0 {
			t.Fatalf("%s: expected empty non-nil products, got %#v", name, b.Products)
		}
	}
}

func TestCartStore_UpdateRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		part := "user:" + name
		got, err := s.UpdateCart(ctx, part, func(c domain.CartState) domain.CartState {
			return c.WithAdded(product("P1", 10), 2)
		})
		if err != nil {
			t.Fatalf("%s: UpdateCart: %v", name, err)
		}
		if got.Quantity("P1") != 2 {
			t.Fatalf("%s: returned cart %+v", name, got.Items)
		}

		stored, err := s.GetCart(ctx, part)
		if err != nil {
			t.Fatalf("%s: GetCart: %v", name, err)
		}
		if !stored.Equal(got) {
			t.Fatalf("%s: stored %+v, want %+v", name, stored.Items, got.Items)
		}

		if _, err := s.UpdateBookmarks(ctx, part, func(b domain.BookmarkState) domain.BookmarkState {
			return b.WithAdded(product("P2", 1)).WithAdded(product("P2", 1))
		}); err != nil {
			t.Fatalf("%s: UpdateBookmarks: %v", name, err)
		}
		b, _ := s.GetBookmarks(ctx, part)
		if b.Count() != 1 || !b.Contains("P2") {
			t.Fatalf("%s: bookmarks %+v", name, b.Products)
		}

		// Partitions are independent.
		other, _ := s.GetCart(ctx, "session:"+name)
		if len(other.Items) != 0 {
			t.Fatalf("%s: partition leaked: %+v", name, other.Items)
		}
	}
}

func TestCartStore_ConcurrentUpdatesAreSerialized(t *testing.T) {
	ctx := context.Background()
	const writers = 20

	for name, s := range stores(t) {
		part := "session:concurrent-" + name
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.UpdateCart(ctx, part, func(c domain.CartState) domain.CartState {
					return c.WithAdded(product("P1", 1), 1)
				})
				if err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("%s: UpdateCart: %v", name, err)
		}

		c, _ := s.GetCart(ctx, part)
		if c.Quantity("P1") != writers {
			t.Fatalf("%s: Quantity(P1) = %d, want %d", name, c.Quantity("P1"), writers)
		}
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	c, _ := s.UpdateCart(ctx, "user:u", func(c domain.CartState) domain.CartState {
		return c.WithAdded(product("P1", 1), 1)
	})
	c.Items[0].Quantity = 99

	stored, _ := s.GetCart(ctx, "user:u")
	if stored.Quantity("P1") != 1 {
		t.Fatalf("store aliased caller memory: %+v", stored.Items)
	}
}
