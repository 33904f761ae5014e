package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLiteCache(t *testing.T) *SQLiteCache {
	t.Helper()
	c, err := OpenSQLiteCache(filepath.Join(t.TempDir(), "device.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteCache failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSQLiteCache_SetGetOverwrite(t *testing.T) {
	c := newTestSQLiteCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "cart:guest", []byte("v1"), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := c.Set(ctx, "cart:guest", []byte("v2"), time.Hour); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	val, err := c.Get(ctx, "cart:guest")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "v2" {
		t.Fatalf("expected 'v2', got '%s'", string(val))
	}
}

func TestSQLiteCache_Expiry(t *testing.T) {
	c := newTestSQLiteCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "short", []byte("v"), 5*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if _, err := c.Get(ctx, "short"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after expiry, got: %v", err)
	}
	exists, err := c.Exists(ctx, "short")
	if err != nil || exists {
		t.Fatalf("Exists = %v, %v; want false, nil", exists, err)
	}
}

func TestSQLiteCache_PurgeAndDelete(t *testing.T) {
	c := newTestSQLiteCache(t)
	ctx := context.Background()

	c.Set(ctx, "old", []byte("v"), time.Millisecond)
	c.Set(ctx, "keep", []byte("v"), 0)
	time.Sleep(10 * time.Millisecond)

	n, err := c.Purge(ctx)
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("Purge removed %d entries, want 1", n)
	}

	if err := c.Delete(ctx, "keep"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := c.Get(ctx, "keep"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got: %v", err)
	}
	if err := c.Delete(ctx, "never-existed"); err != nil {
		t.Fatalf("Delete non-existent should not fail: %v", err)
	}
}

func TestSQLiteCache_SharedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	a, err := OpenSQLiteCache(path)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := OpenSQLiteCache(path)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	ctx := context.Background()
	if err := a.Set(ctx, "k", []byte("from-a"), time.Hour); err != nil {
		t.Fatal(err)
	}
	val, err := b.Get(ctx, "k")
	if err != nil {
		t.Fatalf("second handle Get failed: %v", err)
	}
	if string(val) != "from-a" {
		t.Fatalf("expected 'from-a', got '%s'", string(val))
	}
}
