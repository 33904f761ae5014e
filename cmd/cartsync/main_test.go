package main

import (
	"context"
	"testing"

	"github.com/oriys/cartsync/internal/config"
)

func TestOpenStore(t *testing.T) {
	cfg := config.DefaultConfig()

	s, err := openStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	s.Close()

	cfg.Daemon.Storage = "floppy"
	if _, err := openStore(context.Background(), cfg); err == nil {
		t.Fatal("unknown storage should fail")
	}
}

func TestProductFlags(t *testing.T) {
	pf := productFlags{price: 4.5}
	p, err := pf.product("P1")
	if err != nil {
		t.Fatalf("product: %v", err)
	}
	if p.Name != "P1" || p.Price != 4.5 {
		t.Fatalf("unexpected product %+v", p)
	}

	pf.price = -1
	if _, err := pf.product("P1"); err == nil {
		t.Fatal("negative price should be rejected")
	}
}
