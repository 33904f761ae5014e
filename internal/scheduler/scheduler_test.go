package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestScheduler_RunsAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New(time.Second)
	var runs atomic.Int32
	if err := s.Add("tick", Every(time.Second), func(context.Context) { runs.Add(1) }); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start()

	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	s.Stop()

	if runs.Load() == 0 {
		t.Fatal("job never ran")
	}
}

func TestScheduler_AddReplacesAndRemove(t *testing.T) {
	s := New(0)
	defer s.Stop()

	noop := func(context.Context) {}
	if err := s.Add("sync", "@every 30s", noop); err != nil {
		t.Fatal(err)
	}
	if err := s.Add("sync", "@every 10s", noop); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
	s.Remove("sync")
	if s.Len() != 0 {
		t.Fatalf("Len() = %d after Remove", s.Len())
	}
	if err := s.Add("bad", "not a schedule", noop); err == nil {
		t.Fatal("expected invalid spec to be rejected")
	}
}

func TestEvery(t *testing.T) {
	if got := Every(30 * time.Second); got != "@every 30s" {
		t.Fatalf("Every(30s) = %q", got)
	}
}
