package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestNoopNotifier(t *testing.T) {
	n := NewNoopNotifier()
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := n.Subscribe(ctx, TopicReachability)

	if err := n.Notify(ctx, Message{Topic: TopicReachability, Payload: Online}); err != nil {
		t.Fatalf("Notify should not return error: %v", err)
	}
	select {
	case <-ch:
		t.Fatal("NoopNotifier should never deliver")
	case <-time.After(10 * time.Millisecond):
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel should close on cancel")
	}
}

func TestChannelNotifier_TopicsAreIsolated(t *testing.T) {
	n := NewChannelNotifier()
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cartCh := n.Subscribe(ctx, StorageTopic("cart:guest"))
	bmCh := n.Subscribe(ctx, StorageTopic("bookmarks:guest"))

	if err := n.Notify(ctx, Message{Topic: StorageTopic("cart:guest"), Origin: "tab-1"}); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	select {
	case msg := <-cartCh:
		if msg.Origin != "tab-1" {
			t.Fatalf("Origin = %q, want tab-1", msg.Origin)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a message on the cart topic")
	}
	select {
	case <-bmCh:
		t.Fatal("bookmarks topic should not receive cart changes")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestChannelNotifier_LatestMessageWins(t *testing.T) {
	n := NewChannelNotifier()
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := n.Subscribe(ctx, TopicReachability)
	n.Notify(ctx, Message{Topic: TopicReachability, Payload: Offline})
	n.Notify(ctx, Message{Topic: TopicReachability, Payload: Online})

	msg := <-ch
	if msg.Payload != Online {
		t.Fatalf("Payload = %q, want the latest %q", msg.Payload, Online)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected second message %+v", extra)
	default:
	}
}

func TestChannelNotifier_CancelUnsubscribes(t *testing.T) {
	defer goleak.VerifyNone(t)
	n := NewChannelNotifier()
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := n.Subscribe(ctx, TopicReachability)
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after cancel")
	}
	if got := n.Subscribers(TopicReachability); got != 0 {
		t.Fatalf("Subscribers() = %d after cancel, want 0", got)
	}
	if err := n.Notify(context.Background(), Message{Topic: TopicReachability}); err != nil {
		t.Fatalf("Notify after cancel failed: %v", err)
	}
}

func TestChannelNotifier_Close(t *testing.T) {
	defer goleak.VerifyNone(t)
	n := NewChannelNotifier()
	ch := n.Subscribe(context.Background(), TopicReachability)

	if err := n.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after Close()")
	}
	if err := n.Close(); err != nil {
		t.Fatalf("double Close failed: %v", err)
	}

	late := n.Subscribe(context.Background(), TopicReachability)
	if _, ok := <-late; ok {
		t.Fatal("subscribing after Close should yield a closed channel")
	}
}

func TestChannelNotifier_ConcurrentAccess(t *testing.T) {
	n := NewChannelNotifier()
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const goroutines = 10
	var wg sync.WaitGroup
	topic := StorageTopic("cart:user:u-1")

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := n.Subscribe(ctx, topic)
			select {
			case <-ch:
			case <-time.After(time.Second):
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.Notify(ctx, Message{Topic: topic})
		}()
	}

	wg.Wait()
}
