// Package notify carries lightweight change signals between the components of
// one process and between processes that share a device cache.
//
// Two families of topics exist:
//   - storage:<key>: a Local Cache entry was written or cleared. Stores of
//     other tabs reload the entity on receipt.
//   - reachability: the network came back or went away. The sync daemon
//     drains the Offline Queue when it sees "online".
//
// Implementations:
//   - NoopNotifier: never delivers anything
//   - ChannelNotifier: in-process fan-out for tabs living in one process
//   - RedisNotifier: PUBLISH/SUBSCRIBE fan-out for processes sharing a Redis cache
//
// Delivery is lossy and coalescing: every subscription buffers one message and a
// newer message replaces an unread older one. Receivers re-read the source of
// truth instead of trusting the message contents.
package notify

import (
	"context"
	"sync"
)

// Topic identifies a signal stream.
type Topic string

const TopicReachability Topic = "reachability"

// Reachability payloads.
const (
	Online  = "online"
	Offline = "offline"
)

// StorageTopic returns the topic announcing changes of a Local Cache key.
func StorageTopic(key string) Topic {
	return Topic("storage:" + key)
}

// Message is one signal. Origin identifies the sender so receivers can tell
// their own echoes apart when they care to.
type Message struct {
	Topic   Topic  `json:"topic"`
	Origin  string `json:"origin,omitempty"`
	Payload string `json:"payload,omitempty"`
}

// Notifier publishes and fans out signals.
type Notifier interface {
	// Notify publishes msg on msg.Topic.
	Notify(ctx context.Context, msg Message) error

	// Subscribe returns a channel receiving messages published on topic. The
	// channel is closed when ctx is cancelled or Close is called.
	Subscribe(ctx context.Context, topic Topic) <-chan Message

	// Close releases all resources held by the notifier.
	Close() error
}

// deliver hands msg to ch without blocking, replacing an unread message.
// Callers must be the only writer of ch at that moment.
func deliver(ch chan Message, msg Message) {
	select {
	case ch <- msg:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- msg:
	default:
	}
}

// NoopNotifier never delivers anything.
type NoopNotifier struct{}

func NewNoopNotifier() *NoopNotifier { return &NoopNotifier{} }

func (n *NoopNotifier) Notify(_ context.Context, _ Message) error { return nil }

func (n *NoopNotifier) Subscribe(ctx context.Context, _ Topic) <-chan Message {
	ch := make(chan Message)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

func (n *NoopNotifier) Close() error { return nil }

// ChannelNotifier fans signals out to subscribers inside one process.
type ChannelNotifier struct {
	mu          sync.Mutex
	subscribers map[Topic][]chan Message
	closed      bool
	done        chan struct{}
}

func NewChannelNotifier() *ChannelNotifier {
	return &ChannelNotifier{
		subscribers: make(map[Topic][]chan Message),
		done:        make(chan struct{}),
	}
}

func (n *ChannelNotifier) Notify(_ context.Context, msg Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	for _, ch := range n.subscribers[msg.Topic] {
		deliver(ch, msg)
	}
	return nil
}

func (n *ChannelNotifier) Subscribe(ctx context.Context, topic Topic) <-chan Message {
	ch := make(chan Message, 1)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(ch)
		return ch
	}
	n.subscribers[topic] = append(n.subscribers[topic], ch)
	n.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-n.done:
			return
		}
		n.mu.Lock()
		defer n.mu.Unlock()
		subs := n.subscribers[topic]
		for i, s := range subs {
			if s == ch {
				n.subscribers[topic] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}()

	return ch
}

// Subscribers returns how many live subscriptions topic has.
func (n *ChannelNotifier) Subscribers(topic Topic) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subscribers[topic])
}

func (n *ChannelNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	close(n.done)
	for _, subs := range n.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}
	n.subscribers = nil
	return nil
}
