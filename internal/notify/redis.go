package notify

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/oriys/cartsync/internal/logging"
)

const defaultRedisChannelPrefix = "cartsync:notify:"

// RedisNotifier broadcasts signals with PUBLISH/SUBSCRIBE so every process
// attached to a shared Redis device cache sees storage changes of the others.
type RedisNotifier struct {
	client *redis.Client
	prefix string
	mu     sync.Mutex
	subs   map[*redisSub]struct{}
	closed bool
}

type redisSub struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisNotifier creates a Redis-backed notifier. An empty prefix selects
// "cartsync:notify:".
func NewRedisNotifier(client *redis.Client, prefix string) *RedisNotifier {
	if prefix == "" {
		prefix = defaultRedisChannelPrefix
	}
	return &RedisNotifier{
		client: client,
		prefix: prefix,
		subs:   make(map[*redisSub]struct{}),
	}
}

func (n *RedisNotifier) channel(topic Topic) string {
	return n.prefix + string(topic)
}

func (n *RedisNotifier) Notify(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel(msg.Topic), data).Err()
}

// Subscribe starts a goroutine that forwards Redis messages of topic to the
// returned channel. The goroutine owns the channel and closes it on exit.
func (n *RedisNotifier) Subscribe(ctx context.Context, topic Topic) <-chan Message {
	ch := make(chan Message, 1)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(ch)
		return ch
	}
	subCtx, cancel := context.WithCancel(ctx)
	rs := &redisSub{cancel: cancel, done: make(chan struct{})}
	n.subs[rs] = struct{}{}
	n.mu.Unlock()

	pubsub := n.client.Subscribe(subCtx, n.channel(topic))

	go func() {
		defer close(rs.done)
		defer close(ch)
		defer pubsub.Close()
		defer n.removeSub(rs)

		msgCh := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case raw, ok := <-msgCh:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					logging.Op().Debug("dropping malformed notification", "channel", raw.Channel, "error", err)
					continue
				}
				deliver(ch, msg)
			}
		}
	}()

	return ch
}

// Close cancels every subscription and waits for their goroutines.
func (n *RedisNotifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	subs := make([]*redisSub, 0, len(n.subs))
	for s := range n.subs {
		subs = append(subs, s)
	}
	n.mu.Unlock()

	for _, s := range subs {
		s.cancel()
		<-s.done
	}
	return nil
}

func (n *RedisNotifier) removeSub(target *redisSub) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.subs, target)
}
