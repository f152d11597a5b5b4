package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"live-quiz-service/internal/broadcast"
)

// Broker shares topics between server processes over Redis pub/sub. Each
// process keeps one Redis subscription per topic that has local subscribers
// and fans received messages out through a broadcast.LocalBroker.
type Broker struct {
	client redis.UniversalClient
	prefix string
	local  *broadcast.LocalBroker
	pubsub *redis.PubSub
	done   chan struct{}

	mu     sync.Mutex
	closed bool
	refs   map[string]int
}

var _ broadcast.Broker = (*Broker)(nil)

func NewBroker(ctx context.Context, client redis.UniversalClient, prefix string, local *broadcast.LocalBroker) (*Broker, error) {
	b := &Broker{
		client: client,
		prefix: prefix,
		local:  local,
		done:   make(chan struct{}),
		refs:   make(map[string]int),
	}

	// A control channel keeps the connection in subscribed mode before any
	// topic is joined.
	b.pubsub = client.Subscribe(ctx, b.channel("_broker"))
	if _, err := b.pubsub.Receive(ctx); err != nil {
		_ = b.pubsub.Close()
		return nil, fmt.Errorf("redis broker subscribe: %w", err)
	}

	go b.run()
	return b, nil
}

func (b *Broker) run() {
	defer close(b.done)
	for msg := range b.pubsub.Channel() {
		topic := strings.TrimPrefix(msg.Channel, b.prefix)
		if err := b.local.Publish(context.Background(), topic, []byte(msg.Payload)); err != nil {
			slog.Error("redis broker: local fan-out failed", "topic", topic, "error", err)
		}
	}
}

func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.client.Publish(ctx, b.channel(topic), payload).Err()
}

func (b *Broker) Subscribe(ctx context.Context, topic string) (*broadcast.Subscription, error) {
	sub, err := b.local.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.refs[topic]++
	if b.refs[topic] == 1 {
		if err := b.pubsub.Subscribe(ctx, b.channel(topic)); err != nil {
			b.refs[topic]--
			delete(b.refs, topic)
			sub.Close()
			return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
		}
	}
	sub.OnClose(func() { b.release(topic) })
	return sub, nil
}

func (b *Broker) release(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refs[topic]--
	if b.refs[topic] > 0 {
		return
	}
	delete(b.refs, topic)
	if b.closed {
		return
	}
	if err := b.pubsub.Unsubscribe(context.Background(), b.channel(topic)); err != nil {
		slog.Warn("redis broker: unsubscribe failed", "topic", topic, "error", err)
	}
}

// Close stops the receive loop and evicts all local subscribers.
func (b *Broker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	err := b.pubsub.Close()
	<-b.done
	_ = b.local.Close()
	return err
}

func (b *Broker) channel(topic string) string {
	return b.prefix + topic
}
