// Package broadcast fans session and course messages out to subscribers.
package broadcast

import (
	"context"
	"sync"
)

// Broker is a topic based pub/sub. LocalBroker serves one process; the
// Redis broker shares topics across processes.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
	Close() error
}

// Subscription receives the messages of one topic in publish order. Done is
// closed when the subscriber is evicted for falling behind, the broker shuts
// down, or Close is called. Callers must Close it even after Done fires.
type Subscription struct {
	Topic string
	C     <-chan []byte

	ch        chan []byte
	done      chan struct{}
	once      sync.Once
	closeOnce sync.Once

	mu      sync.Mutex
	onClose []func()
}

func newSubscription(topic string, buffer int) *Subscription {
	ch := make(chan []byte, buffer)
	return &Subscription{Topic: topic, C: ch, ch: ch, done: make(chan struct{})}
}

func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// OnClose registers fn to run once when the subscription is closed.
func (s *Subscription) OnClose(fn func()) {
	s.mu.Lock()
	s.onClose = append(s.onClose, fn)
	s.mu.Unlock()
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		hooks := s.onClose
		s.mu.Unlock()
		for i := len(hooks) - 1; i >= 0; i-- {
			hooks[i]()
		}
		s.shutdown()
	})
}

func (s *Subscription) shutdown() {
	s.once.Do(func() { close(s.done) })
}

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// LocalBroker is an in-process topic registry. Publish never blocks: a
// subscriber whose queue is full is evicted.
type LocalBroker struct {
	buffer  int
	onEvict func(topic string)

	mu     sync.Mutex
	closed bool
	topics map[string]map[*Subscription]struct{}
}

type LocalOption func(*LocalBroker)

func WithBuffer(n int) LocalOption {
	return func(b *LocalBroker) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithEvictHook is called, under the broker lock, for every evicted subscriber.
func WithEvictHook(fn func(topic string)) LocalOption {
	return func(b *LocalBroker) { b.onEvict = fn }
}

func NewLocalBroker(opts ...LocalOption) *LocalBroker {
	b := &LocalBroker{
		buffer: DefaultBuffer,
		topics: make(map[string]map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *LocalBroker) Subscribe(_ context.Context, topic string) (*Subscription, error) {
	sub := newSubscription(topic, b.buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.shutdown()
		return sub, nil
	}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*Subscription]struct{})
	}
	b.topics[topic][sub] = struct{}{}
	sub.OnClose(func() { b.remove(sub) })
	return sub, nil
}

func (b *LocalBroker) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.topics[topic] {
		select {
		case sub.ch <- payload:
		default:
			b.dropLocked(sub)
			if b.onEvict != nil {
				b.onEvict(topic)
			}
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions on topic.
func (b *LocalBroker) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

func (b *LocalBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, subs := range b.topics {
		for sub := range subs {
			b.dropLocked(sub)
		}
	}
	return nil
}

func (b *LocalBroker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropLocked(sub)
}

func (b *LocalBroker) dropLocked(sub *Subscription) {
	subs := b.topics[sub.Topic]
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.topics, sub.Topic)
	}
	sub.shutdown()
}
