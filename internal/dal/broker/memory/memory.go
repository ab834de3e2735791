package memory

import (
	"context"
	"sync"

	"github.com/leadloop/agentbus/internal/dal/broker"
)

// BackendName identifies this adapter in the broker registry.
const BackendName = "memory"

func init() {
	broker.Register(BackendName, func() (broker.Broker, error) {
		return NewBroker(), nil
	})
}

// Broker is an in-process fan-out used by tests and local development. Like
// the real backends it delivers only to subscribers connected at publish time.
type Broker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]broker.MessageFunc
	closed bool
}

// NewBroker creates an in-memory broker.
func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[int]broker.MessageFunc),
	}
}

// Publish broadcasts a body to the subscribers currently bound to the channel.
func (b *Broker) Publish(_ context.Context, channel string, body []byte) error {
	b.mu.RLock()
	fns := make([]broker.MessageFunc, 0, len(b.subs[channel]))
	for _, fn := range b.subs[channel] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		go fn(channel, body)
	}

	return nil
}

// Subscribe binds fn to the given channels.
func (b *Broker) Subscribe(
	_ context.Context,
	channels []string,
	fn broker.MessageFunc,
) (broker.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	for _, channel := range channels {
		if b.subs[channel] == nil {
			b.subs[channel] = make(map[int]broker.MessageFunc)
		}
		b.subs[channel][id] = fn
	}

	return &subscription{broker: b, id: id, channels: channels}, nil
}

// Close drops all subscriptions.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs = make(map[string]map[int]broker.MessageFunc)
	b.closed = true

	return nil
}

type subscription struct {
	broker   *Broker
	id       int
	channels []string
}

// Close unbinds the subscription from all its channels.
func (s *subscription) Close() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()

	for _, channel := range s.channels {
		delete(s.broker.subs[channel], s.id)
	}

	return nil
}
