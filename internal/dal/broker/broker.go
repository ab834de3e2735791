package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MessageFunc receives one broadcast body for a channel.
type MessageFunc func(channel string, body []byte)

// Subscription represents an active subscription that can be closed.
type Subscription interface {
	Close() error
}

// Broker is a best-effort fan-out channel. Publishing delivers to currently
// connected subscribers only; there is no persistence and no replay. The
// durable message log, not the broker, is the delivery mechanism of record.
type Broker interface {
	// Publish broadcasts a body on a channel.
	Publish(ctx context.Context, channel string, body []byte) error

	// Subscribe binds fn to the given channels. Delivery runs in background
	// until the subscription or the broker is closed.
	Subscribe(ctx context.Context, channels []string, fn MessageFunc) (Subscription, error)

	// Close releases the broker connection.
	Close() error
}

// Factory constructs a broker from process configuration.
type Factory func() (Broker, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register registers a broker backend under a name. Adapters call it from init.
func Register(name string, factory Factory) {
	if name == "" {
		panic(errors.New("broker backend name must not be empty"))
	}
	if factory == nil {
		panic(errors.New("broker factory must not be nil"))
	}

	registryMu.Lock()
	registry[name] = factory
	registryMu.Unlock()
}

// New constructs a broker backend by name.
func New(name string) (Broker, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown broker backend %q", name)
	}

	return factory()
}
