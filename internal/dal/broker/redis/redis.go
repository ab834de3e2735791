package redis

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/leadloop/agentbus/internal/dal/broker"
)

// BackendName identifies this adapter in the broker registry.
const BackendName = "redis"

func init() {
	broker.Register(BackendName, func() (broker.Broker, error) {
		return NewBroker()
	})
}

// Broker is a Redis PUB/SUB adapter. Redis pub/sub keeps nothing: a message
// published with no subscriber connected is gone, matching the best-effort
// contract the bus expects.
type Broker struct {
	client *redis.Client
}

// NewBroker connects to Redis using the standard environment variables.
func NewBroker() (*Broker, error) {
	addr := os.Getenv("AGENTBUS_REDIS_ADDR")
	if addr == "" {
		addr = "redis:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("AGENTBUS_REDIS_PASSWORD"),
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Redis connected", "addr", addr)

	return &Broker{client: client}, nil
}

// Publish broadcasts a body on a channel.
func (b *Broker) Publish(ctx context.Context, channel string, body []byte) error {
	if err := b.client.Publish(ctx, channel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	return nil
}

// Subscribe binds fn to the given channels.
func (b *Broker) Subscribe(
	ctx context.Context,
	channels []string,
	fn broker.MessageFunc,
) (broker.Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channels...)

	// Redis confirms each channel separately, so drain one subscribe
	// confirmation per channel before the caller transitions to running.
	for range channels {
		if _, err := pubsub.Receive(ctx); err != nil {
			if closeErr := pubsub.Close(); closeErr != nil {
				slog.Error("Failed to close Redis subscription", "error", closeErr)
			}

			return nil, fmt.Errorf("failed to subscribe: %w", err)
		}
	}

	go func() {
		for msg := range pubsub.Channel() {
			fn(msg.Channel, []byte(msg.Payload))
		}
	}()

	return pubsub, nil
}

// Close closes the Redis connection for graceful shutdown.
func (b *Broker) Close() error {
	return b.client.Close()
}
