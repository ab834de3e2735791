package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/streadway/amqp"

	"github.com/leadloop/agentbus/internal/dal/broker"
)

// BackendName identifies this adapter in the broker registry.
const BackendName = "rabbitmq"

func init() {
	broker.Register(BackendName, func() (broker.Broker, error) {
		return NewBroker()
	})
}

// Broker is a RabbitMQ adapter that fans out through one non-durable
// auto-delete fanout exchange per channel. With no bound queue at publish
// time the broker drops the message, which is exactly the best-effort
// contract the bus expects.
type Broker struct {
	conn *amqp.Connection

	publishMu sync.Mutex
	publishCh *amqp.Channel
	declared  map[string]struct{}
}

// NewBroker connects to RabbitMQ using the standard environment variables.
func NewBroker() (*Broker, error) {
	host := os.Getenv("AGENTBUS_RABBITMQ_HOST")
	if host == "" {
		host = "rabbitmq"
	}

	connStr := fmt.Sprintf(
		"amqp://%s:%s@%s:5672/",
		os.Getenv("RABBITMQ_DEFAULT_USER"),
		os.Getenv("RABBITMQ_DEFAULT_PASS"),
		host,
	)

	conn, err := amqp.Dial(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	publishCh, err := conn.Channel()
	if err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			slog.Error("Failed to close RabbitMQ connection", "error", closeErr)
		}

		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	slog.Info("RabbitMQ connected", "host", host)

	return &Broker{
		conn:      conn,
		publishCh: publishCh,
		declared:  make(map[string]struct{}),
	}, nil
}

// exchangeName maps a bus channel to its fanout exchange.
func exchangeName(channel string) string {
	return "bus." + channel
}

func (b *Broker) declareExchange(ch *amqp.Channel, channel string) error {
	return ch.ExchangeDeclare(
		exchangeName(channel),
		amqp.ExchangeFanout,
		false, // durable
		true,  // auto-delete
		false,
		false,
		nil,
	)
}

// Publish broadcasts a body on a channel.
func (b *Broker) Publish(_ context.Context, channel string, body []byte) error {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	if _, ok := b.declared[channel]; !ok {
		if err := b.declareExchange(b.publishCh, channel); err != nil {
			return fmt.Errorf("failed to declare exchange for %s: %w", channel, err)
		}
		b.declared[channel] = struct{}{}
	}

	err := b.publishCh.Publish(
		exchangeName(channel),
		"",
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	return nil
}

// Subscribe binds fn to the given channels through exclusive auto-delete queues.
func (b *Broker) Subscribe(
	_ context.Context,
	channels []string,
	fn broker.MessageFunc,
) (broker.Subscription, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	for _, channel := range channels {
		if err := b.declareExchange(ch, channel); err != nil {
			return nil, fmt.Errorf("failed to declare exchange for %s: %w", channel, err)
		}

		queue, err := ch.QueueDeclare(
			"",    // server-generated name
			false, // durable
			true,  // auto-delete
			true,  // exclusive
			false,
			nil,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to declare queue for %s: %w", channel, err)
		}

		if err := ch.QueueBind(queue.Name, "", exchangeName(channel), false, nil); err != nil {
			return nil, fmt.Errorf("failed to bind queue for %s: %w", channel, err)
		}

		deliveries, err := ch.Consume(
			queue.Name,
			"",
			true, // auto-ack: acknowledgment happens against the durable log
			true, // exclusive
			false,
			false,
			nil,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to consume %s: %w", channel, err)
		}

		go func(channel string, deliveries <-chan amqp.Delivery) {
			for delivery := range deliveries {
				fn(channel, delivery.Body)
			}
		}(channel, deliveries)
	}

	return &subscription{channel: ch}, nil
}

// Close closes the channel and connection for graceful shutdown.
func (b *Broker) Close() error {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	if b.publishCh != nil {
		if err := b.publishCh.Close(); err != nil {
			return err
		}
	}
	if b.conn != nil {
		return b.conn.Close()
	}

	return nil
}

type subscription struct {
	channel *amqp.Channel
}

// Close cancels the consumers by closing the subscription's AMQP channel.
func (s *subscription) Close() error {
	return s.channel.Close()
}
