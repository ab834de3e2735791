package imessagerepo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/leadloop/agentbus/internal/service/models/message"
)

// IMessageRepository defines the interface for the durable message log.
type IMessageRepository interface {
	// Insert appends a new message to the log.
	Insert(ctx context.Context, msg message.Message) error

	// Consume marks a message consumed by the given agent. It reports whether
	// this call performed the update; consuming an already-consumed message is
	// a no-op, not an error.
	Consume(ctx context.Context, id uuid.UUID, agent string, at time.Time) (bool, error)

	// GetStaleMessages retrieves unconsumed messages created before the cutoff.
	GetStaleMessages(ctx context.Context, olderThan time.Time, limit int) ([]message.Message, error)

	// IncrementRetry increments the retry counter of a message.
	IncrementRetry(ctx context.Context, id uuid.UUID) error

	// CountTotal returns the count of all messages ever published.
	CountTotal(ctx context.Context) (int64, error)

	// CountUnconsumed returns the count of unconsumed messages.
	CountUnconsumed(ctx context.Context) (int64, error)

	// UnconsumedByChannel returns unconsumed counts grouped by channel.
	UnconsumedByChannel(ctx context.Context) ([]message.ChannelBacklog, error)
}
