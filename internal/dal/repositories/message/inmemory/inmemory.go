package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leadloop/agentbus/internal/service/models/message"
)

// MessageRepository is an in-memory durable message log. It backs unit tests
// and local development where a Postgres instance is not available.
type MessageRepository struct {
	mu       sync.RWMutex
	messages map[uuid.UUID]*message.Message
	order    []uuid.UUID
}

// NewMessageRepository creates an empty in-memory message repository.
func NewMessageRepository() *MessageRepository {
	return &MessageRepository{
		messages: make(map[uuid.UUID]*message.Message),
	}
}

// Insert appends a new message to the log.
func (r *MessageRepository) Insert(_ context.Context, msg message.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.messages[msg.ID]; ok {
		return fmt.Errorf("duplicate message id %s", msg.ID)
	}

	stored := msg
	r.messages[msg.ID] = &stored
	r.order = append(r.order, msg.ID)

	return nil
}

// Consume marks a message consumed if it is not consumed already.
func (r *MessageRepository) Consume(
	_ context.Context,
	id uuid.UUID,
	agent string,
	at time.Time,
) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.messages[id]
	if !ok || msg.Consumed {
		return false, nil
	}

	consumedAt := at
	msg.Consumed = true
	msg.ConsumedAt = &consumedAt
	msg.ConsumedBy = agent

	return true, nil
}

// GetStaleMessages retrieves unconsumed messages created before the cutoff.
func (r *MessageRepository) GetStaleMessages(
	_ context.Context,
	olderThan time.Time,
	limit int,
) ([]message.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []message.Message
	for _, id := range r.order {
		msg := r.messages[id]
		if msg.Consumed || !msg.CreatedAt.Before(olderThan) {
			continue
		}
		stale = append(stale, *msg)
		if len(stale) == limit {
			break
		}
	}

	return stale, nil
}

// IncrementRetry increments the retry counter of a message.
func (r *MessageRepository) IncrementRetry(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.messages[id]
	if !ok {
		return fmt.Errorf("unknown message id %s", id)
	}
	msg.RetryCount++

	return nil
}

// CountTotal returns the count of all messages ever published.
func (r *MessageRepository) CountTotal(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return int64(len(r.messages)), nil
}

// CountUnconsumed returns the count of unconsumed messages.
func (r *MessageRepository) CountUnconsumed(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, msg := range r.messages {
		if !msg.Consumed {
			count++
		}
	}

	return count, nil
}

// UnconsumedByChannel returns unconsumed counts grouped by channel, largest first.
func (r *MessageRepository) UnconsumedByChannel(_ context.Context) ([]message.ChannelBacklog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int64)
	for _, msg := range r.messages {
		if !msg.Consumed {
			counts[msg.Channel]++
		}
	}

	backlog := make([]message.ChannelBacklog, 0, len(counts))
	for channel, count := range counts {
		backlog = append(backlog, message.ChannelBacklog{Channel: channel, Count: count})
	}
	sort.Slice(backlog, func(i, j int) bool {
		if backlog[i].Count != backlog[j].Count {
			return backlog[i].Count > backlog[j].Count
		}
		return backlog[i].Channel < backlog[j].Channel
	})

	return backlog, nil
}

// Age backdates a message's creation time by the given duration, for tests
// that need a message past the staleness window.
func (r *MessageRepository) Age(id uuid.UUID, by time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg, ok := r.messages[id]; ok {
		msg.CreatedAt = msg.CreatedAt.Add(-by)
	}
}

// Get returns a copy of the stored message, for tests and debugging.
func (r *MessageRepository) Get(id uuid.UUID) (message.Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msg, ok := r.messages[id]
	if !ok {
		return message.Message{}, false
	}

	return *msg, true
}
