package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/leadloop/agentbus/internal/dal/postgres"
	"github.com/leadloop/agentbus/internal/service/models/message"
)

// MessageRepository implements the durable message log for PostgreSQL.
type MessageRepository struct {
	client *postgres.Client
}

// NewMessageRepository creates a new message repository.
func NewMessageRepository(client *postgres.Client) *MessageRepository {
	return &MessageRepository{
		client: client,
	}
}

// Insert appends a new message to the log.
func (r *MessageRepository) Insert(ctx context.Context, msg message.Message) error {
	query, args, err := sq.Insert("bus_messages").
		Columns(
			"id",
			"channel",
			"payload",
			"correlation_id",
			"consumed",
			"consumed_by",
			"retry_count",
			"created_at",
		).
		Values(
			msg.ID,
			msg.Channel,
			msg.Payload,
			msg.CorrelationID,
			msg.Consumed,
			msg.ConsumedBy,
			msg.RetryCount,
			msg.CreatedAt,
		).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert query: %w", err)
	}

	_, err = r.client.Pool().Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to insert bus message: %w", err)
	}

	return nil
}

// Consume marks a message consumed. The consumed=false guard makes the update
// a compare-and-swap: a second call affects zero rows and reports false.
func (r *MessageRepository) Consume(
	ctx context.Context,
	id uuid.UUID,
	agent string,
	at time.Time,
) (bool, error) {
	query, args, err := sq.Update("bus_messages").
		Set("consumed", true).
		Set("consumed_at", at).
		Set("consumed_by", agent).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"consumed": false}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build consume query: %w", err)
	}

	tag, err := r.client.Pool().Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to consume bus message: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// GetStaleMessages retrieves unconsumed messages created before the cutoff.
func (r *MessageRepository) GetStaleMessages(
	ctx context.Context,
	olderThan time.Time,
	limit int,
) ([]message.Message, error) {
	query, args, err := sq.Select(
		"id",
		"channel",
		"payload",
		"correlation_id",
		"consumed",
		"consumed_at",
		"consumed_by",
		"retry_count",
		"created_at",
	).
		From("bus_messages").
		Where(sq.Eq{"consumed": false}).
		Where(sq.Lt{"created_at": olderThan}).
		OrderBy("created_at ASC").
		Limit(uint64(limit)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.client.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale messages: %w", err)
	}
	defer rows.Close()

	var messages []message.Message
	for rows.Next() {
		var msg message.Message
		err := rows.Scan(
			&msg.ID,
			&msg.Channel,
			&msg.Payload,
			&msg.CorrelationID,
			&msg.Consumed,
			&msg.ConsumedAt,
			&msg.ConsumedBy,
			&msg.RetryCount,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bus message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bus messages: %w", err)
	}

	return messages, nil
}

// IncrementRetry increments the retry counter of a message.
func (r *MessageRepository) IncrementRetry(ctx context.Context, id uuid.UUID) error {
	query, args, err := sq.Update("bus_messages").
		Set("retry_count", sq.Expr("retry_count + 1")).
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}

	_, err = r.client.Pool().Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to increment retry count: %w", err)
	}

	return nil
}

// CountTotal returns the count of all messages ever published.
func (r *MessageRepository) CountTotal(ctx context.Context) (int64, error) {
	return r.count(ctx, sq.Select("COUNT(*)").From("bus_messages"))
}

// CountUnconsumed returns the count of unconsumed messages.
func (r *MessageRepository) CountUnconsumed(ctx context.Context) (int64, error) {
	return r.count(ctx, sq.Select("COUNT(*)").From("bus_messages").Where(sq.Eq{"consumed": false}))
}

func (r *MessageRepository) count(ctx context.Context, builder sq.SelectBuilder) (int64, error) {
	query, args, err := builder.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build count query: %w", err)
	}

	var count int64
	if err := r.client.Pool().QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count bus messages: %w", err)
	}

	return count, nil
}

// UnconsumedByChannel returns unconsumed counts grouped by channel, largest first.
func (r *MessageRepository) UnconsumedByChannel(ctx context.Context) ([]message.ChannelBacklog, error) {
	query, args, err := sq.Select("channel", "COUNT(*)").
		From("bus_messages").
		Where(sq.Eq{"consumed": false}).
		GroupBy("channel").
		OrderBy("COUNT(*) DESC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build group query: %w", err)
	}

	rows, err := r.client.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query channel backlog: %w", err)
	}
	defer rows.Close()

	// Non-nil even when empty so stats serialize as [] rather than null.
	backlog := []message.ChannelBacklog{}
	for rows.Next() {
		var entry message.ChannelBacklog
		if err := rows.Scan(&entry.Channel, &entry.Count); err != nil {
			return nil, fmt.Errorf("failed to scan channel backlog: %w", err)
		}
		backlog = append(backlog, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating channel backlog: %w", err)
	}

	return backlog, nil
}
