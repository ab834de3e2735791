package reprocessor

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"

	"github.com/leadloop/agentbus/internal/dal/broker"
	"github.com/leadloop/agentbus/internal/dal/interfaces/imessagerepo"
	"github.com/leadloop/agentbus/internal/metrics"
	"github.com/leadloop/agentbus/internal/service/models/message"
)

// Reprocessor rediscovers messages that were never acknowledged and
// rebroadcasts them, converting the best-effort broker into an at-least-once
// system. It shares no state with the orchestrator; the durable log is the
// only point of contact.
type Reprocessor struct {
	messageRepo imessagerepo.IMessageRepository
	broker      broker.Broker
	metrics     *metrics.Metrics

	staleAfter time.Duration
	batchSize  int
}

// NewReprocessor creates a new Reprocessor.
func NewReprocessor(
	messageRepo imessagerepo.IMessageRepository,
	b broker.Broker,
	m *metrics.Metrics,
) *Reprocessor {
	staleAfterSeconds := viper.GetInt("reprocessor.stale_after_seconds")
	if staleAfterSeconds == 0 {
		staleAfterSeconds = 300
	}

	batchSize := viper.GetInt("reprocessor.batch_size")
	if batchSize == 0 {
		batchSize = 100
	}

	if m == nil {
		m = metrics.New()
	}

	return &Reprocessor{
		messageRepo: messageRepo,
		broker:      b,
		metrics:     m,
		staleAfter:  time.Duration(staleAfterSeconds) * time.Second,
		batchSize:   batchSize,
	}
}

// Sweep rebroadcasts every unconsumed message older than the staleness window
// and increments its retry counter. It returns the number of messages
// processed; zero with no side effects is the healthy steady state.
func (r *Reprocessor) Sweep(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer("agentbus").Start(ctx, "Reprocessor.Sweep")
	defer span.End()

	stale, err := r.messageRepo.GetStaleMessages(ctx, time.Now().Add(-r.staleAfter), r.batchSize)
	if err != nil {
		return 0, err
	}

	if len(stale) == 0 {
		return 0, nil
	}

	slog.Info("Reprocessing stale messages", "count", len(stale))

	processed := 0
	for _, msg := range stale {
		body, err := message.EncodeEnvelope(msg.ID, msg.Payload)
		if err != nil {
			slog.Error("Failed to encode stale message, skipping",
				"message_id", msg.ID,
				"error", err,
			)
			continue
		}

		// The retry counter records the intent to redeliver, whether or not a
		// subscriber is connected to receive the rebroadcast.
		if err := r.broker.Publish(ctx, msg.Channel, body); err != nil {
			slog.Warn("Failed to rebroadcast stale message",
				"channel", msg.Channel,
				"message_id", msg.ID,
				"error", err,
			)
		}

		if err := r.messageRepo.IncrementRetry(ctx, msg.ID); err != nil {
			slog.Error("Failed to increment retry count",
				"message_id", msg.ID,
				"error", err,
			)
			continue
		}

		r.metrics.Reprocessed.Inc()
		processed++
	}

	return processed, nil
}
