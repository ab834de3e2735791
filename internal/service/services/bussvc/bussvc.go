package bussvc

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"

	"github.com/leadloop/agentbus/internal/dal/broker"
	"github.com/leadloop/agentbus/internal/dal/interfaces/imessagerepo"
	"github.com/leadloop/agentbus/internal/metrics"
	"github.com/leadloop/agentbus/internal/service/models/message"
)

// BusService is the service layer of the agent message bus: durable publish,
// consumption acknowledgment and backlog statistics.
type BusService struct {
	messageRepo imessagerepo.IMessageRepository
	broker      broker.Broker
	metrics     *metrics.Metrics

	broadcastTimeout time.Duration
	warnAt           int64
	criticalAt       int64
}

// option is a function that configures the BusService.
type option func(*BusService)

// MustNewBusService creates a new BusService.
func MustNewBusService(opts ...option) *BusService {
	broadcastTimeoutMs := viper.GetInt("bus.broadcast_timeout_ms")
	if broadcastTimeoutMs == 0 {
		broadcastTimeoutMs = 2000
	}

	warnAt := viper.GetInt64("bus.health.warning_threshold")
	if warnAt == 0 {
		warnAt = 5
	}

	criticalAt := viper.GetInt64("bus.health.critical_threshold")
	if criticalAt == 0 {
		criticalAt = 20
	}

	s := &BusService{
		broadcastTimeout: time.Duration(broadcastTimeoutMs) * time.Millisecond,
		warnAt:           warnAt,
		criticalAt:       criticalAt,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.messageRepo == nil {
		panic("bussvc: message repository is required")
	}
	if s.broker == nil {
		panic("bussvc: broker is required")
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}

	return s
}

// WithMessageRepository sets the durable message log repository.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithMessageRepository(repo imessagerepo.IMessageRepository) option {
	return func(s *BusService) {
		s.messageRepo = repo
	}
}

// WithBroker sets the pub/sub broker.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithBroker(b broker.Broker) option {
	return func(s *BusService) {
		s.broker = b
	}
}

// WithMetrics sets the metrics instance.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithMetrics(m *metrics.Metrics) option {
	return func(s *BusService) {
		s.metrics = m
	}
}

// Publish records a message in the durable log and then best-effort broadcasts
// it on the broker. A durable-write failure fails the call; a broadcast failure
// does not, because the reprocessor redelivers anything left unconsumed.
func (s *BusService) Publish(
	ctx context.Context,
	channel string,
	payload json.RawMessage,
	correlationID string,
) (message.Message, error) {
	ctx, span := otel.Tracer("agentbus").Start(ctx, "BusService.Publish")
	defer span.End()

	msg := message.Message{
		ID:            uuid.New(),
		Channel:       channel,
		Payload:       payload,
		CorrelationID: correlationID,
		CreatedAt:     time.Now(),
	}

	// Reject malformed payloads before touching the log.
	body, err := message.EncodeEnvelope(msg.ID, msg.Payload)
	if err != nil {
		return message.Message{}, err
	}

	if err := s.messageRepo.Insert(ctx, msg); err != nil {
		return message.Message{}, err
	}
	s.metrics.Published.WithLabelValues(channel).Inc()

	broadcastCtx, cancel := context.WithTimeout(ctx, s.broadcastTimeout)
	defer cancel()

	if err := s.broker.Publish(broadcastCtx, channel, body); err != nil {
		s.metrics.BroadcastFailures.Inc()
		slog.Warn("Broadcast failed, message awaits reprocessing",
			"channel", channel,
			"message_id", msg.ID,
			"error", err,
		)
	}

	return msg, nil
}

// Consume marks a message consumed by the given agent. Consuming an
// already-consumed message is a no-op, not an error.
func (s *BusService) Consume(ctx context.Context, id uuid.UUID, agent string) error {
	updated, err := s.messageRepo.Consume(ctx, id, agent, time.Now())
	if err != nil {
		return err
	}

	if !updated {
		slog.Debug("Message already consumed", "message_id", id, "agent", agent)

		return nil
	}

	s.metrics.Consumed.Inc()
	slog.Info("Message consumed", "message_id", id, "agent", agent)

	return nil
}

// Stats aggregates consumption statistics and derives the backlog level.
func (s *BusService) Stats(ctx context.Context) (message.Stats, error) {
	total, err := s.messageRepo.CountTotal(ctx)
	if err != nil {
		return message.Stats{}, err
	}

	unconsumed, err := s.messageRepo.CountUnconsumed(ctx)
	if err != nil {
		return message.Stats{}, err
	}

	byChannel, err := s.messageRepo.UnconsumedByChannel(ctx)
	if err != nil {
		return message.Stats{}, err
	}
	if byChannel == nil {
		byChannel = []message.ChannelBacklog{}
	}

	s.metrics.UnconsumedBacklog.Set(float64(unconsumed))

	return message.Stats{
		Total:      total,
		Unconsumed: unconsumed,
		ByChannel:  byChannel,
		Level:      message.LevelFor(unconsumed, s.warnAt, s.criticalAt),
	}, nil
}
