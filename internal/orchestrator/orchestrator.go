package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/leadloop/agentbus/internal/dal/broker"
	"github.com/leadloop/agentbus/internal/metrics"
	"github.com/leadloop/agentbus/internal/service/models/message"
)

// Channel is a typed bus channel name. The orchestrator's binding table is the
// only place channel membership is declared; publishers may use any string.
type Channel string

// Handler processes one broadcast payload. Returning an error leaves the
// message unconsumed for the reprocessor; the orchestrator never retries.
type Handler func(ctx context.Context, payload map[string]any) error

// Binding attaches one agent handler to one channel.
type Binding struct {
	Channel Channel
	Agent   string
	Handle  Handler
}

// State is the orchestrator lifecycle state.
type State int32

// Lifecycle states.
const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// ErrAlreadyStarted is returned by Start when the orchestrator is not stopped.
var ErrAlreadyStarted = errors.New("orchestrator already started")

// consumer acknowledges a message in the durable log.
type consumer interface {
	Consume(ctx context.Context, id uuid.UUID, agent string) error
}

// Orchestrator subscribes to the bound channels of a broker and dispatches
// every inbound broadcast to its registered handler. It owns its subscription
// handle and lifecycle state so independent instances can run side by side.
type Orchestrator struct {
	broker   broker.Broker
	bus      consumer
	bindings map[Channel]Binding
	metrics  *metrics.Metrics

	state atomic.Int32
	sub   broker.Subscription
	group *errgroup.Group
}

// NewOrchestrator creates a new Orchestrator over a fixed binding table.
func NewOrchestrator(
	b broker.Broker,
	bus consumer,
	bindings []Binding,
	m *metrics.Metrics,
) *Orchestrator {
	table := make(map[Channel]Binding, len(bindings))
	for _, binding := range bindings {
		if binding.Handle == nil {
			panic(fmt.Sprintf("orchestrator: binding for %s has no handler", binding.Channel))
		}
		if _, ok := table[binding.Channel]; ok {
			panic(fmt.Sprintf("orchestrator: duplicate binding for %s", binding.Channel))
		}
		table[binding.Channel] = binding
	}

	concurrency := viper.GetInt("orchestrator.dispatch_concurrency")
	if concurrency == 0 {
		concurrency = 50
	}

	group := &errgroup.Group{}
	group.SetLimit(concurrency)

	if m == nil {
		m = metrics.New()
	}

	return &Orchestrator{
		broker:   b,
		bus:      bus,
		bindings: table,
		metrics:  m,
		group:    group,
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Start opens one broker subscription over all bound channels and transitions
// to running once the broker acknowledged every subscription.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrAlreadyStarted
	}

	channels := make([]string, 0, len(o.bindings))
	for channel := range o.bindings {
		channels = append(channels, string(channel))
	}

	sub, err := o.broker.Subscribe(ctx, channels, o.onMessage)
	if err != nil {
		o.state.Store(int32(StateStopped))

		return fmt.Errorf("failed to subscribe: %w", err)
	}

	o.sub = sub
	o.state.Store(int32(StateRunning))
	slog.Info("Orchestrator running", "channels", channels)

	return nil
}

// Stop unsubscribes from all channels and transitions to stopped. It is a
// no-op when the orchestrator never started and it does not wait for in-flight
// handlers; a handler finishing after Stop still consumes successfully. A Stop
// racing a concurrent Start waits until the subscription is established so the
// subscription is never leaked open.
func (o *Orchestrator) Stop() error {
	for {
		switch State(o.state.Load()) {
		case StateStopped, StateStopping:
			return nil
		case StateStarting:
			time.Sleep(time.Millisecond)
		case StateRunning:
			if !o.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
				continue
			}

			var err error
			if o.sub != nil {
				err = o.sub.Close()
				o.sub = nil
			}

			o.state.Store(int32(StateStopped))
			slog.Info("Orchestrator stopped")

			return err
		}
	}
}

// onMessage is the subscription callback. Dispatch runs detached so a slow
// handler never blocks receipt of the next broadcast.
func (o *Orchestrator) onMessage(channel string, body []byte) {
	started := o.group.TryGo(func() error {
		o.dispatch(channel, body)

		return nil
	})

	if !started {
		// Dispatch capacity exhausted. The message stays unconsumed in the
		// durable log and the reprocessor redelivers it.
		slog.Warn("Dispatch capacity exhausted, leaving message for reprocessing",
			"channel", channel,
		)
	}
}

func (o *Orchestrator) dispatch(channel string, body []byte) {
	// Handlers run detached from the subscription lifecycle.
	ctx, span := otel.Tracer("agentbus").Start(context.Background(), "Orchestrator.dispatch")
	defer span.End()

	binding, ok := o.bindings[Channel(channel)]
	if !ok {
		slog.Warn("No handler bound for channel", "channel", channel)

		return
	}

	id, payload, err := message.DecodeEnvelope(body)
	if err != nil {
		slog.Error("Failed to decode broadcast envelope", "channel", channel, "error", err)

		return
	}

	o.metrics.Dispatched.WithLabelValues(channel).Inc()

	if err := o.runHandler(ctx, binding, payload); err != nil {
		o.metrics.HandlerFailures.WithLabelValues(channel).Inc()
		slog.Error("Handler failed, message left unconsumed",
			"channel", channel,
			"message_id", id,
			"agent", binding.Agent,
			"error", err,
		)

		return
	}

	if err := o.bus.Consume(ctx, id, binding.Agent); err != nil {
		slog.Error("Failed to acknowledge consumption",
			"channel", channel,
			"message_id", id,
			"agent", binding.Agent,
			"error", err,
		)
	}
}

// runHandler turns a handler panic into a handler error so the message is left
// unconsumed and the failure is logged and counted like any other.
func (o *Orchestrator) runHandler(ctx context.Context, binding Binding, payload map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	return binding.Handle(ctx, payload)
}
