package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadloop/agentbus/internal/dal/broker"
	"github.com/leadloop/agentbus/internal/dal/broker/memory"
	"github.com/leadloop/agentbus/internal/dal/repositories/message/inmemory"
	"github.com/leadloop/agentbus/internal/service/services/bussvc"
	"github.com/leadloop/agentbus/internal/worker/reprocessor"
)

func newBus(t *testing.T) (*inmemory.MessageRepository, *memory.Broker, *bussvc.BusService) {
	t.Helper()

	repo := inmemory.NewMessageRepository()
	b := memory.NewBroker()
	svc := bussvc.MustNewBusService(
		bussvc.WithMessageRepository(repo),
		bussvc.WithBroker(b),
	)

	return repo, b, svc
}

func TestDispatchConsumesOnHandlerSuccess(t *testing.T) {
	repo, b, svc := newBus(t)

	var handled atomic.Int32
	orch := NewOrchestrator(b, svc, []Binding{
		{
			Channel: "leads:new",
			Agent:   "opportunity-hunter",
			Handle: func(_ context.Context, payload map[string]any) error {
				assert.Equal(t, "L1", payload["leadId"])
				handled.Add(1)

				return nil
			},
		},
	}, nil)

	require.NoError(t, orch.Start(context.Background()))
	defer func() { require.NoError(t, orch.Stop()) }()

	msg, err := svc.Publish(context.Background(), "leads:new", json.RawMessage(`{"leadId":"L1"}`), "L1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stored, ok := repo.Get(msg.ID)

		return ok && stored.Consumed
	}, time.Second, 10*time.Millisecond)

	stored, _ := repo.Get(msg.ID)
	assert.Equal(t, "opportunity-hunter", stored.ConsumedBy)
	assert.EqualValues(t, 1, handled.Load())
}

func TestHandlerFailureLeavesMessageUnconsumed(t *testing.T) {
	repo, b, svc := newBus(t)

	var handled atomic.Int32
	orch := NewOrchestrator(b, svc, []Binding{
		{
			Channel: "ads:performance",
			Agent:   "ad-amplifier",
			Handle: func(context.Context, map[string]any) error {
				handled.Add(1)

				return errors.New("campaign lookup failed")
			},
		},
	}, nil)

	require.NoError(t, orch.Start(context.Background()))
	defer func() { require.NoError(t, orch.Stop()) }()

	msg, err := svc.Publish(context.Background(), "ads:performance", json.RawMessage(`{"campaignId":"C7"}`), "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return handled.Load() == 1
	}, time.Second, 10*time.Millisecond)

	// The failed handler never acknowledges; the message stays eligible for
	// the reprocessor.
	time.Sleep(50 * time.Millisecond)
	stored, ok := repo.Get(msg.ID)
	require.True(t, ok)
	assert.False(t, stored.Consumed)
	assert.Empty(t, stored.ConsumedBy)
}

func TestLifecycle(t *testing.T) {
	_, b, svc := newBus(t)

	orch := NewOrchestrator(b, svc, []Binding{
		{Channel: "leads:new", Agent: "opportunity-hunter", Handle: func(context.Context, map[string]any) error { return nil }},
	}, nil)

	assert.Equal(t, StateStopped, orch.State())

	require.NoError(t, orch.Start(context.Background()))
	assert.Equal(t, StateRunning, orch.State())

	require.ErrorIs(t, orch.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, orch.Stop())
	assert.Equal(t, StateStopped, orch.State())

	// Restart after a clean stop.
	require.NoError(t, orch.Start(context.Background()))
	require.NoError(t, orch.Stop())
}

// gatedBroker blocks Subscribe until release is closed, so a test can hold the
// orchestrator in its starting state.
type gatedBroker struct {
	release chan struct{}
	sub     *gateSub
}

func (g *gatedBroker) Publish(context.Context, string, []byte) error { return nil }

func (g *gatedBroker) Subscribe(context.Context, []string, broker.MessageFunc) (broker.Subscription, error) {
	<-g.release
	g.sub = &gateSub{}

	return g.sub, nil
}

func (g *gatedBroker) Close() error { return nil }

type gateSub struct {
	closed atomic.Bool
}

func (s *gateSub) Close() error {
	s.closed.Store(true)

	return nil
}

func TestStopDuringStartClosesSubscription(t *testing.T) {
	_, _, svc := newBus(t)

	gb := &gatedBroker{release: make(chan struct{})}
	orch := NewOrchestrator(gb, svc, []Binding{
		{Channel: "leads:new", Agent: "opportunity-hunter", Handle: func(context.Context, map[string]any) error { return nil }},
	}, nil)

	startDone := make(chan error, 1)
	go func() { startDone <- orch.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		return orch.State() == StateStarting
	}, time.Second, time.Millisecond)

	stopDone := make(chan error, 1)
	go func() { stopDone <- orch.Stop() }()

	close(gb.release)

	require.NoError(t, <-startDone)
	require.NoError(t, <-stopDone)

	assert.Equal(t, StateStopped, orch.State())
	require.NotNil(t, gb.sub)
	assert.True(t, gb.sub.closed.Load(), "subscription opened mid-stop must be closed")
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	_, b, svc := newBus(t)

	orch := NewOrchestrator(b, svc, nil, nil)
	require.NoError(t, orch.Stop())
	assert.Equal(t, StateStopped, orch.State())
}

func TestStoppedOrchestratorReceivesNothing(t *testing.T) {
	repo, b, svc := newBus(t)

	var handled atomic.Int32
	orch := NewOrchestrator(b, svc, []Binding{
		{
			Channel: "leads:new",
			Agent:   "opportunity-hunter",
			Handle: func(context.Context, map[string]any) error {
				handled.Add(1)

				return nil
			},
		},
	}, nil)

	require.NoError(t, orch.Start(context.Background()))
	require.NoError(t, orch.Stop())

	msg, err := svc.Publish(context.Background(), "leads:new", json.RawMessage(`{"leadId":"L2"}`), "")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, handled.Load())

	stored, ok := repo.Get(msg.ID)
	require.True(t, ok)
	assert.False(t, stored.Consumed)
}

// TestAtLeastOnceAfterMissedBroadcast covers the recovery path: a message
// published while no subscription was active is redelivered by a sweep once
// the staleness window elapsed.
func TestAtLeastOnceAfterMissedBroadcast(t *testing.T) {
	repo, b, svc := newBus(t)

	// Published while the orchestrator was down: durable row exists, the
	// broadcast reached nobody.
	msg, err := svc.Publish(context.Background(), "leads:new", json.RawMessage(`{"leadId":"L3"}`), "")
	require.NoError(t, err)

	var handled atomic.Int32
	orch := NewOrchestrator(b, svc, []Binding{
		{
			Channel: "leads:new",
			Agent:   "opportunity-hunter",
			Handle: func(context.Context, map[string]any) error {
				handled.Add(1)

				return nil
			},
		},
	}, nil)

	require.NoError(t, orch.Start(context.Background()))
	defer func() { require.NoError(t, orch.Stop()) }()

	// Age the message past the staleness window, then sweep.
	repo.Age(msg.ID, 10*time.Minute)

	reproc := reprocessor.NewReprocessor(repo, b, nil)
	processed, err := reproc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	require.Eventually(t, func() bool {
		stored, ok := repo.Get(msg.ID)

		return ok && stored.Consumed
	}, time.Second, 10*time.Millisecond)

	assert.GreaterOrEqual(t, handled.Load(), int32(1), "handler receives one or more calls, never zero")

	stored, _ := repo.Get(msg.ID)
	assert.Equal(t, 1, stored.RetryCount)
}

// A panicking handler counts as a handler failure: the message stays
// unconsumed and dispatch keeps serving later broadcasts.
func TestHandlerPanicLeavesMessageUnconsumed(t *testing.T) {
	repo, b, svc := newBus(t)

	var calls atomic.Int32
	orch := NewOrchestrator(b, svc, []Binding{
		{
			Channel: "content:signal",
			Agent:   "content-pipeline",
			Handle: func(context.Context, map[string]any) error {
				calls.Add(1)
				panic("template renderer blew up")
			},
		},
	}, nil)

	require.NoError(t, orch.Start(context.Background()))
	defer func() { require.NoError(t, orch.Stop()) }()

	first, err := svc.Publish(context.Background(), "content:signal", json.RawMessage(`{"topic":"launch"}`), "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return calls.Load() == 1
	}, time.Second, 10*time.Millisecond)

	// A second broadcast proves the panic did not take dispatch down.
	second, err := svc.Publish(context.Background(), "content:signal", json.RawMessage(`{"topic":"recap"}`), "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return calls.Load() == 2
	}, time.Second, 10*time.Millisecond)

	for _, id := range []uuid.UUID{first.ID, second.ID} {
		stored, ok := repo.Get(id)
		require.True(t, ok)
		assert.False(t, stored.Consumed)
	}
}
