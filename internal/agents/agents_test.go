package agents

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadloop/agentbus/internal/orchestrator"
	"github.com/leadloop/agentbus/internal/service/models/message"
)

type publishCall struct {
	channel       string
	payload       json.RawMessage
	correlationID string
}

type fakePublisher struct {
	calls []publishCall
}

func (f *fakePublisher) Publish(
	_ context.Context,
	channel string,
	payload json.RawMessage,
	correlationID string,
) (message.Message, error) {
	f.calls = append(f.calls, publishCall{channel: channel, payload: payload, correlationID: correlationID})

	return message.Message{Channel: channel}, nil
}

func findBinding(t *testing.T, bindings []orchestrator.Binding, channel orchestrator.Channel) orchestrator.Binding {
	t.Helper()

	for _, binding := range bindings {
		if binding.Channel == channel {
			return binding
		}
	}
	t.Fatalf("no binding for channel %s", channel)

	return orchestrator.Binding{}
}

func TestBindingsCoverAllChannels(t *testing.T) {
	bindings := Bindings(&fakePublisher{})

	require.Len(t, bindings, 3)
	channels := map[orchestrator.Channel]string{}
	for _, binding := range bindings {
		channels[binding.Channel] = binding.Agent
	}
	assert.Equal(t, AgentContentPipeline, channels[ChannelContentSignal])
	assert.Equal(t, AgentAdAmplifier, channels[ChannelAdPerformance])
	assert.Equal(t, AgentOpportunityHunter, channels[ChannelLeadsNew])
}

func TestLeadHandlerPublishesScoredLead(t *testing.T) {
	pub := &fakePublisher{}
	binding := findBinding(t, Bindings(pub), ChannelLeadsNew)

	err := binding.Handle(context.Background(), map[string]any{
		"leadId":  "L1",
		"email":   "a@b.c",
		"company": "Acme",
	})
	require.NoError(t, err)

	require.Len(t, pub.calls, 1)
	call := pub.calls[0]
	assert.Equal(t, ChannelLeadsScored, call.channel)
	assert.Equal(t, "L1", call.correlationID, "lead id links the capture and scoring events")

	scored := map[string]any{}
	require.NoError(t, json.Unmarshal(call.payload, &scored))
	assert.Equal(t, "L1", scored["leadId"])
	assert.EqualValues(t, 75, scored["score"])
}

func TestLeadHandlerRejectsMissingLeadID(t *testing.T) {
	pub := &fakePublisher{}
	binding := findBinding(t, Bindings(pub), ChannelLeadsNew)

	err := binding.Handle(context.Background(), map[string]any{"email": "a@b.c"})
	require.Error(t, err)
	assert.Empty(t, pub.calls)
}
