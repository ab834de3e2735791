package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/leadloop/agentbus/internal/orchestrator"
	"github.com/leadloop/agentbus/internal/service/models/message"
)

// Bus channels the agents subscribe to.
const (
	ChannelContentSignal orchestrator.Channel = "content:signal"
	ChannelAdPerformance orchestrator.Channel = "ads:performance"
	ChannelLeadsNew      orchestrator.Channel = "leads:new"
)

// ChannelLeadsScored carries scoring results published by the opportunity
// hunter; nothing subscribes to it inside this service.
const ChannelLeadsScored = "leads:scored"

// Agent names recorded as consumed_by in the durable log.
const (
	AgentContentPipeline   = "content-pipeline"
	AgentAdAmplifier       = "ad-amplifier"
	AgentOpportunityHunter = "opportunity-hunter"
)

// publisher is the bus seam the agents publish follow-up messages through.
type publisher interface {
	Publish(ctx context.Context, channel string, payload json.RawMessage, correlationID string) (message.Message, error)
}

// Bindings returns the fixed channel-to-handler table supplied to the
// orchestrator. The real agent pipelines plug in here; the handlers below are
// the thin bus-facing entry points.
func Bindings(pub publisher) []orchestrator.Binding {
	return []orchestrator.Binding{
		{
			Channel: ChannelContentSignal,
			Agent:   AgentContentPipeline,
			Handle:  handleContentSignal,
		},
		{
			Channel: ChannelAdPerformance,
			Agent:   AgentAdAmplifier,
			Handle:  handleAdPerformance,
		},
		{
			Channel: ChannelLeadsNew,
			Agent:   AgentOpportunityHunter,
			Handle:  newLeadHandler(pub),
		},
	}
}

func handleContentSignal(_ context.Context, payload map[string]any) error {
	slog.Info("Content signal received", "topic", payload["topic"])

	return nil
}

func handleAdPerformance(_ context.Context, payload map[string]any) error {
	slog.Info("Ad performance sample received", "campaign_id", payload["campaignId"])

	return nil
}

// newLeadHandler scores an incoming lead and publishes the result, carrying
// the lead id as correlation id so the capture and scoring events trace as
// one causal chain.
func newLeadHandler(pub publisher) orchestrator.Handler {
	return func(ctx context.Context, payload map[string]any) error {
		leadID, ok := payload["leadId"].(string)
		if !ok || leadID == "" {
			return fmt.Errorf("lead payload is missing leadId")
		}

		scored, err := json.Marshal(map[string]any{
			"leadId": leadID,
			"score":  scoreLead(payload),
		})
		if err != nil {
			return fmt.Errorf("failed to encode scored lead: %w", err)
		}

		if _, err := pub.Publish(ctx, ChannelLeadsScored, scored, leadID); err != nil {
			return fmt.Errorf("failed to publish scored lead: %w", err)
		}

		return nil
	}
}

// scoreLead is a placeholder for the lead-scoring pipeline.
func scoreLead(payload map[string]any) int {
	score := 10
	if _, ok := payload["email"]; ok {
		score += 40
	}
	if _, ok := payload["company"]; ok {
		score += 25
	}

	return score
}
