package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message represents a durable bus message. Rows are never deleted; only the
// consumed fields and the retry counter mutate after creation.
type Message struct {
	ID            uuid.UUID       `json:"id"`
	Channel       string          `json:"channel"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Consumed      bool            `json:"consumed"`
	ConsumedAt    *time.Time      `json:"consumed_at,omitempty"`
	ConsumedBy    string          `json:"consumed_by,omitempty"`
	RetryCount    int             `json:"retry_count"`
	CreatedAt     time.Time       `json:"created_at"`
}

// envelopeIDKey carries the durable row id inside the broadcast body so a
// handler can acknowledge consumption against the durable log.
const envelopeIDKey = "_messageId"

// EncodeEnvelope merges the durable message id into the payload object and
// returns the broadcast body. The payload must be a JSON object.
func EncodeEnvelope(id uuid.UUID, payload json.RawMessage) ([]byte, error) {
	body := map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, fmt.Errorf("payload is not a JSON object: %w", err)
		}
	}
	// A JSON null unmarshals into a nil map without error.
	if body == nil {
		return nil, fmt.Errorf("payload is not a JSON object")
	}

	body[envelopeIDKey] = id.String()

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}

	return encoded, nil
}

// DecodeEnvelope extracts the durable message id from a broadcast body and
// returns it together with the payload fields.
func DecodeEnvelope(body []byte) (uuid.UUID, map[string]any, error) {
	payload := map[string]any{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return uuid.Nil, nil, fmt.Errorf("failed to decode envelope: %w", err)
	}

	raw, ok := payload[envelopeIDKey].(string)
	if !ok {
		return uuid.Nil, nil, fmt.Errorf("envelope is missing %s", envelopeIDKey)
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("invalid %s: %w", envelopeIDKey, err)
	}

	return id, payload, nil
}
