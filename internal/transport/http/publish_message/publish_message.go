package publishmessage

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/leadloop/agentbus/internal/service/models/message"
)

// service is an interface for the service layer.
type service interface {
	Publish(ctx context.Context, channel string, payload json.RawMessage, correlationID string) (message.Message, error)
}

// publishRequest represents a publish request.
type publishRequest struct {
	Channel       string          `json:"channel"       validate:"required"`
	Payload       json.RawMessage `json:"payload"       validate:"required"`
	CorrelationID string          `json:"correlationId"`
}

// Validate validates the publish request.
func (r *publishRequest) Validate() error {
	return validator.New().Struct(r)
}

// Publish handles the publish request.
func Publish(w http.ResponseWriter, r *http.Request, service service) {
	req := publishRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		slog.Error("Error decoding request body for publish", "error", err)

		return
	}

	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		slog.Error("Error validating request body for publish", "error", err)

		return
	}

	msg, err := service.Publish(r.Context(), req.Channel, req.Payload, req.CorrelationID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		slog.Error("Error publishing message", "channel", req.Channel, "error", err)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(msg); err != nil {
		slog.Error("Error encoding publish response", "error", err)
	}
}
