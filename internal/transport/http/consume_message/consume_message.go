package consumemessage

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// service is an interface for the service layer.
type service interface {
	Consume(ctx context.Context, id uuid.UUID, agent string) error
}

// consumeRequest represents a manual consume request.
type consumeRequest struct {
	Agent string `json:"agent" validate:"required"`
}

// Validate validates the consume request.
func (r *consumeRequest) Validate() error {
	return validator.New().Struct(r)
}

// Consume handles the manual consume request for hand-resolved workflows.
func Consume(w http.ResponseWriter, r *http.Request, service service) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		slog.Error("Error parsing message id for consume", "error", err)

		return
	}

	req := consumeRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		slog.Error("Error decoding request body for consume", "error", err)

		return
	}

	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		slog.Error("Error validating request body for consume", "error", err)

		return
	}

	if err := service.Consume(r.Context(), id, req.Agent); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		slog.Error("Error consuming message", "message_id", id, "error", err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}
