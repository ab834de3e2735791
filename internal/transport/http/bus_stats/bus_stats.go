package busstats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/leadloop/agentbus/internal/service/models/message"
)

// service is an interface for the service layer.
type service interface {
	Stats(ctx context.Context) (message.Stats, error)
}

// Stats handles the stats request polled by operational dashboards.
func Stats(w http.ResponseWriter, r *http.Request, service service) {
	stats, err := service.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		slog.Error("Error aggregating bus stats", "error", err)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		slog.Error("Error encoding stats response", "error", err)
	}
}
