package triggersweep

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// sweeper is an interface for the dead-letter reprocessor.
type sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// sweepResponse represents a sweep response.
type sweepResponse struct {
	ProcessedCount int `json:"processedCount"`
}

// Sweep handles the sweep trigger invoked by an external scheduler.
func Sweep(w http.ResponseWriter, r *http.Request, sweeper sweeper) {
	processed, err := sweeper.Sweep(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		slog.Error("Error sweeping stale messages", "error", err)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(sweepResponse{ProcessedCount: processed}); err != nil {
		slog.Error("Error encoding sweep response", "error", err)
	}
}
