package api

import (
	"errors"
	"net/http"

	"github.com/seantiz/crucible/internal/store"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	RunID         string   `json:"run_id"`
	Total         int      `json:"total"`
	Buggy         int      `json:"buggy"`
	Good          int      `json:"good"`
	BestMetric    *float64 `json:"best_metric,omitempty"`
	AvgDurationMS float64  `json:"avg_duration_ms"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetRunStats(r.Context(), s.runID)
	if errors.Is(err, store.ErrNotFound) {
		// No checkpoint yet; report the empty run rather than an error.
		s.writeJSON(w, http.StatusOK, statsResponse{RunID: s.runID})
		return
	}
	if err != nil {
		s.logger.Error("get run stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		RunID:         s.runID,
		Total:         stats.Total,
		Buggy:         stats.Buggy,
		Good:          stats.Good,
		BestMetric:    stats.BestMetric,
		AvgDurationMS: stats.AvgDurationMS,
	})
}
