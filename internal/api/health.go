package api

import "net/http"

type healthResponse struct {
	Status string `json:"status"`
}

// handleHealthz reports liveness only; it answers "ok" as long as the
// process serves HTTP, regardless of the search's state.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
