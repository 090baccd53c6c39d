package api

import "net/http"

// handleListSandboxes reports the registered sandbox modes and what each is
// able to do, so operators can see which execution backends this deployment
// ships with.
func (s *Server) handleListSandboxes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"sandboxes": s.registry.List(),
	})
}
