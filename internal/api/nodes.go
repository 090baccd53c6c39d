package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/crucible/internal/model"
)

// nodeResponse is the JSON representation of a search node.
type nodeResponse struct {
	ID        string   `json:"id"`
	Stage     string   `json:"stage"`
	Step      int      `json:"step"`
	ParentID  string   `json:"parent_id,omitempty"`
	Evaluated bool     `json:"evaluated"`
	Buggy     bool     `json:"buggy"`
	Metric    *float64 `json:"metric,omitempty"`
	CreatedAt string   `json:"created_at"`
	Code      string   `json:"code,omitempty"`
	Plan      string   `json:"plan,omitempty"`
}

func nodeToResponse(n *model.Node, withCode bool) nodeResponse {
	resp := nodeResponse{
		ID:        n.ID,
		Stage:     n.Stage,
		Step:      n.Step,
		ParentID:  n.ParentID,
		Evaluated: n.Evaluated(),
		Buggy:     n.IsBuggy(),
		Metric:    n.Metric(),
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
	}
	if withCode {
		resp.Code = n.Code
		resp.Plan = n.Plan
	}
	return resp
}

// listNodesResponse is the JSON response for GET /v1/nodes.
type listNodesResponse struct {
	Nodes []nodeResponse `json:"nodes"`
	Total int            `json:"total"`
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes := s.journal.Nodes()

	limit := parseIntQuery(r, "limit", len(nodes))
	if limit < len(nodes) {
		nodes = nodes[len(nodes)-limit:]
	}

	resp := listNodesResponse{
		Nodes: make([]nodeResponse, len(nodes)),
		Total: s.journal.Len(),
	}
	for i, n := range nodes {
		resp.Nodes[i] = nodeToResponse(n, false)
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	n := s.journal.Get(id)
	if n == nil {
		s.writeError(w, http.StatusNotFound, "node not found")
		return
	}

	s.writeJSON(w, http.StatusOK, nodeToResponse(n, true))
}

func (s *Server) handleGetBest(w http.ResponseWriter, r *http.Request) {
	onlyGood := true
	if v := r.URL.Query().Get("only_good"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			onlyGood = b
		}
	}

	n := s.journal.BestNode(onlyGood)
	if n == nil {
		s.writeError(w, http.StatusNotFound, "no evaluated node yet")
		return
	}

	s.writeJSON(w, http.StatusOK, nodeToResponse(n, true))
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	q := r.URL.Query().Get(key)
	if q == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(q)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}
