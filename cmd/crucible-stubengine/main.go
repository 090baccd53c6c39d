// crucible-stubengine serves an OpenAI-style chat-completions endpoint that
// returns canned candidates, for exercising the full pipeline without a real
// generation backend. Replies alternate between a working solution printing
// a score marker and a deliberately broken one.
// Usage: go run ./cmd/crucible-stubengine
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const goodReply = `Plan: compute the score directly and print the marker.

` + "```python" + `
score = 0.5 + (len(open(__file__).read()) % 100) / 1000.0
print("crucible_metric: %.4f" % score)
` + "```" + `
`

const buggyReply = `Plan: load the data before scoring.

` + "```python" + `
import nonexistent_module
print("crucible_metric: 1.0")
` + "```" + `
`

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

var calls atomic.Int64

func handleCompletions(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		var prompt string
		for _, m := range req.Messages {
			if m.Role == "user" {
				prompt = m.Content
			}
		}

		// Debug requests always get the working candidate so searches
		// converge; otherwise every third reply is broken.
		n := calls.Add(1)
		reply := goodReply
		if !strings.Contains(prompt, "previous attempt below failed") && n%3 == 0 {
			reply = buggyReply
		}

		logger.Info("completion served", "model", req.Model, "call", n, "buggy", reply == buggyReply)

		var resp chatResponse
		resp.Choices = make([]struct {
			Message chatMessage `json:"message"`
		}, 1)
		resp.Choices[0].Message = chatMessage{Role: "assistant", Content: reply}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Error("encode response", "error", err)
		}
	}
}

func main() {
	addr := ":8090"
	if v := os.Getenv("CRUCIBLE_STUB_ADDR"); v != "" {
		addr = v
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Post("/v1/chat/completions", handleCompletions(logger))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	logger.Info("stub engine listening", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
