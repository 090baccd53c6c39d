package proposal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/seantiz/crucible/internal/model"
)

const defaultRequestTimeout = 120 * time.Second

// HTTPEngine talks to an OpenAI-style chat-completions endpoint.
type HTTPEngine struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPEngine creates an engine client with connection pooling. The apiKey
// may be empty for endpoints that do not authenticate.
func NewHTTPEngine(baseURL, modelName, apiKey string, timeout time.Duration) *HTTPEngine {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPEngine{
		baseURL: baseURL,
		model:   modelName,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// Draft implements Engine.
func (e *HTTPEngine) Draft(ctx context.Context, task model.Task, preview string) (Proposal, error) {
	return e.complete(ctx, draftPrompt(task, preview))
}

// Debug implements Engine.
func (e *HTTPEngine) Debug(ctx context.Context, task model.Task, parent *model.Node, preview string) (Proposal, error) {
	return e.complete(ctx, debugPrompt(task, parent, preview))
}

// Improve implements Engine.
func (e *HTTPEngine) Improve(ctx context.Context, task model.Task, parent *model.Node, preview string) (Proposal, error) {
	return e.complete(ctx, improvePrompt(task, parent, preview))
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (e *HTTPEngine) complete(ctx context.Context, prompt string) (Proposal, error) {
	body, err := json.Marshal(chatRequest{
		Model: e.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return Proposal{}, fmt.Errorf("%w: marshal request: %v", ErrProposal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Proposal{}, fmt.Errorf("%w: build request: %v", ErrProposal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Proposal{}, fmt.Errorf("%w: %v", ErrProposal, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Proposal{}, fmt.Errorf("%w: endpoint returned %d: %s", ErrProposal, resp.StatusCode, snippet)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Proposal{}, fmt.Errorf("%w: decode response: %v", ErrProposal, err)
	}
	if len(parsed.Choices) == 0 {
		return Proposal{}, fmt.Errorf("%w: response has no choices", ErrProposal)
	}

	p, err := parseProposal(parsed.Choices[0].Message.Content)
	if err != nil {
		return Proposal{}, fmt.Errorf("%w: %v", ErrProposal, err)
	}
	return p, nil
}
