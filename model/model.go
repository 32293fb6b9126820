// Package model defines the narrow interface to the language-model backend.
// The pipeline treats the backend as an opaque, possibly slow text
// completion service: one operation, a mandatory per-call timeout, no
// structural state. Agents never talk to a provider SDK directly.
package model

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CompletionRequest is the single textual completion operation the core
// depends on. Timeout is mandatory; providers reject a request without one
// so no pipeline stage can block indefinitely on the backend.
type CompletionRequest struct {
	System  string        `json:"system,omitempty"`
	Prompt  string        `json:"prompt"`
	Timeout time.Duration `json:"timeout"`
}

// CompletionResponse carries the completed text plus call accounting.
type CompletionResponse struct {
	Text    string        `json:"text"`
	Tokens  int           `json:"tokens,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", ...
}

// Model is the minimal interface agents use for narrative synthesis.
type Model interface {
	// Complete issues one bounded completion. Implementations must apply
	// req.Timeout on top of any caller deadline and return
	// context.DeadlineExceeded-wrapping errors on expiry.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// Info returns information about the model implementation.
	Info() Info
}

// ValidateRequest enforces the shared invariants providers rely on.
func ValidateRequest(req CompletionRequest) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return fmt.Errorf("completion request requires a prompt")
	}
	if req.Timeout <= 0 {
		return fmt.Errorf("completion request requires an explicit timeout")
	}
	return nil
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Responses can be canned per prompt and an artificial delay injected to
// exercise timeout and degradation paths.
type MockModel struct {
	info      Info
	responses map[string]string
	delay     time.Duration
}

// NewMockModel constructs a MockModel.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: "mock"},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) { m.responses[prompt] = response }

// SetDelay makes every completion take at least d, for timeout tests.
func (m *MockModel) SetDelay(d time.Duration) { m.delay = d }

// Complete implements Model.
func (m *MockModel) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if err := ValidateRequest(req); err != nil {
		return CompletionResponse{}, err
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return CompletionResponse{}, fmt.Errorf("mock completion: %w", ctx.Err())
		case <-time.After(m.delay):
		}
	}

	text, ok := m.responses[req.Prompt]
	if !ok {
		text = fmt.Sprintf("Mock response to: %s", req.Prompt)
	}
	return CompletionResponse{
		Text:    text,
		Tokens:  len(strings.Fields(text)),
		Elapsed: time.Since(start),
	}, nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
