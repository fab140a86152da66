package model

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/agentsquad/core"
)

// Request captures the normalized model input for one turn.
type Request struct {
	Instructions string         `json:"instructions"` // System prompt
	Messages     []core.Message `json:"messages"`     // Ordered conversation, oldest first
	Stream       bool           `json:"stream,omitempty"`
}

// LastUserText returns the text of the latest user message.
func (r Request) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == core.RoleUser {
			return r.Messages[i].Text
		}
	}
	return ""
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a streaming model.
// Partial chunks carry deltas; the final chunk carries the full text.
type Response struct {
	ID           string      `json:"id"`
	Partial      bool        `json:"partial"`
	Text         string      `json:"text,omitempty"`
	Reasoning    string      `json:"reasoning,omitempty"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", "end_turn", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Model is the minimal interface required to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Factory builds a Model for a model name. Runtimes use it to switch the
// model of a live session.
type Factory func(name string) (Model, error)

// MockModel is a lightweight in‑memory Model useful for tests & examples.
type MockModel struct {
	info Info

	mu        sync.RWMutex
	responses map[string]string
	fn        func(req Request) string
}

// NewMockModel constructs a MockModel.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:     name,
			Provider: provider,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// SetResponder makes the mock compute replies with fn. Canned responses
// registered with AddResponse still take precedence.
func (m *MockModel) SetResponder(fn func(req Request) string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
}

// Generate implements Model; emits optional streaming word chunks then final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)
		if len(req.Messages) == 0 {
			errCh <- fmt.Errorf("no messages provided")
			return
		}
		inputText := req.LastUserText()

		m.mu.RLock()
		full, ok := m.responses[inputText]
		fn := m.fn
		m.mu.RUnlock()

		if !ok {
			if fn != nil {
				full = fn(req)
			} else {
				full = fmt.Sprintf("Mock response to: %s", inputText)
			}
		}
		if req.Stream {
			for _, w := range strings.SplitAfter(full, " ") {
				if w == "" {
					continue
				}
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Text: w}:
				}
			}
		}
		respCh <- Response{
			Partial:      false,
			Text:         full,
			FinishReason: "stop",
		}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }

// MockFactory returns a Factory producing MockModels that share responder
// fn. A nil fn yields the default echo behaviour.
func MockFactory(fn func(name string, req Request) string) Factory {
	return func(name string) (Model, error) {
		m := NewMockModel(name, "mock")
		if fn != nil {
			m.SetResponder(func(req Request) string { return fn(name, req) })
		}
		return m, nil
	}
}
