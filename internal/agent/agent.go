// Package agent implements the orchestration core: the provider-agnostic
// LLM interface, the tool-calling resolution loop, and the textual fallback
// contract for backends without native function calling.
package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/beacon/pkg/models"
)

// Tool describes one callable operation the model may request. Implemented
// by discovered tool-server catalogs and by built-in tools.
type Tool interface {
	// Name returns the tool identifier presented to the model. Discovered
	// tools carry a qualified "<server>__<tool>" name.
	Name() string

	// Description is the natural-language description shown to the model.
	Description() string

	// Schema returns the tool's parameter schema as JSON Schema.
	Schema() json.RawMessage
}

// ToolExecutor aggregates the available tool catalog and dispatches
// invocations. Execute never fails with an error: failures come back as a
// ToolResult with IsError set so the model can react to them.
type ToolExecutor interface {
	Tools() []Tool
	Execute(ctx context.Context, name string, args json.RawMessage) *models.ToolResult
}

// ChatRequest is a single provider invocation: the accumulated conversation
// plus the new user question and the tool catalog offered to the model.
type ChatRequest struct {
	// SystemPrompt is the resolved system instruction for this turn.
	SystemPrompt string

	// History is the prior conversation in order, oldest first.
	History []models.Turn

	// Question holds the new user turn's parts (text and inline images).
	Question []models.Part

	// Tools is the catalog offered to the model. May be empty.
	Tools []Tool

	// Temperature applies when > 0.
	Temperature float32

	// MaxTokens caps the response length when > 0.
	MaxTokens int
}

// Result is the normalized outcome of one provider invocation.
type Result struct {
	// Text is the model's textual response. May be empty when the model
	// responded only with tool calls.
	Text string

	// ToolCalls holds native function-call requests, in the order the
	// model produced them.
	ToolCalls []models.ToolCall

	// Usage is best-effort token accounting. Zero when the backend does
	// not report it.
	Usage models.Usage
}

// Provider is one concrete LLM backend. Adapters translate between the
// common turn model and the backend's native shapes; they surface call
// failures to the caller rather than retrying internally.
type Provider interface {
	Name() string

	// Chat sends one complete request and returns the normalized result.
	Chat(ctx context.Context, req *ChatRequest) (*Result, error)

	// CountTokens estimates the token count of text. Character-based
	// approximation, not real tokenization.
	CountTokens(text string) int
}
