// Package models defines the unified conversation model shared by the
// orchestrator, provider adapters, tool manager, and persistence layers.
//
// A conversation is an ordered, append-only sequence of Turns scoped to one
// platform thread. Each Turn carries an ordered list of Parts; provider
// adapters convert Turns to and from their backend's native shape at the
// adapter boundary only.
package models

import (
	"encoding/json"
	"errors"
	"time"
)

// ChannelType represents a messaging platform.
type ChannelType string

const (
	ChannelDiscord ChannelType = "discord"
)

// Role indicates the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// PartType discriminates the variants of a Part.
type PartType string

const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Part is one unit of turn content. Exactly one of the payload fields is set,
// selected by Type.
type Part struct {
	Type       PartType    `json:"type"`
	Text       string      `json:"text,omitempty"`
	Image      *ImageData  `json:"image,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// ImageData is an inline image embedded in a turn.
type ImageData struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mime_type"`
}

// ToolCall represents a model's request to execute a tool.
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult represents the outcome of a tool execution, paired with its
// originating call by ToolCallID.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Turn is one role-tagged unit of conversation content.
type Turn struct {
	ID        string    `json:"id,omitempty"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// ErrInvalidToolTurn is returned by Validate when a tool turn contains
// anything other than tool results.
var ErrInvalidToolTurn = errors.New("tool turn must contain only tool_result parts")

// TextTurn builds a turn holding a single text part.
func TextTurn(role Role, text string) *Turn {
	return &Turn{Role: role, Parts: []Part{{Type: PartText, Text: text}}}
}

// ToolResultTurn builds a tool turn answering the given calls.
func ToolResultTurn(results ...ToolResult) *Turn {
	parts := make([]Part, 0, len(results))
	for i := range results {
		r := results[i]
		parts = append(parts, Part{Type: PartToolResult, ToolResult: &r})
	}
	return &Turn{Role: RoleTool, Parts: parts}
}

// Text returns the concatenated text content of the turn.
func (t *Turn) Text() string {
	var out string
	for _, p := range t.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// ToolCalls returns the tool-call parts of the turn, in order.
func (t *Turn) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range t.Parts {
		if p.Type == PartToolCall && p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}

// ToolResults returns the tool-result parts of the turn, in order.
func (t *Turn) ToolResults() []ToolResult {
	var results []ToolResult
	for _, p := range t.Parts {
		if p.Type == PartToolResult && p.ToolResult != nil {
			results = append(results, *p.ToolResult)
		}
	}
	return results
}

// Validate checks the structural invariants of the turn. A tool turn must
// consist of one or more tool_result parts and nothing else.
func (t *Turn) Validate() error {
	if t.Role == RoleTool {
		if len(t.Parts) == 0 {
			return ErrInvalidToolTurn
		}
		for _, p := range t.Parts {
			if p.Type != PartToolResult || p.ToolResult == nil {
				return ErrInvalidToolTurn
			}
		}
	}
	return nil
}

// Thread identifies one conversation scope on a platform.
type Thread struct {
	ID        string      `json:"id"`
	Channel   ChannelType `json:"channel"`
	ChannelID string      `json:"channel_id"`
	UserID    string      `json:"user_id,omitempty"`
	CreatedAt time.Time   `json:"created_at,omitzero"`
	UpdatedAt time.Time   `json:"updated_at,omitzero"`
}

// Usage reports token consumption for one or more provider calls.
// Reporting is best effort: a zero Usage means the backend exposed nothing.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage record into this one.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Summary is the condensed narrative that replaces an oversized history,
// keyed by thread identifier.
type Summary struct {
	ThreadID string `json:"thread_id"`
	Content  string `json:"content"`

	// TurnCount is the number of turns the summary condensed.
	TurnCount int `json:"turn_count"`

	// TokenEstimate is the estimated token size of the compacted history
	// right after summarization. Re-summarization triggers only when the
	// current estimate exceeds this baseline by the configured buffer margin
	// and sits above the trigger threshold.
	TokenEstimate int `json:"token_estimate"`

	// Updated marks summaries that replaced an earlier summary.
	Updated   bool      `json:"updated"`
	CreatedAt time.Time `json:"created_at,omitzero"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}
