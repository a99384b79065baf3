// Package profile provides the built-in profile tool: it answers questions
// about a user's recorded activity from the usage store.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/beacon/internal/store"
	"github.com/haasonsaas/beacon/pkg/models"
)

const dayFormat = "2006-01-02"

// Tool implements the built-in profile tool.
type Tool struct {
	store store.UsageStore
	now   func() time.Time
}

// New creates the tool over the given usage store.
func New(st store.UsageStore) *Tool {
	return &Tool{store: st, now: time.Now}
}

func (t *Tool) Name() string { return "profile" }

func (t *Tool) Description() string {
	return "Look up a user's recorded activity: model calls, image requests, and token consumption for a given day."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "user_id": {"type": "string", "description": "The user to look up"},
    "day": {"type": "string", "description": "Calendar day in YYYY-MM-DD form (default: today)"}
  },
  "required": ["user_id"]
}`)
}

type queryParams struct {
	UserID string `json:"user_id"`
	Day    string `json:"day,omitempty"`
}

// Execute looks up the usage record. A day with no activity returns a
// zeroed record rather than an error.
func (t *Tool) Execute(ctx context.Context, args json.RawMessage) *models.ToolResult {
	var params queryParams
	if err := json.Unmarshal(args, &params); err != nil {
		return t.errorResult(fmt.Sprintf("invalid parameters: %v", err))
	}
	if params.UserID == "" {
		return t.errorResult("user_id parameter is required")
	}
	day := params.Day
	if day == "" {
		day = t.now().UTC().Format(dayFormat)
	} else if _, err := time.Parse(dayFormat, day); err != nil {
		return t.errorResult(fmt.Sprintf("invalid day %q, want YYYY-MM-DD", params.Day))
	}

	record, err := t.store.Usage(ctx, params.UserID, day)
	if errors.Is(err, store.ErrNotFound) {
		record = &models.UsageRecord{UserID: params.UserID, Day: day}
	} else if err != nil {
		return t.errorResult(fmt.Sprintf("profile lookup failed: %v", err))
	}

	content, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return t.errorResult(fmt.Sprintf("failed to format record: %v", err))
	}
	return &models.ToolResult{Name: t.Name(), Content: string(content)}
}

func (t *Tool) errorResult(message string) *models.ToolResult {
	content, _ := json.Marshal(map[string]string{"error": message})
	return &models.ToolResult{Name: t.Name(), Content: string(content), IsError: true}
}
