package models

import "time"

// UsageRecord holds per-user, per-calendar-day counters. Counters are
// create-on-first-use and only ever incremented.
type UsageRecord struct {
	UserID string `json:"user_id"`

	// Day is the calendar date in YYYY-MM-DD form.
	Day string `json:"day"`

	LLMCalls         int64 `json:"llm_calls"`
	ImageCalls       int64 `json:"image_calls"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`

	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// ChannelSettings is the per-scope configuration store entry for one
// platform channel.
type ChannelSettings struct {
	ChannelID string `json:"channel_id"`

	// Enabled gates whether the assistant responds in the channel at all.
	Enabled bool `json:"enabled"`

	// DisabledThreads lists thread identifiers muted within the channel.
	DisabledThreads []string `json:"disabled_threads,omitempty"`

	// PromptMode selects the system prompt variant: "default", "gm", or
	// "player".
	PromptMode string `json:"prompt_mode,omitempty"`

	// PromptContext carries the scenario context for the RPG modes.
	PromptContext string `json:"prompt_context,omitempty"`

	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// ThreadDisabled reports whether a thread is muted in this channel.
func (s *ChannelSettings) ThreadDisabled(threadID string) bool {
	for _, id := range s.DisabledThreads {
		if id == threadID {
			return true
		}
	}
	return false
}
