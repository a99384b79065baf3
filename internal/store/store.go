// Package store defines the persistence collaborators for conversations,
// summaries, usage counters, and per-scope channel settings, with in-memory
// and SQLite implementations.
package store

import (
	"context"
	"errors"

	"github.com/haasonsaas/beacon/pkg/models"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("store: not found")

// UsageDelta is one increment applied to a usage record.
type UsageDelta struct {
	LLMCalls         int64
	ImageCalls       int64
	PromptTokens     int64
	CompletionTokens int64
}

// ConversationStore persists the serialized turn sequence per thread.
type ConversationStore interface {
	// AppendTurn appends one turn to a thread's history.
	AppendTurn(ctx context.Context, threadID string, turn *models.Turn) error

	// History returns up to limit most recent turns in chronological order.
	// limit <= 0 returns everything.
	History(ctx context.Context, threadID string, limit int) ([]models.Turn, error)

	// ReplaceHistory atomically swaps a thread's history, used when an
	// oversized history is collapsed to a summary turn plus a recent tail.
	ReplaceHistory(ctx context.Context, threadID string, turns []models.Turn) error
}

// SummaryStore persists the condensed conversation summary per thread.
type SummaryStore interface {
	SaveSummary(ctx context.Context, summary *models.Summary) error

	// Summary returns the stored summary or ErrNotFound.
	Summary(ctx context.Context, threadID string) (*models.Summary, error)
}

// UsageStore persists monotonically increasing per-user, per-day counters.
type UsageStore interface {
	// AddUsage increments the record for (userID, day), creating it on first
	// use.
	AddUsage(ctx context.Context, userID, day string, delta UsageDelta) error

	// Usage returns the record for (userID, day) or ErrNotFound.
	Usage(ctx context.Context, userID, day string) (*models.UsageRecord, error)
}

// SettingsStore persists per-channel configuration.
type SettingsStore interface {
	SaveChannelSettings(ctx context.Context, settings *models.ChannelSettings) error

	// ChannelSettings returns the settings for a channel or ErrNotFound.
	ChannelSettings(ctx context.Context, channelID string) (*models.ChannelSettings, error)
}

// Store aggregates all persistence collaborators behind one handle.
type Store interface {
	ConversationStore
	SummaryStore
	UsageStore
	SettingsStore

	Close() error
}
