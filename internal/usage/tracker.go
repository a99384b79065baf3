// Package usage records per-user, per-day consumption counters so operators
// can audit who is spending model calls and tokens.
package usage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/haasonsaas/beacon/internal/store"
	"github.com/haasonsaas/beacon/pkg/models"
)

// dayFormat is the calendar-day key layout used for usage records.
const dayFormat = "2006-01-02"

// Tracker accumulates usage counters into the store. Recording is best
// effort: a persistence failure is logged and never surfaces to the caller,
// so a broken counter table cannot block replies.
type Tracker struct {
	store  store.UsageStore
	logger *slog.Logger
	now    func() time.Time
}

// NewTracker returns a tracker backed by the given store.
func NewTracker(st store.UsageStore, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:  st,
		logger: logger.With("component", "usage"),
		now:    time.Now,
	}
}

// RecordLLMCall counts one model invocation plus its token consumption
// against the user's current day.
func (t *Tracker) RecordLLMCall(ctx context.Context, userID string, u models.Usage) {
	t.add(ctx, userID, store.UsageDelta{
		LLMCalls:         1,
		PromptTokens:     int64(u.PromptTokens),
		CompletionTokens: int64(u.CompletionTokens),
	})
}

// RecordImageCall counts one image-bearing request against the user's
// current day.
func (t *Tracker) RecordImageCall(ctx context.Context, userID string) {
	t.add(ctx, userID, store.UsageDelta{ImageCalls: 1})
}

func (t *Tracker) add(ctx context.Context, userID string, delta store.UsageDelta) {
	if userID == "" {
		return
	}
	day := t.now().UTC().Format(dayFormat)
	if err := t.store.AddUsage(ctx, userID, day, delta); err != nil {
		t.logger.Warn("usage record failed", "user_id", userID, "day", day, "error", err)
	}
}

// Today returns the user's counters for the current day. A user with no
// activity yet gets a zeroed record rather than an error.
func (t *Tracker) Today(ctx context.Context, userID string) (*models.UsageRecord, error) {
	day := t.now().UTC().Format(dayFormat)
	rec, err := t.store.Usage(ctx, userID, day)
	if errors.Is(err, store.ErrNotFound) {
		return &models.UsageRecord{UserID: userID, Day: day}, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}
