package usage

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/haasonsaas/beacon/internal/store"
	"github.com/haasonsaas/beacon/pkg/models"
)

func newTestTracker(t *testing.T) (*Tracker, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	tr := NewTracker(st, slog.New(slog.DiscardHandler))
	tr.now = func() time.Time { return time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC) }
	return tr, st
}

func TestTrackerAccumulatesCalls(t *testing.T) {
	tr, st := newTestTracker(t)
	ctx := context.Background()

	tr.RecordLLMCall(ctx, "u1", models.Usage{PromptTokens: 100, CompletionTokens: 40})
	tr.RecordLLMCall(ctx, "u1", models.Usage{PromptTokens: 50, CompletionTokens: 10})
	tr.RecordImageCall(ctx, "u1")

	rec, err := st.Usage(ctx, "u1", "2025-03-14")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if rec.LLMCalls != 2 || rec.ImageCalls != 1 {
		t.Fatalf("calls = %d llm, %d image, want 2, 1", rec.LLMCalls, rec.ImageCalls)
	}
	if rec.PromptTokens != 150 || rec.CompletionTokens != 50 {
		t.Fatalf("tokens = %d prompt, %d completion, want 150, 50", rec.PromptTokens, rec.CompletionTokens)
	}
}

func TestTrackerIgnoresAnonymousUsers(t *testing.T) {
	tr, st := newTestTracker(t)
	ctx := context.Background()

	tr.RecordLLMCall(ctx, "", models.Usage{PromptTokens: 10})

	if _, err := st.Usage(ctx, "", "2025-03-14"); err == nil {
		t.Fatal("expected no record for empty user id")
	}
}

func TestTrackerTodayZeroWhenIdle(t *testing.T) {
	tr, _ := newTestTracker(t)

	rec, err := tr.Today(context.Background(), "quiet")
	if err != nil {
		t.Fatalf("Today: %v", err)
	}
	if rec.Day != "2025-03-14" || rec.LLMCalls != 0 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}
