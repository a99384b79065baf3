package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/beacon/internal/agent"
	"github.com/haasonsaas/beacon/internal/config"
	"github.com/haasonsaas/beacon/internal/observability"
	"github.com/haasonsaas/beacon/internal/store"
	"github.com/haasonsaas/beacon/pkg/models"
)

const summarizePrompt = `Condense the following conversation into a single narrative paragraph. Preserve names, decisions, facts, and any unresolved questions. Write it so an assistant reading only this paragraph can continue the conversation naturally.`

// ConversationState is the slice of the store the summarizer needs: summary
// persistence plus history replacement when a fresh summary has folded the
// older turns in.
type ConversationState interface {
	store.SummaryStore
	ReplaceHistory(ctx context.Context, threadID string, turns []models.Turn) error
}

// Summarizer collapses oversized histories into a condensed narrative with
// hysteresis: once a summary exists, a new one is written only when the
// history has grown past the last summarization point by the configured
// buffer margin. The stored history is compacted only at that moment, after
// every turn it held has been folded into the new summary; between summaries
// the store keeps the full conversation.
type Summarizer struct {
	provider agent.Provider
	store    ConversationState
	cfg      config.SummarizationConfig
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// SummarizerOption configures optional summarizer behavior.
type SummarizerOption func(*Summarizer)

// WithMetrics records summarization attempts by outcome.
func WithMetrics(m *observability.Metrics) SummarizerOption {
	return func(s *Summarizer) { s.metrics = m }
}

// NewSummarizer creates a summarizer using the provider for both token
// estimation and summary generation.
func NewSummarizer(provider agent.Provider, state ConversationState, cfg config.SummarizationConfig, logger *slog.Logger, opts ...SummarizerOption) *Summarizer {
	s := &Summarizer{
		provider: provider,
		store:    state,
		cfg:      cfg,
		logger:   logger.With("component", "summarizer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Prepare returns the history to present to the model: the full history
// while it fits, or a condensed summary turn plus the most recent turns
// once a summary exists. It writes a new summary only when the trigger
// threshold (and, once summarized, the buffer margin over the compacted
// baseline) is exceeded; writing one compacts the stored history.
func (s *Summarizer) Prepare(ctx context.Context, threadID string, history []models.Turn) ([]models.Turn, error) {
	estimate := s.estimate(history)
	trigger := int(s.cfg.TriggerRatio * float64(s.cfg.ContextWindow))

	existing, err := s.store.Summary(ctx, threadID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load summary: %w", err)
	}

	switch {
	case existing == nil && estimate <= trigger:
		return history, nil

	case existing != nil && (estimate <= trigger ||
		float64(estimate) <= float64(existing.TokenEstimate)*(1+s.cfg.BufferMargin)):
		// Within the hysteresis band: the trigger is the floor for any
		// summarization, and the margin stops thrash when the condensed
		// baseline already sits near it.
		return s.present(existing, history), nil
	}

	summary, err := s.summarize(ctx, threadID, history, estimate)
	if err != nil {
		s.logger.Error("summarization failed, presenting full history", "thread_id", threadID, "error", err)
		if existing != nil {
			return s.present(existing, history), nil
		}
		return history, nil
	}
	return s.present(summary, history), nil
}

func (s *Summarizer) summarize(ctx context.Context, threadID string, history []models.Turn, estimate int) (*models.Summary, error) {
	result, err := s.provider.Chat(ctx, &agent.ChatRequest{
		SystemPrompt: summarizePrompt,
		Question: []models.Part{{
			Type: models.PartText,
			Text: renderHistory(history),
		}},
	})
	if err != nil {
		s.record("error")
		return nil, err
	}
	if strings.TrimSpace(result.Text) == "" {
		s.record("error")
		return nil, errors.New("empty summary from provider")
	}

	summary := &models.Summary{
		ThreadID:  threadID,
		Content:   strings.TrimSpace(result.Text),
		TurnCount: len(history),
	}

	// The recorded estimate is the compacted baseline; the buffer margin
	// measures growth on top of it.
	condensed := s.present(summary, history)
	summary.TokenEstimate = s.estimate(condensed)

	if err := s.store.SaveSummary(ctx, summary); err != nil {
		s.record("error")
		return nil, fmt.Errorf("save summary: %w", err)
	}

	// Every turn in history is now covered by the summary, so the stored
	// conversation can be compacted to the condensed form without loss.
	if err := s.store.ReplaceHistory(ctx, threadID, condensed); err != nil {
		s.logger.Warn("failed to compact stored history", "thread_id", threadID, "error", err)
	}

	s.record("success")
	s.logger.Info("conversation summarized",
		"thread_id", threadID, "turns", summary.TurnCount, "token_estimate", summary.TokenEstimate)
	return summary, nil
}

func (s *Summarizer) record(status string) {
	if s.metrics != nil {
		s.metrics.RecordSummarization(status)
	}
}

// present renders a summary turn followed by the most recent turns kept
// verbatim.
func (s *Summarizer) present(summary *models.Summary, history []models.Turn) []models.Turn {
	keep := s.cfg.KeepRecentTurns
	if keep > len(history) {
		keep = len(history)
	}
	recent := history[len(history)-keep:]

	// The tail must not open with a dangling tool turn or repeat an earlier
	// summary turn.
	for len(recent) > 0 && (recent[0].Role == models.RoleTool || recent[0].Role == models.RoleSystem) {
		recent = recent[1:]
	}

	out := make([]models.Turn, 0, len(recent)+1)
	out = append(out, *models.TextTurn(models.RoleSystem,
		"Summary of the earlier conversation: "+summary.Content))
	out = append(out, recent...)
	return out
}

// estimate approximates the token footprint of a history using the
// provider's estimator.
func (s *Summarizer) estimate(history []models.Turn) int {
	return s.provider.CountTokens(renderHistory(history))
}

func renderHistory(history []models.Turn) string {
	var b strings.Builder
	for _, turn := range history {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Text())
		for _, result := range turn.ToolResults() {
			fmt.Fprintf(&b, "tool %s: %s\n", result.Name, result.Content)
		}
	}
	return b.String()
}
