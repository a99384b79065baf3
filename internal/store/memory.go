package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/beacon/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for testing and
// local runs.
type MemoryStore struct {
	mu        sync.RWMutex
	turns     map[string][]models.Turn
	summaries map[string]*models.Summary
	usage     map[string]*models.UsageRecord
	settings  map[string]*models.ChannelSettings
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		turns:     map[string][]models.Turn{},
		summaries: map[string]*models.Summary{},
		usage:     map[string]*models.UsageRecord{},
		settings:  map[string]*models.ChannelSettings{},
	}
}

func (m *MemoryStore) AppendTurn(ctx context.Context, threadID string, turn *models.Turn) error {
	if err := turn.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *turn
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	clone.ThreadID = threadID
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	// Reflect generated fields back to the caller.
	turn.ID = clone.ID
	turn.ThreadID = clone.ThreadID
	turn.CreatedAt = clone.CreatedAt

	m.turns[threadID] = append(m.turns[threadID], clone)
	return nil
}

func (m *MemoryStore) History(ctx context.Context, threadID string, limit int) ([]models.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	turns := m.turns[threadID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]models.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (m *MemoryStore) ReplaceHistory(ctx context.Context, threadID string, turns []models.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	replacement := make([]models.Turn, len(turns))
	copy(replacement, turns)
	for i := range replacement {
		if replacement[i].ID == "" {
			replacement[i].ID = uuid.NewString()
		}
		replacement[i].ThreadID = threadID
		if replacement[i].CreatedAt.IsZero() {
			replacement[i].CreatedAt = time.Now()
		}
	}
	m.turns[threadID] = replacement
	return nil
}

func (m *MemoryStore) SaveSummary(ctx context.Context, summary *models.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *summary
	now := time.Now()
	if existing, ok := m.summaries[clone.ThreadID]; ok {
		clone.CreatedAt = existing.CreatedAt
		clone.Updated = true
	} else if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	m.summaries[clone.ThreadID] = &clone
	summary.Updated = clone.Updated
	return nil
}

func (m *MemoryStore) Summary(ctx context.Context, threadID string) (*models.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary, ok := m.summaries[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *summary
	return &clone, nil
}

func usageKey(userID, day string) string {
	return userID + ":" + day
}

func (m *MemoryStore) AddUsage(ctx context.Context, userID, day string, delta UsageDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.usage[usageKey(userID, day)]
	if !ok {
		record = &models.UsageRecord{UserID: userID, Day: day}
		m.usage[usageKey(userID, day)] = record
	}
	record.LLMCalls += delta.LLMCalls
	record.ImageCalls += delta.ImageCalls
	record.PromptTokens += delta.PromptTokens
	record.CompletionTokens += delta.CompletionTokens
	record.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Usage(ctx context.Context, userID, day string) (*models.UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.usage[usageKey(userID, day)]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (m *MemoryStore) SaveChannelSettings(ctx context.Context, settings *models.ChannelSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *settings
	clone.DisabledThreads = append([]string(nil), settings.DisabledThreads...)
	clone.UpdatedAt = time.Now()
	m.settings[clone.ChannelID] = &clone
	return nil
}

func (m *MemoryStore) ChannelSettings(ctx context.Context, channelID string) (*models.ChannelSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	settings, ok := m.settings[channelID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *settings
	clone.DisabledThreads = append([]string(nil), settings.DisabledThreads...)
	return &clone, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
