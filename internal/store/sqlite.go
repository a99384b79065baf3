package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/beacon/pkg/models"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteStore implements Store on a local SQLite database. Turn parts are
// stored as serialized JSON; counters live in a dedicated usage table keyed
// by (user_id, day).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and initializes) a SQLite-backed store at path.
// Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Serialized access avoids SQLITE_BUSY on concurrent platform events.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			parts TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_thread ON turns(thread_id, seq)`,
		`CREATE TABLE IF NOT EXISTS summaries (
			thread_id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			turn_count INTEGER NOT NULL,
			token_estimate INTEGER NOT NULL,
			updated INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS usage (
			user_id TEXT NOT NULL,
			day TEXT NOT NULL,
			llm_calls INTEGER NOT NULL DEFAULT 0,
			image_calls INTEGER NOT NULL DEFAULT 0,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (user_id, day)
		)`,
		`CREATE TABLE IF NOT EXISTS channel_settings (
			channel_id TEXT PRIMARY KEY,
			enabled INTEGER NOT NULL DEFAULT 0,
			disabled_threads TEXT NOT NULL DEFAULT '[]',
			prompt_mode TEXT NOT NULL DEFAULT '',
			prompt_context TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, threadID string, turn *models.Turn) error {
	if err := turn.Validate(); err != nil {
		return err
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	turn.ThreadID = threadID
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	parts, err := json.Marshal(turn.Parts)
	if err != nil {
		return fmt.Errorf("encode parts: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO turns (id, thread_id, seq, role, parts, created_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE thread_id = ?), ?, ?, ?)`,
		turn.ID, threadID, threadID, string(turn.Role), string(parts), turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func (s *SQLiteStore) History(ctx context.Context, threadID string, limit int) ([]models.Turn, error) {
	query := `SELECT id, role, parts, created_at FROM turns WHERE thread_id = ? ORDER BY seq`
	args := []any{threadID}
	if limit > 0 {
		// Window to the most recent turns while preserving chronological order.
		query = `SELECT id, role, parts, created_at FROM (
			SELECT id, seq, role, parts, created_at FROM turns
			WHERE thread_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var turns []models.Turn
	for rows.Next() {
		var turn models.Turn
		var role, parts string
		if err := rows.Scan(&turn.ID, &role, &parts, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.ThreadID = threadID
		turn.Role = models.Role(role)
		if err := json.Unmarshal([]byte(parts), &turn.Parts); err != nil {
			return nil, fmt.Errorf("decode parts: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

func (s *SQLiteStore) ReplaceHistory(ctx context.Context, threadID string, turns []models.Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}

	for i := range turns {
		turn := turns[i]
		if turn.ID == "" {
			turn.ID = uuid.NewString()
		}
		if turn.CreatedAt.IsZero() {
			turn.CreatedAt = time.Now()
		}
		parts, err := json.Marshal(turn.Parts)
		if err != nil {
			return fmt.Errorf("encode parts: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO turns (id, thread_id, seq, role, parts, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			turn.ID, threadID, i+1, string(turn.Role), string(parts), turn.CreatedAt); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveSummary(ctx context.Context, summary *models.Summary) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE summaries SET content = ?, turn_count = ?, token_estimate = ?, updated = 1, updated_at = ?
		WHERE thread_id = ?`,
		summary.Content, summary.TurnCount, summary.TokenEstimate, now, summary.ThreadID)
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		summary.Updated = true
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO summaries (thread_id, content, turn_count, token_estimate, updated, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)`,
		summary.ThreadID, summary.Content, summary.TurnCount, summary.TokenEstimate, now, now)
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Summary(ctx context.Context, threadID string) (*models.Summary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT content, turn_count, token_estimate, updated, created_at, updated_at
		FROM summaries WHERE thread_id = ?`, threadID)

	summary := &models.Summary{ThreadID: threadID}
	var updated int
	err := row.Scan(&summary.Content, &summary.TurnCount, &summary.TokenEstimate,
		&updated, &summary.CreatedAt, &summary.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	summary.Updated = updated != 0
	return summary, nil
}

func (s *SQLiteStore) AddUsage(ctx context.Context, userID, day string, delta UsageDelta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage (user_id, day, llm_calls, image_calls, prompt_tokens, completion_tokens, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, day) DO UPDATE SET
			llm_calls = llm_calls + excluded.llm_calls,
			image_calls = image_calls + excluded.image_calls,
			prompt_tokens = prompt_tokens + excluded.prompt_tokens,
			completion_tokens = completion_tokens + excluded.completion_tokens,
			updated_at = excluded.updated_at`,
		userID, day, delta.LLMCalls, delta.ImageCalls, delta.PromptTokens, delta.CompletionTokens, time.Now())
	if err != nil {
		return fmt.Errorf("add usage: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Usage(ctx context.Context, userID, day string) (*models.UsageRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT llm_calls, image_calls, prompt_tokens, completion_tokens, updated_at
		FROM usage WHERE user_id = ? AND day = ?`, userID, day)

	record := &models.UsageRecord{UserID: userID, Day: day}
	err := row.Scan(&record.LLMCalls, &record.ImageCalls,
		&record.PromptTokens, &record.CompletionTokens, &record.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	return record, nil
}

func (s *SQLiteStore) SaveChannelSettings(ctx context.Context, settings *models.ChannelSettings) error {
	threads, err := json.Marshal(settings.DisabledThreads)
	if err != nil {
		return fmt.Errorf("encode disabled threads: %w", err)
	}
	enabled := 0
	if settings.Enabled {
		enabled = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO channel_settings (channel_id, enabled, disabled_threads, prompt_mode, prompt_context, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (channel_id) DO UPDATE SET
			enabled = excluded.enabled,
			disabled_threads = excluded.disabled_threads,
			prompt_mode = excluded.prompt_mode,
			prompt_context = excluded.prompt_context,
			updated_at = excluded.updated_at`,
		settings.ChannelID, enabled, string(threads), settings.PromptMode, settings.PromptContext, time.Now())
	if err != nil {
		return fmt.Errorf("save channel settings: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ChannelSettings(ctx context.Context, channelID string) (*models.ChannelSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT enabled, disabled_threads, prompt_mode, prompt_context, updated_at
		FROM channel_settings WHERE channel_id = ?`, channelID)

	settings := &models.ChannelSettings{ChannelID: channelID}
	var enabled int
	var threads string
	err := row.Scan(&enabled, &threads, &settings.PromptMode, &settings.PromptContext, &settings.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query channel settings: %w", err)
	}
	settings.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(threads), &settings.DisabledThreads); err != nil {
		return nil, fmt.Errorf("decode disabled threads: %w", err)
	}
	return settings, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
