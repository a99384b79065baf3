// Package discord is the platform boundary: it turns Discord message
// events into orchestration requests and posts the answers back, chunked
// to Discord's message limit.
package discord

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/beacon/internal/agent"
	"github.com/haasonsaas/beacon/internal/history"
	"github.com/haasonsaas/beacon/internal/observability"
	"github.com/haasonsaas/beacon/internal/store"
	"github.com/haasonsaas/beacon/internal/usage"
	"github.com/haasonsaas/beacon/pkg/models"
)

// typingInterval refreshes the indicator while a reply is in flight.
// Discord expires typing state after roughly ten seconds.
const typingInterval = 8 * time.Second

// maxAttachmentBytes caps the size of an image fetched from a message.
const maxAttachmentBytes = 8 << 20

// discordSession is the slice of discordgo.Session the adapter uses,
// extracted so tests can substitute a fake.
type discordSession interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
}

// Adapter connects one bot account to the orchestration core.
type Adapter struct {
	token        string
	session      discordSession
	orchestrator *agent.Orchestrator
	store        store.Store
	summarizer   *history.Summarizer
	tracker      *usage.Tracker
	metrics      *observability.Metrics
	logger       *slog.Logger
	fetch        *http.Client

	mu      sync.RWMutex
	selfID  string
	started bool
}

// Options carries the adapter's collaborators. Orchestrator, Store, and
// Summarizer are required; Tracker and Metrics are optional.
type Options struct {
	Token        string
	Orchestrator *agent.Orchestrator
	Store        store.Store
	Summarizer   *history.Summarizer
	Tracker      *usage.Tracker
	Metrics      *observability.Metrics
	Logger       *slog.Logger
}

// NewAdapter builds the adapter. The Discord session is created on Start.
func NewAdapter(opts Options) (*Adapter, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("discord: token is required")
	}
	if opts.Orchestrator == nil || opts.Store == nil || opts.Summarizer == nil {
		return nil, fmt.Errorf("discord: orchestrator, store, and summarizer are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		token:        opts.Token,
		orchestrator: opts.Orchestrator,
		store:        opts.Store,
		summarizer:   opts.Summarizer,
		tracker:      opts.Tracker,
		metrics:      opts.Metrics,
		logger:       logger.With("component", "discord"),
		fetch:        &http.Client{Timeout: 20 * time.Second},
	}, nil
}

// Start opens the gateway connection and registers the message handler.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("discord: adapter already started")
	}

	if a.session == nil {
		dg, err := discordgo.New("Bot " + a.token)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages |
			discordgo.IntentsDirectMessages |
			discordgo.IntentMessageContent
		a.session = dg
	}

	a.session.AddHandler(a.handleReady)
	a.session.AddHandler(a.handleMessageCreate)

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("discord: connect: %w", err)
	}
	a.started = true
	a.logger.Info("discord adapter started")
	return nil
}

// Stop closes the gateway connection.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}
	a.started = false
	if err := a.session.Close(); err != nil {
		return fmt.Errorf("discord: close session: %w", err)
	}
	a.logger.Info("discord adapter stopped")
	return nil
}

func (a *Adapter) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	a.mu.Lock()
	a.selfID = r.User.ID
	a.mu.Unlock()
	a.logger.Info("discord connection ready", "user", r.User.Username, "guilds", len(r.Guilds))
}

func (a *Adapter) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	a.mu.RLock()
	selfID := a.selfID
	a.mu.RUnlock()

	if m.Author == nil || m.Author.Bot || m.Author.ID == selfID {
		return
	}
	if !a.addressed(m, selfID) {
		return
	}

	ctx := context.Background()
	log := a.logger.With("channel_id", m.ChannelID, "user_id", m.Author.ID)

	settings := a.channelSettings(ctx, m.ChannelID)
	if !settings.Enabled || settings.ThreadDisabled(m.ChannelID) {
		log.Debug("channel disabled, ignoring message")
		return
	}

	if a.metrics != nil {
		a.metrics.MessageReceived("discord")
	}

	stopTyping := a.keepTyping(ctx, m.ChannelID)
	defer stopTyping()

	question := a.questionParts(ctx, m, selfID)
	if len(question) == 0 {
		return
	}

	hist, err := a.threadHistory(ctx, m, selfID)
	if err != nil {
		log.Warn("history reconstruction failed", "error", err)
	}

	// The condensed form is presentation only; the summarizer compacts the
	// stored history itself when it writes a new summary.
	prepared, err := a.summarizer.Prepare(ctx, m.ChannelID, hist)
	if err != nil {
		log.Warn("summarization failed, using full history", "error", err)
		prepared = hist
	}

	reply := a.orchestrator.Respond(ctx, &agent.Request{
		ThreadID: m.ChannelID,
		UserID:   m.Author.ID,
		Question: question,
		History:  prepared,
		Mode:     agent.ModeFromSettings(settings),
	})

	a.recordUsage(ctx, m.Author.ID, question, reply.Usage)
	a.persistTurns(ctx, m.ChannelID, question, reply.Turns)

	if reply.Suppress {
		if a.metrics != nil {
			a.metrics.MessageSuppressed("discord")
		}
		log.Debug("reply suppressed")
		return
	}
	a.post(m.ChannelID, reply.Text)
}

// PostFollowUp delivers a background tool result to the thread. Implements
// agent.FollowUpPoster.
func (a *Adapter) PostFollowUp(ctx context.Context, threadID, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	turn := models.TextTurn(models.RoleAssistant, text)
	if err := a.store.AppendTurn(ctx, threadID, turn); err != nil {
		a.logger.Warn("failed to persist follow-up turn", "thread_id", threadID, "error", err)
	}
	a.post(threadID, text)
	return nil
}

func (a *Adapter) post(channelID, text string) {
	for _, chunk := range chunkMessage(text) {
		if _, err := a.session.ChannelMessageSend(channelID, chunk); err != nil {
			a.logger.Error("failed to send message", "channel_id", channelID, "error", err)
			return
		}
		if a.metrics != nil {
			a.metrics.MessageSent("discord")
		}
	}
}

// addressed reports whether the bot should answer: direct messages always,
// guild messages only when the bot is mentioned.
func (a *Adapter) addressed(m *discordgo.MessageCreate, selfID string) bool {
	if m.GuildID == "" {
		return true
	}
	for _, user := range m.Mentions {
		if user.ID == selfID {
			return true
		}
	}
	return false
}

func (a *Adapter) channelSettings(ctx context.Context, channelID string) *models.ChannelSettings {
	settings, err := a.store.ChannelSettings(ctx, channelID)
	if err != nil {
		// Channels without stored settings respond with defaults.
		return &models.ChannelSettings{ChannelID: channelID, Enabled: true}
	}
	return settings
}

// keepTyping shows the typing indicator until the returned func is called.
func (a *Adapter) keepTyping(ctx context.Context, channelID string) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()
		for {
			if err := a.session.ChannelTyping(channelID); err != nil {
				a.logger.Debug("typing indicator failed", "channel_id", channelID, "error", err)
			}
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// questionParts converts the triggering message into turn parts: the text
// with the bot mention stripped, plus any image attachments downscaled for
// inline embedding.
func (a *Adapter) questionParts(ctx context.Context, m *discordgo.MessageCreate, selfID string) []models.Part {
	var parts []models.Part
	text := stripMention(m.Content, selfID)
	if text != "" {
		parts = append(parts, models.Part{Type: models.PartText, Text: text})
	}
	for _, att := range m.Attachments {
		if !strings.HasPrefix(att.ContentType, "image/") {
			continue
		}
		img, err := a.fetchImage(ctx, att.URL, att.ContentType)
		if err != nil {
			a.logger.Warn("attachment fetch failed", "url", att.URL, "error", err)
			continue
		}
		parts = append(parts, models.Part{Type: models.PartImage, Image: img})
	}
	return parts
}

func (a *Adapter) fetchImage(ctx context.Context, url, contentType string) (*models.ImageData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.fetch.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attachment fetch returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes))
	if err != nil {
		return nil, err
	}
	return history.DownscaleImage(data, contentType)
}

// threadHistory returns the stored conversation, reconstructing it from the
// channel's message log when the store is empty (first contact or restart
// with a fresh store). Reconstructed turns are persisted so subsequent
// events read the store directly.
func (a *Adapter) threadHistory(ctx context.Context, m *discordgo.MessageCreate, selfID string) ([]models.Turn, error) {
	hist, err := a.store.History(ctx, m.ChannelID, 0)
	if err != nil {
		return nil, err
	}
	if len(hist) > 0 {
		return hist, nil
	}

	source := &channelSource{session: a.session, selfID: selfID, skipID: m.ID}
	builder := history.NewBuilder(source, a.logger, 0)
	hist, err = builder.Build(ctx, m.ChannelID)
	if err != nil {
		return nil, err
	}
	for i := range hist {
		if err := a.store.AppendTurn(ctx, m.ChannelID, &hist[i]); err != nil {
			return hist, err
		}
	}
	return hist, nil
}

func (a *Adapter) recordUsage(ctx context.Context, userID string, question []models.Part, u models.Usage) {
	if a.tracker == nil {
		return
	}
	a.tracker.RecordLLMCall(ctx, userID, u)
	for _, part := range question {
		if part.Type == models.PartImage {
			a.tracker.RecordImageCall(ctx, userID)
			break
		}
	}
}

func (a *Adapter) persistTurns(ctx context.Context, threadID string, question []models.Part, turns []models.Turn) {
	userTurn := models.Turn{Role: models.RoleUser, Parts: question}
	if err := a.store.AppendTurn(ctx, threadID, &userTurn); err != nil {
		a.logger.Warn("failed to persist user turn", "thread_id", threadID, "error", err)
		return
	}
	for i := range turns {
		if err := a.store.AppendTurn(ctx, threadID, &turns[i]); err != nil {
			a.logger.Warn("failed to persist turn", "thread_id", threadID, "error", err)
			return
		}
	}
}

func stripMention(content, selfID string) string {
	content = strings.ReplaceAll(content, "<@"+selfID+">", "")
	content = strings.ReplaceAll(content, "<@!"+selfID+">", "")
	return strings.TrimSpace(content)
}

// channelSource adapts the Discord message log to the history builder,
// skipping the triggering message so it is not duplicated as history.
type channelSource struct {
	session discordSession
	selfID  string
	skipID  string
}

func (c *channelSource) MessagesBefore(ctx context.Context, channelID, beforeID string, limit int) ([]history.PlatformMessage, error) {
	msgs, err := c.session.ChannelMessages(channelID, limit, beforeID, "", "")
	if err != nil {
		return nil, err
	}
	out := make([]history.PlatformMessage, 0, len(msgs))
	for _, m := range msgs {
		if m == nil || m.Author == nil || m.ID == c.skipID {
			continue
		}
		pm := history.PlatformMessage{
			ID:            m.ID,
			AuthorName:    m.Author.Username,
			FromAssistant: m.Author.ID == c.selfID,
			Text:          m.Content,
		}
		for _, att := range m.Attachments {
			pm.Attachments = append(pm.Attachments, history.Attachment{
				URL:         att.URL,
				ContentType: att.ContentType,
			})
		}
		out = append(out, pm)
	}
	return out, nil
}
