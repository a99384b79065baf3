package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/beacon/internal/observability"
	"github.com/haasonsaas/beacon/pkg/models"
)

// NoResponseSentinel is the exact text the model emits to decline answering
// in a noisy channel. A reply consisting solely of this sentinel is
// suppressed rather than sent.
const NoResponseSentinel = "[NO_RESPONSE]"

// PersistentErrorMessage is the fixed user-facing reply after the provider
// call fails on every retry attempt.
const PersistentErrorMessage = "I'm having trouble reaching my language model right now. Please try again in a moment."

// TechnicalIssueMessage is the last-resort reply when a malformed tool
// directive leaves no usable prose.
const TechnicalIssueMessage = "I ran into a technical issue with that response. Please try again."

// maxChatAttempts bounds provider retries. Fixed count, no backoff.
const maxChatAttempts = 3

// backgroundToolTimeout bounds detached tool dispatch, which outlives the
// user-visible reply.
const backgroundToolTimeout = 60 * time.Second

// FollowUpPoster posts a background tool result back to the originating
// thread after the main reply has already been sent.
type FollowUpPoster interface {
	PostFollowUp(ctx context.Context, threadID, text string) error
}

// Orchestrator drives one conversation turn to completion: provider call,
// tool-call resolution, and final answer assembly.
type Orchestrator struct {
	provider    Provider
	tools       ToolExecutor
	followUp    FollowUpPoster
	metrics     *observability.Metrics
	logger      *slog.Logger
	temperature float32
	maxTokens   int
}

// OrchestratorOption configures optional orchestrator behavior.
type OrchestratorOption func(*Orchestrator)

// WithFollowUpPoster enables background tool results to be posted back to
// the thread.
func WithFollowUpPoster(p FollowUpPoster) OrchestratorOption {
	return func(o *Orchestrator) { o.followUp = p }
}

// WithMetrics records provider call counts, latency, and token usage.
func WithMetrics(m *observability.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithSampling sets the temperature and response token cap passed to the
// provider.
func WithSampling(temperature float32, maxTokens int) OrchestratorOption {
	return func(o *Orchestrator) {
		o.temperature = temperature
		o.maxTokens = maxTokens
	}
}

// NewOrchestrator creates an orchestrator bound to one provider and one
// tool executor.
func NewOrchestrator(provider Provider, tools ToolExecutor, logger *slog.Logger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		provider: provider,
		tools:    tools,
		logger:   logger.With("component", "orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Request is one user turn to resolve against the existing history.
type Request struct {
	ThreadID string
	UserID   string

	// Question holds the new user turn's parts.
	Question []models.Part

	// History is the bounded conversation so far, oldest first.
	History []models.Turn

	// Mode is the prompt selection resolved for this turn.
	Mode PromptMode
}

// Reply is the outcome of one resolution.
type Reply struct {
	// Text is the final user-facing answer. Empty when Suppress is set.
	Text string

	// Suppress indicates the model declined to respond and nothing should
	// be sent to the platform.
	Suppress bool

	// Usage sums token accounting across all provider calls in this
	// resolution.
	Usage models.Usage

	// Turns holds the assistant and tool turns produced during resolution,
	// in order, for the caller to persist after the user turn.
	Turns []models.Turn
}

// Respond resolves one user turn. It never returns an error: provider and
// tool failures degrade to fixed user-facing messages, logged with thread
// context.
func (o *Orchestrator) Respond(ctx context.Context, req *Request) *Reply {
	log := o.logger.With("thread_id", req.ThreadID, "user_id", req.UserID)

	chatReq := &ChatRequest{
		SystemPrompt: req.Mode.SystemPrompt(),
		History:      req.History,
		Question:     req.Question,
		Tools:        o.tools.Tools(),
		Temperature:  o.temperature,
		MaxTokens:    o.maxTokens,
	}

	result, err := o.chatWithRetry(ctx, chatReq, log)
	if err != nil {
		log.Error("provider call failed after retries", "error", err)
		return &Reply{Text: PersistentErrorMessage}
	}

	reply := &Reply{Usage: result.Usage}

	if len(result.ToolCalls) > 0 {
		o.resolveNativeCalls(ctx, req, chatReq, result, reply, log)
		return o.finish(reply)
	}

	parsed := ParseDirective(result.Text)
	switch {
	case parsed.Directive != nil && parsed.Directive.Final != nil:
		reply.Text = *parsed.Directive.Final
		reply.Turns = append(reply.Turns, *models.TextTurn(models.RoleAssistant, reply.Text))

	case parsed.Directive != nil && len(parsed.Directive.ToolCalls) > 0:
		if parsed.Prose != "" {
			// Prose plus a directive: answer now, run the tools in the
			// background so a slow side-effecting tool never delays the
			// reply.
			o.dispatchDetached(ctx, req.ThreadID, parsed.Directive.ToolCalls, log)
			reply.Text = parsed.Prose
			reply.Turns = append(reply.Turns, *models.TextTurn(models.RoleAssistant, reply.Text))
		} else {
			o.resolveDirectiveCalls(ctx, req, chatReq, parsed.Directive.ToolCalls, reply, log)
		}

	case parsed.Malformed:
		log.Warn("malformed tool directive in model response", "prose_len", len(parsed.Prose))
		if parsed.Prose != "" {
			reply.Text = parsed.Prose
		} else {
			reply.Text = TechnicalIssueMessage
		}
		reply.Turns = append(reply.Turns, *models.TextTurn(models.RoleAssistant, reply.Text))

	default:
		reply.Text = result.Text
		reply.Turns = append(reply.Turns, *models.TextTurn(models.RoleAssistant, reply.Text))
	}

	return o.finish(reply)
}

// chatWithRetry calls the provider up to maxChatAttempts times. Retries are
// immediate; the bound is the safeguard, not backoff.
func (o *Orchestrator) chatWithRetry(ctx context.Context, req *ChatRequest, log *slog.Logger) (*Result, error) {
	var lastErr error
	for attempt := 1; attempt <= maxChatAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		result, err := o.provider.Chat(ctx, req)
		if err == nil {
			if o.metrics != nil {
				o.metrics.RecordLLMRequest(o.provider.Name(), "success",
					time.Since(start).Seconds(), result.Usage.PromptTokens, result.Usage.CompletionTokens)
			}
			return result, nil
		}
		if o.metrics != nil {
			o.metrics.RecordLLMRequest(o.provider.Name(), "error", time.Since(start).Seconds(), 0, 0)
		}
		lastErr = err
		log.Warn("provider call failed", "attempt", attempt, "error", err)
	}
	return nil, lastErr
}

// resolveNativeCalls executes native tool calls sequentially, appends one
// tool-result turn per call id, and re-invokes the model for the final
// answer.
func (o *Orchestrator) resolveNativeCalls(ctx context.Context, req *Request, chatReq *ChatRequest, first *Result, reply *Reply, log *slog.Logger) {
	assistant := models.Turn{Role: models.RoleAssistant}
	if first.Text != "" {
		assistant.Parts = append(assistant.Parts, models.Part{Type: models.PartText, Text: first.Text})
	}
	for i := range first.ToolCalls {
		call := &first.ToolCalls[i]
		if call.ID == "" {
			call.ID = uuid.NewString()
		}
		assistant.Parts = append(assistant.Parts, models.Part{Type: models.PartToolCall, ToolCall: call})
	}
	reply.Turns = append(reply.Turns, assistant)

	for i := range first.ToolCalls {
		call := first.ToolCalls[i]
		log.Info("executing tool", "tool", call.Name, "call_id", call.ID)
		result := o.tools.Execute(ctx, call.Name, call.Arguments)
		result.ToolCallID = call.ID
		reply.Turns = append(reply.Turns, *models.ToolResultTurn(*result))
	}

	o.finalAnswer(ctx, req, chatReq, reply, log)
}

// resolveDirectiveCalls handles the synchronous fallback path: a directive
// with no accompanying prose.
func (o *Orchestrator) resolveDirectiveCalls(ctx context.Context, req *Request, chatReq *ChatRequest, calls []DirectiveCall, reply *Reply, log *slog.Logger) {
	assistant := models.Turn{Role: models.RoleAssistant}
	ids := make([]string, len(calls))
	for i, call := range calls {
		ids[i] = uuid.NewString()
		assistant.Parts = append(assistant.Parts, models.Part{Type: models.PartToolCall, ToolCall: &models.ToolCall{
			ID:        ids[i],
			Name:      call.Name,
			Arguments: call.Arguments,
		}})
	}
	reply.Turns = append(reply.Turns, assistant)

	for i, call := range calls {
		log.Info("executing tool", "tool", call.Name, "call_id", ids[i])
		result := o.tools.Execute(ctx, call.Name, call.Arguments)
		result.ToolCallID = ids[i]
		reply.Turns = append(reply.Turns, *models.ToolResultTurn(*result))
	}

	o.finalAnswer(ctx, req, chatReq, reply, log)
}

// finalAnswer re-invokes the model with the tool results appended and takes
// its text as the answer. Usage from both calls is summed.
func (o *Orchestrator) finalAnswer(ctx context.Context, req *Request, chatReq *ChatRequest, reply *Reply, log *slog.Logger) {
	augmented := make([]models.Turn, 0, len(req.History)+1+len(reply.Turns))
	augmented = append(augmented, req.History...)
	augmented = append(augmented, models.Turn{Role: models.RoleUser, Parts: req.Question})
	augmented = append(augmented, reply.Turns...)

	second, err := o.chatWithRetry(ctx, &ChatRequest{
		SystemPrompt: chatReq.SystemPrompt,
		History:      augmented,
		Tools:        chatReq.Tools,
		Temperature:  chatReq.Temperature,
		MaxTokens:    chatReq.MaxTokens,
	}, log)
	if err != nil {
		log.Error("final answer call failed after retries", "error", err)
		reply.Text = PersistentErrorMessage
		reply.Turns = append(reply.Turns, *models.TextTurn(models.RoleAssistant, reply.Text))
		return
	}

	reply.Usage.Add(second.Usage)
	reply.Text = second.Text
	if parsed := ParseDirective(second.Text); parsed.Directive != nil && parsed.Directive.Final != nil {
		reply.Text = *parsed.Directive.Final
	}
	if reply.Text == "" {
		reply.Text = TechnicalIssueMessage
	}
	reply.Turns = append(reply.Turns, *models.TextTurn(models.RoleAssistant, reply.Text))
}

// dispatchDetached runs tool calls in the background. Failures are logged,
// never surfaced to the already-delivered reply; results are posted back as
// follow-up messages when a poster is configured.
func (o *Orchestrator) dispatchDetached(ctx context.Context, threadID string, calls []DirectiveCall, log *slog.Logger) {
	bg := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(bg, backgroundToolTimeout)
		defer cancel()

		for _, call := range calls {
			log.Info("executing background tool", "tool", call.Name)
			result := o.tools.Execute(ctx, call.Name, call.Arguments)
			if result.IsError {
				log.Warn("background tool failed", "tool", call.Name, "error", result.Content)
				continue
			}
			if o.followUp == nil || result.Content == "" {
				continue
			}
			if err := o.followUp.PostFollowUp(ctx, threadID, result.Content); err != nil {
				log.Warn("posting background tool result failed", "tool", call.Name, "error", err)
			}
		}
	}()
}

// finish applies the decline sentinel.
func (o *Orchestrator) finish(reply *Reply) *Reply {
	if strings.TrimSpace(reply.Text) == NoResponseSentinel {
		reply.Text = ""
		reply.Suppress = true
	}
	return reply
}
