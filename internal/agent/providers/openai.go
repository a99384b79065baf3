package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/haasonsaas/beacon/internal/agent"
	"github.com/haasonsaas/beacon/internal/agent/toolconv"
	"github.com/haasonsaas/beacon/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider adapts any chat-completions compatible endpoint to the
// common provider contract. BaseURL allows pointing it at self-hosted or
// proxy backends; for backends without native function calling the adapter
// injects the textual tool-call contract and parses directives back out of
// the response.
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	nativeTools bool
}

// OpenAIConfig configures the OpenAI-compatible adapter.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string

	// NativeToolCalls reports whether the backend supports function
	// calling natively. When false the textual fallback contract is used.
	NativeToolCalls bool
}

// NewOpenAIProvider creates an OpenAI-compatible adapter. A missing API key
// is a configuration error surfaced immediately.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		nativeTools: cfg.NativeToolCalls,
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Chat sends one complete request. On the fallback-contract path a bare
// directive in the response is promoted to tool calls or final text;
// anything unparseable is returned as plain text for the orchestrator to
// handle.
func (p *OpenAIProvider) Chat(ctx context.Context, req *agent.ChatRequest) (*agent.Result, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: p.convertMessages(req),
	}
	if req.Temperature > 0 {
		chatReq.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if p.nativeTools && len(req.Tools) > 0 {
		chatReq.Tools = toolconv.ToOpenAITools(req.Tools)
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, WrapError("openai", p.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, WrapError("openai", p.model, errors.New("empty response"))
	}

	choice := resp.Choices[0].Message
	result := &agent.Result{
		Text: choice.Content,
		Usage: models.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	for _, call := range choice.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, models.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(call.Function.Arguments),
		})
	}

	if !p.nativeTools && len(result.ToolCalls) == 0 {
		p.promoteDirective(result)
	}

	return result, nil
}

// promoteDirective lifts a bare fallback directive into the native result
// shape. A directive mixed with prose stays as text so the orchestrator can
// run its asynchronous dispatch path.
func (p *OpenAIProvider) promoteDirective(result *agent.Result) {
	parsed := agent.ParseDirective(result.Text)
	if parsed.Directive == nil || parsed.Prose != "" {
		return
	}
	if parsed.Directive.Final != nil {
		result.Text = *parsed.Directive.Final
		return
	}
	for _, call := range parsed.Directive.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, models.ToolCall{
			Name:      call.Name,
			Arguments: call.Arguments,
		})
	}
	result.Text = ""
}

// convertMessages flattens the common turn model into chat-completion
// messages. On the fallback path tool traffic is rendered as plain text
// because the backend may not accept the tool role.
func (p *OpenAIProvider) convertMessages(req *agent.ChatRequest) []openai.ChatCompletionMessage {
	system := req.SystemPrompt
	if !p.nativeTools && len(req.Tools) > 0 {
		system += "\n\n" + agent.FallbackInstructions(req.Tools)
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, turn := range req.History {
		msgs = append(msgs, p.convertTurn(turn)...)
	}

	if len(req.Question) > 0 {
		msgs = append(msgs, p.userMessage(req.Question))
	}
	return msgs
}

func (p *OpenAIProvider) convertTurn(turn models.Turn) []openai.ChatCompletionMessage {
	switch turn.Role {
	case models.RoleAssistant:
		msg := openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: turn.Text(),
		}
		calls := turn.ToolCalls()
		if len(calls) == 0 {
			return []openai.ChatCompletionMessage{msg}
		}
		if p.nativeTools {
			for _, call := range calls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(call.Arguments),
					},
				})
			}
		} else {
			for _, call := range calls {
				msg.Content += fmt.Sprintf("\n{\"tool_calls\":[{\"name\":%q,\"arguments\":%s}]}", call.Name, call.Arguments)
			}
		}
		return []openai.ChatCompletionMessage{msg}

	case models.RoleTool:
		var msgs []openai.ChatCompletionMessage
		for _, result := range turn.ToolResults() {
			if p.nativeTools {
				msgs = append(msgs, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					ToolCallID: result.ToolCallID,
					Name:       result.Name,
					Content:    result.Content,
				})
			} else {
				msgs = append(msgs, openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleUser,
					Content: fmt.Sprintf("Tool result for %s: %s", result.Name, result.Content),
				})
			}
		}
		return msgs

	default:
		return []openai.ChatCompletionMessage{p.userMessage(turn.Parts)}
	}
}

// userMessage builds a user message, using multi-content parts when inline
// images are present.
func (p *OpenAIProvider) userMessage(parts []models.Part) openai.ChatCompletionMessage {
	hasImage := false
	for _, part := range parts {
		if part.Type == models.PartImage && part.Image != nil {
			hasImage = true
			break
		}
	}

	if !hasImage {
		text := ""
		for _, part := range parts {
			if part.Type == models.PartText {
				text += part.Text
			}
		}
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text}
	}

	var content []openai.ChatMessagePart
	for _, part := range parts {
		switch part.Type {
		case models.PartText:
			if part.Text != "" {
				content = append(content, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: part.Text,
				})
			}
		case models.PartImage:
			if part.Image != nil {
				content = append(content, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL: fmt.Sprintf("data:%s;base64,%s", part.Image.MimeType,
							base64.StdEncoding.EncodeToString(part.Image.Data)),
					},
				})
			}
		}
	}
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: content}
}

// CountTokens approximates at four characters per token.
func (p *OpenAIProvider) CountTokens(text string) int {
	return len(text) / 4
}
