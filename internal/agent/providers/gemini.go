package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/haasonsaas/beacon/internal/agent"
	"github.com/haasonsaas/beacon/internal/agent/toolconv"
	"github.com/haasonsaas/beacon/pkg/models"
	"google.golang.org/genai"
)

// GeminiProvider adapts the Google Gen AI SDK to the common provider
// contract. Calls are single-shot: one request, one complete response.
// Failures surface to the orchestrator, which owns the retry policy.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// GeminiConfig configures the Gemini adapter.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// NewGeminiProvider creates a Gemini adapter. A missing API key is a
// configuration error surfaced immediately, not at call time.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &GeminiProvider{client: client, model: cfg.Model}, nil
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Chat sends the history plus the new question and returns the normalized
// result, including any native function calls the model requested.
func (p *GeminiProvider) Chat(ctx context.Context, req *agent.ChatRequest) (*agent.Result, error) {
	contents := p.convertHistory(req.History)
	if len(req.Question) > 0 {
		contents = append(contents, &genai.Content{
			Role:  genai.RoleUser,
			Parts: convertParts(req.Question),
		})
	}

	config := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(req.Temperature)
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = toolconv.ToGeminiTools(req.Tools)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return nil, WrapError("gemini", p.model, err)
	}

	result := &agent.Result{}
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				result.Text += part.Text
			}
			if part.FunctionCall != nil {
				args, jsonErr := json.Marshal(part.FunctionCall.Args)
				if jsonErr != nil {
					args = []byte("{}")
				}
				result.ToolCalls = append(result.ToolCalls, models.ToolCall{
					ID:        uuid.NewString(),
					Name:      part.FunctionCall.Name,
					Arguments: args,
				})
			}
		}
	}

	if resp.UsageMetadata != nil {
		result.Usage = models.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	return result, nil
}

// convertHistory maps common turns onto Gemini contents. Assistant turns
// take the model role; tool turns become function responses on the user
// side, which is where Gemini expects them.
func (p *GeminiProvider) convertHistory(history []models.Turn) []*genai.Content {
	var contents []*genai.Content
	for _, turn := range history {
		content := &genai.Content{}
		switch turn.Role {
		case models.RoleAssistant:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if turn.Role == models.RoleTool {
			for _, result := range turn.ToolResults() {
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						Name:     result.Name,
						Response: functionResponsePayload(result),
					},
				})
			}
		} else {
			content.Parts = convertParts(turn.Parts)
		}

		if len(content.Parts) > 0 {
			contents = append(contents, content)
		}
	}
	return contents
}

func convertParts(parts []models.Part) []*genai.Part {
	var out []*genai.Part
	for _, part := range parts {
		switch part.Type {
		case models.PartText:
			if part.Text != "" {
				out = append(out, &genai.Part{Text: part.Text})
			}
		case models.PartImage:
			if part.Image != nil {
				out = append(out, &genai.Part{
					InlineData: &genai.Blob{
						Data:     part.Image.Data,
						MIMEType: part.Image.MimeType,
					},
				})
			}
		case models.PartToolCall:
			if part.ToolCall != nil {
				var args map[string]any
				if err := json.Unmarshal(part.ToolCall.Arguments, &args); err != nil {
					args = map[string]any{}
				}
				out = append(out, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						Name: part.ToolCall.Name,
						Args: args,
					},
				})
			}
		}
	}
	return out
}

// functionResponsePayload parses the result content as JSON when possible;
// plain text is wrapped so the model still sees the error flag.
func functionResponsePayload(result models.ToolResult) map[string]any {
	var payload map[string]any
	if err := json.Unmarshal([]byte(result.Content), &payload); err != nil {
		payload = map[string]any{
			"result": result.Content,
			"error":  result.IsError,
		}
	}
	return payload
}

// CountTokens approximates at four characters per token.
func (p *GeminiProvider) CountTokens(text string) int {
	return len(text) / 4
}
