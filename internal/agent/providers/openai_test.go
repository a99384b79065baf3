package providers

import (
	"encoding/json"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/beacon/internal/agent"
	"github.com/haasonsaas/beacon/pkg/models"
)

type describedTool struct {
	name string
}

func (d describedTool) Name() string            { return d.name }
func (d describedTool) Description() string     { return "does " + d.name }
func (d describedTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }

func TestNewOpenAIProviderRequiresKey(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestConvertMessagesInjectsFallbackContract(t *testing.T) {
	p := &OpenAIProvider{model: "local", nativeTools: false}
	req := &agent.ChatRequest{
		SystemPrompt: "You are helpful.",
		Tools:        []agent.Tool{describedTool{name: "web_search"}},
		Question:     []models.Part{{Type: models.PartText, Text: "hi"}},
	}

	msgs := p.convertMessages(req)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	system := msgs[0]
	if system.Role != openai.ChatMessageRoleSystem {
		t.Fatalf("first role = %s", system.Role)
	}
	if !strings.Contains(system.Content, "You are helpful.") {
		t.Fatal("system prompt missing")
	}
	if !strings.Contains(system.Content, `"tool_calls"`) || !strings.Contains(system.Content, "web_search") {
		t.Fatal("fallback contract not injected")
	}
}

func TestConvertMessagesNativeOmitsContract(t *testing.T) {
	p := &OpenAIProvider{model: "gpt-4o", nativeTools: true}
	req := &agent.ChatRequest{
		SystemPrompt: "You are helpful.",
		Tools:        []agent.Tool{describedTool{name: "web_search"}},
		Question:     []models.Part{{Type: models.PartText, Text: "hi"}},
	}

	msgs := p.convertMessages(req)
	if strings.Contains(msgs[0].Content, `"tool_calls"`) {
		t.Fatal("fallback contract injected on native path")
	}
}

func TestConvertTurnNativeToolTraffic(t *testing.T) {
	p := &OpenAIProvider{model: "gpt-4o", nativeTools: true}

	assistant := models.Turn{Role: models.RoleAssistant, Parts: []models.Part{
		{Type: models.PartToolCall, ToolCall: &models.ToolCall{
			ID:        "c1",
			Name:      "web_search",
			Arguments: json.RawMessage(`{"query":"x"}`),
		}},
	}}
	msgs := p.convertTurn(assistant)
	if len(msgs) != 1 || len(msgs[0].ToolCalls) != 1 {
		t.Fatalf("msgs = %+v", msgs)
	}
	call := msgs[0].ToolCalls[0]
	if call.ID != "c1" || call.Function.Name != "web_search" || call.Function.Arguments != `{"query":"x"}` {
		t.Fatalf("call = %+v", call)
	}

	tool := *models.ToolResultTurn(models.ToolResult{ToolCallID: "c1", Name: "web_search", Content: "found"})
	msgs = p.convertTurn(tool)
	if len(msgs) != 1 || msgs[0].Role != openai.ChatMessageRoleTool {
		t.Fatalf("msgs = %+v", msgs)
	}
	if msgs[0].ToolCallID != "c1" || msgs[0].Content != "found" {
		t.Fatalf("tool message = %+v", msgs[0])
	}
}

func TestConvertTurnFallbackToolResultAsUserText(t *testing.T) {
	p := &OpenAIProvider{model: "local", nativeTools: false}

	tool := *models.ToolResultTurn(models.ToolResult{Name: "web_search", Content: "found"})
	msgs := p.convertTurn(tool)
	if len(msgs) != 1 || msgs[0].Role != openai.ChatMessageRoleUser {
		t.Fatalf("msgs = %+v", msgs)
	}
	if !strings.Contains(msgs[0].Content, "web_search") || !strings.Contains(msgs[0].Content, "found") {
		t.Fatalf("content = %q", msgs[0].Content)
	}
}

func TestPromoteDirective(t *testing.T) {
	p := &OpenAIProvider{model: "local", nativeTools: false}

	result := &agent.Result{Text: `{"final":"Hello"}`}
	p.promoteDirective(result)
	if result.Text != "Hello" || len(result.ToolCalls) != 0 {
		t.Fatalf("final not promoted: %+v", result)
	}

	result = &agent.Result{Text: `{"tool_calls":[{"name":"web_search","arguments":{"query":"x"}}]}`}
	p.promoteDirective(result)
	if result.Text != "" || len(result.ToolCalls) != 1 || result.ToolCalls[0].Name != "web_search" {
		t.Fatalf("calls not promoted: %+v", result)
	}

	// A directive mixed with prose stays as text for the orchestrator's
	// asynchronous dispatch path.
	mixed := "Let me check.\n```json\n{\"tool_calls\":[{\"name\":\"web_search\",\"arguments\":{}}]}\n```"
	result = &agent.Result{Text: mixed}
	p.promoteDirective(result)
	if result.Text != mixed || len(result.ToolCalls) != 0 {
		t.Fatalf("mixed directive promoted: %+v", result)
	}
}

func TestUserMessageWithInlineImage(t *testing.T) {
	p := &OpenAIProvider{model: "gpt-4o", nativeTools: true}

	msg := p.userMessage([]models.Part{
		{Type: models.PartText, Text: "what is this?"},
		{Type: models.PartImage, Image: &models.ImageData{Data: []byte{1, 2, 3}, MimeType: "image/png"}},
	})
	if len(msg.MultiContent) != 2 {
		t.Fatalf("multi content = %+v", msg.MultiContent)
	}
	img := msg.MultiContent[1]
	if img.Type != openai.ChatMessagePartTypeImageURL {
		t.Fatalf("part type = %s", img.Type)
	}
	if !strings.HasPrefix(img.ImageURL.URL, "data:image/png;base64,") {
		t.Fatalf("url = %q", img.ImageURL.URL)
	}
}
