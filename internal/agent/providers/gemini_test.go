package providers

import (
	"encoding/json"
	"testing"

	"google.golang.org/genai"

	"github.com/haasonsaas/beacon/pkg/models"
)

func TestConvertHistoryRoleMapping(t *testing.T) {
	p := &GeminiProvider{model: "gemini-2.0-flash"}

	history := []models.Turn{
		*models.TextTurn(models.RoleUser, "hello"),
		*models.TextTurn(models.RoleAssistant, "hi"),
		*models.ToolResultTurn(models.ToolResult{Name: "web_search", Content: `{"answer":"42"}`}),
	}

	contents := p.convertHistory(history)
	if len(contents) != 3 {
		t.Fatalf("got %d contents, want 3", len(contents))
	}
	if contents[0].Role != genai.RoleUser {
		t.Fatalf("user role = %s", contents[0].Role)
	}
	if contents[1].Role != genai.RoleModel {
		t.Fatalf("assistant role = %s", contents[1].Role)
	}
	if contents[2].Role != genai.RoleUser {
		t.Fatalf("tool role = %s", contents[2].Role)
	}

	fr := contents[2].Parts[0].FunctionResponse
	if fr == nil || fr.Name != "web_search" {
		t.Fatalf("function response = %+v", fr)
	}
	if fr.Response["answer"] != "42" {
		t.Fatalf("payload = %+v", fr.Response)
	}
}

func TestConvertPartsToolCall(t *testing.T) {
	parts := convertParts([]models.Part{
		{Type: models.PartText, Text: "calling"},
		{Type: models.PartToolCall, ToolCall: &models.ToolCall{
			Name:      "web_search",
			Arguments: json.RawMessage(`{"query":"go"}`),
		}},
	})
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want 2", len(parts))
	}
	fc := parts[1].FunctionCall
	if fc == nil || fc.Name != "web_search" || fc.Args["query"] != "go" {
		t.Fatalf("function call = %+v", fc)
	}
}

func TestConvertPartsInlineImage(t *testing.T) {
	parts := convertParts([]models.Part{
		{Type: models.PartImage, Image: &models.ImageData{Data: []byte{0xFF}, MimeType: "image/jpeg"}},
	})
	if len(parts) != 1 || parts[0].InlineData == nil {
		t.Fatalf("parts = %+v", parts)
	}
	if parts[0].InlineData.MIMEType != "image/jpeg" {
		t.Fatalf("mime = %s", parts[0].InlineData.MIMEType)
	}
}

func TestFunctionResponsePayloadWrapsPlainText(t *testing.T) {
	payload := functionResponsePayload(models.ToolResult{Content: "not json", IsError: true})
	if payload["result"] != "not json" || payload["error"] != true {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestNewGeminiProviderRequiresKey(t *testing.T) {
	if _, err := NewGeminiProvider(t.Context(), GeminiConfig{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}
