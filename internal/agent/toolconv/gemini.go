package toolconv

import (
	"encoding/json"
	"strings"

	"github.com/haasonsaas/beacon/internal/agent"
	"google.golang.org/genai"
)

// ToGeminiTools converts tool descriptors to Gemini function declarations.
// Schemas are sanitized first; Gemini rejects vendor keywords and
// non-object parameter roots. Descriptors whose schema fails to parse are
// skipped.
func ToGeminiTools(tools []agent.Tool) []*genai.Tool {
	var decls []*genai.FunctionDeclaration
	for _, tool := range tools {
		var node map[string]any
		if err := json.Unmarshal(tool.Schema(), &node); err != nil {
			continue
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  geminiSchema(SanitizeSchema(node)),
		})
	}
	if len(decls) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// geminiSchema walks a sanitized JSON Schema node and produces the SDK's
// typed equivalent. Keywords the sanitizer does not emit are ignored.
func geminiSchema(node map[string]any) *genai.Schema {
	if node == nil {
		return nil
	}

	out := &genai.Schema{
		Enum:     stringSlice(node["enum"]),
		Required: stringSlice(node["required"]),
	}
	if t, ok := node["type"].(string); ok {
		out.Type = genai.Type(strings.ToUpper(t))
	}
	if d, ok := node["description"].(string); ok {
		out.Description = d
	}
	if props, ok := node["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if child, ok := raw.(map[string]any); ok {
				out.Properties[name] = geminiSchema(child)
			}
		}
	}
	if items, ok := node["items"].(map[string]any); ok {
		out.Items = geminiSchema(items)
	}
	return out
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
