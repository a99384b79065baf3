package toolconv

import (
	"encoding/json"

	"github.com/haasonsaas/beacon/internal/agent"
	openai "github.com/sashabaranov/go-openai"
)

// emptyObjectSchema stands in for descriptors whose schema fails to parse,
// so the backend still sees a callable zero-argument function.
var emptyObjectSchema = map[string]any{
	"type":       "object",
	"properties": map[string]any{},
}

// ToOpenAITools converts tool descriptors to the OpenAI function schema.
// OpenAI-compatible backends accept JSON Schema directly, so descriptors
// pass through unsanitized.
func ToOpenAITools(tools []agent.Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		params := any(emptyObjectSchema)
		var node map[string]any
		if err := json.Unmarshal(tool.Schema(), &node); err == nil {
			params = node
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  params,
			},
		})
	}
	return out
}
