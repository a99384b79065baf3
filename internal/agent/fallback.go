package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Directive is the JSON shape models follow on the textual fallback
// contract: either a batch of tool calls or a final answer.
type Directive struct {
	ToolCalls []DirectiveCall `json:"tool_calls,omitempty"`
	Final     *string         `json:"final,omitempty"`
}

// DirectiveCall is one requested tool invocation inside a Directive.
type DirectiveCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ParsedDirective is the outcome of scanning model text for an embedded
// directive. Prose is the surrounding text with the directive removed.
type ParsedDirective struct {
	Directive *Directive
	Prose     string

	// Malformed is set when text that looks like a directive failed to
	// parse as one. The broken block is already stripped from Prose.
	Malformed bool
}

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParseDirective scans free-form model text for an embedded tool-call
// directive, either inside a fenced code block or inline among prose.
// Text with no directive-shaped JSON returns a nil Directive and the
// original text unchanged.
func ParseDirective(text string) ParsedDirective {
	if m := fencedBlockRe.FindStringSubmatchIndex(text); m != nil {
		candidate := text[m[2]:m[3]]
		prose := strings.TrimSpace(text[:m[0]] + text[m[1]:])
		if !looksLikeDirective(candidate) {
			return ParsedDirective{Prose: text}
		}
		if d := decodeDirective(candidate); d != nil {
			return ParsedDirective{Directive: d, Prose: prose}
		}
		return ParsedDirective{Prose: prose, Malformed: true}
	}

	start := directiveStart(text)
	if start < 0 {
		return ParsedDirective{Prose: text}
	}

	candidate, end := balancedObject(text, start)
	prose := strings.TrimSpace(text[:start] + text[end:])
	if candidate == "" {
		// Opening brace with no matching close: strip the fragment.
		return ParsedDirective{Prose: strings.TrimSpace(text[:start]), Malformed: true}
	}
	if d := decodeDirective(candidate); d != nil {
		return ParsedDirective{Directive: d, Prose: prose}
	}
	return ParsedDirective{Prose: prose, Malformed: true}
}

// directiveStart finds the opening brace of an inline directive, identified
// by its leading key. Arbitrary JSON in the text is not a directive.
func directiveStart(text string) int {
	for _, key := range []string{`"tool_calls"`, `"final"`} {
		idx := strings.Index(text, key)
		if idx < 0 {
			continue
		}
		if open := strings.LastIndex(text[:idx], "{"); open >= 0 {
			return open
		}
	}
	return -1
}

// balancedObject extracts the JSON object starting at the opening brace,
// tracking nesting and string literals. Returns the object text and the
// index past its closing brace, or ("", len(text)) when unterminated.
func balancedObject(text string, start int) (string, int) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], i + 1
			}
		}
	}
	return "", len(text)
}

func looksLikeDirective(candidate string) bool {
	return strings.Contains(candidate, `"tool_calls"`) || strings.Contains(candidate, `"final"`)
}

func decodeDirective(candidate string) *Directive {
	var d Directive
	if err := json.Unmarshal([]byte(candidate), &d); err != nil {
		return nil
	}
	if len(d.ToolCalls) == 0 && d.Final == nil {
		return nil
	}
	for _, call := range d.ToolCalls {
		if call.Name == "" {
			return nil
		}
	}
	return &d
}

// FallbackInstructions renders the textual tool-call contract appended to
// the system prompt for backends without native function calling.
func FallbackInstructions(tools []Tool) string {
	var b strings.Builder
	b.WriteString("You can call tools. To call one or more tools, respond with a single JSON object ")
	b.WriteString(`shaped as {"tool_calls":[{"name":"<tool>","arguments":{...}}]} and nothing else. `)
	b.WriteString(`To answer directly, respond with {"final":"<your answer>"} or plain text.`)
	b.WriteString("\n\nAvailable tools:\n")
	for _, tool := range tools {
		fmt.Fprintf(&b, "- %s: %s\n  parameters: %s\n", tool.Name(), tool.Description(), tool.Schema())
	}
	return b.String()
}
