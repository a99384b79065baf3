package agent

import (
	"testing"
)

func TestParseDirectiveFinal(t *testing.T) {
	parsed := ParseDirective(`{"final":"Hello"}`)
	if parsed.Directive == nil || parsed.Directive.Final == nil {
		t.Fatalf("expected final directive, got %+v", parsed)
	}
	if *parsed.Directive.Final != "Hello" {
		t.Errorf("final = %q, want Hello", *parsed.Directive.Final)
	}
	if parsed.Prose != "" {
		t.Errorf("prose = %q, want empty", parsed.Prose)
	}
}

func TestParseDirectiveFencedWithProse(t *testing.T) {
	text := "Let me check.\n```json\n{\"tool_calls\":[{\"name\":\"web_search\",\"arguments\":{\"query\":\"x\"}}]}\n```"

	parsed := ParseDirective(text)
	if parsed.Directive == nil || len(parsed.Directive.ToolCalls) != 1 {
		t.Fatalf("expected one tool call, got %+v", parsed)
	}
	if parsed.Directive.ToolCalls[0].Name != "web_search" {
		t.Errorf("tool = %q", parsed.Directive.ToolCalls[0].Name)
	}
	if parsed.Prose != "Let me check." {
		t.Errorf("prose = %q, want %q", parsed.Prose, "Let me check.")
	}
}

func TestParseDirectiveInline(t *testing.T) {
	text := `Sure. {"tool_calls":[{"name":"profile__lookup","arguments":{"user":"bob"}}]} One moment.`

	parsed := ParseDirective(text)
	if parsed.Directive == nil || len(parsed.Directive.ToolCalls) != 1 {
		t.Fatalf("expected one tool call, got %+v", parsed)
	}
	if parsed.Prose != "Sure.  One moment." {
		t.Errorf("prose = %q", parsed.Prose)
	}
}

func TestParseDirectivePlainText(t *testing.T) {
	for _, text := range []string{
		"Just a normal answer.",
		"Here is a JSON example: {\"name\": \"value\"}",
		"```go\nfunc main() {}\n```",
	} {
		parsed := ParseDirective(text)
		if parsed.Directive != nil {
			t.Errorf("text %q: unexpected directive %+v", text, parsed.Directive)
		}
		if parsed.Malformed {
			t.Errorf("text %q: should not be malformed", text)
		}
		if parsed.Prose != text {
			t.Errorf("text %q: prose changed to %q", text, parsed.Prose)
		}
	}
}

func TestParseDirectiveMalformed(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantProse string
	}{
		{
			name:      "broken json with prose",
			text:      "Checking now. {\"tool_calls\":[{\"name\":}",
			wantProse: "Checking now.",
		},
		{
			name:      "broken fenced directive",
			text:      "Partial answer.\n```json\n{\"tool_calls\": [}\n```",
			wantProse: "Partial answer.",
		},
		{
			name:      "directive only broken",
			text:      `{"tool_calls": [{"name": "x"`,
			wantProse: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed := ParseDirective(tt.text)
			if parsed.Directive != nil {
				t.Fatalf("unexpected directive %+v", parsed.Directive)
			}
			if !parsed.Malformed {
				t.Fatal("expected malformed flag")
			}
			if parsed.Prose != tt.wantProse {
				t.Errorf("prose = %q, want %q", parsed.Prose, tt.wantProse)
			}
		})
	}
}

func TestFallbackInstructionsListsTools(t *testing.T) {
	tools := []Tool{
		staticTool{name: "websearch__search", desc: "search the web"},
	}
	text := FallbackInstructions(tools)
	for _, want := range []string{"websearch__search", "search the web", `"tool_calls"`, `"final"`} {
		if !containsStr(text, want) {
			t.Errorf("instructions missing %q", want)
		}
	}
}
