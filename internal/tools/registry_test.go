package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/haasonsaas/beacon/internal/agent"
	"github.com/haasonsaas/beacon/pkg/models"
)

type echoBuiltin struct{ name string }

func (e echoBuiltin) Name() string            { return e.name }
func (e echoBuiltin) Description() string     { return "echoes arguments" }
func (e echoBuiltin) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }

func (e echoBuiltin) Execute(ctx context.Context, args json.RawMessage) *models.ToolResult {
	return &models.ToolResult{Name: e.name, Content: "builtin:" + string(args)}
}

type fakeDelegate struct {
	tools    []agent.Tool
	executed []string
}

func (d *fakeDelegate) Tools() []agent.Tool { return d.tools }

func (d *fakeDelegate) Execute(ctx context.Context, name string, args json.RawMessage) *models.ToolResult {
	d.executed = append(d.executed, name)
	return &models.ToolResult{Name: name, Content: "delegate"}
}

func TestRegistryMergesCatalogs(t *testing.T) {
	delegate := &fakeDelegate{tools: []agent.Tool{echoBuiltin{name: "alpha__remote"}}}
	r := NewRegistry(delegate, slog.New(slog.DiscardHandler))
	r.Register(echoBuiltin{name: "web_search"})
	r.Register(echoBuiltin{name: "profile"})

	var names []string
	for _, tool := range r.Tools() {
		names = append(names, tool.Name())
	}
	want := []string{"web_search", "profile", "alpha__remote"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
}

func TestRegistryWithholdsShadowedDelegateTools(t *testing.T) {
	delegate := &fakeDelegate{tools: []agent.Tool{
		echoBuiltin{name: "websearch__web_search"},
		echoBuiltin{name: "alpha__remote"},
	}}
	r := NewRegistry(delegate, slog.New(slog.DiscardHandler))
	r.Register(echoBuiltin{name: "web_search"})

	var names []string
	for _, tool := range r.Tools() {
		names = append(names, tool.Name())
	}
	want := []string{"web_search", "alpha__remote"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
}

func TestRegistryRoutesExecution(t *testing.T) {
	delegate := &fakeDelegate{}
	r := NewRegistry(delegate, slog.New(slog.DiscardHandler))
	r.Register(echoBuiltin{name: "web_search"})
	ctx := context.Background()

	result := r.Execute(ctx, "web_search", json.RawMessage(`{"query":"x"}`))
	if !strings.HasPrefix(result.Content, "builtin:") {
		t.Fatalf("builtin not invoked: %+v", result)
	}
	if len(delegate.executed) != 0 {
		t.Fatalf("delegate called for builtin: %v", delegate.executed)
	}

	result = r.Execute(ctx, "alpha__remote", nil)
	if result.Content != "delegate" {
		t.Fatalf("delegate not invoked: %+v", result)
	}
	if len(delegate.executed) != 1 || delegate.executed[0] != "alpha__remote" {
		t.Fatalf("delegate executed = %v", delegate.executed)
	}
}

func TestRegistryUnknownToolWithoutDelegate(t *testing.T) {
	r := NewRegistry(nil, slog.New(slog.DiscardHandler))

	result := r.Execute(context.Background(), "missing", nil)
	if !result.IsError || !strings.Contains(result.Content, "tool not found") {
		t.Fatalf("unexpected result: %+v", result)
	}
}
