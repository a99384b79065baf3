// Package tools combines built-in tools with the discovered tool-server
// catalog behind one executor.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/beacon/internal/agent"
	"github.com/haasonsaas/beacon/internal/mcp"
	"github.com/haasonsaas/beacon/internal/observability"
	"github.com/haasonsaas/beacon/pkg/models"
)

// Builtin is a tool that executes in-process. Execution failures come back
// as IsError results, never as Go errors.
type Builtin interface {
	agent.Tool
	Execute(ctx context.Context, args json.RawMessage) *models.ToolResult
}

// Registry merges built-in tools with a delegated executor, typically the
// tool-server manager. Built-in names take precedence over discovered ones,
// which cannot collide anyway since discovered names are server-qualified.
type Registry struct {
	builtins map[string]Builtin
	order    []string
	delegate agent.ToolExecutor
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// RegistryOption customizes Registry construction.
type RegistryOption func(*Registry)

// WithMetrics records execution counts and latencies.
func WithMetrics(m *observability.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry builds a registry over the delegate executor. delegate may be
// nil when no tool servers are configured.
func NewRegistry(delegate agent.ToolExecutor, logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		builtins: make(map[string]Builtin),
		delegate: delegate,
		logger:   logger.With("component", "tools"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a built-in tool. Registering a duplicate name replaces the
// earlier tool.
func (r *Registry) Register(tool Builtin) {
	if _, ok := r.builtins[tool.Name()]; !ok {
		r.order = append(r.order, tool.Name())
	}
	r.builtins[tool.Name()] = tool
}

// Tools returns built-ins followed by the delegate's catalog. A delegate
// tool whose unqualified name matches a built-in is withheld: the built-in
// answers that concern, and offering both would hand the model a duplicate
// that may only be a degraded fallback descriptor.
func (r *Registry) Tools() []agent.Tool {
	out := make([]agent.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.builtins[name])
	}
	if r.delegate != nil {
		for _, tool := range r.delegate.Tools() {
			if r.shadowed(tool.Name()) {
				continue
			}
			out = append(out, tool)
		}
	}
	return out
}

func (r *Registry) shadowed(qualified string) bool {
	_, tool, found := strings.Cut(qualified, mcp.Separator)
	if !found {
		return false
	}
	_, ok := r.builtins[tool]
	return ok
}

// Execute dispatches to a built-in when the name matches, otherwise to the
// delegate.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) *models.ToolResult {
	start := time.Now()
	var result *models.ToolResult
	if tool, ok := r.builtins[name]; ok {
		result = tool.Execute(ctx, args)
	} else if r.delegate != nil {
		result = r.delegate.Execute(ctx, name, args)
	} else {
		content, _ := json.Marshal(map[string]string{"error": fmt.Sprintf("tool not found: %s", name)})
		result = &models.ToolResult{Name: name, Content: string(content), IsError: true}
	}

	status := "success"
	if result.IsError {
		status = "error"
		r.logger.Warn("tool execution failed", "tool", name)
	}
	if r.metrics != nil {
		r.metrics.RecordToolExecution(name, status, time.Since(start).Seconds())
	}
	return result
}
