package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/beacon/internal/agent"
	"github.com/haasonsaas/beacon/internal/config"
	"github.com/haasonsaas/beacon/pkg/models"
)

// Separator joins server and tool name into a qualified tool name. The
// server name is the namespace, so collisions across servers are
// impossible.
const Separator = "__"

// Descriptor is one discovered tool, valid until the next discovery pass.
type Descriptor struct {
	name        string
	description string
	schema      json.RawMessage

	server string
	tool   string
}

func (d Descriptor) Name() string            { return d.name }
func (d Descriptor) Description() string     { return d.description }
func (d Descriptor) Schema() json.RawMessage { return d.schema }

// fallbackWebSearch keeps the assistant usable when the websearch server
// fails discovery. The server may still come back for execution.
var fallbackWebSearch = Descriptor{
	name:        "websearch" + Separator + "web_search",
	description: "Search the web and return the most relevant results for a query.",
	schema:      json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"Search query"}},"required":["query"]}`),
	server:      "websearch",
	tool:        "web_search",
}

// Manager owns the configured server descriptors and the aggregated tool
// catalog. It implements agent.ToolExecutor. The server table is read-only
// between reloads; Reload is a brief exclusive section and qualified names
// must be re-resolved afterwards.
type Manager struct {
	mu      sync.RWMutex
	servers map[string]config.Server
	catalog []Descriptor

	logger           *slog.Logger
	discoveryTimeout time.Duration
	executionTimeout time.Duration
}

// NewManager creates a manager over the configured tool servers. Discovery
// does not run until Discover is called.
func NewManager(servers map[string]config.Server, logger *slog.Logger) *Manager {
	return &Manager{
		servers:          servers,
		logger:           logger.With("component", "mcp"),
		discoveryTimeout: config.DefaultDiscoveryTimeout,
		executionTimeout: config.DefaultExecutionTimeout,
	}
}

// Discover rebuilds the tool catalog from scratch. Each enabled server gets
// one bounded connection that is closed before moving on, success or not. A
// failing server is skipped; the websearch server degrades to a static
// fallback descriptor instead.
func (m *Manager) Discover(ctx context.Context) {
	m.mu.RLock()
	servers := make(map[string]config.Server, len(m.servers))
	for name, cfg := range m.servers {
		servers[name] = cfg
	}
	m.mu.RUnlock()

	var catalog []Descriptor
	for name, cfg := range servers {
		if cfg.Disabled {
			continue
		}
		tools, err := m.discoverServer(ctx, name, cfg)
		if err != nil {
			if name == fallbackWebSearch.server {
				m.logger.Warn("tool server discovery failed, using degraded static fallback",
					"server", name, "error", err)
				catalog = append(catalog, fallbackWebSearch)
				continue
			}
			m.logger.Warn("tool server discovery failed, skipping", "server", name, "error", err)
			continue
		}
		m.logger.Info("discovered tools", "server", name, "count", len(tools))
		catalog = append(catalog, tools...)
	}

	m.mu.Lock()
	m.catalog = catalog
	m.mu.Unlock()
}

func (m *Manager) discoverServer(ctx context.Context, name string, cfg config.Server) ([]Descriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, m.discoveryTimeout)
	defer cancel()

	session, err := dialSession(ctx, name, cfg)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	listed, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	tools := make([]Descriptor, 0, len(listed.Tools))
	for _, tool := range listed.Tools {
		schema, err := json.Marshal(tool.InputSchema)
		if err != nil || string(schema) == "null" {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		tools = append(tools, Descriptor{
			name:        name + Separator + tool.Name,
			description: tool.Description,
			schema:      schema,
			server:      name,
			tool:        tool.Name,
		})
	}
	return tools, nil
}

// Tools returns the current catalog as the common tool interface.
func (m *Manager) Tools() []agent.Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tools := make([]agent.Tool, len(m.catalog))
	for i, d := range m.catalog {
		tools[i] = d
	}
	return tools
}

// Execute invokes one qualified tool on its owning server over a fresh
// connection, closed unconditionally before returning. Failures come back
// as structured error payloads, never as errors, so the model can react to
// them in conversation.
func (m *Manager) Execute(ctx context.Context, name string, args json.RawMessage) *models.ToolResult {
	descriptor, cfg, ok := m.resolve(name)
	if !ok {
		return errorResult(name, fmt.Sprintf("tool not found: %s", name))
	}

	if msg := validateArgs(descriptor.schema, args); msg != "" {
		return errorResult(name, msg)
	}

	ctx, cancel := context.WithTimeout(ctx, m.executionTimeout)
	defer cancel()

	session, err := dialSession(ctx, descriptor.server, cfg)
	if err != nil {
		return errorResult(name, fmt.Sprintf("tool server unreachable: %v", err))
	}
	defer session.Close()

	result, err := session.CallTool(ctx, &sdk.CallToolParams{
		Name:      descriptor.tool,
		Arguments: args,
	})
	if err != nil {
		return errorResult(name, fmt.Sprintf("tool call failed: %v", err))
	}

	return &models.ToolResult{
		Name:    name,
		Content: flattenContent(result),
		IsError: result.IsError,
	}
}

// resolve maps a qualified name to its descriptor and server config. An
// unqualified or foreign-prefixed name does not resolve.
func (m *Manager) resolve(name string) (Descriptor, config.Server, bool) {
	server, _, found := strings.Cut(name, Separator)
	if !found {
		return Descriptor{}, config.Server{}, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.servers[server]
	if !ok {
		return Descriptor{}, config.Server{}, false
	}
	for _, d := range m.catalog {
		if d.name == name {
			return d, cfg, true
		}
	}
	return Descriptor{}, config.Server{}, false
}

// Reload swaps the server table and rebuilds the catalog. Qualified names
// from before the reload are invalid afterwards.
func (m *Manager) Reload(ctx context.Context, servers map[string]config.Server) {
	m.mu.Lock()
	m.servers = servers
	m.catalog = nil
	m.mu.Unlock()

	m.Discover(ctx)
}

// validateArgs checks arguments against the tool's schema before dispatch.
// An unparseable schema is not the caller's fault and skips validation.
func validateArgs(schemaJSON json.RawMessage, args json.RawMessage) string {
	if len(schemaJSON) == 0 {
		return ""
	}
	schema, err := jsonschema.CompileString("tool.json", string(schemaJSON))
	if err != nil {
		return ""
	}

	var payload any
	if len(args) == 0 {
		payload = map[string]any{}
	} else if err := json.Unmarshal(args, &payload); err != nil {
		return fmt.Sprintf("invalid arguments: %v", err)
	}

	if err := schema.Validate(payload); err != nil {
		return fmt.Sprintf("invalid arguments: %v", err)
	}
	return ""
}

// flattenContent joins the textual content items; anything else is carried
// through as JSON.
func flattenContent(result *sdk.CallToolResult) string {
	var texts []string
	for _, content := range result.Content {
		if text, ok := content.(*sdk.TextContent); ok {
			texts = append(texts, text.Text)
		}
	}
	if len(texts) > 0 {
		return strings.Join(texts, "\n")
	}
	if len(result.Content) == 0 {
		return ""
	}
	data, err := json.Marshal(result.Content)
	if err != nil {
		return ""
	}
	return string(data)
}

func errorResult(name, message string) *models.ToolResult {
	payload, _ := json.Marshal(map[string]string{"error": message})
	return &models.ToolResult{Name: name, Content: string(payload), IsError: true}
}
