package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/haasonsaas/beacon/internal/config"
)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

// fakeServer runs an in-memory MCP server and counts sessions so tests can
// assert that every connection is closed again.
type fakeServer struct {
	server *sdk.Server
	open   atomic.Int32
	dials  atomic.Int32
}

// countingTransport wraps the client-side transport so the open-session
// count is adjusted synchronously with the client's Close call; counting on
// the server side would race the assertion, because the server only learns
// of the close asynchronously.
type countingTransport struct {
	inner sdk.Transport
	open  *atomic.Int32
}

func (t countingTransport) Connect(ctx context.Context) (sdk.Connection, error) {
	conn, err := t.inner.Connect(ctx)
	if err != nil {
		return nil, err
	}
	t.open.Add(1)
	return &countingConn{Connection: conn, open: t.open}, nil
}

type countingConn struct {
	sdk.Connection
	open   *atomic.Int32
	closed atomic.Bool
}

func (c *countingConn) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.open.Add(-1)
	}
	return c.Connection.Close()
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	server := sdk.NewServer(&sdk.Implementation{Name: "fake", Version: "test"}, nil)
	server.AddTool(&sdk.Tool{
		Name:        "echo",
		Description: "Echo the input text",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []any{"text"},
		},
	}, func(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
		var payload map[string]string
		if err := json.Unmarshal(req.Params.Arguments, &payload); err != nil {
			return nil, err
		}
		return &sdk.CallToolResult{
			Content: []sdk.Content{&sdk.TextContent{Text: "echo:" + payload["text"]}},
		}, nil
	})
	return &fakeServer{server: server}
}

// dial connects a client session to the fake server over an in-memory
// transport pair.
func (f *fakeServer) dial(t *testing.T, ctx context.Context) (*sdk.ClientSession, error) {
	t.Helper()
	f.dials.Add(1)
	serverTransport, clientTransport := sdk.NewInMemoryTransports()

	serverDone := make(chan error, 1)
	go func() {
		session, err := f.server.Connect(ctx, serverTransport, nil)
		if err != nil {
			serverDone <- err
			return
		}
		serverDone <- nil
		session.Wait()
	}()

	client := sdk.NewClient(&sdk.Implementation{Name: "beacon-test", Version: "test"}, nil)
	session, err := client.Connect(ctx, countingTransport{inner: clientTransport, open: &f.open}, nil)
	if err != nil {
		return nil, err
	}
	if err := <-serverDone; err != nil {
		return nil, err
	}
	return session, nil
}

// withFakeDial routes the named server to the fake and fails everything
// else.
func withFakeDial(t *testing.T, f *fakeServer, healthy map[string]bool) {
	t.Helper()
	original := dialSession
	dialSession = func(ctx context.Context, name string, cfg config.Server) (*sdk.ClientSession, error) {
		if healthy[name] {
			return f.dial(t, ctx)
		}
		return nil, errors.New("connection refused")
	}
	t.Cleanup(func() { dialSession = original })
}

func testServers() map[string]config.Server {
	return map[string]config.Server{
		"alpha": {Command: "alpha-server"},
		"beta":  {URL: "http://beta.local/mcp"},
	}
}

func TestDiscoverNamespacesTools(t *testing.T) {
	fake := newFakeServer(t)
	withFakeDial(t, fake, map[string]bool{"alpha": true, "beta": true})

	m := NewManager(testServers(), testLogger())
	m.Discover(context.Background())

	tools := m.Tools()
	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(tools))
	}
	names := map[string]bool{}
	for _, tool := range tools {
		names[tool.Name()] = true
		if tool.Description() == "" {
			t.Errorf("tool %s has no description", tool.Name())
		}
	}
	if !names["alpha__echo"] || !names["beta__echo"] {
		t.Errorf("qualified names = %v", names)
	}
}

func TestDiscoverClosesConnections(t *testing.T) {
	fake := newFakeServer(t)
	withFakeDial(t, fake, map[string]bool{"alpha": true, "beta": true})

	m := NewManager(testServers(), testLogger())
	m.Discover(context.Background())

	if fake.dials.Load() != 2 {
		t.Errorf("dials = %d, want 2", fake.dials.Load())
	}
	if open := fake.open.Load(); open != 0 {
		t.Errorf("open sessions after discovery = %d, want 0", open)
	}
}

func TestDiscoverSkipsFailingServer(t *testing.T) {
	fake := newFakeServer(t)
	withFakeDial(t, fake, map[string]bool{"alpha": true})

	m := NewManager(testServers(), testLogger())
	m.Discover(context.Background())

	tools := m.Tools()
	if len(tools) != 1 || tools[0].Name() != "alpha__echo" {
		t.Errorf("tools = %v, want only alpha__echo", tools)
	}
}

func TestDiscoverWebsearchFallback(t *testing.T) {
	fake := newFakeServer(t)
	withFakeDial(t, fake, nil)

	servers := map[string]config.Server{
		"websearch": {Command: "beacon-websearch-server"},
	}
	m := NewManager(servers, testLogger())
	m.Discover(context.Background())

	tools := m.Tools()
	if len(tools) != 1 {
		t.Fatalf("got %d tools, want the static fallback", len(tools))
	}
	if tools[0].Name() != "websearch__web_search" {
		t.Errorf("fallback name = %q", tools[0].Name())
	}
}

func TestExecuteRoundTrip(t *testing.T) {
	fake := newFakeServer(t)
	withFakeDial(t, fake, map[string]bool{"alpha": true, "beta": true})

	m := NewManager(testServers(), testLogger())
	m.Discover(context.Background())

	result := m.Execute(context.Background(), "alpha__echo", json.RawMessage(`{"text":"hi"}`))
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if result.Content != "echo:hi" {
		t.Errorf("content = %q", result.Content)
	}
	if open := fake.open.Load(); open != 0 {
		t.Errorf("open sessions after execute = %d, want 0", open)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	fake := newFakeServer(t)
	withFakeDial(t, fake, map[string]bool{"alpha": true, "beta": true})

	m := NewManager(testServers(), testLogger())
	m.Discover(context.Background())

	for _, name := range []string{"echo", "gamma__echo", "alpha__missing"} {
		result := m.Execute(context.Background(), name, nil)
		if !result.IsError {
			t.Errorf("%s: expected structured error", name)
		}
		if !strings.Contains(result.Content, "tool not found") {
			t.Errorf("%s: content = %q", name, result.Content)
		}
	}
}

func TestExecuteRejectsInvalidArguments(t *testing.T) {
	fake := newFakeServer(t)
	withFakeDial(t, fake, map[string]bool{"alpha": true, "beta": true})

	m := NewManager(testServers(), testLogger())
	m.Discover(context.Background())
	dialsAfterDiscovery := fake.dials.Load()

	result := m.Execute(context.Background(), "alpha__echo", json.RawMessage(`{"wrong":1}`))
	if !result.IsError {
		t.Fatal("expected error result for schema violation")
	}
	if !strings.Contains(result.Content, "invalid arguments") {
		t.Errorf("content = %q", result.Content)
	}
	if fake.dials.Load() != dialsAfterDiscovery {
		t.Error("invalid arguments must be rejected before dialing the server")
	}
}

func TestExecuteUnreachableServer(t *testing.T) {
	fake := newFakeServer(t)
	// Healthy during discovery, then gone.
	healthy := map[string]bool{"alpha": true, "beta": true}
	withFakeDial(t, fake, healthy)

	m := NewManager(testServers(), testLogger())
	m.Discover(context.Background())
	healthy["alpha"] = false

	result := m.Execute(context.Background(), "alpha__echo", json.RawMessage(`{"text":"hi"}`))
	if !result.IsError {
		t.Fatal("expected structured error for unreachable server")
	}
	if !strings.Contains(result.Content, "unreachable") {
		t.Errorf("content = %q", result.Content)
	}
}

func TestReloadInvalidatesCatalog(t *testing.T) {
	fake := newFakeServer(t)
	withFakeDial(t, fake, map[string]bool{"alpha": true, "beta": true, "gamma": true})

	m := NewManager(testServers(), testLogger())
	m.Discover(context.Background())

	m.Reload(context.Background(), map[string]config.Server{
		"gamma": {Command: "gamma-server"},
	})

	tools := m.Tools()
	if len(tools) != 1 || tools[0].Name() != "gamma__echo" {
		t.Fatalf("tools after reload = %v, want only gamma__echo", tools)
	}
	if result := m.Execute(context.Background(), "alpha__echo", json.RawMessage(`{"text":"x"}`)); !result.IsError {
		t.Error("pre-reload qualified name must no longer resolve")
	}
}
