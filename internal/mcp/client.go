// Package mcp discovers and invokes tools on external tool servers speaking
// the Model Context Protocol. Connections are ephemeral: every discovery
// pass and every tool invocation opens a fresh connection and closes it
// before returning.
package mcp

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/haasonsaas/beacon/internal/config"
)

const clientName = "beacon"

// dialSession is a seam for tests to substitute in-memory transports.
var dialSession = openSession

// openSession connects to one tool server. Transport selection: explicit
// stdio (or a bare command), explicit sse, otherwise streamable HTTP with a
// transparent SSE fallback on connection failure.
func openSession(ctx context.Context, name string, cfg config.Server) (*sdk.ClientSession, error) {
	client := sdk.NewClient(&sdk.Implementation{Name: clientName, Version: "1.0"}, nil)

	switch {
	case cfg.Transport == "stdio" || (cfg.Transport == "" && cfg.Command != ""):
		if cfg.Command == "" {
			return nil, fmt.Errorf("server %s: stdio transport requires a command", name)
		}
		return client.Connect(ctx, commandTransport(ctx, cfg), nil)

	case cfg.Transport == "sse":
		return client.Connect(ctx, sseTransport(cfg), nil)

	default:
		session, err := client.Connect(ctx, &sdk.StreamableClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: headerClient(cfg.Headers),
		}, nil)
		if err == nil {
			return session, nil
		}
		// Older servers only speak SSE on the same endpoint.
		fallback := sdk.NewClient(&sdk.Implementation{Name: clientName, Version: "1.0"}, nil)
		session, sseErr := fallback.Connect(ctx, sseTransport(cfg), nil)
		if sseErr != nil {
			return nil, fmt.Errorf("server %s: streamable connect failed (%v), sse fallback failed: %w", name, err, sseErr)
		}
		return session, nil
	}
}

func commandTransport(ctx context.Context, cfg config.Server) sdk.Transport {
	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...) // #nosec G204 -- command comes from operator config
	cmd.Env = os.Environ()
	for key, value := range cfg.Env {
		cmd.Env = append(cmd.Env, key+"="+value)
	}
	return &sdk.CommandTransport{Command: cmd}
}

func sseTransport(cfg config.Server) sdk.Transport {
	return &sdk.SSEClientTransport{
		Endpoint:   cfg.URL,
		HTTPClient: headerClient(cfg.Headers),
	}
}

// headerClient returns an HTTP client injecting the configured headers into
// every request, or nil when no headers are set so the SDK default applies.
func headerClient(headers map[string]string) *http.Client {
	if len(headers) == 0 {
		return nil
	}
	return &http.Client{
		Transport: &headerRoundTripper{headers: headers, base: http.DefaultTransport},
	}
}

type headerRoundTripper struct {
	headers map[string]string
	base    http.RoundTripper
}

func (rt *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for key, value := range rt.headers {
		clone.Header.Set(key, value)
	}
	return rt.base.RoundTrip(clone)
}
