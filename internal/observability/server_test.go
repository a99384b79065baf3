package observability

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/haasonsaas/beacon/internal/config"
)

func TestStartServerDisabled(t *testing.T) {
	s, err := StartServer(config.MetricsConfig{Enabled: false}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	if s != nil {
		t.Fatal("expected nil server when disabled")
	}
	s.Shutdown(context.Background())
}

func TestServerServesHealthz(t *testing.T) {
	s, err := StartServer(config.MetricsConfig{Enabled: true, Addr: "127.0.0.1:0"}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"ok"`) {
		t.Fatalf("body = %q", body)
	}
}
