package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/beacon/internal/agent"
	"github.com/haasonsaas/beacon/internal/agent/providers"
	"github.com/haasonsaas/beacon/internal/channels/discord"
	"github.com/haasonsaas/beacon/internal/config"
	"github.com/haasonsaas/beacon/internal/history"
	"github.com/haasonsaas/beacon/internal/mcp"
	"github.com/haasonsaas/beacon/internal/observability"
	"github.com/haasonsaas/beacon/internal/store"
	"github.com/haasonsaas/beacon/internal/tools"
	"github.com/haasonsaas/beacon/internal/tools/profile"
	"github.com/haasonsaas/beacon/internal/tools/websearch"
	"github.com/haasonsaas/beacon/internal/usage"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant",
		Long: `Start the assistant with the configured provider and tool servers.

The process:
1. Loads configuration from the specified file
2. Opens the persistence store
3. Discovers tools across configured tool servers
4. Connects the Discord adapter when enabled

SIGHUP re-reads the configuration and re-runs tool discovery.
SIGINT/SIGTERM shut down gracefully.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "beacon.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// followUpRelay breaks the construction cycle between the orchestrator and
// the platform adapter: the orchestrator is built first with the relay, the
// adapter is attached once it exists.
type followUpRelay struct {
	mu     sync.RWMutex
	poster agent.FollowUpPoster
}

func (r *followUpRelay) attach(p agent.FollowUpPoster) {
	r.mu.Lock()
	r.poster = p
	r.mu.Unlock()
}

func (r *followUpRelay) PostFollowUp(ctx context.Context, threadID, text string) error {
	r.mu.RLock()
	poster := r.poster
	r.mu.RUnlock()
	if poster == nil {
		return nil
	}
	return poster.PostFollowUp(ctx, threadID, text)
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, debug)

	st, err := openStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer st.Close()

	var metrics *observability.Metrics
	var metricsServer *observability.Server
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics()
		metricsServer, err = observability.StartServer(cfg.Metrics, logger)
		if err != nil {
			return err
		}
	}

	provider, err := providers.New(ctx, cfg.LLM)
	if err != nil {
		return err
	}
	logger.Info("provider ready", "provider", provider.Name())

	manager := mcp.NewManager(cfg.ToolServers, logger)
	manager.Discover(ctx)

	registry := tools.NewRegistry(manager, logger, tools.WithMetrics(metrics))
	registry.Register(websearch.New(websearch.Config{}))
	registry.Register(profile.New(st))

	relay := &followUpRelay{}
	orchestrator := agent.NewOrchestrator(provider, registry, logger,
		agent.WithFollowUpPoster(relay),
		agent.WithSampling(cfg.LLM.Temperature, cfg.LLM.MaxTokens),
		agent.WithMetrics(metrics),
	)

	summarizer := history.NewSummarizer(provider, st, cfg.Summarization, logger, history.WithMetrics(metrics))
	tracker := usage.NewTracker(st, logger)

	var adapter *discord.Adapter
	if cfg.Discord.Enabled {
		adapter, err = discord.NewAdapter(discord.Options{
			Token:        cfg.Discord.BotToken,
			Orchestrator: orchestrator,
			Store:        st,
			Summarizer:   summarizer,
			Tracker:      tracker,
			Metrics:      metrics,
			Logger:       logger,
		})
		if err != nil {
			return err
		}
		relay.attach(adapter)
		if err := adapter.Start(ctx); err != nil {
			return err
		}
	} else {
		logger.Warn("discord adapter disabled, serving tool servers only")
	}

	logger.Info("beacon started", "config", configPath, "tools", len(registry.Tools()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				reload(ctx, configPath, manager, logger)
				continue
			}
			logger.Info("shutting down", "signal", sig.String())
			return shutdown(adapter, metricsServer, logger)
		case <-ctx.Done():
			return shutdown(adapter, metricsServer, logger)
		}
	}
}

// reload re-reads the configuration and re-runs tool discovery with the new
// server map. Provider and storage changes require a restart.
func reload(ctx context.Context, configPath string, manager *mcp.Manager, logger *slog.Logger) {
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("config reload failed", "error", err)
		return
	}
	manager.Reload(ctx, cfg.ToolServers)
	logger.Info("tool servers reloaded", "servers", len(cfg.ToolServers))
}

func shutdown(adapter *discord.Adapter, metricsServer *observability.Server, logger *slog.Logger) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if adapter != nil {
		if err := adapter.Stop(); err != nil {
			logger.Warn("adapter stop failed", "error", err)
		}
	}
	metricsServer.Shutdown(shutdownCtx)
	return nil
}

func openStore(cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		return store.NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
