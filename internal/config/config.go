// Package config loads the Beacon configuration from a YAML file.
//
// Environment variables referenced as ${VAR} in the file are expanded before
// parsing so secrets stay out of the config itself. Built-in tool server
// defaults are merged with the configured server map; explicit entries win
// by server name.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	Discord       DiscordConfig       `yaml:"discord"`
	LLM           LLMConfig           `yaml:"llm"`
	ToolServers   map[string]Server   `yaml:"tool_servers"`
	Summarization SummarizationConfig `yaml:"summarization"`
	Storage       StorageConfig       `yaml:"storage"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// DiscordConfig configures the Discord boundary adapter.
type DiscordConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
}

// LLMConfig selects and configures the active provider.
type LLMConfig struct {
	// Provider selects the adapter: "gemini" or "openai".
	Provider string `yaml:"provider"`

	Gemini GeminiConfig `yaml:"gemini"`
	OpenAI OpenAIConfig `yaml:"openai"`

	// Temperature applies to chat requests when > 0.
	Temperature float32 `yaml:"temperature"`

	MaxTokens int `yaml:"max_tokens"`
}

// GeminiConfig configures the Gemini provider adapter.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// OpenAIConfig configures the OpenAI-compatible provider adapter. BaseURL
// allows pointing the adapter at any chat-completions compatible endpoint.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// NativeToolCalls reports whether the backend supports native function
	// calling. Unset means supported; set false to force the textual
	// tool-call contract.
	NativeToolCalls *bool `yaml:"native_tool_calls"`
}

// NativeTools resolves the native tool-calling flag. Unset defaults to true.
func (c OpenAIConfig) NativeTools() bool {
	return c.NativeToolCalls == nil || *c.NativeToolCalls
}

// Server describes one external tool server. Transport is selected
// explicitly, or inferred: a command implies stdio, a URL implies
// streamable-http with SSE fallback.
type Server struct {
	Transport string            `yaml:"transport"` // stdio | sse | streamable-http
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       map[string]string `yaml:"env"`
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers"`
	Disabled  bool              `yaml:"disabled"`
}

// SummarizationConfig tunes the history summarizer.
type SummarizationConfig struct {
	// TriggerRatio is the fraction of the model context window at which
	// summarization triggers.
	TriggerRatio float64 `yaml:"trigger_ratio"`

	// BufferMargin is the fractional growth over the last summarization
	// point required before re-summarizing.
	BufferMargin float64 `yaml:"buffer_margin"`

	// KeepRecentTurns is how many recent turns stay verbatim after a summary
	// exists.
	KeepRecentTurns int `yaml:"keep_recent_turns"`

	// ContextWindow is the model context window in tokens.
	ContextWindow int `yaml:"context_window"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default timeouts applied to tool server connections. Discovery is a cheap
// list call; execution may do real work.
const (
	DefaultDiscoveryTimeout = 10 * time.Second
	DefaultExecutionTimeout = 60 * time.Second
)

// DefaultConfig returns the baseline configuration before file overrides.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:  "gemini",
			Gemini:    GeminiConfig{Model: "gemini-2.0-flash"},
			OpenAI:    OpenAIConfig{Model: "gpt-4o"},
			MaxTokens: 4096,
		},
		ToolServers: DefaultToolServers(),
		Summarization: SummarizationConfig{
			TriggerRatio:    0.85,
			BufferMargin:    0.20,
			KeepRecentTurns: 10,
			ContextWindow:   100000,
		},
		Storage: StorageConfig{Driver: "memory"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Addr: ":9090"},
	}
}

// DefaultToolServers returns the built-in tool server map. Explicit config
// entries override these by name.
func DefaultToolServers() map[string]Server {
	return map[string]Server{
		"websearch": {
			Transport: "stdio",
			Command:   "beacon-websearch-server",
		},
	}
}

// Load reads, expands, parses, merges, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration bytes on top of the defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	fileCfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), fileCfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := DefaultConfig()
	mergeConfig(cfg, fileCfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeConfig overlays the file configuration onto the defaults. Tool servers
// merge by key; everything else replaces wholesale when set.
func mergeConfig(base, overlay *Config) {
	if overlay.Discord.BotToken != "" || overlay.Discord.Enabled {
		base.Discord = overlay.Discord
	}
	if overlay.LLM.Provider != "" {
		base.LLM.Provider = overlay.LLM.Provider
	}
	if overlay.LLM.Gemini.APIKey != "" {
		base.LLM.Gemini.APIKey = overlay.LLM.Gemini.APIKey
	}
	if overlay.LLM.Gemini.Model != "" {
		base.LLM.Gemini.Model = overlay.LLM.Gemini.Model
	}
	if overlay.LLM.OpenAI.APIKey != "" {
		base.LLM.OpenAI.APIKey = overlay.LLM.OpenAI.APIKey
	}
	if overlay.LLM.OpenAI.BaseURL != "" {
		base.LLM.OpenAI.BaseURL = overlay.LLM.OpenAI.BaseURL
	}
	if overlay.LLM.OpenAI.Model != "" {
		base.LLM.OpenAI.Model = overlay.LLM.OpenAI.Model
	}
	if overlay.LLM.OpenAI.NativeToolCalls != nil {
		base.LLM.OpenAI.NativeToolCalls = overlay.LLM.OpenAI.NativeToolCalls
	}
	if overlay.LLM.Temperature > 0 {
		base.LLM.Temperature = overlay.LLM.Temperature
	}
	if overlay.LLM.MaxTokens > 0 {
		base.LLM.MaxTokens = overlay.LLM.MaxTokens
	}
	for name, server := range overlay.ToolServers {
		base.ToolServers[name] = server
	}
	if overlay.Summarization.TriggerRatio > 0 {
		base.Summarization.TriggerRatio = overlay.Summarization.TriggerRatio
	}
	if overlay.Summarization.BufferMargin > 0 {
		base.Summarization.BufferMargin = overlay.Summarization.BufferMargin
	}
	if overlay.Summarization.KeepRecentTurns > 0 {
		base.Summarization.KeepRecentTurns = overlay.Summarization.KeepRecentTurns
	}
	if overlay.Summarization.ContextWindow > 0 {
		base.Summarization.ContextWindow = overlay.Summarization.ContextWindow
	}
	if overlay.Storage.Driver != "" {
		base.Storage = overlay.Storage
	}
	if overlay.Logging.Level != "" {
		base.Logging.Level = overlay.Logging.Level
	}
	if overlay.Logging.Format != "" {
		base.Logging.Format = overlay.Logging.Format
	}
	if overlay.Metrics.Enabled {
		base.Metrics.Enabled = true
	}
	if overlay.Metrics.Addr != "" {
		base.Metrics.Addr = overlay.Metrics.Addr
	}
}

// Validate checks for configuration errors that should fail fast.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("llm.provider must be gemini or openai, got %q", c.LLM.Provider)
	}

	for name, server := range c.ToolServers {
		if server.Disabled {
			continue
		}
		if server.Command == "" && server.URL == "" {
			return fmt.Errorf("tool server %q needs a command or a url", name)
		}
		switch server.Transport {
		case "", "stdio", "sse", "streamable-http":
		default:
			return fmt.Errorf("tool server %q: unknown transport %q", name, server.Transport)
		}
		if server.Transport == "stdio" && server.Command == "" {
			return fmt.Errorf("tool server %q: stdio transport requires a command", name)
		}
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("storage.driver must be memory or sqlite, got %q", c.Storage.Driver)
	}

	if c.Summarization.TriggerRatio <= 0 || c.Summarization.TriggerRatio > 1 {
		return fmt.Errorf("summarization.trigger_ratio must be in (0, 1]")
	}
	return nil
}
