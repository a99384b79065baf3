package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/haasonsaas/beacon/internal/agent"
	"github.com/haasonsaas/beacon/internal/config"
)

// ErrUnavailable indicates the assistant cannot run because the selected
// provider is missing required configuration.
var ErrUnavailable = errors.New("provider unavailable")

// New selects and constructs the configured provider adapter.
func New(ctx context.Context, cfg config.LLMConfig) (agent.Provider, error) {
	if err := Check(cfg); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case "gemini":
		return NewGeminiProvider(ctx, GeminiConfig{
			APIKey: cfg.Gemini.APIKey,
			Model:  cfg.Gemini.Model,
		})
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:          cfg.OpenAI.APIKey,
			BaseURL:         cfg.OpenAI.BaseURL,
			Model:           cfg.OpenAI.Model,
			NativeToolCalls: cfg.OpenAI.NativeTools(),
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrUnavailable, cfg.Provider)
	}
}

// Check validates provider configuration without side effects. A failure
// means the assistant feature is unavailable, not that the process should
// crash.
func Check(cfg config.LLMConfig) error {
	switch cfg.Provider {
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return fmt.Errorf("%w: gemini api_key is not set", ErrUnavailable)
		}
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return fmt.Errorf("%w: openai api_key is not set", ErrUnavailable)
		}
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrUnavailable, cfg.Provider)
	}
	return nil
}
