package llm

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/config"
)

// Providers accepted by New.
const (
	ProviderNone      = "none"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config selects and configures the provider behind the assistant.
type Config struct {
	Provider           string
	APIKey             string
	Endpoint           string
	Model              string
	TranscriptionModel string
	Timeout            time.Duration
	MaxTokens          int
	Temperature        float64
	// MaxRetries bounds how often a transient chat failure is retried.
	MaxRetries int
}

// ConfigFrom builds a Config from the server's AI settings.
func ConfigFrom(cfg config.AIConfig) Config {
	return Config{
		Provider:           cfg.Provider,
		APIKey:             cfg.APIKey,
		Endpoint:           cfg.Endpoint,
		Model:              cfg.Model,
		TranscriptionModel: cfg.TranscriptionModel,
		Timeout:            cfg.Timeout,
		MaxTokens:          cfg.MaxTokens,
		Temperature:        float64(cfg.Temperature),
		MaxRetries:         cfg.MaxRetries,
	}
}

// Available reports whether a provider is configured with credentials.
func (c Config) Available() bool {
	return c.Provider != "" && c.Provider != ProviderNone && c.APIKey != ""
}

// New builds the chat client and, when the provider supports it, the transcriber.
// Both are nil when no provider is available.
func New(cfg Config, logger *zap.Logger) (LLMClient, Transcriber, error) {
	if !cfg.Available() {
		return nil, nil, nil
	}

	switch cfg.Provider {
	case ProviderOpenAI:
		client, err := NewClient(&cfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create openai client: %w", err)
		}
		return client, client, nil
	case ProviderAnthropic:
		client, err := NewAnthropicClient(&cfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create anthropic client: %w", err)
		}
		return client, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
