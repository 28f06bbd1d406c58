package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

// AnthropicClient provides chat completion through the Anthropic Messages API.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
	logger *zap.Logger
}

// NewAnthropicClient creates an Anthropic client.
func NewAnthropicClient(cfg *Config, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	var opts []anthropic.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, anthropic.WithBaseURL(strings.TrimSuffix(cfg.Endpoint, "/")))
	}

	return &AnthropicClient{
		client: anthropic.NewClient(cfg.APIKey, opts...),
		model:  cfg.Model,
		logger: logger.Named("llm"),
	}, nil
}

// Chat sends the conversation as alternating user/assistant messages.
func (c *AnthropicClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	turns := anthropicTurns(req.History, req.Message)
	messages := make([]anthropic.Message, 0, len(turns))
	for _, m := range turns {
		if m.Role == RoleAssistant {
			messages = append(messages, anthropic.NewAssistantTextMessage(m.Content))
		} else {
			messages = append(messages, anthropic.NewUserTextMessage(m.Content))
		}
	}

	temperature := float32(req.Temperature)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 500
	}

	start := time.Now()
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		System:      req.System,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		classified := ClassifyError(err)
		classified.Provider = "anthropic"
		return "", classified
	}

	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil && strings.TrimSpace(*block.Text) != "" {
			c.logger.Info("LLM request completed",
				zap.Int("input_tokens", resp.Usage.InputTokens),
				zap.Int("output_tokens", resp.Usage.OutputTokens),
				zap.Duration("elapsed", time.Since(start)))
			return strings.TrimSpace(*block.Text), nil
		}
	}
	return "", NewError(ErrorTypeEmpty, "no text in response", false, nil)
}

// anthropicTurns orders history plus the new message for the Messages API,
// which must open with a user turn. Leading assistant turns (the welcome
// message) are dropped and consecutive turns from the same role are joined.
func anthropicTurns(history []ChatMessage, message string) []ChatMessage {
	turns := make([]ChatMessage, 0, len(history)+1)
	add := func(role, content string) {
		if role != RoleAssistant {
			role = RoleUser
		}
		if len(turns) == 0 && role == RoleAssistant {
			return
		}
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Content += "\n\n" + content
			return
		}
		turns = append(turns, ChatMessage{Role: role, Content: content})
	}
	for _, m := range history {
		add(m.Role, m.Content)
	}
	add(RoleUser, message)
	return turns
}

// GetModel returns the configured model.
func (c *AnthropicClient) GetModel() string {
	return c.model
}
