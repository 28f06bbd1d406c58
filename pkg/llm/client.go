package llm

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Client provides chat completion and Whisper transcription over an OpenAI-compatible API.
type Client struct {
	client             *openai.Client
	model              string
	transcriptionModel string
	logger             *zap.Logger
}

// NewClient creates an OpenAI-compatible client. An empty endpoint uses the public API.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")
	}

	transcriptionModel := cfg.TranscriptionModel
	if transcriptionModel == "" {
		transcriptionModel = openai.Whisper1
	}

	return &Client{
		client:             openai.NewClientWithConfig(clientConfig),
		model:              cfg.Model,
		transcriptionModel: transcriptionModel,
		logger:             logger.Named("llm"),
	}, nil
}

// Chat sends the system instruction, prior turns and the new message.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.History {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Message})

	c.logger.Debug("LLM request",
		zap.String("model", c.model),
		zap.Int("history", len(req.History)),
		zap.Int("message_len", len(req.Message)))

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		classified := ClassifyError(err)
		classified.Provider = "openai"
		return "", classified
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", NewError(ErrorTypeEmpty, "no content in response", false, nil)
	}

	c.logger.Info("LLM request completed",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Transcribe runs Whisper on the audio clip. Confidence is derived from the
// mean segment log-probability; clips without segments report 0.9.
func (c *Client) Transcribe(ctx context.Context, filename string, audio io.Reader, language string) (*Transcription, error) {
	start := time.Now()
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.transcriptionModel,
		FilePath: filename,
		Reader:   audio,
		Language: language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		c.logger.Error("Transcription failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		classified := ClassifyError(err)
		classified.Provider = "openai"
		return nil, classified
	}

	confidence := 0.9
	if len(resp.Segments) > 0 {
		var sum float64
		for _, s := range resp.Segments {
			sum += s.AvgLogprob
		}
		confidence = math.Round(math.Exp(sum/float64(len(resp.Segments)))*100) / 100
	}

	lang := resp.Language
	if lang == "" {
		lang = language
	}

	c.logger.Info("Transcription completed",
		zap.Float64("duration", resp.Duration),
		zap.Duration("elapsed", time.Since(start)))

	return &Transcription{
		Text:       strings.TrimSpace(resp.Text),
		Language:   lang,
		Duration:   resp.Duration,
		Confidence: confidence,
	}, nil
}

// GetModel returns the configured chat model.
func (c *Client) GetModel() string {
	return c.model
}
