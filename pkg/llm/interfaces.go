// Package llm talks to the chat and transcription providers behind the assistant.
package llm

import (
	"context"
	"io"
)

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one prior turn sent as context.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatRequest is a single completion request.
type ChatRequest struct {
	System      string
	History     []ChatMessage
	Message     string
	MaxTokens   int
	Temperature float64
}

// LLMClient generates chat completions.
type LLMClient interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
	GetModel() string
}

// Transcription is the text recognized in an audio clip.
type Transcription struct {
	Text       string
	Language   string
	Duration   float64
	Confidence float64
}

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader, language string) (*Transcription, error)
}

var (
	_ LLMClient   = (*Client)(nil)
	_ Transcriber = (*Client)(nil)
	_ LLMClient   = (*AnthropicClient)(nil)
)
