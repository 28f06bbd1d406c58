package llm

import (
	"context"
	"io"
	"sync"
)

// MockLLMClient is a configurable mock for testing.
// Set the function fields to control behavior.
type MockLLMClient struct {
	// ChatFunc is called by Chat. If nil, Chat returns "mock reply".
	ChatFunc func(ctx context.Context, req ChatRequest) (string, error)

	// Model is returned by GetModel. Defaults to "mock-model".
	Model string

	mu        sync.Mutex
	ChatCalls int
	Requests  []ChatRequest
}

// NewMockLLMClient creates a mock with defaults.
func NewMockLLMClient() *MockLLMClient {
	return &MockLLMClient{Model: "mock-model"}
}

// Chat implements LLMClient.
func (m *MockLLMClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	m.mu.Lock()
	m.ChatCalls++
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()

	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	return "mock reply", nil
}

// GetModel implements LLMClient.
func (m *MockLLMClient) GetModel() string {
	if m.Model == "" {
		return "mock-model"
	}
	return m.Model
}

// MockTranscriber is a configurable Transcriber for tests.
type MockTranscriber struct {
	TranscribeFunc func(ctx context.Context, filename string, audio io.Reader, language string) (*Transcription, error)
}

// Transcribe implements Transcriber.
func (m *MockTranscriber) Transcribe(ctx context.Context, filename string, audio io.Reader, language string) (*Transcription, error) {
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, filename, audio, language)
	}
	return &Transcription{Text: "mock transcript", Language: language, Confidence: 0.9}, nil
}

var (
	_ LLMClient   = (*MockLLMClient)(nil)
	_ Transcriber = (*MockTranscriber)(nil)
)
