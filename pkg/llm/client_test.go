package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(&Config{Endpoint: server.URL, Model: "test-model", APIKey: "k"}, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestClient_Chat_SendsHistoryInOrder(t *testing.T) {
	var got struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Sure thing.  "}}],"usage":{"prompt_tokens":3,"completion_tokens":2}}`))
	})

	reply, err := client.Chat(context.Background(), ChatRequest{
		System:    "be nice",
		History:   []ChatMessage{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hello"}},
		Message:   "need a loan",
		MaxTokens: 500,
	})
	require.NoError(t, err)
	assert.Equal(t, "Sure thing.", reply)

	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, 500, got.MaxTokens)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "assistant", got.Messages[2].Role)
	assert.Equal(t, "need a loan", got.Messages[3].Content)
}

func TestClient_Chat_ServerErrorIsRetryable(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	})

	_, err := client.Chat(context.Background(), ChatRequest{Message: "x"})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, ErrorTypeEndpoint, GetErrorType(err))
}

func TestClient_Chat_EmptyChoices(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})

	_, err := client.Chat(context.Background(), ChatRequest{Message: "x"})
	require.Error(t, err)
	assert.Equal(t, ErrorTypeEmpty, GetErrorType(err))
}

func TestClient_Transcribe(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/audio/transcriptions"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":" hello there ","language":"english","duration":2.5,"segments":[{"avg_logprob":0}]}`))
	})

	tr, err := client.Transcribe(context.Background(), "clip.webm", strings.NewReader("audio"), "en")
	require.NoError(t, err)
	assert.Equal(t, "hello there", tr.Text)
	assert.Equal(t, "english", tr.Language)
	assert.InDelta(t, 2.5, tr.Duration, 0.001)
	assert.InDelta(t, 1.0, tr.Confidence, 0.001)
}

func TestNew_SelectsProvider(t *testing.T) {
	chat, tr, err := New(Config{Provider: ProviderNone}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, chat)
	assert.Nil(t, tr)

	chat, tr, err = New(Config{Provider: ProviderOpenAI, APIKey: "k", Model: "m"}, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, chat)
	assert.NotNil(t, tr)

	chat, tr, err = New(Config{Provider: ProviderAnthropic, APIKey: "k", Model: "claude"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "claude", chat.GetModel())
	assert.Nil(t, tr)

	_, _, err = New(Config{Provider: "bard", APIKey: "k", Model: "m"}, zap.NewNop())
	assert.Error(t, err)
}
