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

func TestAnthropicTurns(t *testing.T) {
	tests := []struct {
		name    string
		history []ChatMessage
		message string
		want    []ChatMessage
	}{
		{
			name:    "no history",
			message: "hello",
			want:    []ChatMessage{{RoleUser, "hello"}},
		},
		{
			name: "leading welcome turn is dropped",
			history: []ChatMessage{
				{RoleAssistant, "Welcome to Omnifin"},
				{RoleUser, "I need a loan"},
				{RoleAssistant, "How much?"},
			},
			message: "5000",
			want: []ChatMessage{
				{RoleUser, "I need a loan"},
				{RoleAssistant, "How much?"},
				{RoleUser, "5000"},
			},
		},
		{
			name: "only assistant turns",
			history: []ChatMessage{
				{RoleAssistant, "Welcome"},
				{RoleAssistant, "Anything else?"},
			},
			message: "yes",
			want:    []ChatMessage{{RoleUser, "yes"}},
		},
		{
			name: "unanswered user turn is joined with the new message",
			history: []ChatMessage{
				{RoleUser, "first"},
			},
			message: "second",
			want:    []ChatMessage{{RoleUser, "first\n\nsecond"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, anthropicTurns(tt.history, tt.message))
		})
	}
}

func TestAnthropicClient_Chat_StartsWithUserTurn(t *testing.T) {
	var got struct {
		System   json.RawMessage `json:"system"`
		Messages []struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"messages"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/messages"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"test-model",
			"content":[{"type":"text","text":" Approved. "}],"stop_reason":"end_turn",
			"usage":{"input_tokens":5,"output_tokens":1}}`))
	}))
	t.Cleanup(server.Close)

	client, err := NewAnthropicClient(&Config{Endpoint: server.URL, Model: "test-model", APIKey: "k"}, zap.NewNop())
	require.NoError(t, err)

	reply, err := client.Chat(context.Background(), ChatRequest{
		System: "You are a loan assistant.",
		History: []ChatMessage{
			{RoleAssistant, "Welcome to Omnifin"},
			{RoleUser, "I need a loan"},
			{RoleAssistant, "How much?"},
		},
		Message: "5000",
	})
	require.NoError(t, err)
	assert.Equal(t, "Approved.", reply)

	assert.Contains(t, string(got.System), "You are a loan assistant.")
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "user", got.Messages[0].Role)
	require.Len(t, got.Messages[0].Content, 1)
	assert.Equal(t, "I need a loan", got.Messages[0].Content[0].Text)
	assert.Equal(t, "assistant", got.Messages[1].Role)
	assert.Equal(t, "user", got.Messages[2].Role)
	assert.Equal(t, "5000", got.Messages[2].Content[0].Text)
}
