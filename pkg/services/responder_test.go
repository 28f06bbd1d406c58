package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/llm"
	"github.com/omnifin/backoffice/pkg/models"
)

func newTestResponder(convs *memConversations, knowledge *stubKnowledge, client llm.LLMClient) *responder {
	r := NewResponder(convs, knowledge, client, llm.Config{Timeout: time.Second, MaxRetries: 1}, zap.NewNop()).(*responder)
	r.retryDelay = time.Millisecond
	return r
}

func TestDetectIntent(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"I need a loan of $5000 for 6 months", IntentLoanInquiry},
		{"Does my policy include flood coverage?", IntentInsuranceInquiry},
		{"How does this work", IntentGeneralInfo},
		{"Hello there", IntentGreeting},
		{"Goodbye", IntentGoodbye},
		{"12345", IntentGeneralInfo},
		// loan keywords win over insurance ones.
		{"credit insurance", IntentLoanInquiry},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectIntent(tt.message))
		})
	}
}

func TestExtractEntities_LoanMessage(t *testing.T) {
	e := ExtractEntities("I need a loan of $5000 for 6 months")

	require.NotNil(t, e.Amount)
	assert.Equal(t, "$5000", *e.Amount)
	assert.Equal(t, []string{"6", "months"}, e.Timeframe)
	assert.Empty(t, e.ContactInfo.Emails)
	assert.Empty(t, e.ContactInfo.Phones)
}

func TestExtractEntities_Contacts(t *testing.T) {
	e := ExtractEntities("reach me at jane.doe@example.com or 555-123-4567")

	assert.Equal(t, []string{"jane.doe@example.com"}, e.ContactInfo.Emails)
	assert.Equal(t, []string{"555-123-4567"}, e.ContactInfo.Phones)
	assert.Nil(t, e.Timeframe)
}

func TestExtractEntities_NothingFound(t *testing.T) {
	e := ExtractEntities("just browsing")

	assert.Nil(t, e.Amount)
	assert.Nil(t, e.Timeframe)
	assert.NotNil(t, e.ContactInfo.Emails)
	assert.NotNil(t, e.ContactInfo.Phones)
}

func TestResponder_NoProviderUsesFallback(t *testing.T) {
	r := newTestResponder(newMemConversations(), &stubKnowledge{}, nil)

	reply, err := r.Generate(context.Background(), 0, "I need a loan", nil)
	require.NoError(t, err)

	assert.Contains(t, reply.Text, `You said: "I need a loan".`)
	assert.Equal(t, IntentLoanInquiry, reply.Intent)
	assert.Equal(t, "fallback", reply.Metadata["source"])
	assert.Equal(t, replyConfidence, reply.Metadata["confidence"])
}

func TestResponder_FallbackCitesFirstKnowledgeMatch(t *testing.T) {
	knowledge := &stubKnowledge{entries: []*models.KnowledgeEntry{
		{Title: "Mortgage rates", Content: "Fixed rates start at 5%."},
		{Title: "Car loans", Content: "Up to 84 months."},
		{Title: "Travel insurance", Content: "Covers trip cancellation."},
	}}
	r := newTestResponder(newMemConversations(), knowledge, nil)

	reply, err := r.Generate(context.Background(), 0, "car loans please", nil)
	require.NoError(t, err)

	assert.Contains(t, reply.Text, "Car loans - Up to 84 months.")
	refs := reply.Metadata["knowledge_used"].([]KnowledgeRef)
	require.Len(t, refs, 1)
	assert.Equal(t, "Car loans", refs[0].Title)
}

func TestResponder_KnowledgeCappedAtThree(t *testing.T) {
	var entries []*models.KnowledgeEntry
	for i := 0; i < 5; i++ {
		entries = append(entries, &models.KnowledgeEntry{Title: "rates", Content: "loan rates"})
	}
	r := newTestResponder(newMemConversations(), &stubKnowledge{entries: entries}, nil)

	reply, err := r.Generate(context.Background(), 0, "rates", nil)
	require.NoError(t, err)
	assert.Len(t, reply.Metadata["knowledge_used"].([]KnowledgeRef), 3)
}

func TestResponder_KnowledgeErrorIsIgnored(t *testing.T) {
	r := newTestResponder(newMemConversations(), &stubKnowledge{err: errors.New("db down")}, nil)

	reply, err := r.Generate(context.Background(), 0, "hello", nil)
	require.NoError(t, err)
	assert.Empty(t, reply.Metadata["knowledge_used"])
}

func TestResponder_ProviderReplySendsContext(t *testing.T) {
	convs := newMemConversations()
	ctx := context.Background()
	conv := &models.Conversation{UserID: 1}
	require.NoError(t, convs.Create(ctx, conv))
	for _, m := range []*models.Message{
		{ConversationID: conv.ID, SenderType: models.SenderAI, Content: "welcome"},
		{ConversationID: conv.ID, SenderType: models.SenderUser, Content: "hi"},
		{ConversationID: conv.ID, SenderType: models.SenderSystem, Content: "internal"},
	} {
		require.NoError(t, convs.AddMessage(ctx, m))
	}

	client := llm.NewMockLLMClient()
	client.ChatFunc = func(context.Context, llm.ChatRequest) (string, error) {
		return "Happy to help with your loan.", nil
	}
	r := newTestResponder(convs, &stubKnowledge{}, client)

	reply, err := r.Generate(ctx, conv.ID, "tell me about loans", nil)
	require.NoError(t, err)

	assert.Equal(t, "Happy to help with your loan.", reply.Text)
	assert.Equal(t, "provider", reply.Metadata["source"])
	require.Len(t, client.Requests, 1)
	req := client.Requests[0]
	assert.Equal(t, []llm.ChatMessage{
		{Role: llm.RoleAssistant, Content: "welcome"},
		{Role: llm.RoleUser, Content: "hi"},
	}, req.History)
	assert.Equal(t, "tell me about loans", req.Message)
}

func TestResponder_RetriesOnceOnRetryableError(t *testing.T) {
	client := llm.NewMockLLMClient()
	client.ChatFunc = func(context.Context, llm.ChatRequest) (string, error) {
		return "", llm.NewError(llm.ErrorTypeRateLimit, "slow down", true, nil)
	}
	r := newTestResponder(newMemConversations(), &stubKnowledge{}, client)

	reply, err := r.Generate(context.Background(), 0, "any loans?", nil)
	require.NoError(t, err)

	assert.Equal(t, 2, client.ChatCalls)
	assert.Contains(t, reply.Text, "any loans?")
	assert.Equal(t, "fallback", reply.Metadata["source"])
}

func TestResponder_RetriesUpToConfiguredLimit(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		wantCalls  int
	}{
		{"disabled", 0, 1},
		{"negative treated as disabled", -2, 1},
		{"three retries", 3, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := llm.NewMockLLMClient()
			client.ChatFunc = func(context.Context, llm.ChatRequest) (string, error) {
				return "", llm.NewError(llm.ErrorTypeRateLimit, "slow down", true, nil)
			}
			r := newTestResponder(newMemConversations(), &stubKnowledge{}, client)
			r.cfg.MaxRetries = tt.maxRetries

			reply, err := r.Generate(context.Background(), 0, "any loans?", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCalls, client.ChatCalls)
			assert.Equal(t, "fallback", reply.Metadata["source"])
		})
	}
}

func TestResponder_DoesNotRetryAuthError(t *testing.T) {
	client := llm.NewMockLLMClient()
	client.ChatFunc = func(context.Context, llm.ChatRequest) (string, error) {
		return "", llm.NewError(llm.ErrorTypeAuth, "bad key", false, nil)
	}
	r := newTestResponder(newMemConversations(), &stubKnowledge{}, client)

	reply, err := r.Generate(context.Background(), 0, "hello", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, client.ChatCalls)
	assert.True(t, strings.HasPrefix(reply.Text, "Thanks for reaching out to Omnifin."))
}

func TestResponder_EmptyProviderReplyFallsBack(t *testing.T) {
	client := llm.NewMockLLMClient()
	client.ChatFunc = func(context.Context, llm.ChatRequest) (string, error) { return "  ", nil }
	r := newTestResponder(newMemConversations(), &stubKnowledge{}, client)

	reply, err := r.Generate(context.Background(), 0, "hello", nil)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, `You said: "hello".`)
}

func TestResponder_ContextLoadErrorFails(t *testing.T) {
	convs := newMemConversations()
	convs.recentErr = errors.New("connection reset")
	r := newTestResponder(convs, &stubKnowledge{}, nil)

	_, err := r.Generate(context.Background(), 7, "hello", nil)
	assert.Error(t, err)
}
