package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/apperrors"
	"github.com/omnifin/backoffice/pkg/models"
)

func newTestPromptService(repo *stubPrompts, cache PromptCache) PromptService {
	return NewPromptService(repo, cache, &recordingActivity{}, zap.NewNop())
}

func TestPromptService_WelcomeFallsBackWithoutPrompt(t *testing.T) {
	s := newTestPromptService(&stubPrompts{}, &countingCache{})

	got := s.Welcome(context.Background(), "insurance", nil)
	assert.Equal(t, "Welcome to Omnifin! I'm here to help you with insurance. How can I assist you today?", got)
}

func TestPromptService_WelcomeFallsBackOnStoreError(t *testing.T) {
	s := newTestPromptService(&stubPrompts{activeErr: errors.New("pool closed")}, &countingCache{})

	assert.Equal(t, WelcomeFallback("loan"), s.Welcome(context.Background(), "loan", groupA))
}

func TestPromptService_WelcomeFallsBackOnBadTemplate(t *testing.T) {
	repo := &stubPrompts{active: &models.Prompt{ID: 3, Content: "Hello {customer_name}"}}
	s := newTestPromptService(repo, &countingCache{})

	assert.Equal(t, WelcomeFallback("loan"), s.Welcome(context.Background(), "loan", nil))
}

func TestPromptService_WelcomeCachesLookup(t *testing.T) {
	repo := &stubPrompts{active: &models.Prompt{ID: 3, Content: "About your {order_type}: hi!"}}
	cache := &countingCache{}
	s := newTestPromptService(repo, cache)
	ctx := context.Background()

	assert.Equal(t, "About your loan: hi!", s.Welcome(ctx, "loan", nil))

	// Served from the cache once the store forgets the prompt.
	repo.active = nil
	assert.Equal(t, "About your loan: hi!", s.Welcome(ctx, "loan", nil))
}

func TestPromptService_CreateInvalidatesCache(t *testing.T) {
	repo := &stubPrompts{}
	cache := &countingCache{}
	s := newTestPromptService(repo, cache)

	prompt := &models.Prompt{
		Name:       models.WelcomePromptName,
		Category:   "loan",
		PromptType: "assistant",
		Content:    "Hi {first_name}, ready to talk {order_type}?",
	}
	require.NoError(t, s.Create(context.Background(), adminUser, prompt))

	assert.Equal(t, 1, cache.invalidated)
	assert.Equal(t, []string{"first_name", "order_type"}, prompt.Variables)
	assert.Equal(t, groupA, prompt.GroupID)
}

func TestPromptService_CreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		prompt models.Prompt
	}{
		{"missing name", models.Prompt{Category: "loan", PromptType: "system", Content: "x"}},
		{"missing content", models.Prompt{Name: "n", Category: "loan", PromptType: "system"}},
		{"bad category", models.Prompt{Name: "n", Category: "crypto", PromptType: "system", Content: "x"}},
		{"bad type", models.Prompt{Name: "n", Category: "loan", PromptType: "tool", Content: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubPrompts{}
			s := newTestPromptService(repo, &countingCache{})
			err := s.Create(context.Background(), adminUser, &tt.prompt)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
			assert.Empty(t, repo.created)
		})
	}
}

func TestParseSeedPrompts(t *testing.T) {
	const doc = `
prompts:
  - name: welcome_message
    category: loan
    content: "Let's find the right {order_type} for you."
  - name: welcome_message
    category: insurance
    prompt_type: system
    content: Insurance help
`
	prompts, err := ParseSeedPrompts(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, prompts, 2)

	assert.Equal(t, "assistant", prompts[0].PromptType)
	assert.Equal(t, []string{"order_type"}, prompts[0].Variables)
	assert.True(t, prompts[0].IsActive)
	assert.Equal(t, "system", prompts[1].PromptType)
}

func TestParseSeedPrompts_Rejects(t *testing.T) {
	tests := map[string]string{
		"unknown field":    "prompts:\n  - name: a\n    category: loan\n    content: x\n    colour: red\n",
		"invalid category": "prompts:\n  - name: a\n    category: pets\n    content: x\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSeedPrompts(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseSeedPrompts_Empty(t *testing.T) {
	prompts, err := ParseSeedPrompts(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, prompts)
}

func TestPromptCacheKey(t *testing.T) {
	assert.Equal(t, "omnifin:prompts:v1:4:global:loan:welcome_message",
		promptCacheKey(4, "welcome_message", "loan", nil))
	assert.Equal(t, "omnifin:prompts:v1:0:10:insurance:welcome_message",
		promptCacheKey(0, "welcome_message", "insurance", groupA))
}
