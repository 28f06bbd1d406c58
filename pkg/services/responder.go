package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/llm"
	"github.com/omnifin/backoffice/pkg/logging"
	"github.com/omnifin/backoffice/pkg/metrics"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/repositories"
	"github.com/omnifin/backoffice/pkg/retry"
)

const (
	contextMessages  = 5
	knowledgeMatches = 3
	replyConfidence  = 0.8

	systemInstruction = "You are an AI assistant for Omnifin, a financial services platform. " +
		"You help users with loans and insurance inquiries. Be helpful, professional, and accurate."

	// ApologyReply is stored as the assistant turn when a reply cannot be produced.
	ApologyReply = "I apologize, but I'm having trouble processing your request. Please try again."
	IntentError  = "error"
)

// Intents.
const (
	IntentLoanInquiry      = "loan_inquiry"
	IntentInsuranceInquiry = "insurance_inquiry"
	IntentGeneralInfo      = "general_info"
	IntentGreeting         = "greeting"
	IntentGoodbye          = "goodbye"
)

// intentKeywords is checked in order; the first intent with a keyword contained
// in the lowercased message wins.
var intentKeywords = []struct {
	intent   string
	keywords []string
}{
	{IntentLoanInquiry, []string{"loan", "borrow", "lend", "credit"}},
	{IntentInsuranceInquiry, []string{"insurance", "policy", "coverage", "claim"}},
	{IntentGeneralInfo, []string{"information", "help", "what", "how"}},
	{IntentGreeting, []string{"hello", "hi", "hey", "good morning", "good afternoon"}},
	{IntentGoodbye, []string{"bye", "goodbye", "see you", "thanks"}},
}

var (
	amountPattern    = regexp.MustCompile(`\$?\d+(?:,\d{3})*(?:\.\d{2})?`)
	timeframePattern = regexp.MustCompile(`(?i)\b(\d+)\s*(days?|weeks?|months?|years?)\b`)
	emailPattern     = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phonePattern     = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)
)

// ContactInfo holds the emails and phone numbers found in a message.
type ContactInfo struct {
	Emails []string `json:"emails"`
	Phones []string `json:"phones"`
}

// Entities are the values extracted from a message. Amount and Timeframe are
// nil when absent; Timeframe is [number, unit].
type Entities struct {
	Amount      *string     `json:"amount"`
	Timeframe   []string    `json:"timeframe"`
	ContactInfo ContactInfo `json:"contact_info"`
}

// KnowledgeRef is a knowledge entry that informed a reply.
type KnowledgeRef struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Category string `json:"category"`
}

// Reply is the assistant's answer to one message.
type Reply struct {
	Text     string         `json:"response"`
	Intent   string         `json:"intent"`
	Entities Entities       `json:"entities"`
	Metadata map[string]any `json:"metadata"`
}

// Responder produces assistant replies.
type Responder interface {
	// Generate answers message. conversationID 0 skips the conversation context.
	// An error means no reply could be built; callers fall back to ApologyReply.
	Generate(ctx context.Context, conversationID int64, message string, groupID *int64) (*Reply, error)
}

type responder struct {
	convRepo      repositories.ConversationRepository
	knowledgeRepo repositories.KnowledgeRepository
	client        llm.LLMClient
	cfg           llm.Config
	retryDelay    time.Duration
	logger        *zap.Logger
}

// NewResponder creates a Responder. client may be nil, in which case every reply
// uses the offline template.
func NewResponder(
	convRepo repositories.ConversationRepository,
	knowledgeRepo repositories.KnowledgeRepository,
	client llm.LLMClient,
	cfg llm.Config,
	logger *zap.Logger,
) Responder {
	return &responder{
		convRepo:      convRepo,
		knowledgeRepo: knowledgeRepo,
		client:        client,
		cfg:           cfg,
		retryDelay:    500 * time.Millisecond,
		logger:        logger.Named("responder"),
	}
}

var _ Responder = (*responder)(nil)

func (r *responder) Generate(ctx context.Context, conversationID int64, message string, groupID *int64) (*Reply, error) {
	var history []llm.ChatMessage
	if conversationID != 0 {
		recent, err := r.convRepo.RecentMessages(ctx, conversationID, contextMessages)
		if err != nil {
			r.logger.Error("Failed to load conversation context",
				zap.Int64("conversation_id", conversationID),
				zap.Error(err))
			return nil, fmt.Errorf("load context: %w", err)
		}
		history = chatHistory(recent)
	}

	knowledge := r.relevantKnowledge(ctx, message, groupID)

	text, source := r.reply(ctx, message, history, knowledge)
	metrics.RecordReply(source)

	return &Reply{
		Text:     text,
		Intent:   DetectIntent(message),
		Entities: ExtractEntities(message),
		Metadata: map[string]any{
			"knowledge_used": knowledge,
			"confidence":     replyConfidence,
			"source":         source,
		},
	}, nil
}

func chatHistory(msgs []*models.Message) []llm.ChatMessage {
	history := make([]llm.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		role := llm.RoleAssistant
		if m.SenderType == models.SenderUser {
			role = llm.RoleUser
		}
		history = append(history, llm.ChatMessage{Role: role, Content: m.Content})
	}
	return history
}

// relevantKnowledge keeps active entries whose title or content contains any
// whitespace token of the message. Lookup failures yield no knowledge.
func (r *responder) relevantKnowledge(ctx context.Context, message string, groupID *int64) []KnowledgeRef {
	refs := make([]KnowledgeRef, 0, knowledgeMatches)
	tokens := strings.Fields(strings.ToLower(message))
	if len(tokens) == 0 {
		return refs
	}

	entries, err := r.knowledgeRepo.ActiveForGroup(ctx, groupID)
	if err != nil {
		r.logger.Warn("Knowledge unavailable, replying without it", zap.Error(err))
		return refs
	}

	for _, e := range entries {
		text := strings.ToLower(e.Title + " " + e.Content)
		for _, tok := range tokens {
			if strings.Contains(text, tok) {
				refs = append(refs, KnowledgeRef{Title: e.Title, Content: e.Content, Category: e.Category})
				break
			}
		}
		if len(refs) == knowledgeMatches {
			break
		}
	}
	return refs
}

func (r *responder) reply(ctx context.Context, message string, history []llm.ChatMessage, knowledge []KnowledgeRef) (string, string) {
	if r.client == nil {
		return FallbackReply(message, knowledge), metrics.SourceFallback
	}

	req := llm.ChatRequest{
		System:      systemPrompt(knowledge),
		History:     history,
		Message:     message,
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
	}

	start := time.Now()
	text, err := retry.DoIfRetryable(ctx, retry.Fixed(r.cfg.MaxRetries, r.retryDelay), func() (string, error) {
		callCtx := ctx
		if r.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
			defer cancel()
		}
		out, err := r.client.Chat(callCtx, req)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(out) == "" {
			return "", errors.New("provider returned an empty reply")
		}
		return out, nil
	})
	metrics.ProviderDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		r.logger.Warn("Provider reply failed, using offline template",
			zap.String("model", r.client.GetModel()),
			zap.String("error_type", string(llm.GetErrorType(err))),
			zap.String("message", logging.MessagePreview(message)),
			zap.String("error", logging.SanitizeError(err)))
		return FallbackReply(message, knowledge), metrics.SourceFallback
	}
	return text, metrics.SourceProvider
}

func systemPrompt(knowledge []KnowledgeRef) string {
	if len(knowledge) == 0 {
		return systemInstruction
	}
	contents := make([]string, len(knowledge))
	for i, k := range knowledge {
		contents[i] = k.Content
	}
	return systemInstruction + "\n\nRelevant information:\n" + strings.Join(contents, "\n")
}

// FallbackReply is the offline answer. It echoes the message and cites the first
// knowledge match, if any.
func FallbackReply(message string, knowledge []KnowledgeRef) string {
	snippet := ""
	if len(knowledge) > 0 {
		snippet = fmt.Sprintf("\n\nHere's something related that may help: %s - %s", knowledge[0].Title, knowledge[0].Content)
	}
	return "Thanks for reaching out to Omnifin. I'm currently running in offline mode, so this is a simplified response. " +
		"You said: \"" + message + "\"." + snippet + "\n\n" +
		"If you need more detailed assistance, please provide a bit more context and I'll do my best to help."
}

// DetectIntent classifies message by keyword.
func DetectIntent(message string) string {
	lower := strings.ToLower(message)
	for _, ik := range intentKeywords {
		for _, kw := range ik.keywords {
			if strings.Contains(lower, kw) {
				return ik.intent
			}
		}
	}
	return IntentGeneralInfo
}

// ExtractEntities pulls amounts, timeframes and contact details out of message.
func ExtractEntities(message string) Entities {
	e := Entities{
		ContactInfo: ContactInfo{
			Emails: emailPattern.FindAllString(message, -1),
			Phones: phonePattern.FindAllString(message, -1),
		},
	}
	if e.ContactInfo.Emails == nil {
		e.ContactInfo.Emails = []string{}
	}
	if e.ContactInfo.Phones == nil {
		e.ContactInfo.Phones = []string{}
	}
	if amount := amountPattern.FindString(message); amount != "" {
		e.Amount = &amount
	}
	if m := timeframePattern.FindStringSubmatch(message); m != nil {
		e.Timeframe = []string{m[1], m[2]}
	}
	return e
}
