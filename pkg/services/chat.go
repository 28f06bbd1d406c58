package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/apperrors"
	"github.com/omnifin/backoffice/pkg/llm"
	"github.com/omnifin/backoffice/pkg/logging"
	"github.com/omnifin/backoffice/pkg/metrics"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/repositories"
	"github.com/omnifin/backoffice/pkg/storage"
)

const (
	defaultOrderType = "general"
	maxOrderTypeLen  = 50

	demoVoiceTranscript  = "This is a demo transcript of your voice message."
	demoVoiceConfidence  = 0.85
	demoRecordTranscript = "Demo transcript from voice recording"
	demoRecordConfidence = 0.9
	defaultRecordSeconds = 5
	defaultLanguage      = "en"

	// VoiceReadyMessage is returned when a voice conversation opens.
	VoiceReadyMessage = "Voice chat started. Ready to receive audio."
)

// ChatStart is a freshly opened conversation and its greeting.
type ChatStart struct {
	Conversation   *models.Conversation
	WelcomeMessage *models.Message
}

// ChatExchange is one user turn and the assistant's answer.
type ChatExchange struct {
	ConversationID int64
	// Welcome is set when the exchange opened a new conversation.
	Welcome     *models.Message
	UserMessage *models.Message
	AIMessage   *models.Message
	Intent      string
	Entities    *Entities
}

// ChatStatus reports the user's current conversation, if any.
type ChatStatus struct {
	Active       bool
	Conversation *models.Conversation
}

// VoiceResult is the outcome of a voice turn.
type VoiceResult struct {
	Transcript     string  `json:"transcript"`
	AIResponse     string  `json:"ai_response"`
	Confidence     float64 `json:"confidence"`
	Duration       float64 `json:"duration"`
	Language       string  `json:"language"`
	ConversationID int64   `json:"conversation_id"`
	RecordingID    int64   `json:"recording_id"`
	MessageID      int64   `json:"message_id"`
}

// VoiceInput is an audio turn. A nil ConversationID opens a voice conversation.
type VoiceInput struct {
	ConversationID *int64
	OrderType      string
	// Duration in seconds as reported by the client, if known.
	Duration *float64
	Audio    Upload
}

// ChatService runs the assistant conversation workflow.
type ChatService interface {
	// Start opens a chat conversation and stores the welcome message.
	Start(ctx context.Context, p models.Principal, orderType string) (*ChatStart, error)
	// PostMessage stores the user's turn and the assistant's reply. With no
	// conversationID a conversation is opened first; an empty message only opens it.
	PostMessage(ctx context.Context, p models.Principal, conversationID *int64, message, orderType string) (*ChatExchange, error)
	// History lists the messages of a conversation p owns.
	History(ctx context.Context, p models.Principal, conversationID int64) ([]*models.Message, error)
	Status(ctx context.Context, p models.Principal, conversationID *int64) (*ChatStatus, error)

	VoiceStart(ctx context.Context, p models.Principal, orderType string) (*models.Conversation, error)
	// Voice stores an audio turn and answers it.
	Voice(ctx context.Context, p models.Principal, in VoiceInput) (*VoiceResult, error)
	// UploadRecording stores a voice note and its transcript.
	UploadRecording(ctx context.Context, p models.Principal, in VoiceInput) (*VoiceResult, error)
	GetRecording(ctx context.Context, p models.Principal, id int64) (*models.VoiceRecording, error)
	// OpenRecording streams the stored audio. The caller closes the reader.
	OpenRecording(ctx context.Context, p models.Principal, id int64) (*models.VoiceRecording, io.ReadCloser, string, error)

	// ProcessMessage runs the assistant on message without storing anything.
	ProcessMessage(ctx context.Context, p models.Principal, message string) (*Reply, error)
}

type chatService struct {
	convRepo    repositories.ConversationRepository
	prompts     PromptService
	responder   Responder
	transcriber llm.Transcriber
	store       storage.Store
	activity    ActivityService
	logger      *zap.Logger
}

// NewChatService creates a ChatService. transcriber may be nil, in which case
// voice turns carry a demo transcript.
func NewChatService(
	convRepo repositories.ConversationRepository,
	prompts PromptService,
	responder Responder,
	transcriber llm.Transcriber,
	store storage.Store,
	activity ActivityService,
	logger *zap.Logger,
) ChatService {
	return &chatService{
		convRepo:    convRepo,
		prompts:     prompts,
		responder:   responder,
		transcriber: transcriber,
		store:       store,
		activity:    activity,
		logger:      logger.Named("chat"),
	}
}

var _ ChatService = (*chatService)(nil)

func normalizeOrderType(orderType string) (string, error) {
	orderType = strings.TrimSpace(orderType)
	if orderType == "" {
		return defaultOrderType, nil
	}
	if len(orderType) > maxOrderTypeLen {
		return "", validationError("order_type is too long")
	}
	return orderType, nil
}

func (s *chatService) Start(ctx context.Context, p models.Principal, orderType string) (*ChatStart, error) {
	orderType, err := normalizeOrderType(orderType)
	if err != nil {
		return nil, err
	}
	conv, err := openConversation(ctx, s.convRepo, s.activity, p, models.ConversationTypeChat,
		map[string]any{"order_type": orderType})
	if err != nil {
		s.logger.Error("Failed to open conversation", zap.Int64("user_id", p.UserID), zap.Error(err))
		return nil, err
	}

	welcome := &models.Message{
		ConversationID: conv.ID,
		SenderType:     models.SenderAI,
		MessageType:    models.MessageText,
		Content:        s.prompts.Welcome(ctx, orderType, p.GroupID),
		Metadata:       map[string]any{"type": "welcome"},
	}
	if err := s.convRepo.AddMessage(ctx, welcome); err != nil {
		s.logger.Error("Failed to store welcome message", zap.Int64("conversation_id", conv.ID), zap.Error(err))
		return nil, err
	}
	conv.MessageCount = 1

	s.logger.Info("Chat started", zap.Int64("conversation_id", conv.ID), zap.String("order_type", orderType))
	return &ChatStart{Conversation: conv, WelcomeMessage: welcome}, nil
}

func (s *chatService) PostMessage(ctx context.Context, p models.Principal, conversationID *int64, message, orderType string) (*ChatExchange, error) {
	exchange := &ChatExchange{}

	var conv *models.Conversation
	if conversationID != nil {
		var err error
		conv, err = s.convRepo.GetOwned(ctx, p.UserID, *conversationID)
		if err != nil {
			return nil, err
		}
	} else {
		start, err := s.Start(ctx, p, orderType)
		if err != nil {
			return nil, err
		}
		conv = start.Conversation
		exchange.Welcome = start.WelcomeMessage
	}
	exchange.ConversationID = conv.ID

	if strings.TrimSpace(message) == "" {
		return exchange, nil
	}

	userMsg := &models.Message{
		ConversationID: conv.ID,
		SenderType:     models.SenderUser,
		SenderID:       ptr(p.UserID),
		MessageType:    models.MessageText,
		Content:        message,
	}
	if err := s.convRepo.AddMessage(ctx, userMsg); err != nil {
		s.logger.Error("Failed to store user message", zap.Int64("conversation_id", conv.ID), zap.Error(err))
		return nil, err
	}
	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionChatMessage,
		ResourceType: "message",
		ResourceID:   ptr(userMsg.ID),
		Metadata:     map[string]any{"conversation_id": conv.ID},
	})

	reply := s.answer(ctx, conv.ID, message, p.GroupID)
	aiMsg := &models.Message{
		ConversationID: conv.ID,
		SenderType:     models.SenderAI,
		MessageType:    models.MessageText,
		Content:        reply.Text,
		Metadata:       reply.Metadata,
	}
	if err := s.convRepo.AddMessage(ctx, aiMsg); err != nil {
		s.logger.Error("Failed to store assistant message", zap.Int64("conversation_id", conv.ID), zap.Error(err))
		return nil, err
	}

	exchange.UserMessage = userMsg
	exchange.AIMessage = aiMsg
	exchange.Intent = reply.Intent
	exchange.Entities = &reply.Entities
	return exchange, nil
}

// answer never fails: a responder error becomes the apology reply.
func (s *chatService) answer(ctx context.Context, conversationID int64, message string, groupID *int64) *Reply {
	reply, err := s.responder.Generate(ctx, conversationID, message, groupID)
	if err == nil {
		return reply
	}
	metrics.RecordReply(metrics.SourceError)
	s.logger.Error("Assistant failed to reply",
		zap.Int64("conversation_id", conversationID),
		zap.String("message", logging.MessagePreview(message)),
		zap.Error(err))
	return &Reply{
		Text:     ApologyReply,
		Intent:   IntentError,
		Entities: Entities{ContactInfo: ContactInfo{Emails: []string{}, Phones: []string{}}},
		Metadata: map[string]any{"error": logging.SanitizeError(err)},
	}
}

func (s *chatService) History(ctx context.Context, p models.Principal, conversationID int64) ([]*models.Message, error) {
	if _, err := s.convRepo.GetOwned(ctx, p.UserID, conversationID); err != nil {
		return nil, err
	}
	return s.convRepo.ListMessages(ctx, conversationID, repositories.Page{})
}

func (s *chatService) Status(ctx context.Context, p models.Principal, conversationID *int64) (*ChatStatus, error) {
	var (
		conv *models.Conversation
		err  error
	)
	if conversationID != nil {
		conv, err = s.convRepo.GetOwned(ctx, p.UserID, *conversationID)
		if err != nil {
			return nil, err
		}
	} else {
		conv, err = s.convRepo.GetLatestForUser(ctx, p.UserID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return &ChatStatus{Active: false}, nil
			}
			return nil, err
		}
	}
	return &ChatStatus{Active: true, Conversation: conv}, nil
}

func (s *chatService) VoiceStart(ctx context.Context, p models.Principal, orderType string) (*models.Conversation, error) {
	orderType, err := normalizeOrderType(orderType)
	if err != nil {
		return nil, err
	}
	conv, err := openConversation(ctx, s.convRepo, s.activity, p, models.ConversationTypeVoice,
		map[string]any{"order_type": orderType})
	if err != nil {
		s.logger.Error("Failed to open voice conversation", zap.Int64("user_id", p.UserID), zap.Error(err))
		return nil, err
	}
	return conv, nil
}

func (s *chatService) Voice(ctx context.Context, p models.Principal, in VoiceInput) (*VoiceResult, error) {
	return s.storeVoice(ctx, p, in, demoVoiceTranscript, demoVoiceConfidence, func(transcript string, _ float64) string {
		return fmt.Sprintf("I heard you say: '%s'. How can I help you with that?", transcript)
	})
}

func (s *chatService) UploadRecording(ctx context.Context, p models.Principal, in VoiceInput) (*VoiceResult, error) {
	return s.storeVoice(ctx, p, in, demoRecordTranscript, demoRecordConfidence, func(transcript string, duration float64) string {
		return fmt.Sprintf("I processed your %s-second voice note. Here's what I heard: \"%s\"",
			formatSeconds(duration), transcript)
	})
}

// formatSeconds renders a duration rounded to two decimals, always with a
// fractional part: 5 -> "5.0", 3.14159 -> "3.14".
func formatSeconds(d float64) string {
	out := strconv.FormatFloat(math.Round(d*100)/100, 'f', -1, 64)
	if !strings.Contains(out, ".") {
		out += ".0"
	}
	return out
}

// storeVoice keeps the audio, transcribes it, and appends the user's audio message
// with its recording plus the assistant's acknowledgement.
func (s *chatService) storeVoice(
	ctx context.Context,
	p models.Principal,
	in VoiceInput,
	demoTranscript string,
	demoConfidence float64,
	acknowledge func(transcript string, duration float64) string,
) (*VoiceResult, error) {
	conv, err := s.voiceConversation(ctx, p, in)
	if err != nil {
		return nil, err
	}

	// The transcriber consumes the audio, so it is buffered once and replayed.
	audio, err := io.ReadAll(in.Audio.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	in.Audio.Body = bytes.NewReader(audio)
	in.Audio.Size = int64(len(audio))

	obj, err := putUpload(ctx, s.store, storage.PrefixRecordings, in.Audio, isAudio)
	if err != nil {
		return nil, err
	}

	result := &VoiceResult{
		Transcript:     demoTranscript,
		Confidence:     demoConfidence,
		Duration:       defaultRecordSeconds,
		Language:       defaultLanguage,
		ConversationID: conv.ID,
	}
	if in.Duration != nil && *in.Duration > 0 && !math.IsInf(*in.Duration, 0) {
		result.Duration = math.Round(*in.Duration*100) / 100
	}
	s.transcribe(ctx, in.Audio.Filename, audio, result)
	result.AIResponse = acknowledge(result.Transcript, result.Duration)

	userMsg := &models.Message{
		ConversationID: conv.ID,
		SenderType:     models.SenderUser,
		SenderID:       ptr(p.UserID),
		MessageType:    models.MessageAudio,
		Content:        result.Transcript,
		Metadata:       map[string]any{"mime_type": obj.MimeType},
	}
	if err := s.convRepo.AddMessage(ctx, userMsg); err != nil {
		s.logger.Error("Failed to store voice message", zap.Int64("conversation_id", conv.ID), zap.Error(err))
		discard(ctx, s.store, obj.Key, s.logger)
		return nil, err
	}
	rec := &models.VoiceRecording{
		MessageID:       userMsg.ID,
		StorageKey:      obj.Key,
		Duration:        result.Duration,
		Transcript:      result.Transcript,
		Language:        result.Language,
		ConfidenceScore: result.Confidence,
	}
	if err := s.convRepo.CreateRecording(ctx, rec); err != nil {
		s.logger.Error("Failed to store voice recording", zap.Int64("message_id", userMsg.ID), zap.Error(err))
		discard(ctx, s.store, obj.Key, s.logger)
		return nil, err
	}

	aiMsg := &models.Message{
		ConversationID: conv.ID,
		SenderType:     models.SenderAI,
		MessageType:    models.MessageText,
		Content:        result.AIResponse,
		Metadata:       map[string]any{"recording_id": rec.ID},
	}
	if err := s.convRepo.AddMessage(ctx, aiMsg); err != nil {
		s.logger.Error("Failed to store voice reply", zap.Int64("conversation_id", conv.ID), zap.Error(err))
		return nil, err
	}

	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionChatMessage,
		ResourceType: "message",
		ResourceID:   ptr(userMsg.ID),
		Metadata:     map[string]any{"conversation_id": conv.ID, "voice": true},
	})
	result.RecordingID = rec.ID
	result.MessageID = userMsg.ID
	return result, nil
}

func (s *chatService) voiceConversation(ctx context.Context, p models.Principal, in VoiceInput) (*models.Conversation, error) {
	if in.ConversationID != nil {
		return s.convRepo.GetOwned(ctx, p.UserID, *in.ConversationID)
	}
	return s.VoiceStart(ctx, p, in.OrderType)
}

// transcribe fills result from the provider when one is configured. Failures keep
// the demo transcript.
func (s *chatService) transcribe(ctx context.Context, filename string, audio []byte, result *VoiceResult) {
	if s.transcriber == nil {
		return
	}
	t, err := s.transcriber.Transcribe(ctx, filename, bytes.NewReader(audio), result.Language)
	if err != nil {
		s.logger.Warn("Transcription failed, using demo transcript", zap.String("error", logging.SanitizeError(err)))
		return
	}
	if strings.TrimSpace(t.Text) == "" {
		return
	}
	result.Transcript = t.Text
	if t.Confidence > 0 {
		result.Confidence = t.Confidence
	}
	if t.Language != "" {
		result.Language = t.Language
	}
	if t.Duration > 0 {
		result.Duration = math.Round(t.Duration*100) / 100
	}
}

// isAudio accepts audio kinds plus webm, which browsers record voice into and
// which sniffs as video.
func isAudio(s *storage.Sniffed) bool {
	return s.Kind == models.FileTypeAudio || strings.HasPrefix(s.MimeType, "video/webm")
}

func (s *chatService) GetRecording(ctx context.Context, p models.Principal, id int64) (*models.VoiceRecording, error) {
	return s.convRepo.GetRecording(ctx, p, id)
}

func (s *chatService) OpenRecording(ctx context.Context, p models.Principal, id int64) (*models.VoiceRecording, io.ReadCloser, string, error) {
	rec, err := s.convRepo.GetRecording(ctx, p, id)
	if err != nil {
		return nil, nil, "", err
	}
	rc, contentType, err := s.store.Get(ctx, rec.StorageKey)
	if err != nil {
		s.logger.Error("Failed to open recording", zap.Int64("recording_id", id), zap.Error(err))
		return nil, nil, "", err
	}
	return rec, rc, contentType, nil
}

func (s *chatService) ProcessMessage(ctx context.Context, p models.Principal, message string) (*Reply, error) {
	if strings.TrimSpace(message) == "" {
		return nil, validationError("message is required")
	}
	return s.answer(ctx, 0, message, p.GroupID), nil
}
