package services

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/apperrors"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/repositories"
)

// ConversationService manages conversations and their messages outside the
// assistant workflow: listing, ending, status moves and agent messages.
type ConversationService interface {
	Create(ctx context.Context, p models.Principal, convType string, metadata map[string]any) (*models.Conversation, error)
	Get(ctx context.Context, p models.Principal, id int64) (*models.Conversation, error)
	List(ctx context.Context, p models.Principal, filter repositories.ConversationFilter) ([]*models.Conversation, error)

	// End closes the conversation. Only the first call stamps ended_at and duration.
	End(ctx context.Context, p models.Principal, id int64) (*models.Conversation, error)
	// SetStatus moves an active conversation to transferred or waiting.
	SetStatus(ctx context.Context, p models.Principal, id int64, status string) (*models.Conversation, error)

	Messages(ctx context.Context, p models.Principal, conversationID int64, page repositories.Page) ([]*models.Message, error)
	// SendMessage appends a message without asking the assistant.
	SendMessage(ctx context.Context, p models.Principal, conversationID int64, msg *models.Message) error
	GetMessage(ctx context.Context, p models.Principal, id int64) (*models.Message, error)
}

type conversationService struct {
	repo     repositories.ConversationRepository
	activity ActivityService
	logger   *zap.Logger
	now      func() time.Time
}

func NewConversationService(repo repositories.ConversationRepository, activity ActivityService, logger *zap.Logger) ConversationService {
	return &conversationService{
		repo:     repo,
		activity: activity,
		logger:   logger.Named("conversations"),
		now:      time.Now,
	}
}

var _ ConversationService = (*conversationService)(nil)

func (s *conversationService) Create(ctx context.Context, p models.Principal, convType string, metadata map[string]any) (*models.Conversation, error) {
	if convType == "" {
		convType = models.ConversationTypeChat
	}
	if convType != models.ConversationTypeChat && convType != models.ConversationTypeVoice {
		return nil, validationError("invalid conversation type %q", convType)
	}
	return openConversation(ctx, s.repo, s.activity, p, convType, metadata)
}

// openConversation creates an active conversation for p and records the start.
func openConversation(
	ctx context.Context,
	repo repositories.ConversationRepository,
	activity ActivityService,
	p models.Principal,
	convType string,
	metadata map[string]any,
) (*models.Conversation, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	conv := &models.Conversation{
		UserID:   p.UserID,
		GroupID:  p.GroupID,
		Type:     convType,
		Status:   models.ConversationActive,
		Metadata: metadata,
	}
	if err := repo.Create(ctx, conv); err != nil {
		return nil, err
	}

	action := models.ActionChatStart
	if convType == models.ConversationTypeVoice {
		action = models.ActionVoiceStart
	}
	activity.Record(ctx, p, ActivityEvent{
		Action:       action,
		ResourceType: "conversation",
		ResourceID:   ptr(conv.ID),
		Metadata:     map[string]any{"order_type": conv.OrderType()},
	})
	return conv, nil
}

func (s *conversationService) Get(ctx context.Context, p models.Principal, id int64) (*models.Conversation, error) {
	return s.repo.Get(ctx, p, id)
}

func (s *conversationService) List(ctx context.Context, p models.Principal, filter repositories.ConversationFilter) ([]*models.Conversation, error) {
	if filter.Status != "" && !models.Contains(models.ValidConversationStatuses, filter.Status) {
		return nil, validationError("invalid status %q", filter.Status)
	}
	return s.repo.List(ctx, p, filter)
}

func (s *conversationService) End(ctx context.Context, p models.Principal, id int64) (*models.Conversation, error) {
	if _, err := s.repo.Get(ctx, p, id); err != nil {
		return nil, err
	}
	ended, err := s.repo.End(ctx, id, s.now())
	if err != nil {
		s.logger.Error("Failed to end conversation", zap.Int64("conversation_id", id), zap.Error(err))
		return nil, err
	}
	if ended {
		s.logger.Info("Conversation ended", zap.Int64("conversation_id", id))
	}
	return s.repo.Get(ctx, p, id)
}

func (s *conversationService) SetStatus(ctx context.Context, p models.Principal, id int64, status string) (*models.Conversation, error) {
	if !models.Contains(models.ValidConversationStatuses, status) {
		return nil, apperrors.ErrInvalidStatus
	}
	if status != models.ConversationTransferred && status != models.ConversationWaiting {
		return nil, apperrors.ErrInvalidTransition
	}
	if _, err := s.repo.Get(ctx, p, id); err != nil {
		return nil, err
	}
	if err := s.repo.SetStatus(ctx, id, models.ConversationActive, status); err != nil {
		return nil, err
	}

	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionUpdate,
		ResourceType: "conversation",
		ResourceID:   ptr(id),
		Metadata:     map[string]any{"status": status},
	})
	s.logger.Info("Conversation status changed", zap.Int64("conversation_id", id), zap.String("status", status))
	return s.repo.Get(ctx, p, id)
}

func (s *conversationService) Messages(ctx context.Context, p models.Principal, conversationID int64, page repositories.Page) ([]*models.Message, error) {
	if _, err := s.repo.Get(ctx, p, conversationID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, conversationID, page)
}

func (s *conversationService) SendMessage(ctx context.Context, p models.Principal, conversationID int64, msg *models.Message) error {
	if strings.TrimSpace(msg.Content) == "" && msg.FileURL == "" {
		return validationError("message content is required")
	}
	if msg.MessageType == "" {
		msg.MessageType = models.MessageText
	}
	if !models.Contains(models.ValidMessageTypes, msg.MessageType) {
		return validationError("invalid message type %q", msg.MessageType)
	}
	conv, err := s.repo.Get(ctx, p, conversationID)
	if err != nil {
		return err
	}
	if conv.EndedAt != nil {
		return apperrors.ErrInvalidTransition
	}

	// The owner speaks as the user; staff reaching the conversation through
	// their role speak as an agent.
	msg.SenderType = models.SenderUser
	if conv.UserID != p.UserID {
		msg.SenderType = models.SenderAgent
	}
	msg.ConversationID = conversationID
	msg.SenderID = ptr(p.UserID)

	if err := s.repo.AddMessage(ctx, msg); err != nil {
		s.logger.Error("Failed to add message", zap.Int64("conversation_id", conversationID), zap.Error(err))
		return err
	}
	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionChatMessage,
		ResourceType: "message",
		ResourceID:   ptr(msg.ID),
		Metadata:     map[string]any{"conversation_id": conversationID},
	})
	return nil
}

func (s *conversationService) GetMessage(ctx context.Context, p models.Principal, id int64) (*models.Message, error) {
	return s.repo.GetMessage(ctx, p, id)
}
