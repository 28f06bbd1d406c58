package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/repositories"
)

// NotificationService reads and acknowledges notifications and lets other
// services push new ones.
type NotificationService interface {
	List(ctx context.Context, p models.Principal, unreadOnly bool, page repositories.Page) ([]*models.Notification, error)
	Get(ctx context.Context, p models.Principal, id int64) (*models.Notification, error)
	MarkRead(ctx context.Context, p models.Principal, id int64) error
	MarkAllRead(ctx context.Context, p models.Principal) (int64, error)
	UnreadCount(ctx context.Context, p models.Principal) (int64, error)

	// Broadcast creates a notification on behalf of an admin. A nil UserID
	// addresses the whole group.
	Broadcast(ctx context.Context, p models.Principal, n *models.Notification) error

	// Notify creates a system notification. Failures are logged, never returned.
	Notify(ctx context.Context, n *models.Notification)
}

type notificationService struct {
	repo   repositories.NotificationRepository
	logger *zap.Logger
}

func NewNotificationService(repo repositories.NotificationRepository, logger *zap.Logger) NotificationService {
	return &notificationService{
		repo:   repo,
		logger: logger.Named("notifications"),
	}
}

var _ NotificationService = (*notificationService)(nil)

func (s *notificationService) List(ctx context.Context, p models.Principal, unreadOnly bool, page repositories.Page) ([]*models.Notification, error) {
	return s.repo.List(ctx, p, unreadOnly, page)
}

func (s *notificationService) Get(ctx context.Context, p models.Principal, id int64) (*models.Notification, error) {
	return s.repo.Get(ctx, p, id)
}

func (s *notificationService) MarkRead(ctx context.Context, p models.Principal, id int64) error {
	return s.repo.MarkRead(ctx, p, id)
}

func (s *notificationService) MarkAllRead(ctx context.Context, p models.Principal) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, p)
	if err != nil {
		s.logger.Error("Failed to mark notifications read", zap.Int64("user_id", p.UserID), zap.Error(err))
		return 0, err
	}
	return n, nil
}

func (s *notificationService) UnreadCount(ctx context.Context, p models.Principal) (int64, error) {
	return s.repo.UnreadCount(ctx, p)
}

func (s *notificationService) Broadcast(ctx context.Context, p models.Principal, n *models.Notification) error {
	if err := requireAdmin(p); err != nil {
		return err
	}
	if n.Title == "" || n.Message == "" {
		return validationError("title and message are required")
	}
	if n.Type == "" {
		n.Type = "info"
	}
	if !models.Contains(models.ValidNotificationTypes, n.Type) {
		return validationError("invalid notification type %q", n.Type)
	}
	n.GroupID = ownGroup(p, n.GroupID)

	if err := s.repo.Create(ctx, n); err != nil {
		s.logger.Error("Failed to create notification", zap.Int64("user_id", p.UserID), zap.Error(err))
		return err
	}
	s.logger.Info("Notification created", zap.Int64("notification_id", n.ID))
	return nil
}

func (s *notificationService) Notify(ctx context.Context, n *models.Notification) {
	if n.Type == "" {
		n.Type = "info"
	}
	if err := s.repo.Create(ctx, n); err != nil {
		s.logger.Warn("Failed to deliver notification", zap.String("title", n.Title), zap.Error(err))
	}
}
