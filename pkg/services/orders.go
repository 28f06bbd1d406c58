package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/apperrors"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/repositories"
	"github.com/omnifin/backoffice/pkg/storage"
)

// OrderInput describes a new order.
type OrderInput struct {
	OrderType      string
	Priority       string
	Amount         *decimal.Decimal
	ConversationID *int64
	Metadata       map[string]any
}

// OrderUpdate holds the fields to change; nil fields are left alone.
// Status changes go through ChangeStatus.
type OrderUpdate struct {
	Priority   *string
	Amount     *decimal.Decimal
	AssignedTo *int64
	Metadata   map[string]any
}

// OrderService runs the loan and insurance order workflow.
type OrderService interface {
	Create(ctx context.Context, p models.Principal, in OrderInput) (*models.Order, error)
	Get(ctx context.Context, p models.Principal, id int64) (*models.Order, error)
	List(ctx context.Context, p models.Principal, filter models.OrderFilter) ([]*models.Order, error)
	Update(ctx context.Context, p models.Principal, id int64, update OrderUpdate) (*models.Order, error)

	// ChangeStatus moves the order to status and appends a history row.
	// Unknown statuses return ErrInvalidStatus.
	ChangeStatus(ctx context.Context, p models.Principal, id int64, status, notes string) (*models.Order, error)
	History(ctx context.Context, p models.Principal, id int64) ([]*models.OrderStatusHistory, error)

	UploadDocument(ctx context.Context, p models.Principal, orderID int64, documentType string, up Upload) (*models.OrderDocument, error)
	ListDocuments(ctx context.Context, p models.Principal, orderID int64) ([]*models.OrderDocument, error)
	GetDocument(ctx context.Context, p models.Principal, id int64) (*models.OrderDocument, error)
	// OpenDocument streams the stored content. The caller closes the reader.
	OpenDocument(ctx context.Context, p models.Principal, id int64) (*models.OrderDocument, io.ReadCloser, error)
	DeleteDocument(ctx context.Context, p models.Principal, id int64) error

	// Export writes the orders visible to p as an xlsx workbook.
	Export(ctx context.Context, p models.Principal, filter models.OrderFilter, w io.Writer) error
}

type orderService struct {
	repo          repositories.OrderRepository
	convRepo      repositories.ConversationRepository
	store         storage.Store
	activity      ActivityService
	notifications NotificationService
	logger        *zap.Logger
	now           func() time.Time
}

func NewOrderService(
	repo repositories.OrderRepository,
	convRepo repositories.ConversationRepository,
	store storage.Store,
	activity ActivityService,
	notifications NotificationService,
	logger *zap.Logger,
) OrderService {
	return &orderService{
		repo:          repo,
		convRepo:      convRepo,
		store:         store,
		activity:      activity,
		notifications: notifications,
		logger:        logger.Named("orders"),
		now:           time.Now,
	}
}

var _ OrderService = (*orderService)(nil)

func (s *orderService) Create(ctx context.Context, p models.Principal, in OrderInput) (*models.Order, error) {
	if !models.Contains(models.ValidOrderTypes, in.OrderType) {
		return nil, validationError("invalid order type %q", in.OrderType)
	}
	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	}
	if !models.Contains(models.ValidPriorities, in.Priority) {
		return nil, validationError("invalid priority %q", in.Priority)
	}
	if in.Amount != nil && in.Amount.IsNegative() {
		return nil, validationError("amount cannot be negative")
	}
	if in.ConversationID != nil {
		if _, err := s.convRepo.GetOwned(ctx, p.UserID, *in.ConversationID); err != nil {
			return nil, err
		}
	}

	order := &models.Order{
		UserID:         p.UserID,
		GroupID:        p.GroupID,
		OrderType:      in.OrderType,
		Status:         models.OrderStatusPending,
		Priority:       in.Priority,
		Amount:         in.Amount,
		ConversationID: in.ConversationID,
		Metadata:       in.Metadata,
	}
	if err := s.repo.Create(ctx, order); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return nil, fmt.Errorf("%w: conversation already has an order", apperrors.ErrConflict)
		}
		s.logger.Error("Failed to create order", zap.Int64("user_id", p.UserID), zap.Error(err))
		return nil, err
	}

	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionOrderCreated,
		ResourceType: "order",
		ResourceID:   ptr(order.ID),
		Metadata: map[string]any{
			"order_type": order.OrderType,
			"status":     order.Status,
			"priority":   order.Priority,
		},
	})
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_type", order.OrderType))
	return order, nil
}

func (s *orderService) Get(ctx context.Context, p models.Principal, id int64) (*models.Order, error) {
	return s.repo.Get(ctx, p, id)
}

func (s *orderService) List(ctx context.Context, p models.Principal, filter models.OrderFilter) ([]*models.Order, error) {
	if filter.Status != "" && !models.Contains(models.ValidOrderStatuses, filter.Status) {
		return nil, validationError("invalid status %q", filter.Status)
	}
	if filter.OrderType != "" && !models.Contains(models.ValidOrderTypes, filter.OrderType) {
		return nil, validationError("invalid order type %q", filter.OrderType)
	}
	return s.repo.List(ctx, p, filter)
}

func (s *orderService) Update(ctx context.Context, p models.Principal, id int64, update OrderUpdate) (*models.Order, error) {
	order, err := s.repo.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}

	if update.Priority != nil {
		if !models.Contains(models.ValidPriorities, *update.Priority) {
			return nil, validationError("invalid priority %q", *update.Priority)
		}
		order.Priority = *update.Priority
	}
	if update.Amount != nil {
		if update.Amount.IsNegative() {
			return nil, validationError("amount cannot be negative")
		}
		order.Amount = update.Amount
	}
	if update.AssignedTo != nil {
		if err := requireAdmin(p); err != nil {
			return nil, err
		}
		order.AssignedTo = update.AssignedTo
	}
	if update.Metadata != nil {
		order.Metadata = update.Metadata
	}

	if err := s.repo.Update(ctx, order); err != nil {
		s.logger.Error("Failed to update order", zap.Int64("order_id", id), zap.Error(err))
		return nil, err
	}
	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionUpdate,
		ResourceType: "order",
		ResourceID:   ptr(id),
	})
	return order, nil
}

func (s *orderService) ChangeStatus(ctx context.Context, p models.Principal, id int64, status, notes string) (*models.Order, error) {
	if !models.Contains(models.ValidOrderStatuses, status) {
		return nil, apperrors.ErrInvalidStatus
	}
	before, err := s.repo.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}

	order, history, err := s.repo.ChangeStatus(ctx, repositories.StatusChange{
		OrderID:   id,
		NewStatus: status,
		ChangedBy: ptr(p.UserID),
		Notes:     notes,
		At:        s.now(),
	})
	if err != nil {
		s.logger.Error("Failed to change order status",
			zap.Int64("order_id", id),
			zap.String("status", status),
			zap.Error(err))
		return nil, err
	}

	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionOrderUpdated,
		ResourceType: "order",
		ResourceID:   ptr(id),
		Metadata: map[string]any{
			"old_status": history.OldStatus,
			"new_status": history.NewStatus,
		},
	})
	s.notifications.Notify(ctx, &models.Notification{
		Title:   fmt.Sprintf("Order #%d updated", id),
		Message: fmt.Sprintf("Your %s order is now %s.", before.OrderType, status),
		Type:    statusNotificationType(status),
		UserID:  ptr(before.UserID),
		Metadata: map[string]any{
			"order_id":   id,
			"old_status": history.OldStatus,
			"new_status": history.NewStatus,
		},
	})
	s.logger.Info("Order status changed",
		zap.Int64("order_id", id),
		zap.String("old_status", history.OldStatus),
		zap.String("new_status", history.NewStatus))
	return order, nil
}

func statusNotificationType(status string) string {
	switch status {
	case models.OrderStatusCompleted:
		return "success"
	case models.OrderStatusCancelled:
		return "warning"
	}
	return "info"
}

func (s *orderService) History(ctx context.Context, p models.Principal, id int64) ([]*models.OrderStatusHistory, error) {
	if _, err := s.repo.Get(ctx, p, id); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, id)
}

func (s *orderService) UploadDocument(ctx context.Context, p models.Principal, orderID int64, documentType string, up Upload) (*models.OrderDocument, error) {
	if documentType == "" {
		documentType = "other"
	}
	if !models.Contains(models.ValidDocumentTypes, documentType) {
		return nil, validationError("invalid document type %q", documentType)
	}
	if _, err := s.repo.Get(ctx, p, orderID); err != nil {
		return nil, err
	}

	obj, err := putUpload(ctx, s.store, storage.PrefixDocuments, up, nil)
	if err != nil {
		s.logger.Error("Failed to store order document", zap.Int64("order_id", orderID), zap.Error(err))
		return nil, err
	}

	doc := &models.OrderDocument{
		OrderID:      orderID,
		DocumentType: documentType,
		StorageKey:   obj.Key,
		OriginalName: filepath.Base(up.Filename),
		Size:         up.Size,
		MimeType:     obj.MimeType,
		UploadedBy:   p.UserID,
	}
	if err := s.repo.CreateDocument(ctx, doc); err != nil {
		s.logger.Error("Failed to record order document", zap.Int64("order_id", orderID), zap.Error(err))
		discard(ctx, s.store, obj.Key, s.logger)
		return nil, err
	}

	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionFileUpload,
		ResourceType: "order_document",
		ResourceID:   ptr(doc.ID),
		Metadata:     map[string]any{"order_id": orderID, "document_type": documentType},
	})
	return doc, nil
}

func (s *orderService) ListDocuments(ctx context.Context, p models.Principal, orderID int64) ([]*models.OrderDocument, error) {
	if _, err := s.repo.Get(ctx, p, orderID); err != nil {
		return nil, err
	}
	return s.repo.ListDocuments(ctx, orderID)
}

func (s *orderService) GetDocument(ctx context.Context, p models.Principal, id int64) (*models.OrderDocument, error) {
	return s.repo.GetDocument(ctx, p, id)
}

func (s *orderService) OpenDocument(ctx context.Context, p models.Principal, id int64) (*models.OrderDocument, io.ReadCloser, error) {
	doc, err := s.repo.GetDocument(ctx, p, id)
	if err != nil {
		return nil, nil, err
	}
	rc, _, err := s.store.Get(ctx, doc.StorageKey)
	if err != nil {
		s.logger.Error("Failed to open order document", zap.Int64("document_id", id), zap.Error(err))
		return nil, nil, err
	}
	return doc, rc, nil
}

func (s *orderService) DeleteDocument(ctx context.Context, p models.Principal, id int64) error {
	doc, err := s.repo.GetDocument(ctx, p, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteDocument(ctx, id); err != nil {
		s.logger.Error("Failed to delete order document", zap.Int64("document_id", id), zap.Error(err))
		return err
	}
	discard(ctx, s.store, doc.StorageKey, s.logger)

	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionDelete,
		ResourceType: "order_document",
		ResourceID:   ptr(id),
	})
	return nil
}
