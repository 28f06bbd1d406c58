package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/repositories"
)

type requestInfoKey struct{}

// WithRequestInfo attaches client details that activity rows record.
func WithRequestInfo(ctx context.Context, info models.RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

func requestInfoFrom(ctx context.Context) models.RequestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(models.RequestInfo)
	return info
}

// ActivityEvent describes one action to record.
type ActivityEvent struct {
	Action       string
	ResourceType string
	ResourceID   *int64
	Metadata     map[string]any
}

// ActivityService appends activity rows and bumps the matching engagement counter.
type ActivityService interface {
	// Record never fails the caller; errors are logged.
	Record(ctx context.Context, p models.Principal, event ActivityEvent)

	Get(ctx context.Context, p models.Principal, id int64) (*models.UserActivity, error)
	List(ctx context.Context, p models.Principal, filter repositories.ActivityFilter) ([]*models.UserActivity, error)
}

type activityService struct {
	repo   repositories.ActivityRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewActivityService(repo repositories.ActivityRepository, logger *zap.Logger) ActivityService {
	return &activityService{
		repo:   repo,
		logger: logger.Named("activity"),
		now:    time.Now,
	}
}

var _ ActivityService = (*activityService)(nil)

func (s *activityService) Record(ctx context.Context, p models.Principal, event ActivityEvent) {
	info := requestInfoFrom(ctx)
	activity := &models.UserActivity{
		UserID:       p.UserID,
		GroupID:      p.GroupID,
		Action:       event.Action,
		ResourceType: event.ResourceType,
		ResourceID:   event.ResourceID,
		Description:  describeActivity(event),
		IPAddress:    info.IPAddress,
		UserAgent:    info.UserAgent,
		SessionID:    info.SessionID,
		Metadata:     event.Metadata,
	}
	if err := s.repo.Create(ctx, activity); err != nil {
		s.logger.Error("Failed to record activity",
			zap.Int64("user_id", p.UserID),
			zap.String("action", event.Action),
			zap.Error(err))
		return
	}

	delta := models.EngagementDeltaFor(event.Action)
	if delta.IsZero() {
		return
	}
	if err := s.repo.BumpEngagement(ctx, p.UserID, p.GroupID, s.now(), delta); err != nil {
		s.logger.Error("Failed to update engagement",
			zap.Int64("user_id", p.UserID),
			zap.String("action", event.Action),
			zap.Error(err))
	}
}

func (s *activityService) Get(ctx context.Context, p models.Principal, id int64) (*models.UserActivity, error) {
	return s.repo.Get(ctx, p, id)
}

func (s *activityService) List(ctx context.Context, p models.Principal, filter repositories.ActivityFilter) ([]*models.UserActivity, error) {
	if filter.Action != "" && !models.Contains(models.ValidActions, filter.Action) {
		return nil, validationError("unknown action %q", filter.Action)
	}
	return s.repo.List(ctx, p, filter)
}

var actionVerbs = map[string]string{
	models.ActionLogin:        "Logged in",
	models.ActionLogout:       "Logged out",
	models.ActionView:         "Viewed",
	models.ActionCreate:       "Created",
	models.ActionUpdate:       "Updated",
	models.ActionDelete:       "Deleted",
	models.ActionChatStart:    "Started chat",
	models.ActionChatMessage:  "Sent message in",
	models.ActionVoiceStart:   "Started voice chat",
	models.ActionFileUpload:   "Uploaded",
	models.ActionOrderCreated: "Created",
	models.ActionOrderUpdated: "Updated",
}

// describeActivity renders a short human description, e.g. "Created order #12"
// or "Viewed knowledge entries".
func describeActivity(e ActivityEvent) string {
	verb, ok := actionVerbs[e.Action]
	if !ok {
		verb = e.Action
	}
	if e.ResourceType == "" {
		return verb
	}

	noun := strings.ReplaceAll(e.ResourceType, "_", " ")
	if e.ResourceID == nil {
		return verb + " " + inflection.Plural(noun)
	}
	return fmt.Sprintf("%s %s #%d", verb, noun, *e.ResourceID)
}
