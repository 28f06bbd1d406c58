package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/apperrors"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/repositories"
)

const (
	defaultTrendDays = 7
	maxTrendDays     = 365
)

// AnalyticsService serves read-side rollups over the activity and engagement rows
// visible to the caller.
type AnalyticsService interface {
	Summary(ctx context.Context, p models.Principal) (*models.AnalyticsSummary, error)
	// Trends counts activity per day and action. days of 0 means the default week.
	Trends(ctx context.Context, p models.Principal, days int) (*models.ActivityTrends, error)
	Activities(ctx context.Context, p models.Principal, filter repositories.ActivityFilter) ([]*models.UserActivity, error)
	Activity(ctx context.Context, p models.Principal, id int64) (*models.UserActivity, error)
	Engagement(ctx context.Context, p models.Principal, page repositories.Page) ([]*models.UserEngagement, error)
	Dashboard(ctx context.Context, p models.Principal) (*models.DashboardStats, error)
}

type analyticsService struct {
	activityRepo repositories.ActivityRepository
	statsRepo    repositories.StatsRepository
	logger       *zap.Logger
	now          func() time.Time
}

func NewAnalyticsService(activityRepo repositories.ActivityRepository, statsRepo repositories.StatsRepository, logger *zap.Logger) AnalyticsService {
	return &analyticsService{
		activityRepo: activityRepo,
		statsRepo:    statsRepo,
		logger:       logger.Named("analytics"),
		now:          time.Now,
	}
}

var _ AnalyticsService = (*analyticsService)(nil)

func (s *analyticsService) Summary(ctx context.Context, p models.Principal) (*models.AnalyticsSummary, error) {
	w := models.NewWindows(s.now())

	counts, err := s.activityRepo.Counts(ctx, p, w)
	if err != nil {
		s.logger.Error("Failed to count activity", zap.Int64("user_id", p.UserID), zap.Error(err))
		return nil, err
	}
	totals, err := s.activityRepo.EngagementTotals(ctx, p, w.Last7Days)
	if err != nil {
		s.logger.Error("Failed to total engagement", zap.Int64("user_id", p.UserID), zap.Error(err))
		return nil, err
	}
	return &models.AnalyticsSummary{
		UserActivity: counts,
		Engagement:   totals,
		Timestamp:    w.Now,
	}, nil
}

func (s *analyticsService) Trends(ctx context.Context, p models.Principal, days int) (*models.ActivityTrends, error) {
	if days == 0 {
		days = defaultTrendDays
	}
	if days < 1 || days > maxTrendDays {
		return nil, validationError("days must be between 1 and %d", maxTrendDays)
	}
	start := s.now().AddDate(0, 0, -days)

	points, err := s.activityRepo.Trends(ctx, p, start)
	if err != nil {
		s.logger.Error("Failed to load activity trends", zap.Int("days", days), zap.Error(err))
		return nil, err
	}
	if points == nil {
		points = []models.TrendPoint{}
	}
	return &models.ActivityTrends{Days: days, StartDate: start, Trends: points}, nil
}

func (s *analyticsService) Activities(ctx context.Context, p models.Principal, filter repositories.ActivityFilter) ([]*models.UserActivity, error) {
	if filter.UserID != nil && *filter.UserID != p.UserID && !p.IsAdmin() {
		return nil, apperrors.ErrForbidden
	}
	if filter.Action != "" && !models.Contains(models.ValidActions, filter.Action) {
		return nil, validationError("invalid action %q", filter.Action)
	}
	return s.activityRepo.List(ctx, p, filter)
}

func (s *analyticsService) Activity(ctx context.Context, p models.Principal, id int64) (*models.UserActivity, error) {
	return s.activityRepo.Get(ctx, p, id)
}

func (s *analyticsService) Engagement(ctx context.Context, p models.Principal, page repositories.Page) ([]*models.UserEngagement, error) {
	return s.activityRepo.ListEngagement(ctx, p, page)
}

func (s *analyticsService) Dashboard(ctx context.Context, p models.Principal) (*models.DashboardStats, error) {
	stats, err := s.statsRepo.Dashboard(ctx, p, models.NewWindows(s.now()))
	if err != nil {
		s.logger.Error("Failed to load dashboard stats", zap.Int64("user_id", p.UserID), zap.Error(err))
		return nil, err
	}
	return stats, nil
}
