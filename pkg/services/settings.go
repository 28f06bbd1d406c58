package services

import (
	"context"
	"regexp"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/repositories"
)

var settingKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9_.\-]{1,100}$`)

// SettingService manages global key/value settings. Admins and above only.
type SettingService interface {
	List(ctx context.Context, p models.Principal) ([]*models.SystemSetting, error)
	Get(ctx context.Context, p models.Principal, key string) (*models.SystemSetting, error)
	// Put creates the setting or replaces its value and description.
	Put(ctx context.Context, p models.Principal, setting *models.SystemSetting) error
	Delete(ctx context.Context, p models.Principal, key string) error
}

type settingService struct {
	repo     repositories.SettingRepository
	activity ActivityService
	logger   *zap.Logger
}

func NewSettingService(repo repositories.SettingRepository, activity ActivityService, logger *zap.Logger) SettingService {
	return &settingService{
		repo:     repo,
		activity: activity,
		logger:   logger.Named("settings"),
	}
}

var _ SettingService = (*settingService)(nil)

func (s *settingService) List(ctx context.Context, p models.Principal) ([]*models.SystemSetting, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	return s.repo.List(ctx)
}

func (s *settingService) Get(ctx context.Context, p models.Principal, key string) (*models.SystemSetting, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, key)
}

func (s *settingService) Put(ctx context.Context, p models.Principal, setting *models.SystemSetting) error {
	if err := requireAdmin(p); err != nil {
		return err
	}
	if !settingKeyPattern.MatchString(setting.Key) {
		return validationError("invalid setting key %q", setting.Key)
	}
	if err := s.repo.Upsert(ctx, setting); err != nil {
		s.logger.Error("Failed to save setting", zap.String("key", setting.Key), zap.Error(err))
		return err
	}
	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionUpdate,
		ResourceType: "setting",
		Metadata:     map[string]any{"key": setting.Key},
	})
	s.logger.Info("Setting saved", zap.String("key", setting.Key))
	return nil
}

func (s *settingService) Delete(ctx context.Context, p models.Principal, key string) error {
	if err := requireAdmin(p); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, key); err != nil {
		s.logger.Error("Failed to delete setting", zap.String("key", key), zap.Error(err))
		return err
	}
	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionDelete,
		ResourceType: "setting",
		Metadata:     map[string]any{"key": key},
	})
	return nil
}
