package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/apperrors"
	"github.com/omnifin/backoffice/pkg/crypto"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/repositories"
)

// APIConfigInput describes a new integration. APIKey is plaintext and sealed before storage.
type APIConfigInput struct {
	Name          string
	APIType       string
	Provider      string
	EndpointURL   string
	APIKey        string
	Configuration map[string]any
	IsActive      *bool
	GroupID       *int64
}

// APIConfigUpdate holds the fields to change; nil fields are left alone.
// An empty APIKey clears the stored key.
type APIConfigUpdate struct {
	Name          *string
	EndpointURL   *string
	APIKey        *string
	Configuration map[string]any
	IsActive      *bool
}

// APIConfigView is a configuration as shown to admins, with the key masked.
type APIConfigView struct {
	*models.APIConfiguration
	MaskedKey string `json:"api_key_masked,omitempty"`
}

// APIConfigService manages third-party integration settings. Admins and above only.
type APIConfigService interface {
	Create(ctx context.Context, p models.Principal, in APIConfigInput) (*APIConfigView, error)
	Get(ctx context.Context, p models.Principal, id int64) (*APIConfigView, error)
	List(ctx context.Context, p models.Principal) ([]*APIConfigView, error)
	Update(ctx context.Context, p models.Principal, id int64, update APIConfigUpdate) (*APIConfigView, error)
	Delete(ctx context.Context, p models.Principal, id int64) error
}

type apiConfigService struct {
	repo     repositories.APIConfigRepository
	sealer   *crypto.KeySealer
	activity ActivityService
	logger   *zap.Logger
}

func NewAPIConfigService(repo repositories.APIConfigRepository, sealer *crypto.KeySealer, activity ActivityService, logger *zap.Logger) APIConfigService {
	return &apiConfigService{
		repo:     repo,
		sealer:   sealer,
		activity: activity,
		logger:   logger.Named("api-config"),
	}
}

var _ APIConfigService = (*apiConfigService)(nil)

func (s *apiConfigService) Create(ctx context.Context, p models.Principal, in APIConfigInput) (*APIConfigView, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	cfg := &models.APIConfiguration{
		Name:          strings.TrimSpace(in.Name),
		APIType:       in.APIType,
		Provider:      in.Provider,
		EndpointURL:   in.EndpointURL,
		Configuration: in.Configuration,
		IsActive:      true,
		GroupID:       ownGroup(p, in.GroupID),
		CreatedBy:     ptr(p.UserID),
	}
	if in.IsActive != nil {
		cfg.IsActive = *in.IsActive
	}
	if cfg.Configuration == nil {
		cfg.Configuration = map[string]any{}
	}
	if err := validateAPIConfig(cfg); err != nil {
		return nil, err
	}
	if err := s.setKey(cfg, in.APIKey); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, cfg); err != nil {
		s.logger.Error("Failed to create API configuration", zap.String("name", cfg.Name), zap.Error(err))
		return nil, err
	}
	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionCreate,
		ResourceType: "api_configuration",
		ResourceID:   ptr(cfg.ID),
		Metadata:     map[string]any{"provider": cfg.Provider, "api_type": cfg.APIType},
	})
	s.logger.Info("API configuration created",
		zap.Int64("api_config_id", cfg.ID),
		zap.String("provider", cfg.Provider))
	return s.view(cfg), nil
}

func validateAPIConfig(cfg *models.APIConfiguration) error {
	if cfg.Name == "" {
		return validationError("name is required")
	}
	if !models.Contains(models.ValidAPITypes, cfg.APIType) {
		return validationError("invalid api type %q", cfg.APIType)
	}
	if !models.Contains(models.ValidAPIProviders, cfg.Provider) {
		return validationError("invalid provider %q", cfg.Provider)
	}
	return nil
}

func (s *apiConfigService) setKey(cfg *models.APIConfiguration, apiKey string) error {
	sealed, err := s.sealer.Seal(apiKey)
	if err != nil {
		return fmt.Errorf("seal api key: %w", err)
	}
	cfg.APIKeyEncrypted = sealed
	cfg.HasAPIKey = apiKey != ""
	return nil
}

// view masks the stored key. A key sealed under another secret is reported, not fatal.
func (s *apiConfigService) view(cfg *models.APIConfiguration) *APIConfigView {
	v := &APIConfigView{APIConfiguration: cfg}
	if cfg.APIKeyEncrypted == "" {
		return v
	}
	key, err := s.sealer.Open(cfg.APIKeyEncrypted)
	if err != nil {
		s.logger.Warn("Stored API key cannot be decrypted",
			zap.Int64("api_config_id", cfg.ID),
			zap.Error(fmt.Errorf("%w: %v", apperrors.ErrCredentialsKey, err)))
		return v
	}
	v.MaskedKey = crypto.Mask(key)
	return v
}

func (s *apiConfigService) Get(ctx context.Context, p models.Principal, id int64) (*APIConfigView, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	cfg, err := s.repo.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	return s.view(cfg), nil
}

func (s *apiConfigService) List(ctx context.Context, p models.Principal) ([]*APIConfigView, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	cfgs, err := s.repo.List(ctx, p)
	if err != nil {
		return nil, err
	}
	views := make([]*APIConfigView, 0, len(cfgs))
	for _, cfg := range cfgs {
		views = append(views, s.view(cfg))
	}
	return views, nil
}

func (s *apiConfigService) Update(ctx context.Context, p models.Principal, id int64, update APIConfigUpdate) (*APIConfigView, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	cfg, err := s.repo.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if update.Name != nil {
		cfg.Name = strings.TrimSpace(*update.Name)
	}
	if update.EndpointURL != nil {
		cfg.EndpointURL = *update.EndpointURL
	}
	if update.Configuration != nil {
		cfg.Configuration = update.Configuration
	}
	if update.IsActive != nil {
		cfg.IsActive = *update.IsActive
	}
	if err := validateAPIConfig(cfg); err != nil {
		return nil, err
	}
	if update.APIKey != nil {
		if err := s.setKey(cfg, *update.APIKey); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Update(ctx, cfg); err != nil {
		s.logger.Error("Failed to update API configuration", zap.Int64("api_config_id", id), zap.Error(err))
		return nil, err
	}
	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionUpdate,
		ResourceType: "api_configuration",
		ResourceID:   ptr(id),
		Metadata:     map[string]any{"key_changed": update.APIKey != nil},
	})
	return s.view(cfg), nil
}

func (s *apiConfigService) Delete(ctx context.Context, p models.Principal, id int64) error {
	if err := requireAdmin(p); err != nil {
		return err
	}
	if _, err := s.repo.Get(ctx, p, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		s.logger.Error("Failed to delete API configuration", zap.Int64("api_config_id", id), zap.Error(err))
		return err
	}
	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionDelete,
		ResourceType: "api_configuration",
		ResourceID:   ptr(id),
	})
	return nil
}
