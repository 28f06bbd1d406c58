package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/apperrors"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/repositories"
)

// PromptUpdate holds the fields to change; nil fields are left alone.
type PromptUpdate struct {
	Name          *string
	Category      *string
	PromptType    *string
	Content       *string
	IsActive      *bool
	ChangeSummary string
}

// PromptTestResult is a prompt rendered with caller-supplied variables.
type PromptTestResult struct {
	PromptID        int64          `json:"prompt_id"`
	RenderedContent string         `json:"rendered_content"`
	VariablesUsed   map[string]any `json:"variables_used"`
}

// PromptService manages prompt templates and resolves the ones the assistant uses.
type PromptService interface {
	Create(ctx context.Context, p models.Principal, prompt *models.Prompt) error
	Get(ctx context.Context, p models.Principal, id int64) (*models.Prompt, error)
	List(ctx context.Context, p models.Principal, filter repositories.ContentFilter) ([]*models.Prompt, error)
	Update(ctx context.Context, p models.Principal, id int64, update PromptUpdate) (*models.Prompt, error)
	Delete(ctx context.Context, p models.Principal, id int64) error
	Versions(ctx context.Context, p models.Principal, id int64) ([]*models.PromptVersion, error)

	// Test renders a prompt. Missing variables produce an explanatory string, not an error.
	Test(ctx context.Context, p models.Principal, id int64, vars map[string]any) (*PromptTestResult, error)

	// Welcome returns the greeting for a new conversation about orderType.
	// Lookup failures fall back to the built-in greeting.
	Welcome(ctx context.Context, orderType string, groupID *int64) string
}

type promptService struct {
	repo     repositories.PromptRepository
	cache    PromptCache
	activity ActivityService
	logger   *zap.Logger
}

func NewPromptService(repo repositories.PromptRepository, cache PromptCache, activity ActivityService, logger *zap.Logger) PromptService {
	if cache == nil {
		cache = noopPromptCache{}
	}
	return &promptService{
		repo:     repo,
		cache:    cache,
		activity: activity,
		logger:   logger.Named("prompts"),
	}
}

var _ PromptService = (*promptService)(nil)

// WelcomeFallback is the greeting used when no welcome prompt is configured.
func WelcomeFallback(orderType string) string {
	return fmt.Sprintf("Welcome to Omnifin! I'm here to help you with %s. How can I assist you today?", orderType)
}

func (s *promptService) Welcome(ctx context.Context, orderType string, groupID *int64) string {
	prompt, ok := s.cache.Get(ctx, models.WelcomePromptName, orderType, groupID)
	if !ok {
		var err error
		prompt, err = s.repo.GetActiveByName(ctx, models.WelcomePromptName, orderType, groupID)
		if err != nil {
			if !errors.Is(err, apperrors.ErrNotFound) {
				s.logger.Warn("Welcome prompt lookup failed, using default greeting",
					zap.String("order_type", orderType),
					zap.Error(err))
			}
			return WelcomeFallback(orderType)
		}
		s.cache.Set(ctx, models.WelcomePromptName, orderType, groupID, prompt)
	}

	out, err := prompt.Render(map[string]any{"order_type": orderType})
	if err != nil {
		s.logger.Warn("Welcome prompt does not render, using default greeting",
			zap.Int64("prompt_id", prompt.ID),
			zap.Error(err))
		return WelcomeFallback(orderType)
	}
	return out
}

func (s *promptService) Create(ctx context.Context, p models.Principal, prompt *models.Prompt) error {
	if err := validatePrompt(prompt); err != nil {
		return err
	}
	prompt.GroupID = ownGroup(p, prompt.GroupID)
	prompt.CreatedBy = ptr(p.UserID)
	prompt.Variables = models.ExtractVariables(prompt.Content)

	if err := s.repo.Create(ctx, prompt); err != nil {
		if !errors.Is(err, apperrors.ErrConflict) {
			s.logger.Error("Failed to create prompt", zap.String("name", prompt.Name), zap.Error(err))
		}
		return err
	}
	s.cache.Invalidate(ctx)

	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionCreate,
		ResourceType: "prompt",
		ResourceID:   ptr(prompt.ID),
	})
	s.logger.Info("Prompt created", zap.Int64("prompt_id", prompt.ID), zap.String("name", prompt.Name))
	return nil
}

func (s *promptService) Get(ctx context.Context, p models.Principal, id int64) (*models.Prompt, error) {
	return s.repo.Get(ctx, p, id)
}

func (s *promptService) List(ctx context.Context, p models.Principal, filter repositories.ContentFilter) ([]*models.Prompt, error) {
	if filter.Category != "" && !models.Contains(models.ValidPromptCategories, filter.Category) {
		return nil, validationError("invalid category %q", filter.Category)
	}
	return s.repo.List(ctx, p, filter)
}

func (s *promptService) Update(ctx context.Context, p models.Principal, id int64, update PromptUpdate) (*models.Prompt, error) {
	prompt, err := s.repo.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		prompt.Name = *update.Name
	}
	if update.Category != nil {
		prompt.Category = *update.Category
	}
	if update.PromptType != nil {
		prompt.PromptType = *update.PromptType
	}
	if update.Content != nil {
		prompt.Content = *update.Content
		prompt.Variables = models.ExtractVariables(prompt.Content)
	}
	if update.IsActive != nil {
		prompt.IsActive = *update.IsActive
	}
	if err := validatePrompt(prompt); err != nil {
		return nil, err
	}

	summary := update.ChangeSummary
	if summary == "" {
		summary = models.AutoVersionSummary
	}
	if err := s.repo.UpdateWithHistory(ctx, prompt, ptr(p.UserID), summary); err != nil {
		if !errors.Is(err, apperrors.ErrConflict) {
			s.logger.Error("Failed to update prompt", zap.Int64("prompt_id", id), zap.Error(err))
		}
		return nil, err
	}
	s.cache.Invalidate(ctx)

	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionUpdate,
		ResourceType: "prompt",
		ResourceID:   ptr(id),
		Metadata:     map[string]any{"version": prompt.Version},
	})
	s.logger.Info("Prompt updated", zap.Int64("prompt_id", id), zap.Int("version", prompt.Version))
	return prompt, nil
}

func (s *promptService) Delete(ctx context.Context, p models.Principal, id int64) error {
	if _, err := s.repo.Get(ctx, p, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		s.logger.Error("Failed to delete prompt", zap.Int64("prompt_id", id), zap.Error(err))
		return err
	}
	s.cache.Invalidate(ctx)

	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionDelete,
		ResourceType: "prompt",
		ResourceID:   ptr(id),
	})
	return nil
}

func (s *promptService) Versions(ctx context.Context, p models.Principal, id int64) ([]*models.PromptVersion, error) {
	if _, err := s.repo.Get(ctx, p, id); err != nil {
		return nil, err
	}
	return s.repo.Versions(ctx, id)
}

func (s *promptService) Test(ctx context.Context, p models.Principal, id int64, vars map[string]any) (*PromptTestResult, error) {
	prompt, err := s.repo.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if vars == nil {
		vars = map[string]any{}
	}
	return &PromptTestResult{
		PromptID:        prompt.ID,
		RenderedContent: prompt.RenderOrExplain(vars),
		VariablesUsed:   vars,
	}, nil
}

func validatePrompt(prompt *models.Prompt) error {
	switch {
	case strings.TrimSpace(prompt.Name) == "":
		return validationError("name is required")
	case strings.TrimSpace(prompt.Content) == "":
		return validationError("content is required")
	case !models.Contains(models.ValidPromptCategories, prompt.Category):
		return validationError("invalid category %q", prompt.Category)
	case !models.Contains(models.ValidPromptTypes, prompt.PromptType):
		return validationError("invalid prompt type %q", prompt.PromptType)
	}
	return nil
}
