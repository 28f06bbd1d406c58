package services

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/apperrors"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/repositories"
)

// GroupUpdate holds the group fields to change; nil fields are left alone.
type GroupUpdate struct {
	Name        *string
	Description *string
	IsActive    *bool
	Settings    map[string]any
}

// GroupService manages tenant groups. Superadmins write; admins read their own group.
type GroupService interface {
	Create(ctx context.Context, p models.Principal, group *models.Group) error
	Get(ctx context.Context, p models.Principal, id int64) (*models.Group, error)
	List(ctx context.Context, p models.Principal) ([]*models.Group, error)
	Update(ctx context.Context, p models.Principal, id int64, update GroupUpdate) (*models.Group, error)
	Delete(ctx context.Context, p models.Principal, id int64) error
}

type groupService struct {
	repo     repositories.GroupRepository
	activity ActivityService
	logger   *zap.Logger
}

func NewGroupService(repo repositories.GroupRepository, activity ActivityService, logger *zap.Logger) GroupService {
	return &groupService{
		repo:     repo,
		activity: activity,
		logger:   logger.Named("groups"),
	}
}

var _ GroupService = (*groupService)(nil)

func (s *groupService) Create(ctx context.Context, p models.Principal, group *models.Group) error {
	if err := requireSuperadmin(p); err != nil {
		return err
	}
	group.Name = strings.TrimSpace(group.Name)
	if group.Name == "" {
		return validationError("name is required")
	}
	group.CreatedBy = ptr(p.UserID)
	if group.Settings == nil {
		group.Settings = map[string]any{}
	}

	if err := s.repo.Create(ctx, group); err != nil {
		s.logger.Error("Failed to create group", zap.String("name", group.Name), zap.Error(err))
		return err
	}
	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionCreate,
		ResourceType: "group",
		ResourceID:   ptr(group.ID),
	})
	s.logger.Info("Group created", zap.Int64("group_id", group.ID), zap.String("name", group.Name))
	return nil
}

// visible reports whether p may read group id.
func visible(p models.Principal, id int64) bool {
	if p.Role == models.RoleSuperadmin {
		return true
	}
	return p.IsAdmin() && p.GroupID != nil && *p.GroupID == id
}

func (s *groupService) Get(ctx context.Context, p models.Principal, id int64) (*models.Group, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	if !visible(p, id) {
		return nil, apperrors.ErrNotFound
	}
	return s.repo.GetByID(ctx, id)
}

func (s *groupService) List(ctx context.Context, p models.Principal) ([]*models.Group, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	if p.Role == models.RoleSuperadmin {
		return s.repo.List(ctx, nil)
	}
	if p.GroupID == nil {
		return []*models.Group{}, nil
	}
	return s.repo.List(ctx, p.GroupID)
}

func (s *groupService) Update(ctx context.Context, p models.Principal, id int64, update GroupUpdate) (*models.Group, error) {
	if err := requireSuperadmin(p); err != nil {
		return nil, err
	}
	group, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, validationError("name cannot be empty")
		}
		group.Name = name
	}
	if update.Description != nil {
		group.Description = *update.Description
	}
	if update.IsActive != nil {
		group.IsActive = *update.IsActive
	}
	if update.Settings != nil {
		group.Settings = update.Settings
	}

	if err := s.repo.Update(ctx, group); err != nil {
		s.logger.Error("Failed to update group", zap.Int64("group_id", id), zap.Error(err))
		return nil, err
	}
	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionUpdate,
		ResourceType: "group",
		ResourceID:   ptr(id),
	})
	return group, nil
}

func (s *groupService) Delete(ctx context.Context, p models.Principal, id int64) error {
	if err := requireSuperadmin(p); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		s.logger.Error("Failed to delete group", zap.Int64("group_id", id), zap.Error(err))
		return err
	}
	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionDelete,
		ResourceType: "group",
		ResourceID:   ptr(id),
	})
	s.logger.Info("Group deleted", zap.Int64("group_id", id))
	return nil
}
