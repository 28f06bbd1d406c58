package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/apperrors"
	"github.com/omnifin/backoffice/pkg/audit"
	"github.com/omnifin/backoffice/pkg/auth"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/repositories"
)

// SystemScoper opens a database scope that is not tied to a request.
// database.ScopeProvider implements it.
type SystemScoper interface {
	WithSystemScope(ctx context.Context) (context.Context, func(), error)
}

// RegisterInput is a self-service signup.
type RegisterInput struct {
	Email           string
	Password        string
	PasswordConfirm string
	FirstName       string
	LastName        string
	Phone           string
}

// NewUserInput is an account created by an administrator.
type NewUserInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
	Role      models.Role
	GroupID   *int64
}

// UserUpdate holds the fields to change; nil fields are left alone.
type UserUpdate struct {
	Email      *string
	FirstName  *string
	LastName   *string
	Phone      *string
	Role       *models.Role
	GroupID    *int64
	IsActive   *bool
	IsVerified *bool
}

// touchesAccount reports whether u changes anything beyond the profile fields.
func (u UserUpdate) touchesAccount() bool {
	return u.Role != nil || u.GroupID != nil || u.IsActive != nil || u.IsVerified != nil
}

// AuthResult is returned by operations that hand out a token.
type AuthResult struct {
	User      *models.User
	Token     string
	ExpiresAt time.Time
}

// UserService covers authentication, profiles and user administration.
type UserService interface {
	auth.PrincipalResolver

	Register(ctx context.Context, in RegisterInput) (*AuthResult, error)
	Login(ctx context.Context, email, password string) (*AuthResult, error)
	Logout(ctx context.Context, p models.Principal)
	ChangePassword(ctx context.Context, p models.Principal, oldPassword, newPassword, confirm string) (*AuthResult, error)

	Profile(ctx context.Context, p models.Principal) (*models.User, error)
	UpdateProfile(ctx context.Context, p models.Principal, update UserUpdate) (*models.User, error)
	CheckPermission(ctx context.Context, p models.Principal, permission string) (bool, error)

	ListUsers(ctx context.Context, p models.Principal, filter repositories.UserFilter) ([]*models.User, error)
	GetUser(ctx context.Context, p models.Principal, id int64) (*models.User, error)
	CreateUser(ctx context.Context, p models.Principal, in NewUserInput) (*models.User, error)
	UpdateUser(ctx context.Context, p models.Principal, id int64, update UserUpdate) (*models.User, error)
	// DeactivateUser disables the account; users are never hard-deleted.
	DeactivateUser(ctx context.Context, p models.Principal, id int64) error

	ListPermissions(ctx context.Context, p models.Principal, userID int64) ([]*models.UserPermission, error)
	GrantPermission(ctx context.Context, p models.Principal, userID int64, permission string) (*models.UserPermission, error)
	RevokePermission(ctx context.Context, p models.Principal, userID int64, permission string) error
}

type userService struct {
	userRepo      repositories.UserRepository
	tokens        auth.TokenIssuer
	activity      ActivityService
	notifications NotificationService
	auditor       *audit.SecurityAuditor
	scoper        SystemScoper
	logger        *zap.Logger
	now           func() time.Time
}

// NewUserService creates a UserService. scoper may be nil when callers always
// provide a request scope in the context.
func NewUserService(
	userRepo repositories.UserRepository,
	tokens auth.TokenIssuer,
	activity ActivityService,
	notifications NotificationService,
	auditor *audit.SecurityAuditor,
	scoper SystemScoper,
	logger *zap.Logger,
) UserService {
	return &userService{
		userRepo:      userRepo,
		tokens:        tokens,
		activity:      activity,
		notifications: notifications,
		auditor:       auditor,
		scoper:        scoper,
		logger:        logger.Named("users"),
		now:           time.Now,
	}
}

var _ UserService = (*userService)(nil)

// ResolvePrincipal runs inside the auth middleware, before any request scope exists.
func (s *userService) ResolvePrincipal(ctx context.Context, userID int64) (models.Principal, error) {
	if s.scoper != nil {
		scoped, cleanup, err := s.scoper.WithSystemScope(ctx)
		if err != nil {
			return models.Principal{}, fmt.Errorf("open scope: %w", err)
		}
		defer cleanup()
		ctx = scoped
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return models.Principal{}, err
	}
	if !user.IsActive {
		return models.Principal{}, auth.ErrInactivePrincipal
	}
	return user.Principal(), nil
}

func (s *userService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" {
		return nil, validationError("email is required")
	}
	if in.Password != in.PasswordConfirm {
		return nil, validationError("passwords do not match")
	}
	hash, err := hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:     email,
		Password:  hash,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Phone:     in.Phone,
		Role:      models.RoleSimple,
		IsActive:  true,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if !errors.Is(err, apperrors.ErrConflict) {
			s.logger.Error("Failed to register user", zap.Error(err))
		}
		return nil, err
	}

	s.activity.Record(ctx, user.Principal(), ActivityEvent{
		Action:       models.ActionCreate,
		ResourceType: "user",
		ResourceID:   ptr(user.ID),
		Metadata:     map[string]any{"source": "register"},
	})
	s.notifications.Notify(ctx, &models.Notification{
		Title:   "Welcome to Omnifin",
		Message: "Your account is ready. Start a chat any time to ask about loans or insurance.",
		Type:    "success",
		UserID:  ptr(user.ID),
	})
	s.logger.Info("User registered", zap.Int64("user_id", user.ID))

	return s.issue(user)
}

func (s *userService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	clientIP := requestInfoFrom(ctx).IPAddress

	user, err := s.userRepo.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.auditor.LogLoginFailure(ctx, audit.LoginFailureDetails{Email: email, Reason: "unknown_email"}, clientIP)
			return nil, apperrors.ErrInvalidCredentials
		}
		s.logger.Error("Failed to load user for login", zap.Error(err))
		return nil, err
	}
	if !auth.CheckPassword(user.Password, password) {
		s.auditor.LogLoginFailure(ctx, audit.LoginFailureDetails{Email: email, Reason: "bad_password"}, clientIP)
		return nil, apperrors.ErrInvalidCredentials
	}
	if !user.IsActive {
		s.auditor.LogLoginFailure(ctx, audit.LoginFailureDetails{Email: email, Reason: "inactive"}, clientIP)
		return nil, apperrors.ErrInactiveUser
	}

	now := s.now()
	if err := s.userRepo.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("Failed to stamp last login", zap.Int64("user_id", user.ID), zap.Error(err))
	} else {
		user.LastLogin = &now
	}

	s.activity.Record(ctx, user.Principal(), ActivityEvent{Action: models.ActionLogin})
	return s.issue(user)
}

func (s *userService) Logout(ctx context.Context, p models.Principal) {
	s.activity.Record(ctx, p, ActivityEvent{Action: models.ActionLogout})
}

func (s *userService) ChangePassword(ctx context.Context, p models.Principal, oldPassword, newPassword, confirm string) (*AuthResult, error) {
	if newPassword != confirm {
		return nil, validationError("new passwords do not match")
	}
	user, err := s.userRepo.GetByID(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(user.Password, oldPassword) {
		return nil, validationError("old password is incorrect")
	}
	hash, err := hashPassword(newPassword)
	if err != nil {
		return nil, err
	}
	if err := s.userRepo.UpdatePassword(ctx, user.ID, hash); err != nil {
		s.logger.Error("Failed to change password", zap.Int64("user_id", user.ID), zap.Error(err))
		return nil, err
	}

	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionUpdate,
		ResourceType: "user",
		ResourceID:   ptr(user.ID),
		Metadata:     map[string]any{"field": "password"},
	})
	s.logger.Info("Password changed", zap.Int64("user_id", user.ID))
	return s.issue(user)
}

func (s *userService) Profile(ctx context.Context, p models.Principal) (*models.User, error) {
	return s.userRepo.GetByID(ctx, p.UserID)
}

func (s *userService) UpdateProfile(ctx context.Context, p models.Principal, update UserUpdate) (*models.User, error) {
	if update.touchesAccount() {
		return nil, apperrors.ErrForbidden
	}
	return s.applyUpdate(ctx, p, p.UserID, update)
}

func (s *userService) CheckPermission(ctx context.Context, p models.Principal, permission string) (bool, error) {
	if permission == "" {
		return false, validationError("permission is required")
	}
	user, err := s.userRepo.GetByID(ctx, p.UserID)
	if err != nil {
		return false, err
	}
	return user.HasPermission(permission), nil
}

func (s *userService) ListUsers(ctx context.Context, p models.Principal, filter repositories.UserFilter) ([]*models.User, error) {
	switch p.Role {
	case models.RoleSuperadmin:
	case models.RoleAdmin:
		if p.GroupID == nil {
			self, err := s.userRepo.GetByID(ctx, p.UserID)
			if err != nil {
				return nil, err
			}
			return []*models.User{self}, nil
		}
		filter.GroupID = p.GroupID
	default:
		return nil, apperrors.ErrForbidden
	}
	if filter.Role != "" && !models.IsValidRole(filter.Role) {
		return nil, apperrors.ErrInvalidRole
	}
	return s.userRepo.List(ctx, filter)
}

func (s *userService) GetUser(ctx context.Context, p models.Principal, id int64) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(p, user) {
		return nil, apperrors.ErrNotFound
	}
	return user, nil
}

func (s *userService) CreateUser(ctx context.Context, p models.Principal, in NewUserInput) (*models.User, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	if in.Role == "" {
		in.Role = models.RoleSimple
	}
	if !models.IsValidRole(string(in.Role)) {
		return nil, apperrors.ErrInvalidRole
	}
	groupID := ownGroup(p, in.GroupID)
	if p.Role == models.RoleAdmin && (in.Role == models.RoleAdmin || in.Role == models.RoleSuperadmin) {
		return nil, apperrors.ErrForbidden
	}
	if strings.TrimSpace(in.Email) == "" {
		return nil, validationError("email is required")
	}
	hash, err := hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:     strings.TrimSpace(in.Email),
		Password:  hash,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Phone:     in.Phone,
		Role:      in.Role,
		GroupID:   groupID,
		CreatedBy: ptr(p.UserID),
		IsActive:  true,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if !errors.Is(err, apperrors.ErrConflict) {
			s.logger.Error("Failed to create user", zap.Int64("created_by", p.UserID), zap.Error(err))
		}
		return nil, err
	}

	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionCreate,
		ResourceType: "user",
		ResourceID:   ptr(user.ID),
		Metadata:     map[string]any{"role": string(user.Role)},
	})
	s.logger.Info("User created",
		zap.Int64("user_id", user.ID),
		zap.Int64("created_by", p.UserID),
		zap.String("role", string(user.Role)))
	return user, nil
}

func (s *userService) UpdateUser(ctx context.Context, p models.Principal, id int64, update UserUpdate) (*models.User, error) {
	if id == p.UserID {
		return s.UpdateProfile(ctx, p, update)
	}
	return s.applyUpdate(ctx, p, id, update)
}

func (s *userService) DeactivateUser(ctx context.Context, p models.Principal, id int64) error {
	if id == p.UserID {
		return validationError("cannot deactivate your own account")
	}
	target, err := s.managed(ctx, p, id)
	if err != nil {
		return err
	}
	if err := s.userRepo.SetActive(ctx, target.ID, false); err != nil {
		s.logger.Error("Failed to deactivate user", zap.Int64("user_id", id), zap.Error(err))
		return err
	}

	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionDelete,
		ResourceType: "user",
		ResourceID:   ptr(id),
	})
	s.logger.Info("User deactivated", zap.Int64("user_id", id), zap.Int64("by", p.UserID))
	return nil
}

func (s *userService) ListPermissions(ctx context.Context, p models.Principal, userID int64) ([]*models.UserPermission, error) {
	if _, err := s.GetUser(ctx, p, userID); err != nil {
		return nil, err
	}
	return s.userRepo.ListPermissions(ctx, userID)
}

func (s *userService) GrantPermission(ctx context.Context, p models.Principal, userID int64, permission string) (*models.UserPermission, error) {
	if !models.Contains(models.AllPermissions, permission) {
		return nil, validationError("unknown permission %q", permission)
	}
	if _, err := s.managed(ctx, p, userID); err != nil {
		return nil, err
	}

	perm := &models.UserPermission{
		UserID:     userID,
		Permission: permission,
		GrantedBy:  ptr(p.UserID),
	}
	if err := s.userRepo.GrantPermission(ctx, perm); err != nil {
		if !errors.Is(err, apperrors.ErrConflict) {
			s.logger.Error("Failed to grant permission",
				zap.Int64("user_id", userID),
				zap.String("permission", permission),
				zap.Error(err))
		}
		return nil, err
	}
	s.logger.Info("Permission granted",
		zap.Int64("user_id", userID),
		zap.String("permission", permission),
		zap.Int64("by", p.UserID))
	return perm, nil
}

func (s *userService) RevokePermission(ctx context.Context, p models.Principal, userID int64, permission string) error {
	if _, err := s.managed(ctx, p, userID); err != nil {
		return err
	}
	if err := s.userRepo.RevokePermission(ctx, userID, permission); err != nil {
		return err
	}
	s.logger.Info("Permission revoked",
		zap.Int64("user_id", userID),
		zap.String("permission", permission),
		zap.Int64("by", p.UserID))
	return nil
}

// managed loads a user that p may administer. Users p cannot see are reported as
// missing; visible users p cannot manage are forbidden.
func (s *userService) managed(ctx context.Context, p models.Principal, id int64) (*models.User, error) {
	target, err := s.GetUser(ctx, p, id)
	if err != nil {
		return nil, err
	}
	actor := &models.User{ID: p.UserID, Role: p.Role, GroupID: p.GroupID}
	if !actor.CanManageUser(target) {
		return nil, apperrors.ErrForbidden
	}
	return target, nil
}

func (s *userService) applyUpdate(ctx context.Context, p models.Principal, id int64, update UserUpdate) (*models.User, error) {
	var (
		user *models.User
		err  error
	)
	if id == p.UserID {
		user, err = s.userRepo.GetByID(ctx, id)
	} else {
		user, err = s.managed(ctx, p, id)
	}
	if err != nil {
		return nil, err
	}

	if update.Email != nil {
		email := strings.TrimSpace(*update.Email)
		if email == "" {
			return nil, validationError("email cannot be empty")
		}
		user.Email = email
	}
	if update.FirstName != nil {
		user.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		user.LastName = *update.LastName
	}
	if update.Phone != nil {
		user.Phone = *update.Phone
	}
	if update.Role != nil {
		if !models.IsValidRole(string(*update.Role)) {
			return nil, apperrors.ErrInvalidRole
		}
		if p.Role != models.RoleSuperadmin && !(*update.Role == models.RoleSimple || *update.Role == models.RoleSuper) {
			return nil, apperrors.ErrForbidden
		}
		user.Role = *update.Role
	}
	if update.GroupID != nil {
		if p.Role != models.RoleSuperadmin {
			return nil, apperrors.ErrForbidden
		}
		user.GroupID = update.GroupID
	}
	if update.IsActive != nil {
		user.IsActive = *update.IsActive
	}
	if update.IsVerified != nil {
		user.IsVerified = *update.IsVerified
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		if !errors.Is(err, apperrors.ErrConflict) {
			s.logger.Error("Failed to update user", zap.Int64("user_id", id), zap.Error(err))
		}
		return nil, err
	}

	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionUpdate,
		ResourceType: "user",
		ResourceID:   ptr(id),
	})
	return user, nil
}

func (s *userService) issue(user *models.User) (*AuthResult, error) {
	token, expiresAt, err := s.tokens.IssueToken(user)
	if err != nil {
		s.logger.Error("Failed to issue token", zap.Int64("user_id", user.ID), zap.Error(err))
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &AuthResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

// canView reports whether p may read target: themselves, anyone for a superadmin,
// and members of their own group for an admin.
func canView(p models.Principal, target *models.User) bool {
	switch {
	case p.UserID == target.ID, p.Role == models.RoleSuperadmin:
		return true
	case p.Role == models.RoleAdmin:
		return p.GroupID != nil && target.GroupID != nil && *p.GroupID == *target.GroupID
	}
	return false
}

func hashPassword(password string) (string, error) {
	hash, err := auth.HashPassword(password)
	if errors.Is(err, auth.ErrPasswordTooShort) {
		return "", validationError("%s", err.Error())
	}
	return hash, err
}
