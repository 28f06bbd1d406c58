package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/audit"
	"github.com/omnifin/backoffice/pkg/auth"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/repositories"
	"github.com/omnifin/backoffice/pkg/services"
)

// CreateUserRequest for POST /api/auth/admin/users
type CreateUserRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name" validate:"max=150"`
	LastName  string `json:"last_name" validate:"max=150"`
	Phone     string `json:"phone" validate:"max=20"`
	Role      string `json:"role" validate:"omitempty,oneof=simple super admin superadmin"`
	GroupID   *int64 `json:"group_id"`
}

// UpdateUserRequest for PUT /api/auth/users/{id}
type UpdateUserRequest struct {
	Email      *string `json:"email" validate:"omitempty,email"`
	FirstName  *string `json:"first_name" validate:"omitempty,max=150"`
	LastName   *string `json:"last_name" validate:"omitempty,max=150"`
	Phone      *string `json:"phone" validate:"omitempty,max=20"`
	Role       *string `json:"role" validate:"omitempty,oneof=simple super admin superadmin"`
	GroupID    *int64  `json:"group_id"`
	IsActive   *bool   `json:"is_active"`
	IsVerified *bool   `json:"is_verified"`
}

// GrantPermissionRequest for POST /api/auth/users/{id}/permissions
type GrantPermissionRequest struct {
	Permission string `json:"permission" validate:"required"`
}

// UserListResponse for GET /api/auth/users
type UserListResponse struct {
	Users []*models.User `json:"users"`
	Total int            `json:"total"`
}

// UsersHandler handles user administration requests.
type UsersHandler struct {
	base
	userService services.UserService
}

// NewUsersHandler creates a new users handler.
func NewUsersHandler(userService services.UserService, auditor *audit.SecurityAuditor, logger *zap.Logger) *UsersHandler {
	return &UsersHandler{
		base:        base{logger: logger, auditor: auditor},
		userService: userService,
	}
}

// RegisterRoutes registers the users handler's routes on the given mux.
func (h *UsersHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	prefix := "/api/auth"
	requireAdmin := authMiddleware.RequireRole(models.RoleAdmin)

	mux.HandleFunc("GET "+prefix+"/users", authMiddleware.RequireAuth(scope(h.List)))
	mux.HandleFunc("GET "+prefix+"/users/{id}", authMiddleware.RequireAuth(scope(h.Get)))
	mux.HandleFunc("PUT "+prefix+"/users/{id}", authMiddleware.RequireAuth(scope(h.Update)))
	mux.HandleFunc("DELETE "+prefix+"/users/{id}", requireAdmin(scope(h.Deactivate)))
	mux.HandleFunc("GET "+prefix+"/users/{id}/permissions", authMiddleware.RequireAuth(scope(h.ListPermissions)))
	mux.HandleFunc("POST "+prefix+"/users/{id}/permissions", requireAdmin(scope(h.GrantPermission)))
	mux.HandleFunc("DELETE "+prefix+"/users/{id}/permissions/{perm}", requireAdmin(scope(h.RevokePermission)))
	mux.HandleFunc("GET "+prefix+"/admin/users", requireAdmin(scope(h.List)))
	mux.HandleFunc("POST "+prefix+"/admin/users", requireAdmin(scope(h.Create)))
}

// List handles GET /api/auth/users and GET /api/auth/admin/users
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	users, err := h.userService.ListUsers(r.Context(), p, repositories.UserFilter{
		Role:   r.URL.Query().Get("role"),
		Active: parseOptionalBool(r, "is_active"),
		Page:   parsePage(r),
	})
	if err != nil {
		h.serviceError(w, r, err, "List users")
		return
	}
	h.ok(w, http.StatusOK, UserListResponse{Users: users, Total: len(users)})
}

// Get handles GET /api/auth/users/{id}
func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	user, err := h.userService.GetUser(r.Context(), p, id)
	if err != nil {
		h.serviceError(w, r, err, "Get user")
		return
	}
	h.ok(w, http.StatusOK, user)
}

// Create handles POST /api/auth/admin/users
func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req CreateUserRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.userService.CreateUser(r.Context(), p, services.NewUserInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Role:      models.Role(req.Role),
		GroupID:   req.GroupID,
	})
	if err != nil {
		h.serviceError(w, r, err, "Create user")
		return
	}
	h.ok(w, http.StatusCreated, user)
}

// Update handles PUT /api/auth/users/{id}
func (h *UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	var req UpdateUserRequest
	if !h.decode(w, r, &req) {
		return
	}

	update := services.UserUpdate{
		Email:      req.Email,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Phone:      req.Phone,
		GroupID:    req.GroupID,
		IsActive:   req.IsActive,
		IsVerified: req.IsVerified,
	}
	if req.Role != nil {
		role := models.Role(*req.Role)
		update.Role = &role
	}

	user, err := h.userService.UpdateUser(r.Context(), p, id, update)
	if err != nil {
		h.serviceError(w, r, err, "Update user")
		return
	}
	h.ok(w, http.StatusOK, user)
}

// Deactivate handles DELETE /api/auth/users/{id}
func (h *UsersHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	if err := h.userService.DeactivateUser(r.Context(), p, id); err != nil {
		h.serviceError(w, r, err, "Deactivate user")
		return
	}
	h.okMessage(w, "User deactivated", nil)
}

// ListPermissions handles GET /api/auth/users/{id}/permissions
func (h *UsersHandler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	perms, err := h.userService.ListPermissions(r.Context(), p, id)
	if err != nil {
		h.serviceError(w, r, err, "List permissions")
		return
	}
	h.ok(w, http.StatusOK, perms)
}

// GrantPermission handles POST /api/auth/users/{id}/permissions
func (h *UsersHandler) GrantPermission(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	var req GrantPermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	perm, err := h.userService.GrantPermission(r.Context(), p, id, req.Permission)
	if err != nil {
		h.serviceError(w, r, err, "Grant permission")
		return
	}
	h.ok(w, http.StatusCreated, perm)
}

// RevokePermission handles DELETE /api/auth/users/{id}/permissions/{perm}
func (h *UsersHandler) RevokePermission(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	if err := h.userService.RevokePermission(r.Context(), p, id, r.PathValue("perm")); err != nil {
		h.serviceError(w, r, err, "Revoke permission")
		return
	}
	h.okMessage(w, "Permission revoked", nil)
}
