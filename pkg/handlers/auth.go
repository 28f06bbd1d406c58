package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/audit"
	"github.com/omnifin/backoffice/pkg/auth"
	"github.com/omnifin/backoffice/pkg/config"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/services"
)

// RegisterRequest for POST /api/auth/register
type RegisterRequest struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
	FirstName       string `json:"first_name" validate:"max=150"`
	LastName        string `json:"last_name" validate:"max=150"`
	Phone           string `json:"phone" validate:"max=20"`
}

// LoginRequest for POST /api/auth/login
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// ChangePasswordRequest for POST /api/auth/password/change
type ChangePasswordRequest struct {
	OldPassword        string `json:"old_password" validate:"required"`
	NewPassword        string `json:"new_password" validate:"required,min=8"`
	NewPasswordConfirm string `json:"new_password_confirm" validate:"required"`
}

// ProfileUpdateRequest for PUT /api/auth/profile
type ProfileUpdateRequest struct {
	Email     *string `json:"email" validate:"omitempty,email"`
	FirstName *string `json:"first_name" validate:"omitempty,max=150"`
	LastName  *string `json:"last_name" validate:"omitempty,max=150"`
	Phone     *string `json:"phone" validate:"omitempty,max=20"`
}

// CheckPermissionRequest for POST /api/auth/check-permission
type CheckPermissionRequest struct {
	Permission string `json:"permission"`
}

// AuthResponse is returned by register, login and password change.
type AuthResponse struct {
	User      *models.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// MeResponse for GET /api/auth/me
type MeResponse struct {
	User    *models.User `json:"user"`
	Role    models.Role  `json:"role"`
	GroupID *int64       `json:"group_id,omitempty"`
	IsAdmin bool         `json:"is_admin"`
}

// AuthHandler handles account sign-in and self-service requests.
type AuthHandler struct {
	base
	userService services.UserService
	cookies     auth.CookieSettings
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(userService services.UserService, cfg *config.Config, auditor *audit.SecurityAuditor, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		base:        base{logger: logger, auditor: auditor},
		userService: userService,
		cookies:     auth.DeriveCookieSettings(cfg.BaseURL),
	}
}

// RegisterRoutes registers the auth handler's routes on the given mux.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	prefix := "/api/auth"

	mux.HandleFunc("POST "+prefix+"/register", scope(h.Register))
	mux.HandleFunc("POST "+prefix+"/login", scope(h.Login))
	mux.HandleFunc("POST "+prefix+"/logout", authMiddleware.RequireAuth(scope(h.Logout)))
	mux.HandleFunc("GET "+prefix+"/profile", authMiddleware.RequireAuth(scope(h.Profile)))
	mux.HandleFunc("PUT "+prefix+"/profile", authMiddleware.RequireAuth(scope(h.UpdateProfile)))
	mux.HandleFunc("POST "+prefix+"/password/change", authMiddleware.RequireAuth(scope(h.ChangePassword)))
	mux.HandleFunc("GET "+prefix+"/me", authMiddleware.RequireAuth(scope(h.Me)))
	mux.HandleFunc("POST "+prefix+"/check-permission", authMiddleware.RequireAuth(scope(h.CheckPermission)))
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.userService.Register(r.Context(), services.RegisterInput{
		Email:           req.Email,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Phone:           req.Phone,
	})
	if err != nil {
		h.serviceError(w, r, err, "Register user")
		return
	}

	auth.SetTokenCookie(w, result.Token, result.ExpiresAt, h.cookies)
	h.ok(w, http.StatusCreated, authResponse(result))
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.userService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.serviceError(w, r, err, "Login")
		return
	}

	auth.SetTokenCookie(w, result.Token, result.ExpiresAt, h.cookies)
	h.okMessage(w, "Login successful", authResponse(result))
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	h.userService.Logout(r.Context(), p)
	auth.ClearTokenCookie(w, h.cookies)
	h.okMessage(w, "Logged out", nil)
}

// Profile handles GET /api/auth/profile
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	user, err := h.userService.Profile(r.Context(), p)
	if err != nil {
		h.serviceError(w, r, err, "Get profile")
		return
	}
	h.ok(w, http.StatusOK, user)
}

// UpdateProfile handles PUT /api/auth/profile
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req ProfileUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.userService.UpdateProfile(r.Context(), p, services.UserUpdate{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	})
	if err != nil {
		h.serviceError(w, r, err, "Update profile")
		return
	}
	h.ok(w, http.StatusOK, user)
}

// ChangePassword handles POST /api/auth/password/change
// A fresh token is returned since clients drop the old one.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req ChangePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.userService.ChangePassword(r.Context(), p, req.OldPassword, req.NewPassword, req.NewPasswordConfirm)
	if err != nil {
		h.serviceError(w, r, err, "Change password")
		return
	}

	auth.SetTokenCookie(w, result.Token, result.ExpiresAt, h.cookies)
	h.okMessage(w, "Password changed", authResponse(result))
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	user, err := h.userService.Profile(r.Context(), p)
	if err != nil {
		h.serviceError(w, r, err, "Get current user")
		return
	}
	h.ok(w, http.StatusOK, MeResponse{
		User:    user,
		Role:    p.Role,
		GroupID: p.GroupID,
		IsAdmin: p.IsAdmin(),
	})
}

// CheckPermission handles POST /api/auth/check-permission
func (h *AuthHandler) CheckPermission(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req CheckPermissionRequest
	if !h.decode(w, r, &req) {
		return
	}

	has, err := h.userService.CheckPermission(r.Context(), p, req.Permission)
	if err != nil {
		h.serviceError(w, r, err, "Check permission")
		return
	}
	h.ok(w, http.StatusOK, map[string]any{
		"permission":     req.Permission,
		"has_permission": has,
	})
}

func authResponse(result *services.AuthResult) AuthResponse {
	return AuthResponse{User: result.User, Token: result.Token, ExpiresAt: result.ExpiresAt}
}
