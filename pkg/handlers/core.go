package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/audit"
	"github.com/omnifin/backoffice/pkg/auth"
	"github.com/omnifin/backoffice/pkg/config"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// GroupRequest for POST and PUT /api/core/groups
type GroupRequest struct {
	Name        *string        `json:"name" validate:"omitempty,min=1,max=100"`
	Description *string        `json:"description"`
	IsActive    *bool          `json:"is_active"`
	Settings    map[string]any `json:"settings"`
}

// APIConfigRequest for POST /api/core/api-config
type APIConfigRequest struct {
	Name          string         `json:"name" validate:"required,max=100"`
	APIType       string         `json:"api_type" validate:"required"`
	Provider      string         `json:"provider" validate:"required"`
	EndpointURL   string         `json:"endpoint_url" validate:"omitempty,url"`
	APIKey        string         `json:"api_key"`
	Configuration map[string]any `json:"configuration"`
	IsActive      *bool          `json:"is_active"`
	GroupID       *int64         `json:"group_id"`
}

// APIConfigUpdateRequest for PUT /api/core/api-config/{id}
type APIConfigUpdateRequest struct {
	Name          *string        `json:"name" validate:"omitempty,max=100"`
	EndpointURL   *string        `json:"endpoint_url" validate:"omitempty,url"`
	APIKey        *string        `json:"api_key"`
	Configuration map[string]any `json:"configuration"`
	IsActive      *bool          `json:"is_active"`
}

// SettingRequest for PUT /api/core/settings/{key}
type SettingRequest struct {
	Value       string `json:"value"`
	Description string `json:"description"`
}

// SettingCreateRequest for POST /api/core/settings
type SettingCreateRequest struct {
	Key string `json:"key" validate:"required"`
	SettingRequest
}

// NotificationRequest for POST /api/core/notifications
type NotificationRequest struct {
	Title    string         `json:"title" validate:"required,max=200"`
	Message  string         `json:"message" validate:"required"`
	Type     string         `json:"notification_type" validate:"omitempty,oneof=info warning error success"`
	UserID   *int64         `json:"user_id"`
	GroupID  *int64         `json:"group_id"`
	Metadata map[string]any `json:"metadata"`
}

// ============================================================================
// Handler
// ============================================================================

// CoreHandler serves groups, integrations, settings, uploads, notifications
// and the operational dashboards under /api/core.
type CoreHandler struct {
	base
	groups        services.GroupService
	apiConfigs    services.APIConfigService
	settings      services.SettingService
	files         services.FileService
	notifications services.NotificationService
	analytics     services.AnalyticsService
	health        services.HealthService
	maxFileBytes  int64
}

// NewCoreHandler creates a new core handler.
func NewCoreHandler(
	groups services.GroupService,
	apiConfigs services.APIConfigService,
	settings services.SettingService,
	files services.FileService,
	notifications services.NotificationService,
	analytics services.AnalyticsService,
	health services.HealthService,
	uploads config.UploadsConfig,
	auditor *audit.SecurityAuditor,
	logger *zap.Logger,
) *CoreHandler {
	return &CoreHandler{
		base:          base{logger: logger, auditor: auditor},
		groups:        groups,
		apiConfigs:    apiConfigs,
		settings:      settings,
		files:         files,
		notifications: notifications,
		analytics:     analytics,
		health:        health,
		maxFileBytes:  uploads.MaxFileBytes,
	}
}

// RegisterRoutes registers the core handler's routes on the given mux.
func (h *CoreHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	prefix := "/api/core"
	authed := authMiddleware.RequireAuth
	admin := authMiddleware.RequireRole(models.RoleAdmin)
	superadmin := authMiddleware.RequireRole(models.RoleSuperadmin)

	mux.HandleFunc("GET "+prefix+"/groups", admin(scope(h.ListGroups)))
	mux.HandleFunc("POST "+prefix+"/groups", superadmin(scope(h.CreateGroup)))
	mux.HandleFunc("GET "+prefix+"/groups/{id}", admin(scope(h.GetGroup)))
	mux.HandleFunc("PUT "+prefix+"/groups/{id}", superadmin(scope(h.UpdateGroup)))
	mux.HandleFunc("DELETE "+prefix+"/groups/{id}", superadmin(scope(h.DeleteGroup)))

	mux.HandleFunc("GET "+prefix+"/api-config", admin(scope(h.ListAPIConfigs)))
	mux.HandleFunc("POST "+prefix+"/api-config", admin(scope(h.CreateAPIConfig)))
	mux.HandleFunc("GET "+prefix+"/api-config/{id}", admin(scope(h.GetAPIConfig)))
	mux.HandleFunc("PUT "+prefix+"/api-config/{id}", admin(scope(h.UpdateAPIConfig)))
	mux.HandleFunc("DELETE "+prefix+"/api-config/{id}", admin(scope(h.DeleteAPIConfig)))

	mux.HandleFunc("GET "+prefix+"/settings", admin(scope(h.ListSettings)))
	mux.HandleFunc("POST "+prefix+"/settings", admin(scope(h.CreateSetting)))
	mux.HandleFunc("GET "+prefix+"/settings/{key}", admin(scope(h.GetSetting)))
	mux.HandleFunc("PUT "+prefix+"/settings/{key}", admin(scope(h.PutSetting)))
	mux.HandleFunc("DELETE "+prefix+"/settings/{key}", admin(scope(h.DeleteSetting)))

	mux.HandleFunc("GET "+prefix+"/upload", authed(scope(h.ListUploads)))
	mux.HandleFunc("POST "+prefix+"/upload", authed(scope(h.Upload)))
	mux.HandleFunc("GET "+prefix+"/upload/{id}", authed(scope(h.GetUpload)))
	mux.HandleFunc("GET "+prefix+"/upload/{id}/download", authed(scope(h.DownloadUpload)))
	mux.HandleFunc("DELETE "+prefix+"/upload/{id}", authed(scope(h.DeleteUpload)))

	mux.HandleFunc("GET "+prefix+"/notifications", authed(scope(h.ListNotifications)))
	mux.HandleFunc("POST "+prefix+"/notifications", admin(scope(h.CreateNotification)))
	mux.HandleFunc("GET "+prefix+"/notifications/unread-count", authed(scope(h.UnreadCount)))
	mux.HandleFunc("POST "+prefix+"/notifications/read-all", authed(scope(h.MarkAllRead)))
	mux.HandleFunc("GET "+prefix+"/notifications/{id}", authed(scope(h.GetNotification)))
	mux.HandleFunc("POST "+prefix+"/notifications/{id}/read", authed(scope(h.MarkRead)))

	mux.HandleFunc("GET "+prefix+"/dashboard/stats", authed(scope(h.DashboardStats)))
	mux.HandleFunc("GET "+prefix+"/system/health", admin(scope(h.SystemHealth)))
}

// ---- groups ----

// ListGroups handles GET /api/core/groups
func (h *CoreHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	groups, err := h.groups.List(r.Context(), p)
	if err != nil {
		h.serviceError(w, r, err, "List groups")
		return
	}
	h.ok(w, http.StatusOK, groups)
}

// CreateGroup handles POST /api/core/groups
func (h *CoreHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req GroupRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Name == nil {
		h.fail(w, http.StatusBadRequest, "validation_error", "name is required")
		return
	}

	group := &models.Group{Name: *req.Name, IsActive: true, Settings: req.Settings}
	if req.Description != nil {
		group.Description = *req.Description
	}
	if req.IsActive != nil {
		group.IsActive = *req.IsActive
	}
	if err := h.groups.Create(r.Context(), p, group); err != nil {
		h.serviceError(w, r, err, "Create group")
		return
	}
	h.ok(w, http.StatusCreated, group)
}

// GetGroup handles GET /api/core/groups/{id}
func (h *CoreHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	group, err := h.groups.Get(r.Context(), p, id)
	if err != nil {
		h.serviceError(w, r, err, "Get group")
		return
	}
	h.ok(w, http.StatusOK, group)
}

// UpdateGroup handles PUT /api/core/groups/{id}
func (h *CoreHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	var req GroupRequest
	if !h.decode(w, r, &req) {
		return
	}
	group, err := h.groups.Update(r.Context(), p, id, services.GroupUpdate{
		Name:        req.Name,
		Description: req.Description,
		IsActive:    req.IsActive,
		Settings:    req.Settings,
	})
	if err != nil {
		h.serviceError(w, r, err, "Update group")
		return
	}
	h.ok(w, http.StatusOK, group)
}

// DeleteGroup handles DELETE /api/core/groups/{id}
func (h *CoreHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	if err := h.groups.Delete(r.Context(), p, id); err != nil {
		h.serviceError(w, r, err, "Delete group")
		return
	}
	h.okMessage(w, "Group deleted", nil)
}

// ---- api configurations ----

// ListAPIConfigs handles GET /api/core/api-config
func (h *CoreHandler) ListAPIConfigs(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	configs, err := h.apiConfigs.List(r.Context(), p)
	if err != nil {
		h.serviceError(w, r, err, "List API configurations")
		return
	}
	h.ok(w, http.StatusOK, configs)
}

// CreateAPIConfig handles POST /api/core/api-config
func (h *CoreHandler) CreateAPIConfig(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req APIConfigRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.apiConfigs.Create(r.Context(), p, services.APIConfigInput{
		Name:          req.Name,
		APIType:       req.APIType,
		Provider:      req.Provider,
		EndpointURL:   req.EndpointURL,
		APIKey:        req.APIKey,
		Configuration: req.Configuration,
		IsActive:      req.IsActive,
		GroupID:       req.GroupID,
	})
	if err != nil {
		h.serviceError(w, r, err, "Create API configuration")
		return
	}
	h.ok(w, http.StatusCreated, view)
}

// GetAPIConfig handles GET /api/core/api-config/{id}
func (h *CoreHandler) GetAPIConfig(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	view, err := h.apiConfigs.Get(r.Context(), p, id)
	if err != nil {
		h.serviceError(w, r, err, "Get API configuration")
		return
	}
	h.ok(w, http.StatusOK, view)
}

// UpdateAPIConfig handles PUT /api/core/api-config/{id}
func (h *CoreHandler) UpdateAPIConfig(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	var req APIConfigUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.apiConfigs.Update(r.Context(), p, id, services.APIConfigUpdate{
		Name:          req.Name,
		EndpointURL:   req.EndpointURL,
		APIKey:        req.APIKey,
		Configuration: req.Configuration,
		IsActive:      req.IsActive,
	})
	if err != nil {
		h.serviceError(w, r, err, "Update API configuration")
		return
	}
	h.ok(w, http.StatusOK, view)
}

// DeleteAPIConfig handles DELETE /api/core/api-config/{id}
func (h *CoreHandler) DeleteAPIConfig(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	if err := h.apiConfigs.Delete(r.Context(), p, id); err != nil {
		h.serviceError(w, r, err, "Delete API configuration")
		return
	}
	h.okMessage(w, "API configuration deleted", nil)
}

// ---- settings ----

// ListSettings handles GET /api/core/settings
func (h *CoreHandler) ListSettings(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	settings, err := h.settings.List(r.Context(), p)
	if err != nil {
		h.serviceError(w, r, err, "List settings")
		return
	}
	h.ok(w, http.StatusOK, settings)
}

// CreateSetting handles POST /api/core/settings
func (h *CoreHandler) CreateSetting(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req SettingCreateRequest
	if !h.decode(w, r, &req) {
		return
	}
	setting := &models.SystemSetting{Key: req.Key, Value: req.Value, Description: req.Description}
	if err := h.settings.Put(r.Context(), p, setting); err != nil {
		h.serviceError(w, r, err, "Create setting")
		return
	}
	h.ok(w, http.StatusCreated, setting)
}

// GetSetting handles GET /api/core/settings/{key}
func (h *CoreHandler) GetSetting(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	setting, err := h.settings.Get(r.Context(), p, r.PathValue("key"))
	if err != nil {
		h.serviceError(w, r, err, "Get setting")
		return
	}
	h.ok(w, http.StatusOK, setting)
}

// PutSetting handles PUT /api/core/settings/{key}
func (h *CoreHandler) PutSetting(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req SettingRequest
	if !h.decode(w, r, &req) {
		return
	}
	setting := &models.SystemSetting{Key: r.PathValue("key"), Value: req.Value, Description: req.Description}
	if err := h.settings.Put(r.Context(), p, setting); err != nil {
		h.serviceError(w, r, err, "Update setting")
		return
	}
	h.ok(w, http.StatusOK, setting)
}

// DeleteSetting handles DELETE /api/core/settings/{key}
func (h *CoreHandler) DeleteSetting(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	if err := h.settings.Delete(r.Context(), p, r.PathValue("key")); err != nil {
		h.serviceError(w, r, err, "Delete setting")
		return
	}
	h.okMessage(w, "Setting deleted", nil)
}

// ---- uploads ----

// ListUploads handles GET /api/core/upload
func (h *CoreHandler) ListUploads(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	files, err := h.files.List(r.Context(), p, r.URL.Query().Get("file_type"), parsePage(r))
	if err != nil {
		h.serviceError(w, r, err, "List uploads")
		return
	}
	h.ok(w, http.StatusOK, files)
}

// Upload handles POST /api/core/upload (multipart field "file")
func (h *CoreHandler) Upload(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	up, closeUpload, ok := h.readUpload(w, r, "file", h.maxFileBytes)
	if !ok {
		return
	}
	defer closeUpload()

	file, err := h.files.Upload(r.Context(), p, up)
	if err != nil {
		h.serviceError(w, r, err, "Upload file")
		return
	}
	h.ok(w, http.StatusCreated, file)
}

// GetUpload handles GET /api/core/upload/{id}
func (h *CoreHandler) GetUpload(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	file, err := h.files.Get(r.Context(), p, id)
	if err != nil {
		h.serviceError(w, r, err, "Get upload")
		return
	}
	h.ok(w, http.StatusOK, file)
}

// DownloadUpload handles GET /api/core/upload/{id}/download
func (h *CoreHandler) DownloadUpload(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	file, rc, err := h.files.Open(r.Context(), p, id)
	if err != nil {
		h.serviceError(w, r, err, "Download upload")
		return
	}
	h.stream(w, rc, file.MimeType, file.OriginalName)
}

// DeleteUpload handles DELETE /api/core/upload/{id}
func (h *CoreHandler) DeleteUpload(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	if err := h.files.Delete(r.Context(), p, id); err != nil {
		h.serviceError(w, r, err, "Delete upload")
		return
	}
	h.okMessage(w, "File deleted", nil)
}

// ---- notifications ----

// ListNotifications handles GET /api/core/notifications?unread=true
func (h *CoreHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	unread := parseOptionalBool(r, "unread")
	notes, err := h.notifications.List(r.Context(), p, unread != nil && *unread, parsePage(r))
	if err != nil {
		h.serviceError(w, r, err, "List notifications")
		return
	}
	h.ok(w, http.StatusOK, notes)
}

// CreateNotification handles POST /api/core/notifications
func (h *CoreHandler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req NotificationRequest
	if !h.decode(w, r, &req) {
		return
	}
	n := &models.Notification{
		Title:    req.Title,
		Message:  req.Message,
		Type:     req.Type,
		UserID:   req.UserID,
		GroupID:  req.GroupID,
		Metadata: req.Metadata,
	}
	if err := h.notifications.Broadcast(r.Context(), p, n); err != nil {
		h.serviceError(w, r, err, "Create notification")
		return
	}
	h.ok(w, http.StatusCreated, n)
}

// GetNotification handles GET /api/core/notifications/{id}
func (h *CoreHandler) GetNotification(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	n, err := h.notifications.Get(r.Context(), p, id)
	if err != nil {
		h.serviceError(w, r, err, "Get notification")
		return
	}
	h.ok(w, http.StatusOK, n)
}

// MarkRead handles POST /api/core/notifications/{id}/read
func (h *CoreHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(r.Context(), p, id); err != nil {
		h.serviceError(w, r, err, "Mark notification read")
		return
	}
	h.okMessage(w, "Notification marked as read", nil)
}

// MarkAllRead handles POST /api/core/notifications/read-all
func (h *CoreHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	n, err := h.notifications.MarkAllRead(r.Context(), p)
	if err != nil {
		h.serviceError(w, r, err, "Mark all notifications read")
		return
	}
	h.ok(w, http.StatusOK, map[string]int64{"updated": n})
}

// UnreadCount handles GET /api/core/notifications/unread-count
func (h *CoreHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	n, err := h.notifications.UnreadCount(r.Context(), p)
	if err != nil {
		h.serviceError(w, r, err, "Count unread notifications")
		return
	}
	h.ok(w, http.StatusOK, map[string]int64{"unread_count": n})
}

// ---- dashboards ----

// DashboardStats handles GET /api/core/dashboard/stats
func (h *CoreHandler) DashboardStats(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	stats, err := h.analytics.Dashboard(r.Context(), p)
	if err != nil {
		h.serviceError(w, r, err, "Dashboard stats")
		return
	}
	h.ok(w, http.StatusOK, stats)
}

// SystemHealth handles GET /api/core/system/health
// A degraded report still returns 200 so dashboards can render it.
func (h *CoreHandler) SystemHealth(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	report, err := h.health.Check(r.Context(), p)
	if err != nil {
		h.serviceError(w, r, err, "System health")
		return
	}
	h.ok(w, http.StatusOK, report)
}
