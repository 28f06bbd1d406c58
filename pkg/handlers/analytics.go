package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/audit"
	"github.com/omnifin/backoffice/pkg/auth"
	"github.com/omnifin/backoffice/pkg/repositories"
	"github.com/omnifin/backoffice/pkg/services"
)

// AnalyticsHandler serves activity reporting.
type AnalyticsHandler struct {
	base
	analytics services.AnalyticsService
}

// NewAnalyticsHandler creates a new analytics handler.
func NewAnalyticsHandler(analytics services.AnalyticsService, auditor *audit.SecurityAuditor, logger *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		base:      base{logger: logger, auditor: auditor},
		analytics: analytics,
	}
}

// RegisterRoutes registers the analytics handler's routes on the given mux.
func (h *AnalyticsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	prefix := "/api/analytics"
	authed := authMiddleware.RequireAuth

	mux.HandleFunc("GET "+prefix+"/summary", authed(scope(h.Summary)))
	mux.HandleFunc("GET "+prefix+"/trends", authed(scope(h.Trends)))
	mux.HandleFunc("GET "+prefix+"/activities", authed(scope(h.Activities)))
	mux.HandleFunc("GET "+prefix+"/activities/{id}", authed(scope(h.Activity)))
	mux.HandleFunc("GET "+prefix+"/engagement", authed(scope(h.Engagement)))
}

// Summary handles GET /api/analytics/summary
func (h *AnalyticsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	summary, err := h.analytics.Summary(r.Context(), p)
	if err != nil {
		h.serviceError(w, r, err, "Get analytics summary")
		return
	}
	h.ok(w, http.StatusOK, summary)
}

// Trends handles GET /api/analytics/trends?days=N
func (h *AnalyticsHandler) Trends(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			h.fail(w, http.StatusBadRequest, "validation_error", "days must be a number")
			return
		}
		days = v
	}
	trends, err := h.analytics.Trends(r.Context(), p, days)
	if err != nil {
		h.serviceError(w, r, err, "Get activity trends")
		return
	}
	h.ok(w, http.StatusOK, trends)
}

// Activities handles GET /api/analytics/activities
func (h *AnalyticsHandler) Activities(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	userID, ok := parseOptionalID(w, r, "user_id", h.logger)
	if !ok {
		return
	}
	h.screenSearch(r, "activities", "action")

	activities, err := h.analytics.Activities(r.Context(), p, repositories.ActivityFilter{
		UserID: userID,
		Action: r.URL.Query().Get("action"),
		Page:   parsePage(r),
	})
	if err != nil {
		h.serviceError(w, r, err, "List activities")
		return
	}
	h.ok(w, http.StatusOK, activities)
}

// Activity handles GET /api/analytics/activities/{id}
func (h *AnalyticsHandler) Activity(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	activity, err := h.analytics.Activity(r.Context(), p, id)
	if err != nil {
		h.serviceError(w, r, err, "Get activity")
		return
	}
	h.ok(w, http.StatusOK, activity)
}

// Engagement handles GET /api/analytics/engagement
func (h *AnalyticsHandler) Engagement(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	rows, err := h.analytics.Engagement(r.Context(), p, parsePage(r))
	if err != nil {
		h.serviceError(w, r, err, "List engagement")
		return
	}
	h.ok(w, http.StatusOK, rows)
}
