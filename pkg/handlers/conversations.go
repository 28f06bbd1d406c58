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

// CreateConversationRequest for POST /api/conversations
type CreateConversationRequest struct {
	Type     string         `json:"type" validate:"omitempty,oneof=chat voice"`
	Metadata map[string]any `json:"metadata"`
}

// ConversationStatusRequest for POST /api/conversations/{id}/status
type ConversationStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=transferred waiting"`
}

// SendMessageRequest for POST /api/conversations/{id}/messages
type SendMessageRequest struct {
	MessageType string         `json:"message_type" validate:"omitempty,oneof=text image audio file video"`
	Content     string         `json:"content" validate:"max=10000"`
	FileURL     string         `json:"file_url" validate:"omitempty,url"`
	Metadata    map[string]any `json:"metadata"`
}

// ConversationsHandler serves conversations and their messages.
type ConversationsHandler struct {
	base
	conversations services.ConversationService
}

// NewConversationsHandler creates a new conversations handler.
func NewConversationsHandler(conversations services.ConversationService, auditor *audit.SecurityAuditor, logger *zap.Logger) *ConversationsHandler {
	return &ConversationsHandler{
		base:          base{logger: logger, auditor: auditor},
		conversations: conversations,
	}
}

// RegisterRoutes registers the conversations handler's routes on the given mux.
func (h *ConversationsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	prefix := "/api/conversations"
	authed := authMiddleware.RequireAuth

	mux.HandleFunc("GET "+prefix, authed(scope(h.List)))
	mux.HandleFunc("POST "+prefix, authed(scope(h.Create)))
	mux.HandleFunc("GET "+prefix+"/{id}", authed(scope(h.Get)))
	mux.HandleFunc("POST "+prefix+"/{id}/end", authed(scope(h.End)))
	mux.HandleFunc("POST "+prefix+"/{id}/status", authed(scope(h.SetStatus)))
	mux.HandleFunc("GET "+prefix+"/{id}/messages", authed(scope(h.Messages)))
	mux.HandleFunc("POST "+prefix+"/{id}/messages", authed(scope(h.SendMessage)))
	mux.HandleFunc("GET /api/messages/{id}", authed(scope(h.GetMessage)))
}

// List handles GET /api/conversations
func (h *ConversationsHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	convs, err := h.conversations.List(r.Context(), p, repositories.ConversationFilter{
		Status: r.URL.Query().Get("status"),
		Type:   r.URL.Query().Get("type"),
		Page:   parsePage(r),
	})
	if err != nil {
		h.serviceError(w, r, err, "List conversations")
		return
	}
	h.ok(w, http.StatusOK, convs)
}

// Create handles POST /api/conversations
func (h *ConversationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req CreateConversationRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Type == "" {
		req.Type = models.ConversationTypeChat
	}
	conv, err := h.conversations.Create(r.Context(), p, req.Type, req.Metadata)
	if err != nil {
		h.serviceError(w, r, err, "Create conversation")
		return
	}
	h.ok(w, http.StatusCreated, conv)
}

// Get handles GET /api/conversations/{id}
func (h *ConversationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	conv, err := h.conversations.Get(r.Context(), p, id)
	if err != nil {
		h.serviceError(w, r, err, "Get conversation")
		return
	}
	h.ok(w, http.StatusOK, conv)
}

// End handles POST /api/conversations/{id}/end
func (h *ConversationsHandler) End(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	conv, err := h.conversations.End(r.Context(), p, id)
	if err != nil {
		h.serviceError(w, r, err, "End conversation")
		return
	}
	h.okMessage(w, "Conversation ended", conv)
}

// SetStatus handles POST /api/conversations/{id}/status
func (h *ConversationsHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	var req ConversationStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	conv, err := h.conversations.SetStatus(r.Context(), p, id, req.Status)
	if err != nil {
		h.serviceError(w, r, err, "Set conversation status")
		return
	}
	h.ok(w, http.StatusOK, conv)
}

// Messages handles GET /api/conversations/{id}/messages
func (h *ConversationsHandler) Messages(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	msgs, err := h.conversations.Messages(r.Context(), p, id, parsePage(r))
	if err != nil {
		h.serviceError(w, r, err, "List messages")
		return
	}
	h.ok(w, http.StatusOK, msgs)
}

// SendMessage handles POST /api/conversations/{id}/messages
func (h *ConversationsHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	var req SendMessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	msg := &models.Message{
		MessageType: req.MessageType,
		Content:     req.Content,
		FileURL:     req.FileURL,
		Metadata:    req.Metadata,
	}
	if err := h.conversations.SendMessage(r.Context(), p, id, msg); err != nil {
		h.serviceError(w, r, err, "Send message")
		return
	}
	h.ok(w, http.StatusCreated, msg)
}

// GetMessage handles GET /api/messages/{id}
func (h *ConversationsHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	msg, err := h.conversations.GetMessage(r.Context(), p, id)
	if err != nil {
		h.serviceError(w, r, err, "Get message")
		return
	}
	h.ok(w, http.StatusOK, msg)
}
