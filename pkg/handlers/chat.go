package handlers

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/audit"
	"github.com/omnifin/backoffice/pkg/auth"
	"github.com/omnifin/backoffice/pkg/config"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/services"
)

// ChatStartRequest for POST /api/chat/start and /api/voice-chat/start
type ChatStartRequest struct {
	OrderType string `json:"order_type"`
}

// ChatMessageRequest for POST /api/chat/message
type ChatMessageRequest struct {
	ConversationID *int64 `json:"conversation_id"`
	Message        string `json:"message" validate:"max=10000"`
	OrderType      string `json:"order_type"`
}

// ProcessMessageRequest for POST /api/ai/process-message
type ProcessMessageRequest struct {
	Message string `json:"message" validate:"required,max=10000"`
}

// ChatStartResponse for POST /api/chat/start
type ChatStartResponse struct {
	Conversation   *models.Conversation `json:"conversation"`
	WelcomeMessage *models.Message      `json:"welcome_message"`
}

// ChatMessageResponse for POST /api/chat/message. Only conversation_id and
// welcome_message are set when no message text was sent.
type ChatMessageResponse struct {
	ConversationID int64              `json:"conversation_id"`
	WelcomeMessage *models.Message    `json:"welcome_message,omitempty"`
	UserMessage    *models.Message    `json:"user_message,omitempty"`
	AIResponse     *models.Message    `json:"ai_response,omitempty"`
	Intent         string             `json:"intent,omitempty"`
	Entities       *services.Entities `json:"entities,omitempty"`
}

// ChatStatusResponse for GET /api/chat/status
type ChatStatusResponse struct {
	Active       bool                 `json:"active"`
	Conversation *models.Conversation `json:"conversation,omitempty"`
}

// ChatHandler serves the assistant chat and voice workflow.
type ChatHandler struct {
	base
	chat          services.ChatService
	maxAudioBytes int64
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(chat services.ChatService, uploads config.UploadsConfig, auditor *audit.SecurityAuditor, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		base:          base{logger: logger, auditor: auditor},
		chat:          chat,
		maxAudioBytes: uploads.MaxAudioBytes,
	}
}

// RegisterRoutes registers the chat handler's routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	authed := authMiddleware.RequireAuth

	mux.HandleFunc("POST /api/chat/start", authed(scope(h.Start)))
	mux.HandleFunc("POST /api/chat/message", authed(scope(h.Message)))
	mux.HandleFunc("GET /api/chat/history", authed(scope(h.History)))
	mux.HandleFunc("POST /api/chat/voice", authed(scope(h.Voice)))
	mux.HandleFunc("GET /api/chat/status", authed(scope(h.Status)))
	mux.HandleFunc("POST /api/voice-chat/start", authed(scope(h.VoiceStart)))
	mux.HandleFunc("POST /api/voice-recordings/upload", authed(scope(h.UploadRecording)))
	mux.HandleFunc("GET /api/voice-recordings/{id}", authed(scope(h.GetRecording)))
	mux.HandleFunc("GET /api/voice-recordings/{id}/download", authed(scope(h.DownloadRecording)))
	mux.HandleFunc("POST /api/ai/process-message", authed(scope(h.ProcessMessage)))
}

// decodeOptional decodes a body that may be empty.
func (h *ChatHandler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return h.decode(w, r, dst)
}

// Start handles POST /api/chat/start
func (h *ChatHandler) Start(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req ChatStartRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	start, err := h.chat.Start(r.Context(), p, req.OrderType)
	if err != nil {
		h.serviceError(w, r, err, "Start chat")
		return
	}
	h.ok(w, http.StatusCreated, ChatStartResponse{
		Conversation:   start.Conversation,
		WelcomeMessage: start.WelcomeMessage,
	})
}

// Message handles POST /api/chat/message
func (h *ChatHandler) Message(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req ChatMessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	exchange, err := h.chat.PostMessage(r.Context(), p, req.ConversationID, req.Message, req.OrderType)
	if err != nil {
		h.serviceError(w, r, err, "Post chat message")
		return
	}

	status := http.StatusOK
	if exchange.Welcome != nil {
		status = http.StatusCreated
	}
	h.ok(w, status, ChatMessageResponse{
		ConversationID: exchange.ConversationID,
		WelcomeMessage: exchange.Welcome,
		UserMessage:    exchange.UserMessage,
		AIResponse:     exchange.AIMessage,
		Intent:         exchange.Intent,
		Entities:       exchange.Entities,
	})
}

// History handles GET /api/chat/history?conversation_id=
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := parseOptionalID(w, r, "conversation_id", h.logger)
	if !ok {
		return
	}
	if id == nil {
		h.fail(w, http.StatusBadRequest, "validation_error", "conversation_id is required")
		return
	}
	msgs, err := h.chat.History(r.Context(), p, *id)
	if err != nil {
		h.serviceError(w, r, err, "Get chat history")
		return
	}
	h.ok(w, http.StatusOK, msgs)
}

// Voice handles POST /api/chat/voice (multipart "audio_file", optional
// "conversation_id", "order_type" and "duration")
func (h *ChatHandler) Voice(w http.ResponseWriter, r *http.Request) {
	h.voice(w, r, "Process voice message", h.chat.Voice)
}

// UploadRecording handles POST /api/voice-recordings/upload
func (h *ChatHandler) UploadRecording(w http.ResponseWriter, r *http.Request) {
	h.voice(w, r, "Upload voice recording", h.chat.UploadRecording)
}

type voiceFunc func(ctx context.Context, p models.Principal, in services.VoiceInput) (*services.VoiceResult, error)

func (h *ChatHandler) voice(w http.ResponseWriter, r *http.Request, op string, run voiceFunc) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	up, closeUpload, ok := h.readUpload(w, r, "audio_file", h.maxAudioBytes)
	if !ok {
		return
	}
	defer closeUpload()

	convID, ok := parseFormID(w, r, "conversation_id", h.logger)
	if !ok {
		return
	}
	result, err := run(r.Context(), p, services.VoiceInput{
		ConversationID: convID,
		OrderType:      r.FormValue("order_type"),
		Duration:       parseFormFloat(r, "duration"),
		Audio:          up,
	})
	if err != nil {
		h.serviceError(w, r, err, op)
		return
	}
	h.ok(w, http.StatusCreated, result)
}

// Status handles GET /api/chat/status
func (h *ChatHandler) Status(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := parseOptionalID(w, r, "conversation_id", h.logger)
	if !ok {
		return
	}
	status, err := h.chat.Status(r.Context(), p, id)
	if err != nil {
		h.serviceError(w, r, err, "Get chat status")
		return
	}
	h.ok(w, http.StatusOK, ChatStatusResponse{Active: status.Active, Conversation: status.Conversation})
}

// VoiceStart handles POST /api/voice-chat/start
func (h *ChatHandler) VoiceStart(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req ChatStartRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	conv, err := h.chat.VoiceStart(r.Context(), p, req.OrderType)
	if err != nil {
		h.serviceError(w, r, err, "Start voice chat")
		return
	}
	h.ok(w, http.StatusCreated, conv)
}

// GetRecording handles GET /api/voice-recordings/{id}
func (h *ChatHandler) GetRecording(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	rec, err := h.chat.GetRecording(r.Context(), p, id)
	if err != nil {
		h.serviceError(w, r, err, "Get voice recording")
		return
	}
	h.ok(w, http.StatusOK, rec)
}

// DownloadRecording handles GET /api/voice-recordings/{id}/download
func (h *ChatHandler) DownloadRecording(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	rec, rc, contentType, err := h.chat.OpenRecording(r.Context(), p, id)
	if err != nil {
		h.serviceError(w, r, err, "Download voice recording")
		return
	}
	h.stream(w, rc, contentType, "recording-"+strconv.FormatInt(rec.ID, 10))
}

// ProcessMessage handles POST /api/ai/process-message
func (h *ChatHandler) ProcessMessage(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req ProcessMessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	reply, err := h.chat.ProcessMessage(r.Context(), p, req.Message)
	if err != nil {
		h.serviceError(w, r, err, "Process message")
		return
	}
	h.ok(w, http.StatusOK, reply)
}
