package handlers

import (
	"bytes"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/audit"
	"github.com/omnifin/backoffice/pkg/auth"
	"github.com/omnifin/backoffice/pkg/config"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/services"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// CreateOrderRequest for POST /api/orders
type CreateOrderRequest struct {
	OrderType      string           `json:"order_type" validate:"required,oneof=loan insurance"`
	Priority       string           `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Amount         *decimal.Decimal `json:"amount"`
	ConversationID *int64           `json:"conversation_id"`
	Metadata       map[string]any   `json:"metadata"`
}

// UpdateOrderRequest for PUT /api/orders/{id}
type UpdateOrderRequest struct {
	Priority   *string          `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Amount     *decimal.Decimal `json:"amount"`
	AssignedTo *int64           `json:"assigned_to"`
	Metadata   map[string]any   `json:"metadata"`
}

// ChangeStatusRequest for POST /api/orders/{id}/status/
type ChangeStatusRequest struct {
	Status string `json:"status" validate:"required"`
	Notes  string `json:"notes" validate:"max=2000"`
}

// OrdersHandler serves the order workflow.
type OrdersHandler struct {
	base
	orders       services.OrderService
	maxFileBytes int64
}

// NewOrdersHandler creates a new orders handler.
func NewOrdersHandler(orders services.OrderService, uploads config.UploadsConfig, auditor *audit.SecurityAuditor, logger *zap.Logger) *OrdersHandler {
	return &OrdersHandler{
		base:         base{logger: logger, auditor: auditor},
		orders:       orders,
		maxFileBytes: uploads.MaxFileBytes,
	}
}

// RegisterRoutes registers the orders handler's routes on the given mux.
func (h *OrdersHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	prefix := "/api/orders"
	authed := authMiddleware.RequireAuth

	mux.HandleFunc("GET "+prefix, authed(scope(h.List)))
	mux.HandleFunc("POST "+prefix, authed(scope(h.Create)))
	mux.HandleFunc("GET "+prefix+"/export", authed(scope(h.Export)))
	mux.HandleFunc("GET "+prefix+"/{id}", authed(scope(h.Get)))
	mux.HandleFunc("PUT "+prefix+"/{id}", authed(scope(h.Update)))
	// Clients call the status route with a trailing slash; accept both.
	mux.HandleFunc("POST "+prefix+"/{id}/status/", authed(scope(h.ChangeStatus)))
	mux.HandleFunc("POST "+prefix+"/{id}/status", authed(scope(h.ChangeStatus)))
	mux.HandleFunc("GET "+prefix+"/{id}/history", authed(scope(h.History)))
	mux.HandleFunc("GET "+prefix+"/{id}/documents", authed(scope(h.ListDocuments)))
	mux.HandleFunc("POST "+prefix+"/{id}/documents", authed(scope(h.UploadDocument)))
	mux.HandleFunc("GET /api/documents/{id}", authed(scope(h.GetDocument)))
	mux.HandleFunc("GET /api/documents/{id}/download", authed(scope(h.DownloadDocument)))
	mux.HandleFunc("DELETE /api/documents/{id}", authed(scope(h.DeleteDocument)))
}

func orderFilter(r *http.Request) models.OrderFilter {
	page := parsePage(r)
	return models.OrderFilter{
		Status:    r.URL.Query().Get("status"),
		OrderType: r.URL.Query().Get("order_type"),
		Limit:     page.Limit,
		Offset:    page.Offset,
	}
}

// List handles GET /api/orders
func (h *OrdersHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	orders, err := h.orders.List(r.Context(), p, orderFilter(r))
	if err != nil {
		h.serviceError(w, r, err, "List orders")
		return
	}
	h.ok(w, http.StatusOK, orders)
}

// Create handles POST /api/orders
func (h *OrdersHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req CreateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Amount != nil && req.Amount.IsNegative() {
		h.fail(w, http.StatusBadRequest, "validation_error", "amount must not be negative")
		return
	}

	order, err := h.orders.Create(r.Context(), p, services.OrderInput{
		OrderType:      req.OrderType,
		Priority:       req.Priority,
		Amount:         req.Amount,
		ConversationID: req.ConversationID,
		Metadata:       req.Metadata,
	})
	if err != nil {
		h.serviceError(w, r, err, "Create order")
		return
	}
	h.ok(w, http.StatusCreated, order)
}

// Get handles GET /api/orders/{id}
func (h *OrdersHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	order, err := h.orders.Get(r.Context(), p, id)
	if err != nil {
		h.serviceError(w, r, err, "Get order")
		return
	}
	h.ok(w, http.StatusOK, order)
}

// Update handles PUT /api/orders/{id}
func (h *OrdersHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	var req UpdateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Amount != nil && req.Amount.IsNegative() {
		h.fail(w, http.StatusBadRequest, "validation_error", "amount must not be negative")
		return
	}

	order, err := h.orders.Update(r.Context(), p, id, services.OrderUpdate{
		Priority:   req.Priority,
		Amount:     req.Amount,
		AssignedTo: req.AssignedTo,
		Metadata:   req.Metadata,
	})
	if err != nil {
		h.serviceError(w, r, err, "Update order")
		return
	}
	h.ok(w, http.StatusOK, order)
}

// ChangeStatus handles POST /api/orders/{id}/status/
func (h *OrdersHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	var req ChangeStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.orders.ChangeStatus(r.Context(), p, id, req.Status, req.Notes)
	if err != nil {
		h.serviceError(w, r, err, "Change order status")
		return
	}
	h.okMessage(w, "Order status updated", order)
}

// History handles GET /api/orders/{id}/history
func (h *OrdersHandler) History(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	history, err := h.orders.History(r.Context(), p, id)
	if err != nil {
		h.serviceError(w, r, err, "Get order history")
		return
	}
	h.ok(w, http.StatusOK, history)
}

// ListDocuments handles GET /api/orders/{id}/documents
func (h *OrdersHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	docs, err := h.orders.ListDocuments(r.Context(), p, id)
	if err != nil {
		h.serviceError(w, r, err, "List order documents")
		return
	}
	h.ok(w, http.StatusOK, docs)
}

// UploadDocument handles POST /api/orders/{id}/documents
// (multipart fields "file" and "document_type")
func (h *OrdersHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	up, closeUpload, ok := h.readUpload(w, r, "file", h.maxFileBytes)
	if !ok {
		return
	}
	defer closeUpload()

	doc, err := h.orders.UploadDocument(r.Context(), p, id, r.FormValue("document_type"), up)
	if err != nil {
		h.serviceError(w, r, err, "Upload order document")
		return
	}
	h.ok(w, http.StatusCreated, doc)
}

// GetDocument handles GET /api/documents/{id}
func (h *OrdersHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	doc, err := h.orders.GetDocument(r.Context(), p, id)
	if err != nil {
		h.serviceError(w, r, err, "Get order document")
		return
	}
	h.ok(w, http.StatusOK, doc)
}

// DownloadDocument handles GET /api/documents/{id}/download
func (h *OrdersHandler) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	doc, rc, err := h.orders.OpenDocument(r.Context(), p, id)
	if err != nil {
		h.serviceError(w, r, err, "Download order document")
		return
	}
	h.stream(w, rc, doc.MimeType, doc.OriginalName)
}

// DeleteDocument handles DELETE /api/documents/{id}
func (h *OrdersHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	if err := h.orders.DeleteDocument(r.Context(), p, id); err != nil {
		h.serviceError(w, r, err, "Delete order document")
		return
	}
	h.okMessage(w, "Document deleted", nil)
}

// Export handles GET /api/orders/export. The workbook is built in memory so a
// failure can still be reported as JSON.
func (h *OrdersHandler) Export(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := h.orders.Export(r.Context(), p, orderFilter(r), &buf); err != nil {
		h.serviceError(w, r, err, "Export orders")
		return
	}
	filename := "orders-" + time.Now().UTC().Format("20060102") + ".xlsx"
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", mimeAttachment(filename))
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Warn("Failed to write export", zap.Error(err))
	}
}
