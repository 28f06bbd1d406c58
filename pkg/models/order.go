package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order types.
const (
	OrderTypeLoan      = "loan"
	OrderTypeInsurance = "insurance"
)

// ValidOrderTypes lists accepted order types.
var ValidOrderTypes = []string{OrderTypeLoan, OrderTypeInsurance}

// Order statuses.
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusCompleted  = "completed"
	OrderStatusCancelled  = "cancelled"
	OrderStatusOnHold     = "on_hold"
)

// ValidOrderStatuses lists accepted order statuses.
var ValidOrderStatuses = []string{
	OrderStatusPending, OrderStatusProcessing, OrderStatusCompleted,
	OrderStatusCancelled, OrderStatusOnHold,
}

// Order priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// ValidPriorities lists accepted priorities.
var ValidPriorities = []string{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

// Document types attachable to an order.
var ValidDocumentTypes = []string{"identity", "income", "address", "other"}

// Order is a loan or insurance request.
type Order struct {
	ID             int64            `json:"id"`
	UserID         int64            `json:"user_id"`
	GroupID        *int64           `json:"group_id,omitempty"`
	OrderType      string           `json:"order_type"`
	Status         string           `json:"status"`
	Priority       string           `json:"priority"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	ConversationID *int64           `json:"conversation_id,omitempty"`
	AssignedTo     *int64           `json:"assigned_to,omitempty"`
	Metadata       map[string]any   `json:"metadata"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the order reached completed or cancelled.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusCompleted || o.Status == OrderStatusCancelled
}

// OrderStatusHistory records one status change.
type OrderStatusHistory struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"order_id"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	ChangedBy *int64    `json:"changed_by,omitempty"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
}

// OrderDocument is a file attached to an order.
type OrderDocument struct {
	ID                int64     `json:"id"`
	OrderID           int64     `json:"order_id"`
	DocumentType      string    `json:"document_type"`
	StorageKey        string    `json:"storage_key"`
	OriginalName      string    `json:"original_name"`
	Size              int64     `json:"size"`
	MimeType          string    `json:"mime_type"`
	UploadedBy        int64     `json:"uploaded_by"`
	IsVerified        bool      `json:"is_verified"`
	VerificationNotes string    `json:"verification_notes"`
	CreatedAt         time.Time `json:"created_at"`
}

// OrderFilter narrows order lists.
type OrderFilter struct {
	Status    string
	OrderType string
	Limit     uint64
	Offset    uint64
}

// Contains reports whether v is in values.
func Contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
