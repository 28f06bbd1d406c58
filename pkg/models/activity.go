package models

import "time"

// Activity actions.
const (
	ActionLogin        = "login"
	ActionLogout       = "logout"
	ActionView         = "view"
	ActionCreate       = "create"
	ActionUpdate       = "update"
	ActionDelete       = "delete"
	ActionChatStart    = "chat_start"
	ActionChatMessage  = "chat_message"
	ActionVoiceStart   = "voice_start"
	ActionFileUpload   = "file_upload"
	ActionOrderCreated = "order_created"
	ActionOrderUpdated = "order_updated"
)

// ValidActions lists every recorded action.
var ValidActions = []string{
	ActionLogin, ActionLogout, ActionView, ActionCreate, ActionUpdate, ActionDelete,
	ActionChatStart, ActionChatMessage, ActionVoiceStart, ActionFileUpload,
	ActionOrderCreated, ActionOrderUpdated,
}

// UserActivity is one append-only audit row.
type UserActivity struct {
	ID           int64          `json:"id"`
	UserID       int64          `json:"user_id"`
	GroupID      *int64         `json:"group_id,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   *int64         `json:"resource_id,omitempty"`
	Description  string         `json:"description"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

// RequestInfo carries client details recorded with an activity.
type RequestInfo struct {
	IPAddress string
	UserAgent string
	SessionID string
}

// UserEngagement holds per-user per-day counters.
type UserEngagement struct {
	UserID             int64     `json:"user_id"`
	GroupID            *int64    `json:"group_id,omitempty"`
	Date               time.Time `json:"date"`
	SessionDuration    *int64    `json:"session_duration,omitempty"`
	PageViews          int       `json:"page_views"`
	ConversationsCount int       `json:"conversations_count"`
	MessagesSent       int       `json:"messages_sent"`
	OrdersCreated      int       `json:"orders_created"`
	FilesUploaded      int       `json:"files_uploaded"`
	UniqueSessions     int       `json:"unique_sessions"`
}

// EngagementDelta increments one or more engagement counters.
type EngagementDelta struct {
	PageViews          int
	ConversationsCount int
	MessagesSent       int
	OrdersCreated      int
	FilesUploaded      int
}

// IsZero reports whether the delta changes nothing.
func (d EngagementDelta) IsZero() bool {
	return d == EngagementDelta{}
}

// EngagementDeltaFor maps an action to the counter it bumps.
func EngagementDeltaFor(action string) EngagementDelta {
	switch action {
	case ActionView:
		return EngagementDelta{PageViews: 1}
	case ActionChatStart, ActionVoiceStart:
		return EngagementDelta{ConversationsCount: 1}
	case ActionChatMessage:
		return EngagementDelta{MessagesSent: 1}
	case ActionOrderCreated:
		return EngagementDelta{OrdersCreated: 1}
	case ActionFileUpload:
		return EngagementDelta{FilesUploaded: 1}
	}
	return EngagementDelta{}
}
