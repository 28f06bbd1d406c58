package models

import "time"

// Notification types.
var ValidNotificationTypes = []string{"info", "warning", "error", "success"}

// Notification is a message shown to a user or a whole group.
type Notification struct {
	ID        int64          `json:"id"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Type      string         `json:"notification_type"`
	UserID    *int64         `json:"user_id,omitempty"`
	GroupID   *int64         `json:"group_id,omitempty"`
	IsRead    bool           `json:"is_read"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// File categories.
const (
	FileTypeImage    = "image"
	FileTypeDocument = "document"
	FileTypeAudio    = "audio"
	FileTypeVideo    = "video"
	FileTypeOther    = "other"
)

// FileUpload is a stored user upload.
type FileUpload struct {
	ID           int64     `json:"id"`
	StorageKey   string    `json:"storage_key"`
	OriginalName string    `json:"original_name"`
	FileType     string    `json:"file_type"`
	Size         int64     `json:"file_size"`
	MimeType     string    `json:"mime_type"`
	UploadedBy   int64     `json:"uploaded_by"`
	GroupID      *int64    `json:"group_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SystemSetting is a global key/value setting.
type SystemSetting struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// API configuration kinds and providers.
var (
	ValidAPITypes     = []string{"llm_text", "llm_voice", "crm", "erp"}
	ValidAPIProviders = []string{"openai", "anthropic", "elevenlabs", "custom"}
)

// APIConfiguration is a stored third-party integration.
// The API key is kept encrypted and never serialized.
type APIConfiguration struct {
	ID              int64          `json:"id"`
	Name            string         `json:"name"`
	APIType         string         `json:"api_type"`
	Provider        string         `json:"provider"`
	EndpointURL     string         `json:"endpoint_url"`
	APIKeyEncrypted string         `json:"-"`
	HasAPIKey       bool           `json:"has_api_key"`
	Configuration   map[string]any `json:"configuration"`
	IsActive        bool           `json:"is_active"`
	GroupID         *int64         `json:"group_id,omitempty"`
	CreatedBy       *int64         `json:"created_by,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
