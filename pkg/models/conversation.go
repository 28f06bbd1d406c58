package models

import "time"

// Conversation types.
const (
	ConversationTypeChat  = "chat"
	ConversationTypeVoice = "voice"
)

// Conversation statuses.
const (
	ConversationActive      = "active"
	ConversationEnded       = "ended"
	ConversationTransferred = "transferred"
	ConversationWaiting     = "waiting"
)

// ValidConversationStatuses lists accepted conversation statuses.
var ValidConversationStatuses = []string{
	ConversationActive, ConversationEnded, ConversationTransferred, ConversationWaiting,
}

// Message sender types.
const (
	SenderUser   = "user"
	SenderAI     = "ai"
	SenderAgent  = "agent"
	SenderSystem = "system"
)

// Message content types.
const (
	MessageText  = "text"
	MessageImage = "image"
	MessageAudio = "audio"
	MessageFile  = "file"
	MessageVideo = "video"
)

// ValidMessageTypes lists accepted message types.
var ValidMessageTypes = []string{MessageText, MessageImage, MessageAudio, MessageFile, MessageVideo}

// Conversation is a chat or voice session owned by one user.
type Conversation struct {
	ID           int64          `json:"id"`
	UserID       int64          `json:"user_id"`
	GroupID      *int64         `json:"group_id,omitempty"`
	Type         string         `json:"conversation_type"`
	Status       string         `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	EndedAt      *time.Time     `json:"ended_at,omitempty"`
	Duration     *int64         `json:"duration,omitempty"`
	Metadata     map[string]any `json:"metadata"`
	MessageCount int            `json:"message_count"`
}

// OrderType returns the order type tag stored in metadata.
func (c *Conversation) OrderType() string {
	if v, ok := c.Metadata["order_type"].(string); ok {
		return v
	}
	return ""
}

// Message is one turn in a conversation.
type Message struct {
	ID             int64          `json:"id"`
	ConversationID int64          `json:"conversation_id"`
	SenderType     string         `json:"sender_type"`
	SenderID       *int64         `json:"sender_id,omitempty"`
	MessageType    string         `json:"message_type"`
	Content        string         `json:"content"`
	FileURL        string         `json:"file_url,omitempty"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      time.Time      `json:"created_at"`
}

// VoiceRecording is the audio attached to a message.
type VoiceRecording struct {
	ID              int64     `json:"id"`
	MessageID       int64     `json:"message_id"`
	StorageKey      string    `json:"storage_key"`
	Duration        float64   `json:"duration"`
	Transcript      string    `json:"transcript"`
	Language        string    `json:"language"`
	ConfidenceScore float64   `json:"confidence_score"`
	CreatedAt       time.Time `json:"created_at"`
}
