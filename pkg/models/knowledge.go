package models

import "time"

// ValidKnowledgeCategories lists accepted knowledge entry categories.
var ValidKnowledgeCategories = []string{
	"loan", "insurance", "general", "procedure", "faq", "policy", "compliance",
}

// KnowledgeEntry is a piece of reference text the assistant can cite.
type KnowledgeEntry struct {
	ID          int64          `json:"id"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	Category    string         `json:"category"`
	Subcategory string         `json:"subcategory"`
	Tags        []string       `json:"tags"`
	GroupID     *int64         `json:"group_id,omitempty"`
	CreatedBy   *int64         `json:"created_by,omitempty"`
	IsActive    bool           `json:"is_active"`
	Version     int            `json:"version"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// KnowledgeVersion is the snapshot of an entry taken before an update.
type KnowledgeVersion struct {
	ID            int64     `json:"id"`
	EntryID       int64     `json:"knowledge_entry_id"`
	Version       int       `json:"version"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	ChangeSummary string    `json:"change_summary"`
	CreatedBy     *int64    `json:"created_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// FAQ is a question with its canonical answer.
type FAQ struct {
	ID        int64     `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Category  string    `json:"category"`
	Tags      []string  `json:"tags"`
	GroupID   *int64    `json:"group_id,omitempty"`
	CreatedBy *int64    `json:"created_by,omitempty"`
	IsActive  bool      `json:"is_active"`
	ViewCount int       `json:"view_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AutoVersionSummary is the change summary recorded on every update.
const AutoVersionSummary = "Automatic version on update"
