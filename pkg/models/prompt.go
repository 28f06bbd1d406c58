package models

import (
	"fmt"
	"regexp"
	"time"
)

// ValidPromptCategories lists accepted prompt categories.
var ValidPromptCategories = []string{
	"loan", "insurance", "general", "greeting", "closing", "error", "validation",
}

// ValidPromptTypes lists accepted prompt types.
var ValidPromptTypes = []string{"system", "user", "assistant", "instruction"}

// WelcomePromptName names the prompt used to greet a new conversation.
const WelcomePromptName = "welcome_message"

// Prompt is a reusable template with {name} placeholders.
type Prompt struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	PromptType string    `json:"prompt_type"`
	Content    string    `json:"content"`
	Variables  []string  `json:"variables"`
	GroupID    *int64    `json:"group_id,omitempty"`
	CreatedBy  *int64    `json:"created_by,omitempty"`
	IsActive   bool      `json:"is_active"`
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PromptVersion is the snapshot of a prompt taken before an update.
type PromptVersion struct {
	ID            int64     `json:"id"`
	PromptID      int64     `json:"prompt_id"`
	Version       int       `json:"version"`
	Content       string    `json:"content"`
	ChangeSummary string    `json:"change_summary"`
	CreatedBy     *int64    `json:"created_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// MissingVariableError is returned by Render when a placeholder has no value.
type MissingVariableError struct {
	Name string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("Missing variable '%s'", e.Name)
}

var placeholderPattern = regexp.MustCompile(`\{\{|\}\}|\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Render substitutes {name} placeholders. Doubled braces produce literal braces.
func (p *Prompt) Render(vars map[string]any) (string, error) {
	return RenderTemplate(p.Content, vars)
}

// RenderTemplate substitutes {name} placeholders in content.
func RenderTemplate(content string, vars map[string]any) (string, error) {
	var missing *MissingVariableError
	out := placeholderPattern.ReplaceAllStringFunc(content, func(m string) string {
		switch m {
		case "{{":
			return "{"
		case "}}":
			return "}"
		}
		name := m[1 : len(m)-1]
		v, ok := vars[name]
		if !ok {
			if missing == nil {
				missing = &MissingVariableError{Name: name}
			}
			return m
		}
		return fmt.Sprint(v)
	})
	if missing != nil {
		return "", missing
	}
	return out, nil
}

// RenderOrExplain renders the prompt and returns the error text in place of the output on failure.
func (p *Prompt) RenderOrExplain(vars map[string]any) string {
	out, err := p.Render(vars)
	if err != nil {
		return "Error rendering prompt: " + err.Error()
	}
	return out
}

// ExtractVariables lists the distinct placeholder names in content, in order of appearance.
func ExtractVariables(content string) []string {
	seen := make(map[string]bool)
	vars := make([]string, 0)
	for _, m := range placeholderPattern.FindAllStringSubmatch(content, -1) {
		name := m[1]
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		vars = append(vars, name)
	}
	return vars
}
