// Package logging redacts credentials and customer contact details before they reach logs.
package logging

import (
	"regexp"
	"strings"
)

const (
	// MaxPreviewLength bounds message previews written to logs.
	MaxPreviewLength = 80
	// RedactedText replaces sensitive values.
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx up to the next delimiter
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	jwtPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*`)

	// Bare provider keys (sk-..., sk-ant-...) as well as key=value pairs.
	apiKeyPattern      = regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9-_]{20,}`)
	providerKeyPattern = regexp.MustCompile(`\bsk-[A-Za-z0-9-_]{16,}`)

	// user:pass@host
	connStringPattern = regexp.MustCompile(`://[^:]+:[^@]+@[^/\s]+`)

	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)
)

var sensitiveKeywords = []string{"password", "secret", "token", "key", "credential"}

// SanitizeConnectionString removes credentials from a DSN or URL.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError returns err's message with passwords, tokens and API keys removed.
// Use it for errors from the database, Redis, S3 and LLM providers.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = jwtPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = providerKeyPattern.ReplaceAllString(sanitized, RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// MessagePreview truncates a customer chat message and masks emails and phone numbers.
func MessagePreview(message string) string {
	preview := emailPattern.ReplaceAllString(message, "[EMAIL]")
	preview = phonePattern.ReplaceAllString(preview, "[PHONE]")
	return TruncateString(strings.TrimSpace(preview), MaxPreviewLength)
}

// SanitizeArguments redacts sensitive keys and truncates long string values.
func SanitizeArguments(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}

	result := make(map[string]any, len(args))
	for k, v := range args {
		if isSensitiveKey(k) {
			result[k] = RedactedText
			continue
		}
		if str, ok := v.(string); ok {
			result[k] = TruncateString(str, 200)
		} else {
			result[k] = v
		}
	}
	return result
}

func isSensitiveKey(k string) bool {
	lower := strings.ToLower(k)
	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// TruncateString cuts s to maxLen bytes plus an ellipsis.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
