package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/sashabaranov/go-openai"
)

// ErrorType classifies provider failures.
type ErrorType string

const (
	ErrorTypeEndpoint  ErrorType = "endpoint"
	ErrorTypeAuth      ErrorType = "auth"
	ErrorTypeModel     ErrorType = "model"
	ErrorTypeRateLimit ErrorType = "rate_limit"
	ErrorTypeTimeout   ErrorType = "timeout"
	ErrorTypeEmpty     ErrorType = "empty_response"
	ErrorTypeUnknown   ErrorType = "unknown"
)

// Error is a classified provider error.
type Error struct {
	Type       ErrorType
	Message    string
	Retryable  bool
	Cause      error
	StatusCode int
	Provider   string
}

func (e *Error) Error() string {
	parts := []string{string(e.Type)}
	if e.Provider != "" {
		parts = append(parts, "provider="+e.Provider)
	}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable implements retry.RetryableError.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// NewError creates a classified error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{Type: errType, Message: message, Retryable: retryable, Cause: cause}
}

// ClassifyError turns a provider or transport error into an *Error.
// Status codes reported by the OpenAI and Anthropic SDKs take precedence over
// matching on the error text.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(ErrorTypeTimeout, "request timeout", true, err)
	}
	if errors.Is(err, context.Canceled) {
		return NewError(ErrorTypeTimeout, "request canceled", false, err)
	}

	if status := statusCode(err); status > 0 {
		classified := classifyStatus(status, err)
		classified.StatusCode = status
		return classified
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(ErrorTypeTimeout, "request timeout", true, err)
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host"):
		return NewError(ErrorTypeEndpoint, "connection failed", true, err)
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return NewError(ErrorTypeTimeout, "request timeout", true, err)
	case strings.Contains(lower, "rate limit"):
		return NewError(ErrorTypeRateLimit, "rate limited", true, err)
	case strings.Contains(lower, "invalid api key") || strings.Contains(lower, "unauthorized"):
		return NewError(ErrorTypeAuth, "authentication failed", false, err)
	}
	return NewError(ErrorTypeUnknown, "llm error", false, err)
}

func statusCode(err error) int {
	var oaiErr *openai.APIError
	if errors.As(err, &oaiErr) {
		return oaiErr.HTTPStatusCode
	}
	var oaiReqErr *openai.RequestError
	if errors.As(err, &oaiReqErr) {
		return oaiReqErr.HTTPStatusCode
	}
	var antReqErr *anthropic.RequestError
	if errors.As(err, &antReqErr) {
		return antReqErr.StatusCode
	}
	return 0
}

func classifyStatus(status int, err error) *Error {
	switch {
	case status == 401 || status == 403:
		return NewError(ErrorTypeAuth, "authentication failed", false, err)
	case status == 404:
		return NewError(ErrorTypeModel, "model or endpoint not found", false, err)
	case status == 408:
		return NewError(ErrorTypeTimeout, "request timeout", true, err)
	case status == 429:
		return NewError(ErrorTypeRateLimit, "rate limited", true, err)
	case status >= 500:
		return NewError(ErrorTypeEndpoint, "server error", true, err)
	}
	return NewError(ErrorTypeUnknown, "request rejected", false, err)
}

// IsRetryable reports whether err is a retryable *Error.
func IsRetryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// GetErrorType extracts the ErrorType from an error.
func GetErrorType(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}
