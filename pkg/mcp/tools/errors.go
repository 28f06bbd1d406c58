package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/omnifin/backoffice/pkg/apperrors"
)

// ErrorResponse represents a structured error in tool results.
// Returned as a successful tool result so the client sees the details
// instead of a bare transport error.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use it for errors the caller can act on (bad parameters, missing records).
// System failures are returned as Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// HandleServiceError turns caller-facing service errors into tool results and
// passes anything else through as a Go error.
func HandleServiceError(err error, fallbackCode string) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return NewErrorResult("not_found", "resource not found"), nil
	case errors.Is(err, apperrors.ErrForbidden):
		return NewErrorResult("forbidden", "insufficient permissions"), nil
	case errors.Is(err, apperrors.ErrValidation):
		return NewErrorResult("invalid_parameters", err.Error()), nil
	default:
		return nil, fmt.Errorf("%s: %w", fallbackCode, err)
	}
}

// jsonResult marshals v as the tool's text content.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
