package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/apperrors"
	"github.com/omnifin/backoffice/pkg/audit"
	"github.com/omnifin/backoffice/pkg/auth"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/storage"
)

// ApiResponse is the envelope every successful API response uses.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// base carries what every handler needs to read requests and write responses.
type base struct {
	logger  *zap.Logger
	auditor *audit.SecurityAuditor
}

func (b base) ok(w http.ResponseWriter, status int, data any) {
	if err := WriteJSON(w, status, ApiResponse{Success: true, Data: data}); err != nil {
		b.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (b base) okMessage(w http.ResponseWriter, message string, data any) {
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: data, Message: message}); err != nil {
		b.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (b base) fail(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		b.logger.Error("Failed to write error response", zap.Error(err))
	}
}

// principal returns the authenticated identity. Routes behind RequireAuth always have one.
func (b base) principal(w http.ResponseWriter, r *http.Request) (models.Principal, bool) {
	p, ok := auth.GetPrincipal(r.Context())
	if !ok {
		b.fail(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return models.Principal{}, false
	}
	return p, true
}

// decode reads a JSON body into dst and runs its validate tags.
func (b base) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		b.fail(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		b.fail(w, http.StatusBadRequest, "validation_error", validationMessage(err))
		return false
	}
	return true
}

// serviceError maps a service error onto a status code. Unknown errors are
// logged with op and reported as 500 without detail.
func (b base) serviceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, apperrors.ErrValidation),
		errors.Is(err, apperrors.ErrInvalidRole):
		b.fail(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, apperrors.ErrInvalidStatus):
		b.fail(w, http.StatusBadRequest, "invalid_status", err.Error())
	case errors.Is(err, apperrors.ErrInvalidTransition):
		b.fail(w, http.StatusBadRequest, "invalid_transition", err.Error())
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, storage.ErrObjectNotFound):
		b.fail(w, http.StatusNotFound, "not_found", "Resource not found")
	case errors.Is(err, apperrors.ErrForbidden):
		if b.auditor != nil {
			b.auditor.LogAccessDenied(r.Context(), r.Method, r.URL.Path, clientIP(r))
		}
		b.fail(w, http.StatusForbidden, "forbidden", "You do not have permission to perform this action")
	case errors.Is(err, apperrors.ErrConflict):
		b.fail(w, http.StatusConflict, "conflict", "Resource already exists")
	case errors.Is(err, apperrors.ErrInvalidCredentials):
		b.fail(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
	case errors.Is(err, apperrors.ErrInactiveUser):
		b.fail(w, http.StatusForbidden, "account_disabled", "Account is disabled")
	default:
		b.logger.Error(op+" failed", zap.String("path", r.URL.Path), zap.Error(err))
		b.fail(w, http.StatusInternalServerError, "internal_error", "An internal error occurred")
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "email":
			msgs = append(msgs, field+" must be a valid email")
		case "min":
			msgs = append(msgs, field+" must be at least "+fe.Param()+" characters")
		case "max":
			msgs = append(msgs, field+" must be at most "+fe.Param()+" characters")
		case "oneof":
			msgs = append(msgs, field+" must be one of: "+fe.Param())
		case "eqfield":
			msgs = append(msgs, field+" does not match")
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}

// clientIP prefers the first X-Forwarded-For hop over the socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
