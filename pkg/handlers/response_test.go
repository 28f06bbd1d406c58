package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/omnifin/backoffice/pkg/apperrors"
	"github.com/omnifin/backoffice/pkg/audit"
	"github.com/omnifin/backoffice/pkg/storage"
)

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		errorCode  string
		message    string
	}{
		{"bad request", http.StatusBadRequest, "bad_request", "invalid input"},
		{"not found", http.StatusNotFound, "not_found", "resource not found"},
		{"internal error", http.StatusInternalServerError, "internal_error", "something went wrong"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			require.NoError(t, ErrorResponse(w, tt.statusCode, tt.errorCode, tt.message))
			assert.Equal(t, tt.statusCode, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var body map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.errorCode, body["error"])
			assert.Equal(t, tt.message, body["message"])
		})
	}
}

func TestWriteJSON_Envelope(t *testing.T) {
	w := httptest.NewRecorder()
	b := base{logger: zap.NewNop()}

	b.ok(w, http.StatusCreated, map[string]int{"id": 3})

	assert.Equal(t, http.StatusCreated, w.Code)
	var body struct {
		Success bool           `json:"success"`
		Data    map[string]int `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, 3, body.Data["id"])
}

func TestServiceError_Mapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"validation", fmt.Errorf("%w: title is required", apperrors.ErrValidation), http.StatusBadRequest, "validation_error"},
		{"invalid status", apperrors.ErrInvalidStatus, http.StatusBadRequest, "invalid_status"},
		{"invalid transition", apperrors.ErrInvalidTransition, http.StatusBadRequest, "invalid_transition"},
		{"not found", fmt.Errorf("load order: %w", apperrors.ErrNotFound), http.StatusNotFound, "not_found"},
		{"missing object", storage.ErrObjectNotFound, http.StatusNotFound, "not_found"},
		{"forbidden", apperrors.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"conflict", apperrors.ErrConflict, http.StatusConflict, "conflict"},
		{"credentials", apperrors.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
		{"inactive", apperrors.ErrInactiveUser, http.StatusForbidden, "account_disabled"},
		{"unknown", errors.New("connection reset"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/api/orders/1", nil)
			base{logger: zap.NewNop()}.serviceError(w, r, tt.err, "Get order")

			assert.Equal(t, tt.wantCode, w.Code)
			var body map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.wantErr, body["error"])
		})
	}
}

func TestServiceError_InternalDetailHidden(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	base{logger: zap.NewNop()}.serviceError(w, r, errors.New("password=hunter2 rejected"), "List orders")

	assert.NotContains(t, w.Body.String(), "hunter2")
}

func TestServiceError_ForbiddenIsAudited(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	b := base{logger: zap.NewNop(), auditor: audit.NewSecurityAuditor(zap.New(core))}

	r := httptest.NewRequest(http.MethodDelete, "/api/core/groups/2", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	b.serviceError(httptest.NewRecorder(), r, apperrors.ErrForbidden, "Delete group")

	entries := logs.FilterMessage("Access denied").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "10.0.0.9", entries[0].ContextMap()["client_ip"])
	assert.Equal(t, "/api/core/groups/2", entries[0].ContextMap()["path"])
}

func TestDecode_Validation(t *testing.T) {
	type payload struct {
		Email string `json:"email" validate:"required,email"`
	}
	b := base{logger: zap.NewNop()}

	tests := []struct {
		name     string
		body     string
		wantOK   bool
		wantCode int
	}{
		{"valid", `{"email":"a@b.co"}`, true, http.StatusOK},
		{"malformed", `{"email":`, false, http.StatusBadRequest},
		{"missing", `{}`, false, http.StatusBadRequest},
		{"bad email", `{"email":"nope"}`, false, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst payload
			assert.Equal(t, tt.wantOK, b.decode(w, r, &dst))
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", clientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", clientIP(r))
}
