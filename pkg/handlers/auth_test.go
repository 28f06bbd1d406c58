package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/apperrors"
	"github.com/omnifin/backoffice/pkg/auth"
	"github.com/omnifin/backoffice/pkg/config"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/services"
)

type fakeUsers struct {
	services.UserService
	registered *services.RegisterInput
	loggedOut  []int64
}

func (f *fakeUsers) Register(_ context.Context, in services.RegisterInput) (*services.AuthResult, error) {
	if in.Email == "taken@example.com" {
		return nil, apperrors.ErrConflict
	}
	f.registered = &in
	return &services.AuthResult{
		User:      &models.User{ID: 1, Email: in.Email, Role: models.RoleSimple},
		Token:     "issued-token",
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

func (f *fakeUsers) Login(_ context.Context, email, password string) (*services.AuthResult, error) {
	switch {
	case email == "disabled@example.com":
		return nil, apperrors.ErrInactiveUser
	case password != "correct-horse":
		return nil, apperrors.ErrInvalidCredentials
	}
	return &services.AuthResult{
		User:      &models.User{ID: 2, Email: email, Role: models.RoleSuper},
		Token:     "login-token",
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

func (f *fakeUsers) Logout(_ context.Context, p models.Principal) {
	f.loggedOut = append(f.loggedOut, p.UserID)
}

func (f *fakeUsers) CheckPermission(_ context.Context, p models.Principal, permission string) (bool, error) {
	return p.Role.AtLeast(models.RoleAdmin) || permission == models.PermViewOwnProfile, nil
}

func newAuthMux(users *fakeUsers) *http.ServeMux {
	mux := http.NewServeMux()
	NewAuthHandler(users, &config.Config{BaseURL: "https://backoffice.example.com"}, nil, zap.NewNop()).
		RegisterRoutes(mux, newTestAuthMiddleware(), passthroughScope)
	return mux
}

func tokenCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.CookieName {
			return c
		}
	}
	return nil
}

func TestAuthHandler_Register(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"valid", `{"email":"new@example.com","password":"s3cretpass","password_confirm":"s3cretpass","first_name":"Ana"}`,
			http.StatusCreated, ""},
		{"passwords differ", `{"email":"new@example.com","password":"s3cretpass","password_confirm":"other-pass"}`,
			http.StatusBadRequest, "validation_error"},
		{"short password", `{"email":"new@example.com","password":"short","password_confirm":"short"}`,
			http.StatusBadRequest, "validation_error"},
		{"bad email", `{"email":"nope","password":"s3cretpass","password_confirm":"s3cretpass"}`,
			http.StatusBadRequest, "validation_error"},
		{"duplicate email", `{"email":"taken@example.com","password":"s3cretpass","password_confirm":"s3cretpass"}`,
			http.StatusConflict, "conflict"},
		{"malformed json", `{"email":`, http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := &fakeUsers{}
			rec := httptest.NewRecorder()
			newAuthMux(users).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(tt.body)))

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantCode != "" {
				var errResp map[string]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
				assert.Equal(t, tt.wantCode, errResp["error"])
				assert.Nil(t, tokenCookie(rec))
				return
			}

			var resp AuthResponse
			decodeEnvelope(t, rec, &resp)
			assert.Equal(t, "issued-token", resp.Token)
			assert.Equal(t, "new@example.com", users.registered.Email)

			cookie := tokenCookie(rec)
			require.NotNil(t, cookie)
			assert.Equal(t, "issued-token", cookie.Value)
			assert.True(t, cookie.HttpOnly)
		})
	}
}

func TestAuthHandler_Login(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"valid", `{"email":"ana@example.com","password":"correct-horse"}`, http.StatusOK, ""},
		{"wrong password", `{"email":"ana@example.com","password":"battery"}`, http.StatusUnauthorized, "invalid_credentials"},
		{"disabled", `{"email":"disabled@example.com","password":"correct-horse"}`, http.StatusForbidden, "account_disabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newAuthMux(&fakeUsers{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(tt.body)))

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantCode != "" {
				var errResp map[string]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
				assert.Equal(t, tt.wantCode, errResp["error"])
				return
			}
			env := decodeEnvelope(t, rec, nil)
			assert.True(t, env.Success)
			assert.Equal(t, "Login successful", env.Message)
			require.NotNil(t, tokenCookie(rec))
		})
	}
}

func TestAuthHandler_Logout(t *testing.T) {
	users := &fakeUsers{}
	mux := newAuthMux(users)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(mux, httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil), tokenSuper)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{20}, users.loggedOut)

	cookie := tokenCookie(rec)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Negative(t, cookie.MaxAge)
}

func TestAuthHandler_CheckPermission(t *testing.T) {
	mux := newAuthMux(&fakeUsers{})

	tests := []struct {
		token      string
		permission string
		want       bool
	}{
		{tokenSimple, models.PermViewOwnProfile, true},
		{tokenSimple, models.PermManageGroup, false},
		{tokenAdmin, models.PermManageGroup, true},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/check-permission",
			strings.NewReader(`{"permission":"`+tt.permission+`"}`))
		rec := serve(mux, req, tt.token)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			HasPermission bool `json:"has_permission"`
		}
		decodeEnvelope(t, rec, &resp)
		assert.Equal(t, tt.want, resp.HasPermission, "%s %s", tt.token, tt.permission)
	}
}
