package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/auth"
	"github.com/omnifin/backoffice/pkg/config"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/testhelpers"
)

// disabledResolver reports every user in disabled as inactive and echoes the rest.
type disabledResolver struct {
	disabled map[int64]bool
}

func (r *disabledResolver) ResolvePrincipal(_ context.Context, userID int64) (models.Principal, error) {
	if r.disabled[userID] {
		return models.Principal{}, auth.ErrInactivePrincipal
	}
	return models.Principal{UserID: userID, Role: models.RoleAdmin}, nil
}

// newJWTMux wires the auth routes and one admin-only route behind the real token validator.
func newJWTMux(t *testing.T, resolver auth.PrincipalResolver) (*http.ServeMux, *auth.JWTManager) {
	t.Helper()
	m := testhelpers.NewTestJWTManager(t)
	t.Cleanup(m.Close)

	svc := auth.NewAuthService(m, resolver, zap.NewNop())
	mw := auth.NewMiddleware(svc, zap.NewNop())

	mux := http.NewServeMux()
	NewAuthHandler(&fakeUsers{}, &config.Config{BaseURL: "https://backoffice.example.com"}, nil, zap.NewNop()).
		RegisterRoutes(mux, mw, passthroughScope)
	mux.HandleFunc("GET /api/admin-only", mw.RequireRole(models.RoleAdmin)(func(w http.ResponseWriter, r *http.Request) {
		_ = WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}))
	return mux, m
}

func checkPermission(mux *http.ServeMux, authorization, permission string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/check-permission",
		strings.NewReader(`{"permission":"`+permission+`"}`))
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth_BearerTokenCarriesRole(t *testing.T) {
	mux, m := newJWTMux(t, nil)
	group := int64(7)

	tests := []struct {
		name string
		user *models.User
		want bool
	}{
		{"simple user", &models.User{ID: 11, Email: "ana@example.com", Role: models.RoleSimple, GroupID: &group}, false},
		{"group admin", &models.User{ID: 12, Email: "boss@example.com", Role: models.RoleAdmin, GroupID: &group}, true},
		{"superadmin", &models.User{ID: 13, Email: "root@example.com", Role: models.RoleSuperadmin}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := checkPermission(mux, testhelpers.GenerateTestJWTWithBearer(t, m, tt.user), models.PermManageGroup)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var resp struct {
				HasPermission bool `json:"has_permission"`
			}
			decodeEnvelope(t, rec, &resp)
			assert.Equal(t, tt.want, resp.HasPermission)
		})
	}
}

func TestJWTAuth_RejectsBadTokens(t *testing.T) {
	mux, m := newJWTMux(t, nil)
	user := &models.User{ID: 21, Email: "ana@example.com", Role: models.RoleAdmin}
	valid := testhelpers.GenerateTestJWTWithBearer(t, m, user)

	foreign, err := auth.NewJWTManager(context.Background(), &auth.JWTConfig{
		Secret: []byte(testhelpers.TestJWTSecret + "-other"),
		Issuer: "omnifin-test",
		TTL:    time.Hour,
	})
	require.NoError(t, err)
	defer foreign.Close()

	tests := []struct {
		name          string
		authorization string
	}{
		{"missing header", ""},
		{"not a bearer", strings.TrimPrefix(valid, "Bearer ")},
		{"tampered signature", valid[:len(valid)-4] + "abcd"},
		{"signed with another secret", testhelpers.GenerateTestJWTWithBearer(t, foreign, user)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := checkPermission(mux, tt.authorization, models.PermViewOwnProfile)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestJWTAuth_RequireRole(t *testing.T) {
	mux, m := newJWTMux(t, nil)

	tests := []struct {
		name       string
		role       models.Role
		wantStatus int
	}{
		{"simple is forbidden", models.RoleSimple, http.StatusForbidden},
		{"super is forbidden", models.RoleSuper, http.StatusForbidden},
		{"admin passes", models.RoleAdmin, http.StatusOK},
		{"superadmin passes", models.RoleSuperadmin, http.StatusOK},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := &models.User{ID: int64(30 + i), Email: "user@example.com", Role: tt.role}
			req := httptest.NewRequest(http.MethodGet, "/api/admin-only", nil)
			req.Header.Set("Authorization", testhelpers.GenerateTestJWTWithBearer(t, m, user))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestJWTAuth_DisabledAccountIsForbidden(t *testing.T) {
	mux, m := newJWTMux(t, &disabledResolver{disabled: map[int64]bool{41: true}})

	disabled := testhelpers.GenerateTestJWTWithBearer(t, m, &models.User{ID: 41, Email: "gone@example.com", Role: models.RoleAdmin})
	rec := checkPermission(mux, disabled, models.PermViewOwnProfile)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	active := testhelpers.GenerateTestJWTWithBearer(t, m, &models.User{ID: 42, Email: "here@example.com", Role: models.RoleAdmin})
	rec = checkPermission(mux, active, models.PermViewOwnProfile)
	assert.Equal(t, http.StatusOK, rec.Code)
}
