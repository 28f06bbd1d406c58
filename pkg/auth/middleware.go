package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/models"
)

// Middleware provides HTTP authentication middleware.
// It is thin and delegates authentication logic to AuthService.
type Middleware struct {
	authService AuthService
	logger      *zap.Logger
}

// NewMiddleware creates a new auth middleware with the given AuthService.
func NewMiddleware(authService AuthService, logger *zap.Logger) *Middleware {
	return &Middleware{
		authService: authService,
		logger:      logger,
	}
}

// RequireAuth validates the JWT and resolves the principal.
// Sets claims, token and principal in context for downstream handlers.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, token, err := m.authService.ValidateRequest(r)
		if err != nil {
			m.unauthorized(w, "Authentication required")
			return
		}

		principal, err := m.authService.Principal(r.Context(), claims)
		if err != nil {
			if errors.Is(err, ErrInactivePrincipal) {
				m.forbidden(w, "Account is disabled")
				return
			}
			m.logger.Debug("Failed to resolve principal", zap.String("subject", claims.Subject), zap.Error(err))
			m.unauthorized(w, "Authentication required")
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		ctx = context.WithValue(ctx, TokenKey, token)
		ctx = WithPrincipal(ctx, principal)
		next(w, r.WithContext(ctx))
	}
}

// RequireRole wraps RequireAuth and rejects principals below min with 403.
func (m *Middleware) RequireRole(min models.Role) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return m.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
			p, _ := GetPrincipal(r.Context())
			if !p.Role.AtLeast(min) {
				m.logger.Warn("Insufficient role for endpoint",
					zap.Int64("user_id", p.UserID),
					zap.String("role", string(p.Role)),
					zap.String("required", string(min)),
					zap.String("path", r.URL.Path))
				m.forbidden(w, "Insufficient permissions")
				return
			}
			next(w, r)
		})
	}
}

// unauthorized returns a 401 response with JSON error body.
func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	writeAuthError(w, http.StatusUnauthorized, "unauthorized", message)
}

// forbidden returns a 403 response with JSON error body.
func (m *Middleware) forbidden(w http.ResponseWriter, message string) {
	writeAuthError(w, http.StatusForbidden, "forbidden", message)
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
