package database

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/auth"
)

// WithRequestScope creates middleware that acquires the request's DB connection.
// Behind auth middleware the connection is tagged with the authenticated user;
// on public routes it is acquired untagged.
// The connection is released after the handler returns.
func WithRequestScope(db *DB, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			var (
				scope *RequestScope
				err   error
			)
			if p, ok := auth.GetPrincipal(r.Context()); ok {
				scope, err = db.WithUser(r.Context(), p.UserID)
			} else {
				scope, err = db.WithoutUser(r.Context())
			}
			if err != nil {
				logger.Error("Failed to acquire database connection", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "database_error", "Database connection error")
				return
			}
			defer scope.Close()

			next(w, r.WithContext(SetRequestScope(r.Context(), scope)))
		}
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
