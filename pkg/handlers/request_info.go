package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/services"
)

// SessionHeader lets clients correlate activity rows across requests.
const SessionHeader = "X-Session-ID"

// WithRequestInfo records client address, user agent and session id on the
// request context for activity logging. Requests without a session header get
// a fresh id, echoed back in the response header.
func WithRequestInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := r.Header.Get(SessionHeader)
		if _, err := uuid.Parse(session); err != nil {
			session = uuid.NewString()
		}
		w.Header().Set(SessionHeader, session)

		ctx := services.WithRequestInfo(r.Context(), models.RequestInfo{
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
			SessionID: session,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
