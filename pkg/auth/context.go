package auth

import (
	"context"
	"fmt"

	"github.com/omnifin/backoffice/pkg/models"
)

// WithPrincipal stores the resolved identity in the context.
func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// GetPrincipal returns the identity set by the auth middleware.
func GetPrincipal(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(models.Principal)
	return p, ok
}

// RequirePrincipal returns the identity or an error if the request is unauthenticated.
func RequirePrincipal(ctx context.Context) (models.Principal, error) {
	p, ok := GetPrincipal(ctx)
	if !ok {
		return models.Principal{}, fmt.Errorf("principal not found in context")
	}
	return p, nil
}

// GetUserIDFromContext returns the authenticated user id, or 0 when absent.
func GetUserIDFromContext(ctx context.Context) int64 {
	p, ok := GetPrincipal(ctx)
	if !ok {
		return 0
	}
	return p.UserID
}

// RequireUserIDFromContext returns the authenticated user id or an error.
func RequireUserIDFromContext(ctx context.Context) (int64, error) {
	id := GetUserIDFromContext(ctx)
	if id == 0 {
		return 0, fmt.Errorf("user ID not found in context")
	}
	return id, nil
}
