package database

import (
	"context"
)

type contextKey string

const (
	// RequestScopeKey is the context key for the request's database connection.
	RequestScopeKey contextKey = "requestScope"
)

// GetRequestScope retrieves the request's database connection from context.
// Returns nil and false if not present.
func GetRequestScope(ctx context.Context) (*RequestScope, bool) {
	scope, ok := ctx.Value(RequestScopeKey).(*RequestScope)
	return scope, ok
}

// SetRequestScope stores the request's database connection in context.
func SetRequestScope(ctx context.Context, scope *RequestScope) context.Context {
	return context.WithValue(ctx, RequestScopeKey, scope)
}

// ScopeProvider opens request scopes outside of HTTP middleware (MCP tools, startup seeding).
type ScopeProvider struct {
	db *DB
}

// NewScopeProvider creates a ScopeProvider for the given database.
func NewScopeProvider(db *DB) *ScopeProvider {
	return &ScopeProvider{db: db}
}

// WithUserScope returns a context carrying a scope for userID.
// The cleanup function must be called when the scope is no longer needed.
func (p *ScopeProvider) WithUserScope(ctx context.Context, userID int64) (context.Context, func(), error) {
	scope, err := p.db.WithUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return SetRequestScope(ctx, scope), func() { scope.Close() }, nil
}

// WithSystemScope returns a context carrying a scope not tied to a user.
func (p *ScopeProvider) WithSystemScope(ctx context.Context) (context.Context, func(), error) {
	scope, err := p.db.WithoutUser(ctx)
	if err != nil {
		return nil, nil, err
	}
	return SetRequestScope(ctx, scope), func() { scope.Close() }, nil
}
