package handlers

import "net/http"

// ScopeMiddleware runs a handler inside a request-scoped database connection.
// Routes wrap it inside auth middleware so the connection carries the user.
type ScopeMiddleware func(http.HandlerFunc) http.HandlerFunc
