package handlers

import (
	"net/http"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/auth"
	"github.com/omnifin/backoffice/pkg/mcp"
	"github.com/omnifin/backoffice/pkg/middleware"
)

// MCPHandler handles MCP protocol requests over HTTP.
type MCPHandler struct {
	httpServer *server.StreamableHTTPServer
	logger     *zap.Logger
}

// NewMCPHandler creates a new MCP handler from an MCP server.
func NewMCPHandler(mcpServer *mcp.Server, logger *zap.Logger) *MCPHandler {
	return &MCPHandler{
		httpServer: mcpServer.NewStreamableHTTPServer(),
		logger:     logger,
	}
}

// RegisterRoutes registers POST /mcp. Tool handlers read the principal that
// the auth middleware stores on the request context.
func (h *MCPHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	logged := middleware.MCPRequestLogger(h.logger)(h.httpServer)
	mux.HandleFunc("POST /mcp", authMiddleware.RequireAuth(scope(logged.ServeHTTP)))
}
