package mcp

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewServer(t *testing.T) {
	logger := zap.NewNop()
	s := NewServer("test-server", "1.0.0", nil, logger)

	require.NotNil(t, s)
	assert.NotNil(t, s.MCP())
	assert.Same(t, logger, s.logger)
	assert.NotNil(t, s.NewStreamableHTTPServer())
}

func TestServer_RegisterToolRunsHooks(t *testing.T) {
	var before, after int
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(func(context.Context, any, *mcp.CallToolRequest) { before++ })
	hooks.AddAfterCallTool(func(context.Context, any, *mcp.CallToolRequest, *mcp.CallToolResult) { after++ })

	s := NewServer("test-server", "1.0.0", hooks, zap.NewNop())
	s.RegisterTool(mcp.NewTool("echo"), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("ok"), nil
	})

	s.MCP().HandleMessage(context.Background(),
		[]byte(`{"jsonrpc":"2.0","method":"tools/call","id":1,"params":{"name":"echo","arguments":{}}}`))

	assert.Equal(t, 1, before)
	assert.Equal(t, 1, after)
}
