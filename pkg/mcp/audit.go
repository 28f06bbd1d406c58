package mcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/auth"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/services"
)

// maxParamSize caps string arguments copied into activity metadata.
const maxParamSize = 1024

// sensitiveKeys are argument names whose values are hashed before recording.
var sensitiveKeys = []string{"password", "token", "secret", "api_key", "apikey", "credential"}

// ToolCallRecorder records MCP tool calls as user activity.
type ToolCallRecorder struct {
	activity services.ActivityService
	logger   *zap.Logger

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
}

// NewToolCallRecorder creates a recorder. activity may be nil, in which case
// calls are only logged.
func NewToolCallRecorder(activity services.ActivityService, logger *zap.Logger) *ToolCallRecorder {
	return &ToolCallRecorder{
		activity: activity,
		logger:   logger.Named("mcp-audit"),
	}
}

// Hooks returns mcp-go Hooks configured to capture tool call events.
func (a *ToolCallRecorder) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(a.beforeCallTool)
	hooks.AddAfterCallTool(a.afterCallTool)
	hooks.AddOnError(a.onError)
	return hooks
}

func (a *ToolCallRecorder) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	a.startTimes.Store(id, time.Now())
}

func (a *ToolCallRecorder) afterCallTool(ctx context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	isError := result != nil && result.IsError
	a.record(ctx, id, req, !isError, "")
}

func (a *ToolCallRecorder) onError(ctx context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}
	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}
	a.record(ctx, id, req, false, err.Error())
}

func (a *ToolCallRecorder) loadAndDeleteStart(id any) time.Time {
	if v, ok := a.startTimes.LoadAndDelete(id); ok {
		return v.(time.Time)
	}
	return time.Now()
}

func (a *ToolCallRecorder) record(ctx context.Context, id any, req *mcplib.CallToolRequest, ok bool, errMsg string) {
	durationMs := time.Since(a.loadAndDeleteStart(id)).Milliseconds()
	tool := req.Params.Name

	fields := []zap.Field{
		zap.String("tool", tool),
		zap.Bool("success", ok),
		zap.Int64("duration_ms", durationMs),
	}
	if errMsg != "" {
		fields = append(fields, zap.String("error", errMsg))
	}
	a.logger.Info("MCP tool call", fields...)

	p, authed := auth.GetPrincipal(ctx)
	if a.activity == nil || !authed {
		return
	}
	metadata := map[string]any{
		"tool":        tool,
		"success":     ok,
		"duration_ms": durationMs,
	}
	if params := sanitizeParams(req.Params.Arguments); params != nil {
		metadata["params"] = params
	}
	if errMsg != "" {
		metadata["error"] = errMsg
	}
	a.activity.Record(ctx, p, services.ActivityEvent{
		Action:       models.ActionView,
		ResourceType: "mcp_tool",
		Metadata:     metadata,
	})
}

// sanitizeParams copies tool arguments with sensitive values hashed and long
// strings truncated.
func sanitizeParams(args any) map[string]any {
	params, ok := args.(map[string]any)
	if !ok || len(params) == 0 {
		return nil
	}
	sanitized := make(map[string]any, len(params))
	for k, v := range params {
		sanitized[k] = sanitizeValue(k, v)
	}
	return sanitized
}

func sanitizeValue(key string, value any) any {
	if isSensitiveKey(key) {
		return hashSensitiveValue(value)
	}
	switch val := value.(type) {
	case string:
		if len(val) > maxParamSize {
			return val[:maxParamSize] + "...[truncated]"
		}
		return val
	case map[string]any:
		return sanitizeParams(val)
	default:
		return value
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// hashSensitiveValue returns a SHA-256 prefix so values can be correlated
// across entries without being stored.
func hashSensitiveValue(value any) string {
	var str string
	switch v := value.(type) {
	case string:
		str = v
	default:
		str = fmt.Sprintf("%v", v)
	}
	hash := sha256.Sum256([]byte(str))
	return "sha256:" + hex.EncodeToString(hash[:8])
}
