package tools

import (
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

func trimString(s string) string {
	return strings.TrimSpace(s)
}

func arguments(req mcp.CallToolRequest) map[string]any {
	args, _ := req.Params.Arguments.(map[string]any)
	return args
}

// getOptionalString extracts an optional string argument from the request.
func getOptionalString(req mcp.CallToolRequest, key string) string {
	val, _ := arguments(req)[key].(string)
	return val
}

// getOptionalObject extracts an optional object argument from the request.
func getOptionalObject(req mcp.CallToolRequest, key string) map[string]any {
	val, _ := arguments(req)[key].(map[string]any)
	return val
}

// getRequiredID reads a positive integer argument. JSON numbers arrive as float64.
func getRequiredID(req mcp.CallToolRequest, key string) (int64, bool) {
	val, ok := arguments(req)[key].(float64)
	if !ok || val < 1 || val != float64(int64(val)) {
		return 0, false
	}
	return int64(val), true
}
