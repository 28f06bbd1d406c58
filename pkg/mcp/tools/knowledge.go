// Package tools provides the MCP tools exposed by the back office.
package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/omnifin/backoffice/pkg/auth"
	"github.com/omnifin/backoffice/pkg/services"
)

// KnowledgeToolDeps contains dependencies for the knowledge tools.
type KnowledgeToolDeps struct {
	Knowledge services.KnowledgeService
	Prompts   services.PromptService
}

// RegisterKnowledgeTools registers search_knowledge and render_prompt.
func RegisterKnowledgeTools(s *server.MCPServer, deps *KnowledgeToolDeps) {
	registerSearchKnowledgeTool(s, deps)
	registerRenderPromptTool(s, deps)
}

func registerSearchKnowledgeTool(s *server.MCPServer, deps *KnowledgeToolDeps) {
	tool := mcp.NewTool(
		"search_knowledge",
		mcp.WithDescription(
			"Search the active knowledge base and FAQs shared with your group. "+
				"Returns up to five knowledge entries and five FAQs whose title, content or question matches. "+
				"Example: query='mortgage rates'",
		),
		mcp.WithString(
			"query",
			mcp.Required(),
			mcp.Description("Free-text search terms"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		p, ok := auth.GetPrincipal(ctx)
		if !ok {
			return NewErrorResult("authentication_required", "no authenticated user"), nil
		}

		query, err := req.RequireString("query")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		query = trimString(query)
		if query == "" {
			return NewErrorResult("invalid_parameters", "parameter 'query' cannot be empty"), nil
		}

		result, err := deps.Knowledge.AISearch(ctx, p, query)
		if err != nil {
			return HandleServiceError(err, "search_knowledge_failed")
		}
		return jsonResult(result)
	})
}

func registerRenderPromptTool(s *server.MCPServer, deps *KnowledgeToolDeps) {
	tool := mcp.NewTool(
		"render_prompt",
		mcp.WithDescription(
			"Render a prompt template with the given variables. "+
				"Placeholders use {name} syntax; a missing variable is reported in the rendered text. "+
				"Example: prompt_id=3, variables={\"name\": \"Ana\"}",
		),
		mcp.WithNumber(
			"prompt_id",
			mcp.Required(),
			mcp.Description("ID of the prompt to render"),
		),
		mcp.WithObject(
			"variables",
			mcp.Description("Values for the template placeholders as key-value pairs"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		p, ok := auth.GetPrincipal(ctx)
		if !ok {
			return NewErrorResult("authentication_required", "no authenticated user"), nil
		}

		id, ok := getRequiredID(req, "prompt_id")
		if !ok {
			return NewErrorResult("invalid_parameters", "parameter 'prompt_id' must be a positive integer"), nil
		}
		vars := getOptionalObject(req, "variables")
		if vars == nil {
			vars = map[string]any{}
		}

		result, err := deps.Prompts.Test(ctx, p, id, vars)
		if err != nil {
			return HandleServiceError(err, "render_prompt_failed")
		}
		return jsonResult(result)
	})
}
