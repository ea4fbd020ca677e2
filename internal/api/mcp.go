package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Memory   Memory
	Sessions Sessions
}

// NewMCPServer creates an MCP server exposing the identity vault and the
// session list to other local agents.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"nexus",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("nexus: on-device assistant memory. Recall learned preferences and manage the identity vault."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("recall",
			mcp.WithDescription("Return the learned memories relevant to a query, most important first."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
		),
		mcpRecall(deps),
	)

	s.AddTool(
		mcp.NewTool("list_memories",
			mcp.WithDescription("List every entry in the identity vault in insertion order."),
		),
		mcpListMemories(deps),
	)

	s.AddTool(
		mcp.NewTool("pin_memory",
			mcp.WithDescription("Toggle the pinned flag of a memory. Pinned memories are included in every turn."),
			mcp.WithString("id", mcp.Description("Memory ID"), mcp.Required()),
		),
		mcpPinMemory(deps),
	)

	s.AddTool(
		mcp.NewTool("forget_memory",
			mcp.WithDescription("Delete a memory from the identity vault."),
			mcp.WithString("id", mcp.Description("Memory ID"), mcp.Required()),
		),
		mcpForgetMemory(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"nexus://memory",
			"Identity Vault",
			mcp.WithResourceDescription("All learned memories as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceMemory(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"nexus://sessions",
			"Sessions",
			mcp.WithResourceDescription("Conversation summaries, most recent first"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSessions(deps),
	)

	return s
}

func mcpRecall(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || query == "" {
			return mcpError("query is required"), nil
		}

		memories := deps.Memory.Retrieve(query)
		if len(memories) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(memories)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListMemories(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(deps.Memory.List())
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal memories: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpPinMemory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		found, err := deps.Memory.TogglePin(id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to toggle pin: %v", err)), nil
		}
		if !found {
			return mcpError(fmt.Sprintf("memory %s not found", id)), nil
		}

		for _, e := range deps.Memory.List() {
			if e.ID == id && e.Pinned {
				return mcpText(fmt.Sprintf("Pinned %s", id)), nil
			}
		}
		return mcpText(fmt.Sprintf("Unpinned %s", id)), nil
	}
}

func mcpForgetMemory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		found, err := deps.Memory.Delete(id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to delete: %v", err)), nil
		}
		if !found {
			return mcpError(fmt.Sprintf("memory %s not found", id)), nil
		}
		return mcpText(fmt.Sprintf("Forgot %s", id)), nil
	}
}

func mcpResourceMemory(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Memory.List())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal memories: %w", err)
		}
		return jsonResource(req.Params.URI, b), nil
	}
}

func mcpResourceSessions(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Sessions.List())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal sessions: %w", err)
		}
		return jsonResource(req.Params.URI, b), nil
	}
}

func jsonResource(uri string, b []byte) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
