// Package mcpserver exposes the router's two meta-capabilities,
// mcp_search and mcp_call, as an MCP server that an agent host connects to
// over stdio.
package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/toolrouter/toolrouter/pkg/call"
	"github.com/toolrouter/toolrouter/pkg/search"
)

const serverName = "toolrouter"

// Searcher is the subset of search.Operator the MCP server drives.
type Searcher interface {
	Search(ctx context.Context, req search.Request) search.Response
}

// Caller is the subset of call.Operator the MCP server drives.
type Caller interface {
	Call(ctx context.Context, req call.Request) call.Response
}

// New builds the MCP server exposing mcp_search and mcp_call, backed by
// searcher and caller.
func New(version string, searcher Searcher, caller Caller) *server.MCPServer {
	mcpServer := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(false),
	)

	mcpServer.AddTool(mcp.NewTool("mcp_search",
		mcp.WithDescription("Search indexed capabilities by natural-language query."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural-language description of the capability you need")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results, 1-20 (default 5)")),
		mcp.WithBoolean("include_schema", mcp.Description("Include each capability's full parameters schema")),
		mcp.WithReadOnlyHintAnnotation(true),
	), searchHandler(searcher))

	mcpServer.AddTool(mcp.NewTool("mcp_call",
		mcp.WithDescription("Invoke one capability discovered via mcp_search."),
		mcp.WithString("tool_name", mcp.Required(), mcp.Description("The capability name returned by mcp_search")),
		mcp.WithString("params_json", mcp.Description("JSON object of parameters for the call, default \"{}\"")),
	), callHandler(caller))

	return mcpServer
}

// Serve runs the MCP server over stdio, blocking until the host closes the
// connection or an unrecoverable transport error occurs.
func Serve(mcpServer *server.MCPServer) error {
	if err := server.ServeStdio(mcpServer); err != nil {
		return fmt.Errorf("mcp server error: %w", err)
	}
	return nil
}

func searchHandler(searcher Searcher) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := struct {
			Query         string `json:"query"`
			Limit         int    `json:"limit"`
			IncludeSchema *bool  `json:"include_schema"`
		}{}
		if err := request.BindArguments(&args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse arguments: %v", err)), nil
		}

		resp := searcher.Search(ctx, search.Request{
			Query:         args.Query,
			Limit:         args.Limit,
			IncludeSchema: args.IncludeSchema,
		})
		return mcp.NewToolResultText(resp.Text), nil
	}
}

func callHandler(caller Caller) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := struct {
			ToolName   string `json:"tool_name"`
			ParamsJSON string `json:"params_json"`
		}{}
		if err := request.BindArguments(&args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse arguments: %v", err)), nil
		}

		resp := caller.Call(ctx, call.Request{ToolName: args.ToolName, ParamsJSON: args.ParamsJSON})
		joined := strings.Join(resp.Content, "\n")
		if resp.IsError {
			return mcp.NewToolResultError(joined), nil
		}
		return mcp.NewToolResultText(joined), nil
	}
}
