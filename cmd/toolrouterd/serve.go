package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/toolrouter/toolrouter/pkg/call"
	"github.com/toolrouter/toolrouter/pkg/logger"
	"github.com/toolrouter/toolrouter/pkg/mcpserver"
	"github.com/toolrouter/toolrouter/pkg/search"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the router as an MCP server, exposing mcp_search and mcp_call over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	a.supervisor.Start(ctx)

	searchOp := &search.Operator{
		Store:                    a.store,
		Embeddings:               a.embeddings,
		MinScore:                 a.cfg.Search.MinScore,
		IncludeParametersDefault: a.cfg.Search.IncludeParametersDefault,
		DefaultLimit:             a.cfg.Search.TopK,
	}
	callOp := &call.Operator{
		Registry:       a.registry,
		ConnectTimeout: time.Duration(a.cfg.Indexer.ConnectTimeoutMS) * time.Millisecond,
	}

	mcpServer := mcpserver.New(version, searchOp, callOp)
	logger.Infof("toolrouterd serving mcp_search/mcp_call over stdio")
	return mcpserver.Serve(mcpServer)
}
