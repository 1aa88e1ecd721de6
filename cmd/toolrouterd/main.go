// Command toolrouterd is the thin CLI front end over the router's core:
// serve exposes mcp_search/mcp_call to an agent host over stdio, status
// renders the last indexing summary, and reindex triggers a full or
// per-server re-index.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolrouter/toolrouter/pkg/logger"
)

// version is set at build time via -ldflags; left as a placeholder default
// otherwise.
var version = "0.1.0"

func main() {
	logger.Initialize()

	root := &cobra.Command{
		Use:   "toolrouterd",
		Short: "Dynamic tool-discovery router for MCP capability servers",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newReindexCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
