package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newReindexCmd() *cobra.Command {
	var serverName string

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Re-index every configured server, or one server with --server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReindex(cmd.Context(), serverName)
		},
	}
	cmd.Flags().StringVar(&serverName, "server", "", "re-index only this server, merging its result into the existing status file")
	return cmd
}

func runReindex(ctx context.Context, serverName string) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	if serverName != "" {
		result, err := a.supervisor.RunPartial(ctx, serverName)
		if err != nil {
			return err
		}
		fmt.Printf("%s: indexed=%d failed=%d\n", result.Name, result.Indexed, result.Failed)
		return nil
	}

	status := a.supervisor.RunOnce(ctx)
	for _, server := range status.Servers {
		fmt.Printf("%s: indexed=%d failed=%d\n", server.Name, server.Indexed, server.Failed)
	}
	return nil
}
