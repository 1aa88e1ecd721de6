package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last indexing run's status and live capability counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context())
		},
	}
}

func runStatus(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	status, running := a.supervisor.Status()
	if status == nil {
		fmt.Println("no indexing run has completed yet")
	} else {
		fmt.Printf("run %s at %s (in flight: %v)\n", status.RunID, status.Timestamp.Format("2006-01-02T15:04:05Z07:00"), running)
		for _, server := range status.Servers {
			if server.Error != "" {
				fmt.Printf("  %-20s indexed=%-4d failed=%-4d error=%s\n", server.Name, server.Indexed, server.Failed, server.Error)
			} else {
				fmt.Printf("  %-20s indexed=%-4d failed=%-4d\n", server.Name, server.Indexed, server.Failed)
			}
		}
	}

	total, err := a.store.CountTools(ctx)
	if err != nil {
		return fmt.Errorf("failed to count indexed tools: %w", err)
	}
	byServer, err := a.store.CountToolsByServer(ctx)
	if err != nil {
		return fmt.Errorf("failed to count indexed tools by server: %w", err)
	}
	fmt.Printf("\n%d capabilities indexed across %d server(s)\n", total, len(byServer))
	return nil
}
