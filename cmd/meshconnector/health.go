package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check node health",
		Long:  "Show a node's readiness and links. Exits non-zero when the node is not ready.",
		RunE:  runHealth,
	}
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	health, err := client.GetHealth(ctx)
	if health == nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	out := cmd.OutOrStdout()
	if health.Ready {
		fmt.Fprintf(out, "Node %s is ready\n", health.UID)
	} else {
		fmt.Fprintf(out, "Node %s is NOT ready\n", health.UID)
	}
	fmt.Fprintf(out, "Listening: %t\n", health.Listening)
	fmt.Fprintf(out, "Active links: %d (minimum %d)\n", health.ActiveConnections, health.MinimumConnections)
	fmt.Fprintf(out, "Pending links: %d\n", health.PendingConnections)
	if len(health.LocalTopics) > 0 {
		fmt.Fprintf(out, "Local topics: %s\n", strings.Join(health.LocalTopics, ", "))
	}
	if len(health.RemoteTopics) > 0 {
		fmt.Fprintf(out, "Remote topics: %s\n", strings.Join(health.RemoteTopics, ", "))
	}
	fmt.Fprintf(out, "Stream clients: %d\n", health.StreamClients)

	return err
}
