package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newAdminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin commands (requires admin privileges)",
		Long:  "Inspect a node's peer links and counters. Log in with the admin client ID.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "peers",
		Short: "List verified peer links",
		RunE:  runAdminPeers,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show node statistics",
		RunE:  runAdminStats,
	})

	return cmd
}

func runAdminPeers(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	if err := requireAuthentication(ctx); err != nil {
		return err
	}

	resp, err := client.AdminPeers(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(resp.Peers) == 0 {
		fmt.Fprintf(out, "Node %s has no verified peers\n", resp.UID)
		return nil
	}

	fmt.Fprintf(out, "Node %s has %d verified peer(s):\n\n", resp.UID, len(resp.Peers))
	for i, p := range resp.Peers {
		fmt.Fprintf(out, "%d. %s\n", i+1, p.UID)
		fmt.Fprintf(out, "   URL: %s\n", p.URL)
		fmt.Fprintf(out, "   Direction: %s\n", p.Direction)
	}
	return nil
}

func runAdminStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	if err := requireAuthentication(ctx); err != nil {
		return err
	}

	stats, err := client.AdminGetStats(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Node: %s\n", stats.UID)
	fmt.Fprintf(out, "Ready: %t\n", stats.Ready)
	fmt.Fprintf(out, "Active links: %d\n", stats.ActiveConnections)
	fmt.Fprintf(out, "Pending links: %d\n", stats.PendingConnections)
	fmt.Fprintf(out, "Local topics: %s\n", strings.Join(stats.LocalTopics, ", "))
	fmt.Fprintf(out, "Remote topics: %s\n", strings.Join(stats.RemoteTopics, ", "))
	fmt.Fprintf(out, "Stream clients: %d\n", stats.StreamClients)
	fmt.Fprintf(out, "Messages published: %d\n", stats.MessagesPublished)
	fmt.Fprintf(out, "Messages streamed: %d\n", stats.MessagesStreamed)
	fmt.Fprintf(out, "Messages dropped: %d\n", stats.MessagesDropped)
	return nil
}
