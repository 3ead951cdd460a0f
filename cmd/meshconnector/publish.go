package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newPublishCommand() *cobra.Command {
	var (
		topic   string
		payload string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a message to a topic",
		Long: `Publish a message through a node. The payload must be valid JSON.
The node forwards it to every peer subscribed to the topic; there is no
acknowledgement from the peers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, topic, payload)
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "Topic to publish to (required)")
	cmd.Flags().StringVar(&payload, "payload", "{}", "Message payload as JSON")
	if err := cmd.MarkFlagRequired("topic"); err != nil {
		panic(fmt.Sprintf("Failed to mark topic as required: %v", err))
	}

	return cmd
}

func runPublish(cmd *cobra.Command, topic, payloadStr string) error {
	var payload interface{}
	if payloadStr != "" {
		if err := json.Unmarshal([]byte(payloadStr), &payload); err != nil {
			return fmt.Errorf("invalid JSON payload: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	if err := requireAuthentication(ctx); err != nil {
		return err
	}

	resp, err := client.Publish(ctx, topic, payload)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Published to '%s' at %s\n", resp.Topic, resp.PublishedAt.Format("2006-01-02 15:04:05"))
	return nil
}
