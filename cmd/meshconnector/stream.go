package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/directmesh-go/pkg/httpclient"
)

func newStreamCommand() *cobra.Command {
	var (
		topic        string
		bufferSize   int
		prettyFormat bool
		limit        int
	)

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream messages published by peers on a topic",
		Long: `Subscribe the node to a topic for as long as the stream is open and print
the messages peers publish on it. Messages published through this same node
are not delivered back. Press Ctrl+C to stop streaming.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd, topic, bufferSize, prettyFormat, limit)
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "Topic to stream (required)")
	cmd.Flags().IntVar(&bufferSize, "buffer-size", 100, "Message buffer size")
	cmd.Flags().BoolVar(&prettyFormat, "pretty", false, "Pretty print JSON payloads")
	cmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many messages (0 = no limit)")
	if err := cmd.MarkFlagRequired("topic"); err != nil {
		panic(fmt.Sprintf("Failed to mark topic as required: %v", err))
	}

	return cmd
}

func runStream(cmd *cobra.Command, topic string, bufferSize int, prettyFormat bool, limit int) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	authCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := requireAuthentication(authCtx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	streamClient, err := client.Stream(ctx, httpclient.StreamConfig{
		Topic:      topic,
		BufferSize: bufferSize,
	})
	if err != nil {
		return fmt.Errorf("failed to start streaming: %w", err)
	}
	defer streamClient.Close()

	fmt.Fprintf(out, "Streaming topic '%s' from %s (Ctrl+C to stop)\n", topic, serverURL)

	count := 0
	errs := streamClient.Errors()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(out, "\nStream stopped. Received %d message(s).\n", count)
			return nil

		case msg, ok := <-streamClient.Events():
			if !ok {
				fmt.Fprintf(out, "\nStream closed. Received %d message(s).\n", count)
				return nil
			}
			count++
			printMessage(out, msg, count, prettyFormat)
			if limit > 0 && count >= limit {
				return nil
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			// reconnects keep going; errors are informational
			fmt.Fprintf(cmd.ErrOrStderr(), "Stream error: %v\n", err)
		}
	}
}

func printMessage(out io.Writer, msg httpclient.StreamMessage, count int, pretty bool) {
	fmt.Fprintf(out, "Message #%d on %s at %s\n", count, msg.Topic, msg.ReceivedAt.Format("2006-01-02 15:04:05.000"))

	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(msg.Payload, "  ", "  ")
	} else {
		data, err = json.Marshal(msg.Payload)
	}
	if err != nil {
		fmt.Fprintf(out, "  %v\n", msg.Payload)
		return
	}
	fmt.Fprintf(out, "  %s\n", data)
}
