package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/directmesh-go/pkg/httpclient"
)

const (
	appName    = "meshconnector"
	appVersion = "0.1.0"
)

var (
	// Global flags
	serverURL string
	clientID  string
	token     string
	timeout   time.Duration
	noAuth    bool

	// Global client instance
	client *httpclient.Client
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Full-mesh pub/sub connector",
		Long: `meshconnector runs a node of a full-mesh publish/subscribe network and
talks to a running node through its HTTP API.

Every node dials every other node directly; there is no broker. Use 'serve'
to run a node, and the other commands against a node's HTTP API.`,
		Version:           appVersion,
		SilenceUsage:      true,
		PersistentPreRunE: initializeClient,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8081", "Connector HTTP API URL")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", "", "Client ID for authentication")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "JWT token (if already authenticated)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	rootCmd.PersistentFlags().BoolVar(&noAuth, "no-auth", false, "Skip authentication (for development with --no-auth servers)")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newAuthCommand())
	rootCmd.AddCommand(newPublishCommand())
	rootCmd.AddCommand(newStreamCommand())
	rootCmd.AddCommand(newHealthCommand())
	rootCmd.AddCommand(newAdminCommand())

	return rootCmd
}

// initializeClient sets up the HTTP client with global configuration
func initializeClient(cmd *cobra.Command, args []string) error {
	// serve runs a node rather than talking to one
	if cmd.Name() == "help" || cmd.Name() == "serve" || cmd.Parent() == nil {
		return nil
	}

	effectiveClientID := clientID
	if effectiveClientID == "" {
		effectiveClientID = "cli"
		if noAuth {
			effectiveClientID = "dev-client"
		}
	}

	var err error
	client, err = httpclient.NewClient(httpclient.Config{
		ServerURL: serverURL,
		ClientID:  effectiveClientID,
		Timeout:   timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	if token != "" {
		client.SetToken(token)
	} else if noAuth {
		// server ignores it; satisfies the client-side check
		client.SetToken("no-auth-mode")
	}

	return nil
}

// requireAuthentication logs in with the client ID when no token was given
func requireAuthentication(ctx context.Context) error {
	if client == nil {
		return fmt.Errorf("client not initialized")
	}
	if client.IsAuthenticated() {
		return nil
	}
	if err := client.Authenticate(ctx); err != nil {
		return fmt.Errorf("not authenticated - provide --token or a valid --client-id: %w", err)
	}
	return nil
}
