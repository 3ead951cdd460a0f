package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newAuthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Obtain an API token",
		Long: `Log in to a node's HTTP API with your client ID and print the JWT token
to pass as --token to later commands.`,
		RunE: runAuth,
	}
}

func runAuth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	if err := client.Authenticate(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	tok := client.GetToken()
	fmt.Fprintf(out, "Token: %s\n", tok)
	fmt.Fprintf(out, "\nSave it for later commands:\n")
	fmt.Fprintf(out, "  export DIRECTMESH_TOKEN=\"%s\"\n", tok)
	fmt.Fprintf(out, "  %s --token \"$DIRECTMESH_TOKEN\" publish --topic orders --payload '{\"id\":42}'\n", appName)
	return nil
}
