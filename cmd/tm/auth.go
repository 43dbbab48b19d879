package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskmirror/taskmirror/internal/store/gtasks"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize access to the cloud task service",
	Long: `Run the OAuth authorization flow for the cloud task service and
cache the resulting token for sync passes and the daemon.

Requires the OAuth client credentials JSON (downloaded from the cloud
console) at the configured credentials path. The cached token includes a
refresh token, so this only needs to run once per machine.

  tm auth`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()

		auth, err := gtasks.DefaultAuthFiles()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if cfg.Cloud.CredentialsFile != "" {
			auth.CredentialsFile = cfg.Cloud.CredentialsFile
		}
		if cfg.Cloud.TokenFile != "" {
			auth.TokenFile = cfg.Cloud.TokenFile
		}

		if err := auth.Authorize(context.Background(), os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Token cached at %s\n", auth.TokenFile)
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
}
