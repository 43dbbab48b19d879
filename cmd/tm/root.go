package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskmirror/taskmirror/internal/config"
)

// Version is stamped by the release build.
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tm",
	Short: "Mirror one task list across local, replica, and cloud stores",
	Long: `taskmirror keeps a single task list consistent across a local database,
remote replica databases, and a cloud task service.

Stores never talk to each other; the engine compares snapshots, resolves
conflicts, and writes the minimal set of changes back. Tasks are matched
across stores by content signature, so independently assigned identifiers
never cause duplicates.

Common usage:
  tm add "Write the report"     # create a task locally
  tm sync                       # one bidirectional incremental pass
  tm sync --full                # reconcile deletions too
  tm daemon                     # sync continuously
  tm status                     # see how the stores overlap`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.config/taskmirror/config.yaml)")
}

// mustConfig loads the configuration or exits.
func mustConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
