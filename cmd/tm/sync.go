package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskmirror/taskmirror/internal/orchestrator"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation pass",
	Long: `Run one reconciliation pass across all configured stores.

The pass loads every store's current state, matches tasks by content
signature, resolves conflicting versions, removes duplicates, and writes
the minimal operation set back to each store.

By default the pass is incremental and bidirectional:
  tm sync                 # incremental, push and pull
  tm sync --full          # also reconcile deletions
  tm sync --no-push       # local-only changes, nothing written outward
  tm sync --no-pull       # nothing written to the local store
  tm sync --dry-run       # plan and report, write nothing`,
	Run: func(cmd *cobra.Command, args []string) {
		full, _ := cmd.Flags().GetBool("full")
		noPush, _ := cmd.Flags().GetBool("no-push")
		noPull, _ := cmd.Flags().GetBool("no-pull")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		cfg := mustConfig()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		eng, err := buildEngine(ctx, cfg, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer eng.Close()

		summary, err := eng.orch.RunSync(ctx, orchestrator.Options{
			Push:         !noPush,
			Pull:         !noPull,
			Full:         full,
			DryRun:       dryRun,
			FetchTimeout: cfg.Sync.FetchTimeout,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: sync failed: %v\n", err)
			if summary != nil {
				printSummary(summary)
			}
			os.Exit(1)
		}

		printSummary(summary)
		if !summary.Success {
			os.Exit(1)
		}
	},
}

func printSummary(s *orchestrator.Summary) {
	verb := "Synced"
	if s.DryRun {
		verb = "Would sync"
	}
	fmt.Printf("%s in %v\n", verb, s.Duration.Round(time.Millisecond))
	fmt.Printf("  local:   +%d ~%d -%d\n", s.Local.Created, s.Local.Updated, s.Local.Deleted)
	fmt.Printf("  replica: +%d ~%d -%d\n", s.Replica.Created, s.Replica.Updated, s.Replica.Deleted)
	fmt.Printf("  cloud:   +%d ~%d -%d\n", s.Cloud.Created, s.Cloud.Updated, s.Cloud.Deleted)
	if s.ConflictsResolved > 0 {
		fmt.Printf("  conflicts resolved: %d\n", s.ConflictsResolved)
	}
	if s.DuplicatesRemoved > 0 {
		fmt.Printf("  duplicates removed: %d\n", s.DuplicatesRemoved)
	}
	if s.SkippedMalformed > 0 {
		fmt.Printf("  malformed records skipped: %d\n", s.SkippedMalformed)
	}
	for _, w := range s.Warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}
	for _, e := range s.Errors {
		fmt.Fprintf(os.Stderr, "Error: %s\n", e)
	}
}

func init() {
	syncCmd.Flags().Bool("full", false, "Re-evaluate all records and reconcile deletions")
	syncCmd.Flags().Bool("no-push", false, "Do not write to replicas or the cloud")
	syncCmd.Flags().Bool("no-pull", false, "Do not write to the local store")
	syncCmd.Flags().Bool("dry-run", false, "Plan the pass but write nothing")

	rootCmd.AddCommand(syncCmd)
}
