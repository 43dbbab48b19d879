package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskmirror/taskmirror/internal/resolve"
	"github.com/taskmirror/taskmirror/internal/task"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show how the stores currently overlap",
	Long: `Show the last successful sync time and how the stores' task sets
currently overlap, without changing anything.

The overlap report counts distinct content signatures:
  local only / replica only / cloud only   - present in one store
  in two / in all                          - shared

A store that cannot be reached is reported and counted as empty.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Sync.FetchTimeout)
		defer cancel()

		eng, err := buildEngine(ctx, cfg, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer eng.Close()

		local, err := eng.local.LoadAll(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to load local store: %v\n", err)
			os.Exit(1)
		}

		var replicaTasks []task.Task
		for _, r := range eng.replicas {
			tasks, err := r.LoadAll(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: replica %s unreachable: %v\n", r.Name(), err)
				continue
			}
			replicaTasks = append(replicaTasks, tasks...)
		}

		var cloudTasks []task.Task
		if eng.cloud != nil {
			cloudTasks, err = eng.cloud.ListAll(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: cloud unreachable: %v\n", err)
				cloudTasks = nil
			}
		}

		if last := eng.ledger.LastSync(); last.IsZero() {
			fmt.Println("Last sync: never")
		} else {
			fmt.Printf("Last sync: %s (%s ago)\n",
				last.Local().Format(time.RFC1123),
				time.Since(last).Round(time.Second))
		}
		fmt.Printf("Ledger entries: %d\n\n", eng.ledger.Len())

		report := resolve.SyncReport(local, replicaTasks, cloudTasks)
		fmt.Printf("Tasks: %d local, %d replica, %d cloud (%d distinct)\n",
			len(local), len(replicaTasks), len(cloudTasks), report.Total)
		fmt.Printf("  local only:   %d\n", report.LocalOnly)
		fmt.Printf("  replica only: %d\n", report.ReplicaOnly)
		fmt.Printf("  cloud only:   %d\n", report.CloudOnly)
		fmt.Printf("  in two:       %d\n", report.InTwo)
		fmt.Printf("  in all:       %d\n", report.InAll)

		if dups := resolve.DetectDuplicates(local); len(dups) > 0 {
			fmt.Printf("\n%d duplicate record(s) in the local store; run 'tm dedupe'\n", len(dups))
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
