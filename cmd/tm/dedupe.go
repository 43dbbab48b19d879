package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskmirror/taskmirror/internal/plan"
	"github.com/taskmirror/taskmirror/internal/store/sqlite"
)

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Remove duplicate tasks from the local store",
	Long: `Find and remove duplicate tasks in the local store.

Two records are duplicates when they share a content signature: same
normalized title and body, same stable date, same status. The most
recently modified member of each group survives; the rest are deleted.

  tm dedupe            # remove duplicates
  tm dedupe --dry-run  # only report what would be removed`,
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		cfg := mustConfig()
		ctx := context.Background()

		db, err := sqlite.Open(cfg.LocalDB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to open local database: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		tasks, err := db.LoadAll(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to load tasks: %v\n", err)
			os.Exit(1)
		}

		excess := plan.ExcessDuplicates(tasks)
		if len(excess) == 0 {
			fmt.Println("No duplicates found")
			return
		}

		for _, t := range excess {
			if dryRun {
				fmt.Printf("Would remove %s  %q (modified %s)\n", t.ID, t.Title, t.Modified.Format("2006-01-02 15:04"))
				continue
			}
			if _, err := db.DeleteOne(ctx, t.ID); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to remove %s: %v\n", t.ID, err)
				os.Exit(1)
			}
			fmt.Printf("Removed %s  %q\n", t.ID, t.Title)
		}
		if !dryRun {
			fmt.Printf("Removed %d duplicate(s)\n", len(excess))
		}
	},
}

func init() {
	dedupeCmd.Flags().Bool("dry-run", false, "Report duplicates without removing them")

	rootCmd.AddCommand(dedupeCmd)
}
