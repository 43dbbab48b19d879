package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/taskmirror/taskmirror/internal/loadtest"
	"github.com/taskmirror/taskmirror/internal/store"
	"github.com/taskmirror/taskmirror/internal/store/replica"
	"github.com/taskmirror/taskmirror/internal/store/sqlite"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure store fetch latency under concurrent readers",
	Long: `Seed a throwaway database with generated tasks and measure the
latency of full-collection fetches under concurrent readers. Every sync
pass starts with such a fetch, so this is the number that bounds pass
startup time.

With --replica the readers run against a configured replica instead
(no seeding; the replica's current contents are fetched).

  tm bench
  tm bench --tasks 5000 --readers 50
  tm bench --replica primary`,
	Run: func(cmd *cobra.Command, args []string) {
		numTasks, _ := cmd.Flags().GetInt("tasks")
		readers, _ := cmd.Flags().GetInt("readers")
		queries, _ := cmd.Flags().GetInt("queries")
		replicaName, _ := cmd.Flags().GetString("replica")

		ctx := context.Background()
		var src store.Local

		if replicaName != "" {
			cfg := mustConfig()
			found := false
			for _, rc := range cfg.Replicas {
				if rc.Name != replicaName {
					continue
				}
				r, err := replica.Open(rc.Name, rc.URL, rc.AuthToken())
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: failed to open replica %s: %v\n", rc.Name, err)
					os.Exit(1)
				}
				defer r.Close()
				src = r
				found = true
				break
			}
			if !found {
				fmt.Fprintf(os.Stderr, "Error: no replica named %q configured\n", replicaName)
				os.Exit(1)
			}
		} else {
			dir, err := os.MkdirTemp("", "tm-bench-*")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			defer os.RemoveAll(dir)

			db, err := sqlite.Open(filepath.Join(dir, "bench.db"))
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to create bench database: %v\n", err)
				os.Exit(1)
			}
			defer db.Close()

			fmt.Printf("Seeding %d tasks...\n", numTasks)
			if err := loadtest.Seed(ctx, db, numTasks); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			src = db
		}

		fmt.Printf("Running %d readers x %d queries...\n", readers, queries)
		stats, err := loadtest.Run(ctx, src, loadtest.Options{
			Readers:          readers,
			QueriesPerReader: queries,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		stats.Print(os.Stdout)
	},
}

func init() {
	benchCmd.Flags().Int("tasks", 1000, "Number of generated tasks to seed")
	benchCmd.Flags().Int("readers", 20, "Concurrent reader goroutines")
	benchCmd.Flags().Int("queries", 10, "Full-collection fetches per reader")
	benchCmd.Flags().String("replica", "", "Run against the named configured replica")

	rootCmd.AddCommand(benchCmd)
}
