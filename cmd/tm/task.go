package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/taskmirror/taskmirror/internal/store/sqlite"
	"github.com/taskmirror/taskmirror/internal/task"
)

var addCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a task in the local store",
	Long: `Create a task in the local store. It propagates to the other stores on
the next sync pass.

  tm add "Write the report"
  tm add "File taxes" --due 2026-04-15 --notes "use the new portal"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		description, _ := cmd.Flags().GetString("description")
		notes, _ := cmd.Flags().GetString("notes")
		dueStr, _ := cmd.Flags().GetString("due")

		t := task.Task{
			ID:          uuid.NewString(),
			Title:       args[0],
			Description: description,
			Notes:       notes,
			Source:      task.SourceLocal,
		}
		if dueStr != "" {
			due, err := parseDue(dueStr)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			t.Due = &due
		}
		t.SetDefaults()
		if err := t.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		db := mustLocalDB()
		defer db.Close()

		if err := db.Upsert(context.Background(), t); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to save task: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created %s  %q\n", t.ID, t.Title)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks in the local store",
	Long: `List tasks in the local store. Completed and deleted tasks are hidden
unless --all is given.

  tm list
  tm list --status in-progress
  tm list --all`,
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")
		statusFilter, _ := cmd.Flags().GetString("status")

		db := mustLocalDB()
		defer db.Close()

		tasks, err := db.LoadAll(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to load tasks: %v\n", err)
			os.Exit(1)
		}

		shown := 0
		for _, t := range tasks {
			if statusFilter != "" && t.Status != task.Status(statusFilter) {
				continue
			}
			if !all && statusFilter == "" && (t.Status == task.StatusCompleted || t.Status == task.StatusDeleted) {
				continue
			}
			line := fmt.Sprintf("%-36s  %-12s  %s", t.ID, t.Status, t.Title)
			if t.Due != nil {
				line += fmt.Sprintf("  (due %s)", t.Due.Local().Format("2006-01-02"))
			}
			fmt.Println(line)
			shown++
		}
		if shown == 0 {
			fmt.Println("No tasks")
		}
	},
}

var doneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a task completed",
	Long: `Mark a task completed in the local store. The ID may be abbreviated to
any unique prefix.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db := mustLocalDB()
		defer db.Close()

		ctx := context.Background()
		t, err := findByPrefix(ctx, db, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		t.Status = task.StatusCompleted
		t.Modified = time.Now().UTC()
		if err := db.Upsert(ctx, t); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to save task: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Completed %s  %q\n", t.ID, t.Title)
	},
}

func mustLocalDB() *sqlite.DB {
	cfg := mustConfig()
	db, err := sqlite.Open(cfg.LocalDB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open local database: %v\n", err)
		os.Exit(1)
	}
	return db
}

func findByPrefix(ctx context.Context, db *sqlite.DB, prefix string) (task.Task, error) {
	tasks, err := db.LoadAll(ctx)
	if err != nil {
		return task.Task{}, fmt.Errorf("failed to load tasks: %w", err)
	}
	var matches []task.Task
	for _, t := range tasks {
		if strings.HasPrefix(t.ID, prefix) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		return task.Task{}, fmt.Errorf("no task with id prefix %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return task.Task{}, fmt.Errorf("id prefix %q is ambiguous (%d matches)", prefix, len(matches))
	}
}

func parseDue(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse due date %q (use YYYY-MM-DD or RFC3339)", s)
}

func init() {
	addCmd.Flags().StringP("description", "d", "", "Task description")
	addCmd.Flags().StringP("notes", "n", "", "Free-form notes")
	addCmd.Flags().String("due", "", "Due date (YYYY-MM-DD or RFC3339)")

	listCmd.Flags().Bool("all", false, "Include completed and deleted tasks")
	listCmd.Flags().StringP("status", "s", "", "Only show tasks with this status")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(doneCmd)
}
