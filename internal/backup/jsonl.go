// Package backup moves the local task store to and from JSONL, one task
// record per line. The format is the interchange and backup surface: it is
// store-agnostic, diffs cleanly, and a truncated file fails loudly on the
// first bad line instead of importing garbage.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/taskmirror/taskmirror/internal/store"
	"github.com/taskmirror/taskmirror/internal/task"
)

// ImportOptions configures an import run.
type ImportOptions struct {
	// DryRun parses and validates without writing to the store.
	DryRun bool

	// Replace deletes every existing record before importing. The default
	// merges: imported records upsert over existing ones by ID.
	Replace bool
}

// Result reports what an export or import did.
type Result struct {
	Exported int
	Imported int
	Replaced int
	Skipped  int
	Errors   []string
}

// Export writes every record of the store to path as JSONL. The file is
// written to a temp sibling and renamed so a crash never leaves a partial
// backup behind.
func Export(ctx context.Context, src store.Local, path string) (*Result, error) {
	tasks, err := src.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load store: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	enc := json.NewEncoder(f)
	for _, t := range tasks {
		if err := enc.Encode(t); err != nil {
			_ = f.Close()
			_ = os.Remove(tmpPath)
			return nil, fmt.Errorf("failed to encode task %s: %w", t.ID, err)
		}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename temp file: %w", err)
	}

	return &Result{Exported: len(tasks)}, nil
}

// ReadFile parses a JSONL backup. Records failing validation are returned
// separately so the caller decides whether to skip or abort; a syntax error
// aborts with the line number.
func ReadFile(path string) ([]task.Task, []string, error) {
	f, err := os.Open(path) // #nosec G304 - path comes from the CLI
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open backup: %w", err)
	}
	defer f.Close()

	var tasks []task.Task
	var skipped []string
	dec := json.NewDecoder(f)
	line := 0

	for {
		var t task.Task
		if err := dec.Decode(&t); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, nil, fmt.Errorf("invalid JSON at line %d: %w", line+1, err)
		}
		line++

		t.SetDefaults()
		if err := t.Validate(); err != nil {
			skipped = append(skipped, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, skipped, nil
}

// Import loads a JSONL backup into the store.
func Import(ctx context.Context, dst store.Local, path string, opts ImportOptions) (*Result, error) {
	tasks, skipped, err := ReadFile(path)
	if err != nil {
		return nil, err
	}

	result := &Result{Skipped: len(skipped), Errors: skipped}
	if opts.DryRun {
		result.Imported = len(tasks)
		return result, nil
	}

	if opts.Replace {
		existing, err := dst.LoadAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load store: %w", err)
		}
		for _, t := range existing {
			if _, err := dst.DeleteOne(ctx, t.ID); err != nil {
				return nil, fmt.Errorf("failed to clear record %s: %w", t.ID, err)
			}
			result.Replaced++
		}
	}

	for i := range tasks {
		if tasks[i].ID == "" {
			tasks[i].ID = uuid.NewString()
		}
	}
	if len(tasks) > 0 {
		if err := dst.SaveAll(ctx, tasks); err != nil {
			return nil, fmt.Errorf("failed to write imported records: %w", err)
		}
	}
	result.Imported = len(tasks)
	return result, nil
}
