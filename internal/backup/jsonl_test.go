package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/taskmirror/taskmirror/internal/store/sqlite"
	"github.com/taskmirror/taskmirror/internal/task"
)

func testDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedTask(id, title string) task.Task {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return task.Task{ID: id, Title: title, Status: task.StatusPending, Created: now, Modified: now}
}

// TestExportImportRoundTrip tests that a backup restores the store exactly.
func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := testDB(t)
	path := filepath.Join(t.TempDir(), "backup.jsonl")

	due := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	t1 := seedTask("a", "first")
	t1.Description = "desc"
	t1.Due = &due
	t1.CloudID = "cloudassignedid12345"
	if err := src.SaveAll(ctx, []task.Task{t1, seedTask("b", "second")}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	exported, err := Export(ctx, src, path)
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if exported.Exported != 2 {
		t.Errorf("exported = %d, want 2", exported.Exported)
	}

	dst := testDB(t)
	imported, err := Import(ctx, dst, path, ImportOptions{})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if imported.Imported != 2 || imported.Skipped != 0 {
		t.Errorf("imported = %d skipped = %d, want 2/0", imported.Imported, imported.Skipped)
	}

	got, err := dst.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Description != "desc" || got.CloudID != "cloudassignedid12345" {
		t.Errorf("record lost fields in round trip: %+v", got)
	}
	if got.Due == nil || !got.Due.Equal(due) {
		t.Errorf("Due = %v, want %v", got.Due, due)
	}
}

// TestImport_SkipsMalformedLines tests that invalid records are counted,
// not fatal.
func TestImport_SkipsMalformedLines(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "backup.jsonl")
	blob := `{"id":"a","title":"good","status":"pending","created_at":"2026-03-01T10:00:00Z","modified_at":"2026-03-01T10:00:00Z"}
{"id":"b","status":"pending","created_at":"2026-03-01T10:00:00Z","modified_at":"2026-03-01T10:00:00Z"}
`
	if err := os.WriteFile(path, []byte(blob), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	dst := testDB(t)
	result, err := Import(ctx, dst, path, ImportOptions{})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if result.Imported != 1 {
		t.Errorf("imported = %d, want 1", result.Imported)
	}
	if result.Skipped != 1 {
		t.Errorf("skipped = %d, want 1 (record without title)", result.Skipped)
	}
}

// TestImport_SyntaxErrorAborts tests that truncated or corrupt JSONL fails
// with the line number instead of importing a partial set.
func TestImport_SyntaxErrorAborts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.jsonl")
	if err := os.WriteFile(path, []byte("{\"id\":\"a\",\"title\":\"ok\"}\n{broken"), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	dst := testDB(t)
	if _, err := Import(context.Background(), dst, path, ImportOptions{}); err == nil {
		t.Error("Import() should fail on corrupt JSONL")
	}
}

// TestImport_DryRun tests that a dry run parses without writing.
func TestImport_DryRun(t *testing.T) {
	ctx := context.Background()
	src := testDB(t)
	path := filepath.Join(t.TempDir(), "backup.jsonl")
	if err := src.Upsert(ctx, seedTask("a", "one")); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, err := Export(ctx, src, path); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}

	dst := testDB(t)
	result, err := Import(ctx, dst, path, ImportOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if result.Imported != 1 {
		t.Errorf("dry run imported = %d, want 1 reported", result.Imported)
	}
	count, err := dst.Count(ctx)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("dry run wrote %d records, want 0", count)
	}
}

// TestImport_Replace tests that replace mode clears existing records first.
func TestImport_Replace(t *testing.T) {
	ctx := context.Background()
	src := testDB(t)
	path := filepath.Join(t.TempDir(), "backup.jsonl")
	if err := src.Upsert(ctx, seedTask("a", "kept")); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, err := Export(ctx, src, path); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}

	dst := testDB(t)
	if err := dst.Upsert(ctx, seedTask("old", "stale record")); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	result, err := Import(ctx, dst, path, ImportOptions{Replace: true})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if result.Replaced != 1 {
		t.Errorf("replaced = %d, want 1", result.Replaced)
	}
	if _, err := dst.Get(ctx, "old"); err == nil {
		t.Error("stale record should be gone after replace import")
	}
	if _, err := dst.Get(ctx, "a"); err != nil {
		t.Errorf("imported record missing: %v", err)
	}
}

// TestExport_EmptyStore tests that an empty store exports an empty file,
// not an error.
func TestExport_EmptyStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "backup.jsonl")

	result, err := Export(ctx, testDB(t), path)
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if result.Exported != 0 {
		t.Errorf("exported = %d, want 0", result.Exported)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("backup file missing: %v", err)
	}
}
