package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/taskmirror/taskmirror/internal/task"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleTask(id, title string) task.Task {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return task.Task{
		ID:       id,
		Title:    title,
		Status:   task.StatusPending,
		Created:  now,
		Modified: now,
		Source:   task.SourceLocal,
	}
}

// TestSaveAllAndLoadAll tests the batch round trip.
func TestSaveAllAndLoadAll(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	due := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	t1 := sampleTask("a", "first")
	t1.Description = "desc"
	t1.Notes = "notes"
	t1.Due = &due
	t1.CloudID = "cloudassignedid12345"
	t1.SyncVersion = 2
	t2 := sampleTask("b", "second")

	if err := db.SaveAll(ctx, []task.Task{t1, t2}); err != nil {
		t.Fatalf("SaveAll() failed: %v", err)
	}

	tasks, err := db.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() failed: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("LoadAll() = %d tasks, want 2", len(tasks))
	}

	got, err := db.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Title != "first" || got.Description != "desc" || got.Notes != "notes" {
		t.Errorf("content fields lost in round trip: %+v", got)
	}
	if got.Due == nil || !got.Due.Equal(due) {
		t.Errorf("Due = %v, want %v", got.Due, due)
	}
	if got.CloudID != "cloudassignedid12345" || got.SyncVersion != 2 {
		t.Error("sync metadata lost in round trip")
	}
	if got.Source != task.SourceLocal {
		t.Errorf("Source = %s, want local tag", got.Source)
	}
}

// TestSaveAll_EmptyIDRejected tests the batch precondition.
func TestSaveAll_EmptyIDRejected(t *testing.T) {
	db := testDB(t)

	bad := sampleTask("", "no id")
	if err := db.SaveAll(context.Background(), []task.Task{bad}); err == nil {
		t.Error("SaveAll() should reject a task with an empty ID")
	}
}

// TestUpsert_UpdatesInPlace tests that a second write with the same ID
// replaces the row.
func TestUpsert_UpdatesInPlace(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	orig := sampleTask("a", "original")
	if err := db.Upsert(ctx, orig); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	updated := orig
	updated.Title = "renamed"
	updated.Status = task.StatusInProgress
	if err := db.Upsert(ctx, updated); err != nil {
		t.Fatalf("second Upsert() failed: %v", err)
	}

	count, err := db.Count(ctx)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}

	got, err := db.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Title != "renamed" || got.Status != task.StatusInProgress {
		t.Errorf("row not updated: %+v", got)
	}
}

// TestDeleteOne tests deletion and its idempotence.
func TestDeleteOne(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.Upsert(ctx, sampleTask("a", "t")); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	deleted, err := db.DeleteOne(ctx, "a")
	if err != nil {
		t.Fatalf("DeleteOne() failed: %v", err)
	}
	if !deleted {
		t.Error("DeleteOne() = false, want true for existing row")
	}

	deleted, err = db.DeleteOne(ctx, "a")
	if err != nil {
		t.Fatalf("second DeleteOne() failed: %v", err)
	}
	if deleted {
		t.Error("DeleteOne() = true, want false for missing row")
	}
}

// TestTimestamps_RoundTripUTC tests RFC3339Nano persistence.
func TestTimestamps_RoundTripUTC(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	tk := sampleTask("a", "t")
	tk.Modified = time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC)
	tk.LastSynced = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if err := db.Upsert(ctx, tk); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	got, err := db.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !got.Modified.Equal(tk.Modified) {
		t.Errorf("Modified = %v, want %v (nanosecond precision)", got.Modified, tk.Modified)
	}
	if !got.LastSynced.Equal(tk.LastSynced) {
		t.Errorf("LastSynced = %v, want %v", got.LastSynced, tk.LastSynced)
	}
}
