package loadtest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/taskmirror/taskmirror/internal/store/sqlite"
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

// TestGenerateTasks tests the population generator's determinism and
// validity.
func TestGenerateTasks(t *testing.T) {
	a := GenerateTasks(50)
	b := GenerateTasks(50)
	if len(a) != 50 {
		t.Fatalf("generated %d tasks, want 50", len(a))
	}
	for i := range a {
		if err := a[i].Validate(); err != nil {
			t.Fatalf("generated task %d is malformed: %v", i, err)
		}
		if a[i].ID != b[i].ID || a[i].Title != b[i].Title || !a[i].Modified.Equal(b[i].Modified) {
			t.Fatal("generation is not deterministic")
		}
	}
}

// TestRun tests the end-to-end measurement against a seeded store.
func TestRun(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	if err := Seed(ctx, db, 100); err != nil {
		t.Fatalf("Seed() failed: %v", err)
	}

	stats, err := Run(ctx, db, Options{Readers: 4, QueriesPerReader: 5})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if stats.TotalQueries != 20 {
		t.Errorf("TotalQueries = %d, want 20", stats.TotalQueries)
	}
	if stats.Errors != 0 {
		t.Errorf("Errors = %d, want 0", stats.Errors)
	}
	if stats.Min > stats.P50 || stats.P50 > stats.P99 || stats.P99 > stats.Max {
		t.Errorf("percentiles out of order: %+v", stats)
	}
}

// TestVerifyConsistency tests the concurrent read check against a seeded
// store.
func TestVerifyConsistency(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	if err := Seed(ctx, db, 50); err != nil {
		t.Fatalf("Seed() failed: %v", err)
	}

	if err := VerifyConsistency(ctx, db, 4, 200*time.Millisecond); err != nil {
		t.Errorf("VerifyConsistency() failed: %v", err)
	}
}

// TestComputeStats tests the percentile math on a known sample.
func TestComputeStats(t *testing.T) {
	sample := make([]time.Duration, 100)
	for i := range sample {
		sample[i] = time.Duration(i+1) * time.Millisecond
	}

	stats := computeStats(sample)
	if stats.Min != time.Millisecond {
		t.Errorf("Min = %v, want 1ms", stats.Min)
	}
	if stats.Max != 100*time.Millisecond {
		t.Errorf("Max = %v, want 100ms", stats.Max)
	}
	if stats.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v, want 51ms", stats.P50)
	}
	if stats.P95 != 96*time.Millisecond {
		t.Errorf("P95 = %v, want 96ms", stats.P95)
	}
	if stats.Mean != 50500*time.Microsecond {
		t.Errorf("Mean = %v, want 50.5ms", stats.Mean)
	}
}
