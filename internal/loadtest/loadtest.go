// Package loadtest measures store fetch latency under concurrent readers.
//
// Every reconciliation pass starts with a full-collection fetch from each
// store, and the daemon may trigger passes while CLI commands read the same
// database. This package seeds a store with a realistic task population and
// hammers it with concurrent LoadAll readers to verify the store holds up
// and to report the latency distribution.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/taskmirror/taskmirror/internal/store"
	"github.com/taskmirror/taskmirror/internal/task"
)

// LatencyStats is the measured latency distribution of a run.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration
	P95          time.Duration
	P99          time.Duration
	TotalQueries int
	Errors       int
}

// Options configures a load test run.
type Options struct {
	// Readers is the number of concurrent reader goroutines.
	Readers int

	// QueriesPerReader is how many full-collection fetches each reader
	// performs.
	QueriesPerReader int
}

// Seed populates the store with count generated tasks. Contents are
// deterministic for a given count so repeated runs measure the same shape.
func Seed(ctx context.Context, dst store.Local, count int) error {
	if err := dst.SaveAll(ctx, GenerateTasks(count)); err != nil {
		return fmt.Errorf("failed to seed store: %w", err)
	}
	return nil
}

// GenerateTasks builds a deterministic population with a realistic status
// and due-date spread.
func GenerateTasks(count int) []task.Task {
	statuses := []task.Status{
		task.StatusPending, task.StatusPending, task.StatusPending,
		task.StatusInProgress, task.StatusInProgress,
		task.StatusWaiting,
		task.StatusCompleted, task.StatusCompleted, task.StatusCompleted,
		task.StatusDeleted,
	}
	rng := rand.New(rand.NewSource(42))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tasks := make([]task.Task, count)
	for i := 0; i < count; i++ {
		created := base.Add(time.Duration(i) * time.Minute)
		t := task.Task{
			ID:          fmt.Sprintf("load-%05d", i),
			Title:       fmt.Sprintf("generated task %d", i),
			Description: fmt.Sprintf("load test population member %d", i),
			Status:      statuses[i%len(statuses)],
			Created:     created,
			Modified:    created.Add(time.Duration(rng.Intn(72)) * time.Hour),
			Source:      task.SourceLocal,
		}
		if i%3 == 0 {
			due := created.Add(14 * 24 * time.Hour)
			t.Due = &due
		}
		tasks[i] = t
	}
	return tasks
}

// Run launches the configured readers against the store and aggregates
// their latencies. A reader stops on its first error; the run keeps going
// and reports the error count.
func Run(ctx context.Context, src store.Local, opts Options) (*LatencyStats, error) {
	if opts.Readers <= 0 {
		opts.Readers = 10
	}
	if opts.QueriesPerReader <= 0 {
		opts.QueriesPerReader = 10
	}

	var wg sync.WaitGroup
	results := make(chan []time.Duration, opts.Readers)
	errs := make(chan error, opts.Readers)

	for i := 0; i < opts.Readers; i++ {
		wg.Add(1)
		go func(reader int) {
			defer wg.Done()
			durations := make([]time.Duration, 0, opts.QueriesPerReader)
			for j := 0; j < opts.QueriesPerReader; j++ {
				start := time.Now()
				_, err := src.LoadAll(ctx)
				durations = append(durations, time.Since(start))
				if err != nil {
					errs <- fmt.Errorf("reader %d query %d: %w", reader, j, err)
					results <- durations
					return
				}
			}
			results <- durations
		}(i)
	}
	wg.Wait()
	close(results)
	close(errs)

	var all []time.Duration
	for durations := range results {
		all = append(all, durations...)
	}
	errorCount := len(errs)

	if len(all) == 0 {
		return nil, fmt.Errorf("no queries completed")
	}
	stats := computeStats(all)
	stats.Errors = errorCount
	return stats, nil
}

// VerifyConsistency runs concurrent readers for the given duration and
// checks every fetched record is well formed. Used to shake out corruption
// under read concurrency.
func VerifyConsistency(ctx context.Context, src store.Local, readers int, d time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, readers)

	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(reader int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				tasks, err := src.LoadAll(ctx)
				if err != nil {
					if ctx.Err() == nil {
						errs <- fmt.Errorf("reader %d: %w", reader, err)
					}
					return
				}
				for _, t := range tasks {
					if t.ID == "" {
						errs <- fmt.Errorf("reader %d: record with empty ID", reader)
						return
					}
					if err := t.Validate(); err != nil {
						errs <- fmt.Errorf("reader %d: %w", reader, err)
						return
					}
				}
				time.Sleep(time.Millisecond)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		return err
	}
	return nil
}

// computeStats aggregates a latency sample into its distribution.
func computeStats(durations []time.Duration) *LatencyStats {
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(sorted)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalQueries: len(sorted),
	}
}

// Print writes the distribution in a fixed-width report.
func (s *LatencyStats) Print(w io.Writer) {
	fmt.Fprintf(w, "Latency statistics:\n")
	fmt.Fprintf(w, "  Queries: %d\n", s.TotalQueries)
	fmt.Fprintf(w, "  Errors:  %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:     %v\n", s.Min)
	fmt.Fprintf(w, "  P50:     %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:    %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:     %v\n", s.P95)
	fmt.Fprintf(w, "  P99:     %v\n", s.P99)
	fmt.Fprintf(w, "  Max:     %v\n", s.Max)
}
