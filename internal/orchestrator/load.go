package orchestrator

import (
	"context"
	"fmt"

	"github.com/taskmirror/taskmirror/internal/store"
	"github.com/taskmirror/taskmirror/internal/task"
)

// snapshot is the in-memory state collected during the Load phase. The
// Plan and Deduplicate phases operate on it exclusively; stores are not
// touched again until Execute.
type snapshot struct {
	local    []task.Task
	replicas []replicaSnapshot
	cloud    []task.Task

	// cloudOK is true when a cloud store is configured and its fetch
	// succeeded. A degraded cloud is excluded from planning entirely so
	// its records are never mistaken for deletions.
	cloudOK bool
}

type replicaSnapshot struct {
	store store.Replica
	tasks []task.Task
	ok    bool
}

// replicaTasks merges the records of every reachable replica into one
// collection for three-way resolution.
func (s *snapshot) replicaTasks() []task.Task {
	var out []task.Task
	for _, r := range s.replicas {
		if r.ok {
			out = append(out, r.tasks...)
		}
	}
	return out
}

type fetchResult struct {
	name  string
	tasks []task.Task
	err   error
}

// load fetches all configured stores concurrently. The local store is
// required: its failure aborts the pass. A replica failure degrades that
// replica to unavailable. A cloud auth failure aborts the pass before any
// write; any other cloud failure degrades the cloud for this pass.
func (o *Orchestrator) load(ctx context.Context, opts Options, summary *Summary) (*snapshot, error) {
	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	type fetchFn func(context.Context) ([]task.Task, error)
	fetches := map[string]fetchFn{
		"local": o.local.LoadAll,
	}
	for _, r := range o.replicas {
		fetches["replica:"+r.Name()] = r.LoadAll
	}
	if o.cloud != nil {
		fetches["cloud"] = o.cloud.ListAll
	}

	results := make(chan fetchResult, len(fetches))
	for name, fetch := range fetches {
		go func(name string, fetch fetchFn) {
			fctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			tasks, err := fetch(fctx)
			results <- fetchResult{name: name, tasks: tasks, err: err}
		}(name, fetch)
	}

	byName := make(map[string]fetchResult, len(fetches))
	for range fetches {
		res := <-results
		byName[res.name] = res
	}

	if res := byName["local"]; res.err != nil {
		return nil, fmt.Errorf("local store: %w", res.err)
	}
	if o.cloud != nil {
		if res := byName["cloud"]; res.err != nil && store.IsAuth(res.err) {
			return nil, res.err
		}
	}

	snap := &snapshot{}
	snap.local = o.filterMalformed(byName["local"].tasks, "local", summary)

	for _, r := range o.replicas {
		res := byName["replica:"+r.Name()]
		rs := replicaSnapshot{store: r}
		if res.err != nil {
			summary.errorf("replica %s unavailable: %v", r.Name(), res.err)
			o.logger.Printf("Replica %s degraded for this pass: %v", r.Name(), res.err)
		} else {
			rs.tasks = o.filterMalformed(res.tasks, r.Name(), summary)
			rs.ok = true
		}
		snap.replicas = append(snap.replicas, rs)
	}

	if o.cloud != nil {
		res := byName["cloud"]
		if res.err != nil {
			summary.errorf("cloud unavailable: %v", res.err)
			o.logger.Printf("Cloud degraded for this pass: %v", res.err)
		} else {
			snap.cloud = o.filterMalformed(res.tasks, "cloud", summary)
			snap.cloudOK = true
		}
	}

	o.logger.Printf("Loaded %d local, %d replica, %d cloud records",
		len(snap.local), len(snap.replicaTasks()), len(snap.cloud))
	return snap, nil
}

// filterMalformed drops records that fail validation, counting and logging
// each skip. Malformed records never fail a pass.
func (o *Orchestrator) filterMalformed(records []task.Task, origin string, summary *Summary) []task.Task {
	out := records[:0]
	for _, t := range records {
		if err := t.Validate(); err != nil {
			summary.SkippedMalformed++
			summary.warnf("skipping malformed record from %s: %v", origin, err)
			continue
		}
		out = append(out, t)
	}
	return out
}
