// Package orchestrator drives one reconciliation pass end-to-end.
//
// A pass is a four-phase state machine: Load, Plan, Deduplicate, Execute.
// Each phase must complete before the next begins. The orchestrator is the
// only component with side effects on network or disk state; the signature
// engine, resolver, and planner it invokes are pure functions over the
// in-memory snapshot collected during Load.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/taskmirror/taskmirror/internal/ledger"
	"github.com/taskmirror/taskmirror/internal/resolve"
	"github.com/taskmirror/taskmirror/internal/store"
)

// ErrPassRunning is returned when a pass is triggered while a previous one
// is still executing. Passes are strictly serial.
var ErrPassRunning = errors.New("a reconciliation pass is already running")

// DefaultFetchTimeout bounds each store fetch during Load. A timed-out
// store degrades to unavailable rather than aborting the pass.
const DefaultFetchTimeout = 30 * time.Second

// Options selects what one pass does.
type Options struct {
	// Push enables write-back toward the cloud source and replicas.
	Push bool

	// Pull enables write-back toward the local store.
	Pull bool

	// Full re-evaluates all records and may infer deletions; otherwise the
	// pass is incremental and never infers deletion.
	Full bool

	// DryRun plans but executes nothing.
	DryRun bool

	// FetchTimeout bounds each Load-phase fetch. Zero means
	// DefaultFetchTimeout.
	FetchTimeout time.Duration
}

// StoreCounts tallies executed operations against one store.
type StoreCounts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

func (c StoreCounts) total() int { return c.Created + c.Updated + c.Deleted }

// Summary is the structured result of a pass. It is always complete: the
// surrounding CLI or dashboard decides how to render it.
type Summary struct {
	Success  bool          `json:"success"`
	Full     bool          `json:"full"`
	DryRun   bool          `json:"dry_run,omitempty"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Duration time.Duration `json:"duration"`

	Local   StoreCounts `json:"local"`
	Replica StoreCounts `json:"replica"`
	Cloud   StoreCounts `json:"cloud"`

	ConflictsResolved int `json:"conflicts_resolved"`
	DuplicatesRemoved int `json:"duplicates_removed"`
	SkippedMalformed  int `json:"skipped_malformed"`
	PlannedOps        int `json:"planned_ops"`

	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (s *Summary) errorf(format string, args ...any) {
	s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
}

func (s *Summary) warnf(format string, args ...any) {
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

// Config wires the orchestrator's collaborators. Local and Ledger are
// required; Cloud and Replicas are optional (a pass reconciles whatever is
// configured).
type Config struct {
	Local    store.Local
	Replicas []store.Replica
	Cloud    store.Cloud
	Ledger   *ledger.Ledger
	Resolver *resolve.Resolver

	// LockPath is the file lock taken for the duration of Execute so a
	// concurrently-running CRUD operation cannot interleave with sync
	// writes.
	LockPath string

	// Tolerance is the timestamp drift window. Zero means one second.
	Tolerance time.Duration

	Logger *log.Logger
}

// Orchestrator runs reconciliation passes. Safe for concurrent triggers:
// at most one pass executes at a time.
type Orchestrator struct {
	local     store.Local
	replicas  []store.Replica
	cloud     store.Cloud
	ledger    *ledger.Ledger
	resolver  *resolve.Resolver
	tolerance time.Duration
	lockPath  string
	logger    *log.Logger

	running   atomic.Bool
	onSummary atomic.Pointer[func(*Summary)]
}

// New creates an orchestrator from the given configuration.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Local == nil {
		return nil, fmt.Errorf("local store is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if cfg.Resolver == nil {
		cfg.Resolver = resolve.New(resolve.NewestWins, "", cfg.Logger)
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = resolve.DefaultTolerance
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	cfg.Resolver.SetTolerance(cfg.Tolerance)
	return &Orchestrator{
		local:     cfg.Local,
		replicas:  cfg.Replicas,
		cloud:     cfg.Cloud,
		ledger:    cfg.Ledger,
		resolver:  cfg.Resolver,
		tolerance: cfg.Tolerance,
		lockPath:  cfg.LockPath,
		logger:    cfg.Logger,
	}, nil
}

// OnSummary registers a callback invoked with the summary of every
// completed pass (the dashboard subscribes here). The callback runs on the
// pass's goroutine and must not block.
func (o *Orchestrator) OnSummary(fn func(*Summary)) {
	o.onSummary.Store(&fn)
}

// Running reports whether a pass is currently executing.
func (o *Orchestrator) Running() bool { return o.running.Load() }

// RunSync performs one reconciliation pass and returns its summary.
//
// Phase-local recoverable errors (an unreachable replica, a malformed
// record) are accumulated into the summary and do not stop the pass.
// Phase-fatal errors (cloud credentials rejected before any write, a
// cancelled context at a phase checkpoint) abort immediately, leaving all
// stores untouched.
func (o *Orchestrator) RunSync(ctx context.Context, opts Options) (*Summary, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrPassRunning
	}
	defer o.running.Store(false)

	summary := &Summary{Started: time.Now(), Full: opts.Full, DryRun: opts.DryRun}
	finish := func(ok bool) *Summary {
		summary.Success = ok
		summary.Finished = time.Now()
		summary.Duration = summary.Finished.Sub(summary.Started)
		if fn := o.onSummary.Load(); fn != nil {
			(*fn)(summary)
		}
		return summary
	}

	mode := "incremental"
	if opts.Full {
		mode = "full"
	}
	o.logger.Printf("Starting %s pass (push=%v pull=%v dry-run=%v)", mode, opts.Push, opts.Pull, opts.DryRun)

	// Phase 1: Load.
	snap, err := o.load(ctx, opts, summary)
	if err != nil {
		summary.errorf("load: %v", err)
		return finish(false), err
	}
	if err := ctx.Err(); err != nil {
		// Cooperative checkpoint: a pass may abort between phases but
		// never mid-Execute.
		summary.errorf("aborted after load: %v", err)
		return finish(false), err
	}

	// Phase 2: Plan.
	ops, conflicts := o.plan(snap, opts)
	summary.ConflictsResolved = conflicts

	// Phase 3: Deduplicate. Runs against the planned set so records
	// already scheduled for creation or update are never also flagged as
	// intra-source duplicates of each other.
	o.deduplicate(snap, ops, opts)

	summary.PlannedOps = ops.total()
	if err := ctx.Err(); err != nil {
		summary.errorf("aborted after plan: %v", err)
		return finish(false), err
	}

	if opts.DryRun {
		o.countPlanned(ops, summary)
		o.logger.Printf("Dry run: %d operations planned, %d conflicts", summary.PlannedOps, conflicts)
		return finish(true), nil
	}

	// Phase 4: Execute.
	if err := o.execute(ctx, snap, ops, summary); err != nil {
		summary.errorf("execute: %v", err)
		return finish(false), err
	}

	o.logger.Printf("Pass complete in %v: local %+v, replica %+v, cloud %+v, conflicts=%d",
		time.Since(summary.Started).Round(time.Millisecond),
		summary.Local, summary.Replica, summary.Cloud, conflicts)
	return finish(true), nil
}

// lockExecute takes the exclusive file lock guarding the Execute phase.
// Returns an unlock func. With no lock path configured (tests, in-memory
// stores) it is a no-op.
func (o *Orchestrator) lockExecute(ctx context.Context) (func(), error) {
	if o.lockPath == "" {
		return func() {}, nil
	}
	lock := flock.New(o.lockPath)
	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sync lock %s: %w", o.lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("sync lock %s is held by another process", o.lockPath)
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			o.logger.Printf("Warning: failed to release sync lock: %v", err)
		}
	}, nil
}
