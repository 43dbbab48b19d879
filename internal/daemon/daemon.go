// Package daemon runs reconciliation passes continuously: on an interval,
// and early when the local database changes on disk.
//
// The daemon:
// 1. Runs an initial full pass on startup
// 2. Watches the local database file for writes
// 3. Triggers a debounced incremental pass after each change burst
// 4. Runs a periodic pass regardless of file activity
// 5. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/taskmirror/taskmirror/internal/orchestrator"
)

// Config holds configuration for the daemon.
type Config struct {
	// Interval is how often a pass runs without any file activity.
	Interval time.Duration

	// Debounce is how long to wait after the last file event before
	// triggering a pass. This batches rapid local edits together.
	Debounce time.Duration

	// Push, Pull, and Full are forwarded to every triggered pass. The
	// startup pass is always full.
	Push bool
	Pull bool
	Full bool

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults: bidirectional incremental
// passes every five minutes, half-second debounce.
func DefaultConfig() *Config {
	return &Config{
		Interval: 5 * time.Minute,
		Debounce: 500 * time.Millisecond,
		Push:     true,
		Pull:     true,
		Logger:   log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// RotatingLogger returns a logger writing to a size-rotated file, for
// daemon runs detached from a terminal.
func RotatingLogger(path string) *log.Logger {
	return log.New(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}, "[daemon] ", log.LstdFlags)
}

// Daemon triggers reconciliation passes from file activity and a timer.
type Daemon struct {
	orch   *orchestrator.Orchestrator
	dbPath string
	config *Config

	watcher *fsnotify.Watcher

	lastEventMu sync.Mutex
	lastEvent   time.Time
	pending     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon driving the given orchestrator. dbPath is the local
// database file whose writes trigger early passes.
func New(orch *orchestrator.Orchestrator, dbPath string, config *Config) (*Daemon, error) {
	if orch == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if dbPath == "" {
		return nil, fmt.Errorf("dbPath cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		orch:    orch,
		dbPath:  dbPath,
		config:  config,
		watcher: watcher,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins the daemon's operation. Blocks until ctx is cancelled or
// the startup pass fails.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	// Startup pass is always full so deletions made while the daemon was
	// down are reconciled.
	if _, err := d.orch.RunSync(ctx, d.passOptions(true)); err != nil {
		return fmt.Errorf("startup pass failed: %w", err)
	}

	// Watch the database's directory: sqlite writes through -wal and
	// -journal side files, and some editors replace files wholesale.
	dir := filepath.Dir(d.dbPath)
	if err := d.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	d.config.Logger.Printf("Watching %s, syncing every %v", dir, d.config.Interval)

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.runPasses()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. A pass in flight finishes.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")
	d.cancel()
	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}
	d.wg.Wait()
	d.config.Logger.Println("Daemon stopped")
	return nil
}

func (d *Daemon) passOptions(full bool) orchestrator.Options {
	return orchestrator.Options{
		Push: d.config.Push,
		Pull: d.config.Pull,
		Full: full || d.config.Full,
	}
}

// watchFileEvents marks a pass pending whenever the database file changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !d.isDatabaseFile(event.Name) {
				continue
			}
			d.lastEventMu.Lock()
			d.lastEvent = time.Now()
			d.pending = true
			d.lastEventMu.Unlock()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// isDatabaseFile matches the database file itself and its sqlite side
// files (-wal, -journal, -shm).
func (d *Daemon) isDatabaseFile(path string) bool {
	base := filepath.Base(path)
	dbBase := filepath.Base(d.dbPath)
	return base == dbBase || strings.HasPrefix(base, dbBase+"-")
}

// runPasses triggers debounced passes after file activity and periodic
// passes on the configured interval.
func (d *Daemon) runPasses() {
	defer d.wg.Done()

	debounce := time.NewTicker(d.config.Debounce)
	defer debounce.Stop()
	interval := time.NewTicker(d.config.Interval)
	defer interval.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-debounce.C:
			d.lastEventMu.Lock()
			due := d.pending && time.Since(d.lastEvent) >= d.config.Debounce
			if due {
				d.pending = false
			}
			d.lastEventMu.Unlock()
			if due {
				d.trigger("file change")
			}

		case <-interval.C:
			d.trigger("interval")
		}
	}
}

// trigger runs one pass, tolerating overlap with a pass already in flight.
func (d *Daemon) trigger(reason string) {
	summary, err := d.orch.RunSync(d.ctx, d.passOptions(false))
	if err != nil {
		if errors.Is(err, orchestrator.ErrPassRunning) {
			// The running pass will pick the change up; the next trigger
			// catches anything it missed.
			return
		}
		d.config.Logger.Printf("Pass (%s) failed: %v", reason, err)
		return
	}
	if summary.PlannedOps > 0 || len(summary.Errors) > 0 {
		d.config.Logger.Printf("Pass (%s): %d ops, %d conflicts, %d errors",
			reason, summary.PlannedOps, summary.ConflictsResolved, len(summary.Errors))
	}
}
