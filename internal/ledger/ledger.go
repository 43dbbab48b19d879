// Package ledger persists the signature→fingerprint mapping and the
// last-sync timestamp between reconciliation passes.
//
// The ledger is an explicit object with an explicit load/save lifecycle,
// passed into the orchestrator. It is read at the start of a pass and
// overwritten atomically (single transaction) at the end of a successful
// one. Losing it is never a correctness violation: the next pass simply
// redoes more comparisons.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/taskmirror/taskmirror/internal/identity"
	"github.com/taskmirror/taskmirror/internal/task"
)

// WriteError reports that a pass's operations succeeded but the ledger
// could not be persisted. Callers surface it as a warning, not a failure.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("ledger write failed: %v", e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// Ledger holds the in-memory state between Load and Save. It is not safe
// for concurrent use; the orchestrator serializes passes.
type Ledger struct {
	conn *sql.DB
	path string

	lastSync time.Time
	entries  map[identity.Sig]map[task.Source]identity.FP
}

// Open creates or opens the ledger database and loads its contents.
// The caller must Close it when done.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ledger database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	l := &Ledger{
		conn:    conn,
		path:    path,
		entries: make(map[identity.Sig]map[task.Source]identity.FP),
	}
	if err := l.initSchema(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := l.Load(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS fingerprints (
		signature   TEXT NOT NULL,
		source      TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		PRIMARY KEY (signature, source)
	);

	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := l.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return nil
}

// Load replaces the in-memory state with the persisted one.
func (l *Ledger) Load(ctx context.Context) error {
	rows, err := l.conn.QueryContext(ctx, "SELECT signature, source, fingerprint FROM fingerprints")
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}
	defer rows.Close()

	entries := make(map[identity.Sig]map[task.Source]identity.FP)
	for rows.Next() {
		var sigHex, source, fpHex string
		if err := rows.Scan(&sigHex, &source, &fpHex); err != nil {
			return fmt.Errorf("failed to scan ledger row: %w", err)
		}
		sig, ok := identity.ParseSig(sigHex)
		if !ok {
			continue
		}
		fp, ok := identity.ParseFP(fpHex)
		if !ok {
			continue
		}
		if entries[sig] == nil {
			entries[sig] = make(map[task.Source]identity.FP)
		}
		entries[sig][task.Source(source)] = fp
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating ledger rows: %w", err)
	}

	var lastSync time.Time
	var value string
	err = l.conn.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'last_sync'").Scan(&value)
	switch err {
	case nil:
		if t, perr := time.Parse(time.RFC3339Nano, value); perr == nil {
			lastSync = t
		}
	case sql.ErrNoRows:
		// First run.
	default:
		return fmt.Errorf("failed to read last sync time: %w", err)
	}

	l.entries = entries
	l.lastSync = lastSync
	return nil
}

// Save overwrites the persisted state with the in-memory one in a single
// transaction and records lastSync. Failures come back as *WriteError.
func (l *Ledger) Save(ctx context.Context, lastSync time.Time) error {
	if l.conn == nil {
		return &WriteError{Err: errors.New("ledger is closed")}
	}
	tx, err := l.conn.BeginTx(ctx, nil)
	if err != nil {
		return &WriteError{Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM fingerprints"); err != nil {
		return &WriteError{Err: err}
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO fingerprints (signature, source, fingerprint) VALUES (?, ?, ?)")
	if err != nil {
		return &WriteError{Err: err}
	}
	defer stmt.Close()

	for sig, bySource := range l.entries {
		for source, fp := range bySource {
			if _, err := stmt.ExecContext(ctx, sig.String(), string(source), fp.String()); err != nil {
				return &WriteError{Err: err}
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ('last_sync', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, lastSync.UTC().Format(time.RFC3339Nano)); err != nil {
		return &WriteError{Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &WriteError{Err: err}
	}

	l.lastSync = lastSync
	return nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}

// LastSync returns the timestamp recorded by the most recent successful
// pass. Zero when no pass has completed.
func (l *Ledger) LastSync() time.Time { return l.lastSync }

// Get returns the fingerprint recorded for a signature at a source.
func (l *Ledger) Get(sig identity.Sig, source task.Source) (identity.FP, bool) {
	bySource, ok := l.entries[sig]
	if !ok {
		return identity.FP{}, false
	}
	fp, ok := bySource[source]
	return fp, ok
}

// SourceMap returns all recorded fingerprints for one source, keyed by
// signature. The planner consumes this for its incremental cheap path.
func (l *Ledger) SourceMap(source task.Source) map[identity.Sig]identity.FP {
	m := make(map[identity.Sig]identity.FP)
	for sig, bySource := range l.entries {
		if fp, ok := bySource[source]; ok {
			m[sig] = fp
		}
	}
	return m
}

// Record stores a fingerprint for a signature at a source. Takes effect on
// the next Save.
func (l *Ledger) Record(sig identity.Sig, source task.Source, fp identity.FP) {
	if l.entries[sig] == nil {
		l.entries[sig] = make(map[task.Source]identity.FP)
	}
	l.entries[sig][source] = fp
}

// Reset drops all in-memory entries, keeping the last-sync timestamp.
// A full pass rebuilds the ledger from scratch before saving.
func (l *Ledger) Reset() {
	l.entries = make(map[identity.Sig]map[task.Source]identity.FP)
}

// Len returns the number of distinct signatures tracked.
func (l *Ledger) Len() int { return len(l.entries) }
