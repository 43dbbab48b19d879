// Package sqlite implements the local on-device task store on embedded
// SQLite with WAL mode for concurrent reads.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/taskmirror/taskmirror/internal/task"
)

// DB wraps the SQLite connection for the local task store.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it is created along with the schema.
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Path returns the database file path. The daemon watches it for changes.
func (db *DB) Path() string { return db.path }

// Close closes the database connection after a WAL checkpoint.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// InitSchema creates the schema if it doesn't exist. Idempotent.
func (db *DB) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id           TEXT PRIMARY KEY,
		title        TEXT NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		notes        TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL DEFAULT 'pending',
		created_at   TEXT NOT NULL,
		modified_at  TEXT NOT NULL,
		due_at       TEXT,
		cloud_id     TEXT NOT NULL DEFAULT '',
		last_synced  TEXT,
		sync_version INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_modified ON tasks(modified_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_cloud ON tasks(cloud_id);
	`
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// LoadAll returns every task in the store, tagged with the local source.
func (db *DB) LoadAll(ctx context.Context) ([]task.Task, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, title, description, notes, status,
		       created_at, modified_at, due_at,
		       cloud_id, last_synced, sync_version
		FROM tasks
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows, task.SourceLocal)
}

// SaveAll upserts every given task. Existing rows keep their identifier;
// records without one are rejected (the caller assigns local IDs).
func (db *DB) SaveAll(ctx context.Context, tasks []task.Task) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, t := range tasks {
		if t.ID == "" {
			return fmt.Errorf("cannot save task with empty id (title %q)", t.Title)
		}
		if err := upsertTask(ctx, tx, t); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit save: %w", err)
	}
	return nil
}

// Upsert inserts or updates a single task.
func (db *DB) Upsert(ctx context.Context, t task.Task) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertTask(ctx, tx, t); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertTask(ctx context.Context, tx *sql.Tx, t task.Task) error {
	query := `
	INSERT INTO tasks (
		id, title, description, notes, status,
		created_at, modified_at, due_at,
		cloud_id, last_synced, sync_version
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title        = excluded.title,
		description  = excluded.description,
		notes        = excluded.notes,
		status       = excluded.status,
		modified_at  = excluded.modified_at,
		due_at       = excluded.due_at,
		cloud_id     = excluded.cloud_id,
		last_synced  = excluded.last_synced,
		sync_version = excluded.sync_version
	`
	_, err := tx.ExecContext(ctx, query,
		t.ID,
		t.Title,
		t.Description,
		t.Notes,
		string(t.Status),
		t.Created.UTC().Format(time.RFC3339Nano),
		t.Modified.UTC().Format(time.RFC3339Nano),
		timeToNullString(t.DueUTC()),
		t.CloudID,
		zeroTimeToNullString(t.LastSynced),
		t.SyncVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", t.ID, err)
	}
	return nil
}

// DeleteOne removes a task by ID. Reports whether a row was deleted.
func (db *DB) DeleteOne(ctx context.Context, id string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return n > 0, nil
}

// Get retrieves a single task by ID. Returns sql.ErrNoRows if absent.
func (db *DB) Get(ctx context.Context, id string) (task.Task, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, title, description, notes, status,
		       created_at, modified_at, due_at,
		       cloud_id, last_synced, sync_version
		FROM tasks
		WHERE id = ?
	`, id)
	return scanTask(row, task.SourceLocal)
}

// Count returns the number of tasks in the store.
func (db *DB) Count(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return count, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner, source task.Source) (task.Task, error) {
	var t task.Task
	var status, createdAt, modifiedAt string
	var dueAt, lastSynced sql.NullString

	err := row.Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&t.Notes,
		&status,
		&createdAt,
		&modifiedAt,
		&dueAt,
		&t.CloudID,
		&lastSynced,
		&t.SyncVersion,
	)
	if err != nil {
		return task.Task{}, err
	}

	t.Status = task.Status(status)
	t.Source = source
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		t.Created = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, modifiedAt); err == nil {
		t.Modified = ts
	}
	t.Due = nullStringToTime(dueAt)
	if ls := nullStringToTime(lastSynced); ls != nil {
		t.LastSynced = *ls
	}
	return t, nil
}

func scanTasks(rows *sql.Rows, source task.Source) ([]task.Task, error) {
	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows, source)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func zeroTimeToNullString(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
