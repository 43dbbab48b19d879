// Package replica implements the remote replica store on libSQL.
//
// Each configured replica is a network-accessible libSQL database reached
// through a URL plus an auth token resolved from config/environment. A
// replica may be offline: connection failures and timeouts surface as
// store.UnavailableError so a pass degrades the replica to empty instead of
// aborting.
package replica

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/taskmirror/taskmirror/internal/store"
	"github.com/taskmirror/taskmirror/internal/task"
)

// Store is one remote replica.
type Store struct {
	name string
	conn *sql.DB
}

// Open connects to a replica at rawURL (libsql:// or https://) using the
// given auth token. The schema is created on first use.
func Open(name, rawURL, authToken string) (*Store, error) {
	if name == "" {
		return nil, fmt.Errorf("replica name cannot be empty")
	}

	dsn := rawURL
	if authToken != "" {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("invalid replica URL %q: %w", rawURL, err)
		}
		q := u.Query()
		q.Set("authToken", authToken)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	conn, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open replica %s: %w", name, err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetConnMaxIdleTime(time.Minute)

	s := &Store{name: name, conn: conn}
	return s, nil
}

// Name returns the configured replica name.
func (s *Store) Name() string { return s.name }

// Close closes the replica connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// InitSchema creates the tasks table if needed. Idempotent; called lazily
// by the first write so that a read-only pass against a fresh replica does
// not need write access.
func (s *Store) InitSchema(ctx context.Context) error {
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
	)`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return s.unavailable(err)
	}
	return nil
}

// LoadAll returns every task held by the replica, tagged with the replica
// source.
func (s *Store) LoadAll(ctx context.Context) ([]task.Task, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, title, description, notes, status,
		       created_at, modified_at, due_at,
		       cloud_id, last_synced, sync_version
		FROM tasks
	`)
	if err != nil {
		if isMissingTable(err) {
			// Fresh replica: nothing synced yet.
			return nil, nil
		}
		return nil, s.unavailable(err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		var t task.Task
		var status, createdAt, modifiedAt string
		var dueAt, lastSynced sql.NullString
		if err := rows.Scan(
			&t.ID, &t.Title, &t.Description, &t.Notes, &status,
			&createdAt, &modifiedAt, &dueAt,
			&t.CloudID, &lastSynced, &t.SyncVersion,
		); err != nil {
			return nil, fmt.Errorf("failed to scan replica task: %w", err)
		}
		t.Status = task.Status(status)
		t.Source = task.SourceReplica
		if ts, perr := time.Parse(time.RFC3339Nano, createdAt); perr == nil {
			t.Created = ts
		}
		if ts, perr := time.Parse(time.RFC3339Nano, modifiedAt); perr == nil {
			t.Modified = ts
		}
		if dueAt.Valid {
			if ts, perr := time.Parse(time.RFC3339Nano, dueAt.String); perr == nil {
				t.Due = &ts
			}
		}
		if lastSynced.Valid {
			if ts, perr := time.Parse(time.RFC3339Nano, lastSynced.String); perr == nil {
				t.LastSynced = ts
			}
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, s.unavailable(err)
	}
	return tasks, nil
}

// SaveAll upserts every given task on the replica in one transaction.
func (s *Store) SaveAll(ctx context.Context, tasks []task.Task) error {
	if err := s.InitSchema(ctx); err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return s.unavailable(err)
	}
	defer tx.Rollback()

	for _, t := range tasks {
		if t.ID == "" {
			return fmt.Errorf("cannot save task with empty id (title %q)", t.Title)
		}
		var due, synced sql.NullString
		if d := t.DueUTC(); d != nil {
			due = sql.NullString{String: d.Format(time.RFC3339Nano), Valid: true}
		}
		if !t.LastSynced.IsZero() {
			synced = sql.NullString{String: t.LastSynced.UTC().Format(time.RFC3339Nano), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
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
		`,
			t.ID, t.Title, t.Description, t.Notes, string(t.Status),
			t.Created.UTC().Format(time.RFC3339Nano),
			t.Modified.UTC().Format(time.RFC3339Nano),
			due, t.CloudID, synced, t.SyncVersion,
		)
		if err != nil {
			return s.unavailable(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.unavailable(err)
	}
	return nil
}

// DeleteOne removes a task by ID. Reports whether a row was deleted.
func (s *Store) DeleteOne(ctx context.Context, id string) (bool, error) {
	res, err := s.conn.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		if isMissingTable(err) {
			return false, nil
		}
		return false, s.unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, s.unavailable(err)
	}
	return n > 0, nil
}

func (s *Store) unavailable(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &store.UnavailableError{Store: s.name, Err: err}
}

// isMissingTable detects the "no such table" error a fresh replica returns
// before its first write.
func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
