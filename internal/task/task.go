// Package task provides the reconciled task record shared by every store.
//
// A task's ID is store-local and NOT stable across stores: a local UUID
// becomes a different cloud-assigned ID on first upload. Identity across
// stores is therefore content-derived (see internal/identity), never
// ID-derived.
package task

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusWaiting    Status = "waiting"
	StatusDeleted    Status = "deleted"
)

// Valid reports whether s is one of the known status values.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusWaiting, StatusDeleted:
		return true
	}
	return false
}

// Task is the unit of reconciliation.
//
// Content fields (Title through Modified) participate in the version
// fingerprint. Sync metadata (CloudID, LastSynced, SyncVersion) and the
// originating-store tag do not: they are store management state, not content.
type Task struct {
	// ===== Identity (store-local) =====
	ID string `json:"id"`

	// ===== Content =====
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	Status      Status     `json:"status"`
	Due         *time.Time `json:"due_at,omitempty"`

	// ===== Timestamps =====
	Created time.Time `json:"created_at"`
	// Modified drives freshness comparison. A zero value sorts as the
	// minimum possible timestamp.
	Modified time.Time `json:"modified_at"`

	// ===== Sync metadata (excluded from fingerprint) =====
	Source      Source    `json:"source,omitempty"`
	CloudID     string    `json:"cloud_id,omitempty"`
	LastSynced  time.Time `json:"last_synced,omitempty"`
	SyncVersion int       `json:"sync_version,omitempty"`
}

// MalformedError reports a record missing fields required for signature
// computation. The record is skipped and counted; it never aborts a pass.
type MalformedError struct {
	ID     string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed task %q: %s", e.ID, e.Reason)
}

// Validate checks that the task carries enough content to compute a
// signature. Returns a *MalformedError describing the first problem found.
func (t *Task) Validate() error {
	if t.Title == "" {
		return &MalformedError{ID: t.ID, Reason: "title is required"}
	}
	if t.Status != "" && !t.Status.Valid() {
		return &MalformedError{ID: t.ID, Reason: fmt.Sprintf("unknown status %q", t.Status)}
	}
	return nil
}

// SetDefaults applies defaults for optional fields.
func (t *Task) SetDefaults() {
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Created.IsZero() {
		t.Created = time.Now().UTC()
	}
	if t.Modified.IsZero() {
		t.Modified = t.Created
	}
}

// DueUTC returns the due timestamp normalized to UTC, or nil.
// All stores normalize to a single time zone representation before any
// comparison.
func (t *Task) DueUTC() *time.Time {
	if t.Due == nil {
		return nil
	}
	u := t.Due.UTC()
	return &u
}

// StableDate is the date component used for signature computation.
// Creation time is preferred over due time: due time mutates for recurring
// tasks while creation time does not.
func (t *Task) StableDate() time.Time {
	if !t.Created.IsZero() {
		return t.Created
	}
	if t.Due != nil {
		return *t.Due
	}
	return time.Time{}
}

// Body is the description+notes concatenation used for signature
// computation.
func (t *Task) Body() string {
	if t.Notes == "" {
		return t.Description
	}
	if t.Description == "" {
		return t.Notes
	}
	return t.Description + "\n" + t.Notes
}
