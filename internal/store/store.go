// Package store defines the abstract interfaces the reconciliation engine
// consumes from its storage collaborators, plus the error kinds the
// orchestrator branches on. Concrete formats live in the subpackages.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/taskmirror/taskmirror/internal/task"
)

// Local is the on-device store. It must preserve whatever identifier was
// assigned at creation.
type Local interface {
	LoadAll(ctx context.Context) ([]task.Task, error)
	SaveAll(ctx context.Context, tasks []task.Task) error
	DeleteOne(ctx context.Context, id string) (bool, error)
}

// Replica is a remote network-accessible replica database. It may be
// offline; a timeout or connection error degrades it to "unavailable" for
// the pass rather than aborting.
type Replica interface {
	Name() string
	LoadAll(ctx context.Context) ([]task.Task, error)
	SaveAll(ctx context.Context, tasks []task.Task) error
	DeleteOne(ctx context.Context, id string) (bool, error)
}

// Cloud is the external task-management cloud service, authoritative for
// some fields. Its identifier format is opaque to the core.
type Cloud interface {
	ListAll(ctx context.Context) ([]task.Task, error)
	Create(ctx context.Context, t task.Task) (task.Task, error)
	Update(ctx context.Context, t task.Task) (task.Task, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// UnavailableError marks a store fetch/write failure that degrades the
// store for the current pass instead of aborting it.
type UnavailableError struct {
	Store string
	Err   error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store %s unavailable: %v", e.Store, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// AuthError marks rejected credentials. When the cloud source raises it
// before any write, the whole pass aborts with all stores untouched.
type AuthError struct {
	Store string
	Err   error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("store %s rejected credentials: %v", e.Store, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err is (or wraps) an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// IsAuth reports whether err is (or wraps) an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
