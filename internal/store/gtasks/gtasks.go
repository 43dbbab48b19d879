// Package gtasks implements the cloud authoritative source on the Google
// Tasks API.
//
// The cloud service assigns its own opaque identifiers on create, so a
// local record and its cloud counterpart never share an ID; the engine
// links them by content signature and remembers the assigned ID in the
// record's CloudID field.
//
// Retry and backoff are the API client library's concern, not this
// package's: it exposes only the load/create/update/delete contract.
package gtasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	tasksapi "google.golang.org/api/tasks/v1"

	"github.com/taskmirror/taskmirror/internal/store"
	"github.com/taskmirror/taskmirror/internal/task"
)

const storeName = "gtasks"

// Store talks to one Google Tasks task list.
type Store struct {
	svc      *tasksapi.Service
	tasklist string
}

// New creates a cloud store bound to the task list with the given title,
// creating the list when it doesn't exist. opts must carry authentication
// (option.WithHTTPClient or option.WithTokenSource).
func New(ctx context.Context, listTitle string, opts ...option.ClientOption) (*Store, error) {
	svc, err := tasksapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Tasks client: %w", err)
	}

	lists, err := svc.Tasklists.List().Do()
	if err != nil {
		return nil, wrapAPIError(err)
	}

	var listID string
	for _, item := range lists.Items {
		if item.Title == listTitle {
			listID = item.Id
			break
		}
	}
	if listID == "" {
		created, err := svc.Tasklists.Insert(&tasksapi.TaskList{Title: listTitle}).Do()
		if err != nil {
			return nil, wrapAPIError(err)
		}
		listID = created.Id
	}

	return &Store{svc: svc, tasklist: listID}, nil
}

// ListAll fetches the full task list, including completed, hidden, and
// deleted entries, following pagination.
func (s *Store) ListAll(ctx context.Context) ([]task.Task, error) {
	var out []task.Task
	pageToken := ""
	for {
		call := s.svc.Tasks.List(s.tasklist).
			ShowCompleted(true).
			ShowHidden(true).
			ShowDeleted(true).
			MaxResults(100).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		page, err := call.Do()
		if err != nil {
			return nil, wrapAPIError(err)
		}
		for _, item := range page.Items {
			out = append(out, fromAPI(item))
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		pageToken = page.NextPageToken
	}
}

// Create uploads a new task and returns it with the cloud-assigned ID.
func (s *Store) Create(ctx context.Context, t task.Task) (task.Task, error) {
	created, err := s.svc.Tasks.Insert(s.tasklist, toAPI(t)).Context(ctx).Do()
	if err != nil {
		return task.Task{}, wrapAPIError(err)
	}
	return fromAPI(created), nil
}

// Update overwrites the cloud task identified by t.ID.
func (s *Store) Update(ctx context.Context, t task.Task) (task.Task, error) {
	if t.ID == "" {
		return task.Task{}, fmt.Errorf("cannot update cloud task without id (title %q)", t.Title)
	}
	api := toAPI(t)
	api.Id = t.ID
	updated, err := s.svc.Tasks.Update(s.tasklist, t.ID, api).Context(ctx).Do()
	if err != nil {
		return task.Task{}, wrapAPIError(err)
	}
	return fromAPI(updated), nil
}

// Delete removes the cloud task with the given ID. Reports false without
// error when the task was already gone (idempotent).
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	err := s.svc.Tasks.Delete(s.tasklist, id).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 404 {
			return false, nil
		}
		return false, wrapAPIError(err)
	}
	return true, nil
}

// wrapAPIError classifies API failures into the error kinds the
// orchestrator branches on: rejected credentials abort a pass, everything
// else degrades the store.
func wrapAPIError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == 401 || apiErr.Code == 403) {
		return &store.AuthError{Store: storeName, Err: err}
	}
	return &store.UnavailableError{Store: storeName, Err: err}
}

// toAPI converts a task record into the wire representation. The status
// enumeration collapses onto the API's two values; the record's own status
// plus fields the API does not model ride along in a notes trailer so they
// round-trip (see meta.go).
func toAPI(t task.Task) *tasksapi.Task {
	api := &tasksapi.Task{
		Title:  t.Title,
		Notes:  encodeNotes(t),
		Status: "needsAction",
	}
	if t.Status == task.StatusCompleted {
		api.Status = "completed"
	}
	if t.Status == task.StatusDeleted {
		api.Deleted = true
	}
	if due := t.DueUTC(); due != nil {
		api.Due = due.Format(time.RFC3339)
	}
	return api
}

// fromAPI converts a wire task into a record tagged with the cloud source.
func fromAPI(api *tasksapi.Task) task.Task {
	t := task.Task{
		ID:     api.Id,
		Title:  api.Title,
		Status: task.StatusPending,
		Source: task.SourceCloud,
	}

	desc, meta := decodeNotes(api.Notes)
	t.Description = desc
	t.Notes = meta.Notes
	if meta.Created != nil {
		t.Created = *meta.Created
	}
	if meta.Status.Valid() {
		t.Status = meta.Status
	}

	switch {
	case api.Deleted:
		t.Status = task.StatusDeleted
	case api.Status == "completed":
		t.Status = task.StatusCompleted
	}

	if api.Due != "" {
		if due, err := time.Parse(time.RFC3339, api.Due); err == nil {
			due = due.UTC()
			t.Due = &due
		}
	}
	if api.Updated != "" {
		if updated, err := time.Parse(time.RFC3339, api.Updated); err == nil {
			t.Modified = updated.UTC()
		}
	}
	return t
}
