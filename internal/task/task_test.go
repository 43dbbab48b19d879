package task

import (
	"errors"
	"testing"
	"time"
)

// TestValidate tests the malformed-record checks.
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		task    Task
		wantErr bool
	}{
		{"valid", Task{ID: "a", Title: "t", Status: StatusPending}, false},
		{"empty status ok", Task{ID: "a", Title: "t"}, false},
		{"missing title", Task{ID: "a"}, true},
		{"unknown status", Task{ID: "a", Title: "t", Status: "done-ish"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var me *MalformedError
				if !errors.As(err, &me) {
					t.Errorf("Validate() error type = %T, want *MalformedError", err)
				}
			}
		})
	}
}

// TestSetDefaults tests that defaults fill only missing fields.
func TestSetDefaults(t *testing.T) {
	var tk Task
	tk.SetDefaults()
	if tk.Status != StatusPending {
		t.Errorf("Status = %q, want %q", tk.Status, StatusPending)
	}
	if tk.Created.IsZero() || tk.Modified.IsZero() {
		t.Error("SetDefaults should fill zero timestamps")
	}
	if !tk.Modified.Equal(tk.Created) {
		t.Error("Modified should default to Created")
	}

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tk2 := Task{Status: StatusCompleted, Created: created, Modified: created.Add(time.Hour)}
	tk2.SetDefaults()
	if tk2.Status != StatusCompleted || !tk2.Created.Equal(created) {
		t.Error("SetDefaults must not overwrite set fields")
	}
}

// TestStableDate tests creation-over-due preference.
func TestStableDate(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	due := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	both := Task{Created: created, Due: &due}
	if !both.StableDate().Equal(created) {
		t.Error("StableDate should prefer creation time")
	}

	dueOnly := Task{Due: &due}
	if !dueOnly.StableDate().Equal(due) {
		t.Error("StableDate should fall back to due time")
	}

	neither := Task{}
	if !neither.StableDate().IsZero() {
		t.Error("StableDate should be zero with neither timestamp")
	}
}

// TestBody tests description+notes concatenation.
func TestBody(t *testing.T) {
	tests := []struct {
		desc, notes, want string
	}{
		{"", "", ""},
		{"d", "", "d"},
		{"", "n", "n"},
		{"d", "n", "d\nn"},
	}
	for _, tt := range tests {
		tk := Task{Description: tt.desc, Notes: tt.notes}
		if got := tk.Body(); got != tt.want {
			t.Errorf("Body(%q, %q) = %q, want %q", tt.desc, tt.notes, got, tt.want)
		}
	}
}

// TestPatch_AllowList tests that applying a full patch replicates content
// while leaving identity and sync metadata untouched.
func TestPatch_AllowList(t *testing.T) {
	due := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	src := Task{
		ID:          "src-id",
		Title:       "new title",
		Description: "new desc",
		Notes:       "new notes",
		Status:      StatusInProgress,
		Due:         &due,
		Created:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Modified:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Source:      SourceCloud,
		CloudID:     "cloud-assigned",
		SyncVersion: 9,
	}
	dst := Task{
		ID:          "dst-id",
		Title:       "old title",
		Status:      StatusPending,
		Created:     time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		Modified:    time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Source:      SourceLocal,
		CloudID:     "existing-link",
		SyncVersion: 3,
	}

	got := FromTask(src).Apply(dst)

	if got.Title != src.Title || got.Description != src.Description ||
		got.Notes != src.Notes || got.Status != src.Status {
		t.Error("patch should replicate all content fields")
	}
	if got.Due == nil || !got.Due.Equal(due) {
		t.Error("patch should replicate the due date")
	}
	if !got.Modified.Equal(src.Modified) {
		t.Error("patch should carry the source's modification time")
	}

	if got.ID != dst.ID {
		t.Errorf("ID = %q, want destination's %q", got.ID, dst.ID)
	}
	if got.Source != dst.Source {
		t.Error("Source must not be patched")
	}
	if got.CloudID != dst.CloudID || got.SyncVersion != dst.SyncVersion {
		t.Error("sync metadata must not be patched")
	}
	if !got.Created.Equal(dst.Created) {
		t.Error("creation time must not be patched")
	}
}

// TestPatch_ClearDue tests that a source without a due date clears the
// destination's.
func TestPatch_ClearDue(t *testing.T) {
	due := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	src := Task{Title: "t", Status: StatusPending}
	dst := Task{ID: "d", Title: "t", Status: StatusPending, Due: &due}

	got := FromTask(src).Apply(dst)
	if got.Due != nil {
		t.Error("patch from a due-less source should clear the due date")
	}
}

// TestSourcePriority tests the fixed conflict ranking.
func TestSourcePriority(t *testing.T) {
	if !(SourceCloud.Priority() > SourceLocal.Priority() && SourceLocal.Priority() > SourceReplica.Priority()) {
		t.Errorf("priority order wrong: cloud=%d local=%d replica=%d",
			SourceCloud.Priority(), SourceLocal.Priority(), SourceReplica.Priority())
	}
}
