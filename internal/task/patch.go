package task

import "time"

// Patch lists exactly the fields eligible for update during write-back.
// Nil pointers mean "leave unchanged". Fields outside this allow-list
// (ID, Source, sync metadata) cannot be patched: a store keeps whatever
// identifier was assigned at creation, and sync metadata is maintained by
// the orchestrator alone.
type Patch struct {
	Title       *string
	Description *string
	Notes       *string
	Status      *Status
	Due         *time.Time
	ClearDue    bool
	Modified    *time.Time
}

// FromTask builds a patch carrying every updatable content field of src.
// Applying it replicates src's content onto another record without touching
// that record's identity or sync metadata.
func FromTask(src Task) Patch {
	p := Patch{
		Title:       &src.Title,
		Description: &src.Description,
		Notes:       &src.Notes,
		Status:      &src.Status,
		Modified:    &src.Modified,
	}
	if src.Due != nil {
		due := *src.Due
		p.Due = &due
	} else {
		p.ClearDue = true
	}
	return p
}

// Apply returns a copy of t with the patch applied.
func (p Patch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Due != nil {
		due := *p.Due
		t.Due = &due
	} else if p.ClearDue {
		t.Due = nil
	}
	if p.Modified != nil {
		t.Modified = *p.Modified
	}
	return t
}
