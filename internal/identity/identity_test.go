package identity

import (
	"testing"
	"time"

	"github.com/taskmirror/taskmirror/internal/task"
)

func date(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

// TestSignature_Deterministic tests that equal inputs always produce the
// same signature.
func TestSignature_Deterministic(t *testing.T) {
	d := date("2026-03-01T10:00:00Z")
	a := Signature("Write report", "draft the outline", d, task.StatusPending)
	b := Signature("Write report", "draft the outline", d, task.StatusPending)
	if a != b {
		t.Errorf("same inputs produced different signatures: %s vs %s", a, b)
	}
}

// TestSignature_CaseAndWhitespaceInsensitive tests normalization of the
// text fields.
func TestSignature_CaseAndWhitespaceInsensitive(t *testing.T) {
	d := date("2026-03-01T10:00:00Z")
	a := Signature("Write Report", "Draft the outline", d, task.StatusPending)
	b := Signature("  write report  ", "  draft the outline  ", d, task.StatusPending)
	if a != b {
		t.Error("signature should ignore case and surrounding whitespace")
	}
}

// TestSignature_SubDayPrecision tests that stores disagreeing on sub-day
// timestamp precision still agree on identity.
func TestSignature_SubDayPrecision(t *testing.T) {
	a := Signature("t", "", date("2026-03-01T00:00:00Z"), task.StatusPending)
	b := Signature("t", "", date("2026-03-01T23:59:59Z"), task.StatusPending)
	if a != b {
		t.Error("same UTC calendar day should produce the same signature")
	}

	c := Signature("t", "", date("2026-03-02T00:00:00Z"), task.StatusPending)
	if a == c {
		t.Error("different calendar days should produce different signatures")
	}
}

// TestSignature_StatusChangesIdentity tests that status participates in
// the signature.
func TestSignature_StatusChangesIdentity(t *testing.T) {
	d := date("2026-03-01T10:00:00Z")
	a := Signature("t", "", d, task.StatusPending)
	b := Signature("t", "", d, task.StatusCompleted)
	if a == b {
		t.Error("status should participate in the signature")
	}
}

// TestSignature_FieldBoundaries tests that adjacent fields cannot bleed
// into each other.
func TestSignature_FieldBoundaries(t *testing.T) {
	d := date("2026-03-01T10:00:00Z")
	a := Signature("ab", "c", d, task.StatusPending)
	b := Signature("a", "bc", d, task.StatusPending)
	if a == b {
		t.Error("field boundary must separate title from body")
	}
}

// TestTaskSignature_PrefersCreatedOverDue tests stable date selection.
func TestTaskSignature_PrefersCreatedOverDue(t *testing.T) {
	due := date("2026-06-01T00:00:00Z")
	created := date("2026-03-01T10:00:00Z")

	withBoth := task.Task{Title: "t", Created: created, Due: &due, Status: task.StatusPending}
	withCreatedOnly := task.Task{Title: "t", Created: created, Status: task.StatusPending}
	if TaskSignature(withBoth) != TaskSignature(withCreatedOnly) {
		t.Error("due date should not affect identity when creation time is present")
	}

	withDueOnly := task.Task{Title: "t", Due: &due, Status: task.StatusPending}
	if TaskSignature(withBoth) == TaskSignature(withDueOnly) {
		t.Error("falling back to due date should change the stable date")
	}
}

// TestFingerprint_ExcludesMetadata tests that sync metadata and timestamps
// never register as content changes.
func TestFingerprint_ExcludesMetadata(t *testing.T) {
	base := task.Task{
		ID:       "a",
		Title:    "t",
		Status:   task.StatusPending,
		Created:  date("2026-03-01T10:00:00Z"),
		Modified: date("2026-03-01T10:00:00Z"),
	}

	changed := base
	changed.ID = "totally-different"
	changed.Source = task.SourceCloud
	changed.CloudID = "abcdefghij1234567890"
	changed.LastSynced = date("2026-03-02T10:00:00Z")
	changed.SyncVersion = 7
	changed.Modified = date("2026-03-05T10:00:00Z")
	changed.Created = date("2026-01-01T10:00:00Z")

	if Fingerprint(base) != Fingerprint(changed) {
		t.Error("metadata and timestamps must not affect the fingerprint")
	}
}

// TestFingerprint_DetectsContentChanges tests that each content field
// moves the fingerprint.
func TestFingerprint_DetectsContentChanges(t *testing.T) {
	due := date("2026-06-01T00:00:00Z")
	base := task.Task{Title: "t", Status: task.StatusPending}

	mutations := map[string]task.Task{
		"title":       {Title: "other", Status: task.StatusPending},
		"description": {Title: "t", Description: "d", Status: task.StatusPending},
		"notes":       {Title: "t", Notes: "n", Status: task.StatusPending},
		"status":      {Title: "t", Status: task.StatusCompleted},
		"due":         {Title: "t", Status: task.StatusPending, Due: &due},
	}
	for field, mutated := range mutations {
		if Fingerprint(base) == Fingerprint(mutated) {
			t.Errorf("changing %s should change the fingerprint", field)
		}
	}
}

// TestFingerprint_DueTimezoneNormalized tests that equal instants in
// different zones fingerprint identically.
func TestFingerprint_DueTimezoneNormalized(t *testing.T) {
	utc := date("2026-06-01T12:00:00Z")
	est := utc.In(time.FixedZone("EST", -5*3600))

	a := task.Task{Title: "t", Status: task.StatusPending, Due: &utc}
	b := task.Task{Title: "t", Status: task.StatusPending, Due: &est}
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("due dates representing the same instant must fingerprint equally")
	}
}

// TestParseSig_RoundTrip tests hex round-tripping.
func TestParseSig_RoundTrip(t *testing.T) {
	sig := Signature("t", "b", date("2026-03-01T10:00:00Z"), task.StatusPending)
	parsed, ok := ParseSig(sig.String())
	if !ok {
		t.Fatalf("ParseSig(%q) failed", sig.String())
	}
	if parsed != sig {
		t.Error("parsed signature differs from original")
	}

	if _, ok := ParseSig("not-hex"); ok {
		t.Error("ParseSig should reject invalid hex")
	}
	if _, ok := ParseSig("abcd"); ok {
		t.Error("ParseSig should reject short input")
	}
}
