// Package plan computes the minimal operation set needed to converge two
// task collections, and detects intra-source duplicates.
//
// The planner is a pure function over in-memory snapshots: it never touches
// a store. Records are matched by content signature and by cloud-identifier
// link (see resolve.GroupLinked): local identifiers are assigned
// independently per store, and an edit changes a record's signature, so
// neither alone is enough.
package plan

import (
	"time"

	"github.com/taskmirror/taskmirror/internal/identity"
	"github.com/taskmirror/taskmirror/internal/resolve"
	"github.com/taskmirror/taskmirror/internal/task"
)

// Mode selects how much of the collections a pass re-evaluates.
type Mode string

const (
	// Full re-evaluates all records and may infer deletions: a record that
	// carries evidence of a previous sync but has no counterpart is treated
	// as remotely deleted.
	Full Mode = "full"

	// Incremental only evaluates what was fetched and never infers
	// deletion: outside the current sync window a counterpart may simply
	// not have been re-fetched.
	Incremental Mode = "incremental"
)

// Side is one store's snapshot plus the ledger fingerprints recorded for it
// at the end of the previous pass (nil when no ledger is available).
type Side struct {
	Source task.Source
	Tasks  []task.Task
	Ledger map[identity.Sig]identity.FP
}

// Options configures a planning run.
type Options struct {
	Mode Mode

	// Tolerance is the timestamp window treated as sync-induced drift
	// rather than a real change. Defaults to one second.
	Tolerance time.Duration
}

// Result is the operation set converging sides A and B. Update entries
// carry the winning content retargeted onto the destination record, so they
// can be written back without further bookkeeping.
type Result struct {
	CreateInA []task.Task
	CreateInB []task.Task
	UpdateInA []task.Task
	UpdateInB []task.Task
	DeleteInA []task.Task
	DeleteInB []task.Task

	DuplicatesInA []task.Task
	DuplicatesInB []task.Task
}

// Empty reports whether the plan contains no operations at all.
func (r *Result) Empty() bool {
	return len(r.CreateInA) == 0 && len(r.CreateInB) == 0 &&
		len(r.UpdateInA) == 0 && len(r.UpdateInB) == 0 &&
		len(r.DeleteInA) == 0 && len(r.DeleteInB) == 0 &&
		len(r.DuplicatesInA) == 0 && len(r.DuplicatesInB) == 0
}

// Ops returns the total number of planned operations.
func (r *Result) Ops() int {
	return len(r.CreateInA) + len(r.CreateInB) +
		len(r.UpdateInA) + len(r.UpdateInB) +
		len(r.DeleteInA) + len(r.DeleteInB) +
		len(r.DuplicatesInA) + len(r.DuplicatesInB)
}

// Plan computes the operation set converging a and b.
//
// Records are first matched into identity groups by signature and by
// cloud-identifier link. For every group present on exactly one side:
// previously synchronized records (non-empty, well-formed foreign-store
// identifier, or a ledger entry for the signature) are treated as remotely
// deleted in a Full pass and skipped in an Incremental pass; fresh records
// are scheduled for creation on the other side.
//
// For every group present on both sides: fingerprints are compared first
// (cheap path); on mismatch, modification timestamps decide with the
// tolerance window, pushing toward the older side. Records with no
// modification timestamp on either side are treated as equal to avoid
// oscillating pushes.
func Plan(a, b Side, opts Options) Result {
	if opts.Tolerance <= 0 {
		opts.Tolerance = resolve.DefaultTolerance
	}
	if opts.Mode == "" {
		opts.Mode = Full
	}

	var result Result

	for _, group := range resolve.GroupLinked(a.Tasks, b.Tasks) {
		ta, aHas := Newest(group, a.Source)
		tb, bHas := Newest(group, b.Source)

		switch {
		case aHas && !bHas:
			if PreviouslySynced(ta, a.Ledger, identity.TaskSignature(ta)) {
				if opts.Mode == Full {
					result.DeleteInA = append(result.DeleteInA, ta)
				}
				// Incremental: not re-fetched is not deleted.
				continue
			}
			result.CreateInB = append(result.CreateInB, Retarget(ta, task.Task{Source: b.Source}))

		case bHas && !aHas:
			if PreviouslySynced(tb, b.Ledger, identity.TaskSignature(tb)) {
				if opts.Mode == Full {
					result.DeleteInB = append(result.DeleteInB, tb)
				}
				continue
			}
			result.CreateInA = append(result.CreateInA, Retarget(tb, task.Task{Source: a.Source}))

		default:
			fpA := identity.Fingerprint(ta)
			fpB := identity.Fingerprint(tb)
			if fpA == fpB {
				continue
			}

			if opts.Mode == Incremental &&
				unchangedSinceLedger(a, identity.TaskSignature(ta), fpA) &&
				unchangedSinceLedger(b, identity.TaskSignature(tb), fpB) {
				continue
			}

			switch newer(ta, tb, opts.Tolerance) {
			case 0:
				// Within tolerance or both timestamps missing: drift, not change.
			case 1:
				result.UpdateInB = append(result.UpdateInB, Retarget(ta, tb))
			case -1:
				result.UpdateInA = append(result.UpdateInA, Retarget(tb, ta))
			}
		}
	}

	// Duplicate detection runs independently within each side after
	// matching. Excess members beyond the most-recently-modified survivor
	// are scheduled for removal.
	result.DuplicatesInA = ExcessDuplicates(a.Tasks)
	result.DuplicatesInB = ExcessDuplicates(b.Tasks)

	return result
}

// Newest picks one side's representative from an identity group: its most
// recently modified member from that source. Excess same-source members are
// handled by duplicate elimination.
func Newest(group []task.Task, source task.Source) (task.Task, bool) {
	var best task.Task
	found := false
	for _, t := range group {
		if t.Source != source {
			continue
		}
		if !found || t.Modified.After(best.Modified) {
			best = t
			found = true
		}
	}
	return best, found
}

// ExcessDuplicates returns every group member that resolve.MergeDuplicates
// would drop.
func ExcessDuplicates(records []task.Task) []task.Task {
	survivors := resolve.MergeDuplicates(records)
	keep := make(map[string]bool, len(survivors))
	for _, t := range survivors {
		keep[t.ID] = true
	}
	var excess []task.Task
	for _, t := range records {
		if !keep[t.ID] {
			excess = append(excess, t)
		}
	}
	return excess
}

// PreviouslySynced reports whether a one-sided record carries evidence of a
// prior synchronization: a well-formed foreign-store identifier, or a ledger
// fingerprint recorded for its signature. This resolves the deleted-vs-new
// ambiguity conservatively: Full passes assume deletion, Incremental passes
// assume "not yet seen".
func PreviouslySynced(t task.Task, ledger map[identity.Sig]identity.FP, sig identity.Sig) bool {
	if t.Source != task.SourceCloud && ForeignShaped(t.CloudID) {
		return true
	}
	if ledger != nil {
		if _, ok := ledger[sig]; ok {
			return true
		}
	}
	return false
}

// ForeignShaped reports whether id is syntactically a valid opaque
// identifier from another store. Heuristic: a sufficiently long token of
// URL-safe characters. Locally minted UUIDs pass this test too, which is
// fine: a UUID in the CloudID field still means "has been uploaded".
func ForeignShaped(id string) bool {
	if len(id) < 16 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

// unchangedSinceLedger reports whether the side's current fingerprint for
// sig matches the value recorded at the end of the previous pass.
func unchangedSinceLedger(side Side, sig identity.Sig, fp identity.FP) bool {
	if side.Ledger == nil {
		return false
	}
	prev, ok := side.Ledger[sig]
	return ok && prev == fp
}

// newer compares modification timestamps under the tolerance window.
// Returns 1 if a is the fresher side, -1 if b is, 0 for a tie (including
// both-missing, which must not oscillate).
func newer(a, b task.Task, tolerance time.Duration) int {
	if a.Modified.IsZero() && b.Modified.IsZero() {
		return 0
	}
	if a.Modified.IsZero() {
		return -1
	}
	if b.Modified.IsZero() {
		return 1
	}
	d := a.Modified.Sub(b.Modified)
	if d < 0 {
		d = -d
	}
	if d <= tolerance {
		return 0
	}
	if a.Modified.After(b.Modified) {
		return 1
	}
	return -1
}

// Retarget copies src's updatable content onto dst, keeping dst's identity
// and sync metadata. Creation time is deliberately not copied: the target's
// own creation time is part of its signature's stable date and must not
// drift. For creations (zero-value dst) the source's creation time carries
// over so the new record lands in the same signature group.
func Retarget(src, dst task.Task) task.Task {
	out := task.FromTask(src).Apply(dst)
	if dst.ID == "" {
		// Creation: seed identity-bearing fields from the source.
		out.Created = src.Created
		if out.CloudID == "" && src.Source == task.SourceCloud {
			out.CloudID = src.ID
		}
	}
	return out
}
