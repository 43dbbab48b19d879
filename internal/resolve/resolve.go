// Package resolve groups the versions of a task held by different stores,
// picks a winner per group, and eliminates intra-store duplicates.
//
// All operations here are pure functions over in-memory collections. The
// orchestrator is responsible for any side effects on store state.
package resolve

import (
	"errors"
	"log"
	"os"
	"sort"
	"time"

	"github.com/taskmirror/taskmirror/internal/identity"
	"github.com/taskmirror/taskmirror/internal/task"
)

// ErrEmptyInput is returned by Resolve when given zero versions. This is a
// programming-contract violation, not a runtime condition: callers only
// build version lists from records that exist.
var ErrEmptyInput = errors.New("resolve: no versions to resolve")

// DefaultTolerance is the window inside which two modification timestamps
// are considered equal. Sub-second differences are sync-induced drift, not
// real changes.
const DefaultTolerance = time.Second

// Strategy selects how a multi-version group is collapsed to one winner.
type Strategy string

const (
	// NewestWins picks the most recently modified version; source priority
	// breaks ties inside the tolerance band. Default.
	NewestWins Strategy = "newest-wins"

	// SourceWins picks the version from a preferred source when present,
	// falling back to NewestWins otherwise.
	SourceWins Strategy = "source-wins"
)

// TaskVersion is one store's candidate for a signature group. Constructed
// fresh on each reconciliation pass; never persisted.
type TaskVersion struct {
	LocalID  string
	Source   task.Source
	Modified time.Time
	Task     task.Task
}

// Priority returns the fixed source ranking used for tie-breaks.
func (v TaskVersion) Priority() int { return v.Source.Priority() }

// Resolver applies a conflict resolution strategy to version groups.
type Resolver struct {
	strategy  Strategy
	preferred task.Source
	tolerance time.Duration
	logger    *log.Logger
}

// New creates a resolver. preferred is only consulted by SourceWins.
// If logger is nil, a default logger writing to stderr is used.
func New(strategy Strategy, preferred task.Source, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(os.Stderr, "[resolve] ", log.LstdFlags)
	}
	if strategy == "" {
		strategy = NewestWins
	}
	return &Resolver{
		strategy:  strategy,
		preferred: preferred,
		tolerance: DefaultTolerance,
		logger:    logger,
	}
}

// SetTolerance overrides the tie tolerance window. Zero restores the default.
func (r *Resolver) SetTolerance(d time.Duration) {
	if d <= 0 {
		d = DefaultTolerance
	}
	r.tolerance = d
}

// Resolve picks the surviving version of a signature group.
//
// A single version is returned unchanged (no conflict). With multiple
// versions the active strategy applies. Recency wins outside the tolerance
// band; source priority wins only on exact or within-tolerance ties.
// The result is independent of input order.
func (r *Resolver) Resolve(versions []TaskVersion) (TaskVersion, error) {
	if len(versions) == 0 {
		return TaskVersion{}, ErrEmptyInput
	}
	if len(versions) == 1 {
		return versions[0], nil
	}

	if r.strategy == SourceWins {
		var fromPreferred []TaskVersion
		for _, v := range versions {
			if v.Source == r.preferred {
				fromPreferred = append(fromPreferred, v)
			}
		}
		if len(fromPreferred) == 1 {
			return fromPreferred[0], nil
		}
		if len(fromPreferred) > 1 {
			return r.newestWins(fromPreferred), nil
		}
		// Preferred source absent: fall back.
	}

	return r.newestWins(versions), nil
}

// newestWins implements the recency-then-priority ordering. Candidates whose
// modification timestamps fall within the tolerance window of the newest
// form a tie band; inside the band the highest source priority wins, then
// the later timestamp, then the lexically smallest local ID for a total
// deterministic order.
func (r *Resolver) newestWins(versions []TaskVersion) TaskVersion {
	newest := versions[0].Modified
	for _, v := range versions[1:] {
		if v.Modified.After(newest) {
			newest = v.Modified
		}
	}

	var band []TaskVersion
	for _, v := range versions {
		if !v.Modified.IsZero() || newest.IsZero() {
			if absDiff(newest, v.Modified) <= r.tolerance {
				band = append(band, v)
			}
		}
	}
	if len(band) == 0 {
		// Every timestamp is missing; fall back to the whole set so that
		// priority alone decides.
		band = versions
	}

	winner := band[0]
	for _, v := range band[1:] {
		if less(winner, v) {
			winner = v
		}
	}
	return winner
}

// less reports whether b should beat a inside a tie band.
func less(a, b TaskVersion) bool {
	if a.Priority() != b.Priority() {
		return b.Priority() > a.Priority()
	}
	if !a.Modified.Equal(b.Modified) {
		return b.Modified.After(a.Modified)
	}
	return b.LocalID < a.LocalID
}

func absDiff(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}

// MergeAll groups every record from the three collections into identity
// groups (see GroupLinked), resolves each group, and returns one winner per
// group together with the number of groups that held more than one
// candidate ("conflicts resolved").
//
// The same signature appearing under two different local IDs within one
// source is preserved as separate candidates, so intra-source duplicates
// still participate in resolution.
func (r *Resolver) MergeAll(local, remote, cloud []task.Task) ([]task.Task, int) {
	groups := GroupLinked(local, remote, cloud)

	winners := make([]task.Task, 0, len(groups))
	conflicts := 0
	for _, group := range groups {
		candidates := Candidates(group)
		if len(candidates) > 1 {
			conflicts++
		}
		winner, err := r.Resolve(candidates)
		if err != nil {
			// Unreachable: groups are built from existing records.
			continue
		}
		winners = append(winners, winner.Task)
	}
	return winners, conflicts
}

// linkID returns the cloud identifier a record is known by: a cloud
// record's own ID, any other record's remembered CloudID. Empty when the
// record has never been linked to the cloud.
func linkID(t task.Task) string {
	if t.Source == task.SourceCloud {
		return t.ID
	}
	return t.CloudID
}

// GroupLinked partitions records from any number of collections into
// identity groups. Records group together when they share a content
// signature or a cloud-identifier link. The link matters because an edit
// to a signature-bearing field (title, description, notes, status) changes
// the edited copy's signature; the identifier still ties it to its stale
// counterparts on the other stores, so the edit reconciles as an update
// instead of the two copies looking like two unrelated one-sided records.
// Groups keep first-seen order.
func GroupLinked(collections ...[]task.Task) [][]task.Task {
	var parent []int
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	// The earlier-seen root survives a merge, keeping group order stable.
	union := func(a, b int) int {
		ra, rb := find(a), find(b)
		if ra == rb {
			return ra
		}
		if rb < ra {
			ra, rb = rb, ra
		}
		parent[rb] = ra
		return ra
	}

	bySig := make(map[identity.Sig]int)
	byLink := make(map[string]int)
	type member struct {
		group int
		t     task.Task
	}
	var members []member

	for _, records := range collections {
		for _, t := range records {
			sig := identity.TaskSignature(t)
			link := linkID(t)

			g := -1
			if i, ok := bySig[sig]; ok {
				g = find(i)
			}
			if link != "" {
				if i, ok := byLink[link]; ok {
					if g >= 0 {
						g = union(g, i)
					} else {
						g = find(i)
					}
				}
			}
			if g < 0 {
				g = len(parent)
				parent = append(parent, g)
			}
			bySig[sig] = g
			if link != "" {
				byLink[link] = g
			}
			members = append(members, member{group: g, t: t})
		}
	}

	index := make(map[int]int)
	var groups [][]task.Task
	for _, m := range members {
		root := find(m.group)
		i, ok := index[root]
		if !ok {
			i = len(groups)
			index[root] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], m.t)
	}
	return groups
}

// Candidates builds the version list for one identity group, one candidate
// per distinct (source, identifier) pair.
func Candidates(group []task.Task) []TaskVersion {
	type candidateKey struct {
		source task.Source
		id     string
	}
	seen := make(map[candidateKey]bool, len(group))
	out := make([]TaskVersion, 0, len(group))
	for _, t := range group {
		key := candidateKey{source: t.Source, id: t.ID}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, TaskVersion{
			LocalID:  t.ID,
			Source:   t.Source,
			Modified: t.Modified,
			Task:     t,
		})
	}
	return out
}

// DetectDuplicates returns every record beyond the first of each signature
// group with more than one member. "First" is input order, not timestamp;
// callers wanting deterministic survivor selection should pre-sort.
func DetectDuplicates(records []task.Task) []task.Task {
	seen := make(map[identity.Sig]bool)
	var dups []task.Task
	for _, t := range records {
		sig := identity.TaskSignature(t)
		if seen[sig] {
			dups = append(dups, t)
			continue
		}
		seen[sig] = true
	}
	return dups
}

// MergeDuplicates returns the deduplicated survivor set: exactly one record
// per distinct signature, the most recently modified member of its group.
// Exact timestamp ties fall back to source priority, then input order.
// Survivors keep their original relative order.
func MergeDuplicates(records []task.Task) []task.Task {
	type slot struct {
		index int
		t     task.Task
	}
	best := make(map[identity.Sig]slot)
	var order []identity.Sig

	for i, t := range records {
		sig := identity.TaskSignature(t)
		cur, ok := best[sig]
		if !ok {
			best[sig] = slot{index: i, t: t}
			order = append(order, sig)
			continue
		}
		if t.Modified.After(cur.t.Modified) ||
			(t.Modified.Equal(cur.t.Modified) && t.Source.Priority() > cur.t.Source.Priority()) {
			best[sig] = slot{index: cur.index, t: t}
		}
	}

	survivors := make([]slot, 0, len(order))
	for _, sig := range order {
		survivors = append(survivors, best[sig])
	}
	sort.Slice(survivors, func(i, j int) bool { return survivors[i].index < survivors[j].index })

	out := make([]task.Task, len(survivors))
	for i, s := range survivors {
		out[i] = s.t
	}
	return out
}
