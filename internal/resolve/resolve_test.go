package resolve

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/taskmirror/taskmirror/internal/task"
)

var baseTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func version(id string, source task.Source, modified time.Time) TaskVersion {
	return TaskVersion{
		LocalID:  id,
		Source:   source,
		Modified: modified,
		Task: task.Task{
			ID:       id,
			Title:    "shared title",
			Status:   task.StatusPending,
			Created:  baseTime,
			Modified: modified,
			Source:   source,
		},
	}
}

// TestResolve_EmptyInput tests the contract violation path.
func TestResolve_EmptyInput(t *testing.T) {
	r := New(NewestWins, "", nil)
	_, err := r.Resolve(nil)
	if !errors.Is(err, ErrEmptyInput) {
		t.Errorf("Resolve(nil) error = %v, want ErrEmptyInput", err)
	}
}

// TestResolve_SingleVersion tests that one version passes through
// unchanged.
func TestResolve_SingleVersion(t *testing.T) {
	r := New(NewestWins, "", nil)
	v := version("a", task.SourceLocal, baseTime)
	got, err := r.Resolve([]TaskVersion{v})
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if got.LocalID != "a" {
		t.Errorf("winner = %s, want a", got.LocalID)
	}
}

// TestResolve_NewestWinsOutsideTolerance tests that recency beats source
// priority when the gap exceeds the tolerance.
func TestResolve_NewestWinsOutsideTolerance(t *testing.T) {
	r := New(NewestWins, "", nil)
	versions := []TaskVersion{
		version("cloud-1", task.SourceCloud, baseTime),
		version("replica-1", task.SourceReplica, baseTime.Add(10*time.Second)),
	}
	got, err := r.Resolve(versions)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if got.LocalID != "replica-1" {
		t.Errorf("winner = %s, want replica-1 (newer outside tolerance)", got.LocalID)
	}
}

// TestResolve_PriorityWinsInsideTolerance tests the tie band: sub-second
// drift is not a real difference, so source priority decides.
func TestResolve_PriorityWinsInsideTolerance(t *testing.T) {
	r := New(NewestWins, "", nil)
	versions := []TaskVersion{
		version("replica-1", task.SourceReplica, baseTime.Add(800*time.Millisecond)),
		version("cloud-1", task.SourceCloud, baseTime),
	}
	got, err := r.Resolve(versions)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if got.LocalID != "cloud-1" {
		t.Errorf("winner = %s, want cloud-1 (priority inside tolerance)", got.LocalID)
	}
}

// TestResolve_ExactTieFallsToLocalID tests the final deterministic
// tie-break.
func TestResolve_ExactTieFallsToLocalID(t *testing.T) {
	r := New(NewestWins, "", nil)
	versions := []TaskVersion{
		version("bbb", task.SourceLocal, baseTime),
		version("aaa", task.SourceLocal, baseTime),
	}
	got, err := r.Resolve(versions)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if got.LocalID != "aaa" {
		t.Errorf("winner = %s, want aaa (lexically smallest)", got.LocalID)
	}
}

// TestResolve_OrderIndependent tests that shuffling the input never
// changes the winner.
func TestResolve_OrderIndependent(t *testing.T) {
	r := New(NewestWins, "", nil)
	versions := []TaskVersion{
		version("a", task.SourceLocal, baseTime),
		version("b", task.SourceReplica, baseTime.Add(500*time.Millisecond)),
		version("c", task.SourceCloud, baseTime.Add(900*time.Millisecond)),
		version("d", task.SourceLocal, baseTime.Add(-5*time.Second)),
		version("e", task.SourceReplica, baseTime.Add(300*time.Millisecond)),
	}

	want, err := r.Resolve(versions)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		shuffled := make([]TaskVersion, len(versions))
		copy(shuffled, versions)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got, err := r.Resolve(shuffled)
		if err != nil {
			t.Fatalf("Resolve() failed: %v", err)
		}
		if got.LocalID != want.LocalID {
			t.Fatalf("shuffle %d: winner = %s, want %s", i, got.LocalID, want.LocalID)
		}
	}
}

// TestResolve_ZeroTimestamps tests that missing timestamps fall back to
// priority without overflow.
func TestResolve_ZeroTimestamps(t *testing.T) {
	r := New(NewestWins, "", nil)

	// All zero: priority alone decides.
	got, err := r.Resolve([]TaskVersion{
		version("local-1", task.SourceLocal, time.Time{}),
		version("cloud-1", task.SourceCloud, time.Time{}),
	})
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if got.LocalID != "cloud-1" {
		t.Errorf("winner = %s, want cloud-1", got.LocalID)
	}

	// Mixed: a real timestamp beats a missing one.
	got, err = r.Resolve([]TaskVersion{
		version("cloud-1", task.SourceCloud, time.Time{}),
		version("replica-1", task.SourceReplica, baseTime),
	})
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if got.LocalID != "replica-1" {
		t.Errorf("winner = %s, want replica-1 (only real timestamp)", got.LocalID)
	}
}

// TestResolve_SourceWins tests the preferred-source strategy and its
// fallback.
func TestResolve_SourceWins(t *testing.T) {
	r := New(SourceWins, task.SourceLocal, nil)

	// Preferred source present: it wins despite being older.
	got, err := r.Resolve([]TaskVersion{
		version("local-1", task.SourceLocal, baseTime),
		version("cloud-1", task.SourceCloud, baseTime.Add(time.Hour)),
	})
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if got.LocalID != "local-1" {
		t.Errorf("winner = %s, want local-1 (preferred source)", got.LocalID)
	}

	// Two candidates from the preferred source: newest among them.
	got, err = r.Resolve([]TaskVersion{
		version("local-old", task.SourceLocal, baseTime),
		version("local-new", task.SourceLocal, baseTime.Add(time.Minute)),
		version("cloud-1", task.SourceCloud, baseTime.Add(time.Hour)),
	})
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if got.LocalID != "local-new" {
		t.Errorf("winner = %s, want local-new", got.LocalID)
	}

	// Preferred source absent: falls back to newest-wins.
	got, err = r.Resolve([]TaskVersion{
		version("cloud-1", task.SourceCloud, baseTime),
		version("replica-1", task.SourceReplica, baseTime.Add(time.Hour)),
	})
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if got.LocalID != "replica-1" {
		t.Errorf("winner = %s, want replica-1 (fallback to newest)", got.LocalID)
	}
}

// TestSetTolerance tests widening the tie band.
func TestSetTolerance(t *testing.T) {
	r := New(NewestWins, "", nil)
	r.SetTolerance(30 * time.Second)

	got, err := r.Resolve([]TaskVersion{
		version("replica-1", task.SourceReplica, baseTime.Add(10*time.Second)),
		version("cloud-1", task.SourceCloud, baseTime),
	})
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if got.LocalID != "cloud-1" {
		t.Errorf("winner = %s, want cloud-1 (10s inside widened band)", got.LocalID)
	}
}

// TestMergeAll_ThreeIdenticalCopies tests that the same task mirrored in
// all three stores merges to one winner, collapsing three candidates into
// one resolved conflict.
func TestMergeAll_ThreeIdenticalCopies(t *testing.T) {
	r := New(NewestWins, "", nil)
	mk := func(id string, source task.Source) task.Task {
		return task.Task{ID: id, Title: "shared", Status: task.StatusPending, Created: baseTime, Modified: baseTime, Source: source}
	}

	winners, conflicts := r.MergeAll(
		[]task.Task{mk("l1", task.SourceLocal)},
		[]task.Task{mk("r1", task.SourceReplica)},
		[]task.Task{mk("c1", task.SourceCloud)},
	)
	if len(winners) != 1 {
		t.Fatalf("winners = %d, want 1", len(winners))
	}
	if conflicts != 1 {
		t.Errorf("conflicts = %d, want 1 (three candidates collapsed)", conflicts)
	}
	if winners[0].Source != task.SourceCloud {
		t.Errorf("winner source = %s, want cloud (priority on exact tie)", winners[0].Source)
	}
}

// TestMergeAll_EditedCopyFollowsIdentifierLink tests that an edited copy,
// whose signature no longer matches its stale counterpart, still merges with
// it through the cloud-identifier link.
func TestMergeAll_EditedCopyFollowsIdentifierLink(t *testing.T) {
	r := New(NewestWins, "", nil)
	stale := task.Task{ID: "cloudassignedid00001", Title: "shared", Description: "stale", Status: task.StatusPending, Created: baseTime, Modified: baseTime, Source: task.SourceCloud}
	edited := task.Task{ID: "l1", CloudID: "cloudassignedid00001", Title: "shared", Description: "fresh", Status: task.StatusPending, Created: baseTime, Modified: baseTime.Add(time.Minute), Source: task.SourceLocal}

	winners, conflicts := r.MergeAll([]task.Task{edited}, nil, []task.Task{stale})
	if len(winners) != 1 {
		t.Fatalf("winners = %d, want 1 (link must tie the edited copy to the stale one)", len(winners))
	}
	if conflicts != 1 {
		t.Errorf("conflicts = %d, want 1", conflicts)
	}
	if winners[0].Description != "fresh" {
		t.Errorf("winner description = %q, want the edited content", winners[0].Description)
	}
}

// TestGroupLinked tests identity grouping: signature groups merge when a
// cloud-identifier link ties them, and unrelated records stay apart.
func TestGroupLinked(t *testing.T) {
	edited := task.Task{ID: "l1", CloudID: "cloudassignedid00001", Title: "report", Description: "rewritten", Status: task.StatusInProgress, Created: baseTime, Modified: baseTime.Add(time.Hour), Source: task.SourceLocal}
	stale := task.Task{ID: "cloudassignedid00001", Title: "report", Description: "draft", Status: task.StatusPending, Created: baseTime, Modified: baseTime, Source: task.SourceCloud}
	other := task.Task{ID: "c2", Title: "unrelated", Status: task.StatusPending, Created: baseTime, Modified: baseTime, Source: task.SourceCloud}

	groups := GroupLinked([]task.Task{edited}, nil, []task.Task{stale, other})
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	if len(groups[0]) != 2 {
		t.Errorf("linked group has %d members, want 2", len(groups[0]))
	}
	if len(groups[1]) != 1 || groups[1][0].ID != "c2" {
		t.Errorf("unrelated record should form its own group, got %+v", groups[1])
	}
}

// TestMergeAll_DistinctTasks tests that unrelated tasks never merge.
func TestMergeAll_DistinctTasks(t *testing.T) {
	r := New(NewestWins, "", nil)
	winners, conflicts := r.MergeAll(
		[]task.Task{{ID: "l1", Title: "buy milk", Status: task.StatusPending, Created: baseTime, Modified: baseTime, Source: task.SourceLocal}},
		nil,
		[]task.Task{{ID: "c1", Title: "file taxes", Status: task.StatusPending, Created: baseTime, Modified: baseTime, Source: task.SourceCloud}},
	)
	if len(winners) != 2 {
		t.Fatalf("winners = %d, want 2", len(winners))
	}
	if conflicts != 0 {
		t.Errorf("conflicts = %d, want 0", conflicts)
	}
}

// TestDetectDuplicates tests intra-source duplicate detection.
func TestDetectDuplicates(t *testing.T) {
	records := []task.Task{
		{ID: "a", Title: "dup", Status: task.StatusPending, Created: baseTime, Source: task.SourceLocal},
		{ID: "b", Title: "dup", Status: task.StatusPending, Created: baseTime, Source: task.SourceLocal},
		{ID: "c", Title: "unique", Status: task.StatusPending, Created: baseTime, Source: task.SourceLocal},
	}
	dups := DetectDuplicates(records)
	if len(dups) != 1 {
		t.Fatalf("duplicates = %d, want 1", len(dups))
	}
	if dups[0].ID != "b" {
		t.Errorf("duplicate = %s, want b (first occurrence survives)", dups[0].ID)
	}
}

// TestMergeDuplicates_Conservation tests that merging never loses distinct
// tasks and keeps the most recent member of each group.
func TestMergeDuplicates_Conservation(t *testing.T) {
	records := []task.Task{
		{ID: "a", Title: "dup", Status: task.StatusPending, Created: baseTime, Modified: baseTime, Source: task.SourceLocal},
		{ID: "b", Title: "dup", Status: task.StatusPending, Created: baseTime, Modified: baseTime.Add(time.Hour), Source: task.SourceLocal},
		{ID: "c", Title: "unique", Status: task.StatusPending, Created: baseTime, Modified: baseTime, Source: task.SourceLocal},
	}
	survivors := MergeDuplicates(records)
	if len(survivors) != 2 {
		t.Fatalf("survivors = %d, want 2", len(survivors))
	}
	if survivors[0].ID != "b" {
		t.Errorf("group survivor = %s, want b (most recently modified)", survivors[0].ID)
	}
	if survivors[1].ID != "c" {
		t.Errorf("second survivor = %s, want c", survivors[1].ID)
	}
}

// TestMergeDuplicates_NoDuplicates tests the pass-through case.
func TestMergeDuplicates_NoDuplicates(t *testing.T) {
	records := []task.Task{
		{ID: "a", Title: "one", Status: task.StatusPending, Created: baseTime, Source: task.SourceLocal},
		{ID: "b", Title: "two", Status: task.StatusPending, Created: baseTime, Source: task.SourceLocal},
	}
	survivors := MergeDuplicates(records)
	if len(survivors) != 2 {
		t.Fatalf("survivors = %d, want 2", len(survivors))
	}
}

// TestSyncReport tests the overlap set algebra.
func TestSyncReport(t *testing.T) {
	mk := func(id, title string, source task.Source) task.Task {
		return task.Task{ID: id, Title: title, Status: task.StatusPending, Created: baseTime, Source: source}
	}

	local := []task.Task{mk("l1", "everywhere", task.SourceLocal), mk("l2", "local only", task.SourceLocal), mk("l3", "shared pair", task.SourceLocal)}
	replica := []task.Task{mk("r1", "everywhere", task.SourceReplica), mk("r2", "shared pair", task.SourceReplica)}
	cloud := []task.Task{mk("c1", "everywhere", task.SourceCloud), mk("c2", "cloud only", task.SourceCloud)}

	report := SyncReport(local, replica, cloud)
	if report.Total != 4 {
		t.Errorf("Total = %d, want 4", report.Total)
	}
	if report.InAll != 1 {
		t.Errorf("InAll = %d, want 1", report.InAll)
	}
	if report.InTwo != 1 {
		t.Errorf("InTwo = %d, want 1", report.InTwo)
	}
	if report.LocalOnly != 1 || report.CloudOnly != 1 || report.ReplicaOnly != 0 {
		t.Errorf("onlies = local %d replica %d cloud %d, want 1/0/1",
			report.LocalOnly, report.ReplicaOnly, report.CloudOnly)
	}
}
