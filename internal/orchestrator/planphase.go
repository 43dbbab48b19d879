package orchestrator

import (
	"github.com/taskmirror/taskmirror/internal/identity"
	"github.com/taskmirror/taskmirror/internal/plan"
	"github.com/taskmirror/taskmirror/internal/resolve"
	"github.com/taskmirror/taskmirror/internal/task"
)

// storeOps is the operation set destined for one store. Execution order
// within a store is fixed: duplicate removals, then deletions, then
// updates, then creations.
type storeOps struct {
	dups    []task.Task
	deletes []task.Task
	updates []task.Task
	creates []task.Task

	// planned tracks every signature this store already has an operation
	// for, so duplicate elimination does not double-schedule.
	planned map[identity.Sig]bool
}

func (s *storeOps) mark(t task.Task) {
	if s.planned == nil {
		s.planned = make(map[identity.Sig]bool)
	}
	s.planned[identity.TaskSignature(t)] = true
}

func (s *storeOps) addCreate(t task.Task) { s.creates = append(s.creates, t); s.mark(t) }
func (s *storeOps) addUpdate(t task.Task) { s.updates = append(s.updates, t); s.mark(t) }
func (s *storeOps) addDelete(t task.Task) { s.deletes = append(s.deletes, t); s.mark(t) }

func (s *storeOps) total() int {
	return len(s.dups) + len(s.deletes) + len(s.updates) + len(s.creates)
}

// opSet is the full pass plan across all stores. replicas is parallel to
// snapshot.replicas.
type opSet struct {
	local    storeOps
	replicas []storeOps
	cloud    storeOps
}

func (o *opSet) total() int {
	n := o.local.total() + o.cloud.total()
	for i := range o.replicas {
		n += o.replicas[i].total()
	}
	return n
}

// plan computes the operation set from the loaded snapshot.
//
// Records are matched into identity groups by signature and by
// cloud-identifier link; with more than one reachable side the resolver
// picks one winner per group. Each reachable side missing the winner gets a
// creation, each side holding different content gets an update. A group
// present on exactly one side whose record carries evidence of a previous
// sync is treated as remotely deleted (full passes only; incremental passes
// skip it). Push gates writes toward the cloud and replicas; Pull gates
// writes toward the local store.
func (o *Orchestrator) plan(snap *snapshot, opts Options) (*opSet, int) {
	ops := &opSet{replicas: make([]storeOps, len(snap.replicas))}

	replicaTasks := snap.replicaTasks()

	replicasActive := false
	for _, r := range snap.replicas {
		if r.ok {
			replicasActive = true
		}
	}

	localLedger := o.ledger.SourceMap(task.SourceLocal)
	replicaLedger := o.ledger.SourceMap(task.SourceReplica)
	cloudLedger := o.ledger.SourceMap(task.SourceCloud)

	conflicts := 0
	for _, group := range resolve.GroupLinked(snap.local, replicaTasks, snap.cloud) {
		candidates := resolve.Candidates(group)
		if len(candidates) > 1 {
			conflicts++
		}
		winner, err := o.resolver.Resolve(candidates)
		if err != nil {
			// Unreachable: groups are built from existing records.
			continue
		}
		w := winner.Task
		wfp := identity.Fingerprint(w)

		onLocal, localHas := plan.Newest(group, task.SourceLocal)
		onReplica, replicaHas := plan.Newest(group, task.SourceReplica)
		onCloud, cloudHas := plan.Newest(group, task.SourceCloud)
		if !replicasActive {
			replicaHas = false
		}
		if !snap.cloudOK {
			cloudHas = false
		}

		sides := 0
		reachable := 1 // local is always reachable past Load
		if localHas {
			sides++
		}
		if replicasActive {
			reachable++
			if replicaHas {
				sides++
			}
		}
		if snap.cloudOK {
			reachable++
			if cloudHas {
				sides++
			}
		}

		// One-sided records: previously synced means the counterpart was
		// deleted elsewhere; fresh means it has never been propagated.
		if sides == 1 && reachable > 1 {
			var sole task.Task
			var soleLedger map[identity.Sig]identity.FP
			switch {
			case localHas:
				sole, soleLedger = onLocal, localLedger
			case replicaHas:
				sole, soleLedger = onReplica, replicaLedger
			default:
				sole, soleLedger = onCloud, cloudLedger
			}
			if plan.PreviouslySynced(sole, soleLedger, identity.TaskSignature(sole)) {
				if opts.Full {
					switch {
					case localHas && opts.Pull:
						ops.local.addDelete(onLocal)
					case replicaHas && opts.Push:
						o.scheduleReplicaDelete(snap, ops, onReplica)
					case cloudHas && opts.Push:
						ops.cloud.addDelete(onCloud)
					}
				}
				continue
			}
		}

		// Converge every reachable side onto the winner.
		if opts.Pull {
			switch {
			case !localHas:
				ops.local.addCreate(plan.Retarget(w, task.Task{Source: task.SourceLocal}))
			case identity.Fingerprint(onLocal) != wfp:
				ops.local.addUpdate(plan.Retarget(w, onLocal))
			}
		}
		if replicasActive && opts.Push {
			switch {
			case !replicaHas:
				o.scheduleReplicaWrite(snap, ops, plan.Retarget(w, task.Task{Source: task.SourceReplica}), true)
			case identity.Fingerprint(onReplica) != wfp:
				o.scheduleReplicaWrite(snap, ops, plan.Retarget(w, onReplica), false)
			}
		}
		if snap.cloudOK && opts.Push {
			switch {
			case !cloudHas:
				ops.cloud.addCreate(plan.Retarget(w, task.Task{Source: task.SourceCloud}))
			case identity.Fingerprint(onCloud) != wfp:
				ops.cloud.addUpdate(plan.Retarget(w, onCloud))
			}
		}
	}

	return ops, conflicts
}

// scheduleReplicaWrite fans a creation or update out to every reachable
// replica. Replicas share one logical side: they are meant to hold
// identical contents.
func (o *Orchestrator) scheduleReplicaWrite(snap *snapshot, ops *opSet, t task.Task, create bool) {
	for i, r := range snap.replicas {
		if !r.ok {
			continue
		}
		if create {
			ops.replicas[i].addCreate(t)
		} else {
			ops.replicas[i].addUpdate(t)
		}
	}
}

// scheduleReplicaDelete removes a record from every reachable replica that
// holds it.
func (o *Orchestrator) scheduleReplicaDelete(snap *snapshot, ops *opSet, t task.Task) {
	sig := identity.TaskSignature(t)
	for i, r := range snap.replicas {
		if !r.ok {
			continue
		}
		if held, ok := indexBySig(r.tasks)[sig]; ok {
			ops.replicas[i].addDelete(held)
		}
	}
}

// deduplicate schedules the removal of intra-source duplicate records:
// same signature, different local IDs within one store. The most recently
// modified member survives. Records already planned for creation or update
// in a store are never also flagged there. The push/pull gates apply the
// same way they do to planned writes.
func (o *Orchestrator) deduplicate(snap *snapshot, ops *opSet, opts Options) {
	addDups := func(target *storeOps, records []task.Task) {
		for _, d := range plan.ExcessDuplicates(records) {
			if target.planned[identity.TaskSignature(d)] {
				continue
			}
			target.dups = append(target.dups, d)
		}
	}

	if opts.Pull {
		addDups(&ops.local, snap.local)
	}
	if opts.Push {
		for i, r := range snap.replicas {
			if r.ok {
				addDups(&ops.replicas[i], r.tasks)
			}
		}
		if snap.cloudOK {
			addDups(&ops.cloud, snap.cloud)
		}
	}
}

// countPlanned fills the summary's per-store counters from the plan
// without executing it (dry runs).
func (o *Orchestrator) countPlanned(ops *opSet, summary *Summary) {
	summary.Local = StoreCounts{
		Created: len(ops.local.creates),
		Updated: len(ops.local.updates),
		Deleted: len(ops.local.deletes) + len(ops.local.dups),
	}
	for i := range ops.replicas {
		summary.Replica.Created += len(ops.replicas[i].creates)
		summary.Replica.Updated += len(ops.replicas[i].updates)
		summary.Replica.Deleted += len(ops.replicas[i].deletes) + len(ops.replicas[i].dups)
	}
	summary.Cloud = StoreCounts{
		Created: len(ops.cloud.creates),
		Updated: len(ops.cloud.updates),
		Deleted: len(ops.cloud.deletes) + len(ops.cloud.dups),
	}
	summary.DuplicatesRemoved = len(ops.local.dups) + len(ops.cloud.dups)
	for i := range ops.replicas {
		summary.DuplicatesRemoved += len(ops.replicas[i].dups)
	}
}

// indexBySig indexes a collection by signature, the most recently modified
// member representing each group.
func indexBySig(records []task.Task) map[identity.Sig]task.Task {
	m := make(map[identity.Sig]task.Task, len(records))
	for _, t := range records {
		sig := identity.TaskSignature(t)
		if cur, ok := m[sig]; !ok || t.Modified.After(cur.Modified) {
			m[sig] = t
		}
	}
	return m
}
