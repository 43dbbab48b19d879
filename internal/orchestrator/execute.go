package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskmirror/taskmirror/internal/identity"
	"github.com/taskmirror/taskmirror/internal/ledger"
	"github.com/taskmirror/taskmirror/internal/task"
)

// execute applies the planned operations under the sync file lock.
//
// Per-store order is fixed: duplicate removals first, then deletions, then
// updates, then creations. A local write failure is fatal; replica and
// cloud write failures degrade that store and the pass continues. The
// ledger is rebuilt from the post-pass state and saved last; a ledger
// write failure downgrades to a warning because the stores themselves are
// already consistent.
func (o *Orchestrator) execute(ctx context.Context, snap *snapshot, ops *opSet, summary *Summary) error {
	unlock, err := o.lockExecute(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	now := time.Now().UTC()

	// Cloud first: creations come back with the cloud-assigned identifier,
	// which the local and replica records need to remember.
	finalCloud, links, cloudOK := o.executeCloud(ctx, snap, ops, summary)
	o.applyLinks(snap, ops, links)

	finalLocal, err := o.executeLocal(ctx, snap, ops, now, summary)
	if err != nil {
		return err
	}

	finalReplica, replicaOK := o.executeReplicas(ctx, snap, ops, now, summary)

	o.rebuildLedger(snap, finalLocal, finalReplica, finalCloud, replicaOK, cloudOK)
	if err := o.ledger.Save(ctx, now); err != nil {
		var we *ledger.WriteError
		if errors.As(err, &we) {
			summary.warnf("%v", we)
			o.logger.Printf("Warning: %v", we)
		} else {
			summary.warnf("ledger save failed: %v", err)
		}
	}
	return nil
}

// executeLocal applies the local operation set and returns the post-pass
// local collection. Local failures are fatal: the local store is the one
// store a pass cannot run without.
func (o *Orchestrator) executeLocal(ctx context.Context, snap *snapshot, ops *opSet, now time.Time, summary *Summary) ([]task.Task, error) {
	for _, t := range append(ops.local.dups, ops.local.deletes...) {
		if _, err := o.local.DeleteOne(ctx, t.ID); err != nil {
			return nil, fmt.Errorf("local delete %s: %w", t.ID, err)
		}
		summary.Local.Deleted++
	}
	summary.DuplicatesRemoved += len(ops.local.dups)

	var batch []task.Task
	for _, t := range ops.local.updates {
		t.LastSynced = now
		t.SyncVersion++
		batch = append(batch, t)
	}
	for i, t := range ops.local.creates {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		t.LastSynced = now
		ops.local.creates[i] = t
		batch = append(batch, t)
	}
	if len(batch) > 0 {
		if err := o.local.SaveAll(ctx, batch); err != nil {
			return nil, fmt.Errorf("local save: %w", err)
		}
	}
	summary.Local.Updated += len(ops.local.updates)
	summary.Local.Created += len(ops.local.creates)

	return applyOps(snap.local, &ops.local), nil
}

// executeReplicas fans the per-replica operation sets out. A failing
// replica is reported and skipped; the merged post-pass collection covers
// only the replicas that stayed healthy, and replicaOK reports whether at
// least one did.
func (o *Orchestrator) executeReplicas(ctx context.Context, snap *snapshot, ops *opSet, now time.Time, summary *Summary) ([]task.Task, bool) {
	var final []task.Task
	anyOK := false

	for i, rs := range snap.replicas {
		if !rs.ok {
			continue
		}
		rops := &ops.replicas[i]
		name := rs.store.Name()
		failed := false

		for _, t := range append(rops.dups, rops.deletes...) {
			if _, err := rs.store.DeleteOne(ctx, t.ID); err != nil {
				summary.errorf("replica %s delete %s: %v", name, t.ID, err)
				failed = true
				break
			}
			summary.Replica.Deleted++
		}

		if !failed {
			var batch []task.Task
			for _, t := range rops.updates {
				t.LastSynced = now
				batch = append(batch, t)
			}
			for _, t := range rops.creates {
				if t.ID == "" {
					t.ID = uuid.NewString()
				}
				t.LastSynced = now
				batch = append(batch, t)
			}
			if len(batch) > 0 {
				if err := rs.store.SaveAll(ctx, batch); err != nil {
					summary.errorf("replica %s save: %v", name, err)
					failed = true
				}
			}
			if !failed {
				summary.Replica.Updated += len(rops.updates)
				summary.Replica.Created += len(rops.creates)
				summary.DuplicatesRemoved += len(rops.dups)
			}
		}

		if failed {
			o.logger.Printf("Replica %s degraded during execute", name)
			continue
		}
		anyOK = true
		final = append(final, applyOps(rs.tasks, rops)...)
	}
	return final, anyOK
}

// cloudLink records the identifier a cloud creation came back with, keyed
// by the created record's signature.
type cloudLink struct {
	sig     identity.Sig
	cloudID string
}

// executeCloud applies the cloud operation set. Returns the post-pass
// cloud collection, the identifier links for new cloud records, and
// whether the cloud stayed healthy. Auth failures never occur here: they
// abort during Load, before any write.
func (o *Orchestrator) executeCloud(ctx context.Context, snap *snapshot, ops *opSet, summary *Summary) ([]task.Task, []cloudLink, bool) {
	if !snap.cloudOK {
		return nil, nil, false
	}

	var links []cloudLink
	degrade := func(err error) ([]task.Task, []cloudLink, bool) {
		summary.errorf("cloud write: %v", err)
		o.logger.Printf("Cloud degraded during execute: %v", err)
		return nil, links, false
	}

	for _, t := range append(ops.cloud.dups, ops.cloud.deletes...) {
		if _, err := o.cloud.Delete(ctx, t.ID); err != nil {
			return degrade(err)
		}
		summary.Cloud.Deleted++
	}
	summary.DuplicatesRemoved += len(ops.cloud.dups)

	for _, t := range ops.cloud.updates {
		if _, err := o.cloud.Update(ctx, t); err != nil {
			return degrade(err)
		}
		summary.Cloud.Updated++
	}

	created := make([]task.Task, 0, len(ops.cloud.creates))
	for _, t := range ops.cloud.creates {
		got, err := o.cloud.Create(ctx, t)
		if err != nil {
			return degrade(err)
		}
		summary.Cloud.Created++
		created = append(created, got)
		links = append(links, cloudLink{sig: identity.TaskSignature(t), cloudID: got.ID})
	}

	final := applyOps(snap.cloud, &storeOps{
		dups:    ops.cloud.dups,
		deletes: ops.cloud.deletes,
		updates: ops.cloud.updates,
		creates: created,
	})
	return final, links, true
}

// applyLinks stamps cloud-assigned identifiers onto the local and replica
// records that share the created record's signature, including records
// already scheduled for write this pass. A local record with no planned
// write still gets a metadata-only update so the link is persisted.
// Identifier linkage is sync metadata, not content, so it does not move
// the modification timestamp.
func (o *Orchestrator) applyLinks(snap *snapshot, ops *opSet, links []cloudLink) {
	if len(links) == 0 {
		return
	}
	bySig := make(map[identity.Sig]string, len(links))
	for _, l := range links {
		bySig[l.sig] = l.cloudID
	}

	stamp := func(batch []task.Task) {
		for i, t := range batch {
			if id, ok := bySig[identity.TaskSignature(t)]; ok && t.CloudID == "" {
				batch[i].CloudID = id
			}
		}
	}
	stamp(ops.local.updates)
	stamp(ops.local.creates)
	for i := range ops.replicas {
		stamp(ops.replicas[i].updates)
		stamp(ops.replicas[i].creates)
	}

	for _, t := range snap.local {
		sig := identity.TaskSignature(t)
		id, ok := bySig[sig]
		if !ok || t.CloudID != "" || ops.local.planned[sig] {
			continue
		}
		t.CloudID = id
		ops.local.addUpdate(t)
	}
}

// applyOps derives a store's post-pass collection from its snapshot and
// the operations executed against it.
func applyOps(base []task.Task, ops *storeOps) []task.Task {
	removed := make(map[string]bool, len(ops.dups)+len(ops.deletes))
	for _, t := range ops.dups {
		removed[t.ID] = true
	}
	for _, t := range ops.deletes {
		removed[t.ID] = true
	}
	updated := make(map[string]task.Task, len(ops.updates))
	for _, t := range ops.updates {
		updated[t.ID] = t
	}

	out := make([]task.Task, 0, len(base)+len(ops.creates))
	for _, t := range base {
		if removed[t.ID] {
			continue
		}
		if u, ok := updated[t.ID]; ok {
			out = append(out, u)
			continue
		}
		out = append(out, t)
	}
	out = append(out, ops.creates...)
	return out
}

// rebuildLedger replaces the ledger contents with the post-pass state of
// every side that was reachable, preserving the previous entries of sides
// that degraded (their state was not observed this pass, so forgetting
// them would misclassify their records as never-synced next time).
func (o *Orchestrator) rebuildLedger(snap *snapshot, local, replica, cloud []task.Task, replicaOK, cloudOK bool) {
	var keepReplica, keepCloud map[identity.Sig]identity.FP
	replicasConfigured := len(snap.replicas) > 0
	if replicasConfigured && !replicaOK {
		keepReplica = o.ledger.SourceMap(task.SourceReplica)
	}
	if o.cloud != nil && !cloudOK {
		keepCloud = o.ledger.SourceMap(task.SourceCloud)
	}

	o.ledger.Reset()
	record := func(records []task.Task, source task.Source) {
		for _, t := range records {
			o.ledger.Record(identity.TaskSignature(t), source, identity.Fingerprint(t))
		}
	}
	record(local, task.SourceLocal)
	record(replica, task.SourceReplica)
	record(cloud, task.SourceCloud)

	for sig, fp := range keepReplica {
		o.ledger.Record(sig, task.SourceReplica, fp)
	}
	for sig, fp := range keepCloud {
		o.ledger.Record(sig, task.SourceCloud, fp)
	}
}
