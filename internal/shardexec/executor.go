// Package shardexec implements the ShardStateExecutor batch reducer
// (component C4): a pure function from (SnapshotsInProgress, a batch of
// shard status updates) to a new SnapshotsInProgress, with no hidden
// mutable state. It is the only place shard status updates from data
// nodes are applied, and it is deliberately side-effect free so it can
// be property-tested directly.
package shardexec

import (
	"github.com/jvs-project/snapmgr/pkg/model"
)

// Task is one shard status update to apply: exactly one of ShardID or
// RepoShardID is set, matching whether it targets a normal snapshot or a
// clone.
type Task struct {
	Repository string
	Snapshot   model.Snapshot

	ShardID     *model.ShardID
	RepoShardID *model.RepositoryShardID

	NewStatus model.ShardSnapshotStatus
}

// targetsClone reports whether this task addresses a clone's shard slot.
func (t Task) targetsClone() bool { return t.RepoShardID != nil }

// Apply runs the two-nested-loop reducer described in section 4.2 over
// entries (oldest-first, i.e. admission order) and tasks, returning a new
// slice of entries with all applicable tasks applied. entries and tasks
// are not mutated; entries that are replaced are shallow copies with a
// fresh Shards/Clones map.
func Apply(entries []*model.SnapshotEntry, tasks []Task) []*model.SnapshotEntry {
	out := make([]*model.SnapshotEntry, len(entries))
	remaining := make([]Task, len(tasks))
	copy(remaining, tasks)
	executed := make(map[int]bool, len(tasks))

	for i, e := range entries {
		if e.State.Completed() {
			out[i] = e
			continue
		}

		next := shallowCopyEntry(e)
		for ti, t := range remaining {
			if t.Repository != next.Snapshot.Repository {
				continue
			}

			switch {
			case t.Snapshot == next.Snapshot:
				applyDirect(next, t)
				executed[ti] = true

			case executed[ti]:
				promoteQueued(next, t)
			}
		}
		out[i] = next
	}

	return out
}

func shallowCopyEntry(e *model.SnapshotEntry) *model.SnapshotEntry {
	c := *e
	if e.Shards != nil {
		c.Shards = make(map[model.ShardID]model.ShardSnapshotStatus, len(e.Shards))
		for k, v := range e.Shards {
			c.Shards[k] = v
		}
	}
	if e.Clones != nil {
		c.Clones = make(map[model.RepositoryShardID]model.ShardSnapshotStatus, len(e.Clones))
		for k, v := range e.Clones {
			c.Clones[k] = v
		}
	}
	return &c
}

// applyDirect patches e's shard/clone map with t's new status, unless
// the existing slot is already completed (idempotent retry: at-least-
// once delivery from data nodes must not regress a terminal status).
func applyDirect(e *model.SnapshotEntry, t Task) {
	if t.targetsClone() {
		cur, ok := e.Clones[*t.RepoShardID]
		if ok && cur.State.Completed() {
			return
		}
		e.Clones[*t.RepoShardID] = t.NewStatus
		return
	}
	cur, ok := e.Shards[*t.ShardID]
	if ok && cur.State.Completed() {
		return
	}
	e.Shards[*t.ShardID] = t.NewStatus
}

// promoteQueued looks for a QUEUED slot in e that waits on the resource
// t just released, translating ShardID<->RepositoryShardID as needed,
// and if found assigns it a fresh active status derived from t's outcome.
func promoteQueued(e *model.SnapshotEntry, t Task) {
	if e.IsClone() {
		rsid := repoShardIDFromTask(t)
		cur, ok := e.Clones[rsid]
		if !ok || !cur.IsUnassignedQueued() {
			return
		}
		e.Clones[rsid] = model.ShardSnapshotStatus{
			NodeID:     t.NewStatus.NodeID,
			State:      model.ShardStateInit,
			Generation: t.NewStatus.Generation,
		}
		return
	}

	sid, ok := shardIDFromTask(t)
	if !ok {
		return
	}
	cur, ok := e.Shards[sid]
	if !ok || !cur.IsUnassignedQueued() {
		return
	}
	e.Shards[sid] = model.ShardSnapshotStatus{
		NodeID:     t.NewStatus.NodeID,
		State:      model.ShardStateInit,
		Generation: t.NewStatus.Generation,
	}
}

// repoShardIDFromTask translates a task's target resource into a
// RepositoryShardID, whether the task itself was a snapshot-shard update
// (snapshot -> clone waiter) or already a repo-shard update.
func repoShardIDFromTask(t Task) model.RepositoryShardID {
	if t.RepoShardID != nil {
		return *t.RepoShardID
	}
	return model.RepositoryShardID{Index: t.ShardID.Index, ShardIndex: t.ShardID.ShardIndex}
}

// shardIDFromTask translates a task's target resource into a ShardID
// (clone -> snapshot waiter case). Clone tasks carry no live routing
// information beyond index/shard index, which is exactly what ShardID
// needs; the caller is responsible for having resolved NodeID from the
// routing table before constructing NewStatus.
func shardIDFromTask(t Task) (model.ShardID, bool) {
	if t.ShardID != nil {
		return *t.ShardID, true
	}
	if t.RepoShardID != nil {
		return model.ShardID{Index: t.RepoShardID.Index, ShardIndex: t.RepoShardID.ShardIndex}, true
	}
	return model.ShardID{}, false
}
