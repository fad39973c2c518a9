// Package reactive implements the ReactiveUpdater (component C7):
// reaction to node departures and routing-table changes, per section
// 4.4. Reduce is the pure per-shard rule engine, kept separate from the
// cluster-bus wiring in NewApplier so it can be property-tested without
// a running bus.
package reactive

import (
	"context"

	"github.com/jvs-project/snapmgr/internal/clusterbus"
	"github.com/jvs-project/snapmgr/internal/listener"
	"github.com/jvs-project/snapmgr/internal/ongoingops"
	"github.com/jvs-project/snapmgr/internal/repoloop"
	"github.com/jvs-project/snapmgr/pkg/model"
)

// knownFailureKey identifies a shard whose failure is recorded the first
// time a shard rule fails it for a given repository during one reduction
// pass, so that later entries
// waiting on the same resource fail identically (section 4.4).
type knownFailureKey struct {
	repository string
	index      model.IndexID
	shardIndex int
}

// Reduce applies section 4.4's per-shard rules to every non-completed
// entry in state and returns the updated state plus whether anything
// changed. It is pure: state is never mutated, only cloned.
func Reduce(state *model.ClusterState) (*model.ClusterState, bool) {
	known := map[knownFailureKey]model.ShardSnapshotStatus{}
	entries := make([]*model.SnapshotEntry, len(state.SnapshotsInProgress))
	changed := false

	for i, e := range state.SnapshotsInProgress {
		if e.State.Completed() {
			entries[i] = e
			continue
		}
		ne, entryChanged := reduceEntry(e, state, known)
		entries[i] = ne
		changed = changed || entryChanged
	}

	if !changed {
		return state, false
	}
	return state.WithSnapshotEntries(entries), true
}

func reduceEntry(e *model.SnapshotEntry, state *model.ClusterState, known map[knownFailureKey]model.ShardSnapshotStatus) (*model.SnapshotEntry, bool) {
	if e.IsClone() {
		return reduceCloneEntry(e, state, known)
	}

	changed := false
	shards := e.Shards
	var fresh map[model.ShardID]model.ShardSnapshotStatus

	for sid, status := range e.Shards {
		newStatus, ok := reduceShard(e.Snapshot.Repository, sid.Index, sid.ShardIndex, status, state, known)
		if !ok {
			continue
		}
		if fresh == nil {
			fresh = make(map[model.ShardID]model.ShardSnapshotStatus, len(e.Shards))
			for k, v := range e.Shards {
				fresh[k] = v
			}
			shards = fresh
		}
		shards[sid] = newStatus
		changed = true
	}

	if !changed {
		return e, false
	}
	ne := *e
	ne.Shards = shards
	return &ne, true
}

// reduceCloneEntry applies the same per-shard rules to a clone's repo-shard
// slots. Clones reference repository data, not live routing, so the
// WAITING/"primary started" rules never fire for them — only the
// UNASSIGNED_QUEUED-inherits-known-failure and
// node-missing-for-assigned-shard rules apply.
func reduceCloneEntry(e *model.SnapshotEntry, state *model.ClusterState, known map[knownFailureKey]model.ShardSnapshotStatus) (*model.SnapshotEntry, bool) {
	changed := false
	var fresh map[model.RepositoryShardID]model.ShardSnapshotStatus

	for rsid, status := range e.Clones {
		key := knownFailureKey{repository: e.Snapshot.Repository, index: rsid.Index, shardIndex: rsid.ShardIndex}
		var newStatus model.ShardSnapshotStatus
		var apply bool

		switch {
		case status.IsUnassignedQueued():
			if kf, ok := known[key]; ok {
				newStatus, apply = kf, true
			}
		case !status.State.Completed() && status.NodeID != "":
			if _, stillPresent := state.Nodes[status.NodeID]; !stillPresent {
				newStatus = model.ShardSnapshotStatus{NodeID: status.NodeID, State: model.ShardStateFailed, Reason: "node shutdown"}
				known[key] = newStatus
				apply = true
			}
		}

		if !apply {
			continue
		}
		if fresh == nil {
			fresh = make(map[model.RepositoryShardID]model.ShardSnapshotStatus, len(e.Clones))
			for k, v := range e.Clones {
				fresh[k] = v
			}
		}
		fresh[rsid] = newStatus
		changed = true
	}

	if !changed {
		return e, false
	}
	ne := *e
	ne.Clones = fresh
	return &ne, true
}

// reduceShard applies the four per-shard rules from section 4.4 to one
// normal-snapshot shard. ok is false if no rule changed the status.
func reduceShard(repo string, index model.IndexID, shardIndex int, status model.ShardSnapshotStatus, state *model.ClusterState, known map[knownFailureKey]model.ShardSnapshotStatus) (model.ShardSnapshotStatus, bool) {
	key := knownFailureKey{repository: repo, index: index, shardIndex: shardIndex}
	sid := model.ShardID{Index: index, ShardIndex: shardIndex}
	routing, hasRouting := state.RoutingTable[sid]

	switch {
	case status.IsUnassignedQueued():
		if kf, ok := known[key]; ok {
			return kf, true
		}
		return status, false

	case status.State == model.ShardStateWaiting:
		switch {
		case hasRouting && routing.State == model.ShardRoutingStarted:
			return model.ShardSnapshotStatus{NodeID: routing.NodeID, State: model.ShardStateInit, Generation: status.Generation}, true
		case hasRouting && (routing.State == model.ShardRoutingInitializing || routing.State == model.ShardRoutingRelocating):
			return status, false
		default:
			failed := model.ShardSnapshotStatus{State: model.ShardStateFailed, Reason: "shard is unassigned"}
			known[key] = failed
			return failed, true
		}

	case !status.State.Completed() && status.NodeID != "":
		if _, stillPresent := state.Nodes[status.NodeID]; !stillPresent {
			failed := model.ShardSnapshotStatus{NodeID: status.NodeID, State: model.ShardStateFailed, Reason: "node shutdown"}
			known[key] = failed
			return failed, true
		}
		return status, false

	default:
		return status, false
	}
}

// Deps wires the ReactiveUpdater's side effects: enqueueing newly
// completed entries for finalization and failing listeners on
// cluster-manager loss.
type Deps struct {
	Bus       clusterbus.Bus
	Ongoing   *ongoingops.Tracker
	Listeners *listener.Registry
	RepoLoop  *repoloop.Loop

	// Kick is invoked (repo) for every repository with a newly-completed
	// entry, so the caller can resume its RepoLoop worker. Supplied by
	// internal/lifecycle, which knows how to build a Step.
	Kick func(repo string)
}

// NewApplier returns a clusterbus.Applier implementing section 4.4:
// invoked on every applied state change, it recomputes changedNodes/
// startShards, proposes a corrective update if either is true, and
// enqueues completed entries for finalization once that update applies.
// isClusterManager is re-checked on every invocation since cluster-
// manager status can change between applies.
func NewApplier(deps Deps, isClusterManager func() bool) clusterbus.Applier {
	return func(previous, current *model.ClusterState, nodesDelta, routingChanged bool) {
		if !isClusterManager() {
			deps.Listeners.FailAllListenersOnMasterFailOver()
			return
		}
		if !nodesDelta && !routingChanged {
			return
		}

		updated, changed := Reduce(current)
		if !changed {
			return
		}

		deps.Bus.SubmitUpdate(context.Background(), clusterbus.Task{
			Source: "reactive_updater",
			Execute: func(c *model.ClusterState) (*model.ClusterState, error) {
				return updated, nil
			},
			ClusterStateProcessed: func(source string, previous, current *model.ClusterState) {
				enqueueCompleted(current, deps)
			},
		})
	}
}

func enqueueCompleted(state *model.ClusterState, deps Deps) {
	repos := map[string]bool{}
	for _, e := range state.SnapshotsInProgress {
		if e.State.Completed() {
			continue
		}
		if e.AllShardsCompleted() {
			deps.Ongoing.EnqueueFinalization(e.Snapshot.Repository, e.Snapshot)
			repos[e.Snapshot.Repository] = true
		}
	}
	for repo := range repos {
		if deps.Kick != nil {
			deps.Kick(repo)
		}
	}
}
