package lifecycle

import "github.com/jvs-project/snapmgr/pkg/model"

// assignShards implements the shard assignment policy (section 4.1.1):
// for every primary shard of every requested index, decide whether it
// starts WAITING for its routing entry to reach STARTED, goes straight
// to MISSING because its primary isn't allocated (or the index itself
// is gone), or is parked UNASSIGNED_QUEUED because some other in-flight
// operation against the same repository already holds it.
//
// priorGenerations supplies each shard's last-recorded repository
// generation, carried forward so a later finalize knows what to bump.
func assignShards(current *model.ClusterState, repo string, indices []model.IndexID, priorGenerations map[model.RepositoryShardID]string) (map[model.ShardID]model.ShardSnapshotStatus, bool) {
	held := heldShards(current, repo)
	deletionHoldsRepo := current.StartedDeletionForRepo(repo) != nil

	shards := map[model.ShardID]model.ShardSnapshotStatus{}
	hasMissing := false

	for _, index := range indices {
		meta, ok := current.IndicesMeta[index]
		if !ok {
			sid := model.ShardID{Index: index, ShardIndex: 0}
			shards[sid] = model.ShardSnapshotStatus{State: model.ShardStateMissing, Reason: "index deleted"}
			hasMissing = true
			continue
		}

		for shardIndex := 0; shardIndex < meta.NumberOfShards; shardIndex++ {
			sid := model.ShardID{Index: index, ShardIndex: shardIndex}
			rsid := model.RepositoryShardID{Index: index, ShardIndex: shardIndex}

			if deletionHoldsRepo || held[sid] {
				shards[sid] = model.UnassignedQueued("shard generation is held by another repository operation")
				continue
			}

			routing, hasRouting := current.RoutingTable[sid]
			gen := model.NewShardGen
			if g, ok := priorGenerations[rsid]; ok {
				gen = g
			}

			switch {
			case !hasRouting || routing.Unassigned():
				shards[sid] = model.ShardSnapshotStatus{State: model.ShardStateMissing, Reason: "primary shard is not allocated"}
				hasMissing = true
			case routing.State == model.ShardRoutingInitializing || routing.State == model.ShardRoutingRelocating:
				shards[sid] = model.ShardSnapshotStatus{State: model.ShardStateWaiting, Generation: gen}
			case routing.State == model.ShardRoutingStarted:
				shards[sid] = model.ShardSnapshotStatus{NodeID: routing.NodeID, State: model.ShardStateInit, Generation: gen}
			default:
				shards[sid] = model.ShardSnapshotStatus{State: model.ShardStateMissing, Reason: "primary shard is not allocated"}
				hasMissing = true
			}
		}
	}

	return shards, hasMissing
}

// heldShards returns the set of shards already referenced by some
// non-completed entry in repo, normal-snapshot or clone, translated to
// ShardID so a new entry can check for a collision regardless of which
// kind of operation is holding the shard.
func heldShards(current *model.ClusterState, repo string) map[model.ShardID]bool {
	held := map[model.ShardID]bool{}
	for _, en := range current.EntriesForRepo(repo) {
		if en.State.Completed() {
			continue
		}
		if en.IsClone() {
			for rsid := range en.Clones {
				held[model.ShardID{Index: rsid.Index, ShardIndex: rsid.ShardIndex}] = true
			}
			continue
		}
		for sid := range en.Shards {
			held[sid] = true
		}
	}
	return held
}
