package shardexec_test

import (
	"testing"

	"github.com/jvs-project/snapmgr/internal/shardexec"
	"github.com/jvs-project/snapmgr/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapEntry(repo, name string, shards map[model.ShardID]model.ShardSnapshotStatus) *model.SnapshotEntry {
	return &model.SnapshotEntry{
		Snapshot: model.Snapshot{Repository: repo, SnapshotID: model.SnapshotID{Name: name, UUID: name + "-uuid"}},
		State:    model.SnapshotStateStarted,
		Shards:   shards,
	}
}

func TestApply_IdempotentDropOnCompletedEntry(t *testing.T) {
	sid := model.ShardID{Index: model.IndexID{Name: "idx"}, ShardIndex: 0}
	entry := &model.SnapshotEntry{
		Snapshot: model.Snapshot{Repository: "repo1", SnapshotID: model.SnapshotID{Name: "snap1"}},
		State:    model.SnapshotStateSuccess,
		Shards: map[model.ShardID]model.ShardSnapshotStatus{
			sid: {NodeID: "node1", State: model.ShardStateSuccess},
		},
	}

	task := shardexec.Task{
		Repository: "repo1",
		Snapshot:   entry.Snapshot,
		ShardID:    &sid,
		NewStatus:  model.ShardSnapshotStatus{NodeID: "node1", State: model.ShardStateFailed},
	}

	out := shardexec.Apply([]*model.SnapshotEntry{entry}, []shardexec.Task{task})
	require.Len(t, out, 1)
	assert.Same(t, entry, out[0], "completed entries are returned unchanged")
	assert.Equal(t, model.ShardStateSuccess, out[0].Shards[sid].State)
}

func TestApply_PatchesActiveShard(t *testing.T) {
	sid := model.ShardID{Index: model.IndexID{Name: "idx"}, ShardIndex: 0}
	entry := snapEntry("repo1", "snap1", map[model.ShardID]model.ShardSnapshotStatus{
		sid: {NodeID: "node1", State: model.ShardStateInit},
	})

	task := shardexec.Task{
		Repository: "repo1",
		Snapshot:   entry.Snapshot,
		ShardID:    &sid,
		NewStatus:  model.ShardSnapshotStatus{NodeID: "node1", State: model.ShardStateSuccess},
	}

	out := shardexec.Apply([]*model.SnapshotEntry{entry}, []shardexec.Task{task})
	require.Len(t, out, 1)
	assert.Equal(t, model.ShardStateSuccess, out[0].Shards[sid].State)
	// Original entry untouched.
	assert.Equal(t, model.ShardStateInit, entry.Shards[sid].State)
}

func TestApply_RefusesToRegressCompletedShard(t *testing.T) {
	sid := model.ShardID{Index: model.IndexID{Name: "idx"}, ShardIndex: 0}
	entry := snapEntry("repo1", "snap1", map[model.ShardID]model.ShardSnapshotStatus{
		sid: {NodeID: "node1", State: model.ShardStateSuccess},
	})

	task := shardexec.Task{
		Repository: "repo1",
		Snapshot:   entry.Snapshot,
		ShardID:    &sid,
		NewStatus:  model.ShardSnapshotStatus{NodeID: "node1", State: model.ShardStateFailed},
	}

	out := shardexec.Apply([]*model.SnapshotEntry{entry}, []shardexec.Task{task})
	assert.Equal(t, model.ShardStateSuccess, out[0].Shards[sid].State)
}

func TestApply_NoApplicableUpdateLeavesEntryUnchanged(t *testing.T) {
	sid := model.ShardID{Index: model.IndexID{Name: "idx"}, ShardIndex: 0}
	entry := snapEntry("repo1", "snap1", map[model.ShardID]model.ShardSnapshotStatus{
		sid: {NodeID: "node1", State: model.ShardStateInit},
	})

	otherSID := model.ShardID{Index: model.IndexID{Name: "idx"}, ShardIndex: 1}
	task := shardexec.Task{
		Repository: "repo2",
		Snapshot:   model.Snapshot{Repository: "repo2", SnapshotID: model.SnapshotID{Name: "other"}},
		ShardID:    &otherSID,
		NewStatus:  model.ShardSnapshotStatus{NodeID: "node1", State: model.ShardStateSuccess},
	}

	out := shardexec.Apply([]*model.SnapshotEntry{entry}, []shardexec.Task{task})
	assert.Equal(t, model.ShardStateInit, out[0].Shards[sid].State)
}

func TestApply_PromotesQueuedShardToOldestWaitingEntry(t *testing.T) {
	sid := model.ShardID{Index: model.IndexID{Name: "idx"}, ShardIndex: 0}

	older := snapEntry("repo1", "snap-old", map[model.ShardID]model.ShardSnapshotStatus{
		sid: {NodeID: "node1", State: model.ShardStateInit},
	})
	younger := snapEntry("repo1", "snap-new", map[model.ShardID]model.ShardSnapshotStatus{
		sid: model.UnassignedQueued("waiting for shard"),
	})

	task := shardexec.Task{
		Repository: "repo1",
		Snapshot:   older.Snapshot,
		ShardID:    &sid,
		NewStatus:  model.ShardSnapshotStatus{NodeID: "node1", State: model.ShardStateSuccess, Generation: "gen-1"},
	}

	out := shardexec.Apply([]*model.SnapshotEntry{older, younger}, []shardexec.Task{task})
	require.Len(t, out, 2)

	assert.Equal(t, model.ShardStateSuccess, out[0].Shards[sid].State)

	promoted := out[1].Shards[sid]
	assert.False(t, promoted.IsUnassignedQueued())
	assert.Equal(t, model.ShardStateInit, promoted.State)
	assert.Equal(t, "node1", promoted.NodeID)
	assert.Equal(t, "gen-1", promoted.Generation)
}

func TestApply_PromotesQueuedCloneSlot(t *testing.T) {
	rsid := model.RepositoryShardID{Index: model.IndexID{Name: "idx"}, ShardIndex: 0}
	sid := model.ShardID{Index: model.IndexID{Name: "idx"}, ShardIndex: 0}

	source := snapEntry("repo1", "source-snap", map[model.ShardID]model.ShardSnapshotStatus{
		sid: {NodeID: "node1", State: model.ShardStateInit},
	})

	waitingClone := &model.SnapshotEntry{
		Snapshot: model.Snapshot{Repository: "repo1", SnapshotID: model.SnapshotID{Name: "clone1"}},
		State:    model.SnapshotStateStarted,
		Source:   source.Snapshot.SnapshotID,
		Clones: map[model.RepositoryShardID]model.ShardSnapshotStatus{
			rsid: model.UnassignedQueued("waiting for source shard"),
		},
	}

	task := shardexec.Task{
		Repository: "repo1",
		Snapshot:   source.Snapshot,
		ShardID:    &sid,
		NewStatus:  model.ShardSnapshotStatus{NodeID: "node1", State: model.ShardStateSuccess, Generation: "gen-7"},
	}

	out := shardexec.Apply([]*model.SnapshotEntry{source, waitingClone}, []shardexec.Task{task})
	require.Len(t, out, 2)

	promoted := out[1].Clones[rsid]
	assert.False(t, promoted.IsUnassignedQueued())
	assert.Equal(t, model.ShardStateInit, promoted.State)
	assert.Equal(t, "gen-7", promoted.Generation)
}

func TestApply_ClonePromotesToWaitingSnapshot(t *testing.T) {
	rsid := model.RepositoryShardID{Index: model.IndexID{Name: "idx"}, ShardIndex: 0}
	sid := model.ShardID{Index: model.IndexID{Name: "idx"}, ShardIndex: 0}

	cloneEntry := &model.SnapshotEntry{
		Snapshot: model.Snapshot{Repository: "repo1", SnapshotID: model.SnapshotID{Name: "clone1"}},
		State:    model.SnapshotStateStarted,
		Source:   model.SnapshotID{Name: "source-snap"},
		Clones: map[model.RepositoryShardID]model.ShardSnapshotStatus{
			rsid: {NodeID: "node2", State: model.ShardStateInit},
		},
	}

	waitingSnap := snapEntry("repo1", "waiter-snap", map[model.ShardID]model.ShardSnapshotStatus{
		sid: model.UnassignedQueued("waiting for clone slot"),
	})

	task := shardexec.Task{
		Repository:  "repo1",
		Snapshot:    cloneEntry.Snapshot,
		RepoShardID: &rsid,
		NewStatus:   model.ShardSnapshotStatus{NodeID: "node2", State: model.ShardStateSuccess, Generation: "gen-3"},
	}

	out := shardexec.Apply([]*model.SnapshotEntry{cloneEntry, waitingSnap}, []shardexec.Task{task})
	require.Len(t, out, 2)

	promoted := out[1].Shards[sid]
	assert.False(t, promoted.IsUnassignedQueued())
	assert.Equal(t, model.ShardStateInit, promoted.State)
	assert.Equal(t, "node2", promoted.NodeID)
	assert.Equal(t, "gen-3", promoted.Generation)
}
