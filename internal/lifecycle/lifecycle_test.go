package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jvs-project/snapmgr/internal/clusterbus/memory"
	"github.com/jvs-project/snapmgr/internal/lifecycle"
	"github.com/jvs-project/snapmgr/internal/listener"
	"github.com/jvs-project/snapmgr/internal/ongoingops"
	"github.com/jvs-project/snapmgr/internal/repoloop"
	"github.com/jvs-project/snapmgr/internal/repository"
	"github.com/jvs-project/snapmgr/internal/shardexec"
	"github.com/jvs-project/snapmgr/pkg/errclass"
	"github.com/jvs-project/snapmgr/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	mu sync.Mutex

	data      repository.Data
	infos     map[model.SnapshotID]*model.SnapshotInfo
	finalized []repository.FinalizeRequest
	deleted   [][]model.SnapshotID
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		data:  repository.Data{ShardGenerations: map[model.RepositoryShardID]string{}},
		infos: map[model.SnapshotID]*model.SnapshotInfo{},
	}
}

func (f *fakeDriver) GetRepositoryData(ctx context.Context) (*repository.Data, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.data
	return &d, nil
}

func (f *fakeDriver) ExecuteConsistentStateUpdate(ctx context.Context, fn func(*repository.Data) error) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := fn(&f.data); err != nil {
		return 0, err
	}
	f.data.Generation++
	return f.data.Generation, nil
}

func (f *fakeDriver) GetSnapshotInfo(ctx context.Context, id model.SnapshotID) (*model.SnapshotInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.infos[id]
	if !ok {
		return nil, errclass.ErrSnapshotMissing.WithMessagef("snapshot %q not found", id.Name)
	}
	return info, nil
}

func (f *fakeDriver) GetSnapshotIndexMetadata(ctx context.Context, data *repository.Data, id model.SnapshotID, index model.IndexID) (*model.IndexMetadata, error) {
	return &model.IndexMetadata{Index: index, NumberOfShards: 1}, nil
}

func (f *fakeDriver) GetSnapshotGlobalMetadata(ctx context.Context, id model.SnapshotID) (map[string]any, error) {
	return nil, nil
}

func (f *fakeDriver) InitializeSnapshot(ctx context.Context, id model.SnapshotID, indices []model.IndexID, meta map[string]any) error {
	return nil
}

func (f *fakeDriver) FinalizeSnapshot(ctx context.Context, req repository.FinalizeRequest) (*model.SnapshotInfo, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := *req.Info
	info.EndTimeMs = info.StartTimeMs + 1
	f.infos[req.Snapshot.SnapshotID] = &info
	f.data.Snapshots = append(f.data.Snapshots, req.Snapshot.SnapshotID)
	for k, v := range req.ShardGenerations {
		f.data.ShardGenerations[k] = v
	}
	f.data.Generation++
	f.finalized = append(f.finalized, req)
	return &info, f.data.Generation, nil
}

func (f *fakeDriver) DeleteSnapshots(ctx context.Context, ids []model.SnapshotID, expectedGeneration int64, repoMetaVersion int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ids)
	var kept []model.SnapshotID
	for _, id := range f.data.Snapshots {
		remove := false
		for _, want := range ids {
			if id == want {
				remove = true
			}
		}
		if !remove {
			kept = append(kept, id)
		}
	}
	f.data.Snapshots = kept
	f.data.Generation++
	return f.data.Generation, nil
}

func (f *fakeDriver) CloneShardSnapshot(ctx context.Context, req repository.CloneShardRequest) (string, error) {
	return "cloned-gen", nil
}

type harness struct {
	engine    *lifecycle.Engine
	bus       *memory.Bus
	driver    *fakeDriver
	listeners *listener.Registry
}

func newHarness(t *testing.T, initial *model.ClusterState) *harness {
	t.Helper()
	bus := memory.New(initial)
	bus.SetClusterManager(true)
	t.Cleanup(bus.Close)

	driver := newFakeDriver()
	lsn := listener.NewRegistry()
	loop := repoloop.New()
	ongoing := ongoingops.New()

	eng := lifecycle.New(bus, driver, ongoing, lsn, loop, "local-node", func() int { return 1000 })
	return &harness{engine: eng, bus: bus, driver: driver, listeners: lsn}
}

func idx(name string) model.IndexID { return model.IndexID{Name: name, UUID: name + "-uuid"} }

func TestCreateSnapshot_EmptyIndexSetFinalizesImmediately(t *testing.T) {
	h := newHarness(t, model.NewClusterState())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	info, err := h.engine.ExecuteSnapshot(ctx, lifecycle.CreateRequest{Repository: "repo1", Name: "s1"})
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, model.SnapshotStateSuccess, info.State)
	assert.Equal(t, 0, info.TotalShards)
}

func TestCreateSnapshot_RejectsDuplicateName(t *testing.T) {
	h := newHarness(t, model.NewClusterState())
	ctx := context.Background()

	_, err := h.engine.CreateSnapshot(ctx, lifecycle.CreateRequest{Repository: "repo1", Name: "dup"})
	require.NoError(t, err)

	_, err = h.engine.CreateSnapshot(ctx, lifecycle.CreateRequest{Repository: "repo1", Name: "dup"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errclass.ErrInvalidSnapshotName))
}

func TestCreateSnapshot_PartialFalseWithMissingShardRejected(t *testing.T) {
	state := model.NewClusterState()
	index := idx("i1")
	state.IndicesMeta[index] = model.IndexMetadata{Index: index, NumberOfShards: 1}
	// No routing entry for shard 0: primary unassigned -> MISSING.

	h := newHarness(t, state)
	_, err := h.engine.CreateSnapshot(context.Background(), lifecycle.CreateRequest{
		Repository: "repo1",
		Name:       "s1",
		Indices:    []model.IndexID{index},
		Partial:    false,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errclass.ErrSnapshotException))
}

func TestInnerUpdateSnapshotState_CompletesEntryAndFinalizes(t *testing.T) {
	index := idx("i1")
	sid := model.ShardID{Index: index, ShardIndex: 0}
	state := model.NewClusterState()
	state.IndicesMeta[index] = model.IndexMetadata{Index: index, NumberOfShards: 1}
	state.RoutingTable[sid] = model.ShardRouting{ShardID: sid, NodeID: "n1", State: model.ShardRoutingStarted}

	h := newHarness(t, state)
	ctx := context.Background()

	snap, err := h.engine.CreateSnapshot(ctx, lifecycle.CreateRequest{
		Repository: "repo1",
		Name:       "s1",
		Indices:    []model.IndexID{index},
	})
	require.NoError(t, err)

	ch := make(chan *model.SnapshotInfo, 1)
	h.listeners.AddSnapshotListener(snap, func(info *model.SnapshotInfo, err error) {
		require.NoError(t, err)
		ch <- info
	})

	err = h.engine.InnerUpdateSnapshotState(ctx, []shardexec.Task{{
		Repository: "repo1",
		Snapshot:   snap,
		ShardID:    &sid,
		NewStatus:  model.ShardSnapshotStatus{NodeID: "n1", State: model.ShardStateSuccess, Generation: "g1"},
	}})
	require.NoError(t, err)

	select {
	case info := <-ch:
		assert.Equal(t, model.SnapshotStateSuccess, info.State)
		assert.Equal(t, 1, info.TotalShards)
		assert.Equal(t, 1, info.SuccessfulShards)
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot never finalized")
	}
}

func TestDeleteSnapshots_NoMatchesSucceedsImmediately(t *testing.T) {
	h := newHarness(t, model.NewClusterState())
	err := h.engine.DeleteSnapshots(context.Background(), lifecycle.DeleteRequest{
		Repository: "repo1",
		Names:      []string{"nothing-here"},
	})
	assert.NoError(t, err)
}

func TestDeleteSnapshots_AbortsRunningEntryUnderConcurrency(t *testing.T) {
	index := idx("i1")
	sid := model.ShardID{Index: index, ShardIndex: 0}
	state := model.NewClusterState()
	state.IndicesMeta[index] = model.IndexMetadata{Index: index, NumberOfShards: 1}
	state.RoutingTable[sid] = model.ShardRouting{ShardID: sid, NodeID: "n1", State: model.ShardRoutingInitializing}

	h := newHarness(t, state)
	ctx := context.Background()

	snap, err := h.engine.CreateSnapshot(ctx, lifecycle.CreateRequest{
		Repository: "repo1",
		Name:       "running",
		Indices:    []model.IndexID{index},
		Partial:    true,
	})
	require.NoError(t, err)

	ch := make(chan *model.SnapshotInfo, 1)
	h.listeners.AddSnapshotListener(snap, func(info *model.SnapshotInfo, err error) {
		require.NoError(t, err)
		ch <- info
	})

	err = h.engine.DeleteSnapshots(ctx, lifecycle.DeleteRequest{Repository: "repo1", Names: []string{"running"}})
	require.NoError(t, err)

	select {
	case info := <-ch:
		require.NotNil(t, info)
		assert.Equal(t, model.SnapshotStateAborted, info.State)
	case <-time.After(2 * time.Second):
		t.Fatal("aborted snapshot was never finalized")
	}
}

func TestDeleteSnapshots_PromotesWaitingDeletionOnceWriterIsGone(t *testing.T) {
	index := idx("i1")
	sid := model.ShardID{Index: index, ShardIndex: 0}
	state := model.NewClusterState()
	state.IndicesMeta[index] = model.IndexMetadata{Index: index, NumberOfShards: 1}
	state.RoutingTable[sid] = model.ShardRouting{ShardID: sid, NodeID: "n1", State: model.ShardRoutingInitializing}

	h := newHarness(t, state)
	ctx := context.Background()

	old, err := h.engine.ExecuteSnapshot(ctx, lifecycle.CreateRequest{Repository: "repo1", Name: "old"})
	require.NoError(t, err)
	require.Equal(t, model.SnapshotStateSuccess, old.State)

	_, err = h.engine.CreateSnapshot(ctx, lifecycle.CreateRequest{
		Repository: "repo1",
		Name:       "writer",
		Indices:    []model.IndexID{index},
		Partial:    true,
	})
	require.NoError(t, err)

	deleteDone := make(chan error, 1)
	go func() {
		deleteDone <- h.engine.DeleteSnapshots(context.Background(), lifecycle.DeleteRequest{Repository: "repo1", Names: []string{"old"}})
	}()

	require.Eventually(t, func() bool {
		del := h.bus.State().DeletionsForRepo("repo1")
		return len(del) == 1 && del[0].State == model.DeletionStateWaiting
	}, 2*time.Second, 10*time.Millisecond, "deletion never admitted as WAITING behind the running writer")

	abortDone := make(chan error, 1)
	go func() {
		abortCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		abortDone <- h.engine.DeleteSnapshots(abortCtx, lifecycle.DeleteRequest{Repository: "repo1", Names: []string{"writer"}})
	}()

	select {
	case err := <-abortDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("delete request for the writer entry never completed")
	}

	select {
	case err := <-deleteDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiting deletion was never promoted and completed once its writer was aborted")
	}

	assert.Empty(t, h.bus.State().DeletionsForRepo("repo1"))
}

func TestCloneSnapshot_RejectsSourceWithFailedIndex(t *testing.T) {
	index := idx("i1")
	sid := model.ShardID{Index: index, ShardIndex: 0}
	state := model.NewClusterState()
	state.MinPeerVersion = model.CloneSnapshot
	state.IndicesMeta[index] = model.IndexMetadata{Index: index, NumberOfShards: 1}
	state.RoutingTable[sid] = model.ShardRouting{ShardID: sid, NodeID: "n1", State: model.ShardRoutingStarted}

	h := newHarness(t, state)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	source, err := h.engine.CreateSnapshot(ctx, lifecycle.CreateRequest{
		Repository: "repo1",
		Name:       "source",
		Indices:    []model.IndexID{index},
		Partial:    true,
	})
	require.NoError(t, err)

	err = h.engine.InnerUpdateSnapshotState(ctx, []shardexec.Task{{
		Repository: "repo1",
		Snapshot:   source,
		ShardID:    &sid,
		NewStatus:  model.ShardSnapshotStatus{NodeID: "n1", State: model.ShardStateFailed, Reason: "disk error"},
	}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		info, err := h.driver.GetSnapshotInfo(ctx, source.SnapshotID)
		return err == nil && info.Failed()
	}, 2*time.Second, 10*time.Millisecond, "source snapshot never finalized as failed")

	info, err := h.engine.ExecuteClone(ctx, lifecycle.CloneRequest{
		Repository: "repo1",
		Name:       "clone1",
		Source:     source.SnapshotID,
		Indices:    []model.IndexID{index},
	})
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, model.SnapshotStateFailed, info.State)
}

func TestCloneSnapshot_RejectsMissingSource(t *testing.T) {
	h := newHarness(t, model.NewClusterState())
	_, err := h.engine.CloneSnapshot(context.Background(), lifecycle.CloneRequest{
		Repository: "repo1",
		Name:       "clone1",
		Source:     model.SnapshotID{Name: "nope", UUID: "nope-uuid"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errclass.ErrSnapshotMissing))
}
