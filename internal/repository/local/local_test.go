package local_test

import (
	"context"
	"testing"

	"github.com/jvs-project/snapmgr/internal/engine"
	"github.com/jvs-project/snapmgr/internal/repository"
	"github.com/jvs-project/snapmgr/internal/repository/local"
	"github.com/jvs-project/snapmgr/pkg/errclass"
	"github.com/jvs-project/snapmgr/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDriver(t *testing.T) *local.Driver {
	t.Helper()
	d, err := local.New(t.TempDir(), engine.NewCopyEngine(), 2)
	require.NoError(t, err)
	return d
}

func TestGetRepositoryData_Empty(t *testing.T) {
	d := newDriver(t)
	data, err := d.GetRepositoryData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), data.Generation)
	assert.Empty(t, data.Snapshots)
}

func TestExecuteConsistentStateUpdate_BumpsGeneration(t *testing.T) {
	d := newDriver(t)

	gen, err := d.ExecuteConsistentStateUpdate(context.Background(), func(data *repository.Data) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)

	data, err := d.GetRepositoryData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), data.Generation)
}

func TestFinalizeSnapshot_WritesAndReadsInfo(t *testing.T) {
	d := newDriver(t)

	snap := model.Snapshot{Repository: "repo1", SnapshotID: model.SnapshotID{Name: "s1", UUID: "uuid-1"}}
	info, gen, err := d.FinalizeSnapshot(context.Background(), repository.FinalizeRequest{
		Snapshot: snap,
		Info: &model.SnapshotInfo{
			SnapshotID:       snap.SnapshotID,
			Repository:       snap.Repository,
			State:            model.SnapshotStateSuccess,
			TotalShards:      2,
			SuccessfulShards: 2,
		},
		ExpectedGeneration: -1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
	assert.NotZero(t, info.EndTimeMs)

	got, err := d.GetSnapshotInfo(context.Background(), snap.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, model.SnapshotStateSuccess, got.State)
	assert.Equal(t, 2, got.TotalShards)
}

func TestGetSnapshotInfo_MissingReturnsSnapshotMissing(t *testing.T) {
	d := newDriver(t)
	_, err := d.GetSnapshotInfo(context.Background(), model.SnapshotID{Name: "nope", UUID: "u"})
	require.ErrorIs(t, err, errclass.ErrSnapshotMissing)
}

func TestDeleteSnapshots_RemovesEntry(t *testing.T) {
	d := newDriver(t)
	snap := model.Snapshot{Repository: "repo1", SnapshotID: model.SnapshotID{Name: "s1", UUID: "uuid-1"}}
	_, _, err := d.FinalizeSnapshot(context.Background(), repository.FinalizeRequest{
		Snapshot:           snap,
		Info:               &model.SnapshotInfo{SnapshotID: snap.SnapshotID, Repository: snap.Repository},
		ExpectedGeneration: -1,
	})
	require.NoError(t, err)

	_, err = d.DeleteSnapshots(context.Background(), []model.SnapshotID{snap.SnapshotID}, 1, model.MultiDelete)
	require.NoError(t, err)

	data, err := d.GetRepositoryData(context.Background())
	require.NoError(t, err)
	assert.Empty(t, data.Snapshots)

	_, err = d.GetSnapshotInfo(context.Background(), snap.SnapshotID)
	assert.Error(t, err)
}

func TestDeleteSnapshots_RejectsMultiWithoutPeerVersion(t *testing.T) {
	d := newDriver(t)
	ids := []model.SnapshotID{{Name: "a", UUID: "a"}, {Name: "b", UUID: "b"}}
	_, err := d.DeleteSnapshots(context.Background(), ids, 0, model.MultiDelete-1)
	require.Error(t, err)
}

func TestCloneShardSnapshot_EmptySourceProducesEmptyGeneration(t *testing.T) {
	d := newDriver(t)
	idx := model.IndexID{Name: "idx", UUID: "idx-uuid"}
	newGen, err := d.CloneShardSnapshot(context.Background(), repository.CloneShardRequest{
		Repository: "repo1",
		Source:      model.SnapshotID{Name: "src", UUID: "src-uuid"},
		Target:      model.SnapshotID{Name: "tgt", UUID: "tgt-uuid"},
		Shard:       model.RepositoryShardID{Index: idx, ShardIndex: 0},
		Generation:  model.NewShardGen,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, newGen)
	assert.NotEqual(t, model.NewShardGen, newGen)
}
