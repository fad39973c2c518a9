// Package repository defines the RepositoryDriver interface (component
// C1): the pluggable, content-addressed object store this engine reads
// repository metadata from and writes shard/snapshot blobs to. The core
// orchestration engine never touches a filesystem or object-store SDK
// directly — every durable effect goes through this interface, so the
// engine can be tested against a fake and deployed against any storage
// backend that implements it. See internal/repository/local for a
// reference implementation grounded on the teacher's clone engines.
package repository

import (
	"context"

	"github.com/jvs-project/snapmgr/pkg/model"
)

// Data is the subset of durable repository metadata the engine needs:
// the current write generation and the per-shard generations recorded
// by prior finalizations, keyed by repository-shard so both normal
// snapshots and clones can look up "what generation is this shard
// currently at".
type Data struct {
	Generation       int64
	Snapshots        []model.SnapshotID
	ShardGenerations map[model.RepositoryShardID]string
}

// GenerationFor returns the recorded generation for shard, or
// model.NewShardGen if the shard has never been written.
func (d *Data) GenerationFor(shard model.RepositoryShardID) string {
	if d == nil {
		return model.NewShardGen
	}
	if gen, ok := d.ShardGenerations[shard]; ok {
		return gen
	}
	return model.NewShardGen
}

// FinalizeRequest carries everything FinalizeSnapshot needs to persist a
// completed (or partially completed) snapshot's metadata and shard
// generations in one repository-side transaction.
type FinalizeRequest struct {
	Snapshot model.Snapshot

	Info *model.SnapshotInfo

	// ShardGenerations records the generation each shard was written
	// under during this snapshot, keyed by repository-shard.
	ShardGenerations map[model.RepositoryShardID]string

	// ExpectedGeneration is the repository generation this finalize was
	// admitted against (invariant 3); the driver must reject the write
	// if the on-disk generation has since advanced past it.
	ExpectedGeneration int64

	// RepositoryMetaVersion gates which metadata format to write
	// (section 4.5's SHARD_GEN_IN_REPO_DATA and friends).
	RepositoryMetaVersion int
}

// CloneShardRequest carries one shard's worth of clone work: copy the
// blob(s) for shard from source into target's namespace at the driver's
// discretion.
type CloneShardRequest struct {
	Repository string
	Source     model.SnapshotID
	Target     model.SnapshotID
	Shard      model.RepositoryShardID
	Generation string
}

// Driver is the RepositoryDriver consumed interface (section 6). All
// methods may block on I/O and must never be called while holding a
// cluster-state or OngoingOps lock (section 5).
type Driver interface {
	// GetRepositoryData reads the current durable repository metadata.
	GetRepositoryData(ctx context.Context) (*Data, error)

	// ExecuteConsistentStateUpdate runs fn with exclusive repository
	// access, retrying internally if fn observes a stale generation due
	// to a concurrent writer, and returns the generation the update was
	// committed under.
	ExecuteConsistentStateUpdate(ctx context.Context, fn func(*Data) error) (int64, error)

	// GetSnapshotInfo reads the finalized SnapshotInfo for id.
	GetSnapshotInfo(ctx context.Context, id model.SnapshotID) (*model.SnapshotInfo, error)

	// GetSnapshotIndexMetadata reads the shard count and other
	// index-level metadata id recorded for index, as of repository state
	// data.
	GetSnapshotIndexMetadata(ctx context.Context, data *Data, id model.SnapshotID, index model.IndexID) (*model.IndexMetadata, error)

	// GetSnapshotGlobalMetadata reads id's cluster-level user metadata.
	GetSnapshotGlobalMetadata(ctx context.Context, id model.SnapshotID) (map[string]any, error)

	// InitializeSnapshot writes the legacy pre-STARTED metadata marker
	// used by legacyCreate (section 4.5, gated below NO_REPO_INITIALIZE).
	InitializeSnapshot(ctx context.Context, id model.SnapshotID, indices []model.IndexID, meta map[string]any) error

	// FinalizeSnapshot durably writes req's SnapshotInfo and shard
	// generations, returning the finalized info (with EndTimeMs filled
	// in) and the repository generation the write landed at.
	FinalizeSnapshot(ctx context.Context, req FinalizeRequest) (*model.SnapshotInfo, int64, error)

	// DeleteSnapshots removes ids' data from the repository.
	// repoMetaVersion gates whether more than one id may be deleted in a
	// single call (section 4.5's MULTI_DELETE).
	DeleteSnapshots(ctx context.Context, ids []model.SnapshotID, expectedGeneration int64, repoMetaVersion int) (int64, error)

	// CloneShardSnapshot copies one shard's blob data from source to
	// target and returns the generation the clone was written under.
	CloneShardSnapshot(ctx context.Context, req CloneShardRequest) (string, error)
}
