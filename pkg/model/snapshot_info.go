package model

// ShardFailure records one shard's failure reason in a finalized
// SnapshotInfo.
type ShardFailure struct {
	Index      IndexID
	ShardIndex int
	NodeID     string
	Reason     string
}

// SnapshotInfo is the durable record written by RepoLoop finalization and
// delivered to completion listeners. It is the payload persisted by
// RepositoryDriver.FinalizeSnapshot and returned by ExecuteSnapshot.
type SnapshotInfo struct {
	SnapshotID SnapshotID
	Repository string

	State SnapshotState

	Indices     []IndexID
	DataStreams []string

	IncludeGlobalState bool

	StartTimeMs int64
	EndTimeMs   int64

	TotalShards      int
	SuccessfulShards int
	Failures         []ShardFailure

	UserMetadata map[string]any
}

// Failed reports whether any shard failed to snapshot, used to choose
// between SUCCESS (zero failures, or partial with partial=true) and
// FAILED at finalization time.
func (i *SnapshotInfo) Failed() bool {
	return len(i.Failures) > 0
}
