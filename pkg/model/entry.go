package model

import "time"

// SnapshotState is the lifecycle state of a SnapshotEntry as a whole.
type SnapshotState string

const (
	SnapshotStateInit    SnapshotState = "INIT"
	SnapshotStateStarted SnapshotState = "STARTED"
	SnapshotStateAborted SnapshotState = "ABORTED"
	SnapshotStateFailed  SnapshotState = "FAILED"
	SnapshotStateSuccess SnapshotState = "SUCCESS"
)

// Completed reports whether the entry as a whole has reached a terminal
// state and is eligible for finalization / removal from cluster state.
func (s SnapshotState) Completed() bool {
	switch s {
	case SnapshotStateAborted, SnapshotStateFailed, SnapshotStateSuccess:
		return true
	default:
		return false
	}
}

// SnapshotEntry is one in-flight create or clone, as carried in the
// SnapshotsInProgress section of cluster state. Exactly one of Shards or
// Clones is populated, matching the normal-snapshot / clone distinction in
// the data model.
type SnapshotEntry struct {
	Snapshot Snapshot

	IncludeGlobalState bool
	Partial            bool
	State              SnapshotState

	Indices     []IndexID
	DataStreams []string

	StartTimeMs int64

	// RepoGeneration is the repository generation observed when this
	// entry was admitted (invariant 3).
	RepoGeneration int64

	UserMetadata map[string]any

	// RepositoryMetaVersion is min(minPeerVersion, minRepoVersion) chosen
	// at admission time (step 6 of createSnapshot).
	RepositoryMetaVersion int

	// Shards holds per-shard status for a normal snapshot. Nil for clones.
	Shards map[ShardID]ShardSnapshotStatus

	// Clones holds per-repository-shard status for a clone. Nil for
	// normal snapshots.
	Clones map[RepositoryShardID]ShardSnapshotStatus

	// Source is the snapshot this clone was created from. Zero value for
	// normal snapshots.
	Source SnapshotID

	Failure string
}

// IsClone reports whether this entry represents a clone rather than a
// normal snapshot.
func (e *SnapshotEntry) IsClone() bool {
	return e.Clones != nil
}

// AllShardsCompleted reports whether every shard (or clone target) this
// entry tracks has reached a terminal ShardState. An entry with no shards
// at all (e.g. an empty index set) is vacuously complete.
func (e *SnapshotEntry) AllShardsCompleted() bool {
	if e.IsClone() {
		for _, st := range e.Clones {
			if !st.State.Completed() {
				return false
			}
		}
		return true
	}
	for _, st := range e.Shards {
		if !st.State.Completed() {
			return false
		}
	}
	return true
}

// ShardCounts tallies outcomes across this entry's shards, used when
// deriving the terminal SnapshotState and the finalized SnapshotInfo.
func (e *SnapshotEntry) ShardCounts() (total, successful, failed int) {
	if e.IsClone() {
		for _, st := range e.Clones {
			total++
			switch {
			case st.State == ShardStateSuccess:
				successful++
			case st.State.Completed():
				failed++
			}
		}
		return
	}
	for _, st := range e.Shards {
		total++
		switch {
		case st.State == ShardStateSuccess:
			successful++
		case st.State.Completed():
			failed++
		}
	}
	return
}

// StartTime returns StartTimeMs as a time.Time for display/logging.
func (e *SnapshotEntry) StartTime() time.Time {
	return time.UnixMilli(e.StartTimeMs)
}
