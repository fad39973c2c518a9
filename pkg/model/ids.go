// Package model defines the wire and cluster-state types shared across the
// snapshot orchestration engine: snapshot/shard identity, the in-progress
// entries cluster state carries, and the peer-version constants that gate
// backward-compatible behavior.
package model

import "github.com/google/uuid"

// SnapshotID identifies a single snapshot within a repository: a
// human-chosen name plus a globally unique UUID minted at admission time.
type SnapshotID struct {
	Name string
	UUID string
}

// NewSnapshotUUID mints a new globally unique snapshot/deletion UUID.
func NewSnapshotUUID() string {
	return uuid.NewString()
}

// Snapshot is a SnapshotID bound to the repository it lives in.
type Snapshot struct {
	Repository string
	SnapshotID SnapshotID
}

// IndexID identifies an index by name and a UUID stable across renames.
type IndexID struct {
	Name string
	UUID string
}

// ShardID is a runtime routing coordinate: an index plus a shard number.
type ShardID struct {
	Index      IndexID
	ShardIndex int
}

// RepositoryShardID is the repository-persistent coordinate for a shard,
// used by clones which reference repository data rather than live routing.
type RepositoryShardID struct {
	Index      IndexID
	ShardIndex int
}

// NewShardGen is the sentinel shard generation used the first time a shard
// is written to a repository, before any prior generation exists.
const NewShardGen = "_new"

// UnassignedQueuedNode is the sentinel node id recorded on a
// ShardSnapshotStatus in state QUEUED to mean "no node assigned yet,
// waiting on another operation to release this shard".
const UnassignedQueuedNode = ""
