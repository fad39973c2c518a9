package model

// ShardState is the lifecycle state of one shard within a snapshot or
// clone entry.
type ShardState string

const (
	ShardStateInit                  ShardState = "INIT"
	ShardStateWaiting               ShardState = "WAITING"
	ShardStateQueued                ShardState = "QUEUED"
	ShardStateSuccess               ShardState = "SUCCESS"
	ShardStateFailed                ShardState = "FAILED"
	ShardStateMissing               ShardState = "MISSING"
	ShardStateAborted               ShardState = "ABORTED"
	ShardStatePausedForNodeRemoval  ShardState = "PAUSED_FOR_NODE_REMOVAL"
)

// Completed reports whether this shard requires no further action: it has
// reached a terminal outcome and cannot be mutated by further shard status
// updates or reactive rules.
func (s ShardState) Completed() bool {
	switch s {
	case ShardStateSuccess, ShardStateFailed, ShardStateMissing, ShardStateAborted:
		return true
	default:
		return false
	}
}

// Active reports whether a node is actively working this shard right now.
func (s ShardState) Active() bool {
	return s == ShardStateInit
}

// ShardSnapshotStatus is the per-shard state carried inside a
// SnapshotEntry's shards or clones map.
type ShardSnapshotStatus struct {
	// NodeID is the data node currently (or formerly) assigned to this
	// shard. Empty for QUEUED (see UnassignedQueuedNode) and for shard
	// states that never had a node, such as MISSING.
	NodeID string

	State ShardState

	// Reason explains a non-SUCCESS terminal state, e.g. "node shutdown"
	// or "primary shard is not allocated".
	Reason string

	// Generation is the repository-side shard generation this status was
	// (or will be) written under. Empty until known.
	Generation string
}

// Unassigned returns the QUEUED sentinel status used when a shard must
// wait because another operation in the same repository currently holds
// it. See invariant 2 in the data model: a shard is UNASSIGNED_QUEUED in
// at most one active entry per repository.
func UnassignedQueued(reason string) ShardSnapshotStatus {
	return ShardSnapshotStatus{
		NodeID: UnassignedQueuedNode,
		State:  ShardStateQueued,
		Reason: reason,
	}
}

// IsUnassignedQueued reports whether this status is the QUEUED sentinel
// (queued with no node assigned, as opposed to a shard that was queued and
// later promoted but not yet persisted).
func (s ShardSnapshotStatus) IsUnassignedQueued() bool {
	return s.State == ShardStateQueued && s.NodeID == UnassignedQueuedNode
}
