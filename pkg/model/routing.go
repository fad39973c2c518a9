package model

// ShardRoutingState is the lifecycle state of a primary shard's routing
// entry, as tracked by the routing table component of cluster state.
type ShardRoutingState string

const (
	ShardRoutingUnassigned  ShardRoutingState = "UNASSIGNED"
	ShardRoutingInitializing ShardRoutingState = "INITIALIZING"
	ShardRoutingRelocating  ShardRoutingState = "RELOCATING"
	ShardRoutingStarted     ShardRoutingState = "STARTED"
)

// ShardRouting is the routing-table entry for one primary shard: which
// node (if any) currently hosts it and what lifecycle state it is in.
type ShardRouting struct {
	ShardID ShardID
	NodeID  string
	State   ShardRoutingState
}

// Unassigned reports whether this shard currently has no hosting node.
func (r ShardRouting) Unassigned() bool {
	return r.State == ShardRoutingUnassigned
}

// IndexMetadata is the subset of index metadata the engine needs: whether
// the index still exists and how many primary shards it has.
type IndexMetadata struct {
	Index        IndexID
	NumberOfShards int
}

// Node is a cluster member, referenced by shard assignments and removed
// from RoutingTable/Nodes together when it leaves the cluster.
type Node struct {
	ID      string
	Name    string
	Version int
}
