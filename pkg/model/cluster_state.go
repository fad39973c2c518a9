package model

// ClusterState is the full consensus-replicated document this engine reads
// and proposes updates to. Only the two custom sections the engine owns
// (SnapshotsInProgress, SnapshotDeletionsInProgress) plus the ambient
// cluster facts it reacts to (Nodes, RoutingTable, IndicesMetadata,
// RepoGenerations) are modeled; everything else about cluster state
// (settings, templates, blocks, ...) is out of scope.
//
// ClusterState is treated as immutable once published: every mutation
// produces a new *ClusterState via Clone() + field replacement, never an
// in-place edit, so that ClusterStateApplier callbacks can safely diff
// (previous, current) without racing a concurrent writer.
type ClusterState struct {
	Version int64

	SnapshotsInProgress         []*SnapshotEntry
	SnapshotDeletionsInProgress []*DeletionEntry

	Nodes         map[string]*Node
	RoutingTable  map[ShardID]ShardRouting
	IndicesMeta   map[IndexID]IndexMetadata
	RepoGenerations map[string]int64

	// MinPeerVersion is the minimum protocol version observed across all
	// nodes in the cluster, used for the version gating in spec section
	// 4.5. It tracks Nodes but is carried separately since real cluster
	// state derives it from discovery-protocol handshakes this engine
	// doesn't perform itself.
	MinPeerVersion int
}

// NewClusterState returns an empty, ready-to-use cluster state.
func NewClusterState() *ClusterState {
	return &ClusterState{
		Nodes:           map[string]*Node{},
		RoutingTable:    map[ShardID]ShardRouting{},
		IndicesMeta:     map[IndexID]IndexMetadata{},
		RepoGenerations: map[string]int64{},
		MinPeerVersion:  FullConcurrency,
	}
}

// Clone returns a shallow copy of the state with fresh top-level slices
// and maps, so a caller can safely append/replace entries without
// mutating the original. Entry pointers themselves are treated as
// immutable once placed in cluster state: callers replace, not edit.
func (s *ClusterState) Clone() *ClusterState {
	c := &ClusterState{
		Version:         s.Version,
		MinPeerVersion:  s.MinPeerVersion,
		SnapshotsInProgress:         make([]*SnapshotEntry, len(s.SnapshotsInProgress)),
		SnapshotDeletionsInProgress: make([]*DeletionEntry, len(s.SnapshotDeletionsInProgress)),
		Nodes:           make(map[string]*Node, len(s.Nodes)),
		RoutingTable:    make(map[ShardID]ShardRouting, len(s.RoutingTable)),
		IndicesMeta:     make(map[IndexID]IndexMetadata, len(s.IndicesMeta)),
		RepoGenerations: make(map[string]int64, len(s.RepoGenerations)),
	}
	copy(c.SnapshotsInProgress, s.SnapshotsInProgress)
	copy(c.SnapshotDeletionsInProgress, s.SnapshotDeletionsInProgress)
	for k, v := range s.Nodes {
		c.Nodes[k] = v
	}
	for k, v := range s.RoutingTable {
		c.RoutingTable[k] = v
	}
	for k, v := range s.IndicesMeta {
		c.IndicesMeta[k] = v
	}
	for k, v := range s.RepoGenerations {
		c.RepoGenerations[k] = v
	}
	return c
}

// EntriesForRepo returns the SnapshotsInProgress entries belonging to repo,
// in admission order (cluster state always appends, never reorders).
func (s *ClusterState) EntriesForRepo(repo string) []*SnapshotEntry {
	var out []*SnapshotEntry
	for _, e := range s.SnapshotsInProgress {
		if e.Snapshot.Repository == repo {
			out = append(out, e)
		}
	}
	return out
}

// DeletionsForRepo returns the deletion entries belonging to repo, in
// admission order.
func (s *ClusterState) DeletionsForRepo(repo string) []*DeletionEntry {
	var out []*DeletionEntry
	for _, d := range s.SnapshotDeletionsInProgress {
		if d.Repository == repo {
			out = append(out, d)
		}
	}
	return out
}

// StartedDeletionForRepo returns the (at most one, invariant 1) STARTED
// deletion for repo, or nil.
func (s *ClusterState) StartedDeletionForRepo(repo string) *DeletionEntry {
	for _, d := range s.DeletionsForRepo(repo) {
		if d.State == DeletionStateStarted {
			return d
		}
	}
	return nil
}

// FindEntry returns the SnapshotsInProgress entry for snap, or nil.
func (s *ClusterState) FindEntry(snap Snapshot) *SnapshotEntry {
	for _, e := range s.SnapshotsInProgress {
		if e.Snapshot == snap {
			return e
		}
	}
	return nil
}

// WithSnapshotEntries returns a clone of s with SnapshotsInProgress
// replaced.
func (s *ClusterState) WithSnapshotEntries(entries []*SnapshotEntry) *ClusterState {
	c := s.Clone()
	c.SnapshotsInProgress = entries
	return c
}

// WithDeletionEntries returns a clone of s with SnapshotDeletionsInProgress
// replaced.
func (s *ClusterState) WithDeletionEntries(entries []*DeletionEntry) *ClusterState {
	c := s.Clone()
	c.SnapshotDeletionsInProgress = entries
	return c
}
