package model

// Peer version gate thresholds (spec section 4.5). Real deployments carry
// these as per-release constants bumped once every node in the cluster is
// known to support the corresponding feature; here they are plain integers
// so tests can construct arbitrary MinPeerVersion values.
const (
	// NoRepoInitialize is the version at and above which createSnapshot no
	// longer needs to pre-write repository metadata before transitioning
	// to STARTED (the legacy path skips this optimization).
	NoRepoInitialize = 10

	// FullConcurrency is the version at and above which multiple
	// snapshots and deletions may coexist against the same repository
	// (concurrentCreate, as opposed to legacyCreate).
	FullConcurrency = 20

	// CloneSnapshot is the version at and above which cloneSnapshot is
	// supported at all.
	CloneSnapshot = 30

	// ShardGenInRepoData is the version at and above which per-shard
	// generations are recorded in repository data rather than inferred.
	ShardGenInRepoData = 40

	// MultiDelete is the version at and above which a single delete
	// request may target more than one snapshot at once.
	MultiDelete = 50
)

// ConcurrencyAllowed reports whether the concurrentCreate code path may be
// used given the minimum peer version currently observed in cluster state.
func ConcurrencyAllowed(minPeerVersion int) bool {
	return minPeerVersion >= FullConcurrency
}
