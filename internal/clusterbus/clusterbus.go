// Package clusterbus defines the ClusterStateBus interface (component
// C2): the consensus-replicated cluster-state update queue this engine
// is a consumer of, never an implementer of. Every write this engine
// makes to SnapshotsInProgress/SnapshotDeletionsInProgress goes through
// SubmitUpdate; every read of applied state comes from an Applier
// callback registered with AddApplier. See internal/clusterbus/memory
// for a single-process reference implementation used by tests and the
// standalone daemon.
package clusterbus

import (
	"context"
	"time"

	"github.com/jvs-project/snapmgr/pkg/model"
)

// Priority orders pending tasks within the update queue; lower values run
// first. Urgent is reserved for cluster-manager-loss handling.
type Priority int

const (
	PriorityUrgent Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

// Task is one proposed cluster-state mutation, matching section 6's
// consumed-interface shape: `submitUpdate(source, task)` where task has
// `execute`, `onFailure`, `clusterStateProcessed`, optional
// `onNoLongerClusterManager`, `priority`, `timeout`.
type Task struct {
	// Source identifies the caller for logging/metrics, e.g.
	// "create_snapshot [r:s1]".
	Source string

	// Execute computes the new state from current. Returning an error
	// aborts the task with no state change; Execute must not block on
	// I/O or acquire any other component's lock.
	Execute func(current *model.ClusterState) (*model.ClusterState, error)

	// OnFailure is invoked if Execute returns an error, or if the
	// resulting state fails to publish for a reason other than loss of
	// cluster-manager status.
	OnFailure func(source string, err error)

	// ClusterStateProcessed is invoked once the new state has been
	// published and applied.
	ClusterStateProcessed func(source string, previous, current *model.ClusterState)

	// OnNoLongerClusterManager, if set, is invoked instead of OnFailure
	// when this node loses cluster-manager status before the task could
	// be applied.
	OnNoLongerClusterManager func(source string)

	Priority Priority
	Timeout  time.Duration
}

// Applier is notified after every applied cluster-state change.
// nodesDelta is true if Nodes changed; routingChanged is true if
// RoutingTable changed — both flags let ReactiveUpdater skip work when
// neither changed.
type Applier func(previous, current *model.ClusterState, nodesDelta, routingChanged bool)

// Bus is the ClusterStateBus consumed interface.
type Bus interface {
	// SubmitUpdate enqueues task. It returns once the task is queued,
	// not once it's applied; completion is reported via the task's own
	// callbacks. ctx cancellation only affects queueing, not a task
	// already handed to the executor goroutine.
	SubmitUpdate(ctx context.Context, task Task)

	// AddApplier registers a listener invoked after every applied
	// change, in registration order.
	AddApplier(applier Applier)

	// State returns the most recently applied cluster state.
	State() *model.ClusterState
}
