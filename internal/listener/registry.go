// Package listener implements the completion-listener bookkeeping
// (component C8): callers waiting on a snapshot or deletion to finish
// get notified exactly once, whether that happens because the operation
// completed normally or because this node lost cluster-manager status.
package listener

import (
	"sync"

	"github.com/jvs-project/snapmgr/pkg/errclass"
	"github.com/jvs-project/snapmgr/pkg/model"
)

// SnapshotListener is invoked once with the finalized SnapshotInfo, or
// with a non-nil error if the snapshot failed before finalization.
type SnapshotListener func(info *model.SnapshotInfo, err error)

// DeletionListener is invoked once when the deletion identified by its
// UUID completes or fails.
type DeletionListener func(err error)

// Registry maps in-flight snapshots and deletions to the listeners
// waiting on them. All methods are safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	snapshots map[model.Snapshot][]SnapshotListener
	deletions map[string][]DeletionListener
}

// NewRegistry creates an empty listener registry.
func NewRegistry() *Registry {
	return &Registry{
		snapshots: map[model.Snapshot][]SnapshotListener{},
		deletions: map[string][]DeletionListener{},
	}
}

// AddSnapshotListener registers l to be called when snap completes.
func (r *Registry) AddSnapshotListener(snap model.Snapshot, l SnapshotListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[snap] = append(r.snapshots[snap], l)
}

// AddDeletionListener registers l to be called when the deletion
// identified by uuid completes.
func (r *Registry) AddDeletionListener(uuid string, l DeletionListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletions[uuid] = append(r.deletions[uuid], l)
}

// NotifySnapshot fires and clears every listener registered for snap.
// Called with the monitor lock (OngoingOps) already released, per
// section 5: never invoke a listener while holding a shared lock.
func (r *Registry) NotifySnapshot(snap model.Snapshot, info *model.SnapshotInfo, err error) {
	r.mu.Lock()
	ls := r.snapshots[snap]
	delete(r.snapshots, snap)
	r.mu.Unlock()

	for _, l := range ls {
		l(info, err)
	}
}

// NotifyDeletion fires and clears every listener registered for the
// deletion identified by uuid.
func (r *Registry) NotifyDeletion(uuid string, err error) {
	r.mu.Lock()
	ls := r.deletions[uuid]
	delete(r.deletions, uuid)
	r.mu.Unlock()

	for _, l := range ls {
		l(err)
	}
}

// FailAllListenersOnMasterFailOver fires every still-registered listener
// with errclass.ErrNotClusterManager and clears the registry. Called
// when this node observes losing cluster-manager status; no further
// progress on any in-flight operation can be guaranteed once that
// happens, so every waiter needs to be told to retry against whichever
// node becomes cluster-manager next.
func (r *Registry) FailAllListenersOnMasterFailOver() {
	r.mu.Lock()
	snapshots := r.snapshots
	deletions := r.deletions
	r.snapshots = map[model.Snapshot][]SnapshotListener{}
	r.deletions = map[string][]DeletionListener{}
	r.mu.Unlock()

	for _, ls := range snapshots {
		for _, l := range ls {
			l(nil, errclass.ErrNotClusterManager)
		}
	}
	for _, ls := range deletions {
		for _, l := range ls {
			l(errclass.ErrNotClusterManager)
		}
	}
}
