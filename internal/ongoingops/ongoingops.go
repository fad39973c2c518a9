// Package ongoingops tracks, per repository, the work RepoLoop (C6) has
// yet to run: snapshots/clones waiting to be finalized and the deletion
// (if any) currently holding that repository's exclusive write slot.
// This is pure bookkeeping guarded by a single mutex (component C3);
// it never performs I/O itself.
package ongoingops

import (
	"sync"

	"github.com/jvs-project/snapmgr/pkg/model"
)

// Tracker holds the per-repository queues. The zero value is not usable;
// use New.
type Tracker struct {
	mu sync.Mutex

	// pendingFinalizations holds, per repository, the snapshots whose
	// shards have all completed and are waiting for RepoLoop to run
	// their finalize step.
	pendingFinalizations map[string][]model.Snapshot

	// runningDeletion holds, per repository, the deletion UUID currently
	// running (STARTED and actively executing DeleteSnapshots), if any.
	runningDeletion map[string]string
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{
		pendingFinalizations: map[string][]model.Snapshot{},
		runningDeletion:      map[string]string{},
	}
}

// EnqueueFinalization adds snap to repo's pending finalization queue,
// unless it is already present.
func (t *Tracker) EnqueueFinalization(repo string, snap model.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.pendingFinalizations[repo] {
		if s == snap {
			return
		}
	}
	t.pendingFinalizations[repo] = append(t.pendingFinalizations[repo], snap)
}

// PopFinalization removes and returns the next pending finalization for
// repo, in FIFO order. ok is false if none are queued.
func (t *Tracker) PopFinalization(repo string) (snap model.Snapshot, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	queue := t.pendingFinalizations[repo]
	if len(queue) == 0 {
		return model.Snapshot{}, false
	}
	snap, queue = queue[0], queue[1:]
	if len(queue) == 0 {
		delete(t.pendingFinalizations, repo)
	} else {
		t.pendingFinalizations[repo] = queue
	}
	return snap, true
}

// RemoveFinalization removes snap from repo's pending queue without
// running it, used when a snapshot is aborted before RepoLoop reaches it.
func (t *Tracker) RemoveFinalization(repo string, snap model.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	queue := t.pendingFinalizations[repo]
	for i, s := range queue {
		if s == snap {
			t.pendingFinalizations[repo] = append(queue[:i], queue[i+1:]...)
			if len(t.pendingFinalizations[repo]) == 0 {
				delete(t.pendingFinalizations, repo)
			}
			return
		}
	}
}

// HasPendingFinalization reports whether repo has any finalization
// waiting to run.
func (t *Tracker) HasPendingFinalization(repo string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pendingFinalizations[repo]) > 0
}

// SetRunningDeletion records that deletionUUID now holds repo's
// exclusive write slot.
func (t *Tracker) SetRunningDeletion(repo, deletionUUID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runningDeletion[repo] = deletionUUID
}

// ClearRunningDeletion releases repo's exclusive write slot.
func (t *Tracker) ClearRunningDeletion(repo string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.runningDeletion, repo)
}

// RunningDeletion returns the deletion UUID currently running against
// repo, if any.
func (t *Tracker) RunningDeletion(repo string) (uuid string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	uuid, ok = t.runningDeletion[repo]
	return
}
