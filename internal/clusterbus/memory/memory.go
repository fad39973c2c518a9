// Package memory is a single-process reference implementation of
// clusterbus.Bus: one worker goroutine drains a priority queue and
// applies tasks one at a time, exactly as section 5 describes ("the
// engine is logically single-threaded with respect to state
// transitions"). It is grounded on the teacher's webhook worker
// (pkg/webhook.Client: one goroutine draining a channel) generalized
// from a FIFO channel to a priority heap, since the update queue needs
// priority ordering the webhook queue never did.
//
// This implementation is suitable for tests and for a standalone daemon
// with no real multi-node consensus; a production deployment would
// replace it with a bus backed by the cluster's actual consensus layer.
package memory

import (
	"container/heap"
	"context"
	"reflect"
	"sync"

	"github.com/jvs-project/snapmgr/internal/clusterbus"
	"github.com/jvs-project/snapmgr/pkg/errclass"
	"github.com/jvs-project/snapmgr/pkg/model"
)

type queuedTask struct {
	task clusterbus.Task
	ctx  context.Context
	seq  int64
}

type taskHeap []*queuedTask

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority < h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*queuedTask)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Bus is the in-memory reference ClusterStateBus.
type Bus struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    *model.ClusterState
	appliers []clusterbus.Applier
	pending  taskHeap
	nextSeq  int64
	closed   bool
	done     chan struct{}

	isClusterManager     bool
	simulateCommitFailOnce bool
}

// New creates a Bus seeded with initial (or an empty cluster state if
// nil) and starts its worker goroutine.
func New(initial *model.ClusterState) *Bus {
	if initial == nil {
		initial = model.NewClusterState()
	}
	b := &Bus{
		state:            initial,
		isClusterManager: true,
		done:             make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	go b.run()
	return b
}

// Close stops the worker once the pending queue drains. Tasks submitted
// after Close is called are silently dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
	<-b.done
}

// SubmitUpdate implements clusterbus.Bus.
func (b *Bus) SubmitUpdate(ctx context.Context, task clusterbus.Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	qt := &queuedTask{task: task, ctx: ctx, seq: b.nextSeq}
	b.nextSeq++
	heap.Push(&b.pending, qt)
	b.cond.Signal()
}

// AddApplier implements clusterbus.Bus.
func (b *Bus) AddApplier(applier clusterbus.Applier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appliers = append(b.appliers, applier)
}

// State implements clusterbus.Bus.
func (b *Bus) State() *model.ClusterState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SetClusterManager flips whether this bus currently believes it holds
// cluster-manager status. Setting it false causes every task already
// queued, and every task submitted until it is set true again, to be
// failed via OnNoLongerClusterManager (or OnFailure with
// errclass.ErrNotClusterManager if that callback is unset) instead of
// executed. Test-only hook; there is no equivalent on the real bus
// interface because real cluster-manager status is observed, not set.
func (b *Bus) SetClusterManager(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.isClusterManager = v
	b.cond.Broadcast()
}

// IsClusterManager reports whether this bus currently believes it holds
// cluster-manager status, for callers (e.g. internal/reactive's Applier)
// that need to re-check it on every invocation.
func (b *Bus) IsClusterManager() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isClusterManager
}

// SimulateCommitFailure arranges for the next task's publish to fail
// with errclass.ErrFailedToCommitClusterState, as if this node's
// proposed state lost a concurrent commit race. One-shot.
func (b *Bus) SimulateCommitFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.simulateCommitFailOnce = true
}

func (b *Bus) run() {
	defer close(b.done)
	for {
		b.mu.Lock()
		for len(b.pending) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.pending) == 0 && b.closed {
			b.mu.Unlock()
			return
		}
		qt := heap.Pop(&b.pending).(*queuedTask)
		isClusterManager := b.isClusterManager
		commitFail := b.simulateCommitFailOnce
		b.simulateCommitFailOnce = false
		current := b.state
		b.mu.Unlock()

		b.runTask(qt, current, isClusterManager, commitFail)
	}
}

func (b *Bus) runTask(qt *queuedTask, current *model.ClusterState, isClusterManager, commitFail bool) {
	if !isClusterManager {
		if qt.task.OnNoLongerClusterManager != nil {
			qt.task.OnNoLongerClusterManager(qt.task.Source)
		} else if qt.task.OnFailure != nil {
			qt.task.OnFailure(qt.task.Source, errclass.ErrNotClusterManager)
		}
		return
	}

	if qt.ctx != nil {
		select {
		case <-qt.ctx.Done():
			if qt.task.OnFailure != nil {
				qt.task.OnFailure(qt.task.Source, qt.ctx.Err())
			}
			return
		default:
		}
	}

	next, err := qt.task.Execute(current)
	if err != nil {
		if qt.task.OnFailure != nil {
			qt.task.OnFailure(qt.task.Source, err)
		}
		return
	}
	if next == nil {
		next = current
	}

	if commitFail {
		if qt.task.OnFailure != nil {
			qt.task.OnFailure(qt.task.Source, errclass.ErrFailedToCommitClusterState)
		}
		return
	}

	b.mu.Lock()
	previous := b.state
	nodesDelta := !reflect.DeepEqual(previous.Nodes, next.Nodes)
	routingChanged := !reflect.DeepEqual(previous.RoutingTable, next.RoutingTable)
	b.state = next
	appliers := append([]clusterbus.Applier(nil), b.appliers...)
	b.mu.Unlock()

	for _, a := range appliers {
		a(previous, next, nodesDelta, routingChanged)
	}
	if qt.task.ClusterStateProcessed != nil {
		qt.task.ClusterStateProcessed(qt.task.Source, previous, next)
	}
}
