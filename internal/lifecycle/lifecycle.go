// Package lifecycle implements SnapshotLifecycle (component C5): the
// admission checks and state-machine transitions for create, clone, and
// delete operations (spec section 4.1), wired to ClusterStateBus (C2),
// OngoingOps (C3), RepoLoop (C6), and ListenerRegistry (C8).
//
// Every public operation is submitted as a cluster-state update task and
// only acknowledged once the task is applied — admission errors are
// therefore synchronous from the caller's point of view even though the
// underlying bus call is asynchronous, matching section 7's error
// taxonomy ("admission errors... surfaced to caller").
package lifecycle

import (
	"context"
	"path"
	"time"

	"github.com/jvs-project/snapmgr/internal/audit"
	"github.com/jvs-project/snapmgr/internal/clusterbus"
	"github.com/jvs-project/snapmgr/internal/listener"
	"github.com/jvs-project/snapmgr/internal/ongoingops"
	"github.com/jvs-project/snapmgr/internal/repoloop"
	"github.com/jvs-project/snapmgr/internal/repository"
	"github.com/jvs-project/snapmgr/internal/shardexec"
	"github.com/jvs-project/snapmgr/pkg/errclass"
	"github.com/jvs-project/snapmgr/pkg/metrics"
	"github.com/jvs-project/snapmgr/pkg/model"
	"github.com/jvs-project/snapmgr/pkg/pathutil"
	"github.com/jvs-project/snapmgr/pkg/webhook"
)

// Engine is the SnapshotLifecycle reference implementation.
type Engine struct {
	bus       clusterbus.Bus
	driver    repository.Driver
	ongoing   *ongoingops.Tracker
	listeners *listener.Registry
	loop      *repoloop.Loop

	localNodeID string

	// maxConcurrentOperations mirrors snapshot.max_concurrent_operations
	// (section 6): a dynamic setting, re-read on every admission.
	maxConcurrentOperations func() int

	// metrics/audit/webhook are optional ambient collaborators, attached
	// via WithObservability. All three are nil-safe.
	metrics *metrics.Registry
	audit   *audit.FileAppender
	webhook *webhook.Client
}

// New creates a SnapshotLifecycle engine wired to its collaborators.
// maxConcurrentOperations is called fresh on every admission so the
// caller can back it with a dynamic config setting (section 6).
func New(bus clusterbus.Bus, driver repository.Driver, ongoing *ongoingops.Tracker, listeners *listener.Registry, loop *repoloop.Loop, localNodeID string, maxConcurrentOperations func() int) *Engine {
	return &Engine{
		bus:                     bus,
		driver:                  driver,
		ongoing:                 ongoing,
		listeners:               listeners,
		loop:                    loop,
		localNodeID:             localNodeID,
		maxConcurrentOperations: maxConcurrentOperations,
	}
}

// kick resumes repo's RepoLoop worker, starting one if none is active.
func (e *Engine) kick(repo string) {
	e.loop.Kick(context.Background(), repo, e.step)
}

// Kick exposes kick for collaborators outside this package (the
// ReactiveUpdater applier, which enqueues newly-completed entries and
// then needs to wake the relevant RepoLoop workers).
func (e *Engine) Kick(repo string) { e.kick(repo) }

// submitSync bridges clusterbus's callback-style Task into a blocking
// call, since admission errors must be synchronous to the caller.
func (e *Engine) submitSync(ctx context.Context, source string, execute func(*model.ClusterState) (*model.ClusterState, error)) (*model.ClusterState, *model.ClusterState, error) {
	type result struct {
		prev, cur *model.ClusterState
		err       error
	}
	ch := make(chan result, 1)
	e.bus.SubmitUpdate(ctx, clusterbus.Task{
		Source:  source,
		Execute: execute,
		OnFailure: func(source string, err error) {
			ch <- result{err: err}
		},
		OnNoLongerClusterManager: func(source string) {
			ch <- result{err: errclass.ErrNotClusterManager}
		},
		ClusterStateProcessed: func(source string, previous, current *model.ClusterState) {
			ch <- result{prev: previous, cur: current}
		},
	})
	select {
	case r := <-ch:
		return r.prev, r.cur, r.err
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// CreateRequest is createSnapshot's input (section 4.1). Indices and
// DataStreams must already be resolved to concrete identifiers — index
// pattern matching against live cluster metadata is outside this
// component's scope (it belongs to whatever resolves `_all`/wildcards
// against IndicesMeta before calling in).
type CreateRequest struct {
	Repository         string
	Name               string
	Indices            []model.IndexID
	DataStreams        []string
	IncludeGlobalState bool
	Partial            bool
	UserMetadata       map[string]any
}

// CreateSnapshot implements createSnapshot (section 4.1, steps 1-9).
func (e *Engine) CreateSnapshot(ctx context.Context, req CreateRequest) (model.Snapshot, error) {
	if err := pathutil.ValidateSnapshotName(req.Name); err != nil {
		return model.Snapshot{}, err
	}

	data, err := e.driver.GetRepositoryData(ctx)
	if err != nil {
		return model.Snapshot{}, errclass.ErrRepositoryException.WithMessagef("read repository data: %v", err)
	}
	for _, existing := range data.Snapshots {
		if existing.Name == req.Name {
			return model.Snapshot{}, errclass.ErrInvalidSnapshotName.WithMessagef("snapshot %q already exists in repository", req.Name)
		}
	}

	// Legacy pre-STARTED metadata write (section 4.5, below
	// NO_REPO_INITIALIZE) happens outside the state-update closure since
	// it is I/O and Execute must not block (section 5). This peek at
	// current bus state is inherently racy against a concurrent peer
	// version change; acceptable for a reference engine since the legacy
	// path only exists for backward compatibility with old peers, not a
	// steady-state hot path.
	peek := e.bus.State()
	if !model.ConcurrencyAllowed(peek.MinPeerVersion) && peek.MinPeerVersion < model.NoRepoInitialize {
		if err := e.driver.InitializeSnapshot(ctx, model.SnapshotID{Name: req.Name}, req.Indices, req.UserMetadata); err != nil {
			return model.Snapshot{}, errclass.ErrRepositoryException.WithMessagef("initialize snapshot: %v", err)
		}
	}

	snapshotID := model.SnapshotID{Name: req.Name, UUID: model.NewSnapshotUUID()}
	snap := model.Snapshot{Repository: req.Repository, SnapshotID: snapshotID}

	_, cur, err := e.submitSync(ctx, "create_snapshot["+req.Repository+":"+req.Name+"]", func(current *model.ClusterState) (*model.ClusterState, error) {
		for _, existing := range current.EntriesForRepo(req.Repository) {
			if existing.Snapshot.SnapshotID.Name == req.Name {
				return nil, errclass.ErrInvalidSnapshotName.WithMessagef("snapshot %q already running", req.Name)
			}
		}

		concurrencyAllowed := model.ConcurrencyAllowed(current.MinPeerVersion)
		if !concurrencyAllowed {
			if len(current.EntriesForRepo(req.Repository)) > 0 || len(current.DeletionsForRepo(req.Repository)) > 0 {
				return nil, errclass.ErrConcurrentSnapshotExecution.WithMessage("legacy peers require serial execution per repository")
			}
		}

		if len(current.SnapshotsInProgress)+len(current.SnapshotDeletionsInProgress) >= e.maxConcurrentOperations() {
			return nil, errclass.ErrConcurrentSnapshotExecution.WithMessage("max_concurrent_operations exceeded")
		}

		for _, id := range req.Indices {
			if _, ok := current.IndicesMeta[id]; !ok {
				return nil, errclass.ErrSnapshotException.WithMessagef("index %s not found", id.Name)
			}
		}

		shards, hasMissing := assignShards(current, req.Repository, req.Indices, data.ShardGenerations)
		if hasMissing && !req.Partial {
			return nil, errclass.ErrSnapshotException.WithMessage("cannot snapshot with missing shards unless partial=true")
		}

		entry := &model.SnapshotEntry{
			Snapshot:              snap,
			IncludeGlobalState:    req.IncludeGlobalState,
			Partial:               req.Partial,
			State:                 model.SnapshotStateStarted,
			Indices:               req.Indices,
			DataStreams:           req.DataStreams,
			StartTimeMs:           time.Now().UnixMilli(),
			RepoGeneration:        data.Generation,
			UserMetadata:          req.UserMetadata,
			RepositoryMetaVersion: current.MinPeerVersion,
			Shards:                shards,
		}
		settleEntryState(entry)

		return current.WithSnapshotEntries(append(append([]*model.SnapshotEntry{}, current.SnapshotsInProgress...), entry)), nil
	})
	e.recordAdmission(err == nil)
	if err != nil {
		return model.Snapshot{}, err
	}
	e.auditEvent(model.EventTypeSnapshotCreate, req.Repository, snap.SnapshotID.UUID, map[string]any{"name": req.Name, "partial": req.Partial})

	if entry := cur.FindEntry(snap); entry != nil && entry.AllShardsCompleted() {
		e.ongoing.EnqueueFinalization(req.Repository, snap)
		e.kick(req.Repository)
	}

	return snap, nil
}

// settleEntryState sets entry.State to a terminal state when its shards
// are already all complete at creation time (e.g. an empty index set, or
// every shard immediately MISSING under partial=true).
func settleEntryState(entry *model.SnapshotEntry) {
	if !entry.AllShardsCompleted() {
		return
	}
	total, successful, _ := entry.ShardCounts()
	if total == 0 || successful > 0 {
		entry.State = model.SnapshotStateSuccess
		return
	}
	entry.State = model.SnapshotStateFailed
}

type snapshotResult struct {
	info *model.SnapshotInfo
	err  error
}

// ExecuteSnapshot implements executeSnapshot: admits the snapshot exactly
// as CreateSnapshot does, then blocks until the snapshot finalizes.
func (e *Engine) ExecuteSnapshot(ctx context.Context, req CreateRequest) (*model.SnapshotInfo, error) {
	snap, err := e.CreateSnapshot(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.awaitSnapshot(ctx, snap)
}

func (e *Engine) awaitSnapshot(ctx context.Context, snap model.Snapshot) (*model.SnapshotInfo, error) {
	ch := make(chan snapshotResult, 1)
	e.listeners.AddSnapshotListener(snap, func(info *model.SnapshotInfo, err error) {
		ch <- snapshotResult{info: info, err: err}
	})
	select {
	case r := <-ch:
		return r.info, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DeleteRequest is deleteSnapshots' input. Names may contain glob
// patterns (path.Match syntax); "*" or "_all" matches every snapshot in
// the repository.
type DeleteRequest struct {
	Repository string
	Names      []string
}

// DeleteSnapshots implements deleteSnapshots (section 4.1).
func (e *Engine) DeleteSnapshots(ctx context.Context, req DeleteRequest) error {
	data, err := e.driver.GetRepositoryData(ctx)
	if err != nil {
		return errclass.ErrRepositoryException.WithMessagef("read repository data: %v", err)
	}

	var deletionUUID string
	var alreadyExisted bool
	var abortedSnaps []model.Snapshot
	var forceAbortedSnaps []model.Snapshot

	_, _, err = e.submitSync(ctx, "delete_snapshot["+req.Repository+"]", func(current *model.ClusterState) (*model.ClusterState, error) {
		matched := matchSnapshots(current, data, req.Repository, req.Names)
		if len(matched) == 0 {
			return current, nil
		}

		concurrencyAllowed := model.ConcurrencyAllowed(current.MinPeerVersion)
		entries := append([]*model.SnapshotEntry{}, current.SnapshotsInProgress...)

		if concurrencyAllowed {
			kept := entries[:0]
			for _, en := range entries {
				if en.Snapshot.Repository != req.Repository || !containsID(matched, en.Snapshot.SnapshotID) {
					kept = append(kept, en)
					continue
				}
				if en.AllShardsCompleted() {
					abortedSnaps = append(abortedSnaps, en.Snapshot)
					continue
				}
				aborted := abortEntry(en)
				forceAbortedSnaps = append(forceAbortedSnaps, aborted.Snapshot)
				kept = append(kept, aborted)
			}
			entries = kept
		} else {
			if len(current.DeletionsForRepo(req.Repository)) > 0 {
				return nil, errclass.ErrConcurrentSnapshotExecution.WithMessage("a deletion is already in progress for this repository")
			}
			for _, en := range current.EntriesForRepo(req.Repository) {
				if !en.State.Completed() {
					return nil, errclass.ErrConcurrentSnapshotExecution.WithMessage("cannot delete while a snapshot is running against a legacy peer")
				}
			}
		}

		deletions := append([]*model.DeletionEntry{}, current.SnapshotDeletionsInProgress...)
		for i, d := range deletions {
			if d.Repository != req.Repository {
				continue
			}
			if d.State == model.DeletionStateStarted && d.ContainsAll(matched) {
				deletionUUID, alreadyExisted = d.UUID, true
				return current.WithSnapshotEntries(entries), nil
			}
			if d.State == model.DeletionStateWaiting {
				merged := mergeIDs(d.SnapshotIDs, matched)
				deletions[i] = &model.DeletionEntry{
					UUID: d.UUID, Repository: d.Repository, SnapshotIDs: merged,
					StartTimeMs: d.StartTimeMs, RepoGeneration: d.RepoGeneration, State: d.State,
				}
				deletionUUID, alreadyExisted = d.UUID, true
				return current.WithSnapshotEntries(entries).WithDeletionEntries(deletions), nil
			}
		}

		newState := model.DeletionStateStarted
		if repoHasWriter(current, req.Repository) {
			newState = model.DeletionStateWaiting
		}
		newDeletion := &model.DeletionEntry{
			UUID:           model.NewSnapshotUUID(),
			Repository:     req.Repository,
			SnapshotIDs:    matched,
			StartTimeMs:    time.Now().UnixMilli(),
			RepoGeneration: data.Generation,
			State:          newState,
		}
		deletionUUID = newDeletion.UUID
		deletions = append(deletions, newDeletion)
		return current.WithSnapshotEntries(entries).WithDeletionEntries(deletions), nil
	})
	e.recordAdmission(err == nil)
	if err != nil {
		return err
	}
	if deletionUUID != "" {
		e.auditEvent(model.EventTypeSnapshotDelete, req.Repository, deletionUUID, map[string]any{"names": req.Names})
	}

	for _, s := range abortedSnaps {
		e.listeners.NotifySnapshot(s, nil, errclass.ErrSnapshotException.WithMessage("aborted by concurrent delete"))
	}

	for _, s := range forceAbortedSnaps {
		e.ongoing.EnqueueFinalization(s.Repository, s)
		e.kick(s.Repository)
	}

	if deletionUUID == "" {
		return nil
	}

	ch := make(chan error, 1)
	e.listeners.AddDeletionListener(deletionUUID, func(err error) { ch <- err })

	if !alreadyExisted {
		e.kick(req.Repository)
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// abortEntry marks every non-completed shard/clone of en ABORTED and
// returns a copy with State set to ABORTED.
func abortEntry(en *model.SnapshotEntry) *model.SnapshotEntry {
	ne := *en
	ne.State = model.SnapshotStateAborted
	if en.IsClone() {
		clones := make(map[model.RepositoryShardID]model.ShardSnapshotStatus, len(en.Clones))
		for k, v := range en.Clones {
			if !v.State.Completed() {
				v = model.ShardSnapshotStatus{NodeID: v.NodeID, State: model.ShardStateAborted, Reason: "aborted by concurrent delete"}
			}
			clones[k] = v
		}
		ne.Clones = clones
		return &ne
	}
	shards := make(map[model.ShardID]model.ShardSnapshotStatus, len(en.Shards))
	for k, v := range en.Shards {
		if !v.State.Completed() {
			v = model.ShardSnapshotStatus{NodeID: v.NodeID, State: model.ShardStateAborted, Reason: "aborted by concurrent delete"}
		}
		shards[k] = v
	}
	ne.Shards = shards
	return &ne
}

func containsID(ids []model.SnapshotID, id model.SnapshotID) bool {
	for _, want := range ids {
		if want == id {
			return true
		}
	}
	return false
}

func mergeIDs(a, b []model.SnapshotID) []model.SnapshotID {
	out := append([]model.SnapshotID{}, a...)
	for _, id := range b {
		if !containsID(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// matchSnapshots resolves names (glob patterns, "*"/"_all" meaning
// everything) against both in-progress entries and the repository's
// finalized snapshot catalogue for repo.
func matchSnapshots(current *model.ClusterState, data *repository.Data, repo string, names []string) []model.SnapshotID {
	all := map[model.SnapshotID]bool{}
	for _, en := range current.EntriesForRepo(repo) {
		all[en.Snapshot.SnapshotID] = true
	}
	for _, id := range data.Snapshots {
		all[id] = true
	}

	var out []model.SnapshotID
	for id := range all {
		for _, pattern := range names {
			if pattern == "*" || pattern == "_all" {
				out = append(out, id)
				break
			}
			if ok, _ := path.Match(pattern, id.Name); ok {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// repoHasWriter reports whether some other write currently holds repo
// exclusively (a STARTED deletion, or invariant 7's "another entry is
// currently writing"), meaning a new deletion must start WAITING.
func repoHasWriter(current *model.ClusterState, repo string) bool {
	if current.StartedDeletionForRepo(repo) != nil {
		return true
	}
	for _, en := range current.EntriesForRepo(repo) {
		if !en.State.Completed() {
			return true
		}
	}
	return false
}

// promoteWaitingDeletion re-checks repoHasWriter against current (which
// must already reflect whatever entry removal just happened) and, if
// repo no longer has a writer, flips its oldest WAITING deletion to
// STARTED. Returns the updated SnapshotDeletionsInProgress slice, or nil
// if nothing was promoted. Called from the same state transition that
// removes a finalized entry or a completed deletion so that a WAITING
// deletion admitted behind that entry is promoted the moment its
// blocking writer is actually gone, not left stuck until some unrelated
// cluster-state change happens to re-evaluate it.
func promoteWaitingDeletion(current *model.ClusterState, repo string) []*model.DeletionEntry {
	if repoHasWriter(current, repo) {
		return nil
	}
	for _, d := range current.DeletionsForRepo(repo) {
		if d.State != model.DeletionStateWaiting {
			continue
		}
		deletions := append([]*model.DeletionEntry{}, current.SnapshotDeletionsInProgress...)
		for i, d2 := range deletions {
			if d2.UUID == d.UUID {
				promoted := *d2
				promoted.State = model.DeletionStateStarted
				deletions[i] = &promoted
				break
			}
		}
		return deletions
	}
	return nil
}

// InnerUpdateSnapshotState implements innerUpdateSnapshotState: the
// data-node RPC handler's entry point for reporting shard status, folded
// through the ShardStateExecutor batch reducer (component C4) in a
// single cluster-state transition.
func (e *Engine) InnerUpdateSnapshotState(ctx context.Context, tasks []shardexec.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	_, cur, err := e.submitSync(ctx, "update_snapshot_state", func(current *model.ClusterState) (*model.ClusterState, error) {
		updated := shardexec.Apply(current.SnapshotsInProgress, tasks)
		return current.WithSnapshotEntries(updated), nil
	})
	if err != nil {
		return err
	}

	repos := map[string]bool{}
	for _, t := range tasks {
		repos[t.Repository] = true
	}
	for repo := range repos {
		for _, en := range cur.EntriesForRepo(repo) {
			if !en.State.Completed() && en.AllShardsCompleted() {
				e.ongoing.EnqueueFinalization(repo, en.Snapshot)
			}
		}
		e.kick(repo)
	}
	return nil
}

// CurrentSnapshots implements currentSnapshots: read-only listing with
// name/glob filtering and "_all" repository wildcard.
func (e *Engine) CurrentSnapshots(state *model.ClusterState, repo string, names []string) []*model.SnapshotEntry {
	var out []*model.SnapshotEntry
	for _, en := range state.SnapshotsInProgress {
		if repo != "" && repo != "_all" && en.Snapshot.Repository != repo {
			continue
		}
		if len(names) == 0 {
			out = append(out, en)
			continue
		}
		for _, pattern := range names {
			if pattern == "*" || pattern == "_all" {
				out = append(out, en)
				break
			}
			if ok, _ := path.Match(pattern, en.Snapshot.SnapshotID.Name); ok {
				out = append(out, en)
				break
			}
		}
	}
	return out
}

// SnapshottingIndices implements snapshottingIndices: which of
// candidates currently have an in-progress (non-completed) entry
// referencing them, used by delete/close paths to reject conflicting
// requests.
func (e *Engine) SnapshottingIndices(state *model.ClusterState, candidates []model.IndexID) []model.IndexID {
	want := map[model.IndexID]bool{}
	for _, c := range candidates {
		want[c] = true
	}
	seen := map[model.IndexID]bool{}
	var out []model.IndexID
	for _, en := range state.SnapshotsInProgress {
		if en.State.Completed() {
			continue
		}
		for _, idx := range en.Indices {
			if want[idx] && !seen[idx] {
				seen[idx] = true
				out = append(out, idx)
			}
		}
	}
	return out
}

// SnapshottingDataStreams implements snapshottingDataStreams.
func (e *Engine) SnapshottingDataStreams(state *model.ClusterState, candidates []string) []string {
	want := map[string]bool{}
	for _, c := range candidates {
		want[c] = true
	}
	seen := map[string]bool{}
	var out []string
	for _, en := range state.SnapshotsInProgress {
		if en.State.Completed() {
			continue
		}
		for _, ds := range en.DataStreams {
			if want[ds] && !seen[ds] {
				seen[ds] = true
				out = append(out, ds)
			}
		}
	}
	return out
}

