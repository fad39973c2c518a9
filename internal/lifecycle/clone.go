package lifecycle

import (
	"context"
	"time"

	"github.com/jvs-project/snapmgr/internal/repository"
	"github.com/jvs-project/snapmgr/internal/shardexec"
	"github.com/jvs-project/snapmgr/pkg/errclass"
	"github.com/jvs-project/snapmgr/pkg/model"
	"github.com/jvs-project/snapmgr/pkg/pathutil"
)

// CloneRequest is cloneSnapshot's input (section 4.1.2).
type CloneRequest struct {
	Repository string
	Name       string
	Source     model.SnapshotID
	Indices    []model.IndexID
}

// CloneSnapshot implements cloneSnapshot: admits the clone synchronously
// (the same name/concurrency/limit checks as CreateSnapshot, plus
// rejecting a source currently being deleted), then resolves shard counts
// and kicks off the per-shard copy work asynchronously (section 4.1.2,
// steps 2-3) since that requires I/O the admission closure cannot do.
func (e *Engine) CloneSnapshot(ctx context.Context, req CloneRequest) (model.Snapshot, error) {
	if err := pathutil.ValidateSnapshotName(req.Name); err != nil {
		return model.Snapshot{}, err
	}

	data, err := e.driver.GetRepositoryData(ctx)
	if err != nil {
		return model.Snapshot{}, errclass.ErrRepositoryException.WithMessagef("read repository data: %v", err)
	}
	found := false
	for _, id := range data.Snapshots {
		if id == req.Source {
			found = true
			break
		}
	}
	if !found {
		return model.Snapshot{}, errclass.ErrSnapshotMissing.WithMessagef("source snapshot %q not found in repository", req.Source.Name)
	}

	snapshotID := model.SnapshotID{Name: req.Name, UUID: model.NewSnapshotUUID()}
	snap := model.Snapshot{Repository: req.Repository, SnapshotID: snapshotID}

	_, _, err = e.submitSync(ctx, "clone_snapshot["+req.Repository+":"+req.Name+"]", func(current *model.ClusterState) (*model.ClusterState, error) {
		if current.MinPeerVersion < model.CloneSnapshot {
			return nil, errclass.ErrSnapshotException.WithMessage("cloneSnapshot requires every peer at or above the CLONE_SNAPSHOT version")
		}

		for _, existing := range current.EntriesForRepo(req.Repository) {
			if existing.Snapshot.SnapshotID.Name == req.Name {
				return nil, errclass.ErrInvalidSnapshotName.WithMessagef("snapshot %q already running", req.Name)
			}
			if existing.Snapshot.SnapshotID == req.Source && !existing.State.Completed() {
				return nil, errclass.ErrConcurrentSnapshotExecution.WithMessagef("source snapshot %q has an operation in progress", req.Source.Name)
			}
		}
		for _, del := range current.DeletionsForRepo(req.Repository) {
			if del.Contains(req.Source) {
				return nil, errclass.ErrConcurrentSnapshotExecution.WithMessagef("source snapshot %q is being deleted", req.Source.Name)
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

		entry := &model.SnapshotEntry{
			Snapshot:              snap,
			State:                  model.SnapshotStateStarted,
			Indices:                req.Indices,
			StartTimeMs:            time.Now().UnixMilli(),
			RepoGeneration:         data.Generation,
			RepositoryMetaVersion:  current.MinPeerVersion,
			Clones:                 map[model.RepositoryShardID]model.ShardSnapshotStatus{},
			Source:                 req.Source,
		}
		return current.WithSnapshotEntries(append(append([]*model.SnapshotEntry{}, current.SnapshotsInProgress...), entry)), nil
	})
	e.recordAdmission(err == nil)
	if err != nil {
		return model.Snapshot{}, err
	}
	e.auditEvent(model.EventTypeCloneCreate, req.Repository, snap.SnapshotID.UUID, map[string]any{"name": req.Name, "source": req.Source.Name})
	if e.webhook != nil {
		_ = e.webhook.SendCloneStarted(req.Repository, req.Name, true)
	}

	go e.prepareClone(context.Background(), snap, req.Source, req.Indices, data)
	return snap, nil
}

// ExecuteClone admits the clone exactly as CloneSnapshot does, then
// blocks until the clone finalizes, for callers (cmd/snapmgrctl) that
// need a synchronous clone rather than CloneSnapshot's fire-and-forget
// admission.
func (e *Engine) ExecuteClone(ctx context.Context, req CloneRequest) (*model.SnapshotInfo, error) {
	snap, err := e.CloneSnapshot(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.awaitSnapshot(ctx, snap)
}

// prepareClone resolves each requested index's shard count against the
// source snapshot and proposes a second update filling in entry.Clones,
// then (once applied) starts the per-shard copy workers.
func (e *Engine) prepareClone(ctx context.Context, snap model.Snapshot, source model.SnapshotID, indices []model.IndexID, data *repository.Data) {
	fail := func(reason string) {
		e.failClone(ctx, snap, reason)
	}

	sourceInfo, err := e.driver.GetSnapshotInfo(ctx, source)
	if err != nil {
		fail("read source snapshot info: " + err.Error())
		return
	}
	requested := make(map[model.IndexID]bool, len(indices))
	for _, index := range indices {
		requested[index] = true
	}
	for _, failure := range sourceInfo.Failures {
		if requested[failure.Index] {
			fail("source snapshot failed on index " + failure.Index.Name + ": " + failure.Reason)
			return
		}
	}

	clones := map[model.RepositoryShardID]model.ShardSnapshotStatus{}
	for _, index := range indices {
		meta, err := e.driver.GetSnapshotIndexMetadata(ctx, data, source, index)
		if err != nil {
			fail("read source index metadata: " + err.Error())
			return
		}
		for shardIndex := 0; shardIndex < meta.NumberOfShards; shardIndex++ {
			rsid := model.RepositoryShardID{Index: index, ShardIndex: shardIndex}
			clones[rsid] = model.ShardSnapshotStatus{State: model.ShardStateInit, Generation: data.GenerationFor(rsid)}
		}
	}

	_, cur, err := e.submitSync(ctx, "resolve_clone["+snap.Repository+":"+snap.SnapshotID.Name+"]", func(current *model.ClusterState) (*model.ClusterState, error) {
		entries := make([]*model.SnapshotEntry, len(current.SnapshotsInProgress))
		found := false
		for i, en := range current.SnapshotsInProgress {
			if en.Snapshot == snap {
				ne := *en
				ne.Clones = clones
				entries[i] = &ne
				found = true
				continue
			}
			entries[i] = en
		}
		if !found {
			return current, nil
		}
		return current.WithSnapshotEntries(entries), nil
	})
	if err != nil {
		e.listeners.NotifySnapshot(snap, nil, err)
		return
	}

	entry := cur.FindEntry(snap)
	if entry == nil {
		return
	}
	if entry.AllShardsCompleted() {
		e.ongoing.EnqueueFinalization(snap.Repository, snap)
		e.kick(snap.Repository)
		return
	}

	for rsid, status := range entry.Clones {
		if status.State != model.ShardStateInit {
			continue
		}
		go e.runCloneShard(snap, source, rsid, status.Generation)
	}
}

// runCloneShard copies one shard's blob data and reports the outcome
// through the same InnerUpdateSnapshotState path the data-node RPC
// handler uses for normal shard snapshots, keeping the ShardStateExecutor
// batch reducer (component C4) as the single point where shard status
// transitions are applied.
func (e *Engine) runCloneShard(snap model.Snapshot, source model.SnapshotID, rsid model.RepositoryShardID, generation string) {
	gen, err := e.driver.CloneShardSnapshot(context.Background(), repository.CloneShardRequest{
		Repository: snap.Repository,
		Source:     source,
		Target:     snap.SnapshotID,
		Shard:      rsid,
		Generation: generation,
	})

	status := model.ShardSnapshotStatus{State: model.ShardStateSuccess, Generation: gen}
	if err != nil {
		status = model.ShardSnapshotStatus{State: model.ShardStateFailed, Reason: err.Error()}
	}

	_ = e.InnerUpdateSnapshotState(context.Background(), []shardexec.Task{{
		Repository:  snap.Repository,
		Snapshot:    snap,
		RepoShardID: &rsid,
		NewStatus:   status,
	}})
}

// failClone marks snap's entry FAILED with reason and schedules
// finalization, used when prepareClone cannot read the source snapshot's
// info or index metadata, or the source failed on a requested index.
func (e *Engine) failClone(ctx context.Context, snap model.Snapshot, reason string) {
	_, cur, err := e.submitSync(ctx, "fail_clone["+snap.Repository+":"+snap.SnapshotID.Name+"]", func(current *model.ClusterState) (*model.ClusterState, error) {
		entries := make([]*model.SnapshotEntry, len(current.SnapshotsInProgress))
		found := false
		for i, en := range current.SnapshotsInProgress {
			if en.Snapshot == snap {
				ne := *en
				ne.State = model.SnapshotStateFailed
				ne.Failure = reason
				entries[i] = &ne
				found = true
				continue
			}
			entries[i] = en
		}
		if !found {
			return current, nil
		}
		return current.WithSnapshotEntries(entries), nil
	})
	if err != nil {
		e.listeners.NotifySnapshot(snap, nil, err)
		return
	}
	if cur.FindEntry(snap) != nil {
		e.ongoing.EnqueueFinalization(snap.Repository, snap)
		e.kick(snap.Repository)
	}
}
