package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/jvs-project/snapmgr/internal/repository"
	"github.com/jvs-project/snapmgr/pkg/errclass"
	"github.com/jvs-project/snapmgr/pkg/model"
)

// step is the repoloop.Step this engine hands to RepoLoop.Kick, matching
// section 4.3's selection order: pop the next pending finalization and
// run it; if none, run a STARTED deletion if one exists and isn't
// already running; otherwise report false so the loop leaves repo.
// Step exposes step as a repoloop.Step for callers (cmd/snapmgrd's
// periodic re-drive) that need to pass it to repoloop.Loop.Kick/RunPeriodic
// directly rather than through Engine.Kick.
//
// runFinalize and runDeletion both promote a repo's oldest WAITING
// deletion to STARTED in the same state transition that removes the
// entry blocking it (promoteWaitingDeletion), so a WAITING deletion left
// behind by an aborted/finalized entry becomes visible to
// StartedDeletionForRepo by the time the repoloop.Loop worker's own
// `for step(){}` re-invokes step right after runFinalize/runDeletion
// returns true — no separate kick is needed while that worker is still
// running.
func (e *Engine) Step(ctx context.Context, repo string) bool { return e.step(ctx, repo) }

func (e *Engine) step(ctx context.Context, repo string) bool {
	if snap, ok := e.ongoing.PopFinalization(repo); ok {
		e.runFinalize(ctx, repo, snap)
		return true
	}

	state := e.bus.State()
	if del := state.StartedDeletionForRepo(repo); del != nil {
		if _, running := e.ongoing.RunningDeletion(repo); !running {
			e.runDeletion(ctx, repo, del)
			return true
		}
	}
	return false
}

// runFinalize writes snap's finalized SnapshotInfo via the repository
// driver, removes its entry from cluster state, and notifies listeners.
func (e *Engine) runFinalize(ctx context.Context, repo string, snap model.Snapshot) {
	state := e.bus.State()
	entry := state.FindEntry(snap)
	if entry == nil {
		return
	}

	info, shardGens := buildSnapshotInfo(entry)
	started := time.Now()

	finalized, _, err := e.driver.FinalizeSnapshot(ctx, repository.FinalizeRequest{
		Snapshot:              snap,
		Info:                  info,
		ShardGenerations:      shardGens,
		ExpectedGeneration:    entry.RepoGeneration,
		RepositoryMetaVersion: entry.RepositoryMetaVersion,
	})
	if err != nil {
		e.listeners.NotifySnapshot(snap, nil, err)
		return
	}

	_, _, err = e.submitSync(ctx, "remove_snapshot_entry["+repo+":"+snap.SnapshotID.Name+"]", func(current *model.ClusterState) (*model.ClusterState, error) {
		var kept []*model.SnapshotEntry
		for _, en := range current.SnapshotsInProgress {
			if en.Snapshot != snap {
				kept = append(kept, en)
			}
		}
		next := current.WithSnapshotEntries(kept)
		if promoted := promoteWaitingDeletion(next, repo); promoted != nil {
			next = next.WithDeletionEntries(promoted)
		}
		return next, nil
	})
	if err != nil {
		if errors.Is(err, errclass.ErrNotClusterManager) {
			e.notifyClusterManagerLoss(repo)
			e.listeners.FailAllListenersOnMasterFailOver()
			return
		}
		e.listeners.NotifySnapshot(snap, nil, err)
		return
	}

	e.auditEvent(model.EventTypeSnapshotFinalize, repo, snap.SnapshotID.UUID, map[string]any{"state": string(finalized.State)})
	e.notifyFinalizeSuccess(repo, finalized, started)
	e.listeners.NotifySnapshot(snap, finalized, nil)
}

// buildSnapshotInfo derives the terminal SnapshotInfo and per-shard
// generation map from a fully-completed entry.
func buildSnapshotInfo(entry *model.SnapshotEntry) (*model.SnapshotInfo, map[model.RepositoryShardID]string) {
	total, successful, _ := entry.ShardCounts()

	finalState := model.SnapshotStateSuccess
	if total > 0 && successful == 0 {
		finalState = model.SnapshotStateFailed
	}
	if entry.State == model.SnapshotStateFailed {
		finalState = model.SnapshotStateFailed
	}
	if entry.State == model.SnapshotStateAborted {
		finalState = model.SnapshotStateAborted
	}

	var failures []model.ShardFailure
	shardGens := map[model.RepositoryShardID]string{}

	if entry.IsClone() {
		for rsid, st := range entry.Clones {
			if st.Generation != "" {
				shardGens[rsid] = st.Generation
			}
			if st.State != model.ShardStateSuccess {
				failures = append(failures, model.ShardFailure{Index: rsid.Index, ShardIndex: rsid.ShardIndex, NodeID: st.NodeID, Reason: st.Reason})
			}
		}
	} else {
		for sid, st := range entry.Shards {
			rsid := model.RepositoryShardID{Index: sid.Index, ShardIndex: sid.ShardIndex}
			if st.Generation != "" {
				shardGens[rsid] = st.Generation
			}
			if st.State != model.ShardStateSuccess {
				failures = append(failures, model.ShardFailure{Index: sid.Index, ShardIndex: sid.ShardIndex, NodeID: st.NodeID, Reason: st.Reason})
			}
		}
	}

	info := &model.SnapshotInfo{
		SnapshotID:         entry.Snapshot.SnapshotID,
		Repository:         entry.Snapshot.Repository,
		State:               finalState,
		Indices:             entry.Indices,
		DataStreams:         entry.DataStreams,
		IncludeGlobalState:  entry.IncludeGlobalState,
		StartTimeMs:         entry.StartTimeMs,
		TotalShards:         total,
		SuccessfulShards:    successful,
		Failures:            failures,
		UserMetadata:        entry.UserMetadata,
	}
	return info, shardGens
}

// runDeletion executes a STARTED deletion against the repository driver,
// then removes its entry from cluster state and notifies listeners.
func (e *Engine) runDeletion(ctx context.Context, repo string, del *model.DeletionEntry) {
	e.ongoing.SetRunningDeletion(repo, del.UUID)
	defer e.ongoing.ClearRunningDeletion(repo)

	data, err := e.driver.GetRepositoryData(ctx)
	if err != nil {
		e.listeners.NotifyDeletion(del.UUID, err)
		return
	}

	state := e.bus.State()
	_, err = e.driver.DeleteSnapshots(ctx, del.SnapshotIDs, data.Generation, state.MinPeerVersion)
	if err != nil {
		e.listeners.NotifyDeletion(del.UUID, err)
		return
	}

	_, _, err = e.submitSync(ctx, "remove_deletion_entry["+repo+":"+del.UUID+"]", func(current *model.ClusterState) (*model.ClusterState, error) {
		var kept []*model.DeletionEntry
		for _, d := range current.SnapshotDeletionsInProgress {
			if d.UUID != del.UUID {
				kept = append(kept, d)
			}
		}
		next := current.WithDeletionEntries(kept)
		if promoted := promoteWaitingDeletion(next, repo); promoted != nil {
			next = next.WithDeletionEntries(promoted)
		}
		return next, nil
	})
	if err != nil {
		if errors.Is(err, errclass.ErrNotClusterManager) {
			e.notifyClusterManagerLoss(repo)
			e.listeners.FailAllListenersOnMasterFailOver()
			return
		}
		e.listeners.NotifyDeletion(del.UUID, err)
		return
	}

	e.auditEvent(model.EventTypeSnapshotDelete, repo, del.UUID, map[string]any{"snapshots": len(del.SnapshotIDs)})
	if e.webhook != nil {
		for _, id := range del.SnapshotIDs {
			_ = e.webhook.SendSnapshotDeleted(repo, id.Name, true)
		}
	}
	e.listeners.NotifyDeletion(del.UUID, nil)
}
