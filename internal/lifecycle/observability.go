package lifecycle

import (
	"time"

	"github.com/jvs-project/snapmgr/internal/audit"
	"github.com/jvs-project/snapmgr/pkg/metrics"
	"github.com/jvs-project/snapmgr/pkg/model"
	"github.com/jvs-project/snapmgr/pkg/webhook"
)

// WithObservability attaches the ambient metrics/audit/webhook
// collaborators to e. Any of the three may be nil, in which case the
// corresponding side effect is skipped; cmd/snapmgrd wires all three,
// tests construct Engine without calling this at all.
func (e *Engine) WithObservability(m *metrics.Registry, a *audit.FileAppender, w *webhook.Client) *Engine {
	e.metrics = m
	e.audit = a
	e.webhook = w
	return e
}

func (e *Engine) recordAdmission(admitted bool) {
	if e.metrics != nil {
		e.metrics.RecordAdmission(admitted)
	}
}

func (e *Engine) auditEvent(eventType model.AuditEventType, repository, snapshotUUID string, details map[string]any) {
	if e.audit == nil {
		return
	}
	_ = e.audit.Append(eventType, repository, snapshotUUID, details)
}

func (e *Engine) notifyClusterManagerLoss(repository string) {
	if e.metrics != nil {
		e.metrics.RecordClusterManagerLoss()
	}
	if e.audit != nil {
		e.auditEvent(model.EventTypeClusterManagerFailover, repository, "", nil)
	}
	if e.webhook != nil {
		_ = e.webhook.SendClusterManagerLost(repository, true)
	}
}

func (e *Engine) notifyFinalizeSuccess(repo string, info *model.SnapshotInfo, started time.Time) {
	if e.metrics != nil {
		e.metrics.RecordFinalizeLatency(repo, time.Since(started))
	}
	if e.webhook == nil {
		return
	}
	if info.Failed() {
		_ = e.webhook.SendSnapshotFailed(repo, info.SnapshotID.Name, "one or more shards failed", true)
		return
	}
	_ = e.webhook.SendSnapshotSuccess(repo, info.SnapshotID.Name, info.TotalShards, info.SuccessfulShards, true)
}
