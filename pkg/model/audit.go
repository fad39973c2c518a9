package model

import "time"

// AuditEventType identifies the type of auditable event.
type AuditEventType string

const (
	EventTypeSnapshotCreate         AuditEventType = "snapshot.create"
	EventTypeSnapshotFinalize       AuditEventType = "snapshot.finalize"
	EventTypeSnapshotDelete         AuditEventType = "snapshot.delete"
	EventTypeCloneCreate            AuditEventType = "clone.create"
	EventTypeClusterManagerFailover AuditEventType = "cluster_manager.failover"
)

// AuditRecord is a single line in the audit log (JSONL format). SnapshotUUID
// is carried as a bare string rather than a SnapshotID, since some events
// (clone preparation, cluster-manager failover) precede or outlive any
// single named snapshot.
type AuditRecord struct {
	Timestamp    time.Time      `json:"timestamp"`
	EventType    AuditEventType `json:"event_type"`
	Repository   string         `json:"repository,omitempty"`
	SnapshotUUID string         `json:"snapshot_uuid,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	PrevHash     HashValue      `json:"prev_hash"`
	RecordHash   HashValue      `json:"record_hash"`
}
