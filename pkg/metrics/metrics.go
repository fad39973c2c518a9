// Package metrics exports Prometheus metrics for the snapshot engine:
// admitted snapshots, finalize latency, queued-shard depth, and
// cluster-manager-loss events.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	enabledMutex    sync.RWMutex
	enabled         bool
	defaultRegistry *Registry
)

// Init initializes the metrics system, registering the default Registry's
// collectors with the global Prometheus registerer.
func Init() {
	enabledMutex.Lock()
	defer enabledMutex.Unlock()
	enabled = true
	defaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
}

// Enabled returns true if metrics have been initialized.
func Enabled() bool {
	enabledMutex.RLock()
	defer enabledMutex.RUnlock()
	return enabled
}

// Default returns the default metrics registry, initializing it against
// the global Prometheus registerer if necessary.
func Default() *Registry {
	enabledMutex.RLock()
	r := defaultRegistry
	enabledMutex.RUnlock()
	if r != nil {
		return r
	}
	Init()
	return Default()
}

// Registry holds the snapshot engine's Prometheus collectors.
type Registry struct {
	snapshotsAdmitted  *prometheus.CounterVec
	finalizeLatency    *prometheus.HistogramVec
	queuedShardDepth   prometheus.Gauge
	clusterManagerLoss prometheus.Counter
}

// NewRegistry creates a Registry and registers its collectors with reg.
// A nil reg creates the collectors unregistered, which is useful in tests
// that want isolated metric state.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		snapshotsAdmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snapmgr",
			Name:      "snapshots_admitted_total",
			Help:      "Number of snapshot operations admitted, by outcome.",
		}, []string{"outcome"}),
		finalizeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "snapmgr",
			Name:      "finalize_duration_seconds",
			Help:      "Time spent finalizing a snapshot or clone in a repository.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"repository"}),
		queuedShardDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "snapmgr",
			Name:      "queued_shards",
			Help:      "Current number of shards in UNASSIGNED_QUEUED state, across all repositories.",
		}),
		clusterManagerLoss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "snapmgr",
			Name:      "cluster_manager_loss_total",
			Help:      "Number of times this node observed losing cluster-manager status mid-operation.",
		}),
	}

	if reg != nil {
		reg.MustRegister(r.snapshotsAdmitted, r.finalizeLatency, r.queuedShardDepth, r.clusterManagerLoss)
	}
	return r
}

// RecordAdmission records the outcome of an admission check (section 4.1)
// for a newly requested snapshot or clone.
func (r *Registry) RecordAdmission(admitted bool) {
	outcome := "admitted"
	if !admitted {
		outcome = "rejected"
	}
	r.snapshotsAdmitted.WithLabelValues(outcome).Inc()
}

// RecordFinalizeLatency records how long a repository's finalize step took.
func (r *Registry) RecordFinalizeLatency(repository string, d time.Duration) {
	r.finalizeLatency.WithLabelValues(repository).Observe(d.Seconds())
}

// SetQueuedShardDepth reports the current UNASSIGNED_QUEUED shard count.
func (r *Registry) SetQueuedShardDepth(depth int) {
	r.queuedShardDepth.Set(float64(depth))
}

// RecordClusterManagerLoss records that this node observed losing
// cluster-manager status while operations were still in flight.
func (r *Registry) RecordClusterManagerLoss() {
	r.clusterManagerLoss.Inc()
}
