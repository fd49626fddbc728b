package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the store.
type Metrics struct {
	// Cascade metrics (C3)
	CascadeTier1HitsTotal  prometheus.Counter
	CascadeTier1MissTotal  prometheus.Counter
	CascadeFalsePositives  prometheus.Counter

	// Ingest metrics (C4, C5)
	SequencesStoredTotal      prometheus.Counter
	SequencesDedupedTotal     prometheus.Counter
	RepresentationsTotal      prometheus.Counter
	ChunksStoredTotal         prometheus.Counter
	IngestBatchDuration       prometheus.Histogram

	// Sync metrics (C8)
	SyncAttemptsTotal     *prometheus.CounterVec
	SyncDuration          prometheus.Histogram
	ChunksFetchedTotal     prometheus.Counter
	ChunkVerifyFailedTotal prometheus.Counter
	SyncActive            prometheus.Gauge

	// GC metrics (C11)
	GCChunksDeletedTotal     prometheus.Counter
	GCSequencesDeletedTotal  prometheus.Counter
	GCBytesFreedTotal        prometheus.Counter
	GCDuration               prometheus.Histogram

	// Backend metrics (C2, C13)
	BackendOperationsTotal *prometheus.CounterVec
	CompactionDuration     prometheus.Histogram
	FilterPersistDuration  prometheus.Histogram
	DiskSpaceUsedBytes     prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		CascadeTier1HitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "herald_cascade_tier1_hits_total",
			Help: "Tier-1 bloom filter positive results",
		}),
		CascadeTier1MissTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "herald_cascade_tier1_misses_total",
			Help: "Tier-1 bloom filter definitive-absent results",
		}),
		CascadeFalsePositives: promauto.NewCounter(prometheus.CounterOpts{
			Name: "herald_cascade_false_positives_total",
			Help: "Tier-1 positives not confirmed by the authoritative lookup",
		}),

		SequencesStoredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "herald_sequences_stored_total",
			Help: "Distinct CanonicalSequence records written",
		}),
		SequencesDedupedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "herald_sequences_deduped_total",
			Help: "PutSequence calls that found an existing sequence",
		}),
		RepresentationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "herald_representations_total",
			Help: "Representation entries appended",
		}),
		ChunksStoredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "herald_chunks_stored_total",
			Help: "Distinct ChunkRecord records written",
		}),
		IngestBatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "herald_ingest_batch_duration_seconds",
			Help:    "Batch-ingest commit latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		SyncAttemptsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_sync_attempts_total",
			Help: "Sync attempts by outcome",
		}, []string{"result"}),
		SyncDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "herald_sync_duration_seconds",
			Help:    "Sync completion time",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800},
		}),
		ChunksFetchedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "herald_chunks_fetched_total",
			Help: "Chunks fetched from a remote ChunkClient",
		}),
		ChunkVerifyFailedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "herald_chunk_verify_failed_total",
			Help: "Fetched chunks whose hash did not match",
		}),
		SyncActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "herald_sync_active",
			Help: "Currently in-flight syncs",
		}),

		GCChunksDeletedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "herald_gc_chunks_deleted_total",
			Help: "Chunks deleted by garbage collection",
		}),
		GCSequencesDeletedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "herald_gc_sequences_deleted_total",
			Help: "Sequences deleted by garbage collection",
		}),
		GCBytesFreedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "herald_gc_bytes_freed_total",
			Help: "Approximate bytes freed by garbage collection",
		}),
		GCDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "herald_gc_duration_seconds",
			Help:    "Garbage collection sweep duration",
			Buckets: []float64{0.1, 1, 5, 30, 60, 300, 1800},
		}),

		BackendOperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_backend_operations_total",
			Help: "KV backend operation count",
		}, []string{"operation", "result"}),
		CompactionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "herald_compaction_duration_seconds",
			Help:    "KV backend compaction latency",
			Buckets: []float64{0.1, 1, 5, 30, 60, 300},
		}),
		FilterPersistDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "herald_filter_persist_duration_seconds",
			Help:    "Tier-1 bloom filter serialization latency",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		DiskSpaceUsedBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "herald_disk_space_used_bytes",
			Help: "Disk space used by the KV backend",
		}),
	}
}

// RecordCascadeLookup records the outcome of a single C3 cascade query.
func (m *Metrics) RecordCascadeLookup(tier1Hit, confirmed bool) {
	if !tier1Hit {
		m.CascadeTier1MissTotal.Inc()
		return
	}
	m.CascadeTier1HitsTotal.Inc()
	if !confirmed {
		m.CascadeFalsePositives.Inc()
	}
}

// RecordSync records a completed sync attempt's outcome and duration.
func (m *Metrics) RecordSync(result string, durationSeconds float64) {
	m.SyncAttemptsTotal.WithLabelValues(result).Inc()
	m.SyncDuration.Observe(durationSeconds)
}

// RecordBackendOp records a KV backend operation's outcome.
func (m *Metrics) RecordBackendOp(operation string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.BackendOperationsTotal.WithLabelValues(operation, result).Inc()
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
