// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IngestRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewindify_ingest_records_total",
			Help: "Records seen by the normalization pipeline by outcome",
		},
		[]string{"outcome"}, // inserted | skipped | filtered
	)

	IngestFiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewindify_ingest_files_total",
			Help: "Uploaded files by normalization status",
		},
		[]string{"status"},
	)

	IngestChunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewindify_ingest_chunks_total",
			Help: "Upload chunks applied by reassembly action",
		},
		[]string{"action"}, // replace | append | orphan_append
	)

	IngestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rewindify_ingest_duration_seconds",
			Help:    "Duration of a single chunk ingestion in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"action"},
	)

	OperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewindify_operation_errors_total",
			Help: "Failed history operations by error code",
		},
		[]string{"operation", "error_code"},
	)

	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rewindify_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	SessionsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rewindify_sessions_reaped_total",
			Help: "Total number of expired sessions deleted by the reaper",
		},
	)

	ReaperSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "rewindify_reaper_sweep_duration_seconds",
			Help: "Duration of a reaper sweep in seconds",
		},
	)

	IngestsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rewindify_ingests_active",
			Help: "Number of chunk ingestions currently holding a session lock",
		},
	)
)
