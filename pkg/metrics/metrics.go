// Package metrics provides Prometheus metrics for the import service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsPrepared tracks prepare calls by outcome
	JobsPrepared = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "import",
			Name:      "jobs_prepared_total",
			Help:      "Total number of prepare calls by status",
		},
		[]string{"status"},
	)

	// RowsStaged tracks staged rows per table and operation
	RowsStaged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "staging",
			Name:      "rows_total",
			Help:      "Total number of delta rows written to staging",
		},
		[]string{"table", "operation"},
	)

	DuplicatesRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "staging",
			Name:      "duplicates_removed_total",
			Help:      "Total number of exact duplicate insert rows dropped during staging",
		},
		[]string{"table"},
	)

	// BatchesProcessed tracks batch executions by outcome
	BatchesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "batch",
			Name:      "processed_total",
			Help:      "Total number of batch executions by table, operation and status",
		},
		[]string{"table", "operation", "status"},
	)

	// BatchDuration tracks how long applying one batch takes
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "batch",
			Name:      "duration_seconds",
			Help:      "Duration of batch executions in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"table", "operation"},
	)

	RecordsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "batch",
			Name:      "records_applied_total",
			Help:      "Total number of temporal rows inserted or historized",
		},
		[]string{"table", "operation"},
	)

	// JobsFinalized tracks finalize calls by outcome
	JobsFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "import",
			Name:      "jobs_finalized_total",
			Help:      "Total number of finalize calls by status",
		},
		[]string{"status"},
	)

	NamesResolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "finalize",
			Name:      "names_resolved_total",
			Help:      "Total number of enterprise primary names resolved from legal denominations",
		},
	)

	// PollerTicks tracks poller iterations per job by outcome
	PollerTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "poller",
			Name:      "ticks_total",
			Help:      "Total number of poller iterations by outcome",
		},
		[]string{"outcome"},
	)

	// KafkaPublishTotal tracks event publishing
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "publish_total",
			Help:      "Total number of lifecycle events published by status",
		},
		[]string{"status"},
	)
)

func RecordBatch(table, operation, status string, durationSeconds float64, applied int) {
	BatchesProcessed.WithLabelValues(table, operation, status).Inc()
	BatchDuration.WithLabelValues(table, operation).Observe(durationSeconds)
	if applied > 0 {
		RecordsApplied.WithLabelValues(table, operation).Add(float64(applied))
	}
}

func RecordStaged(table, operation string, rows, duplicates int) {
	RowsStaged.WithLabelValues(table, operation).Add(float64(rows))
	if duplicates > 0 {
		DuplicatesRemoved.WithLabelValues(table).Add(float64(duplicates))
	}
}

func RecordPublish(err error) {
	if err != nil {
		KafkaPublishTotal.WithLabelValues("error").Inc()
		return
	}
	KafkaPublishTotal.WithLabelValues("success").Inc()
}
