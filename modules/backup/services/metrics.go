package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	backupRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backup",
		Name:      "runs_total",
		Help:      "Total number of export/import runs broken down by operation, mode and result.",
	}, []string{"operation", "mode", "result"})

	backupRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "backup",
		Name:      "run_duration_seconds",
		Help:      "Duration of export/import runs.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"operation"})

	backupRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backup",
		Subsystem: "import",
		Name:      "rows_total",
		Help:      "Total number of snapshot rows handled by imports broken down by entity and outcome.",
	}, []string{"entity", "outcome"})

	backupDeletedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backup",
		Subsystem: "replace",
		Name:      "deleted_rows_total",
		Help:      "Total number of rows removed by replace imports broken down by entity.",
	}, []string{"entity"})

	backupDeleteRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backup",
		Subsystem: "replace",
		Name:      "delete_retries_total",
		Help:      "Total number of deletion retries after residual references broken down by entity.",
	}, []string{"entity"})
)

func recordRun(operation, mode string, err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	if mode == "" {
		mode = "none"
	}
	backupRuns.WithLabelValues(operation, mode, result).Inc()
	backupRunDuration.WithLabelValues(operation).Observe(d.Seconds())
}

const (
	rowCreated = "created"
	rowReused  = "reused"
	rowSkipped = "skipped"
)

func recordRow(entity, outcome string) {
	backupRows.WithLabelValues(entity, outcome).Inc()
}

func recordDeleted(entity string, n int64) {
	if n > 0 {
		backupDeletedRows.WithLabelValues(entity).Add(float64(n))
	}
}

func recordDeleteRetry(entity string) {
	backupDeleteRetries.WithLabelValues(entity).Inc()
}
