package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
)

var (
	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "session_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// MessagesExpiredTotal counts messages deleted by the expiration sweeps.
	MessagesExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_messages_expired_total",
		Help: "Total number of messages deleted because their timer expired",
	})

	// SweepDuration records the duration of expiration sweeps.
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "session_expiry_sweep_duration_seconds",
		Help:    "Duration of expiration sweeps in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// VacuumPagesTotal counts pages reclaimed by the incremental vacuum.
	VacuumPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_vacuum_pages_total",
		Help: "Total number of database pages reclaimed by incremental vacuum",
	})

	// ReconciliationErrors counts failed swarm expiry reconciliation calls.
	ReconciliationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_swarm_reconciliation_errors_total",
		Help: "Total number of failed swarm expiry reconciliation calls",
	})

	// SearchLatency records full-text search latency.
	SearchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "session_message_search_latency_seconds",
		Help:    "Full-text message search latency in seconds",
		Buckets: prometheus.DefBuckets,
	})
)

// DatabaseMetrics wraps DB access for recording query latency.
type DatabaseMetrics struct {
	db *gorm.DB
}

// NewDatabaseMetrics returns a new DatabaseMetrics instance.
func NewDatabaseMetrics(db *gorm.DB) *DatabaseMetrics {
	return &DatabaseMetrics{db: db}
}

// ObserveQuery records the latency of a database query.
func (m *DatabaseMetrics) ObserveQuery(operation, table string, start time.Time) {
	latency := time.Since(start).Seconds()
	DatabaseQueryLatency.WithLabelValues(operation, table).Observe(latency)
}

// TrackQuery returns a function that records query latency when called (e.g. defer).
func (m *DatabaseMetrics) TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		m.ObserveQuery(operation, table, start)
	}
}
