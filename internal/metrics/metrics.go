// Package metrics exposes optimizer progress and service health to Prometheus
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded label values
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"

	CacheHit  = "hit"
	CacheMiss = "miss"

	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// Optimizer metrics
var (
	GenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paramforge_generations_total",
		Help: "Total number of evaluated generations",
	}, []string{"strategy"})

	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paramforge_evaluations_total",
		Help: "Total number of candidate evaluations by result",
	}, []string{"strategy", "result"})

	GenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paramforge_generation_duration_seconds",
		Help:    "Wall time of one generation evaluation",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	}, []string{"strategy"})

	MaxFitness = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "paramforge_generation_max_fitness",
		Help: "Highest fitness of the latest generation",
	}, []string{"strategy"})

	MeanFitness = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "paramforge_generation_mean_fitness",
		Help: "Mean fitness of the latest generation",
	}, []string{"strategy"})

	BestFitness = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "paramforge_best_fitness",
		Help: "Best fitness seen so far by the latest run",
	}, []string{"strategy"})

	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paramforge_runs_total",
		Help: "Total number of finished optimization runs by status",
	}, []string{"strategy", "status"})

	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paramforge_run_duration_seconds",
		Help:    "Wall time of a complete optimization run",
		Buckets: []float64{1, 10, 60, 300, 900, 3600, 4 * 3600},
	}, []string{"strategy"})

	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paramforge_active_runs",
		Help: "Number of optimization runs in progress",
	})

	OracleCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paramforge_oracle_cache_lookups_total",
		Help: "Oracle result cache lookups by outcome",
	}, []string{"result"})
)

// Service metrics
var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paramforge_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paramforge_api_request_duration_ms",
		Help:    "API request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
	}, []string{"method", "path", "status"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paramforge_database_connections_active",
		Help: "Number of acquired database connections",
	})

	DatabaseConnectionsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paramforge_database_connections_idle",
		Help: "Number of idle database connections",
	})

	StoredRuns = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "paramforge_stored_runs",
		Help: "Persisted optimization runs by status",
	}, []string{"status"})

	AuditEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paramforge_audit_events_total",
		Help: "Audit events by type and persistence result",
	}, []string{"event_type", "result"})
)

// UpdateDatabaseConnections updates database connection metrics
func UpdateDatabaseConnections(active, idle int32) {
	DatabaseConnectionsActive.Set(float64(active))
	DatabaseConnectionsIdle.Set(float64(idle))
}

// RecordAPIRequest records an API request with duration
func RecordAPIRequest(method, path, statusCode string, durationMs float64) {
	APIRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationMs)
	HTTPRequests.WithLabelValues(method, path, statusCode).Inc()
}

// RecordAuditEvent records an audit event and whether it was stored
func RecordAuditEvent(eventType string, persisted bool) {
	result := ResultSuccess
	if !persisted {
		result = ResultFailed
	}
	AuditEvents.WithLabelValues(eventType, result).Inc()
}

// RecordCacheLookup records an oracle cache hit or miss
func RecordCacheLookup(hit bool) {
	if hit {
		OracleCacheLookups.WithLabelValues(CacheHit).Inc()
		return
	}
	OracleCacheLookups.WithLabelValues(CacheMiss).Inc()
}

// RunStarted increments the active run gauge; call the returned func with the final status
func RunStarted(strategy string) func(status string) {
	ActiveRuns.Inc()
	return func(status string) {
		ActiveRuns.Dec()
		if status != RunStatusCompleted {
			// completed runs are counted by the observer
			RunsTotal.WithLabelValues(strategy, status).Inc()
		}
	}
}
