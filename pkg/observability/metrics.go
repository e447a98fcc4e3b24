package observability

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Hierarchy metrics
	HierarchyMutationsTotal *prometheus.CounterVec
	CycleRejectionsTotal    prometheus.Counter
	GraphRebuildsTotal      prometheus.Counter
	GraphRolesTotal         *prometheus.GaugeVec

	// Resolution metrics
	ResolutionsTotal   *prometheus.CounterVec
	ResolutionDuration prometheus.Histogram

	// Assignment metrics
	AssignmentsGrantedTotal prometheus.Counter
	AssignmentsRevokedTotal prometheus.Counter
	AssignmentsExpiredTotal prometheus.Counter
	SweepDuration           prometheus.Histogram

	// Bulk operation metrics
	BulkOperationsTotal *prometheus.CounterVec
	BulkItemsTotal      *prometheus.CounterVec
	BulkJobDuration     prometheus.Histogram
	BulkQueueDepth      prometheus.Gauge

	// Audit metrics
	AuditEntriesTotal      *prometheus.CounterVec
	AuditWriteFailures     prometheus.Counter
	AuditRetriesTotal      prometheus.Counter
	AuditBufferDepth       prometheus.Gauge
	EventsPublishedTotal   *prometheus.CounterVec
	EventsDroppedTotal     prometheus.Counter

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,

		HierarchyMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_hierarchy_mutations_total",
				Help: "Total number of hierarchy edge mutations",
			},
			[]string{"operation", "status"},
		),
		CycleRejectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_cycle_rejections_total",
				Help: "Total number of edges rejected by cycle detection",
			},
		),
		GraphRebuildsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_graph_rebuilds_total",
				Help: "Total number of tenant graph rebuilds from the store",
			},
		),
		GraphRolesTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "warden_graph_roles",
				Help: "Number of roles in the cached graph per tenant",
			},
			[]string{"tenant_id"},
		),

		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_resolutions_total",
				Help: "Total number of permission resolutions",
			},
			[]string{"kind", "status"},
		),
		ResolutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "warden_resolution_duration_seconds",
				Help:    "Permission resolution duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
			},
		),

		AssignmentsGrantedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_assignments_granted_total",
				Help: "Total number of role assignments granted",
			},
		),
		AssignmentsRevokedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_assignments_revoked_total",
				Help: "Total number of role assignments revoked",
			},
		),
		AssignmentsExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_assignments_expired_total",
				Help: "Total number of role assignments deactivated by the expiry sweep",
			},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "warden_sweep_duration_seconds",
				Help:    "Expiry sweep duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		BulkOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_bulk_operations_total",
				Help: "Total number of bulk operations by type and terminal status",
			},
			[]string{"operation_type", "status"},
		),
		BulkItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_bulk_items_total",
				Help: "Total number of bulk operation items by outcome",
			},
			[]string{"operation_type", "outcome"},
		),
		BulkJobDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "warden_bulk_job_duration_seconds",
				Help:    "Bulk job duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 300},
			},
		),
		BulkQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_bulk_queue_depth",
				Help: "Number of bulk jobs waiting in the queue",
			},
		),

		AuditEntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_audit_entries_total",
				Help: "Total number of audit entries by action",
			},
			[]string{"action"},
		),
		AuditWriteFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_audit_write_failures_total",
				Help: "Total number of failed audit store writes",
			},
		),
		AuditRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_audit_retries_total",
				Help: "Total number of audit write retries",
			},
		),
		AuditBufferDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_audit_buffer_depth",
				Help: "Number of audit entries waiting in the write buffer",
			},
		),
		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_events_published_total",
				Help: "Total number of outbound events published",
			},
			[]string{"event_type"},
		),
		EventsDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_events_dropped_total",
				Help: "Total number of outbound events dropped due to a full buffer",
			},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HierarchyMutationsTotal,
		m.CycleRejectionsTotal,
		m.GraphRebuildsTotal,
		m.GraphRolesTotal,
		m.ResolutionsTotal,
		m.ResolutionDuration,
		m.AssignmentsGrantedTotal,
		m.AssignmentsRevokedTotal,
		m.AssignmentsExpiredTotal,
		m.SweepDuration,
		m.BulkOperationsTotal,
		m.BulkItemsTotal,
		m.BulkJobDuration,
		m.BulkQueueDepth,
		m.AuditEntriesTotal,
		m.AuditWriteFailures,
		m.AuditRetriesTotal,
		m.AuditBufferDepth,
		m.EventsPublishedTotal,
		m.EventsDroppedTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns an HTTP handler exposing the metrics registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CollectDBStats pushes sql.DBStats into the connection gauges. Intended to be
// called periodically from the main loop.
func (m *Metrics) CollectDBStats(db *sql.DB) {
	if db == nil {
		return
	}
	stats := db.Stats()
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// StartDBStatsCollector runs CollectDBStats on an interval until stop is closed
func (m *Metrics) StartDBStatsCollector(db *sql.DB, interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.CollectDBStats(db)
			case <-stop:
				return
			}
		}
	}()
}
