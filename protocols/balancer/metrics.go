package balancer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the registry and aggregate metrics, labeled by registry name.
type Metrics struct {
	SyncedBlock     *prometheus.GaugeVec
	PoolsInRegistry *prometheus.GaugeVec
	PoolsDiscovered *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	SyncDuration    *prometheus.HistogramVec
	LaggingSources  *prometheus.CounterVec
}

// NewMetrics creates and registers the metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		SyncedBlock: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: "balancer",
			Name:      "registry_synced_block",
			Help:      "Last block whose PoolCreated events are incorporated in the registry.",
		}, []string{"registry"}),

		PoolsInRegistry: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: "balancer",
			Name:      "registry_pools",
			Help:      "Number of pools known to the registry.",
		}, []string{"registry"}),

		PoolsDiscovered: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: "balancer",
			Name:      "registry_pools_discovered_total",
			Help:      "Pools added to the registry by incremental sync.",
		}, []string{"registry"}),

		ErrorsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: "balancer",
			Name:      "errors_total",
			Help:      "Errors encountered, labeled by registry and error type.",
		}, []string{"registry", "type"}),

		SyncDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: "balancer",
			Name:      "registry_sync_duration_seconds",
			Help:      "Time taken by one registry maintenance run.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"registry"}),

		LaggingSources: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: "balancer",
			Name:      "aggregate_lagging_sources_total",
			Help:      "Registries whose maintenance failed under the best effort policy.",
		}, []string{"registry"}),
	}
}
