package recentblock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are labeled by cache name so several caches can share a registry.
type Metrics struct {
	Hits          *prometheus.CounterVec
	Misses        *prometheus.CounterVec
	SharedFlights *prometheus.CounterVec
	FetchFailures *prometheus.CounterVec
	DegradedServe *prometheus.CounterVec
	Dropped       *prometheus.CounterVec
	Entries       *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Hits: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: "recentblock",
			Name:      "cache_hits_total",
			Help:      "Keys served from the cache without a live read.",
		}, []string{"cache"}),
		Misses: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: "recentblock",
			Name:      "cache_misses_total",
			Help:      "Keys that were missing or stale and needed a live read.",
		}, []string{"cache"}),
		SharedFlights: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: "recentblock",
			Name:      "cache_shared_fetches_total",
			Help:      "Requests that joined a fetch already in flight for the same key.",
		}, []string{"cache"}),
		FetchFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: "recentblock",
			Name:      "cache_fetch_failures_total",
			Help:      "Failed live read attempts, including retried ones.",
		}, []string{"cache"}),
		DegradedServe: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: "recentblock",
			Name:      "cache_degraded_total",
			Help:      "Stale values served after all retries failed.",
		}, []string{"cache"}),
		Dropped: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: "recentblock",
			Name:      "cache_dropped_total",
			Help:      "Keys left out of a result because all retries failed and nothing was cached.",
		}, []string{"cache"}),
		Entries: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: "recentblock",
			Name:      "cache_entries",
			Help:      "Number of cached keys.",
		}, []string{"cache"}),
	}
}
