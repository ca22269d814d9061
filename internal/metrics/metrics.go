// Package metrics registers the engine's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LayerInitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parcel_layer_inits_total",
		Help: "Layer initializations by backend mode and final status",
	}, []string{"mode", "status"})
	LayerInitDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parcel_layer_init_duration_ms",
		Help:    "Time from loading to ready or error in milliseconds",
		Buckets: []float64{5, 10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"mode"})
	ReinitializationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parcel_reinitializations_total",
		Help: "Total engine reinitializations",
	})
	StaleDiscardsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parcel_stale_discards_total",
		Help: "Ready transitions discarded because a newer generation started",
	})
	ServicePagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parcel_service_pages_total",
		Help: "Feature-service query pages fetched",
	}, []string{"status"})
	ServiceQueryDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "parcel_service_query_duration_ms",
		Help:    "Feature-service page query duration in milliseconds",
		Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000},
	})
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parcel_cache_hits_total",
		Help: "Feature-service page cache hits",
	})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parcel_cache_misses_total",
		Help: "Feature-service page cache misses",
	})
	FeedSnapshotsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parcel_feed_snapshots_total",
		Help: "Live feed snapshots delivered per collection",
	}, []string{"collection"})
)

func init() {
	prometheus.MustRegister(LayerInitsTotal)
	prometheus.MustRegister(LayerInitDurationMs)
	prometheus.MustRegister(ReinitializationsTotal)
	prometheus.MustRegister(StaleDiscardsTotal)
	prometheus.MustRegister(ServicePagesTotal)
	prometheus.MustRegister(ServiceQueryDurationMs)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(FeedSnapshotsTotal)
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler { return promhttp.Handler() }
