package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// feed aggregation pipeline.
type Metrics struct {
	// Provider fan-out metrics.
	ProviderRequests *prometheus.CounterVec   // labels: provider, status={ok,timed_out,failed,skipped_by_quota}
	ProviderLatency  *prometheus.HistogramVec // labels: provider
	ProviderEvents   *prometheus.CounterVec   // labels: provider

	// Feed cache metrics.
	FeedRequests     *prometheus.CounterVec   // labels: feed, result={fresh,stale,error}
	RefreshDuration  *prometheus.HistogramVec // labels: feed
	RefreshesInFlight prometheus.Gauge

	// Quota metrics.
	QuotaDenied *prometheus.CounterVec // labels: provider
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.ProviderRequests,
		m.ProviderLatency,
		m.ProviderEvents,
		m.FeedRequests,
		m.RefreshDuration,
		m.RefreshesInFlight,
		m.QuotaDenied,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quake_feed",
			Name:      "provider_requests_total",
			Help:      "Provider fetches by provider and outcome status.",
		}, []string{"provider", "status"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quake_feed",
			Name:      "provider_latency_seconds",
			Help:      "Wall-clock latency of provider fetches.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"provider"}),
		ProviderEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quake_feed",
			Name:      "provider_events_total",
			Help:      "Canonical events produced per provider.",
		}, []string{"provider"}),
		FeedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quake_feed",
			Name:      "feed_requests_total",
			Help:      "Feed reads by key and result freshness.",
		}, []string{"feed", "result"}),
		RefreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quake_feed",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of a complete feed refresh fan-out.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 40},
		}, []string{"feed"}),
		RefreshesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quake_feed",
			Name:      "refreshes_in_flight",
			Help:      "Number of feed refreshes currently running.",
		}),
		QuotaDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quake_feed",
			Name:      "quota_denied_total",
			Help:      "Provider calls denied by the daily quota governor.",
		}, []string{"provider"}),
	}
}
