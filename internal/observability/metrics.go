package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hazard_sync"

// Metrics holds the Prometheus counters, histograms, and gauges for the sync core.
type Metrics struct {
	// Location ingest metrics.
	SamplesConsumed prometheus.Counter
	SamplesRejected *prometheus.CounterVec // labels: reason={malformed,invalid,out_of_order}
	PipelineRunning prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Fetch scheduling metrics.
	FetchRequests *prometheus.CounterVec   // labels: source, outcome={success,rate_limited,failed}
	FetchSkips    *prometheus.CounterVec   // labels: source, reason={zoom,cache_hit,movement,rate_limit}
	FetchDuration *prometheus.HistogramVec // labels: source
	CachedTiles   *prometheus.GaugeVec     // labels: source
	RecordsShown  *prometheus.GaugeVec     // labels: source

	// Route tracking metrics.
	OffRoute         prometheus.Gauge
	Reroutes         prometheus.Counter
	RouteRequests    *prometheus.CounterVec // labels: outcome={success,error,empty}
	RouteCache       *prometheus.CounterVec // labels: result={hit,miss}
	RouteAPIDuration prometheus.Histogram

	EventsPublished *prometheus.CounterVec // labels: event_type
	PublishErrors   prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		SamplesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_consumed_total",
			Help:      "Total location samples read from the positions topic or API.",
		}),
		SamplesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_rejected_total",
			Help:      "Location samples dropped by the motion estimator.",
		}, []string{"reason"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the position pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of samples per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete extract-parse-load cycle.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "Provider fetches by source and outcome.",
		}, []string{"source", "outcome"}),
		FetchSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_skips_total",
			Help:      "Evaluations that did not reach the network, by source and reason.",
		}, []string{"source", "reason"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Provider request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source"}),
		CachedTiles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached_tiles",
			Help:      "Live tiles held in the spatial cache.",
		}, []string{"source"}),
		RecordsShown: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records_shown",
			Help:      "Records in the most recently published set.",
		}, []string{"source"}),
		OffRoute: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "off_route",
			Help:      "1 while the vehicle is beyond the deviation threshold.",
		}),
		Reroutes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reroutes_total",
			Help:      "Re-plan requests triggered by route deviation.",
		}),
		RouteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_requests_total",
			Help:      "Directions API requests by outcome.",
		}, []string{"outcome"}),
		RouteCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_cache_total",
			Help:      "Route cache lookups by result.",
		}, []string{"result"}),
		RouteAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "route_api_duration_seconds",
			Help:      "Mapbox Directions request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events written to the sink topic by type.",
		}, []string{"event_type"}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Failed writes to the sink topic.",
		}),
	}

	prometheus.MustRegister(
		m.SamplesConsumed,
		m.SamplesRejected,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.FetchRequests,
		m.FetchSkips,
		m.FetchDuration,
		m.CachedTiles,
		m.RecordsShown,
		m.OffRoute,
		m.Reroutes,
		m.RouteRequests,
		m.RouteCache,
		m.RouteAPIDuration,
		m.EventsPublished,
		m.PublishErrors,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		SamplesConsumed:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "samples_consumed_total"}),
		SamplesRejected:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "samples_rejected_total"}, []string{"reason"}),
		PipelineRunning:         prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "pipeline_running"}),
		BatchSize:               prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "batch_size"}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "batch_processing_duration_seconds"}),
		FetchRequests:           prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "fetch_requests_total"}, []string{"source", "outcome"}),
		FetchSkips:              prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "fetch_skips_total"}, []string{"source", "reason"}),
		FetchDuration:           prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: "fetch_duration_seconds"}, []string{"source"}),
		CachedTiles:             prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: "cached_tiles"}, []string{"source"}),
		RecordsShown:            prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: "records_shown"}, []string{"source"}),
		OffRoute:                prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "off_route"}),
		Reroutes:                prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "reroutes_total"}),
		RouteRequests:           prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "route_requests_total"}, []string{"outcome"}),
		RouteCache:              prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "route_cache_total"}, []string{"result"}),
		RouteAPIDuration:        prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "route_api_duration_seconds"}),
		EventsPublished:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "events_published_total"}, []string{"event_type"}),
		PublishErrors:           prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "publish_errors_total"}),
	}
}
