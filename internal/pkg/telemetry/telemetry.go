// Package telemetry exposes Prometheus metrics for ingestion, aggregation
// passes, the query cache and HTTP requests.
package telemetry

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pass outcomes
const (
	PassPublished = "published"
	PassRejected  = "rejected"
	PassFailed    = "failed"
	PassCancelled = "cancelled"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	EventsIngestedTotal   prometheus.Counter
	IngestRejectedTotal   prometheus.Counter
	PassesTotal           *prometheus.CounterVec
	PassDuration          prometheus.Histogram
	FamilyDuration        *prometheus.HistogramVec
	RowsPublishedTotal    *prometheus.CounterVec
	EventsPerPass         prometheus.Histogram
	QueryCacheHitsTotal   prometheus.Counter
	QueryCacheMissesTotal prometheus.Counter
	QueryCachePurgesTotal prometheus.Counter
	HTTPRequestDuration   *prometheus.HistogramVec
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Default returns the process-wide metrics, creating them on first use.
func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = NewMetrics(prometheus.NewRegistry())
	})
	return defaultMetrics
}

// NewMetrics creates and registers all metrics on registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		EventsIngestedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_events_ingested_total",
			Help: "Total number of raw events stored",
		}),
		IngestRejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_ingest_batches_rejected_total",
			Help: "Total number of ingest batches rejected by validation",
		}),
		PassesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_aggregation_passes_total",
				Help: "Total number of aggregation passes by outcome",
			},
			[]string{"status"},
		),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulse_aggregation_pass_duration_seconds",
			Help:    "Aggregation pass duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		FamilyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulse_aggregation_family_duration_seconds",
				Help:    "Time spent computing one aggregate family",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"family"},
		),
		RowsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_aggregate_rows_published_total",
				Help: "Total number of aggregate rows published by family",
			},
			[]string{"family"},
		),
		EventsPerPass: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulse_aggregation_pass_events",
			Help:    "Number of raw events read by one aggregation pass",
			Buckets: prometheus.ExponentialBuckets(10, 10, 7),
		}),
		QueryCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_query_cache_hits_total",
			Help: "Total number of query cache hits",
		}),
		QueryCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_query_cache_misses_total",
			Help: "Total number of query cache misses",
		}),
		QueryCachePurgesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_query_cache_purges_total",
			Help: "Total number of query cache purges after publication",
		}),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}

	registry.MustRegister(
		m.EventsIngestedTotal,
		m.IngestRejectedTotal,
		m.PassesTotal,
		m.PassDuration,
		m.FamilyDuration,
		m.RowsPublishedTotal,
		m.EventsPerPass,
		m.QueryCacheHitsTotal,
		m.QueryCacheMissesTotal,
		m.QueryCachePurgesTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordIngest counts stored events.
func (m *Metrics) RecordIngest(count int) {
	if m == nil {
		return
	}
	m.EventsIngestedTotal.Add(float64(count))
}

// RecordIngestRejected counts a rejected batch.
func (m *Metrics) RecordIngestRejected() {
	if m == nil {
		return
	}
	m.IngestRejectedTotal.Inc()
}

// RecordFamily observes the compute time of one family.
func (m *Metrics) RecordFamily(family string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.FamilyDuration.WithLabelValues(family).Observe(elapsed.Seconds())
}

// RecordPass records the outcome of a pass. rows is keyed by family and only
// counted for published passes.
func (m *Metrics) RecordPass(status string, elapsed time.Duration, eventsRead int, rows map[string]int) {
	if m == nil {
		return
	}
	m.PassesTotal.WithLabelValues(status).Inc()
	m.PassDuration.Observe(elapsed.Seconds())
	m.EventsPerPass.Observe(float64(eventsRead))
	if status != PassPublished {
		return
	}
	for family, n := range rows {
		m.RowsPublishedTotal.WithLabelValues(family).Add(float64(n))
	}
}

// RecordCacheLookup counts a query cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.QueryCacheHitsTotal.Inc()
	} else {
		m.QueryCacheMissesTotal.Inc()
	}
}

// RecordCachePurge counts a cache purge.
func (m *Metrics) RecordCachePurge() {
	if m == nil {
		return
	}
	m.QueryCachePurgesTotal.Inc()
}

// RecordRequest observes one HTTP request. route is the matched route
// pattern, never the raw path.
func (m *Metrics) RecordRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
