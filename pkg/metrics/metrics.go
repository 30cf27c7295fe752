// Package metrics defines the Prometheus collectors used by the geocoder
// and the shard build tools, and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	CoalesceTotal        *prometheus.CounterVec
	CoalesceLatency      *prometheus.HistogramVec
	CoalesceGroups       prometheus.Histogram
	CacheLookupsTotal    *prometheus.CounterVec
	ResultCacheHits      prometheus.Counter
	ResultCacheMisses    prometheus.Counter
	PhraseRelevLatency   prometheus.Histogram
	PhraseRelevPhrases   prometheus.Histogram
	MergesTotal          *prometheus.CounterVec
	ShardsLoaded         *prometheus.GaugeVec
}

// New creates the collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		CoalesceTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coalesce_requests_total",
				Help: "Coalesce calls by outcome (ok, empty, invalid, error).",
			},
			[]string{"result"},
		),
		CoalesceLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coalesce_latency_seconds",
				Help:    "Coalesce latency in seconds by phase (retrieve, join, total).",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"phase"},
		),
		CoalesceGroups: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "coalesce_groups",
				Help:    "Number of groups returned per coalesce call.",
				Buckets: []float64{0, 1, 5, 10, 20, 40},
			},
		),
		CacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_lookups_total",
				Help: "Posting list lookups by backend and result (hit, empty, error).",
			},
			[]string{"backend", "result"},
		),
		ResultCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "result_cache_hits_total",
				Help: "Coalesce responses served from the result cache.",
			},
		),
		ResultCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "result_cache_misses_total",
				Help: "Coalesce responses computed because the result cache missed.",
			},
		),
		PhraseRelevLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "phraserelev_latency_seconds",
				Help:    "Phrase relevance scoring latency in seconds.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
		),
		PhraseRelevPhrases: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "phraserelev_phrases",
				Help:    "Candidate phrases scored per call.",
				Buckets: []float64{0, 1, 10, 100, 1000, 10000},
			},
		),
		MergesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shard_merges_total",
				Help: "Shard blob merges by merge type and status.",
			},
			[]string{"type", "status"},
		),
		ShardsLoaded: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cache_shards_loaded",
				Help: "Populated shards per cache and type.",
			},
			[]string{"cache", "type"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.CoalesceTotal,
		m.CoalesceLatency,
		m.CoalesceGroups,
		m.CacheLookupsTotal,
		m.ResultCacheHits,
		m.ResultCacheMisses,
		m.PhraseRelevLatency,
		m.PhraseRelevPhrases,
		m.MergesTotal,
		m.ShardsLoaded,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
