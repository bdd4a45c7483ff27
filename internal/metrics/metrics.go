// Package metrics exposes Prometheus collectors for the metadata service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	cacheLookupsTotal             *prometheus.CounterVec
	cacheRevalidationsTotal       *prometheus.CounterVec
	cacheEvictionsTotal           prometheus.Counter
	upstreamFetchesTotal          *prometheus.CounterVec
	upstreamFetchDurationSeconds  *prometheus.HistogramVec
	batchItemsTotal               *prometheus.CounterVec
	batchDurationSeconds          prometheus.Histogram
	outboundRateLimitDelaySeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkmeta_cache_lookups_total",
				Help: "Cache lookups, labeled by the state the key was found in.",
			},
			[]string{"state"},
		)

		cacheRevalidationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkmeta_cache_revalidations_total",
				Help: "Background revalidations of stale entries, labeled by result.",
			},
			[]string{"result"},
		)

		cacheEvictionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "linkmeta_cache_evictions_total",
				Help: "Entries dropped because the cache reached capacity.",
			},
		)

		upstreamFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkmeta_upstream_fetches_total",
				Help: "Outbound fetches, labeled by kind and status class.",
			},
			[]string{"kind", "status"},
		)

		upstreamFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkmeta_upstream_fetch_duration_seconds",
				Help:    "Histogram of outbound fetch latencies, labeled by kind.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"kind"},
		)

		batchItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkmeta_batch_items_total",
				Help: "Batch items processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		batchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "linkmeta_batch_duration_seconds",
				Help:    "Histogram of whole-batch latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		outboundRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkmeta_rate_limit_delays_seconds",
				Help:    "Histogram of outbound rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// StatusClass buckets an HTTP status into "2xx".."5xx". Zero means the
// exchange failed before a status was read.
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCacheLookup counts a cache lookup in the given state.
func ObserveCacheLookup(state string) {
	Init()
	cacheLookupsTotal.WithLabelValues(state).Inc()
}

// ObserveRevalidation counts a finished background revalidation.
func ObserveRevalidation(err error) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheRevalidationsTotal.WithLabelValues(result).Inc()
}

// ObserveEviction counts a capacity eviction.
func ObserveEviction() {
	Init()
	cacheEvictionsTotal.Inc()
}

// ObserveUpstreamFetch records one outbound fetch.
func ObserveUpstreamFetch(kind string, code int, duration time.Duration) {
	Init()
	upstreamFetchesTotal.WithLabelValues(kind, StatusClass(code)).Inc()
	upstreamFetchDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveBatchItem counts a finished batch item.
func ObserveBatchItem(outcome string) {
	Init()
	batchItemsTotal.WithLabelValues(outcome).Inc()
}

// ObserveBatch records the latency of a whole batch.
func ObserveBatch(duration time.Duration) {
	Init()
	batchDurationSeconds.Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	outboundRateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
