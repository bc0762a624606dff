// Package metrics exposes Prometheus collectors for the ranking data service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlPagesTotal            *prometheus.CounterVec
	crawlCacheLookupsTotal     *prometheus.CounterVec
	crawlCollapsedWaitsTotal   prometheus.Counter
	crawlRateLimitDelaySeconds prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "malody_crawl_pages_total",
				Help: "Total number of remote pages crawled, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		crawlCacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "malody_crawl_cache_lookups_total",
				Help: "Total crawl cache lookups, labeled by result (hit/miss).",
			},
			[]string{"result"},
		)

		crawlCollapsedWaitsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "malody_crawl_collapsed_waits_total",
				Help: "Total requests served by awaiting an already in-flight fetch.",
			},
		)

		crawlRateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "malody_crawl_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCrawl increments the crawl counter for a finished page crawl.
func ObserveCrawl(kind, outcome string) {
	if crawlPagesTotal == nil {
		return
	}
	crawlPagesTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveCacheLookup records a crawl cache hit or miss.
func ObserveCacheLookup(hit bool) {
	if crawlCacheLookupsTotal == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	crawlCacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveCollapsedWait records a request that piggybacked on an in-flight fetch.
func ObserveCollapsedWait() {
	if crawlCollapsedWaitsTotal == nil {
		return
	}
	crawlCollapsedWaitsTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	if crawlRateLimitDelaySeconds == nil {
		return
	}
	crawlRateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
