// Package metrics exposes Prometheus collectors for the menu harvester.
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
	harvesterFetchesTotal          *prometheus.CounterVec
	harvesterBytesTotal            *prometheus.CounterVec
	harvesterRobotsSkipsTotal      prometheus.Counter
	harvesterRobotsFallbackTotal   prometheus.Counter
	harvesterItemsTotal            *prometheus.CounterVec
	harvesterVenuesTotal           *prometheus.CounterVec
	harvesterRemoteFailuresTotal   *prometheus.CounterVec
	harvesterRateLimitDelaySeconds *prometheus.HistogramVec
	httpRequestsTotal              *prometheus.CounterVec
	httpRequestDurationSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvesterFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetches_total",
				Help: "Total number of page fetches, labeled by site and outcome kind.",
			},
			[]string{"site", "kind"},
		)

		harvesterBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_bytes_total",
				Help: "Total number of body bytes accepted, labeled by site.",
			},
			[]string{"site"},
		)

		harvesterRobotsSkipsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_robots_skips_total",
				Help: "Total URLs skipped because robots.txt disallowed them.",
			},
		)

		harvesterRobotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_robots_fallback_total",
				Help: "Total hosts treated as fully allowed after a failed robots.txt fetch.",
			},
		)

		harvesterItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_menu_items_total",
				Help: "Total menu items persisted, labeled by parser source.",
			},
			[]string{"source"},
		)

		harvesterVenuesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_venues_total",
				Help: "Total venues handled by the orchestrator, labeled by status.",
			},
			[]string{"status"},
		)

		harvesterRemoteFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_remote_store_failures_total",
				Help: "Total remote upserts that failed and were swallowed, labeled by entity.",
			},
			[]string{"entity"},
		)

		harvesterRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of per-host limiter wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records a fetch outcome and the bytes it accepted.
func ObserveFetch(site string, kind string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	harvesterFetchesTotal.WithLabelValues(sanitizedSite, kind).Inc()
	if bytesFetched > 0 {
		harvesterBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveRobotsSkip counts a URL skipped by robots.txt.
func ObserveRobotsSkip() {
	Init()
	harvesterRobotsSkipsTotal.Inc()
}

// ObserveRobotsFallback counts a host whose robots.txt could not be fetched.
func ObserveRobotsFallback() {
	Init()
	harvesterRobotsFallbackTotal.Inc()
}

// ObserveItems adds persisted items for a parser source.
func ObserveItems(source string, count int) {
	Init()
	if source == "" {
		source = "none"
	}
	harvesterItemsTotal.WithLabelValues(source).Add(float64(count))
}

// ObserveVenue increments the venue counter for the given status.
func ObserveVenue(status string) {
	Init()
	harvesterVenuesTotal.WithLabelValues(status).Inc()
}

// ObserveRemoteFailure counts a swallowed remote-store failure.
func ObserveRemoteFailure(entity string) {
	Init()
	harvesterRemoteFailuresTotal.WithLabelValues(entity).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	harvesterRateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
