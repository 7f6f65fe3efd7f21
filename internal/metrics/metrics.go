// Package metrics exposes Prometheus collectors for the archiver service.
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
	archiverScrapesTotal       *prometheus.CounterVec
	archiverInteractionsTotal  *prometheus.CounterVec
	archiverCapturesTotal      *prometheus.CounterVec
	archiverCaptureBytesTotal  *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		archiverScrapesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_scrapes_total",
				Help: "Total number of snapshot ingestions, labeled by provenance and outcome.",
			},
			[]string{"provenance", "outcome"},
		)

		archiverInteractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_interactions_total",
				Help: "Total number of user interactions recorded, labeled by type.",
			},
			[]string{"type"},
		)

		archiverCapturesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_captures_total",
				Help: "Total number of page captures attempted, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		archiverCaptureBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_capture_bytes_total",
				Help: "Total number of bytes captured, labeled by site.",
			},
			[]string{"site"},
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

// ObserveScrape increments the ingestion counter.
func ObserveScrape(provenance, outcome string) {
	Init()
	archiverScrapesTotal.WithLabelValues(provenance, outcome).Inc()
}

// ObserveInteraction increments the interaction counter for the given type.
func ObserveInteraction(kind string) {
	Init()
	archiverInteractionsTotal.WithLabelValues(kind).Inc()
}

// ObserveCapture increments the capture metrics.
func ObserveCapture(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	archiverCapturesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		archiverCaptureBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
