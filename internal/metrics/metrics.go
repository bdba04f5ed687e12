// Package metrics owns the process-wide Prometheus collectors that are not
// driven by progress events.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec
	recordWritesTotal          *prometheus.CounterVec
	browserRotationsTotal      *prometheus.CounterVec
	openTabs                   prometheus.Gauge

	once sync.Once
)

// Init registers the collectors with the default registry. Safe to call
// more than once.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "API requests by method and status code.",
		}, []string{"method", "code"})

		httpRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "API request latency by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"})

		activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_active_workers",
			Help: "Workers currently exploring a product.",
		})

		rateLimitDelaySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_rate_limit_delays_seconds",
			Help:    "Time spent waiting on the per-domain limiter.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"domain"})

		recordWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_record_writes_total",
			Help: "Variant record writes by sink and result.",
		}, []string{"sink", "result"})

		browserRotationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_browser_rotations_total",
			Help: "Browser session restarts by retailer.",
		}, []string{"site"})

		openTabs = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_browser_open_tabs",
			Help: "Browser tabs currently open.",
		})
	})
}

// SanitizeSite reduces a URL or host to a lowercase hostname label, or
// "unknown".
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

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest records one API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers marks a worker busy.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers marks a worker idle.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records a limiter wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(SanitizeSite(domain)).Observe(duration.Seconds())
}

// ObserveRecordWrite counts a sink write.
func ObserveRecordWrite(sink string, err error) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	recordWritesTotal.WithLabelValues(sink, result).Inc()
}

// ObserveBrowserRotation counts a session restart for site.
func ObserveBrowserRotation(site string) {
	Init()
	browserRotationsTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// TabOpened and TabClosed track the open tab gauge.
func TabOpened() {
	Init()
	openTabs.Inc()
}

// TabClosed decrements the open tab gauge.
func TabClosed() {
	Init()
	openTabs.Dec()
}
