// Package metrics exposes Prometheus collectors for the page watcher.
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
	checksTotal            *prometheus.CounterVec
	renderAttemptsTotal    *prometheus.CounterVec
	renderDurationSeconds  *prometheus.HistogramVec
	renderHTMLBytes        prometheus.Gauge
	notificationsTotal     *prometheus.CounterVec
	consecutiveErrors      prometheus.Gauge
	nextCheckDelaySeconds  prometheus.Gauge
	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDurationSec *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		checksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagewatch_checks_total",
				Help: "Total number of checks, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		renderAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagewatch_render_attempts_total",
				Help: "Total number of headless render attempts, labeled by result.",
			},
			[]string{"site", "result"},
		)

		renderDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pagewatch_render_duration_seconds",
				Help:    "Histogram of render attempt durations.",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"site"},
		)

		renderHTMLBytes = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pagewatch_render_html_bytes",
				Help: "Size of the most recently rendered document.",
			},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagewatch_notifications_total",
				Help: "Total number of notification deliveries, labeled by result.",
			},
			[]string{"result"},
		)

		consecutiveErrors = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pagewatch_consecutive_errors",
				Help: "Number of consecutive failed checks.",
			},
		)

		nextCheckDelaySeconds = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pagewatch_next_check_delay_seconds",
				Help: "Delay before the next scheduled check.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of ops HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSec = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of ops HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
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

// ObserveCheck counts one finished check with outcome first_run, changed,
// unchanged or error.
func ObserveCheck(site, outcome string) {
	Init()
	checksTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveRender records one render attempt.
func ObserveRender(site string, ok bool, duration time.Duration, htmlBytes int) {
	Init()
	result := "ok"
	if !ok {
		result = "error"
	}
	sanitized := SanitizeSite(site)
	renderAttemptsTotal.WithLabelValues(sanitized, result).Inc()
	renderDurationSeconds.WithLabelValues(sanitized).Observe(duration.Seconds())
	if ok {
		renderHTMLBytes.Set(float64(htmlBytes))
	}
}

// ObserveNotification records one delivery attempt with result sent, failed or skipped.
func ObserveNotification(result string) {
	Init()
	notificationsTotal.WithLabelValues(result).Inc()
}

// SetConsecutiveErrors publishes the loop's error counter.
func SetConsecutiveErrors(n int) {
	Init()
	consecutiveErrors.Set(float64(n))
}

// SetNextCheckDelay publishes the sleep chosen before the next check.
func SetNextCheckDelay(d time.Duration) {
	Init()
	nextCheckDelaySeconds.Set(d.Seconds())
}

// ObserveHTTPRequest increments the ops HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSec.WithLabelValues(method, route).Observe(duration.Seconds())
}
