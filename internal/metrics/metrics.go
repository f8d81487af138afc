// Package metrics exposes Prometheus collectors for scraping and crawling.
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

// Render escalation outcomes.
const (
	RenderAccepted = "accepted"
	RenderRejected = "rejected"
	RenderFailed   = "failed"
	RenderFallback = "fallback"
)

var (
	pagesTotal                 *prometheus.CounterVec
	bytesTotal                 *prometheus.CounterVec
	renderEscalationsTotal     *prometheus.CounterVec
	detectorDecisionsTotal     *prometheus.CounterVec
	crawlRunsTotal             *prometheus.CounterVec
	crawlJobsTotal             *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	queueDepth                 prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapekit_pages_total",
				Help: "Total number of pages processed, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		bytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapekit_bytes_total",
				Help: "Total number of HTML bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		renderEscalationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapekit_render_escalations_total",
				Help: "Heavy-render attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		detectorDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapekit_detector_decisions_total",
				Help: "Content-type detector decisions, labeled by domain hint and decision.",
			},
			[]string{"hint", "render"},
		)

		crawlRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapekit_crawl_runs_total",
				Help: "Crawl runs finished, labeled by status.",
			},
			[]string{"status"},
		)

		crawlJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapekit_crawl_jobs_total",
				Help: "Asynchronous crawl jobs finished, labeled by job status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scrapekit_active_workers",
				Help: "Number of workers currently running a crawl job.",
			},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scrapekit_crawl_queue_depth",
				Help: "Crawl jobs waiting for a worker.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scrapekit_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit and domain delay waits.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname for use as a label.
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
	Init()
	return promhttp.Handler()
}

// ObservePage records one processed page.
func ObservePage(site string, success bool, bytesFetched int) {
	Init()
	status := "success"
	if !success {
		status = "failure"
	}
	sanitized := SanitizeSite(site)
	pagesTotal.WithLabelValues(sanitized, status).Inc()
	if bytesFetched > 0 {
		bytesTotal.WithLabelValues(sanitized).Add(float64(bytesFetched))
	}
}

// ObserveRender records the outcome of a heavy-render attempt.
func ObserveRender(outcome string) {
	Init()
	renderEscalationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDetector records a content-type detector decision.
func ObserveDetector(hint string, render bool) {
	Init()
	detectorDecisionsTotal.WithLabelValues(hint, strconv.FormatBool(render)).Inc()
}

// ObserveCrawlRun records a finished crawl run.
func ObserveCrawlRun(status string) {
	Init()
	crawlRunsTotal.WithLabelValues(status).Inc()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	crawlJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// SetQueueDepth records how many crawl jobs are waiting for a worker.
func SetQueueDepth(n int) {
	Init()
	queueDepth.Set(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit or domain delay wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
