package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for a scraping run.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	ErrorsTotal       *prometheus.CounterVec
	RateLimitWait     prometheus.Histogram
	AssetsSavedTotal  *prometheus.CounterVec
	AssetFailures     prometheus.Counter
	PagesTotal        *prometheus.CounterVec
	MirrorUploadTotal *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syzscrape_requests_total",
			Help: "Total HTTP requests issued, by phase.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syzscrape_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syzscrape_errors_total",
			Help: "Total number of fetch errors by type.",
		},
		[]string{"error_type"},
	)
	rateLimitWait := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syzscrape_rate_limit_wait_seconds",
			Help:    "Time spent waiting for the inter-request interval.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5},
		},
	)
	assetsSaved := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syzscrape_assets_saved_total",
			Help: "Assets written to disk, by write mode.",
		},
		[]string{"kind"},
	)
	assetFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "syzscrape_asset_failures_total",
			Help: "Assets that could not be fetched or written.",
		},
	)
	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syzscrape_pages_total",
			Help: "Pages processed, by outcome.",
		},
		[]string{"outcome"},
	)
	mirror := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syzscrape_mirror_uploads_total",
			Help: "Object-store mirror uploads, by outcome.",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(requests, requestDuration, errorsTotal, rateLimitWait, assetsSaved, assetFailures, pages, mirror)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		ErrorsTotal:       errorsTotal,
		RateLimitWait:     rateLimitWait,
		AssetsSavedTotal:  assetsSaved,
		AssetFailures:     assetFailures,
		PagesTotal:        pages,
		MirrorUploadTotal: mirror,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// ObserveRateLimitWait records how long a call waited for its slot.
func (m *Metrics) ObserveRateLimitWait(_ string, d time.Duration) {
	if m == nil {
		return
	}
	m.RateLimitWait.Observe(d.Seconds())
}

// IncAsset counts a saved asset; kind is "binary" or "text".
func (m *Metrics) IncAsset(kind string) {
	if m == nil {
		return
	}
	m.AssetsSavedTotal.WithLabelValues(kind).Inc()
}

// IncAssetFailure counts an asset that was not saved.
func (m *Metrics) IncAssetFailure() {
	if m == nil {
		return
	}
	m.AssetFailures.Inc()
}

// IncPage counts a processed page by outcome.
func (m *Metrics) IncPage(outcome string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(outcome).Inc()
}

// IncMirror counts a mirror upload by outcome.
func (m *Metrics) IncMirror(outcome string) {
	if m == nil {
		return
	}
	m.MirrorUploadTotal.WithLabelValues(outcome).Inc()
}
