package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	upstreamRequestsTotal *prometheus.CounterVec
	upstreamDuration      *prometheus.HistogramVec
	postProcessFallbacks  prometheus.Counter
	chunksPerUpload       prometheus.Histogram
	diarizationOutcomes   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voxscribe_http_requests_total",
				Help: "Total number of HTTP requests handled.",
			},
			[]string{"route", "method", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voxscribe_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"route", "method", "status"},
		),
		upstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voxscribe_upstream_requests_total",
				Help: "Total upstream OpenAI and pyannote API requests.",
			},
			[]string{"endpoint", "status"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voxscribe_upstream_request_duration_seconds",
				Help:    "Upstream request duration in seconds.",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 240},
			},
			[]string{"endpoint", "status"},
		),
		postProcessFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "voxscribe_postprocess_failures_total",
				Help: "Number of transcriptions whose post-processing failed and returned the error text instead.",
			},
		),
		chunksPerUpload: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "voxscribe_transcription_chunks",
				Help:    "Number of chunks each transcribed upload was split into.",
				Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16},
			},
		),
		diarizationOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voxscribe_diarization_submissions_total",
				Help: "Diarization submissions by outcome (submitted, skipped, error).",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.upstreamRequestsTotal,
		m.upstreamDuration,
		m.postProcessFallbacks,
		m.chunksPerUpload,
		m.diarizationOutcomes,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "UNKNOWN"
	}
	statusLabel := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(route, method, statusLabel).Inc()
	m.httpRequestDuration.WithLabelValues(route, method, statusLabel).Observe(duration.Seconds())
}

func (m *Metrics) ObserveUpstream(endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	statusLabel := strconv.Itoa(status)
	m.upstreamRequestsTotal.WithLabelValues(endpoint, statusLabel).Inc()
	m.upstreamDuration.WithLabelValues(endpoint, statusLabel).Observe(duration.Seconds())
}

func (m *Metrics) IncPostProcessFailure() {
	if m == nil {
		return
	}
	m.postProcessFallbacks.Inc()
}

func (m *Metrics) ObserveChunks(n int) {
	if m == nil {
		return
	}
	m.chunksPerUpload.Observe(float64(n))
}

func (m *Metrics) IncDiarizationOutcome(outcome string) {
	if m == nil {
		return
	}
	m.diarizationOutcomes.WithLabelValues(outcome).Inc()
}
