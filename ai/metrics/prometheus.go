// Package metrics provides Prometheus metrics export for AI modules.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter exports AI metrics in Prometheus format.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Generation metrics
	generationLatency *prometheus.HistogramVec
	generationTotal   *prometheus.CounterVec
	generationActive  prometheus.Gauge
	llmTokensUsed     *prometheus.CounterVec

	// Memory index metrics
	indexedChunks  *prometheus.CounterVec
	indexingErrors *prometheus.CounterVec
	searchLatency  prometheus.Histogram

	// Context assembly metrics
	contextTokens     prometheus.Histogram
	contextTruncated  prometheus.Counter
	retrievalIncluded prometheus.Histogram
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.generationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kbase",
			Subsystem: "ai",
			Name:      "generation_latency_seconds",
			Help:      "Generation request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"kind"},
	)

	e.generationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbase",
			Subsystem: "ai",
			Name:      "generation_requests_total",
			Help:      "Total number of generation requests",
		},
		[]string{"kind", "status"},
	)

	e.generationActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kbase",
			Subsystem: "ai",
			Name:      "generation_active",
			Help:      "Number of generations currently streaming",
		},
	)

	e.llmTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbase",
			Subsystem: "ai",
			Name:      "llm_tokens_total",
			Help:      "Total LLM tokens consumed",
		},
		[]string{"model", "token_type"},
	)

	e.indexedChunks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbase",
			Subsystem: "memory",
			Name:      "indexed_chunks_total",
			Help:      "Total memory chunks written to the index",
		},
		[]string{"content_type"},
	)

	e.indexingErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbase",
			Subsystem: "memory",
			Name:      "indexing_errors_total",
			Help:      "Total indexing failures (skips excluded)",
		},
		[]string{"reason"},
	)

	e.searchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kbase",
			Subsystem: "memory",
			Name:      "search_latency_seconds",
			Help:      "Memory search latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
	)

	e.contextTokens = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kbase",
			Subsystem: "context",
			Name:      "assembled_tokens",
			Help:      "Estimated token size of assembled prompts",
			Buckets:   []float64{500, 1000, 2000, 4000, 6000, 8000, 12000, 16000},
		},
	)

	e.contextTruncated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kbase",
			Subsystem: "context",
			Name:      "truncated_total",
			Help:      "Total prompts that dropped history to fit the budget",
		},
	)

	e.retrievalIncluded = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kbase",
			Subsystem: "context",
			Name:      "retrieval_chunks",
			Help:      "Number of retrieved chunks included per prompt",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 10},
		},
	)

	registry.MustRegister(
		e.generationLatency,
		e.generationTotal,
		e.generationActive,
		e.llmTokensUsed,
		e.indexedChunks,
		e.indexingErrors,
		e.searchLatency,
		e.contextTokens,
		e.contextTruncated,
		e.retrievalIncluded,
	)

	return e
}

// RecordGeneration records a finished generation request.
func (e *PrometheusExporter) RecordGeneration(kind string, latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.generationLatency.WithLabelValues(kind).Observe(latency.Seconds())
	e.generationTotal.WithLabelValues(kind, status).Inc()
}

// GenerationStarted marks a generation as in flight.
func (e *PrometheusExporter) GenerationStarted() {
	e.generationActive.Inc()
}

// GenerationFinished marks a generation as no longer in flight.
func (e *PrometheusExporter) GenerationFinished() {
	e.generationActive.Dec()
}

// RecordLLMTokens records token usage for a model.
func (e *PrometheusExporter) RecordLLMTokens(model, tokenType string, count int) {
	if count <= 0 {
		return
	}
	e.llmTokensUsed.WithLabelValues(model, tokenType).Add(float64(count))
}

// RecordIndexedChunk records a chunk written to the memory index.
func (e *PrometheusExporter) RecordIndexedChunk(contentType string) {
	e.indexedChunks.WithLabelValues(contentType).Inc()
}

// RecordIndexingError records a real indexing failure.
func (e *PrometheusExporter) RecordIndexingError(reason string) {
	e.indexingErrors.WithLabelValues(reason).Inc()
}

// RecordSearch records a memory search.
func (e *PrometheusExporter) RecordSearch(latency time.Duration) {
	e.searchLatency.Observe(latency.Seconds())
}

// RecordContextAssembly records the shape of an assembled prompt.
func (e *PrometheusExporter) RecordContextAssembly(tokenEstimate, retrievedChunks int, truncated bool) {
	e.contextTokens.Observe(float64(tokenEstimate))
	e.retrievalIncluded.Observe(float64(retrievedChunks))
	if truncated {
		e.contextTruncated.Inc()
	}
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
