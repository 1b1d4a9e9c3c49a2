package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

const metricsNamespace = "trust"

// PrometheusMetrics implements the MetricsCollector interface using
// Prometheus. Known metric names map onto dedicated vectors; anything else
// lands in the generic operation, gauge and histogram families.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	evaluations       *prometheus.CounterVec
	evaluationLatency *prometheus.HistogramVec
	trustScore        *prometheus.HistogramVec
	verdicts          *prometheus.CounterVec

	cacheEvents  *prometheus.CounterVec
	cacheEntries *prometheus.GaugeVec

	breakerState       prometheus.Gauge
	breakerTransitions *prometheus.CounterVec

	concurrencyLimit prometheus.Gauge
	inFlight         prometheus.Gauge
	hostLoad         *prometheus.GaugeVec

	batchSize  prometheus.Histogram
	queueDepth prometheus.Gauge

	llmRequests *prometheus.CounterVec
	llmLatency  *prometheus.HistogramVec
	llmTokens   *prometheus.CounterVec

	operations *prometheus.CounterVec
	gauges     *prometheus.GaugeVec
	histograms *prometheus.HistogramVec
	latency    *prometheus.HistogramVec
}

// NewPrometheusMetrics creates the collectors on a fresh registry, so
// several instances can coexist in one process. Pass the registry from
// Registry to promhttp to expose it.
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &PrometheusMetrics{
		registry: reg,

		evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "evaluations_total",
			Help:      "Evaluations by scoring function and outcome.",
		}, []string{"scoring_function", "status"}),
		evaluationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "evaluation_duration_seconds",
			Help:      "End-to-end evaluation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"scoring_function"}),
		trustScore: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "score",
			Help:      "Distribution of produced trust scores.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}, []string{"scoring_function"}),
		verdicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reflection_verdicts_total",
			Help:      "Parsed reflection verdicts.",
		}, []string{"verdict"}),

		cacheEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_events_total",
			Help:      "Cache hits, misses, evictions and expirations.",
		}, []string{"cache", "event"}),
		cacheEntries: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "cache_entries",
			Help:      "Live cache entries.",
		}, []string{"cache"}),

		breakerState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "circuit_breaker_state",
			Help:      "Breaker state: 0 closed, 1 open, 2 half-open.",
		}),
		breakerTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Breaker state transitions.",
		}, []string{"from", "to"}),

		concurrencyLimit: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "concurrency_limit",
			Help:      "Current concurrency limit.",
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "concurrency_in_flight",
			Help:      "Evaluations currently holding a permit.",
		}),
		hostLoad: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "host_load_percent",
			Help:      "Last sampled host utilisation.",
		}, []string{"resource"}),

		batchSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "batch_size",
			Help:      "Items per dispatched batch.",
			Buckets:   []float64{1, 2, 5, 10, 20, 40, 80, 100},
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "batch_queue_depth",
			Help:      "Items waiting in the batch scheduler.",
		}),

		llmRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "llm_requests_total",
			Help:      "Model requests by provider, model and status.",
		}, []string{"provider", "model", "status"}),
		llmLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Model request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "model"}),
		llmTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens exchanged with the model.",
		}, []string{"provider", "model", "direction"}),

		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operations_total",
			Help:      "Other counted events.",
		}, []string{"operation"}),
		gauges: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "state",
			Help:      "Other state values.",
		}, []string{"metric"}),
		histograms: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "observations",
			Help:      "Other observed distributions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"metric"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of other operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

// Registry returns the registry holding every collector.
func (pm *PrometheusMetrics) Registry() *prometheus.Registry { return pm.registry }

// label returns labels[key], or "unknown" when missing or empty.
func label(labels map[string]string, key string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return "unknown"
}

// RecordLatency implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, labels map[string]string) {
	switch operation {
	case "evaluation":
		pm.evaluationLatency.WithLabelValues(label(labels, "scoring_function")).Observe(duration.Seconds())
	case "llm_request":
		pm.llmLatency.WithLabelValues(label(labels, "provider"), label(labels, "model")).Observe(duration.Seconds())
	default:
		pm.latency.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

// RecordCounter implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	switch metric {
	case "evaluations_total":
		pm.evaluations.WithLabelValues(label(labels, "scoring_function"), label(labels, "status")).Add(value)
	case "reflection_verdicts_total":
		pm.verdicts.WithLabelValues(label(labels, "verdict")).Add(value)
	case "cache_events_total":
		pm.cacheEvents.WithLabelValues(label(labels, "cache"), label(labels, "event")).Add(value)
	case "circuit_breaker_transitions_total":
		pm.breakerTransitions.WithLabelValues(label(labels, "from"), label(labels, "to")).Add(value)
	case "llm_requests_total":
		pm.llmRequests.WithLabelValues(label(labels, "provider"), label(labels, "model"), label(labels, "status")).Add(value)
	case "llm_tokens_total":
		pm.llmTokens.WithLabelValues(label(labels, "provider"), label(labels, "model"), label(labels, "direction")).Add(value)
	default:
		pm.operations.WithLabelValues(metric).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, labels map[string]string) {
	switch metric {
	case "cache_entries":
		pm.cacheEntries.WithLabelValues(label(labels, "cache")).Set(value)
	case "circuit_breaker_state":
		pm.breakerState.Set(value)
	case "concurrency_limit":
		pm.concurrencyLimit.Set(value)
	case "concurrency_in_flight":
		pm.inFlight.Set(value)
	case "host_cpu_percent":
		pm.hostLoad.WithLabelValues("cpu").Set(value)
	case "host_memory_percent":
		pm.hostLoad.WithLabelValues("memory").Set(value)
	case "batch_queue_depth":
		pm.queueDepth.Set(value)
	default:
		pm.gauges.WithLabelValues(metric).Set(value)
	}
}

// RecordHistogram implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	switch metric {
	case "trust_score":
		pm.trustScore.WithLabelValues(label(labels, "scoring_function")).Observe(value)
	case "batch_size":
		pm.batchSize.Observe(value)
	default:
		pm.histograms.WithLabelValues(metric).Observe(value)
	}
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
