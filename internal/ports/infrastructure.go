package ports

import (
	"context"
	"time"

	"github.com/Ridwanabdusalam/cleanlab/internal/domain"
)

// GenerationOptions are the sampling settings sent with every model request.
type GenerationOptions struct {
	// Temperature controls output randomness. Reflection prompts use 0 so
	// repeated questions get repeatable verdicts.
	Temperature float64
	// MaxOutputTokens caps the length of the model's reply.
	MaxOutputTokens int
}

// ModelClient sends a single prompt to a language model and returns its
// text. Implementations handle retries and backoff internally.
type ModelClient interface {
	// Send returns the model's reply. When every attempt fails it returns
	// an uncertain verdict placeholder instead of an error so callers can
	// keep aggregating; only context cancellation is surfaced as an error.
	Send(ctx context.Context, prompt string, opts GenerationOptions) (string, error)

	// GetModel returns the model identifier being used by this client.
	// This is useful for logging and debugging purposes.
	GetModel() string
}

// ScoreCache stores computed trust scores keyed by the request's cache key.
// Implementations must be safe for concurrent use.
type ScoreCache interface {
	// Get returns a live entry and refreshes its recency.
	Get(key string) (domain.TrustScore, bool)
	// Put stores a value, evicting least recently used entries as needed.
	Put(key string, value domain.TrustScore, size int)
}

// LoadSample is one observation of host utilisation, in percent.
type LoadSample struct {
	CPUPercent    float64
	MemoryPercent float64
	Timestamp     time.Time
}

// LoadSampler reads host CPU and memory utilisation.
type LoadSampler interface {
	Sample(ctx context.Context) (LoadSample, error)
}

// MetricsCollector defines the interface for collecting operational metrics.
// Implementations should integrate with observability platforms like
// Prometheus,
// OpenTelemetry, or custom monitoring solutions.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	// This is useful for tracking events like cache hits/misses, errors, etc.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	// This is useful for tracking values like queue depth, active
	// connections, etc.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	// This is useful for tracking distributions like response sizes,
	// scores, etc.
	RecordHistogram(metric string, value float64, labels map[string]string)
}

// NoopMetrics discards every measurement. It lets components treat a
// collector as always present.
type NoopMetrics struct{}

var _ MetricsCollector = NoopMetrics{}

// RecordLatency implements MetricsCollector.
func (NoopMetrics) RecordLatency(string, time.Duration, map[string]string) {}

// RecordCounter implements MetricsCollector.
func (NoopMetrics) RecordCounter(string, float64, map[string]string) {}

// RecordGauge implements MetricsCollector.
func (NoopMetrics) RecordGauge(string, float64, map[string]string) {}

// RecordHistogram implements MetricsCollector.
func (NoopMetrics) RecordHistogram(string, float64, map[string]string) {}
