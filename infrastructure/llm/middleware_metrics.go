package llm

import (
	"context"
	"errors"
	"time"

	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

type metricsLLM struct {
	next      CoreLLM
	collector ports.MetricsCollector
	provider  string
}

// MetricsMiddleware records request counts, latency and token usage per
// provider and model.
func MetricsMiddleware(collector ports.MetricsCollector, provider string) Middleware {
	if collector == nil {
		collector = ports.NoopMetrics{}
	}
	return func(next CoreLLM) CoreLLM {
		return &metricsLLM{next: next, collector: collector, provider: provider}
	}
}

func (m *metricsLLM) DoRequest(ctx context.Context, prompt string, opts ports.GenerationOptions) (Completion, error) {
	start := time.Now()
	out, err := m.next.DoRequest(ctx, prompt, opts)

	labels := map[string]string{
		"provider": m.provider,
		"model":    m.next.GetModel(),
		"status":   requestStatus(err),
	}
	m.collector.RecordLatency("llm_request", time.Since(start), labels)
	m.collector.RecordCounter("llm_requests_total", 1, labels)

	if err == nil {
		m.collector.RecordCounter("llm_tokens_total", float64(out.TokensIn),
			map[string]string{"provider": m.provider, "model": labels["model"], "direction": "input"})
		m.collector.RecordCounter("llm_tokens_total", float64(out.TokensOut),
			map[string]string{"provider": m.provider, "model": labels["model"], "direction": "output"})
	}
	return out, err
}

func (m *metricsLLM) GetModel() string { return m.next.GetModel() }

// requestStatus labels an outcome: success, timeout, canceled, or the
// provider error type.
func requestStatus(err error) string {
	var pe *ProviderError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &pe):
		return pe.Type.String()
	default:
		return "error"
	}
}
