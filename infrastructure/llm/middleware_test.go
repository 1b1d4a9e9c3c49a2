package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

// TestRateLimitMiddleware_Burst tests that a full window is admitted at once
// and the next call waits for a refill.
func TestRateLimitMiddleware_Burst(t *testing.T) {
	mock := NewMockCoreLLM()
	core := Chain(mock, RateLimitMiddleware(3, time.Hour))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := core.DoRequest(ctx, "p", ports.GenerationOptions{})
		require.NoError(t, err)
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err := core.DoRequest(short, "p", ports.GenerationOptions{})
	require.Error(t, err)
	assert.Equal(t, 3, mock.GetCallCount(), "the throttled call never reaches the provider")
}

func TestRateLimitMiddleware_CanceledContext(t *testing.T) {
	mock := NewMockCoreLLM()
	core := Chain(mock, RateLimitMiddleware(1, time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := core.DoRequest(ctx, "p", ports.GenerationOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, mock.GetCallCount())
}

func TestRateLimitMiddleware_Defaults(t *testing.T) {
	mock := NewMockCoreLLM()
	core := Chain(mock, RateLimitMiddleware(0, 0))

	for i := 0; i < DefaultRateLimitRequests; i++ {
		_, err := core.DoRequest(context.Background(), "p", ports.GenerationOptions{})
		require.NoError(t, err)
	}
	assert.Equal(t, "test-model", core.GetModel())
}

func TestTimeoutMiddleware(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.ResponseDelay = time.Second
	core := Chain(mock, TimeoutMiddleware(10*time.Millisecond))

	start := time.Now()
	_, err := core.DoRequest(context.Background(), "p", ports.GenerationOptions{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	mock.ResponseDelay = 0
	out, err := core.DoRequest(context.Background(), "p", ports.GenerationOptions{})
	require.NoError(t, err)
	assert.Equal(t, "test response", out.Text)
}

func TestMetricsMiddleware(t *testing.T) {
	metrics := newRecordingMetrics()
	mock := NewMockCoreLLM()
	core := Chain(mock, MetricsMiddleware(metrics, "gemini"))

	_, err := core.DoRequest(context.Background(), "p", ports.GenerationOptions{})
	require.NoError(t, err)

	mock.Error = NewProviderError("gemini", ErrorTypeRateLimit, 429, "slow down", nil)
	_, err = core.DoRequest(context.Background(), "p", ports.GenerationOptions{})
	require.Error(t, err)

	assert.Equal(t, 1.0, metrics.counter("llm_requests_total:gemini:success"))
	assert.Equal(t, 1.0, metrics.counter("llm_requests_total:gemini:rate_limit"))
	assert.Equal(t, 10.0, metrics.counter("llm_tokens_total:gemini:input"))
	assert.Equal(t, 20.0, metrics.counter("llm_tokens_total:gemini:output"))
}

func TestRequestStatus(t *testing.T) {
	assert.Equal(t, "success", requestStatus(nil))
	assert.Equal(t, "timeout", requestStatus(context.DeadlineExceeded))
	assert.Equal(t, "canceled", requestStatus(context.Canceled))
	assert.Equal(t, "server_error", requestStatus(NewProviderError("p", ErrorTypeServerError, 500, "x", nil)))
	assert.Equal(t, "error", requestStatus(assert.AnError))
}

func newSpanRecorder() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTracingMiddleware(t *testing.T) {
	sr, tp := newSpanRecorder()
	mock := NewMockCoreLLM()
	core := Chain(mock, TracingMiddleware(tp, "openai"))

	_, err := core.DoRequest(context.Background(), "hello", ports.GenerationOptions{Temperature: 0, MaxOutputTokens: 64})
	require.NoError(t, err)

	mock.Error = NewProviderError("openai", ErrorTypeAuthentication, 401, "bad key", nil)
	_, err = core.DoRequest(context.Background(), "hello", ports.GenerationOptions{})
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)

	ok := spans[0]
	assert.Equal(t, "llm.DoRequest", ok.Name())
	assert.Equal(t, codes.Ok, ok.Status().Code)
	attrs := spanAttrs(ok)
	assert.Equal(t, "openai", attrs["llm.provider"].AsString())
	assert.Equal(t, "test-model", attrs["llm.model"].AsString())
	assert.Equal(t, int64(64), attrs["llm.max_output_tokens"].AsInt64())
	assert.Equal(t, int64(5), attrs["llm.prompt_length"].AsInt64())
	assert.Equal(t, int64(20), attrs["llm.tokens_out"].AsInt64())

	failed := spans[1]
	assert.Equal(t, codes.Error, failed.Status().Code)
	assert.Equal(t, "authentication", spanAttrs(failed)["llm.status"].AsString())
	require.NotEmpty(t, failed.Events(), "the error is recorded as a span event")
}
