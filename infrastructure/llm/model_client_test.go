package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ridwanabdusalam/cleanlab/internal/domain"
	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, BaseDelay: time.Millisecond, JitterFraction: 0.1}
}

func TestModelClient_SuccessFirstAttempt(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.Response = "answer: [A]"
	c := NewModelClient(mock, fastRetry(3))

	got, err := c.Send(context.Background(), "prompt", ports.GenerationOptions{})
	require.NoError(t, err)
	assert.Equal(t, "answer: [A]", got)
	assert.Equal(t, 1, mock.GetCallCount())
	assert.Equal(t, "test-model", c.GetModel())
}

// TestModelClient_RetriesUntilSuccess tests that transient failures are
// retried and the eventual reply is returned.
func TestModelClient_RetriesUntilSuccess(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.FailUntilAttempt = 2
	mock.Response = "[B]"
	c := NewModelClient(mock, fastRetry(3))

	got, err := c.Generate(context.Background(), "prompt", ports.GenerationOptions{})
	require.NoError(t, err)
	assert.Equal(t, "[B]", got)
	assert.Equal(t, 3, mock.GetCallCount())
}

// TestModelClient_ExhaustionReturnsUncertain tests that Send substitutes the
// uncertain reply once every attempt has failed, while Generate reports an
// UpstreamError.
func TestModelClient_ExhaustionReturnsUncertain(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.Error = NewProviderError("gemini", ErrorTypeServerError, 500, "down", nil)
	c := NewModelClient(mock, fastRetry(3))

	_, err := c.Generate(context.Background(), "prompt", ports.GenerationOptions{})
	var upErr *domain.UpstreamError
	require.True(t, errors.As(err, &upErr), "expected UpstreamError, got %v", err)
	assert.Equal(t, 3, upErr.Attempts)
	assert.Equal(t, "test-model", upErr.Model)
	var pe *ProviderError
	assert.True(t, errors.As(err, &pe), "cause should stay reachable")

	mock.Reset()
	got, err := c.Send(context.Background(), "prompt", ports.GenerationOptions{})
	require.NoError(t, err)
	assert.Equal(t, UncertainReply, got)
	assert.Equal(t, domain.VerdictUncertain, domain.ParseVerdict(got))
	assert.Equal(t, 3, mock.GetCallCount())
}

func TestModelClient_PermanentErrorStopsEarly(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.Error = NewProviderError("gemini", ErrorTypeAuthentication, 403, "bad key", nil)
	c := NewModelClient(mock, fastRetry(3))

	_, err := c.Generate(context.Background(), "prompt", ports.GenerationOptions{})
	var upErr *domain.UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, 1, upErr.Attempts)
	assert.Equal(t, 1, mock.GetCallCount())
}

// TestModelClient_BlockedReplyIsRetried tests that a 200 reply carrying no
// text because of a content block uses every attempt, while a request the
// filter rejects with an error status stops at once.
func TestModelClient_BlockedReplyIsRetried(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int
	}{
		{"blocked reply", http.StatusOK, 3},
		{"rejected request", http.StatusBadRequest, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockCoreLLM()
			mock.Error = NewProviderError("gemini", ErrorTypeContentPolicy, tt.status, "blocked", nil)
			c := NewModelClient(mock, fastRetry(3))

			got, err := c.Send(context.Background(), "prompt", ports.GenerationOptions{})
			require.NoError(t, err)
			assert.Equal(t, UncertainReply, got)
			assert.Equal(t, tt.wantCalls, mock.GetCallCount())
		})
	}
}

// TestModelClient_CancelDuringBackoff tests that cancelling the context
// while waiting to retry returns the context error, not the uncertain
// reply.
func TestModelClient_CancelDuringBackoff(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.Error = errors.New("connection reset")
	c := NewModelClient(mock, RetryConfig{MaxAttempts: 3, BaseDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	got, err := c.Send(ctx, "prompt", ports.GenerationOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, got)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, mock.GetCallCount())
}

func TestModelClient_CanceledBeforeStart(t *testing.T) {
	mock := NewMockCoreLLM()
	c := NewModelClient(mock, fastRetry(3))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Send(ctx, "prompt", ports.GenerationOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, mock.GetCallCount())
}

// TestModelClient_PerAttemptTimeoutIsRetried tests that a deadline from the
// timeout middleware counts as a failed attempt rather than cancellation.
func TestModelClient_PerAttemptTimeoutIsRetried(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.ResponseDelay = time.Second
	core := Chain(mock, TimeoutMiddleware(10*time.Millisecond))
	c := NewModelClient(core, fastRetry(2))

	got, err := c.Send(context.Background(), "prompt", ports.GenerationOptions{})
	require.NoError(t, err)
	assert.Equal(t, UncertainReply, got)
	assert.Equal(t, 2, mock.GetCallCount())
}

func TestModelClient_Backoff(t *testing.T) {
	tests := []struct {
		name    string
		config  RetryConfig
		rand    float64
		attempt int
		want    time.Duration
	}{
		{"no jitter at midpoint", RetryConfig{BaseDelay: time.Second, JitterFraction: 0.1}, 0.5, 0, time.Second},
		{"doubles per attempt", RetryConfig{BaseDelay: time.Second, JitterFraction: 0.1}, 0.5, 2, 4 * time.Second},
		{"upper jitter", RetryConfig{BaseDelay: time.Second, JitterFraction: 0.1}, 1, 1, 2100 * time.Millisecond},
		{"lower jitter", RetryConfig{BaseDelay: time.Second, JitterFraction: 0.1}, 0, 1, 1900 * time.Millisecond},
		{"capped", RetryConfig{BaseDelay: time.Second, MaxDelay: 3 * time.Second}, 0.5, 5, 3 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.MaxAttempts = 3
			c := NewModelClient(NewMockCoreLLM(), tt.config, WithJitterSource(func() float64 { return tt.rand }))
			assert.Equal(t, tt.want, c.backoff(tt.attempt))
		})
	}
}

func TestNewModelClient_Normalizes(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.Error = errors.New("fail")
	c := NewModelClient(mock, RetryConfig{MaxAttempts: 0, BaseDelay: -time.Second, JitterFraction: 5})

	assert.Equal(t, 1, c.config.MaxAttempts)
	assert.Equal(t, time.Duration(0), c.config.BaseDelay)
	assert.Equal(t, 1.0, c.config.JitterFraction)

	_, err := c.Generate(context.Background(), "p", ports.GenerationOptions{})
	assert.Error(t, err)
	assert.Equal(t, 1, mock.GetCallCount())
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.BaseDelay)
	assert.Equal(t, 0.1, cfg.JitterFraction)
}
