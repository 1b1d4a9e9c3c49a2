package llm

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/Ridwanabdusalam/cleanlab/internal/domain"
	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

// UncertainReply is what Send returns once every attempt has failed. It
// parses as an uncertain verdict.
const UncertainReply = "answer: [C]"

// Default retry configuration.
const (
	DefaultMaxAttempts    = 3
	DefaultBaseDelay      = 1 * time.Second
	DefaultJitterFraction = 0.1
)

// RetryConfig controls ModelClient's exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, first call included.
	MaxAttempts int

	// BaseDelay is the wait after the first failure. The n-th wait is
	// BaseDelay * 2^n before jitter.
	BaseDelay time.Duration

	// MaxDelay caps a single wait. Zero means no cap.
	MaxDelay time.Duration

	// JitterFraction spreads each wait uniformly over
	// [1-JitterFraction/2, 1+JitterFraction/2] of its nominal value.
	JitterFraction float64
}

// DefaultRetryConfig returns three attempts with a one second base delay
// and 10% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    DefaultMaxAttempts,
		BaseDelay:      DefaultBaseDelay,
		JitterFraction: DefaultJitterFraction,
	}
}

var _ ports.ModelClient = (*ModelClient)(nil)

// ModelClient sends prompts through a CoreLLM chain and retries failures
// with exponential backoff. Waiting happens on a timer, so a cancelled
// context ends the wait at once. It is safe for concurrent use.
type ModelClient struct {
	core   CoreLLM
	config RetryConfig
	logger *slog.Logger
	rand   func() float64
}

// ModelClientOption customizes a ModelClient.
type ModelClientOption func(*ModelClient)

// WithModelLogger sets the logger used for retry and exhaustion messages.
func WithModelLogger(l *slog.Logger) ModelClientOption {
	return func(c *ModelClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithJitterSource replaces the uniform [0,1) source used for jitter.
func WithJitterSource(f func() float64) ModelClientOption {
	return func(c *ModelClient) {
		if f != nil {
			c.rand = f
		}
	}
}

// NewModelClient wraps core with retries. A non-positive MaxAttempts means
// a single attempt; a negative BaseDelay is treated as zero.
func NewModelClient(core CoreLLM, config RetryConfig, opts ...ModelClientOption) *ModelClient {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	config.BaseDelay = max(config.BaseDelay, 0)
	config.JitterFraction = clamp(config.JitterFraction, 0, 1)

	c := &ModelClient{
		core:   core,
		config: config,
		logger: slog.Default(),
		//nolint:gosec // G404: math/rand is fine for retry jitter.
		rand: rand.Float64,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetModel implements ports.ModelClient.
func (c *ModelClient) GetModel() string { return c.core.GetModel() }

// Send implements ports.ModelClient. Exhausted retries yield UncertainReply
// with a nil error; cancellation of ctx yields ctx.Err().
func (c *ModelClient) Send(ctx context.Context, prompt string, opts ports.GenerationOptions) (string, error) {
	text, err := c.Generate(ctx, prompt, opts)
	if err == nil {
		return text, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	c.logger.Warn("model call failed, substituting uncertain verdict",
		slog.String("model", c.GetModel()),
		slog.String("error", err.Error()),
	)
	return UncertainReply, nil
}

// Generate is Send without the uncertain fallback: after the last failed
// attempt it returns a *domain.UpstreamError. Errors that cannot succeed on
// retry, such as a rejected API key, stop the loop early.
func (c *ModelClient) Generate(ctx context.Context, prompt string, opts ports.GenerationOptions) (string, error) {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt < c.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		attempts++
		out, err := c.core.DoRequest(ctx, prompt, opts)
		if err == nil {
			return out.Text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		lastErr = err
		if !IsRetryable(err) || attempt == c.config.MaxAttempts-1 {
			break
		}

		delay := c.backoff(attempt)
		c.logger.Debug("retrying model call",
			slog.String("model", c.GetModel()),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if err := sleep(ctx, delay); err != nil {
			return "", err
		}
	}

	return "", &domain.UpstreamError{Model: c.GetModel(), Attempts: attempts, Err: lastErr}
}

// backoff returns base * 2^attempt * (1 + jitter*(r-0.5)).
func (c *ModelClient) backoff(attempt int) time.Duration {
	nominal := float64(c.config.BaseDelay) * math.Pow(2, float64(attempt))
	d := time.Duration(nominal * (1 + c.config.JitterFraction*(c.rand()-0.5)))
	if c.config.MaxDelay > 0 && d > c.config.MaxDelay {
		d = c.config.MaxDelay
	}
	return max(d, 0)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
