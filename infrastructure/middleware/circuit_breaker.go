// Package middleware provides the cross-cutting guards and observers that
// wrap every evaluation: circuit breaking, concurrency governance, load
// sampling, metrics and tracing.
package middleware

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Ridwanabdusalam/cleanlab/internal/domain"
	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

// CircuitBreakerState represents the current state of a circuit breaker.
type CircuitBreakerState int

// Circuit breaker states.
const (
	// StateClosed allows all requests to pass through normally.
	StateClosed CircuitBreakerState = iota

	// StateOpen rejects all requests immediately until the reset timeout
	// has elapsed since the last failure.
	StateOpen

	// StateHalfOpen lets requests through to probe recovery. The next
	// outcome either closes or reopens the circuit.
	StateHalfOpen
)

// String returns the state name used in logs and metric labels.
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Default breaker settings.
const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 30 * time.Second
)

// CircuitBreakerConfig controls when the breaker trips and recovers.
type CircuitBreakerConfig struct {
	// FailureThreshold is the failure count at which a closed breaker opens.
	FailureThreshold int
	// ResetTimeout is how long after the last failure an open breaker
	// starts letting probes through.
	ResetTimeout time.Duration
	// ResetOnSuccess clears the failure count on every success while
	// closed, so only consecutive failures trip the breaker. When false,
	// failures accumulate until a half-open probe succeeds.
	ResetOnSuccess bool
}

// DefaultCircuitBreakerConfig returns the default breaker settings.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: DefaultFailureThreshold,
		ResetTimeout:     DefaultResetTimeout,
	}
}

// CircuitBreaker implements the circuit breaker pattern for resilience.
// Callers ask Allow before doing work and report the outcome with
// RecordSuccess or RecordFailure; the lock is never held while the work
// runs.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        CircuitBreakerState
	failureCount int
	lastFailure  time.Time
	config       CircuitBreakerConfig

	now     func() time.Time
	logger  *slog.Logger
	metrics ports.MetricsCollector
}

// CircuitBreakerOption customizes a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithBreakerClock replaces time.Now.
func WithBreakerClock(now func() time.Time) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// WithBreakerLogger sets the logger used for state transitions.
func WithBreakerLogger(l *slog.Logger) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.logger = l }
}

// WithBreakerMetrics sets the metrics collector.
func WithBreakerMetrics(m ports.MetricsCollector) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.metrics = m }
}

// NewCircuitBreaker creates a closed circuit breaker. Non-positive settings
// fall back to the defaults.
func NewCircuitBreaker(config CircuitBreakerConfig, opts ...CircuitBreakerOption) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultFailureThreshold
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = DefaultResetTimeout
	}

	cb := &CircuitBreaker{
		state:   StateClosed,
		config:  config,
		now:     time.Now,
		logger:  slog.Default(),
		metrics: ports.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(cb)
	}
	if cb.metrics == nil {
		cb.metrics = ports.NoopMetrics{}
	}
	if cb.logger == nil {
		cb.logger = slog.Default()
	}
	cb.metrics.RecordGauge("circuit_breaker_state", float64(StateClosed), nil)
	return cb
}

// Allow reports whether a call may proceed. An open breaker whose reset
// timeout has elapsed moves to half-open here and lets the call through;
// otherwise it returns domain.ErrCircuitOpen.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}
	if cb.now().Sub(cb.lastFailure) > cb.config.ResetTimeout {
		cb.transition(StateHalfOpen)
		return nil
	}

	cb.metrics.RecordCounter("circuit_breaker_rejections_total", 1, nil)
	return domain.ErrCircuitOpen
}

// RecordSuccess reports a successful call. A half-open breaker closes and
// forgets its failures.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.failureCount = 0
		cb.transition(StateClosed)
	case StateClosed:
		if cb.config.ResetOnSuccess {
			cb.failureCount = 0
		}
	}
}

// RecordFailure reports a failed call. A half-open breaker reopens
// immediately; a closed one opens once the threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailure = cb.now()

	switch cb.state {
	case StateHalfOpen:
		cb.transition(StateOpen)
	case StateClosed:
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.transition(StateOpen)
		}
	}
}

// Call runs fn through the breaker and records its outcome.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// State returns the current state without applying the lazy open to
// half-open transition.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to CircuitBreakerState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to

	cb.metrics.RecordGauge("circuit_breaker_state", float64(to), nil)
	cb.metrics.RecordCounter("circuit_breaker_transitions_total", 1, map[string]string{
		"from": from.String(),
		"to":   to.String(),
	})

	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	cb.logger.Log(context.Background(), level, "circuit breaker state change",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.Int("failures", cb.failureCount),
	)
}
