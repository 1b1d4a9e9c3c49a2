// Package application wires scoring functions, caching, admission control
// and batching into the Detector that evaluates answers.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Ridwanabdusalam/cleanlab/infrastructure/batch"
	"github.com/Ridwanabdusalam/cleanlab/infrastructure/middleware"
	"github.com/Ridwanabdusalam/cleanlab/internal/domain"
	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

// DefaultBatchConcurrency bounds how many items of one BatchEvaluate call
// are evaluated at once.
const DefaultBatchConcurrency = 16

// Detector is the evaluation entry point. Every request passes the circuit
// breaker, the load check, the score cache and the concurrency governor
// before its scoring function runs. The cache, breaker and governor are
// shared by all scoring functions. Detector is safe for concurrent use.
type Detector struct {
	registry *ScoringRegistry
	cache    ports.ScoreCache
	breaker  *middleware.CircuitBreaker
	governor *middleware.ConcurrencyGovernor
	observer *middleware.EvaluationObserver
	batcher  *batch.Scheduler
	logger   *slog.Logger
	now      func() time.Time

	batchConcurrency int

	closeOnce sync.Once
	closers   []func()
}

// DetectorOption customizes a Detector.
type DetectorOption func(*Detector)

// WithScoreCache enables score caching. Without it every request is scored.
func WithScoreCache(c ports.ScoreCache) DetectorOption {
	return func(d *Detector) { d.cache = c }
}

// WithCircuitBreaker replaces the default breaker.
func WithCircuitBreaker(cb *middleware.CircuitBreaker) DetectorOption {
	return func(d *Detector) { d.breaker = cb }
}

// WithGovernor replaces the default governor, which never samples load.
func WithGovernor(g *middleware.ConcurrencyGovernor) DetectorOption {
	return func(d *Detector) { d.governor = g }
}

// WithObserver sets the tracing and metrics observer.
func WithObserver(o *middleware.EvaluationObserver) DetectorOption {
	return func(d *Detector) { d.observer = o }
}

// WithDetectorLogger sets the logger.
func WithDetectorLogger(l *slog.Logger) DetectorOption {
	return func(d *Detector) { d.logger = l }
}

// WithBatchConcurrency bounds per-call BatchEvaluate fan-out.
func WithBatchConcurrency(n int) DetectorOption {
	return func(d *Detector) { d.batchConcurrency = n }
}

// WithCloser registers cleanup to run on Close, in registration order.
func WithCloser(fn func()) DetectorOption {
	return func(d *Detector) { d.closers = append(d.closers, fn) }
}

// NewDetector builds a detector over registry.
func NewDetector(registry *ScoringRegistry, opts ...DetectorOption) (*Detector, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: scoring registry is required", domain.ErrInvalidConfiguration)
	}

	d := &Detector{
		registry:         registry,
		logger:           slog.Default(),
		now:              time.Now,
		batchConcurrency: DefaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.breaker == nil {
		d.breaker = middleware.NewCircuitBreaker(middleware.DefaultCircuitBreakerConfig())
	}
	if d.governor == nil {
		g, err := middleware.NewConcurrencyGovernor(middleware.DefaultGovernorConfig(), nil)
		if err != nil {
			return nil, err
		}
		d.governor = g
		d.closers = append(d.closers, g.Close)
	}
	if d.observer == nil {
		d.observer = middleware.NewEvaluationObserver(nil)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.batchConcurrency <= 0 {
		d.batchConcurrency = DefaultBatchConcurrency
	}
	return d, nil
}

// AttachScheduler routes Submit through s and closes it with the detector.
func (d *Detector) AttachScheduler(s *batch.Scheduler) {
	d.batcher = s
}

// Registry returns the scoring registry.
func (d *Detector) Registry() *ScoringRegistry { return d.registry }

// Breaker returns the shared circuit breaker.
func (d *Detector) Breaker() *middleware.CircuitBreaker { return d.breaker }

// Governor returns the shared concurrency governor.
func (d *Detector) Governor() *middleware.ConcurrencyGovernor { return d.governor }

// ScoringFunctions returns every registered function name with its
// description.
func (d *Detector) ScoringFunctions() map[string]string { return d.registry.List() }

// Health is a point-in-time view of the admission controls.
type Health struct {
	Breaker          string `json:"circuit_breaker"`
	ConcurrencyLimit int    `json:"concurrency_limit"`
	InFlight         int    `json:"in_flight"`
	Overloaded       bool   `json:"overloaded"`
	BatchSize        int    `json:"batch_size,omitempty"`
	QueueDepth       int    `json:"queue_depth"`
}

// Healthy reports whether new work would currently be admitted.
func (h Health) Healthy() bool {
	return h.Breaker != middleware.StateOpen.String() && !h.Overloaded
}

// Health reports breaker, governor and batch state.
func (d *Detector) Health() Health {
	h := Health{
		Breaker:          d.breaker.State().String(),
		ConcurrencyLimit: d.governor.Limit(),
		InFlight:         d.governor.InFlight(),
		Overloaded:       d.governor.Overloaded(),
	}
	if d.batcher != nil {
		h.BatchSize = d.batcher.Size()
		h.QueueDepth = d.batcher.Pending()
	}
	return h
}

// Evaluate scores one request. It fails with a *domain.ValidationError,
// domain.ErrCircuitOpen, domain.ErrLoadShedding, a
// *domain.ScoringFunctionError, a *domain.ScorerError or ctx.Err().
func (d *Detector) Evaluate(ctx context.Context, req domain.EvaluationRequest) (domain.TrustScore, error) {
	ctx, span := d.observer.Begin(ctx, req)
	score, err := d.evaluate(ctx, req, span)
	if err != nil {
		span.End(nil, err)
		return domain.TrustScore{}, err
	}
	span.End(&score, nil)
	return score, nil
}

func (d *Detector) evaluate(ctx context.Context, req domain.EvaluationRequest, span *middleware.EvaluationSpan) (domain.TrustScore, error) {
	start := d.now()
	if err := req.Validate(); err != nil {
		return domain.TrustScore{}, err
	}
	if err := d.breaker.Allow(); err != nil {
		return domain.TrustScore{}, err
	}
	if err := d.governor.CheckLoad(); err != nil {
		return domain.TrustScore{}, err
	}

	useCache := d.cache != nil && !req.SkipCache
	key := req.CacheKey()
	if useCache {
		if cached, ok := d.cache.Get(key); ok {
			span.Event("cache.hit")
			cached.Cached = true
			cached.Duration = d.now().Sub(start)
			return cached, nil
		}
	}

	permit, err := d.governor.Acquire(ctx)
	if err != nil {
		return domain.TrustScore{}, err
	}
	defer permit.Release()

	name := req.FunctionName()
	scorer, err := d.registry.Get(name)
	if err != nil {
		return domain.TrustScore{}, err
	}

	raw, err := scorer.Score(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.TrustScore{}, ctxErr
		}
		d.breaker.RecordFailure()
		d.logger.Warn("scoring function failed",
			slog.String("scoring_function", name),
			slog.String("error", err.Error()),
		)
		return domain.TrustScore{}, &domain.ScorerError{Function: name, Err: err}
	}
	d.breaker.RecordSuccess()

	score := raw.Normalize()
	score.ScoringFunction = name
	score.Cached = false
	if useCache {
		d.cache.Put(key, score, req.Size())
	}
	score.Duration = d.now().Sub(start)
	return score, nil
}

// BatchEvaluate scores every request concurrently and returns one result
// per request in input order. A failed item carries its error; nothing is
// dropped.
func (d *Detector) BatchEvaluate(ctx context.Context, reqs []domain.EvaluationRequest) []domain.EvaluationResult {
	jobs := make([]batch.Job, len(reqs))
	for i, req := range reqs {
		jobs[i] = batch.Job{Ctx: ctx, Request: req}
	}
	return d.DispatchJobs(jobs)
}

// DispatchJobs is the batch.Dispatcher used by the scheduler. Each job is
// evaluated under its own context, so a submitter that gives up cancels only
// its own evaluation.
func (d *Detector) DispatchJobs(jobs []batch.Job) []domain.EvaluationResult {
	results := make([]domain.EvaluationResult, len(jobs))

	var g errgroup.Group
	g.SetLimit(d.batchConcurrency)
	for i, job := range jobs {
		g.Go(func() error {
			res := domain.EvaluationResult{ID: uuid.NewString(), Index: i, Request: job.Request}
			score, err := d.Evaluate(job.Ctx, job.Request)
			if err != nil {
				res.Err = err
			} else {
				res.Score = &score
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Submit evaluates req through the batch scheduler when one is attached and
// directly otherwise.
func (d *Detector) Submit(ctx context.Context, req domain.EvaluationRequest) (domain.TrustScore, error) {
	if d.batcher == nil {
		return d.Evaluate(ctx, req)
	}
	if err := req.Validate(); err != nil {
		return domain.TrustScore{}, err
	}
	return d.batcher.Submit(ctx, req)
}

// StreamEvaluate evaluates req in the background and reports progress on
// the returned channel: a processing event, then exactly one completed or
// error event. The channel is closed after the terminal event and never
// blocks the evaluation.
func (d *Detector) StreamEvaluate(ctx context.Context, req domain.EvaluationRequest) <-chan domain.StreamEvent {
	events := make(chan domain.StreamEvent, 2)
	id := uuid.NewString()

	go func() {
		defer close(events)
		events <- domain.StreamEvent{
			RequestID: id,
			Status:    domain.StreamProcessing,
			Progress:  0.1,
			Message:   "evaluating answer",
		}

		score, err := d.Evaluate(ctx, req)
		if err != nil {
			events <- domain.StreamEvent{
				RequestID: id,
				Status:    domain.StreamFailed,
				Progress:  1,
				Message:   err.Error(),
				Err:       err,
			}
			return
		}
		events <- domain.StreamEvent{
			RequestID: id,
			Status:    domain.StreamCompleted,
			Progress:  1,
			Message:   "evaluation complete",
			Result:    &score,
		}
	}()
	return events
}

// Close stops the batch scheduler and background workers. It is safe to
// call more than once.
func (d *Detector) Close() {
	d.closeOnce.Do(func() {
		if d.batcher != nil {
			d.batcher.Close()
		}
		for _, fn := range d.closers {
			fn()
		}
	})
}
