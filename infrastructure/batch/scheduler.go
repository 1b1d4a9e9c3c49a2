// Package batch coalesces concurrently submitted evaluations into batches
// whose size adapts to observed dispatch latency.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/Ridwanabdusalam/cleanlab/internal/domain"
	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

var configValidator = validator.New()

// Default scheduler settings.
const (
	DefaultInitialSize         = 10
	DefaultMinSize             = 1
	DefaultMaxSize             = 100
	DefaultWindow              = 10
	DefaultFastThreshold       = 500 * time.Millisecond
	DefaultSlowThreshold       = time.Second
	DefaultCollectTimeout      = 100 * time.Millisecond
	DefaultPollInterval        = time.Second
	DefaultRetryBackoff        = time.Second
	DefaultOverloadPause       = time.Second
	DefaultMaxDispatchAttempts = 3
)

// Config controls batch sizing and pacing.
type Config struct {
	InitialSize int `validate:"gtefield=MinSize,ltefield=MaxSize"`
	MinSize     int `validate:"min=1"`
	MaxSize     int `validate:"gtefield=MinSize"`

	// Window is how many recent dispatch durations are averaged.
	Window int `validate:"min=1"`
	// A full window averaging under FastThreshold doubles the size; an
	// average over SlowThreshold halves it.
	FastThreshold time.Duration `validate:"gt=0"`
	SlowThreshold time.Duration `validate:"gtfield=FastThreshold"`

	// CollectTimeout bounds how long a batch waits to fill up.
	CollectTimeout time.Duration `validate:"gte=0"`
	// PollInterval wakes the loop when no ready signal arrives.
	PollInterval  time.Duration `validate:"gt=0"`
	RetryBackoff  time.Duration `validate:"gte=0"`
	OverloadPause time.Duration `validate:"gt=0"`

	// MaxDispatchAttempts is how often an item may be dispatched before its
	// last transient error is returned to the caller.
	MaxDispatchAttempts int `validate:"min=1"`
}

// DefaultConfig returns the default sizing: start at 10 within [1, 100].
func DefaultConfig() Config {
	return Config{
		InitialSize:         DefaultInitialSize,
		MinSize:             DefaultMinSize,
		MaxSize:             DefaultMaxSize,
		Window:              DefaultWindow,
		FastThreshold:       DefaultFastThreshold,
		SlowThreshold:       DefaultSlowThreshold,
		CollectTimeout:      DefaultCollectTimeout,
		PollInterval:        DefaultPollInterval,
		RetryBackoff:        DefaultRetryBackoff,
		OverloadPause:       DefaultOverloadPause,
		MaxDispatchAttempts: DefaultMaxDispatchAttempts,
	}
}

// Validate checks the bounds.
func (c Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("%w: batch: %v", domain.ErrInvalidConfiguration, err)
	}
	return nil
}

// Job is one dispatched submission. Ctx carries the submitter's values and
// is done once the submitter gives up or the scheduler stops, whichever
// comes first.
type Job struct {
	Ctx     context.Context
	Request domain.EvaluationRequest
}

// Dispatcher evaluates a group of jobs sharing a scoring function and
// returns one result per job, in order. Each job runs under its own Ctx.
type Dispatcher interface {
	Dispatch(jobs []Job) []domain.EvaluationResult
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(jobs []Job) []domain.EvaluationResult

// Dispatch calls f(jobs).
func (f DispatchFunc) Dispatch(jobs []Job) []domain.EvaluationResult {
	return f(jobs)
}

// LoadGate reports host overload; the loop pauses while it is true.
type LoadGate interface {
	Overloaded() bool
}

// item is one queued submission. Its handle settles exactly once.
type item struct {
	id       string
	ctx      context.Context
	req      domain.EvaluationRequest
	attempts int

	once  sync.Once
	done  chan struct{}
	score domain.TrustScore
	err   error
}

func newItem(ctx context.Context, req domain.EvaluationRequest) *item {
	return &item{id: uuid.NewString(), ctx: ctx, req: req, done: make(chan struct{})}
}

func (it *item) settle(score domain.TrustScore, err error) {
	it.once.Do(func() {
		it.score, it.err = score, err
		close(it.done)
	})
}

func (it *item) settled() bool {
	select {
	case <-it.done:
		return true
	default:
		return false
	}
}

// Scheduler queues single evaluations and dispatches them in batches
// grouped by scoring function.
type Scheduler struct {
	config     Config
	dispatcher Dispatcher
	gate       LoadGate
	logger     *slog.Logger
	metrics    ports.MetricsCollector

	mu        sync.Mutex
	queue     []*item
	size      int
	durations []time.Duration
	closed    bool

	ready     chan struct{}
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithLoadGate pauses dispatch while gate reports overload.
func WithLoadGate(gate LoadGate) Option { return func(s *Scheduler) { s.gate = gate } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records batch sizes and queue depth.
func WithMetrics(m ports.MetricsCollector) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// New validates config and returns a stopped scheduler.
func New(config Config, dispatcher Dispatcher, opts ...Option) (*Scheduler, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("%w: batch dispatcher is required", domain.ErrInvalidConfiguration)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Scheduler{
		config:     config,
		dispatcher: dispatcher,
		logger:     slog.Default(),
		metrics:    ports.NoopMetrics{},
		size:       config.InitialSize,
		ready:      make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the dispatch loop. It runs until ctx is done or Close is
// called; later calls have no effect.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.mu.Lock()
		s.started = true
		s.mu.Unlock()

		loopCtx, cancel := context.WithCancel(ctx)
		go func() {
			defer cancel()
			select {
			case <-s.stop:
			case <-loopCtx.Done():
			}
		}()
		go s.run(loopCtx)
	})
}

// Close stops the loop, cancels the batch in flight and fails every queued
// submission with domain.ErrSchedulerClosed.
func (s *Scheduler) Close() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		started := s.started
		s.mu.Unlock()

		close(s.stop)
		if started {
			<-s.done
		}
		s.failPending(domain.ErrSchedulerClosed)
	})
}

// Submit queues req and waits for its score. Cancelling ctx settles the
// submission with ctx.Err(). A queued item is then skipped and a dispatched
// one has its evaluation cancelled.
func (s *Scheduler) Submit(ctx context.Context, req domain.EvaluationRequest) (domain.TrustScore, error) {
	if err := ctx.Err(); err != nil {
		return domain.TrustScore{}, err
	}

	it := newItem(ctx, req)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.TrustScore{}, domain.ErrSchedulerClosed
	}
	s.queue = append(s.queue, it)
	depth := len(s.queue)
	s.mu.Unlock()

	s.metrics.RecordGauge("batch_queue_depth", float64(depth), nil)
	s.signal()

	select {
	case <-it.done:
	case <-ctx.Done():
		it.settle(domain.TrustScore{}, ctx.Err())
	}
	return it.score, it.err
}

// Size returns the current batch size.
func (s *Scheduler) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Pending returns the number of queued submissions.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Scheduler) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	defer func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.failPending(domain.ErrSchedulerClosed)
	}()
	poll := time.NewTicker(s.config.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ready:
		case <-poll.C:
		}

		for s.Pending() > 0 {
			if s.gate != nil && s.gate.Overloaded() {
				s.logger.Debug("batch dispatch paused, host overloaded")
				if !s.pause(ctx, s.config.OverloadPause) {
					return
				}
				continue
			}

			batch := s.collect(ctx)
			if len(batch) == 0 {
				break
			}
			if s.process(ctx, batch) && !s.pause(ctx, s.config.RetryBackoff) {
				return
			}
		}
	}
}

// pause waits for d and reports whether the loop should keep running.
func (s *Scheduler) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// collect takes up to the current size of unsettled items, waiting at most
// CollectTimeout for the batch to fill.
func (s *Scheduler) collect(ctx context.Context) []*item {
	deadline := time.NewTimer(s.config.CollectTimeout)
	defer deadline.Stop()

	var batch []*item
	for {
		s.mu.Lock()
		for len(s.queue) > 0 && len(batch) < s.size {
			it := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			if !it.settled() {
				batch = append(batch, it)
			}
		}
		full := len(batch) >= s.size
		depth := len(s.queue)
		s.mu.Unlock()
		s.metrics.RecordGauge("batch_queue_depth", float64(depth), nil)

		if full || s.config.CollectTimeout == 0 {
			return batch
		}
		select {
		case <-ctx.Done():
			return batch
		case <-deadline.C:
			return batch
		case <-s.ready:
		}
	}
}

// process dispatches batch grouped by scoring function and settles each
// item. It reports whether any item was requeued.
func (s *Scheduler) process(ctx context.Context, batch []*item) bool {
	s.metrics.RecordHistogram("batch_size", float64(len(batch)), nil)
	start := time.Now()

	var requeue []*item
	for _, group := range groupByFunction(batch) {
		jobs, release := jobsFor(ctx, group)
		results, err := s.dispatch(jobs)
		release()
		for i, it := range group {
			var res domain.EvaluationResult
			switch {
			case err != nil:
				res = domain.EvaluationResult{Err: err}
			case i < len(results):
				res = results[i]
			default:
				res = domain.EvaluationResult{Err: fmt.Errorf("dispatcher returned %d results for %d requests", len(results), len(jobs))}
			}
			if s.settle(it, res, err != nil) {
				requeue = append(requeue, it)
			}
		}
	}

	s.observe(time.Since(start))

	if len(requeue) == 0 {
		return false
	}
	ids := make([]string, len(requeue))
	for i, it := range requeue {
		ids[i] = it.id
	}
	s.mu.Lock()
	s.queue = append(requeue, s.queue...)
	s.mu.Unlock()
	s.logger.Warn("batch dispatch failed, requeued items",
		slog.Any("items", ids),
		slog.Duration("backoff", s.config.RetryBackoff),
	)
	return true
}

// jobsFor gives each item a context derived from its submitter's that is
// also cancelled when loop is done. release must be called once the group
// has been dispatched.
func jobsFor(loop context.Context, group []*item) ([]Job, func()) {
	jobs := make([]Job, len(group))
	cleanups := make([]func(), 0, len(group))
	for i, it := range group {
		ctx, cancel := context.WithCancel(it.ctx)
		stop := context.AfterFunc(loop, cancel)
		cleanups = append(cleanups, func() {
			stop()
			cancel()
		})
		jobs[i] = Job{Ctx: ctx, Request: it.req}
	}
	return jobs, func() {
		for _, fn := range cleanups {
			fn()
		}
	}
}

// dispatch calls the dispatcher, converting a panic into an error for the
// whole group.
func (s *Scheduler) dispatch(jobs []Job) (results []domain.EvaluationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch dispatch panicked: %v", r)
		}
	}()
	return s.dispatcher.Dispatch(jobs), nil
}

// settle resolves it from res, or reports that it should be retried.
// Whole-group failures and transient refusals are retried until
// MaxDispatchAttempts is reached.
func (s *Scheduler) settle(it *item, res domain.EvaluationResult, groupFailed bool) bool {
	it.attempts++
	if res.Err != nil {
		retry := groupFailed || errors.Is(res.Err, domain.ErrCircuitOpen) || errors.Is(res.Err, domain.ErrLoadShedding)
		if retry && ctxAlive(res.Err) && it.attempts < s.config.MaxDispatchAttempts {
			return true
		}
		it.settle(domain.TrustScore{}, res.Err)
		return false
	}
	if res.Score == nil {
		it.settle(domain.TrustScore{}, errors.New("batch result carries neither score nor error"))
		return false
	}
	it.settle(*res.Score, nil)
	return false
}

func ctxAlive(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// observe records a dispatch duration and resizes: a full window averaging
// under FastThreshold doubles the size, any average over SlowThreshold
// halves it.
func (s *Scheduler) observe(d time.Duration) {
	s.mu.Lock()
	s.durations = append(s.durations, d)
	if len(s.durations) > s.config.Window {
		s.durations = s.durations[len(s.durations)-s.config.Window:]
	}
	var total time.Duration
	for _, v := range s.durations {
		total += v
	}
	avg := total / time.Duration(len(s.durations))

	old := s.size
	switch {
	case avg < s.config.FastThreshold && len(s.durations) == s.config.Window:
		s.size = min(s.size*2, s.config.MaxSize)
	case avg > s.config.SlowThreshold:
		s.size = max(s.size/2, s.config.MinSize)
	}
	size := s.size
	s.mu.Unlock()

	if size != old {
		s.logger.Info("batch size adjusted",
			slog.Int("from", old),
			slog.Int("to", size),
			slog.Duration("avg_dispatch", avg),
		)
	}
}

// failPending settles every queued item with err.
func (s *Scheduler) failPending(err error) {
	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, it := range pending {
		it.settle(domain.TrustScore{}, err)
	}
	s.metrics.RecordGauge("batch_queue_depth", 0, nil)
}

// groupByFunction splits batch by scoring function, keeping first-seen
// order of functions and submission order within each group.
func groupByFunction(batch []*item) [][]*item {
	index := make(map[string]int)
	var groups [][]*item
	for _, it := range batch {
		name := it.req.FunctionName()
		i, ok := index[name]
		if !ok {
			i = len(groups)
			index[name] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], it)
	}
	return groups
}
