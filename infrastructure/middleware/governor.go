package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Ridwanabdusalam/cleanlab/internal/domain"
	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

// Default governor settings.
const (
	DefaultMaxConcurrent  = 100
	DefaultMinConcurrent  = 10
	DefaultSampleInterval = 5 * time.Second
	DefaultHardThreshold  = 90.0
	DefaultSoftThreshold  = 80.0
	DefaultShrinkFactor   = 0.8
)

// GovernorConfig controls how many evaluations may run at once and how the
// limit reacts to host load.
type GovernorConfig struct {
	// MaxConcurrent is the initial and maximum number of in-flight
	// evaluations.
	MaxConcurrent int
	// MinConcurrent is the floor the limit never shrinks below.
	MinConcurrent int
	// SampleInterval is how often host load is sampled.
	SampleInterval time.Duration
	// HardThreshold is the CPU or memory percentage above which new work
	// is rejected with domain.ErrLoadShedding.
	HardThreshold float64
	// SoftThreshold is the percentage above which the limit shrinks by
	// ShrinkFactor.
	SoftThreshold float64
	// ShrinkFactor multiplies the limit on each soft breach.
	ShrinkFactor float64
	// RecoveryEnabled lets the limit grow back toward MaxConcurrent when a
	// sample is below SoftThreshold. Disabled, a shrunk limit stays shrunk.
	RecoveryEnabled bool
}

// DefaultGovernorConfig returns the default governor settings.
func DefaultGovernorConfig() GovernorConfig {
	return GovernorConfig{
		MaxConcurrent:  DefaultMaxConcurrent,
		MinConcurrent:  DefaultMinConcurrent,
		SampleInterval: DefaultSampleInterval,
		HardThreshold:  DefaultHardThreshold,
		SoftThreshold:  DefaultSoftThreshold,
		ShrinkFactor:   DefaultShrinkFactor,
	}
}

// Validate checks the settings for internal consistency.
func (c GovernorConfig) Validate() error {
	switch {
	case c.MaxConcurrent <= 0:
		return fmt.Errorf("%w: max concurrent must be positive", domain.ErrInvalidConfiguration)
	case c.MinConcurrent <= 0 || c.MinConcurrent > c.MaxConcurrent:
		return fmt.Errorf("%w: min concurrent must be in [1, %d]", domain.ErrInvalidConfiguration, c.MaxConcurrent)
	case c.ShrinkFactor <= 0 || c.ShrinkFactor >= 1:
		return fmt.Errorf("%w: shrink factor must be in (0, 1)", domain.ErrInvalidConfiguration)
	case c.SoftThreshold > c.HardThreshold:
		return fmt.Errorf("%w: soft threshold above hard threshold", domain.ErrInvalidConfiguration)
	}
	return nil
}

// Permit is a held concurrency slot. Release is idempotent.
type Permit struct {
	once    sync.Once
	release func()
}

// Release returns the slot to the governor.
func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.once.Do(p.release)
}

// ConcurrencyGovernor bounds in-flight evaluations with a weighted
// semaphore sized to MaxConcurrent. Shrinking the limit parks the
// difference as permits held by the governor itself, so the semaphore
// never needs resizing.
type ConcurrencyGovernor struct {
	config  GovernorConfig
	sem     *semaphore.Weighted
	sampler ports.LoadSampler
	logger  *slog.Logger
	metrics ports.MetricsCollector

	mu         sync.Mutex
	limit      int
	reserved   int // permits parked by shrink reservations that completed
	overloaded bool
	last       ports.LoadSample

	inFlight atomic.Int64

	// reserveCtx bounds pending shrink reservations.
	reserveCtx    context.Context
	reserveCancel context.CancelFunc
	reservations  sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
	started   atomic.Bool
}

// GovernorOption customizes a ConcurrencyGovernor.
type GovernorOption func(*ConcurrencyGovernor)

// WithGovernorLogger sets the logger.
func WithGovernorLogger(l *slog.Logger) GovernorOption {
	return func(g *ConcurrencyGovernor) { g.logger = l }
}

// WithGovernorMetrics sets the metrics collector.
func WithGovernorMetrics(m ports.MetricsCollector) GovernorOption {
	return func(g *ConcurrencyGovernor) { g.metrics = m }
}

// NewConcurrencyGovernor creates a governor at full capacity. A nil sampler
// disables load sampling; CheckLoad then always passes.
func NewConcurrencyGovernor(config GovernorConfig, sampler ports.LoadSampler, opts ...GovernorOption) (*ConcurrencyGovernor, error) {
	if config.SampleInterval <= 0 {
		config.SampleInterval = DefaultSampleInterval
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &ConcurrencyGovernor{
		config:        config,
		sem:           semaphore.NewWeighted(int64(config.MaxConcurrent)),
		sampler:       sampler,
		logger:        slog.Default(),
		metrics:       ports.NoopMetrics{},
		limit:         config.MaxConcurrent,
		reserveCtx:    ctx,
		reserveCancel: cancel,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.metrics == nil {
		g.metrics = ports.NoopMetrics{}
	}
	g.metrics.RecordGauge("concurrency_limit", float64(g.limit), nil)
	return g, nil
}

// CheckLoad returns domain.ErrLoadShedding when the last sample was over
// the hard threshold.
func (g *ConcurrencyGovernor) CheckLoad() error {
	g.mu.Lock()
	overloaded := g.overloaded
	last := g.last
	g.mu.Unlock()

	if overloaded {
		g.metrics.RecordCounter("load_shed_total", 1, nil)
		return fmt.Errorf("%w: cpu %.1f%%, memory %.1f%%", domain.ErrLoadShedding, last.CPUPercent, last.MemoryPercent)
	}
	return nil
}

// Acquire blocks until a slot is free or ctx is done.
func (g *ConcurrencyGovernor) Acquire(ctx context.Context) (*Permit, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	n := g.inFlight.Add(1)
	g.metrics.RecordGauge("concurrency_in_flight", float64(n), nil)

	return &Permit{release: func() {
		n := g.inFlight.Add(-1)
		g.sem.Release(1)
		g.metrics.RecordGauge("concurrency_in_flight", float64(n), nil)
	}}, nil
}

// Limit returns the current concurrency limit.
func (g *ConcurrencyGovernor) Limit() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limit
}

// InFlight returns the number of held permits.
func (g *ConcurrencyGovernor) InFlight() int { return int(g.inFlight.Load()) }

// Overloaded reports whether the last sample crossed the hard threshold.
func (g *ConcurrencyGovernor) Overloaded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.overloaded
}

// LastSample returns the most recent load observation.
func (g *ConcurrencyGovernor) LastSample() ports.LoadSample {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// Sample reads host load once and applies it: the overload flag follows the
// hard threshold and a soft breach shrinks the limit.
func (g *ConcurrencyGovernor) Sample(ctx context.Context) error {
	if g.sampler == nil {
		return nil
	}

	s, err := g.sampler.Sample(ctx)
	if err != nil {
		g.logger.Warn("load sample failed", slog.String("error", err.Error()))
		return fmt.Errorf("sample load: %w", err)
	}
	g.Observe(s)
	return nil
}

// Observe applies a load sample. Sample calls it; tests may call it
// directly.
func (g *ConcurrencyGovernor) Observe(s ports.LoadSample) {
	hard := s.CPUPercent > g.config.HardThreshold || s.MemoryPercent > g.config.HardThreshold
	soft := s.CPUPercent > g.config.SoftThreshold || s.MemoryPercent > g.config.SoftThreshold

	g.mu.Lock()
	g.last = s
	wasOverloaded := g.overloaded
	g.overloaded = hard

	oldLimit := g.limit
	switch {
	case soft:
		g.limit = max(g.config.MinConcurrent, int(float64(g.limit)*g.config.ShrinkFactor))
	case g.config.RecoveryEnabled && g.limit < g.config.MaxConcurrent:
		grown := int(math.Ceil(float64(g.limit) / g.config.ShrinkFactor))
		g.limit = min(g.config.MaxConcurrent, max(grown, g.limit+1))
	}
	newLimit := g.limit

	var toRelease int
	if newLimit > oldLimit {
		toRelease = min(newLimit-oldLimit, g.reserved)
		g.reserved -= toRelease
	}
	g.mu.Unlock()

	g.metrics.RecordGauge("host_cpu_percent", s.CPUPercent, nil)
	g.metrics.RecordGauge("host_memory_percent", s.MemoryPercent, nil)

	if hard != wasOverloaded {
		if hard {
			g.logger.Warn("load shedding engaged",
				slog.Float64("cpu_percent", s.CPUPercent),
				slog.Float64("memory_percent", s.MemoryPercent),
			)
		} else {
			g.logger.Info("load shedding released",
				slog.Float64("cpu_percent", s.CPUPercent),
				slog.Float64("memory_percent", s.MemoryPercent),
			)
		}
	}

	switch {
	case newLimit < oldLimit:
		g.reserve(oldLimit - newLimit)
		g.logger.Warn("concurrency limit reduced",
			slog.Int("from", oldLimit),
			slog.Int("to", newLimit),
			slog.Float64("cpu_percent", s.CPUPercent),
			slog.Float64("memory_percent", s.MemoryPercent),
		)
		g.metrics.RecordGauge("concurrency_limit", float64(newLimit), nil)
	case newLimit > oldLimit:
		if toRelease > 0 {
			g.sem.Release(int64(toRelease))
		}
		g.logger.Info("concurrency limit raised", slog.Int("from", oldLimit), slog.Int("to", newLimit))
		g.metrics.RecordGauge("concurrency_limit", float64(newLimit), nil)
	}
}

// reserve parks n permits in the background. The acquisition waits for
// in-flight work to drain, and new acquisitions queue behind it. If the
// limit grew again while waiting, the surplus is handed straight back.
func (g *ConcurrencyGovernor) reserve(n int) {
	g.reservations.Add(1)
	go func() {
		defer g.reservations.Done()
		if err := g.sem.Acquire(g.reserveCtx, int64(n)); err != nil {
			return
		}
		g.mu.Lock()
		keep := min(n, max(0, g.config.MaxConcurrent-g.limit-g.reserved))
		g.reserved += keep
		g.mu.Unlock()
		if surplus := n - keep; surplus > 0 {
			g.sem.Release(int64(surplus))
		}
	}()
}

// parked returns the number of permits currently held by reservations.
func (g *ConcurrencyGovernor) parked() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reserved
}

// Start samples once immediately and then every SampleInterval until ctx is
// done or Close is called.
func (g *ConcurrencyGovernor) Start(ctx context.Context) {
	if g.sampler == nil {
		return
	}
	g.startOnce.Do(func() {
		g.started.Store(true)
		go g.run(ctx)
	})
}

func (g *ConcurrencyGovernor) run(ctx context.Context) {
	defer close(g.done)

	_ = g.Sample(ctx)
	ticker := time.NewTicker(g.config.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stop:
			return
		case <-ticker.C:
			_ = g.Sample(ctx)
		}
	}
}

// Close stops sampling and abandons pending shrink reservations.
func (g *ConcurrencyGovernor) Close() {
	g.stopOnce.Do(func() {
		close(g.stop)
		g.reserveCancel()
	})
	if g.started.Load() {
		<-g.done
	}
	g.reservations.Wait()
}
