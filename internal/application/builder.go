package application

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/Ridwanabdusalam/cleanlab/infrastructure/batch"
	"github.com/Ridwanabdusalam/cleanlab/infrastructure/cache"
	"github.com/Ridwanabdusalam/cleanlab/infrastructure/llm"
	"github.com/Ridwanabdusalam/cleanlab/infrastructure/middleware"
	"github.com/Ridwanabdusalam/cleanlab/infrastructure/scoring"
	"github.com/Ridwanabdusalam/cleanlab/internal/domain"
	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

// Built-in scoring function names.
const (
	FunctionLengthBased     = "length_based"
	FunctionKeywordMatching = "keyword_matching"
	FunctionHeuristic       = "heuristic"
	FunctionStrict          = "strict"
)

type buildOptions struct {
	client  ports.ModelClient
	metrics ports.MetricsCollector
	tracer  trace.TracerProvider
	sampler ports.LoadSampler
	logger  *slog.Logger
}

// BuildOption customizes Build.
type BuildOption func(*buildOptions)

// WithModelClient replaces the provider-backed model client, usually with a
// fake in tests.
func WithModelClient(c ports.ModelClient) BuildOption {
	return func(o *buildOptions) { o.client = c }
}

// WithMetrics sets the collector shared by every component.
func WithMetrics(m ports.MetricsCollector) BuildOption {
	return func(o *buildOptions) { o.metrics = m }
}

// WithTracerProvider sets the tracer provider. Nil uses the global one.
func WithTracerProvider(tp trace.TracerProvider) BuildOption {
	return func(o *buildOptions) { o.tracer = tp }
}

// WithLoadSampler replaces the procfs sampler.
func WithLoadSampler(s ports.LoadSampler) BuildOption {
	return func(o *buildOptions) { o.sampler = s }
}

// WithLogger sets the base logger; components derive their own from it.
func WithLogger(l *slog.Logger) BuildOption {
	return func(o *buildOptions) { o.logger = l }
}

// Build assembles a running Detector from cfg: the model client and its
// middleware chain, the built-in and weighted scoring functions, the score
// cache, the circuit breaker, the governor and the batch scheduler.
// Background workers stop when ctx is done or the detector is closed.
func Build(ctx context.Context, cfg Config, opts ...BuildOption) (*Detector, error) {
	o := buildOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = ports.NoopMetrics{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := o.client
	if client == nil {
		c, err := newModelClient(cfg, o)
		if err != nil {
			return nil, err
		}
		client = c
	}

	registry, closers, err := buildRegistry(ctx, cfg, client, o)
	if err != nil {
		return nil, err
	}

	closeAll := func() {
		for _, fn := range closers {
			fn()
		}
	}

	detectorOpts := []DetectorOption{
		WithDetectorLogger(o.logger.With(slog.String("component", "detector"))),
		WithBatchConcurrency(cfg.Batch.Concurrency),
		WithCircuitBreaker(middleware.NewCircuitBreaker(cfg.breakerConfig(),
			middleware.WithBreakerLogger(o.logger.With(slog.String("component", "circuit_breaker"))),
			middleware.WithBreakerMetrics(o.metrics),
		)),
		WithObserver(middleware.NewEvaluationObserver(o.metrics, observerOptions(o)...)),
	}

	if cfg.Cache.Enabled {
		scores := cache.NewScoreCache(
			cache.WithName("scores"),
			cache.WithTTL(sec(cfg.Cache.TTLSeconds)),
			cache.WithMaxSize(cfg.Cache.MaxSize),
			cache.WithSweepInterval(sec(cfg.Cache.SweepIntervalSeconds)),
			cache.WithMetrics(o.metrics),
			cache.WithLogger(o.logger.With(slog.String("component", "score_cache"))),
		)
		scores.Start(ctx)
		closers = append(closers, scores.Close)
		detectorOpts = append(detectorOpts, WithScoreCache(scores))
	}

	sampler := o.sampler
	if sampler == nil && cfg.Concurrency.LoadSampling {
		s, err := middleware.NewProcLoadSampler("")
		if err != nil {
			o.logger.Warn("host load sampling unavailable", slog.String("error", err.Error()))
		} else {
			sampler = s
		}
	}
	governor, err := middleware.NewConcurrencyGovernor(cfg.governorConfig(), sampler,
		middleware.WithGovernorLogger(o.logger.With(slog.String("component", "governor"))),
		middleware.WithGovernorMetrics(o.metrics),
	)
	if err != nil {
		closeAll()
		return nil, err
	}
	governor.Start(ctx)
	closers = append(closers, governor.Close)
	detectorOpts = append(detectorOpts, WithGovernor(governor))

	for _, fn := range closers {
		detectorOpts = append(detectorOpts, WithCloser(fn))
	}
	detector, err := NewDetector(registry, detectorOpts...)
	if err != nil {
		closeAll()
		return nil, err
	}

	if cfg.Batch.Enabled {
		scheduler, err := batch.New(cfg.batchConfig(), batch.DispatchFunc(detector.DispatchJobs),
			batch.WithLoadGate(governor),
			batch.WithMetrics(o.metrics),
			batch.WithLogger(o.logger.With(slog.String("component", "batch"))),
		)
		if err != nil {
			detector.Close()
			return nil, err
		}
		scheduler.Start(ctx)
		detector.AttachScheduler(scheduler)
	}

	o.logger.Info("detector ready",
		slog.String("provider", cfg.Model.Provider),
		slog.String("model", client.GetModel()),
		slog.Any("scoring_functions", registry.Names()),
		slog.Bool("cache", cfg.Cache.Enabled),
		slog.Bool("batch", cfg.Batch.Enabled),
	)
	return detector, nil
}

func observerOptions(o buildOptions) []middleware.ObserverOption {
	if o.tracer == nil {
		return nil
	}
	return []middleware.ObserverOption{middleware.WithTracerProvider(o.tracer)}
}

// newModelClient creates the provider with its middleware chain, outermost
// first: tracing, metrics, rate limiting and the per-attempt timeout.
func newModelClient(cfg Config, o buildOptions) (*llm.ModelClient, error) {
	m := cfg.Model
	mws := []llm.Middleware{
		llm.TracingMiddleware(o.tracer, m.Provider),
		llm.MetricsMiddleware(o.metrics, m.Provider),
	}
	if m.RateLimitRequests > 0 {
		mws = append(mws, llm.RateLimitMiddleware(m.RateLimitRequests, sec(m.RateLimitWindowSeconds)))
	}
	mws = append(mws, llm.TimeoutMiddleware(sec(m.TimeoutSeconds)))

	core, err := llm.NewCore(m.Provider, llm.ClientConfig{
		APIKey:     m.APIKey,
		Model:      m.Name,
		BaseURL:    m.BaseURL,
		Timeout:    sec(m.TimeoutSeconds),
		Middleware: mws,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	return llm.NewModelClient(core, cfg.retryConfig(),
		llm.WithModelLogger(o.logger.With(slog.String("component", "model_client"))),
	), nil
}

// buildRegistry registers the reflection scorer as the default function,
// the built-in heuristics and every configured weighted function.
func buildRegistry(ctx context.Context, cfg Config, client ports.ModelClient, o buildOptions) (*ScoringRegistry, []func(), error) {
	reflectionOpts := []scoring.ReflectionOption{
		scoring.WithReflectionMetrics(o.metrics),
		scoring.WithReflectionLogger(o.logger.With(slog.String("component", "reflection"))),
	}
	var closers []func()
	verdicts, closeVerdicts, err := newVerdictCache(ctx, cfg, o)
	if err != nil {
		return nil, nil, err
	}
	if closeVerdicts != nil {
		closers = append(closers, closeVerdicts)
	}
	if verdicts != nil {
		reflectionOpts = append(reflectionOpts, scoring.WithVerdictCache(verdicts))
	}
	fail := func(err error) (*ScoringRegistry, []func(), error) {
		for _, fn := range closers {
			fn()
		}
		return nil, nil, err
	}

	reflection, err := scoring.NewReflectionScorer(client, cfg.reflectionConfig(), reflectionOpts...)
	if err != nil {
		return fail(err)
	}

	registry := NewScoringRegistry()
	for _, fn := range BuiltinScoringFunctions(reflection) {
		if err := registry.Register(fn.Name, fn.Description, fn.Scorer, false); err != nil {
			return fail(err)
		}
	}
	for name, w := range cfg.WeightedFunctions {
		scorer, err := scoring.NewWeightedScorer(w.scoringConfig())
		if err != nil {
			return fail(fmt.Errorf("weighted function %q: %w", name, err))
		}
		desc := w.Description
		if desc == "" {
			desc = "Weighted combination of heuristic factors"
		}
		if err := registry.Register(name, desc, scorer, true); err != nil {
			return fail(err)
		}
	}
	return registry, closers, nil
}

// newVerdictCache returns the reflection verdict cache: a badger store when
// a path is configured, an in-memory LRU sharing the score cache TTL and
// sweep interval otherwise, or nil when verdict caching is off. The returned
// func releases the store or stops the sweeper.
func newVerdictCache(ctx context.Context, cfg Config, o buildOptions) (scoring.VerdictCache, func(), error) {
	if !cfg.Reflection.CacheVerdicts || !cfg.Cache.Enabled {
		return nil, nil, nil
	}
	if path := cfg.Reflection.VerdictStorePath; path != "" {
		store, err := cache.OpenDisk[domain.Verdict](cache.DiskOptions{
			Path:    path,
			TTL:     sec(cfg.Cache.TTLSeconds),
			Name:    "verdicts",
			Metrics: o.metrics,
			Logger:  o.logger.With(slog.String("component", "verdict_store")),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
		}
		return store, func() { _ = store.Close() }, nil
	}
	verdicts := cache.New[domain.Verdict](
		cache.WithName("verdicts"),
		cache.WithTTL(sec(cfg.Cache.TTLSeconds)),
		cache.WithMaxSize(cfg.Cache.MaxSize*len(cfg.Reflection.Templates)),
		cache.WithSweepInterval(sec(cfg.Cache.SweepIntervalSeconds)),
		cache.WithMetrics(o.metrics),
		cache.WithLogger(o.logger.With(slog.String("component", "verdict_cache"))),
	)
	verdicts.Start(ctx)
	return verdicts, verdicts.Close, nil
}

// BuiltinScoringFunctions lists the functions every detector offers, with
// reflection as the default.
func BuiltinScoringFunctions(reflection ports.Scorer) []ScoringFunction {
	return []ScoringFunction{
		{Name: domain.DefaultScoringFunction, Description: "Self-reflection: the model grades its own answer", Scorer: reflection},
		{Name: FunctionLengthBased, Description: "Longer answers score higher, up to 1000 characters", Scorer: scoring.LengthScorer{}},
		{Name: FunctionKeywordMatching, Description: "Rewards confidence keywords such as certain or definitely", Scorer: scoring.NewKeywordScorer()},
		{Name: FunctionHeuristic, Description: "Blend of answer length, question coverage and context relevance", Scorer: scoring.HeuristicScorer{}},
		{Name: FunctionStrict, Description: "Heuristic scoring that penalizes short answers", Scorer: scoring.StrictScorer{}},
	}
}
