package middleware

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ridwanabdusalam/cleanlab/internal/domain"
	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

const tracerName = "github.com/Ridwanabdusalam/cleanlab/detector"

// Evaluation outcomes used as the status label and span attribute.
const (
	OutcomeSuccess         = "success"
	OutcomeCached          = "cached"
	OutcomeInvalid         = "invalid"
	OutcomeUnknownFunction = "unknown_function"
	OutcomeCircuitOpen     = "circuit_open"
	OutcomeLoadShed        = "load_shed"
	OutcomeCanceled        = "canceled"
	OutcomeError           = "error"
)

// Outcome classifies an evaluation result for metrics and tracing.
func Outcome(score *domain.TrustScore, err error) string {
	var verr *domain.ValidationError
	switch {
	case err == nil && score != nil && score.Cached:
		return OutcomeCached
	case err == nil:
		return OutcomeSuccess
	case errors.As(err, &verr):
		return OutcomeInvalid
	case errors.Is(err, domain.ErrUnknownScoringFunction):
		return OutcomeUnknownFunction
	case errors.Is(err, domain.ErrCircuitOpen):
		return OutcomeCircuitOpen
	case errors.Is(err, domain.ErrLoadShedding):
		return OutcomeLoadShed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	default:
		return OutcomeError
	}
}

// EvaluationObserver traces evaluations with OpenTelemetry and records their
// outcome, latency and score in a MetricsCollector.
type EvaluationObserver struct {
	tracer  trace.Tracer
	metrics ports.MetricsCollector
	now     func() time.Time
}

// ObserverOption customizes an EvaluationObserver.
type ObserverOption func(*EvaluationObserver)

// WithTracerProvider replaces the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) ObserverOption {
	return func(o *EvaluationObserver) { o.tracer = tp.Tracer(tracerName) }
}

// NewEvaluationObserver creates an observer using the global tracer
// provider unless overridden.
func NewEvaluationObserver(metrics ports.MetricsCollector, opts ...ObserverOption) *EvaluationObserver {
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	o := &EvaluationObserver{
		tracer:  otel.Tracer(tracerName),
		metrics: metrics,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// EvaluationSpan tracks one evaluation from Begin to End.
type EvaluationSpan struct {
	observer *EvaluationObserver
	span     trace.Span
	function string
	start    time.Time
}

// Begin starts a span for req. The returned context carries the span so
// model calls made while scoring become its children.
func (o *EvaluationObserver) Begin(ctx context.Context, req domain.EvaluationRequest) (context.Context, *EvaluationSpan) {
	ctx, span := o.tracer.Start(ctx, "Detector.Evaluate", trace.WithAttributes(
		attribute.String("evaluation.scoring_function", req.FunctionName()),
		attribute.Int("evaluation.question_length", len(req.Question)),
		attribute.Int("evaluation.answer_length", len(req.Answer)),
		attribute.Bool("evaluation.has_context", req.Context != ""),
		attribute.Bool("evaluation.skip_cache", req.SkipCache),
	))
	return ctx, &EvaluationSpan{
		observer: o,
		span:     span,
		function: req.FunctionName(),
		start:    o.now(),
	}
}

// Event adds a named event to the span, such as a cache hit.
func (s *EvaluationSpan) Event(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// End finishes the span and records metrics for the outcome.
func (s *EvaluationSpan) End(score *domain.TrustScore, err error) {
	defer s.span.End()

	elapsed := s.observer.now().Sub(s.start)
	outcome := Outcome(score, err)
	labels := map[string]string{"scoring_function": s.function, "status": outcome}

	s.span.SetAttributes(attribute.String("evaluation.outcome", outcome))
	s.observer.metrics.RecordCounter("evaluations_total", 1, labels)
	s.observer.metrics.RecordLatency("evaluation", elapsed, labels)

	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
		return
	}

	if score != nil {
		s.span.SetAttributes(
			attribute.Float64("evaluation.score", score.Score),
			attribute.Float64("evaluation.interval_lower", score.Interval.Lower),
			attribute.Float64("evaluation.interval_upper", score.Interval.Upper),
			attribute.Float64("evaluation.confidence", score.Explanation.Confidence),
			attribute.Bool("evaluation.cached", score.Cached),
		)
		s.observer.metrics.RecordHistogram("trust_score", score.Score, labels)
	}
	s.span.SetStatus(codes.Ok, "")
}
