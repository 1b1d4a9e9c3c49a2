package llm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

const llmTracerName = "github.com/Ridwanabdusalam/cleanlab/llm"

type tracedLLM struct {
	next     CoreLLM
	tracer   trace.Tracer
	provider string
}

// TracingMiddleware opens a span per request attempt. A nil provider uses
// the global tracer provider.
func TracingMiddleware(tp trace.TracerProvider, provider string) Middleware {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(llmTracerName)
	return func(next CoreLLM) CoreLLM {
		return &tracedLLM{next: next, tracer: tracer, provider: provider}
	}
}

func (t *tracedLLM) DoRequest(ctx context.Context, prompt string, opts ports.GenerationOptions) (Completion, error) {
	ctx, span := t.tracer.Start(ctx, "llm.DoRequest",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", t.provider),
			attribute.String("llm.model", t.next.GetModel()),
			attribute.Float64("llm.temperature", opts.Temperature),
			attribute.Int("llm.max_output_tokens", opts.MaxOutputTokens),
			attribute.Int("llm.prompt_length", len(prompt)),
		),
	)
	defer span.End()

	out, err := t.next.DoRequest(ctx, prompt, opts)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("llm.status", requestStatus(err)))
		span.SetStatus(codes.Error, err.Error())
		return out, err
	}

	span.SetAttributes(
		attribute.Int("llm.tokens_in", out.TokensIn),
		attribute.Int("llm.tokens_out", out.TokensOut),
	)
	span.SetStatus(codes.Ok, "")
	return out, nil
}

func (t *tracedLLM) GetModel() string { return t.next.GetModel() }
