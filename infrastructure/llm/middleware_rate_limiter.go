package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

// Default outbound rate: 15 requests per minute.
const (
	DefaultRateLimitRequests = 15
	DefaultRateLimitWindow   = time.Minute
)

type rateLimitedLLM struct {
	next    CoreLLM
	limiter *rate.Limiter
}

// RateLimitMiddleware allows at most requests calls per window, admitting a
// full window's worth as a burst and refilling evenly. Callers block in
// DoRequest until a token is free or ctx is done. The limiter is shared by
// every CoreLLM the middleware wraps.
func RateLimitMiddleware(requests int, window time.Duration) Middleware {
	if requests <= 0 {
		requests = DefaultRateLimitRequests
	}
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	limiter := rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests)

	return func(next CoreLLM) CoreLLM {
		return &rateLimitedLLM{next: next, limiter: limiter}
	}
}

func (r *rateLimitedLLM) DoRequest(ctx context.Context, prompt string, opts ports.GenerationOptions) (Completion, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return Completion{}, ctx.Err()
		}
		return Completion{}, fmt.Errorf("rate limit: %w", err)
	}
	return r.next.DoRequest(ctx, prompt, opts)
}

func (r *rateLimitedLLM) GetModel() string { return r.next.GetModel() }
