package llm

import (
	"context"
	"time"

	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

// DefaultRequestTimeout bounds a single model request.
const DefaultRequestTimeout = 30 * time.Second

type timeoutLLM struct {
	next    CoreLLM
	timeout time.Duration
}

// TimeoutMiddleware bounds each attempt with its own deadline. Backoff
// waits in ModelClient are outside it.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return func(next CoreLLM) CoreLLM {
		return &timeoutLLM{next: next, timeout: timeout}
	}
}

func (t *timeoutLLM) DoRequest(ctx context.Context, prompt string, opts ports.GenerationOptions) (Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.DoRequest(ctx, prompt, opts)
}

func (t *timeoutLLM) GetModel() string { return t.next.GetModel() }
