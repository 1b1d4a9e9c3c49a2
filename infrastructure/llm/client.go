// Package llm sends reflection prompts to language model providers.
//
// Providers (the Gemini REST endpoint, the Gemini SDK, OpenAI and
// Anthropic) implement CoreLLM. Cross-cutting behaviour such as rate
// limiting, per-request timeouts, metrics and tracing is layered on with
// Middleware, and ModelClient adds retry with exponential backoff on top of
// the assembled chain:
//
//	core, err := llm.NewCore("gemini", llm.ClientConfig{
//	    APIKey: os.Getenv("GEMINI_API_KEY"),
//	    Model:  "gemini-1.5-pro",
//	    Middleware: []llm.Middleware{
//	        llm.TracingMiddleware(nil, "gemini"),
//	        llm.MetricsMiddleware(metrics, "gemini"),
//	        llm.RateLimitMiddleware(15, time.Minute),
//	        llm.TimeoutMiddleware(30 * time.Second),
//	    },
//	})
//	client := llm.NewModelClient(core, llm.DefaultRetryConfig())
//	text, err := client.Send(ctx, prompt, ports.GenerationOptions{})
package llm

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

// Completion is a provider's reply to one prompt.
type Completion struct {
	Text      string
	TokensIn  int
	TokensOut int
}

// CoreLLM is the minimal interface a provider implements. DoRequest makes
// exactly one attempt; retries belong to ModelClient.
type CoreLLM interface {
	DoRequest(ctx context.Context, prompt string, opts ports.GenerationOptions) (Completion, error)

	// GetModel returns the configured model name.
	GetModel() string
}

// ClientConfig holds the settings used to build a provider and its
// middleware chain.
type ClientConfig struct {
	// APIKey authenticates requests to the provider.
	APIKey string

	// Model is the provider-specific model identifier.
	Model string

	// BaseURL overrides the provider's default endpoint. For the Gemini
	// REST provider it is a format string with one %s for the model.
	BaseURL string

	// Timeout bounds the underlying HTTP client. Zero leaves the provider
	// default in place.
	Timeout time.Duration

	// HTTPClient replaces the HTTP client where the provider supports it.
	HTTPClient *http.Client

	// Middleware wraps the provider. The first entry is the outermost.
	Middleware []Middleware
}

// Middleware wraps a CoreLLM to add behaviour without changing providers.
type Middleware func(CoreLLM) CoreLLM

// ProviderFactory creates a CoreLLM from configuration.
type ProviderFactory func(ClientConfig) (CoreLLM, error)

var (
	factoriesMu       sync.RWMutex
	providerFactories = map[string]ProviderFactory{}
)

// RegisterProviderFactory makes a provider available to NewCore under name.
// Registering an existing name replaces it.
func RegisterProviderFactory(name string, factory ProviderFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	providerFactories[name] = factory
}

// Providers returns the registered provider names in sorted order.
func Providers() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(providerFactories))
	for name := range providerFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewCore creates the named provider and wraps it in config.Middleware.
func NewCore(provider string, config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	factoriesMu.RLock()
	factory, ok := providerFactories[provider]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (available: %v)", provider, Providers())
	}

	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider: %w", provider, err)
	}
	return Chain(core, config.Middleware...), nil
}

// Chain wraps core so that mws[0] is the outermost layer.
func Chain(core CoreLLM, mws ...Middleware) CoreLLM {
	for i := len(mws) - 1; i >= 0; i-- {
		core = mws[i](core)
	}
	return core
}
