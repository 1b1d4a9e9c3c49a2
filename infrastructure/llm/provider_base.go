package llm

import (
	"math"
	"sync"

	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

// DefaultMaxOutputTokens is used when a request leaves MaxOutputTokens
// unset.
const DefaultMaxOutputTokens = 256

// BaseProvider holds the state every provider shares.
type BaseProvider struct {
	mu         sync.RWMutex
	model      string
	classifier *ErrorClassifier
}

func newBaseProvider(name, model string) BaseProvider {
	return BaseProvider{model: model, classifier: &ErrorClassifier{Provider: name}}
}

// GetModel returns the configured model. It is safe for concurrent use.
func (b *BaseProvider) GetModel() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.model
}

// SetModel changes the model used by later requests.
func (b *BaseProvider) SetModel(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model = model
}

// generation normalises request options for a provider whose temperature
// range ends at maxTemp.
func generation(opts ports.GenerationOptions, maxTemp float64) (temperature float64, maxTokens int) {
	temperature = clamp(opts.Temperature, 0, maxTemp)
	maxTokens = opts.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxOutputTokens
	}
	return temperature, maxTokens
}

func clamp(val, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, val))
}

func toInt32(n int) int32 {
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(n)
}
