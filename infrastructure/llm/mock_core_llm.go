package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

// errSimulated is returned by MockCoreLLM when it must fail but no Error
// is configured.
var errSimulated = errors.New("simulated failure")

// MockCoreLLM is a scripted CoreLLM for tests. Configure it before use; the
// tracking fields are read through the getters while calls are in flight.
type MockCoreLLM struct {
	mu sync.Mutex

	// Response is returned on success unless Handler is set.
	Response  string
	TokensIn  int
	TokensOut int
	// Error is returned on every call, or only on the first
	// FailUntilAttempt calls when that is positive.
	Error error
	Model string
	// ResponseDelay is waited out before answering, honouring ctx.
	ResponseDelay time.Duration
	// FailUntilAttempt fails the first N calls and then succeeds.
	FailUntilAttempt int
	// Handler, when set, produces the reply for each prompt.
	Handler func(prompt string) (string, error)

	CallCount      int
	LastPrompt     string
	LastOpts       ports.GenerationOptions
	Prompts        []string
	CallTimestamps []time.Time
}

var _ CoreLLM = (*MockCoreLLM)(nil)

// NewMockCoreLLM returns a mock that answers "test response".
func NewMockCoreLLM() *MockCoreLLM {
	return &MockCoreLLM{
		Response:  "test response",
		TokensIn:  10,
		TokensOut: 20,
		Model:     "test-model",
	}
}

// DoRequest implements CoreLLM.
func (m *MockCoreLLM) DoRequest(ctx context.Context, prompt string, opts ports.GenerationOptions) (Completion, error) {
	m.mu.Lock()
	m.CallCount++
	call := m.CallCount
	m.LastPrompt = prompt
	m.LastOpts = opts
	m.Prompts = append(m.Prompts, prompt)
	m.CallTimestamps = append(m.CallTimestamps, time.Now())
	delay, handler, failUntil, cfgErr := m.ResponseDelay, m.Handler, m.FailUntilAttempt, m.Error
	resp := Completion{Text: m.Response, TokensIn: m.TokensIn, TokensOut: m.TokensOut}
	m.mu.Unlock()

	if delay > 0 {
		if err := sleep(ctx, delay); err != nil {
			return Completion{}, err
		}
	}

	if failUntil > 0 {
		if call <= failUntil {
			if cfgErr != nil {
				return Completion{}, cfgErr
			}
			return Completion{}, errSimulated
		}
	} else if cfgErr != nil {
		return Completion{}, cfgErr
	}

	if handler != nil {
		text, err := handler(prompt)
		if err != nil {
			return Completion{}, err
		}
		resp.Text = text
	}
	return resp, nil
}

// GetModel implements CoreLLM.
func (m *MockCoreLLM) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Model
}

// GetCallCount returns the number of DoRequest calls.
func (m *MockCoreLLM) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// GetPrompts returns a copy of every prompt received, in call order.
func (m *MockCoreLLM) GetPrompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Prompts...)
}

// GetTimeBetweenCalls returns the gap between two recorded calls, or nil if
// either index is out of range.
func (m *MockCoreLLM) GetTimeBetweenCalls(call1, call2 int) *time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if call1 < 0 || call2 < 0 || call1 >= len(m.CallTimestamps) || call2 >= len(m.CallTimestamps) {
		return nil
	}
	d := m.CallTimestamps[call2].Sub(m.CallTimestamps[call1])
	return &d
}

// Reset clears tracking data and keeps the configuration.
func (m *MockCoreLLM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCount = 0
	m.LastPrompt = ""
	m.LastOpts = ports.GenerationOptions{}
	m.Prompts = nil
	m.CallTimestamps = nil
}
