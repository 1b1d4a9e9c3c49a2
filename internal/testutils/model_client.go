// Package testutils provides deterministic model clients and labelled
// datasets for exercising the scoring pipeline without a real provider.
package testutils

import (
	"context"
	"strings"
	"sync"

	"github.com/Ridwanabdusalam/cleanlab/infrastructure/llm"
	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

// Rule replies with Reply to any prompt containing every string in Match.
type Rule struct {
	Match []string
	Reply string
}

// ScriptedModelClient implements ports.ModelClient with canned replies.
// Rules are tried in the order they were added; prompts matching none get
// the fallback, which defaults to the uncertain verdict. It is safe for
// concurrent use.
type ScriptedModelClient struct {
	mu       sync.Mutex
	model    string
	rules    []Rule
	fallback string
	err      error
	prompts  []string
}

var _ ports.ModelClient = (*ScriptedModelClient)(nil)

// NewScriptedModelClient returns a client with no rules.
func NewScriptedModelClient(model string) *ScriptedModelClient {
	return &ScriptedModelClient{model: model, fallback: llm.UncertainReply}
}

// On adds a rule and returns the client for chaining.
func (m *ScriptedModelClient) On(reply string, match ...string) *ScriptedModelClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, Rule{Match: match, Reply: reply})
	return m
}

// Otherwise sets the reply for unmatched prompts.
func (m *ScriptedModelClient) Otherwise(reply string) *ScriptedModelClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = reply
	return m
}

// FailWith makes every Send return err. Nil restores normal replies.
func (m *ScriptedModelClient) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Send implements ports.ModelClient.
func (m *ScriptedModelClient) Send(ctx context.Context, prompt string, _ ports.GenerationOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	for _, r := range m.rules {
		if matchesAll(prompt, r.Match) {
			return r.Reply, nil
		}
	}
	return m.fallback, nil
}

func matchesAll(prompt string, parts []string) bool {
	for _, p := range parts {
		if !strings.Contains(prompt, p) {
			return false
		}
	}
	return true
}

// GetModel implements ports.ModelClient.
func (m *ScriptedModelClient) GetModel() string { return m.model }

// Calls returns how many prompts were sent.
func (m *ScriptedModelClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Prompts returns a copy of every prompt sent, in arrival order.
func (m *ScriptedModelClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Reset forgets recorded prompts.
func (m *ScriptedModelClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = nil
}
