package application

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Ridwanabdusalam/cleanlab/internal/domain"
	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

// ErrDuplicateScoringFunction is returned when a name is registered twice
// without overwrite.
var ErrDuplicateScoringFunction = errors.New("scoring function already registered")

// ScoringFunction is a registered scorer with its description.
type ScoringFunction struct {
	Name        string
	Description string
	Scorer      ports.Scorer
}

// ScoringRegistry maps scoring function names to scorers. It is an explicit
// object injected into the Detector rather than process-global state, and
// is safe for concurrent use.
type ScoringRegistry struct {
	mu        sync.RWMutex
	functions map[string]ScoringFunction
}

// NewScoringRegistry returns an empty registry.
func NewScoringRegistry() *ScoringRegistry {
	return &ScoringRegistry{functions: make(map[string]ScoringFunction)}
}

// Register adds scorer under name. A taken name fails with
// ErrDuplicateScoringFunction unless overwrite is set.
func (r *ScoringRegistry) Register(name, description string, scorer ports.Scorer, overwrite bool) error {
	if name == "" {
		return fmt.Errorf("%w: scoring function name cannot be empty", domain.ErrInvalidConfiguration)
	}
	if scorer == nil {
		return fmt.Errorf("%w: scoring function %q has no scorer", domain.ErrInvalidConfiguration, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.functions[name]; exists && !overwrite {
		return fmt.Errorf("%w: %q", ErrDuplicateScoringFunction, name)
	}
	r.functions[name] = ScoringFunction{Name: name, Description: description, Scorer: scorer}
	return nil
}

// RegisterFunc registers a plain function as a scorer.
func (r *ScoringRegistry) RegisterFunc(name, description string, fn ports.ScorerFunc, overwrite bool) error {
	if fn == nil {
		return r.Register(name, description, nil, overwrite)
	}
	return r.Register(name, description, fn, overwrite)
}

// Get returns the scorer for name. An empty name means the default
// function. Unknown names fail with a *domain.ScoringFunctionError.
func (r *ScoringRegistry) Get(name string) (ports.Scorer, error) {
	if name == "" {
		name = domain.DefaultScoringFunction
	}
	r.mu.RLock()
	fn, ok := r.functions[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &domain.ScoringFunctionError{Name: name}
	}
	return fn.Scorer, nil
}

// Unregister removes name and reports whether it was present.
func (r *ScoringRegistry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.functions[name]
	delete(r.functions, name)
	return ok
}

// List returns name to description for every registered function.
func (r *ScoringRegistry) List() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.functions))
	for name, fn := range r.functions {
		out[name] = fn.Description
	}
	return out
}

// Names returns the registered names in sorted order.
func (r *ScoringRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
