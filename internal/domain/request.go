package domain

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Param is a single caller-supplied scoring parameter. Params travel as an
// ordered list so requests can be echoed back exactly; the cache key sorts
// them so ordering never affects cache identity.
type Param struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// EvaluationRequest asks for the trustworthiness of Answer as a response to
// Question. ScoringFunction selects a registered scorer; empty means the
// default one.
type EvaluationRequest struct {
	Question        string  `json:"question" yaml:"question"`
	Answer          string  `json:"answer" yaml:"answer"`
	Context         string  `json:"context,omitempty" yaml:"context,omitempty"`
	ScoringFunction string  `json:"scoring_function,omitempty" yaml:"scoring_function,omitempty"`
	Params          []Param `json:"params,omitempty" yaml:"params,omitempty"`
	// SkipCache bypasses both the cache lookup and the cache write.
	SkipCache bool `json:"skip_cache,omitempty" yaml:"skip_cache,omitempty"`
}

// Validate reports every problem with the request at once. Whitespace-only
// questions and answers count as empty.
func (r EvaluationRequest) Validate() error {
	verr := NewValidationError("EvaluationRequest")
	if strings.TrimSpace(r.Question) == "" {
		verr.AddError("question must not be empty")
	}
	if strings.TrimSpace(r.Answer) == "" {
		verr.AddError("answer must not be empty")
	}
	for i, p := range r.Params {
		if p.Key == "" {
			verr.AddError("params[" + strconv.Itoa(i) + "] has an empty key")
		}
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}

// Param returns the value of the first parameter named key.
func (r EvaluationRequest) Param(key string) (string, bool) {
	for _, p := range r.Params {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// FunctionName returns the scoring function to use, substituting the
// default name when none was requested.
func (r EvaluationRequest) FunctionName() string {
	if r.ScoringFunction == "" {
		return DefaultScoringFunction
	}
	return r.ScoringFunction
}

// CacheKey identifies the request in the response cache. Every text field
// is Go-quoted so no separator inside a question, answer or param can make
// two distinct requests share a key:
//
//	"function":"question":"answer":"context":"k1"="v1","k2"="v2"
//
// Params are sorted, so their order never affects the key.
func (r EvaluationRequest) CacheKey() string {
	pairs := make([]string, len(r.Params))
	for i, p := range r.Params {
		pairs[i] = strconv.Quote(p.Key) + "=" + strconv.Quote(p.Value)
	}
	sort.Strings(pairs)

	var b strings.Builder
	b.Grow(len(r.Question) + len(r.Answer) + len(r.Context) + 32)
	b.WriteString(strconv.Quote(r.FunctionName()))
	for _, field := range []string{r.Question, r.Answer, r.Context} {
		b.WriteByte(':')
		b.WriteString(strconv.Quote(field))
	}
	b.WriteByte(':')
	b.WriteString(strings.Join(pairs, ","))
	return b.String()
}

// Size is the cache accounting size of the request: its input character
// count.
func (r EvaluationRequest) Size() int {
	return utf8.RuneCountInString(r.Question) + utf8.RuneCountInString(r.Answer)
}

// DefaultScoringFunction names the scorer used when a request does not pick
// one.
const DefaultScoringFunction = "default"
