package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ridwanabdusalam/cleanlab/internal/domain"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestScoringFunctionsCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trust.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
weighted_functions:
  grounded:
    description: context heavy
    weights:
      context_similarity: 1
`), 0o600))

	out, err := execute(t, "scoring-functions", "--config", path, "--log-level", "error")
	require.NoError(t, err)

	for _, name := range []string{"default", "length_based", "keyword_matching", "heuristic", "strict", "grounded"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "context heavy")
	assert.True(t, strings.HasPrefix(out, "NAME"))
}

func TestRootCmd_BadFlags(t *testing.T) {
	_, err := execute(t, "scoring-functions", "--log-level", "loud")
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	_, err = execute(t, "scoring-functions", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEvaluateCmd_ValidatesBeforeBuilding(t *testing.T) {
	_, err := execute(t, "evaluate", "--answer", "Paris")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = execute(t, "evaluate", "-q", "q", "-a", "a", "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestEvaluateFlags_Request(t *testing.T) {
	f := evaluateFlags{
		question: "q",
		answer:   "a",
		function: "keyword_matching",
		params:   map[string]string{"z": "1", "a": "2"},
		noCache:  true,
	}
	req := f.request()
	assert.Equal(t, "keyword_matching", req.ScoringFunction)
	assert.True(t, req.SkipCache)
	assert.Equal(t, []domain.Param{{Key: "a", Value: "2"}, {Key: "z", Value: "1"}}, req.Params)
}

func TestReadBatchFile(t *testing.T) {
	reqs, err := readBatchFile(strings.NewReader(`
requests:
  - question: What is 2+2?
    answer: "4"
  - question: Capital of France?
    answer: Paris
    scoring_function: length_based
    skip_cache: true
    params:
      - key: mode
        value: fast
`))
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "4", reqs[0].Answer)
	assert.Equal(t, "length_based", reqs[1].ScoringFunction)
	assert.True(t, reqs[1].SkipCache)
	assert.Equal(t, []domain.Param{{Key: "mode", Value: "fast"}}, reqs[1].Params)

	_, err = readBatchFile(strings.NewReader(""))
	assert.Error(t, err)
	_, err = readBatchFile(strings.NewReader("requests: []\n"))
	assert.Error(t, err)
	_, err = readBatchFile(strings.NewReader("requests:\n  - questoin: typo\n"))
	assert.Error(t, err)
}

func TestToBatchResults(t *testing.T) {
	results, failed := toBatchResults([]domain.EvaluationResult{
		{ID: "a", Index: 0, Score: &domain.TrustScore{Score: 1}},
		{ID: "b", Index: 1, Err: domain.ErrLoadShedding},
	})
	assert.Equal(t, 1, failed)
	assert.Equal(t, "success", results[0].Status)
	assert.Equal(t, "load_shed", results[1].Status)
	assert.Equal(t, domain.ErrLoadShedding.Error(), results[1].Error)
}

func TestWriteScore(t *testing.T) {
	s := domain.TrustScore{
		Score:           0.75,
		Interval:        domain.ConfidenceInterval{Lower: 0.7, Upper: 0.8},
		ScoringFunction: "default",
		Explanation: domain.ScoreExplanation{
			Reasoning:  "two of four correct",
			Confidence: 0.9,
			Factors:    map[string]float64{"reflection_1": 1, "reflection_0": 0.5},
		},
	}

	var text bytes.Buffer
	require.NoError(t, writeScore(&text, "text", s))
	out := text.String()
	assert.Contains(t, out, "score:      0.750 [0.700, 0.800]")
	assert.Contains(t, out, "reasoning:  two of four correct")
	assert.Less(t, strings.Index(out, "reflection_0"), strings.Index(out, "reflection_1"))

	var js bytes.Buffer
	require.NoError(t, writeScore(&js, "json", s))
	assert.Contains(t, js.String(), `"score": 0.75`)
}
