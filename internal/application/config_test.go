package application

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ridwanabdusalam/cleanlab/infrastructure/scoring"
	"github.com/Ridwanabdusalam/cleanlab/internal/domain"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "gemini", cfg.Model.Provider)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 1000, cfg.Retry.BaseDelayMS)
	assert.Equal(t, 300, cfg.Cache.TTLSeconds)
	assert.Equal(t, 1000, cfg.Cache.MaxSize)
	assert.Equal(t, 5, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 30, cfg.CircuitBreaker.TimeoutSeconds)
	assert.Equal(t, 100, cfg.Concurrency.MaxConcurrent)
	assert.Equal(t, 10, cfg.Batch.InitialSize)
	assert.Len(t, cfg.Reflection.Templates, len(scoring.DefaultReflectionTemplates))
}

// TestLoadConfigFromReader tests that YAML overrides only the fields it
// names and that defaults fill the rest.
func TestLoadConfigFromReader(t *testing.T) {
	const doc = `
model:
  provider: openai
  name: gpt-4o-mini
  timeout_seconds: 10
retry:
  max_retries: 5
  base_delay_ms: 200
cache:
  ttl_seconds: 60
circuit_breaker:
  failure_threshold: 3
  reset_on_success: true
weighted_functions:
  brief:
    description: favours short grounded answers
    weights:
      length_score: 1
      context_similarity: 2
logging:
  level: debug
  format: json
`
	cfg, err := LoadConfigFromReader(strings.NewReader(doc), env(nil))
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.Model.Name)
	assert.Equal(t, 10, cfg.Model.TimeoutSeconds)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.retryConfig().BaseDelay)
	assert.Equal(t, 60, cfg.Cache.TTLSeconds)
	assert.Equal(t, 1000, cfg.Cache.MaxSize, "unset fields keep their default")
	assert.Equal(t, 3, cfg.breakerConfig().FailureThreshold)
	assert.True(t, cfg.breakerConfig().ResetOnSuccess)
	require.Contains(t, cfg.WeightedFunctions, "brief")
	assert.Equal(t, 2.0, cfg.WeightedFunctions["brief"].Weights["context_similarity"])
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadConfigFromReader_Empty(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader(""), env(nil))
	require.NoError(t, err)
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("empty document changed defaults (-want +got):\n%s", diff)
	}
}

func TestLoadConfigFromReader_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown field", "model:\n  colour: blue\n"},
		{"malformed yaml", "model: [\n"},
		{"unknown provider", "model:\n  provider: carrier-pigeon\n"},
		{"template without placeholders", "reflection:\n  templates: [\"Is it right?\"]\n"},
		{"empty templates", "reflection:\n  templates: []\n"},
		{"too many retries", "retry:\n  max_retries: 50\n"},
		{"jitter above one", "retry:\n  jitter: 1.5\n"},
		{"soft above hard", "concurrency:\n  soft_threshold: 95\n  hard_threshold: 90\n"},
		{"min above max", "concurrency:\n  max_concurrent: 5\n  min_concurrent: 6\n"},
		{"shrink factor one", "concurrency:\n  shrink_factor: 1\n"},
		{"batch initial above max", "batch:\n  initial_size: 200\n"},
		{"batch slow below fast", "batch:\n  fast_threshold_ms: 900\n  slow_threshold_ms: 800\n"},
		{"bad log level", "logging:\n  level: loud\n"},
		{"unknown weight factor", "weighted_functions:\n  w:\n    weights:\n      vibes: 1\n"},
		{"negative weight", "weighted_functions:\n  w:\n    weights:\n      length_score: -1\n"},
		{"weighted without weights", "weighted_functions:\n  w:\n    description: nothing\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfigFromReader(strings.NewReader(tt.doc), env(nil))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
		})
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trust.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9090\"\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_ApplyEnv(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		vars     map[string]string
		wantKey  string
	}{
		{"generic key wins", "gemini", map[string]string{"TRUST_API_KEY": "generic", "GEMINI_API_KEY": "gem"}, "generic"},
		{"gemini key", "gemini", map[string]string{"GEMINI_API_KEY": "gem"}, "gem"},
		{"google key for gemini", "gemini", map[string]string{"GOOGLE_API_KEY": "goog"}, "goog"},
		{"openai key", "openai", map[string]string{"OPENAI_API_KEY": "oa", "GEMINI_API_KEY": "gem"}, "oa"},
		{"anthropic key", "anthropic", map[string]string{"ANTHROPIC_API_KEY": "an"}, "an"},
		{"empty values ignored", "gemini", map[string]string{"TRUST_API_KEY": "", "GEMINI_API_KEY": "gem"}, "gem"},
		{"no key", "openai", map[string]string{"GEMINI_API_KEY": "gem"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Model.Provider = tt.provider
			cfg.ApplyEnv(env(tt.vars))
			assert.Equal(t, tt.wantKey, cfg.Model.APIKey)
		})
	}
}

func TestConfig_ApplyEnv_Overrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.APIKey = "from-file"
	cfg.ApplyEnv(env(map[string]string{
		"TRUST_PROVIDER":    "openai",
		"DEFAULT_MODEL":     "gpt-4o",
		"OPENAI_API_KEY":    "from-env",
		"LOG_LEVEL":         "warn",
		"LOG_FORMAT":        "json",
		"TRUST_SERVER_ADDR": ":7000",
	}))

	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, "gpt-4o", cfg.Model.Name)
	assert.Equal(t, "from-file", cfg.Model.APIKey, "a configured key is not replaced")
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, ":7000", cfg.Server.Addr)

	assert.NotPanics(t, func() { cfg.ApplyEnv(nil) })
}

func TestConfig_ComponentConfigs(t *testing.T) {
	cfg := DefaultConfig()

	gov := cfg.governorConfig()
	require.NoError(t, gov.Validate())
	assert.Equal(t, 5*time.Second, gov.SampleInterval)

	b := cfg.batchConfig()
	require.NoError(t, b.Validate())
	assert.Equal(t, 500*time.Millisecond, b.FastThreshold)
	assert.Equal(t, 3, b.MaxDispatchAttempts)

	r := cfg.reflectionConfig()
	assert.Equal(t, scoring.DefaultReflectionConcurrency, r.MaxConcurrency)
	assert.Equal(t, 0.0, r.Temperature)
}
