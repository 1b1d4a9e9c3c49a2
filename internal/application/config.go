package application

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Ridwanabdusalam/cleanlab/infrastructure/batch"
	"github.com/Ridwanabdusalam/cleanlab/infrastructure/cache"
	"github.com/Ridwanabdusalam/cleanlab/infrastructure/llm"
	"github.com/Ridwanabdusalam/cleanlab/infrastructure/middleware"
	"github.com/Ridwanabdusalam/cleanlab/infrastructure/scoring"
	"github.com/Ridwanabdusalam/cleanlab/internal/domain"
)

// Config is the complete engine configuration. Load it with LoadConfig or
// start from DefaultConfig; every section has working defaults apart from
// the model API key.
type Config struct {
	// Model selects the provider and model that answer reflection prompts.
	Model ModelConfig `yaml:"model"`
	// Retry controls backoff between failed model requests.
	Retry RetrySettings `yaml:"retry"`
	// Reflection configures the default scoring function.
	Reflection ReflectionSettings `yaml:"reflection"`
	// Cache bounds the shared score cache.
	Cache CacheSettings `yaml:"cache"`
	// CircuitBreaker decides when upstream failures stop new work.
	CircuitBreaker BreakerSettings `yaml:"circuit_breaker"`
	// Concurrency bounds in-flight evaluations and reacts to host load.
	Concurrency GovernorSettings `yaml:"concurrency"`
	// Batch tunes the adaptive batch scheduler.
	Batch BatchSettings `yaml:"batch"`
	// WeightedFunctions registers extra weighted heuristic scorers by name.
	WeightedFunctions map[string]WeightedSettings `yaml:"weighted_functions" validate:"dive,keys,required,endkeys"`
	Logging           LoggingSettings             `yaml:"logging"`
	Server            ServerSettings              `yaml:"server"`
}

// ModelConfig identifies the language model backend.
type ModelConfig struct {
	// Provider is a registered provider name such as gemini or openai.
	Provider string `yaml:"provider" validate:"required,provider"`
	// Name is the provider-specific model id. Empty uses the provider default.
	Name string `yaml:"name"`
	// APIKey is usually supplied through the environment.
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	// TimeoutSeconds bounds a single request attempt.
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"min=1,max=600"`
	// RateLimitRequests per RateLimitWindowSeconds caps outbound calls. Zero
	// requests disables the limiter.
	RateLimitRequests      int `yaml:"rate_limit_requests" validate:"min=0,max=100000"`
	RateLimitWindowSeconds int `yaml:"rate_limit_window_seconds" validate:"min=1,max=86400"`
}

// RetrySettings mirror llm.RetryConfig in config units.
type RetrySettings struct {
	// MaxRetries is the total number of attempts per prompt.
	MaxRetries  int     `yaml:"max_retries" validate:"min=1,max=10"`
	BaseDelayMS int     `yaml:"base_delay_ms" validate:"min=0,max=60000"`
	MaxDelayMS  int     `yaml:"max_delay_ms" validate:"min=0,max=600000"`
	Jitter      float64 `yaml:"jitter" validate:"min=0,max=1"`
}

// ReflectionSettings configure the self-reflection scorer.
type ReflectionSettings struct {
	Templates       []string `yaml:"templates" validate:"required,min=1,dive,template"`
	MaxConcurrency  int      `yaml:"max_concurrency" validate:"min=1,max=64"`
	Temperature     float64  `yaml:"temperature" validate:"min=0,max=2"`
	MaxOutputTokens int      `yaml:"max_output_tokens" validate:"min=1,max=8192"`
	// CacheVerdicts remembers each template's verdict per question and
	// answer, independent of the score cache.
	CacheVerdicts bool `yaml:"cache_verdicts"`
	// VerdictStorePath persists verdicts in a badger directory so they
	// survive restarts. Empty keeps them in memory.
	VerdictStorePath string `yaml:"verdict_store_path"`
}

// CacheSettings configure the score cache.
type CacheSettings struct {
	Enabled              bool `yaml:"enabled"`
	TTLSeconds           int  `yaml:"ttl_seconds" validate:"min=0"`
	MaxSize              int  `yaml:"max_size" validate:"min=1"`
	SweepIntervalSeconds int  `yaml:"sweep_interval_seconds" validate:"min=1"`
}

// BreakerSettings configure the circuit breaker.
type BreakerSettings struct {
	FailureThreshold int  `yaml:"failure_threshold" validate:"min=1"`
	TimeoutSeconds   int  `yaml:"timeout_seconds" validate:"min=1"`
	ResetOnSuccess   bool `yaml:"reset_on_success"`
}

// GovernorSettings configure the concurrency governor.
type GovernorSettings struct {
	MaxConcurrent    int     `yaml:"max_concurrent" validate:"min=1"`
	MinConcurrent    int     `yaml:"min_concurrent" validate:"min=1,ltefield=MaxConcurrent"`
	ShrinkFactor     float64 `yaml:"shrink_factor" validate:"gt=0,lt=1"`
	SoftThreshold    float64 `yaml:"soft_threshold" validate:"gt=0,ltefield=HardThreshold"`
	HardThreshold    float64 `yaml:"hard_threshold" validate:"gt=0,max=100"`
	SampleIntervalMS int     `yaml:"sample_interval_ms" validate:"min=10"`
	RecoveryEnabled  bool    `yaml:"recovery_enabled"`
	// LoadSampling reads host CPU and memory from procfs. When false the
	// governor only bounds concurrency.
	LoadSampling bool `yaml:"load_sampling"`
}

// BatchSettings configure the batch scheduler.
type BatchSettings struct {
	Enabled             bool `yaml:"enabled"`
	InitialSize         int  `yaml:"initial_size" validate:"min=1"`
	MinSize             int  `yaml:"min_size" validate:"min=1"`
	MaxSize             int  `yaml:"max_size" validate:"min=1"`
	WindowSize          int  `yaml:"window_size" validate:"min=1"`
	FastThresholdMS     int  `yaml:"fast_threshold_ms" validate:"min=1"`
	SlowThresholdMS     int  `yaml:"slow_threshold_ms" validate:"min=1"`
	CollectTimeoutMS    int  `yaml:"collect_timeout_ms" validate:"min=0"`
	PollIntervalMS      int  `yaml:"poll_interval_ms" validate:"min=1"`
	RetryBackoffMS      int  `yaml:"retry_backoff_ms" validate:"min=0"`
	MaxDispatchAttempts int  `yaml:"max_dispatch_attempts" validate:"min=1,max=10"`
	// Concurrency bounds parallel evaluations inside one batch.
	Concurrency int `yaml:"concurrency" validate:"min=1"`
}

// WeightedSettings define a weighted heuristic scoring function.
type WeightedSettings struct {
	Description string             `yaml:"description"`
	Weights     map[string]float64 `yaml:"weights" validate:"required,min=1"`
	MaxLength   int                `yaml:"max_length" validate:"min=0"`
}

// LoggingSettings configure slog.
type LoggingSettings struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// ServerSettings configure the HTTP adapter.
type ServerSettings struct {
	Addr                string `yaml:"addr" validate:"required"`
	ShutdownGraceSecond int    `yaml:"shutdown_grace_seconds" validate:"min=0,max=300"`
	// RateLimitPerMinute bounds requests per client address. Zero disables
	// it.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute" validate:"min=0"`
	RateLimitBurst     int `yaml:"rate_limit_burst" validate:"min=0"`
	// MaxBatch caps the requests accepted in one batch call.
	MaxBatch int `yaml:"max_batch" validate:"min=1,max=10000"`
}

// DefaultConfig returns the stock configuration: Gemini, three attempts
// with one second base backoff, a 300 second score cache of 1000 entries,
// a breaker that opens after five failures for 30 seconds, 100 concurrent
// evaluations and batches starting at ten.
func DefaultConfig() Config {
	return Config{
		Model: ModelConfig{
			Provider:               "gemini",
			Name:                   llm.GeminiDefaultModel,
			TimeoutSeconds:         int(llm.DefaultRequestTimeout / time.Second),
			RateLimitRequests:      llm.DefaultRateLimitRequests,
			RateLimitWindowSeconds: int(llm.DefaultRateLimitWindow / time.Second),
		},
		Retry: RetrySettings{
			MaxRetries:  llm.DefaultMaxAttempts,
			BaseDelayMS: int(llm.DefaultBaseDelay / time.Millisecond),
			Jitter:      llm.DefaultJitterFraction,
		},
		Reflection: ReflectionSettings{
			Templates:       append([]string(nil), scoring.DefaultReflectionTemplates...),
			MaxConcurrency:  scoring.DefaultReflectionConcurrency,
			MaxOutputTokens: scoring.DefaultReflectionMaxTokens,
			CacheVerdicts:   true,
		},
		Cache: CacheSettings{
			Enabled:              true,
			TTLSeconds:           int(cache.DefaultTTL / time.Second),
			MaxSize:              cache.DefaultMaxSize,
			SweepIntervalSeconds: int(cache.DefaultSweepInterval / time.Second),
		},
		CircuitBreaker: BreakerSettings{
			FailureThreshold: middleware.DefaultFailureThreshold,
			TimeoutSeconds:   int(middleware.DefaultResetTimeout / time.Second),
		},
		Concurrency: GovernorSettings{
			MaxConcurrent:    middleware.DefaultMaxConcurrent,
			MinConcurrent:    middleware.DefaultMinConcurrent,
			ShrinkFactor:     middleware.DefaultShrinkFactor,
			SoftThreshold:    middleware.DefaultSoftThreshold,
			HardThreshold:    middleware.DefaultHardThreshold,
			SampleIntervalMS: int(middleware.DefaultSampleInterval / time.Millisecond),
			LoadSampling:     true,
		},
		Batch: BatchSettings{
			Enabled:             true,
			InitialSize:         batch.DefaultInitialSize,
			MinSize:             batch.DefaultMinSize,
			MaxSize:             batch.DefaultMaxSize,
			WindowSize:          batch.DefaultWindow,
			FastThresholdMS:     int(batch.DefaultFastThreshold / time.Millisecond),
			SlowThresholdMS:     int(batch.DefaultSlowThreshold / time.Millisecond),
			CollectTimeoutMS:    int(batch.DefaultCollectTimeout / time.Millisecond),
			PollIntervalMS:      int(batch.DefaultPollInterval / time.Millisecond),
			RetryBackoffMS:      int(batch.DefaultRetryBackoff / time.Millisecond),
			MaxDispatchAttempts: batch.DefaultMaxDispatchAttempts,
			Concurrency:         DefaultBatchConcurrency,
		},
		Logging: LoggingSettings{Level: "info", Format: "text"},
		Server:  ServerSettings{Addr: ":8080", ShutdownGraceSecond: 10, RateLimitPerMinute: 600, MaxBatch: 1000},
	}
}

// LoadConfig reads a YAML file over DefaultConfig, applies environment
// overrides and validates the result.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return LoadConfigFromReader(bytes.NewReader(data), os.LookupEnv)
}

// LoadConfigFromReader is LoadConfig over any reader with an injectable
// environment lookup. Unknown YAML fields are rejected.
func LoadConfigFromReader(r io.Reader, lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()

	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: failed to parse YAML: %v", domain.ErrInvalidConfiguration, err)
	}

	cfg.ApplyEnv(lookup)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// providerKeyEnv names the provider-specific API key variables, consulted
// after TRUST_API_KEY.
var providerKeyEnv = map[string][]string{
	"gemini":    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"google":    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"openai":    {"OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_API_KEY"},
}

// ApplyEnv overrides fields from the environment: TRUST_PROVIDER,
// DEFAULT_MODEL, TRUST_API_KEY or the provider's own key variable,
// LOG_LEVEL, LOG_FORMAT and TRUST_SERVER_ADDR. Empty values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		return
	}
	get := func(name string) (string, bool) {
		v, ok := lookup(name)
		return v, ok && v != ""
	}

	if v, ok := get("TRUST_PROVIDER"); ok {
		c.Model.Provider = v
	}
	if v, ok := get("DEFAULT_MODEL"); ok {
		c.Model.Name = v
	}
	if c.Model.APIKey == "" {
		keys := append([]string{"TRUST_API_KEY"}, providerKeyEnv[c.Model.Provider]...)
		for _, name := range keys {
			if v, ok := get(name); ok {
				c.Model.APIKey = v
				break
			}
		}
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		c.Logging.Format = v
	}
	if v, ok := get("TRUST_SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
}

var configValidate = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New()
	if err := registerConfigValidators(v); err != nil {
		panic(err)
	}
	return v
}

// Validate checks struct constraints plus the cross-section rules the tags
// cannot express.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	if err := c.batchConfig().Validate(); err != nil {
		return err
	}
	for name, w := range c.WeightedFunctions {
		if _, err := scoring.NewWeightedScorer(w.scoringConfig()); err != nil {
			return fmt.Errorf("weighted function %q: %w", name, err)
		}
	}
	return nil
}

func ms(n int) time.Duration  { return time.Duration(n) * time.Millisecond }
func sec(n int) time.Duration { return time.Duration(n) * time.Second }

func (c Config) retryConfig() llm.RetryConfig {
	return llm.RetryConfig{
		MaxAttempts:    c.Retry.MaxRetries,
		BaseDelay:      ms(c.Retry.BaseDelayMS),
		MaxDelay:       ms(c.Retry.MaxDelayMS),
		JitterFraction: c.Retry.Jitter,
	}
}

func (c Config) reflectionConfig() scoring.ReflectionConfig {
	return scoring.ReflectionConfig{
		Templates:       c.Reflection.Templates,
		MaxConcurrency:  c.Reflection.MaxConcurrency,
		Temperature:     c.Reflection.Temperature,
		MaxOutputTokens: c.Reflection.MaxOutputTokens,
	}
}

func (c Config) breakerConfig() middleware.CircuitBreakerConfig {
	return middleware.CircuitBreakerConfig{
		FailureThreshold: c.CircuitBreaker.FailureThreshold,
		ResetTimeout:     sec(c.CircuitBreaker.TimeoutSeconds),
		ResetOnSuccess:   c.CircuitBreaker.ResetOnSuccess,
	}
}

func (c Config) governorConfig() middleware.GovernorConfig {
	return middleware.GovernorConfig{
		MaxConcurrent:   c.Concurrency.MaxConcurrent,
		MinConcurrent:   c.Concurrency.MinConcurrent,
		ShrinkFactor:    c.Concurrency.ShrinkFactor,
		SoftThreshold:   c.Concurrency.SoftThreshold,
		HardThreshold:   c.Concurrency.HardThreshold,
		SampleInterval:  ms(c.Concurrency.SampleIntervalMS),
		RecoveryEnabled: c.Concurrency.RecoveryEnabled,
	}
}

func (c Config) batchConfig() batch.Config {
	b := c.Batch
	return batch.Config{
		InitialSize:         b.InitialSize,
		MinSize:             b.MinSize,
		MaxSize:             b.MaxSize,
		Window:              b.WindowSize,
		FastThreshold:       ms(b.FastThresholdMS),
		SlowThreshold:       ms(b.SlowThresholdMS),
		CollectTimeout:      ms(b.CollectTimeoutMS),
		PollInterval:        ms(b.PollIntervalMS),
		RetryBackoff:        ms(b.RetryBackoffMS),
		OverloadPause:       batch.DefaultOverloadPause,
		MaxDispatchAttempts: b.MaxDispatchAttempts,
	}
}

func (w WeightedSettings) scoringConfig() scoring.WeightedConfig {
	return scoring.WeightedConfig{Weights: w.Weights, MaxLength: w.MaxLength}
}
