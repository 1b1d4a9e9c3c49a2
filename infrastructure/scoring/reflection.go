package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/Ridwanabdusalam/cleanlab/internal/domain"
	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

var _ ports.Scorer = (*ReflectionScorer)(nil)

var configValidator = validator.New()

// Reflection defaults.
const (
	DefaultReflectionConcurrency = 4
	DefaultReflectionMaxTokens   = 256
)

// ReflectionConfig configures a ReflectionScorer.
type ReflectionConfig struct {
	// Templates are the reflection prompts; every one is asked per request.
	Templates []string `yaml:"templates" json:"templates" validate:"required,min=1,dive,required"`

	// MaxConcurrency bounds in-flight template calls for one request.
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency" validate:"min=1,max=64"`

	Temperature     float64 `yaml:"temperature" json:"temperature" validate:"min=0,max=2"`
	MaxOutputTokens int     `yaml:"max_output_tokens" json:"max_output_tokens" validate:"min=1,max=8192"`
}

// DefaultReflectionConfig uses the two built-in templates at temperature 0.
func DefaultReflectionConfig() ReflectionConfig {
	return ReflectionConfig{
		Templates:       append([]string(nil), DefaultReflectionTemplates...),
		MaxConcurrency:  DefaultReflectionConcurrency,
		Temperature:     0,
		MaxOutputTokens: DefaultReflectionMaxTokens,
	}
}

// VerdictCache remembers per-template verdicts.
// *cache.ResponseCache[domain.Verdict] satisfies it.
type VerdictCache interface {
	Get(key string) (domain.Verdict, bool)
	Put(key string, value domain.Verdict, size int)
}

// ReflectionScorer asks the model to critique the answer once per template
// and averages the parsed verdicts. It is stateless apart from the optional
// verdict cache and safe for concurrent use.
type ReflectionScorer struct {
	client     ports.ModelClient
	templates  []Template
	config     ReflectionConfig
	aggregator domain.Aggregator
	verdicts   VerdictCache
	metrics    ports.MetricsCollector
	logger     *slog.Logger
}

// ReflectionOption customizes a ReflectionScorer.
type ReflectionOption func(*ReflectionScorer)

// WithVerdictCache caches verdicts by question, answer and template index.
func WithVerdictCache(c VerdictCache) ReflectionOption {
	return func(s *ReflectionScorer) { s.verdicts = c }
}

// WithAggregator replaces the mean aggregation.
func WithAggregator(a domain.Aggregator) ReflectionOption {
	return func(s *ReflectionScorer) {
		if a != nil {
			s.aggregator = a
		}
	}
}

// WithReflectionMetrics records parsed verdicts.
func WithReflectionMetrics(m ports.MetricsCollector) ReflectionOption {
	return func(s *ReflectionScorer) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithReflectionLogger sets the logger.
func WithReflectionLogger(l *slog.Logger) ReflectionOption {
	return func(s *ReflectionScorer) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewReflectionScorer validates config and parses its templates.
func NewReflectionScorer(client ports.ModelClient, config ReflectionConfig, opts ...ReflectionOption) (*ReflectionScorer, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: model client is required", domain.ErrInvalidConfiguration)
	}
	if err := configValidator.Struct(config); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}

	templates := make([]Template, 0, len(config.Templates))
	for i, text := range config.Templates {
		t, err := ParseTemplate(text)
		if err != nil {
			return nil, fmt.Errorf("%w: template %d: %v", domain.ErrInvalidConfiguration, i, err)
		}
		templates = append(templates, t)
	}

	s := &ReflectionScorer{
		client:     client,
		templates:  templates,
		config:     config,
		aggregator: domain.MeanAggregator{},
		metrics:    ports.NoopMetrics{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Templates returns the number of reflection prompts per request.
func (s *ReflectionScorer) Templates() int { return len(s.templates) }

// Score queries every template concurrently and returns the mean verdict
// score. A template whose model call fails counts as uncertain; only ctx
// cancellation fails the whole call.
func (s *ReflectionScorer) Score(ctx context.Context, req domain.EvaluationRequest) (domain.TrustScore, error) {
	verdicts := make([]domain.Verdict, len(s.templates))
	opts := ports.GenerationOptions{Temperature: s.config.Temperature, MaxOutputTokens: s.config.MaxOutputTokens}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.MaxConcurrency)
	for i, tmpl := range s.templates {
		g.Go(func() error {
			v, err := s.verdict(gctx, req, i, tmpl, opts)
			if err != nil {
				return err
			}
			verdicts[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.TrustScore{}, err
	}

	score, err := s.aggregator.Aggregate(verdicts)
	if err != nil {
		return domain.TrustScore{}, err
	}

	factors := make(map[string]float64, len(verdicts))
	var correct, incorrect, uncertain int
	for i, v := range verdicts {
		factors["reflection_"+strconv.Itoa(i+1)] = v.Score()
		switch v {
		case domain.VerdictCorrect:
			correct++
		case domain.VerdictIncorrect:
			incorrect++
		default:
			uncertain++
		}
	}

	return domain.TrustScore{
		Score: score,
		Explanation: domain.ScoreExplanation{
			Reasoning: fmt.Sprintf("Self-reflection over %d prompts: %d correct, %d incorrect, %d uncertain",
				len(verdicts), correct, incorrect, uncertain),
			Factors: factors,
		},
	}, nil
}

func (s *ReflectionScorer) verdict(ctx context.Context, req domain.EvaluationRequest, i int, tmpl Template, opts ports.GenerationOptions) (domain.Verdict, error) {
	key := verdictKey(req.Question, req.Answer, i)
	useCache := s.verdicts != nil && !req.SkipCache
	if useCache {
		if v, ok := s.verdicts.Get(key); ok {
			return v, nil
		}
	}

	reply, err := s.client.Send(ctx, tmpl.Render(req.Question, req.Answer), opts)
	if err != nil {
		if ctx.Err() != nil {
			return domain.VerdictUncertain, ctx.Err()
		}
		s.logger.Warn("reflection prompt failed, counting as uncertain",
			slog.Int("template", i),
			slog.String("error", err.Error()),
		)
		return domain.VerdictUncertain, nil
	}

	v := domain.ParseVerdict(reply)
	s.metrics.RecordCounter("reflection_verdicts_total", 1, map[string]string{"verdict": v.String()})
	if useCache {
		s.verdicts.Put(key, v, req.Size())
	}
	return v, nil
}

// verdictKey is the Go-quoted question and answer followed by the template
// index, joined by "|". Quoting keeps a "|" inside either text from
// shifting the boundaries.
func verdictKey(question, answer string, index int) string {
	return strconv.Quote(question) + "|" + strconv.Quote(answer) + "|" + strconv.Itoa(index)
}
