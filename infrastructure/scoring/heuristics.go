package scoring

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"

	"github.com/Ridwanabdusalam/cleanlab/internal/domain"
	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

var (
	_ ports.Scorer = LengthScorer{}
	_ ports.Scorer = (*KeywordScorer)(nil)
	_ ports.Scorer = HeuristicScorer{}
	_ ports.Scorer = StrictScorer{}
	_ ports.Scorer = (*WeightedScorer)(nil)
)

var foldCaser = cases.Fold()

// Factor names shared by the heuristic scorers.
const (
	FactorLengthScore       = "length_score"
	FactorQuestionTerms     = "question_terms"
	FactorContextSimilarity = "context_similarity"
	FactorAnswerLength      = "answer_length_score"
	FactorQuestionCoverage  = "question_coverage"
	FactorContextRelevance  = "context_relevance"
	FactorLengthPenalty     = "length_penalty"
	FactorKeywordMatches    = "keyword_matches"
)

func runes(s string) float64 { return float64(utf8.RuneCountInString(s)) }

// words folds s and splits it on whitespace.
func words(s string) []string { return strings.Fields(foldCaser.String(s)) }

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range words(s) {
		set[w] = struct{}{}
	}
	return set
}

func overlap(a, b map[string]struct{}) int {
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}

// LengthScorer scores min(len(answer)/1000, 1), counting characters.
type LengthScorer struct{}

// Score implements ports.Scorer.
func (LengthScorer) Score(_ context.Context, req domain.EvaluationRequest) (domain.TrustScore, error) {
	s := math.Min(runes(req.Answer)/1000, 1)
	return domain.TrustScore{
		Score: s,
		Explanation: domain.ScoreExplanation{
			Reasoning: "Score based on answer length, saturating at 1000 characters",
			Factors:   map[string]float64{FactorLengthScore: s},
		},
	}, nil
}

// DefaultConfidenceKeywords are the words KeywordScorer rewards.
var DefaultConfidenceKeywords = []string{"confident", "certain", "sure", "definitely", "clearly"}

// KeywordScorer adds 0.2 for each confidence keyword present in the answer,
// capped at 1. A keyword counts once. Words within MaxDistance edits of a
// keyword of five letters or more also match, so "definately" counts.
type KeywordScorer struct {
	Keywords    []string
	PerMatch    float64
	MaxDistance int
}

// NewKeywordScorer returns the scorer with the default keywords, 0.2 per
// match and one edit of typo tolerance.
func NewKeywordScorer() *KeywordScorer {
	return &KeywordScorer{Keywords: DefaultConfidenceKeywords, PerMatch: 0.2, MaxDistance: 1}
}

// Score implements ports.Scorer.
func (k *KeywordScorer) Score(_ context.Context, req domain.EvaluationRequest) (domain.TrustScore, error) {
	answer := foldCaser.String(req.Answer)
	tokens := strings.FieldsFunc(answer, func(r rune) bool {
		return !(r == '\'' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	})

	matches := 0
	for _, kw := range k.Keywords {
		if k.matches(foldCaser.String(kw), answer, tokens) {
			matches++
		}
	}

	s := math.Min(float64(matches)*k.PerMatch, 1)
	return domain.TrustScore{
		Score: s,
		Explanation: domain.ScoreExplanation{
			Reasoning: fmt.Sprintf("Found %d of %d confidence keywords", matches, len(k.Keywords)),
			Factors:   map[string]float64{FactorKeywordMatches: float64(matches)},
		},
	}, nil
}

func (k *KeywordScorer) matches(kw, answer string, tokens []string) bool {
	if strings.Contains(answer, kw) {
		return true
	}
	if k.MaxDistance <= 0 || utf8.RuneCountInString(kw) < 5 {
		return false
	}
	for _, tok := range tokens {
		if levenshtein.ComputeDistance(tok, kw) <= k.MaxDistance {
			return true
		}
	}
	return false
}

// HeuristicScorer weighs answer length (0.3), coverage relative to the
// question (0.4) and, when context is given, overlap with the context (0.3).
type HeuristicScorer struct{}

// Score implements ports.Scorer.
func (HeuristicScorer) Score(_ context.Context, req domain.EvaluationRequest) (domain.TrustScore, error) {
	answerLen := runes(req.Answer)
	factors := map[string]float64{
		FactorAnswerLength:     math.Min(answerLen/100, 1),
		FactorQuestionCoverage: math.Min(answerLen/math.Max(1, 2*runes(req.Question)), 1),
	}
	score := 0.3*factors[FactorAnswerLength] + 0.4*factors[FactorQuestionCoverage]

	if req.Context != "" {
		ctxText := foldCaser.String(req.Context)
		aw := words(req.Answer)
		hits := 0
		for _, w := range aw {
			if strings.Contains(ctxText, w) {
				hits++
			}
		}
		factors[FactorContextRelevance] = math.Min(float64(hits)/math.Max(1, float64(len(aw))), 1)
		score += 0.3 * factors[FactorContextRelevance]
	}

	return domain.TrustScore{
		Score:    score,
		Interval: domain.IntervalFor(domain.ClampScore(score)),
		Explanation: domain.ScoreExplanation{
			Reasoning: "Score based on answer length, question coverage, and context relevance",
			Factors:   factors,
		},
	}, nil
}

// StrictMinLength is the answer length below which StrictScorer halves the
// heuristic score.
const StrictMinLength = 30

// StrictScorer is HeuristicScorer with short answers penalised by half.
type StrictScorer struct{}

// Score implements ports.Scorer.
func (StrictScorer) Score(ctx context.Context, req domain.EvaluationRequest) (domain.TrustScore, error) {
	base, err := HeuristicScorer{}.Score(ctx, req)
	if err != nil {
		return base, err
	}

	penalty := 1.0
	if runes(req.Answer) < StrictMinLength {
		penalty = 0.5
	}
	base.Score *= penalty
	base.Interval = domain.ConfidenceInterval{
		Lower: math.Max(0, base.Interval.Lower*penalty),
		Upper: math.Min(1, base.Interval.Upper*penalty),
	}
	base.Explanation.Factors[FactorLengthPenalty] = penalty
	base.Explanation.Reasoning = "Strict scoring applied. " + base.Explanation.Reasoning
	return base, nil
}

// WeightedConfig configures a WeightedScorer. Weights are keyed by factor
// name and normalised by their total.
type WeightedConfig struct {
	Weights   map[string]float64 `yaml:"weights" json:"weights" validate:"required,min=1,dive,keys,oneof=length_score question_terms context_similarity,endkeys,gte=0"`
	MaxLength int                `yaml:"max_length" json:"max_length" validate:"min=1"`
}

// WeightedScorer combines length, question term overlap and context overlap
// with caller-chosen weights.
type WeightedScorer struct {
	config WeightedConfig
}

// NewWeightedScorer validates config. A zero MaxLength means 1000.
func NewWeightedScorer(config WeightedConfig) (*WeightedScorer, error) {
	if config.MaxLength == 0 {
		config.MaxLength = 1000
	}
	if err := configValidator.Struct(config); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	weights := make(map[string]float64, len(config.Weights))
	for k, v := range config.Weights {
		weights[k] = v
	}
	config.Weights = weights
	return &WeightedScorer{config: config}, nil
}

// Score implements ports.Scorer. The interval is score ± 0.1.
func (w *WeightedScorer) Score(_ context.Context, req domain.EvaluationRequest) (domain.TrustScore, error) {
	answerWords := wordSet(req.Answer)
	factors := map[string]float64{
		FactorLengthScore: math.Min(math.Max(runes(req.Answer)/float64(w.config.MaxLength), 0), 1),
		FactorQuestionTerms: math.Min(
			float64(overlap(wordSet(req.Question), answerWords))/math.Max(1, float64(len(words(req.Question)))), 1),
	}
	if req.Context != "" {
		factors[FactorContextSimilarity] = math.Min(
			float64(overlap(answerWords, wordSet(req.Context)))/math.Max(1, float64(len(answerWords))), 1)
	}

	total := 0.0
	for _, v := range w.config.Weights {
		total += v
	}
	if total == 0 {
		total = 1
	}
	score := 0.0
	for name, weight := range w.config.Weights {
		score += factors[name] * weight / total
	}
	score = domain.ClampScore(score)

	return domain.TrustScore{
		Score: score,
		Interval: domain.ConfidenceInterval{
			Lower: math.Max(0, score-0.1),
			Upper: math.Min(1, score+0.1),
		},
		Explanation: domain.ScoreExplanation{
			Reasoning:  "Custom scoring based on provided weights",
			Confidence: 0.9,
			Factors:    factors,
		},
	}, nil
}
