package domain

import (
	"math"
	"time"
)

// IntervalMarginFactor scales how far the confidence interval extends from
// the score. The margin is (1 - score) * factor, so confident scores get
// tight intervals.
const IntervalMarginFactor = 0.2

// ConfidenceInterval bounds a score. Lower <= score <= Upper always holds
// for intervals produced by this package.
type ConfidenceInterval struct {
	Lower float64 `json:"lower" yaml:"lower"`
	Upper float64 `json:"upper" yaml:"upper"`
}

// IntervalFor derives the interval for a score in [0, 1].
func IntervalFor(score float64) ConfidenceInterval {
	margin := (1 - score) * IntervalMarginFactor
	return ConfidenceInterval{
		Lower: math.Max(0, score-margin),
		Upper: math.Min(1, score+margin),
	}
}

// Contains reports whether score lies inside the interval.
func (ci ConfidenceInterval) Contains(score float64) bool {
	return ci.Lower <= score && score <= ci.Upper
}

// Width is Upper - Lower.
func (ci ConfidenceInterval) Width() float64 { return ci.Upper - ci.Lower }

// ScoreExplanation says how a score came about. Factors holds named
// sub-scores such as per-prompt verdicts or heuristic components.
type ScoreExplanation struct {
	Reasoning  string             `json:"reasoning" yaml:"reasoning"`
	Confidence float64            `json:"confidence" yaml:"confidence"`
	Factors    map[string]float64 `json:"factors,omitempty" yaml:"factors,omitempty"`
}

// TrustScore is the result of a single evaluation.
type TrustScore struct {
	Score           float64            `json:"score" yaml:"score"`
	Interval        ConfidenceInterval `json:"confidence_interval" yaml:"confidence_interval"`
	Explanation     ScoreExplanation   `json:"explanation" yaml:"explanation"`
	ScoringFunction string             `json:"scoring_function" yaml:"scoring_function"`
	// Cached is true when the score was served from the response cache.
	Cached   bool          `json:"cached" yaml:"cached"`
	Duration time.Duration `json:"duration_ns" yaml:"duration_ns"`
}

// Normalize clamps the score into [0, 1] and replaces an interval that does
// not contain it with the derived one. Explanation confidence defaults to
// one minus the interval width.
func (t TrustScore) Normalize() TrustScore {
	t.Score = ClampScore(t.Score)

	zero := t.Interval == (ConfidenceInterval{})
	if zero || !t.Interval.Contains(t.Score) || t.Interval.Lower < 0 || t.Interval.Upper > 1 {
		t.Interval = IntervalFor(t.Score)
	}

	if t.Explanation.Confidence <= 0 || t.Explanation.Confidence > 1 {
		t.Explanation.Confidence = 1 - t.Interval.Width()
	}
	if t.Explanation.Factors == nil {
		t.Explanation.Factors = map[string]float64{}
	}
	return t
}

// EvaluationResult is the per-item outcome of a batch evaluation. Exactly
// one of Score and Err is set.
type EvaluationResult struct {
	ID      string            `json:"id"`
	Index   int               `json:"index"`
	Request EvaluationRequest `json:"request"`
	Score   *TrustScore       `json:"score,omitempty"`
	Err     error             `json:"-"`
}

// OK reports whether the item produced a score.
func (r EvaluationResult) OK() bool { return r.Err == nil && r.Score != nil }
