package domain

import (
	"errors"
	"math"
)

// ErrNoVerdicts is returned when an aggregation is asked to combine nothing.
var ErrNoVerdicts = errors.New("no verdicts to aggregate")

// Aggregator combines per-prompt verdicts into a single score in [0, 1].
// Implementations must be safe for concurrent use.
type Aggregator interface {
	// Aggregate returns the combined score for the verdicts. It fails with
	// ErrNoVerdicts on an empty slice.
	Aggregate(verdicts []Verdict) (float64, error)
}

// MeanAggregator is the unweighted arithmetic mean of verdict scores.
type MeanAggregator struct{}

var _ Aggregator = MeanAggregator{}

// Aggregate computes Σscore / n over the verdicts.
func (MeanAggregator) Aggregate(verdicts []Verdict) (float64, error) {
	if len(verdicts) == 0 {
		return 0, ErrNoVerdicts
	}

	var sum float64
	for _, v := range verdicts {
		sum += v.Score()
	}
	return ClampScore(sum / float64(len(verdicts))), nil
}

// ClampScore forces a score into [0, 1]. NaN is treated as uncertain.
func ClampScore(score float64) float64 {
	switch {
	case math.IsNaN(score):
		return VerdictUncertain.Score()
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}
