package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntervalFor(t *testing.T) {
	tests := []struct {
		score        float64
		lower, upper float64
	}{
		{score: 1.0, lower: 1.0, upper: 1.0},
		{score: 0.0, lower: 0.0, upper: 0.2},
		{score: 0.5, lower: 0.4, upper: 0.6},
		{score: 0.75, lower: 0.7, upper: 0.8},
	}

	for _, tt := range tests {
		ci := IntervalFor(tt.score)
		assert.InDelta(t, tt.lower, ci.Lower, 1e-9, "lower for %v", tt.score)
		assert.InDelta(t, tt.upper, ci.Upper, 1e-9, "upper for %v", tt.score)
		assert.True(t, ci.Contains(tt.score), "interval must contain %v", tt.score)
	}
}

// TestIntervalFor_WidensAwayFromOne tests that lower scores get wider
// intervals.
func TestIntervalFor_WidensAwayFromOne(t *testing.T) {
	prev := IntervalFor(1.0).Width()
	for _, s := range []float64{0.9, 0.7, 0.5, 0.3} {
		w := IntervalFor(s).Width()
		assert.Greater(t, w, prev, "width at %v", s)
		prev = w
	}
}

func TestTrustScore_Normalize(t *testing.T) {
	t.Run("clamps and derives interval", func(t *testing.T) {
		ts := TrustScore{Score: 1.4}.Normalize()
		assert.Equal(t, 1.0, ts.Score)
		assert.Equal(t, ConfidenceInterval{Lower: 1, Upper: 1}, ts.Interval)
		assert.Equal(t, 1.0, ts.Explanation.Confidence)
		assert.NotNil(t, ts.Explanation.Factors)
	})

	t.Run("replaces interval that excludes the score", func(t *testing.T) {
		ts := TrustScore{Score: 0.5, Interval: ConfidenceInterval{Lower: 0.7, Upper: 0.9}}.Normalize()
		assert.InDelta(t, 0.4, ts.Interval.Lower, 1e-9)
		assert.InDelta(t, 0.6, ts.Interval.Upper, 1e-9)
	})

	t.Run("keeps a valid interval", func(t *testing.T) {
		in := ConfidenceInterval{Lower: 0.4, Upper: 0.9}
		ts := TrustScore{Score: 0.5, Interval: in, Explanation: ScoreExplanation{Confidence: 0.9}}.Normalize()
		assert.Equal(t, in, ts.Interval)
		assert.Equal(t, 0.9, ts.Explanation.Confidence)
	})
}

func TestEvaluationResult_OK(t *testing.T) {
	assert.True(t, EvaluationResult{Score: &TrustScore{}}.OK())
	assert.False(t, EvaluationResult{Err: ErrCircuitOpen}.OK())
	assert.False(t, EvaluationResult{}.OK())
}

func TestStreamEvent_Terminal(t *testing.T) {
	assert.False(t, StreamEvent{Status: StreamProcessing}.Terminal())
	assert.True(t, StreamEvent{Status: StreamCompleted}.Terminal())
	assert.True(t, StreamEvent{Status: StreamFailed}.Terminal())
}
