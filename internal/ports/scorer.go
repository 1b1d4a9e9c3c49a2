package ports

import (
	"context"

	"github.com/Ridwanabdusalam/cleanlab/internal/domain"
)

// Scorer computes a trust score for one request. Every scoring function,
// model-backed or heuristic, implements it. Scorers must be safe for
// concurrent use and should honor ctx cancellation.
type Scorer interface {
	Score(ctx context.Context, req domain.EvaluationRequest) (domain.TrustScore, error)
}

// ScorerFunc adapts an ordinary function to the Scorer interface so callers
// can register custom scoring logic without declaring a type.
type ScorerFunc func(ctx context.Context, req domain.EvaluationRequest) (domain.TrustScore, error)

// Score calls f(ctx, req).
func (f ScorerFunc) Score(ctx context.Context, req domain.EvaluationRequest) (domain.TrustScore, error) {
	return f(ctx, req)
}
