package ports

import (
	"context"

	"github.com/alejandrodnm/sentibot/internal/domain"
)

// Researcher runs LLM analysis for a ticker or an open position.
type Researcher interface {
	Research(ctx context.Context, req domain.ResearchRequest) (domain.ResearchResult, error)
}

// CostEstimator is optionally implemented by a Researcher that can price a
// request before it is made. The estimate is what the research gate reserves.
type CostEstimator interface {
	EstimateUSD(req domain.ResearchRequest) float64
}
