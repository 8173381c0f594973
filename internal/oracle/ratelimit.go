package oracle

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/ajitpratap0/paramforge/pkg/evolution"
)

// RateLimitedOracle waits on a token bucket before each call to the wrapped oracle
type RateLimitedOracle struct {
	next    evolution.FitnessOracle
	limiter *rate.Limiter
}

// NewRateLimitedOracle allows perSecond calls per second with the given burst
func NewRateLimitedOracle(next evolution.FitnessOracle, perSecond float64, burst int) *RateLimitedOracle {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedOracle{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Evaluate implements evolution.FitnessOracle
func (r *RateLimitedOracle) Evaluate(ctx context.Context, strategyType string, params evolution.ParameterSet, evalCtx evolution.EvaluationContext) (evolution.Metrics, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return evolution.Metrics{}, fmt.Errorf("rate limiter: %w", err)
	}
	return evaluate(ctx, r.next, strategyType, params, evalCtx)
}
