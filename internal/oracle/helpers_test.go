package oracle

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/ajitpratap0/paramforge/pkg/evolution"
)

var errBoom = errors.New("boom")

var goodMetrics = evolution.Metrics{TotalReturn: 0.2, SharpeRatio: 1.5, MaxDrawdown: -0.1, WinRate: 0.55}

// countingOracle returns fixed metrics, or err when set, and counts calls
type countingOracle struct {
	metrics evolution.Metrics
	err     error
	calls   atomic.Int64
}

func (o *countingOracle) Evaluate(ctx context.Context, strategyType string, params evolution.ParameterSet, evalCtx evolution.EvaluationContext) (evolution.Metrics, error) {
	o.calls.Add(1)
	if o.err != nil {
		return evolution.Metrics{}, o.err
	}
	return o.metrics, nil
}

func testParams() evolution.ParameterSet {
	return evolution.ParameterSet{"fast_period": 10, "slow_period": 50, "stop_loss": 0.02}
}
