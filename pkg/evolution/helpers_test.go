package evolution

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// testTable returns a small domain table used across tests
func testTable() StaticDomainTable {
	return StaticDomainTable{
		"ema_crossover": {
			{Name: "fast_period", Domain: IntegerDomain{Lower: 5, Upper: 30, Step: 5}},
			{Name: "slow_period", Domain: IntegerDomain{Lower: 20, Upper: 100, Step: 10}},
			{Name: "stop_loss", Domain: ContinuousDomain{Lower: 0.01, Upper: 0.1, Precision: 2}},
		},
		"single": {
			{Name: "x", Domain: IntegerDomain{Lower: 0, Upper: 10, Step: 2}},
		},
	}
}

// peakOracle rewards parameters close to fast=15, slow=60, stop=0.05
func peakOracle() OracleFunc {
	return func(ctx context.Context, strategyType string, params ParameterSet, evalCtx EvaluationContext) (Metrics, error) {
		dist := math.Abs(params["fast_period"]-15)/25 +
			math.Abs(params["slow_period"]-60)/80 +
			math.Abs(params["stop_loss"]-0.05)/0.09
		return Metrics{
			TotalReturn: 0.5 - dist/3,
			SharpeRatio: 2 - dist,
			MaxDrawdown: -0.1 * dist,
			WinRate:     0.5,
		}, nil
	}
}

// constantOracle always returns the same metrics
func constantOracle(m Metrics) OracleFunc {
	return func(ctx context.Context, strategyType string, params ParameterSet, evalCtx EvaluationContext) (Metrics, error) {
		return m, nil
	}
}

var errBacktest = errors.New("backtest crashed")

// recordingOracle wraps an oracle, counting calls and keeping every assignment seen
type recordingOracle struct {
	inner FitnessOracle

	mu    sync.Mutex
	seen  []ParameterSet
	calls atomic.Int64

	// failAfter makes every call beyond this count fail (0 disables)
	failAfter int64
}

func (o *recordingOracle) Evaluate(ctx context.Context, strategyType string, params ParameterSet, evalCtx EvaluationContext) (Metrics, error) {
	n := o.calls.Add(1)

	o.mu.Lock()
	o.seen = append(o.seen, params.Clone())
	o.mu.Unlock()

	if o.failAfter > 0 && n > o.failAfter {
		return Metrics{}, errBacktest
	}
	return o.inner.Evaluate(ctx, strategyType, params, evalCtx)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PopulationSize = 10
	cfg.GenerationCount = 5
	cfg.Seed = 1
	return cfg
}

func newTestOptimizer(oracle FitnessOracle, cfg Config, opts ...Option) *Optimizer {
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	return NewOptimizer(testTable(), oracle, cfg, opts...)
}

// scoredPopulation builds a scored population with distinct values per candidate
func scoredPopulation(t interface{ Helper() }, size int) *Population {
	t.Helper()
	rng := rand.New(rand.NewSource(99))
	domains, _ := testTable().DomainsFor("ema_crossover")

	pop := &Population{Strategy: "ema_crossover", Generation: 3}
	for i := 0; i < size; i++ {
		c := newCandidate(3, sampleParameters(rng, domains))
		pop.Candidates = append(pop.Candidates, c.withScore(float64(size-i), &Metrics{}, false))
	}
	return pop
}
