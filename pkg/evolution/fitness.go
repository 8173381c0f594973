package evolution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"
)

// ============================================================================
// FITNESS ORACLE
// ============================================================================

// EvaluationContext is what a backtest runs against besides the parameters
type EvaluationContext struct {
	Universe []string  `json:"universe"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

// Validate checks the date range
func (ec EvaluationContext) Validate() error {
	if !ec.Start.IsZero() && !ec.End.IsZero() && !ec.End.After(ec.Start) {
		return fmt.Errorf("%w: end %s is not after start %s", ErrInvalidContext,
			ec.End.Format("2006-01-02"), ec.Start.Format("2006-01-02"))
	}
	return nil
}

// EndOfDay returns the last instant of t's calendar day. Date-only end bounds
// are inclusive, so a range ending 2024-03-01 keeps that day's bars.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}

// FitnessOracle runs a backtest for one parameter assignment.
// Implementations must honor ctx cancellation.
type FitnessOracle interface {
	Evaluate(ctx context.Context, strategyType string, params ParameterSet, evalCtx EvaluationContext) (Metrics, error)
}

// OracleFunc adapts a function to the FitnessOracle interface
type OracleFunc func(ctx context.Context, strategyType string, params ParameterSet, evalCtx EvaluationContext) (Metrics, error)

// Evaluate calls f
func (f OracleFunc) Evaluate(ctx context.Context, strategyType string, params ParameterSet, evalCtx EvaluationContext) (Metrics, error) {
	return f(ctx, strategyType, params, evalCtx)
}

// ============================================================================
// COMPOSITE FITNESS
// ============================================================================

// SentinelFitness is assigned to candidates whose evaluation failed
const SentinelFitness = -999.0

// Composite fitness weights
const (
	WeightSharpe   = 0.4
	WeightReturn   = 0.3
	WeightDrawdown = 0.2
	WeightWinRate  = 0.1
)

// CompositeFitness scores backtest metrics; higher is better.
// Sharpe is on a larger scale than the fractions and tends to dominate.
func CompositeFitness(m Metrics) float64 {
	return WeightSharpe*m.SharpeRatio +
		WeightReturn*m.TotalReturn -
		WeightDrawdown*math.Abs(m.MaxDrawdown) +
		WeightWinRate*m.WinRate
}

// ============================================================================
// GENERATION EVALUATION
// ============================================================================

// EvaluateGeneration scores every candidate through the oracle on a bounded worker
// pool and returns a new population sorted by descending fitness. Oracle failures and
// timeouts yield SentinelFitness. Only cancellation of ctx aborts the generation.
func (opt *Optimizer) EvaluateGeneration(ctx context.Context, pop *Population, evalCtx EvaluationContext) (*Population, error) {
	if pop == nil || pop.Size() == 0 {
		return nil, fmt.Errorf("cannot evaluate an empty population")
	}

	scored := make([]*Candidate, pop.Size())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opt.config.Parallelism)

	for i, cand := range pop.Candidates {
		i, cand := i, cand
		if cand.Scored {
			scored[i] = cand
			continue
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scored[i] = opt.evaluateCandidate(gctx, pop.Strategy, cand, evalCtx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("generation %d evaluation aborted: %w", pop.Generation, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("generation %d evaluation aborted: %w", pop.Generation, err)
	}

	next := &Population{
		Strategy:   pop.Strategy,
		Generation: pop.Generation,
		Candidates: scored,
	}
	next.SortByFitness()

	return next, nil
}

// evaluateCandidate runs one oracle call under the per-candidate timeout
func (opt *Optimizer) evaluateCandidate(ctx context.Context, strategyType string, cand *Candidate, evalCtx EvaluationContext) *Candidate {
	callCtx := ctx
	if opt.config.EvaluationTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, opt.config.EvaluationTimeout)
		defer cancel()
	}

	start := time.Now()
	metrics, err := opt.oracle.Evaluate(callCtx, strategyType, cand.Params.Clone(), evalCtx)
	if err == nil {
		err = metrics.Validate()
	}
	if err == nil && callCtx.Err() != nil {
		// result arrived after the deadline
		err = callCtx.Err()
	}

	if err != nil {
		event := opt.log.Warn().
			Err(err).
			Str("candidate_id", cand.ID.String()).
			Int("generation", cand.Generation).
			Str("params", cand.Params.String()).
			Dur("elapsed", time.Since(start))
		if errors.Is(err, context.DeadlineExceeded) {
			event.Msg("Oracle evaluation timed out, assigning sentinel fitness")
		} else {
			event.Msg("Oracle evaluation failed, assigning sentinel fitness")
		}
		return cand.withScore(SentinelFitness, nil, true)
	}

	fitness := CompositeFitness(metrics)

	opt.log.Debug().
		Str("candidate_id", cand.ID.String()).
		Int("generation", cand.Generation).
		Float64("fitness", fitness).
		Dur("elapsed", time.Since(start)).
		Msg("Candidate evaluated")

	return cand.withScore(fitness, &metrics, false)
}

// UpdateBest returns the run-wide best candidate after a generation. It only replaces
// prev when the generation's top candidate is strictly better.
func UpdateBest(prev *Candidate, ranked *Population) *Candidate {
	if ranked == nil {
		return prev
	}
	top := ranked.Best()
	if top == nil {
		return prev
	}
	if prev == nil || top.Fitness > prev.Fitness {
		return top
	}
	return prev
}
