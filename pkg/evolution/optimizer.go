// Package evolution implements a genetic algorithm that searches a trading strategy's
// parameter space for the assignment maximizing a composite backtest fitness score.
//
// The backtest itself is an injected FitnessOracle; the optimizer owns population
// management, scoring, elitism, truncation selection, crossover, two-stage mutation and
// per-generation convergence bookkeeping.
package evolution

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ============================================================================
// OBSERVERS
// ============================================================================

// RunInfo identifies a run for observers
type RunInfo struct {
	ID       uuid.UUID         `json:"id"`
	Strategy string            `json:"strategy"`
	Context  EvaluationContext `json:"context"`
	Config   Config            `json:"config"`
	Started  time.Time         `json:"started"`
}

// Observer receives progress of a run. Errors are logged and never abort the run.
type Observer interface {
	GenerationCompleted(ctx context.Context, run RunInfo, record GenerationRecord) error
	RunCompleted(ctx context.Context, run RunInfo, result *Result) error
}

// StopObserver is an optional Observer extension for observers holding per-run
// state. RunStopped is called instead of RunCompleted when a run ends with an error.
type StopObserver interface {
	RunStopped(ctx context.Context, run RunInfo, runErr error) error
}

// ============================================================================
// OPTIMIZER
// ============================================================================

// Optimizer performs genetic algorithm optimization
type Optimizer struct {
	table     DomainTable
	oracle    FitnessOracle
	config    Config
	rng       *rand.Rand
	observers []Observer
	runID     uuid.UUID
	log       zerolog.Logger
}

// Option customizes an Optimizer
type Option func(*Optimizer)

// WithObservers registers run observers
func WithObservers(observers ...Observer) Option {
	return func(opt *Optimizer) {
		opt.observers = append(opt.observers, observers...)
	}
}

// WithLogger replaces the default component logger
func WithLogger(logger zerolog.Logger) Option {
	return func(opt *Optimizer) {
		opt.log = logger
	}
}

// WithRand injects the random source used by every stochastic step
func WithRand(rng *rand.Rand) Option {
	return func(opt *Optimizer) {
		opt.rng = rng
	}
}

// WithRunID fixes the ID reported for runs of this optimizer instead of generating one.
// Use a fresh optimizer per run when setting it.
func WithRunID(id uuid.UUID) Option {
	return func(opt *Optimizer) {
		opt.runID = id
	}
}

// NewOptimizer creates a new genetic algorithm optimizer.
// Without WithRand the source is seeded from cfg.Seed, or from the clock when it is 0.
func NewOptimizer(table DomainTable, oracle FitnessOracle, cfg Config, opts ...Option) *Optimizer {
	opt := &Optimizer{
		table:  table,
		oracle: oracle,
		config: cfg,
		log:    log.With().Str("component", "evolution").Logger(),
	}
	for _, o := range opts {
		o(opt)
	}

	if opt.rng == nil {
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		opt.rng = rand.New(rand.NewSource(seed)) // #nosec G404 -- reproducible search, not security sensitive
	}

	return opt
}

// Config returns the optimizer configuration
func (opt *Optimizer) Config() Config {
	return opt.config
}

// InitializePopulation draws generation 0 uniformly from the strategy's domains
func (opt *Optimizer) InitializePopulation(strategyType string) (*Population, error) {
	if err := opt.config.Validate(); err != nil {
		return nil, err
	}

	domains, err := opt.table.DomainsFor(strategyType)
	if err != nil {
		return nil, fmt.Errorf("failed to load domains: %w", err)
	}

	population := &Population{
		Strategy:   strategyType,
		Generation: 0,
		Candidates: make([]*Candidate, opt.config.PopulationSize),
	}
	for i := range population.Candidates {
		population.Candidates[i] = newCandidate(0, sampleParameters(opt.rng, domains))
	}

	return population, nil
}

// ============================================================================
// DRIVER
// ============================================================================

// State is a step of the evolution driver
type State string

const (
	StateUninitialized State = "uninitialized"
	StatePopulated     State = "populated"
	StateEvaluated     State = "evaluated"
	StateReproduced    State = "reproduced"
	StateDone          State = "done"
)

var transitions = map[State][]State{
	StateUninitialized: {StatePopulated},
	StatePopulated:     {StateEvaluated},
	StateEvaluated:     {StateReproduced, StateDone},
	StateReproduced:    {StateEvaluated},
}

// run tracks one Evolve call
type run struct {
	info  RunInfo
	state State
}

func (r *run) advance(to State) error {
	for _, allowed := range transitions[r.state] {
		if allowed == to {
			r.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, r.state, to)
}

// Result is the terminal artifact of a run
type Result struct {
	RunID       uuid.UUID          `json:"run_id"`
	Strategy    string             `json:"strategy"`
	Best        *Candidate         `json:"best"`
	History     ConvergenceHistory `json:"history"`
	Evaluations int                `json:"evaluations"`
	Failures    int                `json:"failures"`
	Duration    time.Duration      `json:"duration"`
}

// Evolve runs the full generation loop and returns the best candidate seen in any
// generation together with the convergence history.
func (opt *Optimizer) Evolve(ctx context.Context, strategyType string, evalCtx EvaluationContext) (result *Result, err error) {
	startTime := time.Now()

	if err := opt.config.Validate(); err != nil {
		return nil, err
	}
	if err := evalCtx.Validate(); err != nil {
		return nil, err
	}

	runID := opt.runID
	if runID == uuid.Nil {
		runID = uuid.New()
	}

	r := &run{
		info: RunInfo{
			ID:       runID,
			Strategy: strategyType,
			Context:  evalCtx,
			Config:   opt.config,
			Started:  startTime,
		},
		state: StateUninitialized,
	}
	defer func() {
		if err != nil {
			opt.notifyStopped(context.WithoutCancel(ctx), r.info, err)
		}
	}()
	logger := opt.log.With().
		Str("run_id", r.info.ID.String()).
		Str("strategy", strategyType).
		Logger()

	logger.Info().
		Int("population", opt.config.PopulationSize).
		Int("generations", opt.config.GenerationCount).
		Float64("mutation_rate", opt.config.MutationRate).
		Float64("elite_ratio", opt.config.EliteRatio).
		Msg("Starting genetic algorithm optimization")

	// Initialize population
	population, err := opt.InitializePopulation(strategyType)
	if err != nil {
		return nil, err
	}
	if err := r.advance(StatePopulated); err != nil {
		return nil, err
	}

	result = &Result{
		RunID:    r.info.ID,
		Strategy: strategyType,
		History:  make(ConvergenceHistory, 0, opt.config.GenerationCount),
	}
	var best *Candidate

	// Evolution loop
	for gen := 0; ; gen++ {
		genStart := time.Now()

		evaluated, err := opt.EvaluateGeneration(ctx, population, evalCtx)
		if err != nil {
			return nil, err
		}
		if err := r.advance(StateEvaluated); err != nil {
			return nil, err
		}

		best = UpdateBest(best, evaluated)

		record := Record(evaluated, time.Since(genStart))
		result.History = append(result.History, record)
		result.Evaluations += record.Evaluated
		result.Failures += record.Failed

		logger.Info().
			Int("generation", gen+1).
			Int("total", opt.config.GenerationCount).
			Float64("max_fitness", record.MaxFitness).
			Float64("mean_fitness", record.MeanFitness).
			Float64("best_fitness", best.Fitness).
			Int("failed", record.Failed).
			Msg("Generation complete")

		opt.notifyGeneration(ctx, r.info, record)

		if gen == opt.config.GenerationCount-1 {
			break
		}

		// Selection and reproduction
		population, err = opt.Reproduce(evaluated, opt.config)
		if err != nil {
			return nil, err
		}
		if err := r.advance(StateReproduced); err != nil {
			return nil, err
		}
	}

	if err := r.advance(StateDone); err != nil {
		return nil, err
	}

	result.Best = best
	result.Duration = time.Since(startTime)

	logger.Info().
		Int("total_evaluations", result.Evaluations).
		Int("failures", result.Failures).
		Float64("best_score", best.Fitness).
		Str("best_params", best.Params.String()).
		Dur("duration", result.Duration).
		Msg("Genetic algorithm optimization complete")

	opt.notifyCompleted(ctx, r.info, result)

	return result, nil
}

func (opt *Optimizer) notifyGeneration(ctx context.Context, info RunInfo, record GenerationRecord) {
	for _, o := range opt.observers {
		if err := o.GenerationCompleted(ctx, info, record); err != nil {
			opt.log.Warn().
				Err(err).
				Str("run_id", info.ID.String()).
				Int("generation", record.Generation).
				Msg("Observer failed to handle generation")
		}
	}
}

func (opt *Optimizer) notifyCompleted(ctx context.Context, info RunInfo, result *Result) {
	for _, o := range opt.observers {
		if err := o.RunCompleted(ctx, info, result); err != nil {
			opt.log.Warn().
				Err(err).
				Str("run_id", info.ID.String()).
				Msg("Observer failed to handle run completion")
		}
	}
}

func (opt *Optimizer) notifyStopped(ctx context.Context, info RunInfo, runErr error) {
	for _, o := range opt.observers {
		so, ok := o.(StopObserver)
		if !ok {
			continue
		}
		if err := so.RunStopped(ctx, info, runErr); err != nil {
			opt.log.Warn().
				Err(err).
				Str("run_id", info.ID.String()).
				Msg("Observer failed to handle stopped run")
		}
	}
}
