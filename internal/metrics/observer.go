package metrics

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ajitpratap0/paramforge/pkg/evolution"
)

// Observer records optimizer progress. It implements evolution.StopObserver
// and is safe to share between concurrent runs.
type Observer struct {
	mu   sync.Mutex
	best map[uuid.UUID]float64
}

// NewObserver creates a metrics observer
func NewObserver() *Observer {
	return &Observer{best: make(map[uuid.UUID]float64)}
}

// GenerationCompleted implements evolution.Observer
func (o *Observer) GenerationCompleted(ctx context.Context, run evolution.RunInfo, record evolution.GenerationRecord) error {
	strategy := run.Strategy

	GenerationsTotal.WithLabelValues(strategy).Inc()
	EvaluationsTotal.WithLabelValues(strategy, ResultSuccess).Add(float64(record.Evaluated - record.Failed))
	EvaluationsTotal.WithLabelValues(strategy, ResultFailed).Add(float64(record.Failed))
	GenerationDuration.WithLabelValues(strategy).Observe(record.Duration.Seconds())
	MaxFitness.WithLabelValues(strategy).Set(record.MaxFitness)
	MeanFitness.WithLabelValues(strategy).Set(record.MeanFitness)

	o.mu.Lock()
	best, ok := o.best[run.ID]
	if !ok || record.MaxFitness > best {
		best = record.MaxFitness
		o.best[run.ID] = best
	}
	o.mu.Unlock()

	BestFitness.WithLabelValues(strategy).Set(best)
	return nil
}

// RunCompleted implements evolution.Observer
func (o *Observer) RunCompleted(ctx context.Context, run evolution.RunInfo, result *evolution.Result) error {
	o.mu.Lock()
	delete(o.best, run.ID)
	o.mu.Unlock()

	if result.Best != nil {
		BestFitness.WithLabelValues(run.Strategy).Set(result.Best.Fitness)
	}
	RunsTotal.WithLabelValues(run.Strategy, RunStatusCompleted).Inc()
	RunDuration.WithLabelValues(run.Strategy).Observe(result.Duration.Seconds())
	return nil
}

// RunStopped releases the best-fitness state of a run that ended without a result.
// RunStarted's callback counts the run by status.
func (o *Observer) RunStopped(ctx context.Context, run evolution.RunInfo, runErr error) error {
	o.mu.Lock()
	delete(o.best, run.ID)
	o.mu.Unlock()
	return nil
}

// tracked returns the number of runs with live best-fitness state
func (o *Observer) tracked() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.best)
}
