package alerts

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/paramforge/pkg/evolution"
)

// RunObserver turns run progress into alerts:
//   - CRITICAL when every evaluation of a generation failed
//   - WARNING when a generation's failure ratio reaches the threshold
//   - WARNING when a finished run never improved on its first generation
type RunObserver struct {
	manager      *Manager
	failureRatio float64
}

// NewRunObserver creates an observer alerting through manager.
// failureRatio in (0, 1]; other values disable the failure warning.
func NewRunObserver(manager *Manager, failureRatio float64) *RunObserver {
	return &RunObserver{manager: manager, failureRatio: failureRatio}
}

// GenerationCompleted implements evolution.Observer
func (o *RunObserver) GenerationCompleted(ctx context.Context, run evolution.RunInfo, record evolution.GenerationRecord) error {
	if record.Evaluated == 0 || record.Failed == 0 {
		return nil
	}

	alert := Alert{
		RunID:      run.ID,
		Strategy:   run.Strategy,
		Generation: record.Generation,
		Evaluated:  record.Evaluated,
		Failed:     record.Failed,
	}

	if record.Failed == record.Evaluated {
		alert.Kind = KindGenerationFailed
		alert.Severity = SeverityCritical
		alert.Title = "Generation Evaluation Failed"
		alert.Message = fmt.Sprintf("Every evaluation of generation %d of %s failed", record.Generation, run.Strategy)
		return o.manager.Send(ctx, alert)
	}

	ratio := float64(record.Failed) / float64(record.Evaluated)
	if o.failureRatio <= 0 || o.failureRatio > 1 || ratio < o.failureRatio {
		return nil
	}

	alert.Kind = KindHighFailureRate
	alert.Severity = SeverityWarning
	alert.Title = "High Oracle Failure Rate"
	alert.Message = fmt.Sprintf("%d of %d evaluations of generation %d of %s failed (%.0f%%)",
		record.Failed, record.Evaluated, record.Generation, run.Strategy, ratio*100)
	return o.manager.Send(ctx, alert)
}

// RunCompleted implements evolution.Observer
func (o *RunObserver) RunCompleted(ctx context.Context, run evolution.RunInfo, result *evolution.Result) error {
	if result == nil || len(result.History) < 2 || result.History.Improvement() > 0 {
		return nil
	}

	return o.manager.Send(ctx, Alert{
		Kind:        KindNoImprovement,
		Severity:    SeverityWarning,
		Title:       "Optimization Did Not Converge",
		Message:     fmt.Sprintf("Best fitness of %s did not improve over %d generations", run.Strategy, len(result.History)),
		RunID:       run.ID,
		Strategy:    run.Strategy,
		Generation:  RunScope,
		Evaluated:   result.Evaluations,
		Failed:      result.Failures,
		BestFitness: result.History.BestFitness(),
	})
}
