package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ajitpratap0/paramforge/migrations"
	"github.com/ajitpratap0/paramforge/pkg/evolution"
)

// ErrRunNotFound is returned when no run has the requested ID
var ErrRunNotFound = errors.New("optimization run not found")

// Run statuses
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// RunRecord is a persisted optimization run
type RunRecord struct {
	ID          uuid.UUID                   `json:"id"`
	Strategy    string                      `json:"strategy"`
	Status      string                      `json:"status"`
	Config      evolution.Config            `json:"config"`
	Context     evolution.EvaluationContext `json:"context"`
	BestFitness float64                     `json:"best_fitness"`
	BestParams  evolution.ParameterSet      `json:"best_params,omitempty"`
	Evaluations int                         `json:"evaluations"`
	Failures    int                         `json:"failures"`
	Duration    time.Duration               `json:"duration"`
	Error       string                      `json:"error,omitempty"`
	StartedAt   time.Time                   `json:"started_at"`
}

// RunStore persists runs and their generation records. It implements evolution.Observer.
type RunStore struct {
	pool PoolInterface
}

// NewRunStore creates a run store
func NewRunStore(pool PoolInterface) *RunStore {
	return &RunStore{pool: pool}
}

// EnsureSchema applies the embedded schema files. Every statement is idempotent.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	files, err := LoadMigrations(migrations.FS)
	if err != nil {
		return err
	}
	for _, m := range files {
		if _, err := s.pool.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("failed to apply schema %s: %w", m.Filename, err)
		}
	}
	return nil
}

// GenerationCompleted records the run on its first generation, then the generation itself
func (s *RunStore) GenerationCompleted(ctx context.Context, run evolution.RunInfo, record evolution.GenerationRecord) error {
	if err := s.createRun(ctx, run); err != nil {
		return err
	}

	bestParams, err := json.Marshal(record.BestParams)
	if err != nil {
		return fmt.Errorf("failed to marshal best params: %w", err)
	}

	query := `
		INSERT INTO evolution_generations (
			run_id, generation, max_fitness, mean_fitness, best_params,
			best_candidate_id, evaluated, failed, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id, generation) DO NOTHING
	`
	_, err = s.pool.Exec(ctx, query,
		run.ID,
		record.Generation,
		record.MaxFitness,
		record.MeanFitness,
		bestParams,
		record.BestID,
		record.Evaluated,
		record.Failed,
		record.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert generation %d: %w", record.Generation, err)
	}
	return nil
}

// RunCompleted stores the best candidate and totals of a finished run
func (s *RunStore) RunCompleted(ctx context.Context, run evolution.RunInfo, result *evolution.Result) error {
	var (
		bestFitness = evolution.SentinelFitness
		bestParams  = []byte("{}")
		err         error
	)
	if result.Best != nil {
		bestFitness = result.Best.Fitness
		if bestParams, err = json.Marshal(result.Best.Params); err != nil {
			return fmt.Errorf("failed to marshal best params: %w", err)
		}
	}

	query := `
		UPDATE evolution_runs
		SET status = $2, best_fitness = $3, best_params = $4, evaluations = $5,
			failures = $6, duration_ms = $7, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query,
		run.ID,
		RunStatusCompleted,
		bestFitness,
		bestParams,
		result.Evaluations,
		result.Failures,
		result.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}
	return nil
}

// StoppedStatus is the persisted status of a run that ended with runErr
func StoppedStatus(runErr error) string {
	if errors.Is(runErr, context.Canceled) {
		return RunStatusCancelled
	}
	return RunStatusFailed
}

// MarkStopped records that a run ended early with runErr, as cancelled or failed
func (s *RunStore) MarkStopped(ctx context.Context, runID uuid.UUID, runErr error) error {
	query := `
		UPDATE evolution_runs
		SET status = $2, error_message = $3, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, runID, StoppedStatus(runErr), runErr.Error())
	if err != nil {
		return fmt.Errorf("failed to mark run stopped: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// GetRun loads one run
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (*RunRecord, error) {
	query := `
		SELECT strategy, status, config, evaluation_context,
			COALESCE(best_fitness, 0), COALESCE(best_params, '{}'::jsonb),
			evaluations, failures, COALESCE(duration_ms, 0),
			COALESCE(error_message, ''), started_at
		FROM evolution_runs
		WHERE id = $1
	`

	rec := RunRecord{ID: runID}
	var (
		configJSON, contextJSON, paramsJSON []byte
		durationMS                          int64
	)
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&rec.Strategy,
		&rec.Status,
		&configJSON,
		&contextJSON,
		&rec.BestFitness,
		&paramsJSON,
		&rec.Evaluations,
		&rec.Failures,
		&durationMS,
		&rec.Error,
		&rec.StartedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if err := json.Unmarshal(configJSON, &rec.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run config: %w", err)
	}
	if err := json.Unmarshal(contextJSON, &rec.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal evaluation context: %w", err)
	}
	if err := json.Unmarshal(paramsJSON, &rec.BestParams); err != nil {
		return nil, fmt.Errorf("failed to unmarshal best params: %w", err)
	}
	if len(rec.BestParams) == 0 {
		rec.BestParams = nil
	}
	rec.Duration = time.Duration(durationMS) * time.Millisecond

	return &rec, nil
}

// ListGenerations returns the convergence history of a run in generation order
func (s *RunStore) ListGenerations(ctx context.Context, runID uuid.UUID) (evolution.ConvergenceHistory, error) {
	query := `
		SELECT generation, max_fitness, mean_fitness, COALESCE(best_params, '{}'::jsonb),
			COALESCE(best_candidate_id, ''), evaluated, failed, duration_ms
		FROM evolution_generations
		WHERE run_id = $1
		ORDER BY generation ASC
	`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query generations: %w", err)
	}
	defer rows.Close()

	history := evolution.ConvergenceHistory{}
	for rows.Next() {
		var (
			rec        evolution.GenerationRecord
			paramsJSON []byte
			durationMS int64
		)
		if err := rows.Scan(
			&rec.Generation,
			&rec.MaxFitness,
			&rec.MeanFitness,
			&paramsJSON,
			&rec.BestID,
			&rec.Evaluated,
			&rec.Failed,
			&durationMS,
		); err != nil {
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		if err := json.Unmarshal(paramsJSON, &rec.BestParams); err != nil {
			return nil, fmt.Errorf("failed to unmarshal generation params: %w", err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		history = append(history, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating generations: %w", err)
	}

	return history, nil
}

// createRun inserts the run row; repeated calls for the same run are no-ops
func (s *RunStore) createRun(ctx context.Context, run evolution.RunInfo) error {
	configJSON, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal run config: %w", err)
	}
	contextJSON, err := json.Marshal(run.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal evaluation context: %w", err)
	}

	query := `
		INSERT INTO evolution_runs (id, strategy, status, config, evaluation_context, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.pool.Exec(ctx, query,
		run.ID,
		run.Strategy,
		RunStatusRunning,
		configJSON,
		contextJSON,
		run.Started,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}
