package api

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/paramforge/internal/db"
	"github.com/ajitpratap0/paramforge/internal/metrics"
	"github.com/ajitpratap0/paramforge/pkg/evolution"
)

var (
	// ErrRunNotFound is returned for IDs the manager and the store don't know
	ErrRunNotFound = errors.New("optimization run not found")
	// ErrTooManyRuns is returned when the active run limit is reached
	ErrTooManyRuns = errors.New("too many active optimization runs")
	// ErrRunFinished is returned when cancelling a run that already stopped
	ErrRunFinished = errors.New("optimization run already finished")
)

// RunStatus is the lifecycle state of a managed run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// subscriberBuffer bounds how far a slow stream client may lag
const subscriberBuffer = 64

// defaultMaxRetained is how many finished runs stay in memory when
// ManagerOptions.MaxRetained is unset
const defaultMaxRetained = 100

// RunStore is the persistence the manager falls back to for runs it no longer holds.
// *db.RunStore implements it.
type RunStore interface {
	evolution.Observer
	GetRun(ctx context.Context, runID uuid.UUID) (*db.RunRecord, error)
	ListGenerations(ctx context.Context, runID uuid.UUID) (evolution.ConvergenceHistory, error)
	MarkStopped(ctx context.Context, runID uuid.UUID, runErr error) error
}

// StartRequest describes one optimization run
type StartRequest struct {
	Strategy string
	Context  evolution.EvaluationContext
	Config   evolution.Config
}

// RunSnapshot is a point-in-time copy of a run
type RunSnapshot struct {
	ID          uuid.UUID                    `json:"id"`
	Strategy    string                       `json:"strategy"`
	Status      RunStatus                    `json:"status"`
	Config      evolution.Config             `json:"config"`
	Context     evolution.EvaluationContext  `json:"context"`
	History     evolution.ConvergenceHistory `json:"history"`
	Best        *evolution.Candidate         `json:"best,omitempty"`
	Evaluations int                          `json:"evaluations"`
	Failures    int                          `json:"failures"`
	Error       string                       `json:"error,omitempty"`
	StartedAt   time.Time                    `json:"started_at"`
	Duration    time.Duration                `json:"duration"`
}

// Finished reports whether the run reached a terminal status
func (s RunSnapshot) Finished() bool {
	return s.Status != RunStatusRunning
}

// Result converts the snapshot into the optimizer's result form
func (s RunSnapshot) Result() *evolution.Result {
	return &evolution.Result{
		RunID:       s.ID,
		Strategy:    s.Strategy,
		Best:        s.Best,
		History:     s.History,
		Evaluations: s.Evaluations,
		Failures:    s.Failures,
		Duration:    s.Duration,
	}
}

// ManagerOptions configures a RunManager
type ManagerOptions struct {
	MaxActive int
	// MaxRetained caps the finished runs kept in memory. Older ones are evicted
	// and remain reachable through Store.
	MaxRetained int
	Observers   []evolution.Observer
	Store       RunStore
	Logger      *zerolog.Logger
}

// RunManager starts optimizer runs in the background and tracks them in memory
type RunManager struct {
	table       evolution.DomainTable
	oracle      evolution.FitnessOracle
	maxActive   int
	maxRetained int
	observers   []evolution.Observer
	store       RunStore
	log         zerolog.Logger

	mu       sync.RWMutex
	runs     map[uuid.UUID]*managedRun
	finished []uuid.UUID
	active   int

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunManager creates a run manager
func NewRunManager(table evolution.DomainTable, oracle evolution.FitnessOracle, opts ManagerOptions) *RunManager {
	if opts.MaxActive < 1 {
		opts.MaxActive = 1
	}
	if opts.MaxRetained < 1 {
		opts.MaxRetained = defaultMaxRetained
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	ctx, stop := context.WithCancel(context.Background())
	return &RunManager{
		table:       table,
		oracle:      oracle,
		maxActive:   opts.MaxActive,
		maxRetained: opts.MaxRetained,
		observers:   opts.Observers,
		store:       opts.Store,
		log:         logger.With().Str("component", "run_manager").Logger(),
		runs:        make(map[uuid.UUID]*managedRun),
		baseCtx:     ctx,
		stop:        stop,
	}
}

// Start validates req and launches the run in the background
func (m *RunManager) Start(req StartRequest) (RunSnapshot, error) {
	if err := req.Config.Validate(); err != nil {
		return RunSnapshot{}, err
	}
	if err := req.Context.Validate(); err != nil {
		return RunSnapshot{}, err
	}
	if _, err := m.table.DomainsFor(req.Strategy); err != nil {
		return RunSnapshot{}, err
	}

	m.mu.Lock()
	if m.active >= m.maxActive {
		m.mu.Unlock()
		return RunSnapshot{}, fmt.Errorf("%w: limit is %d", ErrTooManyRuns, m.maxActive)
	}
	m.active++

	ctx, cancel := context.WithCancel(m.baseCtx)
	r := &managedRun{
		snap: RunSnapshot{
			ID:        uuid.New(),
			Strategy:  req.Strategy,
			Status:    RunStatusRunning,
			Config:    req.Config,
			Context:   req.Context,
			History:   evolution.ConvergenceHistory{},
			StartedAt: time.Now(),
		},
		cancel:      cancel,
		done:        make(chan struct{}),
		subscribers: make(map[chan evolution.GenerationRecord]struct{}),
	}
	m.runs[r.snap.ID] = r
	m.mu.Unlock()

	observers := make([]evolution.Observer, 0, len(m.observers)+2)
	observers = append(observers, r)
	observers = append(observers, m.observers...)
	if m.store != nil {
		observers = append(observers, m.store)
	}

	logger := m.log.With().
		Str("run_id", r.snap.ID.String()).
		Str("strategy", req.Strategy).
		Logger()
	optimizer := evolution.NewOptimizer(m.table, m.oracle, req.Config,
		evolution.WithRunID(r.snap.ID),
		evolution.WithObservers(observers...),
		evolution.WithLogger(logger),
	)
	done := metrics.RunStarted(req.Strategy)

	logger.Info().
		Strs("universe", req.Context.Universe).
		Msg("Optimization run started")

	snapshot := r.snapshot()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		result, err := optimizer.Evolve(ctx, req.Strategy, req.Context)
		status := m.finish(r, result, err)
		done(string(status))
	}()

	return snapshot, nil
}

// finish records the outcome of a run and releases its active slot
func (m *RunManager) finish(r *managedRun, result *evolution.Result, runErr error) RunStatus {
	status := RunStatusCompleted
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		status = RunStatusCancelled
	default:
		status = RunStatusFailed
	}

	logger := m.log.With().Str("run_id", r.snap.ID.String()).Logger()
	if runErr != nil {
		logger.Warn().Err(runErr).Str("status", string(status)).Msg("Optimization run stopped")
		if m.store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := m.store.MarkStopped(ctx, r.snap.ID, runErr); err != nil && !errors.Is(err, db.ErrRunNotFound) {
				logger.Error().Err(err).Msg("Failed to persist stopped run")
			}
			cancel()
		}
	} else {
		logger.Info().
			Float64("best_fitness", result.Best.Fitness).
			Dur("duration", result.Duration).
			Msg("Optimization run completed")
	}

	m.mu.Lock()
	m.active--
	m.finished = append(m.finished, r.snap.ID)
	m.evictLocked()
	m.mu.Unlock()

	r.close(status, result, runErr)
	return status
}

// evictLocked drops the oldest finished runs beyond the retention cap
func (m *RunManager) evictLocked() {
	excess := len(m.finished) - m.maxRetained
	if excess <= 0 {
		return
	}
	for _, id := range m.finished[:excess] {
		delete(m.runs, id)
	}
	m.finished = append(m.finished[:0:0], m.finished[excess:]...)
	m.log.Debug().Int("evicted", excess).Msg("Evicted finished runs from memory")
}

// Get returns the in-memory snapshot of a run
func (m *RunManager) Get(id uuid.UUID) (RunSnapshot, bool) {
	r, ok := m.lookup(id)
	if !ok {
		return RunSnapshot{}, false
	}
	return r.snapshot(), true
}

// Lookup returns a run from memory, or from the store when one is configured
func (m *RunManager) Lookup(ctx context.Context, id uuid.UUID) (RunSnapshot, error) {
	if snap, ok := m.Get(id); ok {
		return snap, nil
	}
	if m.store == nil {
		return RunSnapshot{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	rec, err := m.store.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrRunNotFound) {
			return RunSnapshot{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return RunSnapshot{}, err
	}
	history, err := m.store.ListGenerations(ctx, id)
	if err != nil {
		return RunSnapshot{}, err
	}
	return snapshotFromRecord(rec, history), nil
}

// List returns every in-memory run, newest first
func (m *RunManager) List() []RunSnapshot {
	m.mu.RLock()
	runs := make([]*managedRun, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	m.mu.RUnlock()

	out := make([]RunSnapshot, len(runs))
	for i, r := range runs {
		out[i] = r.snapshot()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Cancel stops a running run
func (m *RunManager) Cancel(id uuid.UUID) error {
	r, ok := m.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if r.snapshot().Finished() {
		return fmt.Errorf("%w: %s", ErrRunFinished, id)
	}
	r.cancel()
	return nil
}

// Subscribe returns the current snapshot and a channel of the generations completed
// after it. The channel is closed when the run finishes.
func (m *RunManager) Subscribe(id uuid.UUID) (RunSnapshot, <-chan evolution.GenerationRecord, func(), error) {
	r, ok := m.lookup(id)
	if !ok {
		return RunSnapshot{}, nil, nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan evolution.GenerationRecord, subscriberBuffer)
	snap := r.copyLocked()
	if snap.Finished() {
		close(ch)
		return snap, ch, func() {}, nil
	}

	r.subscribers[ch] = struct{}{}
	unsubscribe := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.subscribers[ch]; ok {
			delete(r.subscribers, ch)
			close(ch)
		}
	}
	return snap, ch, unsubscribe, nil
}

// Wait blocks until the run finishes or ctx is done
func (m *RunManager) Wait(ctx context.Context, id uuid.UUID) (RunSnapshot, error) {
	r, ok := m.lookup(id)
	if !ok {
		return RunSnapshot{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	select {
	case <-r.done:
		return r.snapshot(), nil
	case <-ctx.Done():
		return RunSnapshot{}, ctx.Err()
	}
}

// ActiveCount returns the number of runs still evolving
func (m *RunManager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Shutdown cancels every active run and waits for them to stop
func (m *RunManager) Shutdown(ctx context.Context) error {
	m.stop()

	stopped := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		m.log.Info().Msg("All optimization runs stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for runs to stop: %w", ctx.Err())
	}
}

func (m *RunManager) lookup(id uuid.UUID) (*managedRun, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	return r, ok
}

// ============================================================================
// MANAGED RUN
// ============================================================================

// managedRun is the in-memory state of one run. It observes its own optimizer.
type managedRun struct {
	mu          sync.Mutex
	snap        RunSnapshot
	cancel      context.CancelFunc
	done        chan struct{}
	subscribers map[chan evolution.GenerationRecord]struct{}
}

// GenerationCompleted appends the record and fans it out to subscribers
func (r *managedRun) GenerationCompleted(_ context.Context, _ evolution.RunInfo, record evolution.GenerationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.snap.History = append(r.snap.History, record)
	r.snap.Evaluations += record.Evaluated
	r.snap.Failures += record.Failed

	for ch := range r.subscribers {
		select {
		case ch <- record:
		default:
			// Subscriber is too slow, drop it
			delete(r.subscribers, ch)
			close(ch)
		}
	}
	return nil
}

// RunCompleted is a no-op; close records the result once Evolve returns
func (r *managedRun) RunCompleted(context.Context, evolution.RunInfo, *evolution.Result) error {
	return nil
}

func (r *managedRun) close(status RunStatus, result *evolution.Result, runErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.snap.Status = status
	r.snap.Duration = time.Since(r.snap.StartedAt)
	if runErr != nil {
		r.snap.Error = runErr.Error()
	}
	if result != nil {
		r.snap.Best = result.Best
		r.snap.Evaluations = result.Evaluations
		r.snap.Failures = result.Failures
		r.snap.Duration = result.Duration
	}

	for ch := range r.subscribers {
		delete(r.subscribers, ch)
		close(ch)
	}
	r.cancel()
	close(r.done)
}

func (r *managedRun) snapshot() RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyLocked()
}

func (r *managedRun) copyLocked() RunSnapshot {
	snap := r.snap
	snap.History = make(evolution.ConvergenceHistory, len(r.snap.History))
	copy(snap.History, r.snap.History)
	if snap.Status == RunStatusRunning {
		snap.Duration = time.Since(snap.StartedAt)
	}
	return snap
}

func snapshotFromRecord(rec *db.RunRecord, history evolution.ConvergenceHistory) RunSnapshot {
	snap := RunSnapshot{
		ID:          rec.ID,
		Strategy:    rec.Strategy,
		Status:      RunStatus(rec.Status),
		Config:      rec.Config,
		Context:     rec.Context,
		History:     history,
		Evaluations: rec.Evaluations,
		Failures:    rec.Failures,
		Error:       rec.Error,
		StartedAt:   rec.StartedAt,
		Duration:    rec.Duration,
	}
	if rec.BestParams != nil {
		snap.Best = &evolution.Candidate{
			Params:  rec.BestParams,
			Fitness: rec.BestFitness,
			Scored:  true,
		}
	}
	return snap
}
