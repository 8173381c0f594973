package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/paramforge/pkg/evolution"
)

// MockAlerter records every alert it is sent
type MockAlerter struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func NewMockAlerter(err error) *MockAlerter {
	return &MockAlerter{err: err}
}

func (m *MockAlerter) Send(ctx context.Context, alert Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
	return m.err
}

func (m *MockAlerter) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Alert(nil), m.alerts...)
}

func TestManager_Send(t *testing.T) {
	tests := []struct {
		name      string
		alert     Alert
		mockErr   error
		expectErr bool
	}{
		{
			name:  "successful send",
			alert: Alert{Title: "Test Alert", Message: "Test Message", Severity: SeverityInfo},
		},
		{
			name:      "send with error",
			alert:     Alert{Title: "Test Alert", Message: "Test Message", Severity: SeverityWarning},
			mockErr:   errors.New("send error"),
			expectErr: true,
		},
		{
			name: "explicit timestamp is kept",
			alert: Alert{
				Title:     "Test Alert",
				Message:   "Test Message",
				Severity:  SeverityCritical,
				Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockAlerter(tt.mockErr)
			manager := NewManager(mock)

			err := manager.Send(context.Background(), tt.alert)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			sent := mock.Alerts()
			require.Len(t, sent, 1)
			assert.False(t, sent[0].Timestamp.IsZero())
			if !tt.alert.Timestamp.IsZero() {
				assert.Equal(t, tt.alert.Timestamp, sent[0].Timestamp)
			}
		})
	}
}

func TestManager_SendToMultipleAlerters(t *testing.T) {
	ok := NewMockAlerter(nil)
	failing := NewMockAlerter(errors.New("unreachable"))
	down := NewMockAlerter(errors.New("bot blocked"))
	manager := NewManager(failing, ok, down)

	err := manager.Send(context.Background(), Alert{Kind: KindGenerationFailed, Severity: SeverityCritical, Strategy: "ema_crossover"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
	assert.Contains(t, err.Error(), "bot blocked")

	require.Len(t, ok.Alerts(), 1, "a failing alerter does not stop the others")
	assert.Equal(t, SeverityCritical, ok.Alerts()[0].Severity)
	assert.Equal(t, "ema_crossover", ok.Alerts()[0].Strategy)
}

func TestAlert_Fields(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	generation := Alert{RunID: id, Strategy: "ema_crossover", Generation: 0, Evaluated: 10, Failed: 6}
	assert.Equal(t, []Field{
		{"run_id", id.String()},
		{"strategy", "ema_crossover"},
		{"generation", "0"},
		{"evaluated", "10"},
		{"failed", "6"},
	}, generation.Fields())

	run := Alert{RunID: id, Strategy: "rsi_reversion", Generation: RunScope, Evaluated: 200, Failed: 3, BestFitness: 1.23456}
	assert.Equal(t, []Field{
		{"run_id", id.String()},
		{"strategy", "rsi_reversion"},
		{"evaluated", "200"},
		{"failed", "3"},
		{"best_fitness", "1.2346"},
	}, run.Fields())
}

func TestLogAlerter_Send(t *testing.T) {
	alerter := NewLogAlerter()
	for _, severity := range []Severity{SeverityInfo, SeverityWarning, SeverityCritical, "UNKNOWN"} {
		err := alerter.Send(context.Background(), Alert{
			Kind:       KindHighFailureRate,
			Title:      "Test",
			Message:    "message",
			Severity:   severity,
			Timestamp:  time.Now(),
			RunID:      uuid.New(),
			Generation: 3,
		})
		assert.NoError(t, err)
	}
}

// ============================================================================
// RUN OBSERVER
// ============================================================================

func testRun() evolution.RunInfo {
	return evolution.RunInfo{ID: uuid.New(), Strategy: "ema_crossover", Started: time.Now()}
}

func TestRunObserver_GenerationCompleted(t *testing.T) {
	tests := []struct {
		name      string
		evaluated int
		failed    int
		ratio     float64
		want      []Severity
	}{
		{name: "no failures", evaluated: 10, failed: 0, ratio: 0.5},
		{name: "below threshold", evaluated: 10, failed: 4, ratio: 0.5},
		{name: "at threshold", evaluated: 10, failed: 5, ratio: 0.5, want: []Severity{SeverityWarning}},
		{name: "threshold disabled", evaluated: 10, failed: 9, ratio: 0},
		{name: "all failed", evaluated: 10, failed: 10, ratio: 0, want: []Severity{SeverityCritical}},
		{name: "empty generation", evaluated: 0, failed: 0, ratio: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockAlerter(nil)
			obs := NewRunObserver(NewManager(mock), tt.ratio)
			run := testRun()

			err := obs.GenerationCompleted(context.Background(), run, evolution.GenerationRecord{
				Generation: 2,
				Evaluated:  tt.evaluated,
				Failed:     tt.failed,
			})
			require.NoError(t, err)

			sent := mock.Alerts()
			require.Len(t, sent, len(tt.want))
			for i, kind := range tt.want {
				assert.Equal(t, kind, sent[i].Kind)
				assert.Equal(t, run.ID, sent[i].RunID)
				assert.Equal(t, 2, sent[i].Generation)
				assert.Equal(t, "ema_crossover", sent[i].Strategy)
				assert.Equal(t, tt.failed, sent[i].Failed)
			}
		})
	}
}

func TestRunObserver_RunCompleted(t *testing.T) {
	history := func(fitness ...float64) evolution.ConvergenceHistory {
		h := make(evolution.ConvergenceHistory, len(fitness))
		for i, f := range fitness {
			h[i] = evolution.GenerationRecord{Generation: i, MaxFitness: f}
		}
		return h
	}

	tests := []struct {
		name   string
		result *evolution.Result
		alert  bool
	}{
		{name: "nil result", result: nil},
		{name: "single generation", result: &evolution.Result{History: history(1)}},
		{name: "improved", result: &evolution.Result{History: history(1, 1.5, 2)}},
		{name: "stagnant", result: &evolution.Result{History: history(1.2, 1.2, 1.2), Evaluations: 30}, alert: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockAlerter(nil)
			obs := NewRunObserver(NewManager(mock), 0.5)

			require.NoError(t, obs.RunCompleted(context.Background(), testRun(), tt.result))

			if !tt.alert {
				assert.Empty(t, mock.Alerts())
				return
			}
			sent := mock.Alerts()
			require.Len(t, sent, 1)
			assert.Equal(t, KindNoImprovement, sent[0].Kind)
			assert.Equal(t, SeverityWarning, sent[0].Severity)
			assert.Equal(t, RunScope, sent[0].Generation)
			assert.Equal(t, 1.2, sent[0].BestFitness)
			assert.Equal(t, 30, sent[0].Evaluated)
			assert.Equal(t, 2, sent[0].Failed)
		})
	}
}

func TestRunObserver_DuringEvolve(t *testing.T) {
	domains := evolution.StaticDomainTable{
		"flat": {{Name: "x", Domain: evolution.IntegerDomain{Lower: 1, Upper: 3, Step: 1}}},
	}
	failing := evolution.OracleFunc(func(ctx context.Context, _ string, params evolution.ParameterSet, _ evolution.EvaluationContext) (evolution.Metrics, error) {
		if params.Int("x") == 2 {
			return evolution.Metrics{}, errors.New("backtest crashed")
		}
		return evolution.Metrics{TotalReturn: 0.1}, nil
	})

	cfg := evolution.DefaultConfig()
	cfg.PopulationSize = 10
	cfg.GenerationCount = 3
	cfg.Seed = 11

	mock := NewMockAlerter(nil)
	opt := evolution.NewOptimizer(domains, failing, cfg,
		evolution.WithObservers(NewRunObserver(NewManager(mock), 0.01)))

	_, err := opt.Evolve(context.Background(), "flat", evolution.EvaluationContext{Universe: []string{"BTCUSDT"}})
	require.NoError(t, err)

	// the constant oracle never improves, so the run ends with a convergence warning
	sent := mock.Alerts()
	require.NotEmpty(t, sent)
	assert.Equal(t, KindNoImprovement, sent[len(sent)-1].Kind)
}
