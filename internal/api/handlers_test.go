package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/paramforge/internal/db"
	"github.com/ajitpratap0/paramforge/internal/domains"
	"github.com/ajitpratap0/paramforge/pkg/evolution"
)

type startResponse struct {
	ID       uuid.UUID `json:"id"`
	Status   RunStatus `json:"status"`
	Strategy string    `json:"strategy"`
}

func validStartBody() map[string]interface{} {
	return map[string]interface{}{
		"strategy":   domains.StrategyEMACrossover,
		"universe":   []string{"BTCUSDT", "ETHUSDT"},
		"start_date": "2024-01-01",
		"end_date":   "2024-06-01",
	}
}

func startViaAPI(t *testing.T, s *Server, body map[string]interface{}) startResponse {
	t.Helper()
	w := doRequest(t, s, http.MethodPost, "/api/v1/optimizations", body)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp startResponse
	decode(t, w, &resp)
	return resp
}

func TestHandleStartOptimization(t *testing.T) {
	m := newTestManager(t, fastOracle, ManagerOptions{MaxActive: 2})
	s := newTestServer(t, m, nil)

	resp := startViaAPI(t, s, validStartBody())
	assert.NotEqual(t, uuid.Nil, resp.ID)
	assert.Equal(t, RunStatusRunning, resp.Status)
	assert.Equal(t, domains.StrategyEMACrossover, resp.Strategy)

	final := waitFor(t, m, resp.ID)
	assert.Equal(t, RunStatusCompleted, final.Status)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, final.Context.Universe)
	assert.Equal(t, 2024, final.Context.Start.Year())
	assert.Equal(t, testConfig(), final.Config)
}

func TestHandleStartOptimization_ConfigOverrides(t *testing.T) {
	m := newTestManager(t, fastOracle, ManagerOptions{MaxActive: 1})
	s := newTestServer(t, m, nil)

	body := validStartBody()
	body["config"] = map[string]interface{}{
		"population_size":  8,
		"generation_count": 2,
	}
	resp := startViaAPI(t, s, body)

	final := waitFor(t, m, resp.ID)
	assert.Equal(t, 8, final.Config.PopulationSize)
	assert.Equal(t, 2, final.Config.GenerationCount)
	assert.Equal(t, testConfig().MutationRate, final.Config.MutationRate, "unspecified fields keep the defaults")
	assert.Len(t, final.History, 2)
}

func TestHandleStartOptimization_BadRequests(t *testing.T) {
	m := newTestManager(t, fastOracle, ManagerOptions{MaxActive: 1})
	s := newTestServer(t, m, nil)

	tests := []struct {
		name   string
		mutate func(body map[string]interface{})
		errMsg string
	}{
		{
			name:   "missing strategy",
			mutate: func(body map[string]interface{}) { delete(body, "strategy") },
			errMsg: "invalid request body",
		},
		{
			name:   "empty universe",
			mutate: func(body map[string]interface{}) { body["universe"] = []string{} },
			errMsg: "invalid request body",
		},
		{
			name:   "malformed symbol",
			mutate: func(body map[string]interface{}) { body["universe"] = []string{"BTCUSDT", "BTC;DROP"} },
			errMsg: "invalid request",
		},
		{
			name:   "duplicate symbol",
			mutate: func(body map[string]interface{}) { body["universe"] = []string{"BTCUSDT", "btc/usdt"} },
			errMsg: "invalid request",
		},
		{
			name:   "malformed strategy name",
			mutate: func(body map[string]interface{}) { body["strategy"] = "EMA Crossover" },
			errMsg: "invalid request",
		},
		{
			name:   "malformed date",
			mutate: func(body map[string]interface{}) { body["start_date"] = "01/02/2024" },
			errMsg: "invalid date range",
		},
		{
			name:   "end before start",
			mutate: func(body map[string]interface{}) { body["end_date"] = "2023-12-01" },
			errMsg: "invalid date range",
		},
		{
			name:   "unknown strategy",
			mutate: func(body map[string]interface{}) { body["strategy"] = "martingale" },
			errMsg: "failed to start optimization",
		},
		{
			name: "invalid config override",
			mutate: func(body map[string]interface{}) {
				body["config"] = map[string]interface{}{"mutation_rate": 1.5}
			},
			errMsg: "failed to start optimization",
		},
		{
			name:   "config of wrong type",
			mutate: func(body map[string]interface{}) { body["config"] = "fast" },
			errMsg: "invalid config overrides",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := validStartBody()
			tt.mutate(body)

			w := doRequest(t, s, http.MethodPost, "/api/v1/optimizations", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp map[string]interface{}
			decode(t, w, &resp)
			assert.Equal(t, tt.errMsg, resp["error"])
		})
	}

	assert.Empty(t, m.List())
}

func TestHandleStartOptimization_NormalizesSymbols(t *testing.T) {
	m := newTestManager(t, fastOracle, ManagerOptions{MaxActive: 1})
	s := newTestServer(t, m, nil)

	body := validStartBody()
	body["universe"] = []string{"btc/usdt", " eth-usdt "}
	resp := startViaAPI(t, s, body)

	final := waitFor(t, m, resp.ID)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, final.Context.Universe)
}

func TestParseEvaluationContext_InclusiveEndDate(t *testing.T) {
	evalCtx, err := parseEvaluationContext(StartOptimizationRequest{
		Universe:  []string{"BTCUSDT"},
		StartDate: "2024-06-01",
		EndDate:   "2024-06-01",
	})
	require.NoError(t, err, "single-day range")
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), evalCtx.Start)
	assert.Equal(t, time.Date(2024, 6, 1, 23, 59, 59, 999999999, time.UTC), evalCtx.End)

	open, err := parseEvaluationContext(StartOptimizationRequest{Universe: []string{"BTCUSDT"}})
	require.NoError(t, err)
	assert.True(t, open.End.IsZero())
}

func TestHandleStartOptimization_TooManyRuns(t *testing.T) {
	m := newTestManager(t, blockingOracle, ManagerOptions{MaxActive: 1})
	s := newTestServer(t, m, nil)

	startViaAPI(t, s, validStartBody())

	w := doRequest(t, s, http.MethodPost, "/api/v1/optimizations", validStartBody())
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestHandleGetOptimization(t *testing.T) {
	m := newTestManager(t, fastOracle, ManagerOptions{MaxActive: 1})
	s := newTestServer(t, m, nil)

	resp := startViaAPI(t, s, validStartBody())
	waitFor(t, m, resp.ID)

	w := doRequest(t, s, http.MethodGet, "/api/v1/optimizations/"+resp.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var snap RunSnapshot
	decode(t, w, &snap)
	assert.Equal(t, resp.ID, snap.ID)
	assert.Equal(t, RunStatusCompleted, snap.Status)
	assert.Len(t, snap.History, 3)
	require.NotNil(t, snap.Best)
	assert.NotEmpty(t, snap.Best.Params)

	t.Run("invalid id", func(t *testing.T) {
		w := doRequest(t, s, http.MethodGet, "/api/v1/optimizations/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown id", func(t *testing.T) {
		w := doRequest(t, s, http.MethodGet, "/api/v1/optimizations/"+uuid.NewString(), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandleGetOptimization_FromStore(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, fastOracle, ManagerOptions{MaxActive: 1, Store: store})
	s := newTestServer(t, m, nil)

	id := uuid.New()
	store.runs[id] = &db.RunRecord{
		ID:       id,
		Strategy: domains.StrategyRSIReversion,
		Status:   db.RunStatusFailed,
		Config:   testConfig(),
		Context:  testContext(),
		Error:    "oracle unavailable",
	}

	w := doRequest(t, s, http.MethodGet, "/api/v1/optimizations/"+id.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var snap RunSnapshot
	decode(t, w, &snap)
	assert.Equal(t, RunStatusFailed, snap.Status)
	assert.Equal(t, "oracle unavailable", snap.Error)
	assert.Nil(t, snap.Best)
}

func TestHandleListOptimizations(t *testing.T) {
	m := newTestManager(t, fastOracle, ManagerOptions{MaxActive: 1})
	s := newTestServer(t, m, nil)

	w := doRequest(t, s, http.MethodGet, "/api/v1/optimizations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var empty struct {
		Count int `json:"count"`
	}
	decode(t, w, &empty)
	assert.Equal(t, 0, empty.Count)

	resp := startViaAPI(t, s, validStartBody())
	waitFor(t, m, resp.ID)

	w = doRequest(t, s, http.MethodGet, "/api/v1/optimizations", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Optimizations []RunSummary `json:"optimizations"`
		Count         int          `json:"count"`
	}
	decode(t, w, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, resp.ID, list.Optimizations[0].ID)
	assert.Equal(t, 3, list.Optimizations[0].Generations)
	require.NotNil(t, list.Optimizations[0].BestFitness)
}

func TestHandleCancelOptimization(t *testing.T) {
	m := newTestManager(t, blockingOracle, ManagerOptions{MaxActive: 1})
	s := newTestServer(t, m, nil)

	resp := startViaAPI(t, s, validStartBody())

	w := doRequest(t, s, http.MethodDelete, "/api/v1/optimizations/"+resp.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	final := waitFor(t, m, resp.ID)
	assert.Equal(t, RunStatusCancelled, final.Status)

	w = doRequest(t, s, http.MethodDelete, "/api/v1/optimizations/"+resp.ID.String(), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(t, s, http.MethodDelete, "/api/v1/optimizations/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, s, http.MethodDelete, "/api/v1/optimizations/bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGetReport(t *testing.T) {
	oracle := newGatedOracle()
	m := newTestManager(t, oracle, ManagerOptions{MaxActive: 1})
	s := newTestServer(t, m, nil)

	resp := startViaAPI(t, s, validStartBody())

	w := doRequest(t, s, http.MethodGet, "/api/v1/optimizations/"+resp.ID.String()+"/report", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	oracle.release()
	waitFor(t, m, resp.ID)

	w = doRequest(t, s, http.MethodGet, "/api/v1/optimizations/"+resp.ID.String()+"/report", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")

	report := w.Body.String()
	assert.Contains(t, report, "PARAMETER OPTIMIZATION REPORT")
	assert.Contains(t, report, resp.ID.String())
	assert.Contains(t, report, "fast_period")
	assert.Contains(t, report, "CONVERGENCE")
}

func TestHandleDomains(t *testing.T) {
	m := newTestManager(t, fastOracle, ManagerOptions{MaxActive: 1})
	s := newTestServer(t, m, nil)

	w := doRequest(t, s, http.MethodGet, "/api/v1/domains", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Strategies []string `json:"strategies"`
	}
	decode(t, w, &list)
	assert.Equal(t, []string{domains.StrategyEMACrossover, domains.StrategyRSIReversion}, list.Strategies)

	w = doRequest(t, s, http.MethodGet, "/api/v1/domains/"+domains.StrategyEMACrossover, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Strategy   string          `json:"strategy"`
		Parameters []domains.Entry `json:"parameters"`
	}
	decode(t, w, &detail)
	require.Len(t, detail.Parameters, 4)
	assert.Equal(t, domains.Entry{Name: "fast_period", Type: domains.TypeInteger, Lower: 5, Upper: 50, Step: 5}, detail.Parameters[0])
	assert.Equal(t, domains.TypeContinuous, detail.Parameters[2].Type)
	assert.Equal(t, 2, detail.Parameters[2].Precision)

	w = doRequest(t, s, http.MethodGet, "/api/v1/domains/martingale", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleGetHealth(t *testing.T) {
	m := newTestManager(t, fastOracle, ManagerOptions{MaxActive: 1})

	t.Run("no database", func(t *testing.T) {
		s := newTestServer(t, m, nil)
		w := doRequest(t, s, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("database healthy", func(t *testing.T) {
		s := newTestServer(t, m, healthFunc(func(context.Context) error { return nil }))
		w := doRequest(t, s, http.MethodGet, "/api/v1/health", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var resp map[string]interface{}
		decode(t, w, &resp)
		assert.Equal(t, "healthy", resp["status"])
	})

	t.Run("database down", func(t *testing.T) {
		s := newTestServer(t, m, healthFunc(func(context.Context) error { return errDatabaseDown }))
		w := doRequest(t, s, http.MethodGet, "/api/v1/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestHandleRoot(t *testing.T) {
	s := newTestServer(t, newTestManager(t, fastOracle, ManagerOptions{}), nil)

	w := doRequest(t, s, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	decode(t, w, &resp)
	assert.Equal(t, "paramforge", resp["service"])
}

func TestRunSnapshot_Result(t *testing.T) {
	snap := RunSnapshot{
		ID:          uuid.New(),
		Strategy:    domains.StrategyEMACrossover,
		Best:        &evolution.Candidate{Fitness: 1},
		Evaluations: 12,
	}
	result := snap.Result()
	assert.Equal(t, snap.ID, result.RunID)
	assert.Equal(t, snap.Best, result.Best)
	assert.Equal(t, 12, result.Evaluations)
}
