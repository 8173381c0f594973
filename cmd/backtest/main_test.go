package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/paramforge/internal/backtest"
	"github.com/ajitpratap0/paramforge/internal/domains"
	"github.com/ajitpratap0/paramforge/internal/oracle"
	"github.com/ajitpratap0/paramforge/pkg/evolution"
)

func newTestSimulator(bars int) *backtest.Simulator {
	src := backtest.NewMemorySource()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	prev := 100.0
	for i := 0; i < bars; i++ {
		price := 100 + 10*math.Sin(float64(i)/12)
		src.Add("BTCUSDT", backtest.Candle{
			Symbol:    "BTCUSDT",
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      prev,
			High:      math.Max(prev, price) + 0.5,
			Low:       math.Min(prev, price) - 0.5,
			Close:     price,
			Volume:    1000,
		})
		prev = price
	}
	return backtest.NewSimulator(src, backtest.DefaultSettings())
}

func emaParams() evolution.ParameterSet {
	return evolution.ParameterSet{"fast_period": 10, "slow_period": 50, "stop_loss": 0.05, "take_profit": 0.1}
}

func TestParseParams(t *testing.T) {
	params, err := parseParams(" fast_period=10, slow_period = 50,stop_loss=0.05 ,")
	require.NoError(t, err)
	assert.Equal(t, evolution.ParameterSet{"fast_period": 10, "slow_period": 50, "stop_loss": 0.05}, params)

	_, err = parseParams("")
	assert.Error(t, err)

	_, err = parseParams("fast_period")
	assert.Error(t, err)

	_, err = parseParams("fast_period=ten")
	assert.Error(t, err)
}

func TestCheckParams(t *testing.T) {
	table := domains.Builtin()

	assert.NoError(t, checkParams(table, domains.StrategyEMACrossover, emaParams()))

	missing := emaParams()
	delete(missing, "take_profit")
	assert.Error(t, checkParams(table, domains.StrategyEMACrossover, missing))

	renamed := emaParams()
	delete(renamed, "take_profit")
	renamed["target"] = 0.1
	assert.Error(t, checkParams(table, domains.StrategyEMACrossover, renamed))

	offStep := emaParams()
	offStep["fast_period"] = 12
	err := checkParams(table, domains.StrategyEMACrossover, offStep)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fast_period")

	assert.ErrorIs(t, checkParams(table, "unknown", emaParams()), evolution.ErrEmptyDomain)
}

func TestParseDate(t *testing.T) {
	d, err := parseDate("")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	d, err = parseDate("2024-02-01")
	require.NoError(t, err)
	assert.Equal(t, 2024, d.Year())

	_, err = parseDate("01/02/2024")
	assert.Error(t, err)
}

func TestServeRequest(t *testing.T) {
	sim := newTestSimulator(400)
	table := domains.Builtin()

	t.Run("metrics", func(t *testing.T) {
		req, err := json.Marshal(oracle.NewRequest(domains.StrategyEMACrossover, emaParams(),
			evolution.EvaluationContext{Universe: []string{"BTCUSDT"}}))
		require.NoError(t, err)

		var out bytes.Buffer
		require.NoError(t, serveRequest(context.Background(), sim, table, bytes.NewReader(req), &out))

		var resp oracle.Response
		require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
		assert.Empty(t, resp.Error)

		metrics, err := resp.Metrics()
		require.NoError(t, err)
		assert.LessOrEqual(t, metrics.MaxDrawdown, 0.0, "drawdown is a negative fraction")
		assert.GreaterOrEqual(t, metrics.MaxDrawdown, -1.0)
		assert.LessOrEqual(t, metrics.WinRate, 1.0)
	})

	t.Run("failure is reported in the response", func(t *testing.T) {
		req, err := json.Marshal(oracle.NewRequest(domains.StrategyEMACrossover, emaParams(),
			evolution.EvaluationContext{Universe: []string{"ETHUSDT"}}))
		require.NoError(t, err)

		var out bytes.Buffer
		require.NoError(t, serveRequest(context.Background(), sim, table, bytes.NewReader(req), &out))

		var resp oracle.Response
		require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
		assert.NotEmpty(t, resp.Error)

		_, err = resp.Metrics()
		assert.ErrorIs(t, err, oracle.ErrBacktestFailed)
	})

	t.Run("empty universe", func(t *testing.T) {
		req := `{"strategy":"ema_crossover","params":{"fast_period":10,"slow_period":50,"stop_loss":0.05,"take_profit":0.1}}`

		var out bytes.Buffer
		require.NoError(t, serveRequest(context.Background(), sim, table, strings.NewReader(req), &out))
		assert.Contains(t, out.String(), "error")
	})

	t.Run("malformed input", func(t *testing.T) {
		var out bytes.Buffer
		err := serveRequest(context.Background(), sim, table, strings.NewReader("{not json"), &out)
		assert.Error(t, err)
		assert.Zero(t, out.Len())
	})
}

func TestPrintResults(t *testing.T) {
	sim := newTestSimulator(400)
	res, err := sim.Run(context.Background(), domains.StrategyEMACrossover, emaParams(), "BTCUSDT", time.Time{}, time.Time{})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, printResults(&out, []*backtest.Result{res}))
	assert.Contains(t, out.String(), "SYMBOL")
	assert.Contains(t, out.String(), "BTCUSDT")
}
