// Package backtest is a candle-driven, long-only backtester used as the local fitness
// oracle. It trades one position per symbol at full allocation and reports the metrics
// the optimizer scores.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/paramforge/pkg/evolution"
)

// ErrEmptyUniverse is returned when there is nothing to trade
var ErrEmptyUniverse = errors.New("evaluation universe is empty")

// Settings configures the simulator
type Settings struct {
	InitialCapital float64
	FeeRate        float64 // charged on entry and on exit
	Interval       string  // candle interval requested from the source
	PeriodsPerYear float64 // bars per year, used to annualize Sharpe
}

// DefaultSettings returns hourly-candle settings with a 0.1% fee
func DefaultSettings() Settings {
	return Settings{
		InitialCapital: 10000,
		FeeRate:        0.001,
		Interval:       "1h",
		PeriodsPerYear: 24 * 365,
	}
}

// Simulator evaluates parameter sets against historical candles
type Simulator struct {
	source   CandleSource
	settings Settings
	log      zerolog.Logger
}

// NewSimulator creates a simulator reading bars from source
func NewSimulator(source CandleSource, settings Settings) *Simulator {
	return &Simulator{
		source:   source,
		settings: settings,
		log:      log.With().Str("component", "backtest").Logger(),
	}
}

// Trade is a closed round trip
type Trade struct {
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Return     float64   `json:"return"` // fraction, net of fees
	Reason     string    `json:"reason"`
}

// Result is the outcome of one symbol's backtest
type Result struct {
	Symbol      string            `json:"symbol"`
	Metrics     evolution.Metrics `json:"metrics"`
	Trades      []Trade           `json:"trades"`
	FinalEquity float64           `json:"final_equity"`
}

// Evaluate implements evolution.FitnessOracle. Metrics are averaged across the universe.
func (s *Simulator) Evaluate(ctx context.Context, strategyType string, params evolution.ParameterSet, evalCtx evolution.EvaluationContext) (evolution.Metrics, error) {
	if len(evalCtx.Universe) == 0 {
		return evolution.Metrics{}, ErrEmptyUniverse
	}

	var sum evolution.Metrics
	for _, symbol := range evalCtx.Universe {
		res, err := s.Run(ctx, strategyType, params, symbol, evalCtx.Start, evalCtx.End)
		if err != nil {
			return evolution.Metrics{}, err
		}
		sum.TotalReturn += res.Metrics.TotalReturn
		sum.SharpeRatio += res.Metrics.SharpeRatio
		sum.MaxDrawdown += res.Metrics.MaxDrawdown
		sum.WinRate += res.Metrics.WinRate
	}

	n := float64(len(evalCtx.Universe))
	return evolution.Metrics{
		TotalReturn: sum.TotalReturn / n,
		SharpeRatio: sum.SharpeRatio / n,
		MaxDrawdown: sum.MaxDrawdown / n,
		WinRate:     sum.WinRate / n,
	}, nil
}

// Run backtests one symbol
func (s *Simulator) Run(ctx context.Context, strategyType string, params evolution.ParameterSet, symbol string, start, end time.Time) (*Result, error) {
	candles, err := s.source.Candles(ctx, symbol, s.settings.Interval, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load candles for %s: %w", symbol, err)
	}
	if len(candles) < 2 {
		return nil, fmt.Errorf("not enough candles for %s: %d", symbol, len(candles))
	}

	r, err := buildRules(strategyType, params, closes(candles))
	if err != nil {
		return nil, err
	}

	res, err := s.simulate(ctx, candles, r)
	if err != nil {
		return nil, err
	}
	res.Symbol = symbol

	s.log.Debug().
		Str("symbol", symbol).
		Str("strategy", strategyType).
		Str("params", params.String()).
		Int("trades", len(res.Trades)).
		Float64("total_return", res.Metrics.TotalReturn).
		Float64("sharpe", res.Metrics.SharpeRatio).
		Msg("Backtest complete")

	return res, nil
}

// simulate walks the bars. Signals act on the bar's close; protective exits are checked
// against the bar's range, stop loss first.
func (s *Simulator) simulate(ctx context.Context, candles []Candle, r *rules) (*Result, error) {
	fee := s.settings.FeeRate
	cash := s.settings.InitialCapital
	var units, entryPrice float64
	var entryTime time.Time
	inPosition := false

	res := &Result{}
	equity := make([]float64, 0, len(candles))

	closePosition := func(c Candle, price float64, reason string) {
		cash = units * price * (1 - fee)
		res.Trades = append(res.Trades, Trade{
			EntryTime:  entryTime,
			ExitTime:   c.Timestamp,
			EntryPrice: entryPrice,
			ExitPrice:  price,
			Return:     (price*(1-fee))/(entryPrice/(1-fee)) - 1,
			Reason:     reason,
		})
		units, inPosition = 0, false
	}

	for i, c := range candles {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		if inPosition {
			stop := entryPrice * (1 - r.stopLoss)
			target := entryPrice * (1 + r.takeProfit)
			switch {
			case r.stopLoss > 0 && c.Low <= stop:
				closePosition(c, math.Min(stop, c.Open), "stop_loss")
			case r.takeProfit > 0 && c.High >= target:
				closePosition(c, math.Max(target, c.Open), "take_profit")
			case r.exit[i]:
				closePosition(c, c.Close, "signal")
			}
		} else if r.entry[i] && i < len(candles)-1 {
			units = cash * (1 - fee) / c.Close
			cash = 0
			entryPrice, entryTime = c.Close, c.Timestamp
			inPosition = true
		}

		equity = append(equity, cash+units*c.Close)
	}

	if inPosition {
		last := candles[len(candles)-1]
		closePosition(last, last.Close, "end_of_data")
		equity[len(equity)-1] = cash
	}

	res.FinalEquity = cash
	res.Metrics = s.metrics(equity, res.Trades)
	return res, nil
}

func (s *Simulator) metrics(equity []float64, trades []Trade) evolution.Metrics {
	initial := s.settings.InitialCapital
	m := evolution.Metrics{
		TotalReturn: equity[len(equity)-1]/initial - 1,
		MaxDrawdown: -maxDrawdown(initial, equity),
		SharpeRatio: sharpe(initial, equity, s.settings.PeriodsPerYear),
	}

	if len(trades) > 0 {
		wins := 0
		for _, t := range trades {
			if t.Return > 0 {
				wins++
			}
		}
		m.WinRate = float64(wins) / float64(len(trades))
	}
	return m
}

// maxDrawdown is the largest peak-to-trough decline as a positive fraction
func maxDrawdown(initial float64, equity []float64) float64 {
	peak, worst := initial, 0.0
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if dd := (peak - e) / peak; dd > worst {
			worst = dd
		}
	}
	return worst
}

// sharpe annualizes the mean per-bar return over its standard deviation, risk-free rate zero
func sharpe(initial float64, equity []float64, periodsPerYear float64) float64 {
	prev := initial
	returns := make([]float64, 0, len(equity))
	for _, e := range equity {
		returns = append(returns, e/prev-1)
		prev = e
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(periodsPerYear)
}
