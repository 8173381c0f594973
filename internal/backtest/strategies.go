package backtest

import (
	"errors"
	"fmt"
	"math"

	"github.com/ajitpratap0/paramforge/pkg/evolution"
)

var (
	ErrUnknownStrategy = errors.New("unknown strategy")
	ErrInvalidParams   = errors.New("invalid parameters")
)

// Strategy names understood by the simulator
const (
	StrategyEMACrossover = "ema_crossover"
	StrategyRSIReversion = "rsi_reversion"
)

// rules is what the simulator trades on: per-bar entry and exit flags plus protective exits
type rules struct {
	entry      []bool
	exit       []bool
	stopLoss   float64 // fraction below entry, 0 disables
	takeProfit float64 // fraction above entry, 0 disables
}

// buildRules turns a strategy and its parameters into trading rules for the given closes
func buildRules(strategyType string, params evolution.ParameterSet, prices []float64) (*rules, error) {
	switch strategyType {
	case StrategyEMACrossover:
		return emaCrossoverRules(params, prices)
	case StrategyRSIReversion:
		return rsiReversionRules(params, prices)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategyType)
	}
}

// emaCrossoverRules goes long when the fast EMA crosses above the slow one and exits on the reverse cross
func emaCrossoverRules(params evolution.ParameterSet, prices []float64) (*rules, error) {
	fast, slow := params.Int("fast_period"), params.Int("slow_period")
	if fast < 1 || slow < 1 {
		return nil, fmt.Errorf("%w: periods must be positive", ErrInvalidParams)
	}
	if fast >= slow {
		return nil, fmt.Errorf("%w: fast_period %d must be below slow_period %d", ErrInvalidParams, fast, slow)
	}
	if slow >= len(prices) {
		return nil, fmt.Errorf("%w: slow_period %d needs more than %d bars", ErrInvalidParams, slow, len(prices))
	}

	fastEMA, slowEMA := ema(prices, fast), ema(prices, slow)

	r := newRules(len(prices), params)
	for i := 1; i < len(prices); i++ {
		if anyNaN(fastEMA[i-1], slowEMA[i-1], fastEMA[i], slowEMA[i]) {
			continue
		}
		r.entry[i] = fastEMA[i-1] <= slowEMA[i-1] && fastEMA[i] > slowEMA[i]
		r.exit[i] = fastEMA[i-1] >= slowEMA[i-1] && fastEMA[i] < slowEMA[i]
	}
	return r, nil
}

// rsiReversionRules buys oversold and sells overbought
func rsiReversionRules(params evolution.ParameterSet, prices []float64) (*rules, error) {
	period := params.Int("rsi_period")
	oversold, overbought := params.Float("oversold"), params.Float("overbought")
	if period < 2 {
		return nil, fmt.Errorf("%w: rsi_period must be at least 2", ErrInvalidParams)
	}
	if oversold >= overbought {
		return nil, fmt.Errorf("%w: oversold %v must be below overbought %v", ErrInvalidParams, oversold, overbought)
	}
	if period >= len(prices) {
		return nil, fmt.Errorf("%w: rsi_period %d needs more than %d bars", ErrInvalidParams, period, len(prices))
	}

	values := rsi(prices, period)

	r := newRules(len(prices), params)
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		r.entry[i] = v < oversold
		r.exit[i] = v > overbought
	}
	return r, nil
}

func newRules(n int, params evolution.ParameterSet) *rules {
	return &rules{
		entry:      make([]bool, n),
		exit:       make([]bool, n),
		stopLoss:   params.Float("stop_loss"),
		takeProfit: params.Float("take_profit"),
	}
}

func anyNaN(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
