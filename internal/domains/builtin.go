package domains

import "github.com/ajitpratap0/paramforge/pkg/evolution"

// Built-in strategy types
const (
	StrategyEMACrossover = "ema_crossover"
	StrategyRSIReversion = "rsi_reversion"
)

// Builtin returns the domain table of the strategies the local backtester implements
func Builtin() evolution.StaticDomainTable {
	return evolution.StaticDomainTable{
		StrategyEMACrossover: {
			{Name: "fast_period", Domain: evolution.IntegerDomain{Lower: 5, Upper: 50, Step: 5}},
			{Name: "slow_period", Domain: evolution.IntegerDomain{Lower: 20, Upper: 200, Step: 10}},
			{Name: "stop_loss", Domain: evolution.ContinuousDomain{Lower: 0.01, Upper: 0.10, Precision: 2}},
			{Name: "take_profit", Domain: evolution.ContinuousDomain{Lower: 0.02, Upper: 0.20, Precision: 2}},
		},
		StrategyRSIReversion: {
			{Name: "rsi_period", Domain: evolution.IntegerDomain{Lower: 7, Upper: 28, Step: 1}},
			{Name: "oversold", Domain: evolution.IntegerDomain{Lower: 15, Upper: 40, Step: 5}},
			{Name: "overbought", Domain: evolution.IntegerDomain{Lower: 60, Upper: 85, Step: 5}},
			{Name: "stop_loss", Domain: evolution.ContinuousDomain{Lower: 0.01, Upper: 0.10, Precision: 2}},
		},
	}
}

// LoadOrBuiltin loads the table at path, or returns the built-in table when path is empty
func LoadOrBuiltin(path string) (evolution.StaticDomainTable, error) {
	if path == "" {
		return Builtin(), nil
	}
	return Load(path)
}
