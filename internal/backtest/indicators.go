package backtest

import (
	"math"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
)

// ema returns the exponential moving average aligned with prices.
// Bars before the indicator has warmed up are NaN.
func ema(prices []float64, period int) []float64 {
	return align(len(prices), trend.NewEmaWithPeriod[float64](period).Compute(feed(prices)))
}

// rsi returns the relative strength index aligned with prices, NaN during warm-up
func rsi(prices []float64, period int) []float64 {
	return align(len(prices), momentum.NewRsiWithPeriod[float64](period).Compute(feed(prices)))
}

func feed(prices []float64) <-chan float64 {
	ch := make(chan float64, len(prices))
	for _, p := range prices {
		ch <- p
	}
	close(ch)
	return ch
}

// align drains an indicator stream, which skips its idle period, and right-aligns it to n bars
func align(n int, values <-chan float64) []float64 {
	var computed []float64
	for v := range values {
		computed = append(computed, v)
	}

	out := make([]float64, n)
	offset := n - len(computed)
	for i := range out {
		if i < offset {
			out[i] = math.NaN()
		} else {
			out[i] = computed[i-offset]
		}
	}
	return out
}
