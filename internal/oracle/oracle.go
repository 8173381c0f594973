// Package oracle provides fitness oracles and decorators around them: an external
// backtest command, a redis result cache, a circuit breaker and a rate limiter.
package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/paramforge/internal/config"
	"github.com/ajitpratap0/paramforge/pkg/evolution"
)

// ErrBacktestFailed is returned when the backtest ran but reported a failure
var ErrBacktestFailed = errors.New("backtest failed")

// Request is the JSON document describing one backtest
type Request struct {
	Strategy string                 `json:"strategy"`
	Params   evolution.ParameterSet `json:"params"`
	Universe []string               `json:"universe,omitempty"`
	Start    *time.Time             `json:"start,omitempty"`
	End      *time.Time             `json:"end,omitempty"`
}

// Response is the JSON document a backtest answers with
type Response struct {
	TotalReturn float64 `json:"total_return"`
	SharpeRatio float64 `json:"sharpe_ratio"`
	MaxDrawdown float64 `json:"max_drawdown"`
	WinRate     float64 `json:"win_rate"`
	Error       string  `json:"error,omitempty"`
}

// NewRequest builds the request document of one evaluation
func NewRequest(strategyType string, params evolution.ParameterSet, evalCtx evolution.EvaluationContext) Request {
	req := Request{
		Strategy: strategyType,
		Params:   params,
		Universe: evalCtx.Universe,
	}
	if !evalCtx.Start.IsZero() {
		start := evalCtx.Start.UTC()
		req.Start = &start
	}
	if !evalCtx.End.IsZero() {
		end := evalCtx.End.UTC()
		req.End = &end
	}
	return req
}

// Metrics converts the response into evolution metrics
func (r Response) Metrics() (evolution.Metrics, error) {
	if r.Error != "" {
		return evolution.Metrics{}, errors.Join(ErrBacktestFailed, errors.New(r.Error))
	}
	m := evolution.Metrics{
		TotalReturn: r.TotalReturn,
		SharpeRatio: r.SharpeRatio,
		MaxDrawdown: r.MaxDrawdown,
		WinRate:     r.WinRate,
	}
	return m, m.Validate()
}

// Chain wraps base with the decorators enabled in cfg.
// Calls go cache -> rate limiter -> circuit breaker -> base, so cache hits are never throttled.
// rdb may be nil when caching is disabled.
func Chain(base evolution.FitnessOracle, cfg config.OracleConfig, rdb *redis.Client) evolution.FitnessOracle {
	o := base

	if cfg.Breaker.Enabled {
		o = NewBreakerOracle(o, "oracle", BreakerSettings{
			MaxRequests:  cfg.Breaker.MaxRequests,
			Interval:     cfg.Breaker.Interval,
			Timeout:      cfg.Breaker.Timeout,
			MinRequests:  cfg.Breaker.MinRequests,
			FailureRatio: cfg.Breaker.FailureRatio,
		})
	}

	if cfg.RateLimit.Enabled {
		o = NewRateLimitedOracle(o, cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}

	if cfg.Cache.Enabled && rdb != nil {
		o = NewCachedOracle(o, rdb, cfg.Cache.TTL, cfg.Cache.Prefix)
	}

	return o
}

// IsBreakerRejection reports whether err came from an open or saturated circuit breaker
func IsBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// evaluate is a convenience for decorators that need to call through context-aware oracles
func evaluate(ctx context.Context, o evolution.FitnessOracle, strategyType string, params evolution.ParameterSet, evalCtx evolution.EvaluationContext) (evolution.Metrics, error) {
	if err := ctx.Err(); err != nil {
		return evolution.Metrics{}, err
	}
	return o.Evaluate(ctx, strategyType, params, evalCtx)
}
