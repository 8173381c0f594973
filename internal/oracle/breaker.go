package oracle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/paramforge/pkg/evolution"
)

// Breaker defaults
const (
	DefaultMinRequests     = 5
	DefaultFailureRatio    = 0.6
	DefaultOpenTimeout     = 30 * time.Second
	DefaultHalfOpenMaxReqs = 3
	DefaultCountInterval   = time.Minute

	// Metric result labels
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultRejected = "rejected"
)

// BreakerSettings configures a BreakerOracle
type BreakerSettings struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

// breakerMetrics holds Prometheus metrics for oracle circuit breakers
type breakerMetrics struct {
	state    *prometheus.GaugeVec
	requests *prometheus.CounterVec
}

var (
	globalBreakerMetrics *breakerMetrics
	breakerMetricsOnce   sync.Once
)

func initBreakerMetrics() *breakerMetrics {
	breakerMetricsOnce.Do(func() {
		globalBreakerMetrics = &breakerMetrics{
			state: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "paramforge_oracle_breaker_state",
					Help: "Oracle circuit breaker state (0=closed, 1=open, 2=half_open)",
				},
				[]string{"breaker"},
			),
			requests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "paramforge_oracle_breaker_requests_total",
					Help: "Oracle calls through the circuit breaker by result",
				},
				[]string{"breaker", "result"},
			),
		}
	})
	return globalBreakerMetrics
}

// BreakerOracle stops calling a failing backtest for a while once its failure ratio
// trips the breaker. Rejected calls surface as errors, so the candidate gets the
// sentinel fitness.
type BreakerOracle struct {
	next    evolution.FitnessOracle
	name    string
	cb      *gobreaker.CircuitBreaker
	metrics *breakerMetrics
}

// NewBreakerOracle wraps next with a circuit breaker. Zero settings take the defaults.
func NewBreakerOracle(next evolution.FitnessOracle, name string, s BreakerSettings) *BreakerOracle {
	if s.MaxRequests == 0 {
		s.MaxRequests = DefaultHalfOpenMaxReqs
	}
	if s.Timeout == 0 {
		s.Timeout = DefaultOpenTimeout
	}
	if s.Interval == 0 {
		s.Interval = DefaultCountInterval
	}
	if s.MinRequests == 0 {
		s.MinRequests = DefaultMinRequests
	}
	if s.FailureRatio == 0 {
		s.FailureRatio = DefaultFailureRatio
	}

	b := &BreakerOracle{
		next:    next,
		name:    name,
		metrics: initBreakerMetrics(),
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= s.MinRequests && failureRatio >= s.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Oracle circuit breaker state changed")
			b.updateState(to)
		},
		// a cancelled run says nothing about the backtest's health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	b.updateState(b.cb.State())

	return b
}

// Evaluate implements evolution.FitnessOracle
func (b *BreakerOracle) Evaluate(ctx context.Context, strategyType string, params evolution.ParameterSet, evalCtx evolution.EvaluationContext) (evolution.Metrics, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return evaluate(ctx, b.next, strategyType, params, evalCtx)
	})

	switch {
	case err == nil:
		b.metrics.requests.WithLabelValues(b.name, ResultSuccess).Inc()
		return res.(evolution.Metrics), nil
	case IsBreakerRejection(err):
		b.metrics.requests.WithLabelValues(b.name, ResultRejected).Inc()
	default:
		b.metrics.requests.WithLabelValues(b.name, ResultFailure).Inc()
	}
	return evolution.Metrics{}, err
}

// State returns the current breaker state
func (b *BreakerOracle) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerOracle) updateState(state gobreaker.State) {
	var stateValue float64
	switch state {
	case gobreaker.StateClosed:
		stateValue = 0
	case gobreaker.StateOpen:
		stateValue = 1
	case gobreaker.StateHalfOpen:
		stateValue = 2
	}
	b.metrics.state.WithLabelValues(b.name).Set(stateValue)
}
