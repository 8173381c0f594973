package evolution

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ============================================================================
// PARAMETER SET
// ============================================================================

// ParameterSet maps parameter names to values. Integer parameters hold integral values.
type ParameterSet map[string]float64

// Clone creates a deep copy of the parameter set
func (ps ParameterSet) Clone() ParameterSet {
	clone := make(ParameterSet, len(ps))
	for k, v := range ps {
		clone[k] = v
	}
	return clone
}

// Equal reports whether both sets hold bit-for-bit identical values
func (ps ParameterSet) Equal(other ParameterSet) bool {
	if len(ps) != len(other) {
		return false
	}
	for k, v := range ps {
		ov, ok := other[k]
		if !ok || math.Float64bits(v) != math.Float64bits(ov) {
			return false
		}
	}
	return true
}

// Int returns an integer parameter
func (ps ParameterSet) Int(name string) int {
	return int(ps[name])
}

// Float returns a continuous parameter
func (ps ParameterSet) Float(name string) float64 {
	return ps[name]
}

// Keys returns the parameter names in sorted order
func (ps ParameterSet) Keys() []string {
	keys := make([]string, 0, len(ps))
	for k := range ps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the set as "a=1, b=0.25" with sorted keys
func (ps ParameterSet) String() string {
	parts := make([]string, 0, len(ps))
	for _, k := range ps.Keys() {
		parts = append(parts, fmt.Sprintf("%s=%g", k, ps[k]))
	}
	return strings.Join(parts, ", ")
}

// ============================================================================
// METRICS
// ============================================================================

// Metrics are the backtest results returned by a FitnessOracle.
// Returns and win rate are fractions; MaxDrawdown is signed or a magnitude.
type Metrics struct {
	TotalReturn float64 `json:"total_return"`
	SharpeRatio float64 `json:"sharpe_ratio"`
	MaxDrawdown float64 `json:"max_drawdown"`
	WinRate     float64 `json:"win_rate"`
}

// Validate rejects metrics that cannot be scored
func (m Metrics) Validate() error {
	for name, v := range map[string]float64{
		"total_return": m.TotalReturn,
		"sharpe_ratio": m.SharpeRatio,
		"max_drawdown": m.MaxDrawdown,
		"win_rate":     m.WinRate,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("metric %s is not finite: %v", name, v)
		}
	}
	return nil
}

// ============================================================================
// CANDIDATE
// ============================================================================

// Candidate is one point in parameter space. It is never modified after scoring;
// reproduction always creates new candidates.
type Candidate struct {
	ID         uuid.UUID    `json:"id"`
	Generation int          `json:"generation"`
	Params     ParameterSet `json:"params"`
	Fitness    float64      `json:"fitness"`
	Scored     bool         `json:"scored"`
	Failed     bool         `json:"failed"`
	Metrics    *Metrics     `json:"metrics,omitempty"`
}

func newCandidate(generation int, params ParameterSet) *Candidate {
	return &Candidate{
		ID:         uuid.New(),
		Generation: generation,
		Params:     params,
	}
}

// withScore returns a scored copy of the candidate
func (c *Candidate) withScore(fitness float64, metrics *Metrics, failed bool) *Candidate {
	scored := *c
	scored.Params = c.Params.Clone()
	scored.Fitness = fitness
	scored.Metrics = metrics
	scored.Failed = failed
	scored.Scored = true
	return &scored
}

// ============================================================================
// POPULATION
// ============================================================================

// Population is one generation of candidates for a strategy
type Population struct {
	Strategy   string       `json:"strategy"`
	Generation int          `json:"generation"`
	Candidates []*Candidate `json:"candidates"`
}

// Size returns the number of candidates
func (p *Population) Size() int {
	return len(p.Candidates)
}

// IsScored reports whether every candidate has been evaluated
func (p *Population) IsScored() bool {
	for _, c := range p.Candidates {
		if !c.Scored {
			return false
		}
	}
	return len(p.Candidates) > 0
}

// SortByFitness orders candidates by descending fitness
func (p *Population) SortByFitness() {
	sort.SliceStable(p.Candidates, func(i, j int) bool {
		return p.Candidates[i].Fitness > p.Candidates[j].Fitness
	})
}

// Best returns the highest-fitness candidate, or nil for an empty population
func (p *Population) Best() *Candidate {
	var best *Candidate
	for _, c := range p.Candidates {
		if best == nil || c.Fitness > best.Fitness {
			best = c
		}
	}
	return best
}

// MaxFitness returns the best fitness in the population
func (p *Population) MaxFitness() float64 {
	if best := p.Best(); best != nil {
		return best.Fitness
	}
	return 0
}

// MeanFitness calculates average fitness score
func (p *Population) MeanFitness() float64 {
	if len(p.Candidates) == 0 {
		return 0
	}

	sum := 0.0
	for _, c := range p.Candidates {
		sum += c.Fitness
	}

	return sum / float64(len(p.Candidates))
}

// FailedCount returns how many candidates received the sentinel fitness
func (p *Population) FailedCount() int {
	n := 0
	for _, c := range p.Candidates {
		if c.Failed {
			n++
		}
	}
	return n
}
