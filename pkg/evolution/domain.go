// Parameter domains for strategy optimization
package evolution

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// ============================================================================
// DOMAIN DEFINITION
// ============================================================================

// DomainKind tags how a parameter is sampled
type DomainKind string

const (
	DomainInteger    DomainKind = "integer"
	DomainContinuous DomainKind = "continuous"
)

// DefaultPrecision is the number of decimals kept for continuous samples
const DefaultPrecision = 2

// Domain describes the valid values of one strategy parameter
type Domain interface {
	Kind() DomainKind
	Bounds() (lower, upper float64)
	Sample(rng *rand.Rand) float64
	Contains(v float64) bool
	Validate() error
}

// IntegerDomain is a quantized integer range: Lower, Lower+Step, ... <= Upper
type IntegerDomain struct {
	Lower int `json:"lower" yaml:"lower"`
	Upper int `json:"upper" yaml:"upper"`
	Step  int `json:"step" yaml:"step"`
}

func (d IntegerDomain) Kind() DomainKind { return DomainInteger }

func (d IntegerDomain) Bounds() (float64, float64) {
	return float64(d.Lower), float64(d.Upper)
}

// Sample draws k uniformly in [0, (Upper-Lower)/Step] and returns Lower + k*Step.
// Upper itself is only reachable when Upper-Lower is a multiple of Step.
func (d IntegerDomain) Sample(rng *rand.Rand) float64 {
	steps := (d.Upper - d.Lower) / d.Step
	k := rng.Intn(steps + 1)
	return float64(d.Lower + k*d.Step)
}

func (d IntegerDomain) Contains(v float64) bool {
	if v != math.Trunc(v) || v < float64(d.Lower) || v > float64(d.Upper) {
		return false
	}
	return (int(v)-d.Lower)%d.Step == 0
}

func (d IntegerDomain) Validate() error {
	if d.Step <= 0 {
		return fmt.Errorf("%w: step must be positive, got %d", ErrInvalidDomain, d.Step)
	}
	if d.Upper < d.Lower {
		return fmt.Errorf("%w: upper %d below lower %d", ErrInvalidDomain, d.Upper, d.Lower)
	}
	return nil
}

// ContinuousDomain is a real range sampled uniformly and rounded to Precision decimals
type ContinuousDomain struct {
	Lower     float64 `json:"lower" yaml:"lower"`
	Upper     float64 `json:"upper" yaml:"upper"`
	Precision int     `json:"precision" yaml:"precision"`
}

func (d ContinuousDomain) Kind() DomainKind { return DomainContinuous }

func (d ContinuousDomain) Bounds() (float64, float64) {
	return d.Lower, d.Upper
}

func (d ContinuousDomain) Sample(rng *rand.Rand) float64 {
	v := d.Lower + rng.Float64()*(d.Upper-d.Lower)
	v = roundTo(v, d.Precision)

	// rounding can push a draw just outside the range
	if v < d.Lower {
		v = d.Lower
	}
	if v > d.Upper {
		v = d.Upper
	}
	return v
}

func (d ContinuousDomain) Contains(v float64) bool {
	return !math.IsNaN(v) && v >= d.Lower && v <= d.Upper
}

func (d ContinuousDomain) Validate() error {
	if math.IsNaN(d.Lower) || math.IsNaN(d.Upper) || math.IsInf(d.Lower, 0) || math.IsInf(d.Upper, 0) {
		return fmt.Errorf("%w: bounds must be finite", ErrInvalidDomain)
	}
	if d.Upper < d.Lower {
		return fmt.Errorf("%w: upper %g below lower %g", ErrInvalidDomain, d.Upper, d.Lower)
	}
	if d.Precision < 0 || d.Precision > 10 {
		return fmt.Errorf("%w: precision must be within [0, 10], got %d", ErrInvalidDomain, d.Precision)
	}
	return nil
}

func roundTo(v float64, precision int) float64 {
	scale := math.Pow(10, float64(precision))
	return math.Round(v*scale) / scale
}

// ParameterDomain binds a parameter name to its domain
type ParameterDomain struct {
	Name   string `json:"name"`
	Domain Domain `json:"domain"`
}

// ============================================================================
// DOMAIN TABLE
// ============================================================================

// DomainTable is the read-only lookup of parameter domains per strategy type
type DomainTable interface {
	DomainsFor(strategyType string) ([]ParameterDomain, error)
}

// StaticDomainTable is an in-memory DomainTable keyed by strategy type
type StaticDomainTable map[string][]ParameterDomain

// DomainsFor returns a validated copy of the ordered domains of a strategy
func (t StaticDomainTable) DomainsFor(strategyType string) ([]ParameterDomain, error) {
	domains, ok := t[strategyType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy type %q", ErrEmptyDomain, strategyType)
	}
	if err := ValidateDomains(domains); err != nil {
		return nil, fmt.Errorf("strategy %q: %w", strategyType, err)
	}

	out := make([]ParameterDomain, len(domains))
	copy(out, domains)
	return out, nil
}

// Strategies lists the strategy types known to the table in sorted order
func (t StaticDomainTable) Strategies() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDomains rejects empty or malformed domain lists
func ValidateDomains(domains []ParameterDomain) error {
	if len(domains) == 0 {
		return ErrEmptyDomain
	}

	seen := make(map[string]bool, len(domains))
	for i, pd := range domains {
		if pd.Name == "" {
			return fmt.Errorf("%w: parameter %d has no name", ErrInvalidDomain, i)
		}
		if seen[pd.Name] {
			return fmt.Errorf("%w: duplicate parameter %q", ErrInvalidDomain, pd.Name)
		}
		seen[pd.Name] = true

		if pd.Domain == nil {
			return fmt.Errorf("%w: parameter %q has no domain", ErrInvalidDomain, pd.Name)
		}
		if err := pd.Domain.Validate(); err != nil {
			return fmt.Errorf("parameter %q: %w", pd.Name, err)
		}
	}
	return nil
}

// sampleParameters draws a full assignment, one parameter at a time in domain order
func sampleParameters(rng *rand.Rand, domains []ParameterDomain) ParameterSet {
	params := make(ParameterSet, len(domains))
	for _, pd := range domains {
		params[pd.Name] = pd.Domain.Sample(rng)
	}
	return params
}
