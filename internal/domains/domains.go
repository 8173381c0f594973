// Package domains loads, validates and exports parameter domain tables.
//
// A table file declares, per strategy type, the ordered list of tunable parameters with
// their bounds and granularity:
//
//	schema_version: "1.0"
//	strategies:
//	  ema_crossover:
//	    - {name: fast_period, type: integer, lower: 5, upper: 50, step: 5}
//	    - {name: stop_loss, type: continuous, lower: 0.01, upper: 0.1, precision: 2}
package domains

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/paramforge/pkg/evolution"
)

// SchemaVersion is the table schema version written by Export
const SchemaVersion = "1.0"

// supportedSchemas is the range of schema versions Parse accepts
const supportedSchemas = "^1.0"

// Entry types
const (
	TypeInteger    = "integer"
	TypeContinuous = "continuous"
)

var (
	ErrUnsupportedSchema = errors.New("unsupported domain schema version")
	ErrMalformedEntry    = errors.New("malformed domain entry")
)

// File is the on-disk form of a domain table
type File struct {
	SchemaVersion string             `yaml:"schema_version" json:"schema_version"`
	Strategies    map[string][]Entry `yaml:"strategies" json:"strategies"`
}

// Entry is one parameter's domain
type Entry struct {
	Name  string  `yaml:"name" json:"name"`
	Type  string  `yaml:"type" json:"type"`
	Lower float64 `yaml:"lower" json:"lower"`
	Upper float64 `yaml:"upper" json:"upper"`
	Step  float64 `yaml:"step,omitempty" json:"step,omitempty"`
	// Precision is nil when unset so an explicit 0 survives a round trip
	Precision *int `yaml:"precision,omitempty" json:"precision,omitempty"`
}

// Load reads a domain table from a YAML file
func Load(path string) (evolution.StaticDomainTable, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("failed to read domain file: %w", err)
	}

	table, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}

// Parse decodes and validates a YAML domain table
func Parse(data []byte) (evolution.StaticDomainTable, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty domain data")
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse domain YAML: %w", err)
	}

	if err := CheckSchema(f.SchemaVersion); err != nil {
		return nil, err
	}
	if len(f.Strategies) == 0 {
		return nil, fmt.Errorf("%w: no strategies declared", evolution.ErrEmptyDomain)
	}

	table := make(evolution.StaticDomainTable, len(f.Strategies))
	for strategy, entries := range f.Strategies {
		domains, err := toDomains(entries)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", strategy, err)
		}
		table[strategy] = domains
	}

	return table, nil
}

// CheckSchema verifies that version is one Parse understands
func CheckSchema(version string) error {
	if version == "" {
		return fmt.Errorf("%w: missing schema_version", ErrUnsupportedSchema)
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: %q is not a version", ErrUnsupportedSchema, version)
	}

	constraint, err := semver.NewConstraint(supportedSchemas)
	if err != nil {
		return fmt.Errorf("invalid schema constraint: %w", err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrUnsupportedSchema, version, supportedSchemas)
	}

	return nil
}

func toDomains(entries []Entry) ([]evolution.ParameterDomain, error) {
	if len(entries) == 0 {
		return nil, evolution.ErrEmptyDomain
	}

	seen := make(map[string]bool, len(entries))
	domains := make([]evolution.ParameterDomain, 0, len(entries))
	for i, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("%w: entry %d has no name", ErrMalformedEntry, i)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("%w: duplicate parameter %s", ErrMalformedEntry, e.Name)
		}
		seen[e.Name] = true

		d, err := e.Domain()
		if err != nil {
			return nil, err
		}
		domains = append(domains, evolution.ParameterDomain{Name: e.Name, Domain: d})
	}

	if err := evolution.ValidateDomains(domains); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEntry, err)
	}
	return domains, nil
}

// Domain converts the entry into its tagged domain variant
func (e Entry) Domain() (evolution.Domain, error) {
	switch e.Type {
	case TypeInteger:
		if e.Lower != float64(int(e.Lower)) || e.Upper != float64(int(e.Upper)) || e.Step != float64(int(e.Step)) {
			return nil, fmt.Errorf("%w: %s has non-integer bounds or step", ErrMalformedEntry, e.Name)
		}
		return evolution.IntegerDomain{Lower: int(e.Lower), Upper: int(e.Upper), Step: int(e.Step)}, nil
	case TypeContinuous:
		precision := evolution.DefaultPrecision
		if e.Precision != nil {
			precision = *e.Precision
		}
		return evolution.ContinuousDomain{Lower: e.Lower, Upper: e.Upper, Precision: precision}, nil
	default:
		return nil, fmt.Errorf("%w: %s has unknown type %q", ErrMalformedEntry, e.Name, e.Type)
	}
}

// FromTable converts a domain table into its file form
func FromTable(table evolution.StaticDomainTable) File {
	f := File{
		SchemaVersion: SchemaVersion,
		Strategies:    make(map[string][]Entry, len(table)),
	}

	for strategy, domains := range table {
		entries := make([]Entry, 0, len(domains))
		for _, pd := range domains {
			entries = append(entries, EntryFor(pd))
		}
		f.Strategies[strategy] = entries
	}
	return f
}

// EntryFor converts one parameter domain into its file form
func EntryFor(pd evolution.ParameterDomain) Entry {
	switch d := pd.Domain.(type) {
	case evolution.IntegerDomain:
		return Entry{
			Name:  pd.Name,
			Type:  TypeInteger,
			Lower: float64(d.Lower),
			Upper: float64(d.Upper),
			Step:  float64(d.Step),
		}
	case evolution.ContinuousDomain:
		return Entry{
			Name:      pd.Name,
			Type:      TypeContinuous,
			Lower:     d.Lower,
			Upper:     d.Upper,
			Precision: &d.Precision,
		}
	default:
		lower, upper := pd.Domain.Bounds()
		return Entry{Name: pd.Name, Type: string(pd.Domain.Kind()), Lower: lower, Upper: upper}
	}
}

// Export serializes a domain table to YAML. Strategies come out in name order.
func Export(table evolution.StaticDomainTable) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# paramforge parameter domains\n")

	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(FromTable(table)); err != nil {
		return nil, fmt.Errorf("failed to encode domain table to YAML: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("failed to close YAML encoder: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToFile writes a domain table to path with restrictive permissions
func ExportToFile(table evolution.StaticDomainTable, path string) error {
	data, err := Export(table)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write domain file: %w", err)
	}
	return nil
}
