package evolution

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Config holds the run parameters of the genetic optimizer
type Config struct {
	PopulationSize   int     `json:"population_size" mapstructure:"population_size"`
	GenerationCount  int     `json:"generation_count" mapstructure:"generation_count"`
	MutationRate     float64 `json:"mutation_rate" mapstructure:"mutation_rate"`           // per-child mutation gate
	GeneMutationRate float64 `json:"gene_mutation_rate" mapstructure:"gene_mutation_rate"` // per-parameter resample once gated
	CrossoverRate    float64 `json:"crossover_rate" mapstructure:"crossover_rate"`         // 1.0 = always cross
	EliteRatio       float64 `json:"elite_ratio" mapstructure:"elite_ratio"`

	SelectionPoolSize int           `json:"selection_pool_size" mapstructure:"selection_pool_size"` // truncation selection pool
	Parallelism       int           `json:"parallelism" mapstructure:"parallelism"`
	EvaluationTimeout time.Duration `json:"evaluation_timeout" mapstructure:"evaluation_timeout"`
	Seed              int64         `json:"seed" mapstructure:"seed"` // 0 = time-based
}

// Defaults used by DefaultConfig
const (
	DefaultPopulationSize    = 20
	DefaultGenerationCount   = 10
	DefaultMutationRate      = 0.2
	DefaultGeneMutationRate  = 0.3
	DefaultCrossoverRate     = 1.0
	DefaultEliteRatio        = 0.2
	DefaultSelectionPoolSize = 5
	DefaultParallelism       = 4
	DefaultEvaluationTimeout = 5 * time.Minute
)

// DefaultConfig returns a reasonable default configuration
func DefaultConfig() Config {
	return Config{
		PopulationSize:    DefaultPopulationSize,
		GenerationCount:   DefaultGenerationCount,
		MutationRate:      DefaultMutationRate,
		GeneMutationRate:  DefaultGeneMutationRate,
		CrossoverRate:     DefaultCrossoverRate,
		EliteRatio:        DefaultEliteRatio,
		SelectionPoolSize: DefaultSelectionPoolSize,
		Parallelism:       DefaultParallelism,
		EvaluationTimeout: DefaultEvaluationTimeout,
	}
}

// EliteCount is ceil(PopulationSize*EliteRatio), at least 1 and at most PopulationSize
func (c Config) EliteCount() int {
	n := int(math.Ceil(float64(c.PopulationSize) * c.EliteRatio))
	if n < 1 {
		n = 1
	}
	if n > c.PopulationSize {
		n = c.PopulationSize
	}
	return n
}

// ConfigError describes one invalid config field
type ConfigError struct {
	Field   string
	Message string
}

// ConfigErrors collects every problem found by Validate
type ConfigErrors []ConfigError

func (ce ConfigErrors) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s: %d error(s)", ErrInvalidConfig.Error(), len(ce)))
	for _, e := range ce {
		sb.WriteString(fmt.Sprintf("; %s: %s", e.Field, e.Message))
	}
	return sb.String()
}

// Unwrap lets callers match ErrInvalidConfig with errors.Is
func (ce ConfigErrors) Unwrap() error {
	return ErrInvalidConfig
}

// Validate checks the config before a run starts
func (c Config) Validate() error {
	var errs ConfigErrors

	if c.PopulationSize < 1 {
		errs = append(errs, ConfigError{"population_size", fmt.Sprintf("must be at least 1, got %d", c.PopulationSize)})
	}
	if c.GenerationCount < 1 {
		errs = append(errs, ConfigError{"generation_count", fmt.Sprintf("must be at least 1, got %d", c.GenerationCount)})
	}

	for _, r := range []struct {
		field string
		value float64
	}{
		{"mutation_rate", c.MutationRate},
		{"gene_mutation_rate", c.GeneMutationRate},
		{"crossover_rate", c.CrossoverRate},
		{"elite_ratio", c.EliteRatio},
	} {
		if math.IsNaN(r.value) || r.value < 0 || r.value > 1 {
			errs = append(errs, ConfigError{r.field, fmt.Sprintf("must be within [0, 1], got %v", r.value)})
		}
	}

	if c.SelectionPoolSize < 2 {
		errs = append(errs, ConfigError{"selection_pool_size", fmt.Sprintf("must be at least 2, got %d", c.SelectionPoolSize)})
	}
	if c.Parallelism < 1 {
		errs = append(errs, ConfigError{"parallelism", fmt.Sprintf("must be at least 1, got %d", c.Parallelism)})
	}
	if c.EvaluationTimeout < 0 {
		errs = append(errs, ConfigError{"evaluation_timeout", "must not be negative"})
	}

	// children are only bred when elites do not fill the population
	if c.PopulationSize >= 1 && c.EliteCount() < c.PopulationSize && c.PopulationSize < c.SelectionPoolSize {
		errs = append(errs, ConfigError{
			"population_size",
			fmt.Sprintf("must be at least the selection pool size %d when children are bred, got %d", c.SelectionPoolSize, c.PopulationSize),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
