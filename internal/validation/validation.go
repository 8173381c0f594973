// Package validation checks and normalizes user supplied optimization input
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// MaxUniverseSize bounds the number of symbols a single run may backtest
const MaxUniverseSize = 50

var (
	symbolRegex       = regexp.MustCompile(`^[A-Z0-9]{2,20}$`)
	strategyNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return "validation errors: " + strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator collects field errors
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// AddError adds a validation error
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Message: message,
	})
}

// Errors returns all validation errors
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

// HasErrors returns true if there are validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Err returns the collected errors, or nil when there are none
func (v *Validator) Err() error {
	if !v.HasErrors() {
		return nil
	}
	return v.errors
}

// Required validates that a string is not empty
func (v *Validator) Required(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "is required")
	}
}

// MaxLength validates maximum string length
func (v *Validator) MaxLength(field, value string, max int) {
	if len(value) > max {
		v.AddError(field, fmt.Sprintf("must be at most %d characters", max))
	}
}

// OneOf validates that a value is one of the allowed values
func (v *Validator) OneOf(field, value string, allowed []string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.AddError(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")))
}

// UUID validates UUID format
func (v *Validator) UUID(field, value string) {
	if _, err := uuid.Parse(value); err != nil {
		v.AddError(field, "must be a valid UUID")
	}
}

// Symbol validates an exchange symbol in its normalized form (e.g., BTCUSDT)
func (v *Validator) Symbol(field, value string) {
	if !symbolRegex.MatchString(value) {
		v.AddError(field, "must be a valid symbol (e.g., BTCUSDT)")
	}
}

// StrategyName validates a strategy type identifier (e.g., ema_crossover)
func (v *Validator) StrategyName(field, value string) {
	if !strategyNameRegex.MatchString(value) {
		v.AddError(field, "must be lowercase letters, digits and underscores")
	}
}

// ============================================================================
// OPTIMIZATION REQUESTS
// ============================================================================

// OptimizationRequestValidator validates the inputs of an optimization run
type OptimizationRequestValidator struct {
	*Validator
}

// NewOptimizationRequestValidator creates a new request validator
func NewOptimizationRequestValidator() *OptimizationRequestValidator {
	return &OptimizationRequestValidator{
		Validator: NewValidator(),
	}
}

// ValidateStrategy checks the strategy name and, when known is non-empty,
// that it is one of the known strategies
func (v *OptimizationRequestValidator) ValidateStrategy(strategy string, known []string) {
	v.Required("strategy", strategy)
	if strategy == "" {
		return
	}
	v.StrategyName("strategy", strategy)
	if len(known) > 0 {
		v.OneOf("strategy", strategy, known)
	}
}

// ValidateUniverse checks every symbol of the universe. Symbols are expected
// to be normalized with SanitizeSymbol first.
func (v *OptimizationRequestValidator) ValidateUniverse(universe []string) {
	if len(universe) == 0 {
		v.AddError("universe", "must contain at least one symbol")
		return
	}
	if len(universe) > MaxUniverseSize {
		v.AddError("universe", fmt.Sprintf("must contain at most %d symbols", MaxUniverseSize))
	}

	seen := make(map[string]bool, len(universe))
	for i, symbol := range universe {
		field := fmt.Sprintf("universe[%d]", i)
		v.Symbol(field, symbol)
		if seen[symbol] {
			v.AddError(field, fmt.Sprintf("duplicate symbol %s", symbol))
		}
		seen[symbol] = true
	}
}

// ============================================================================
// SANITIZATION
// ============================================================================

// SanitizeInput sanitizes user input to prevent injection attacks
func SanitizeInput(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	input = strings.TrimSpace(input)

	// Limit length to prevent DoS
	if len(input) > 10000 {
		input = input[:10000]
	}

	return input
}

// SanitizeSymbol normalizes a symbol to the candle store form: BTC/USDT,
// btc-usdt and " btcusdt " all become BTCUSDT
func SanitizeSymbol(symbol string) string {
	symbol = strings.ToUpper(SanitizeInput(symbol))
	return strings.NewReplacer(" ", "", "/", "", "-", "", "_", "").Replace(symbol)
}

// SanitizeSymbols normalizes every symbol, dropping empty entries
func SanitizeSymbols(symbols []string) []string {
	result := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if normalized := SanitizeSymbol(s); normalized != "" {
			result = append(result, normalized)
		}
	}
	return result
}
