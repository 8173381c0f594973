package evolution

import "errors"

var (
	// ErrInvalidConfig is returned when an evolution config fails validation
	ErrInvalidConfig = errors.New("invalid evolution config")

	// ErrEmptyDomain is returned when a strategy has no parameter domains
	ErrEmptyDomain = errors.New("empty parameter domain")

	// ErrInvalidDomain is returned for malformed parameter domains
	ErrInvalidDomain = errors.New("invalid parameter domain")

	// ErrInvalidContext is returned when an evaluation context is unusable
	ErrInvalidContext = errors.New("invalid evaluation context")

	// ErrUnscoredPopulation is returned when reproduction gets an unevaluated population
	ErrUnscoredPopulation = errors.New("population has unscored candidates")

	// ErrSelectionPool is returned when the population cannot fill the parent pool
	ErrSelectionPool = errors.New("population smaller than selection pool")

	// ErrIllegalTransition is returned when the driver state machine is misused
	ErrIllegalTransition = errors.New("illegal evolution state transition")
)
