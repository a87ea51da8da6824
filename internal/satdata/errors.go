package satdata

import "errors"

// Error categories. Callers match them with errors.Is; every returned error
// wraps exactly one of these with context.
var (
	// ErrSchema reports an unknown or inactive variable, a length mismatch or
	// an invalid position component.
	ErrSchema = errors.New("schema violation")

	// ErrMissingPrerequisite reports an operation that needs data, usually
	// spacecraft positions, that has not been loaded.
	ErrMissingPrerequisite = errors.New("missing prerequisite data")

	// ErrDataQuality reports input too sparse to produce a result.
	ErrDataQuality = errors.New("insufficient valid data")

	// ErrPrecondition reports an unordered time axis or a range too short for
	// the requested operation.
	ErrPrecondition = errors.New("precondition violated")
)
