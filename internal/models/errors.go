package models

import (
	"errors"
	"fmt"
)

// Error kinds reported to the operator. Components wrap these with %w so
// callers can branch on errors.Is.
var (
	// ErrAcquisition covers missing or unreadable inputs.
	ErrAcquisition = errors.New("acquisition error")

	// ErrGeometry covers malformed reconstruction input, crops outside the
	// raster and clicks outside the decay-index grid.
	ErrGeometry = errors.New("geometry error")

	// ErrNumerical covers non-finite decay indices and solver failures.
	ErrNumerical = errors.New("numerical error")

	// ErrState covers operations requested before their prerequisites.
	ErrState = errors.New("state error")
)

var (
	ErrOutOfRange       = fmt.Errorf("%w: index out of range", ErrGeometry)
	ErrNonFinite        = fmt.Errorf("%w: non-finite value", ErrNumerical)
	ErrNoConvergence    = fmt.Errorf("%w: root finder did not converge", ErrNumerical)
	ErrEmptyPopulation  = fmt.Errorf("%w: no samples collected", ErrState)
	ErrNotReconstructed = fmt.Errorf("%w: reconstruction has not finished", ErrState)
)
