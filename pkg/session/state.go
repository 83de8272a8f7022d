package session

import (
	"fmt"

	"decayindex/internal/models"
)

// State is the stage a session has reached. Each operation requires a
// minimum stage and moves the session forward.
type State int

const (
	Uninitialized State = iota
	SourcesSet
	Cropped
	Reconstructed
	Sampled
	Extracted
)

var stateNames = [...]string{
	Uninitialized: "uninitialized",
	SourcesSet:    "sources-set",
	Cropped:       "cropped",
	Reconstructed: "reconstructed",
	Sampled:       "sampled",
	Extracted:     "extracted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// require reports a state error unless the session is in one of allowed.
func (s State) require(op string, allowed ...State) error {
	for _, a := range allowed {
		if s == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %s not allowed in state %s", models.ErrState, op, s)
}

// atLeast reports a state error unless the session has reached min.
func (s State) atLeast(op string, min State) error {
	if s >= min {
		return nil
	}
	if min >= Reconstructed {
		return fmt.Errorf("%s in state %s: %w", op, s, models.ErrNotReconstructed)
	}
	return fmt.Errorf("%w: %s requires state %s, session is %s", models.ErrState, op, min, s)
}
