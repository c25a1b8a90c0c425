package core

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/propulsion-simulator/model"
)

var (
	ErrDuplicateComponent = errors.New("component already exists")
	ErrUnknownComponent   = errors.New("component not found")
	ErrUnknownPort        = errors.New("port not found")
	ErrPortDirection      = errors.New("port used in the wrong direction")
	ErrKindMismatch       = errors.New("connected ports carry different kinds")
	ErrFanOut             = errors.New("fluid output already connected")
	ErrInputTaken         = errors.New("input already connected")
	ErrNotInitialized     = errors.New("network not initialized")
	ErrAlreadyInitialized = errors.New("network already initialized")
	ErrUnknownKind        = errors.New("unknown component kind")

	ErrIncompletePhase  = errors.New("phase incomplete")
	ErrFlowSeparated    = errors.New("nozzle flow separated")
	ErrNoThrustSolution = errors.New("no thrust solution")
)

// ErrorClass groups simulation failures by how the driver handles them.
type ErrorClass int

const (
	// ClassNonConvergence is a solver that hit its cap; recovered locally.
	ClassNonConvergence ErrorClass = iota
	// ClassInvalidBoundary is a constrained boundary request; logged, not fatal.
	ClassInvalidBoundary
	// ClassUnphysical is a flagged flow condition (nozzle separation); the
	// only class that unwinds a phase.
	ClassUnphysical
	// ClassIncompletePhase is a component that never received all inputs.
	ClassIncompletePhase
	// ClassConfig is a topology or parameter problem found before running.
	ClassConfig
	// ClassInternal is anything else escaping a component callback.
	ClassInternal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNonConvergence:
		return "non_convergence"
	case ClassInvalidBoundary:
		return "invalid_boundary"
	case ClassUnphysical:
		return "unphysical"
	case ClassIncompletePhase:
		return "incomplete_phase"
	case ClassConfig:
		return "config"
	case ClassInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// SimError carries the originating component and phase of a failure.
type SimError struct {
	Class     ErrorClass
	Component string
	Phase     model.Phase
	Err       error
}

func (e *SimError) Error() string {
	return fmt.Sprintf("%s in %s during %s: %v", e.Class, e.Component, e.Phase, e.Err)
}

// Unwrap returns the underlying error.
func (e *SimError) Unwrap() error { return e.Err }

// ClassOf returns the class of the first SimError in err's chain, and false
// when there is none.
func ClassOf(err error) (ErrorClass, bool) {
	var se *SimError
	if errors.As(err, &se) {
		return se.Class, true
	}
	return 0, false
}

// IsUnphysical reports whether err carries a flagged flow condition.
func IsUnphysical(err error) bool {
	c, ok := ClassOf(err)
	return ok && c == ClassUnphysical
}
