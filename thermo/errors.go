// Package thermo holds the stateless numerical kernels used by the physical
// components: polynomial correlations, friction and convection correlations,
// helium real-gas properties, the nozzle exit-pressure solve and the secant
// split-factor update. Nothing in this package keeps mutable state.
package thermo

import (
	"errors"
	"fmt"
)

var (
	// ErrNoConvergence indicates an iterative solver hit its iteration cap.
	ErrNoConvergence = errors.New("solver did not converge")
	// ErrInvalidInput indicates arguments outside the correlation's domain.
	ErrInvalidInput = errors.New("invalid solver input")
)

// ConvergenceError describes a solver that stopped at its iteration cap.
// The accompanying return value is the solver's best or fallback estimate.
type ConvergenceError struct {
	Solver     string
	Iterations int
	Residual   float64
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("%s: no convergence after %d iterations (residual %g)", e.Solver, e.Iterations, e.Residual)
}

// Unwrap lets callers match ErrNoConvergence with errors.Is.
func (e *ConvergenceError) Unwrap() error { return ErrNoConvergence }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidInput}, args...)...)
}
