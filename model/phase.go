package model

import "fmt"

// Phase identifies one of the three propagation passes of a simulation cycle.
type Phase int

const (
	// BackIteration propagates boundary demands from sinks towards sources.
	BackIteration Phase = iota
	// Iteration is the steady-state hydraulic forward solve at fixed time.
	Iteration
	// TimeIteration integrates persistent state over the step and commits it.
	TimeIteration
)

// Phases lists the phases in the order a cycle executes them.
var Phases = [...]Phase{BackIteration, Iteration, TimeIteration}

func (p Phase) String() string {
	switch p {
	case BackIteration:
		return "back_iteration"
	case Iteration:
		return "iteration"
	case TimeIteration:
		return "time_iteration"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	return p >= BackIteration && p <= TimeIteration
}
