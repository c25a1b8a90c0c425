package core

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrGateFired       = errors.New("gate already fired this phase")
	ErrUnexpectedInput = errors.New("input not required by gate")
	ErrDuplicateInput  = errors.New("input arrived twice in one phase")
)

// GateState is the per-phase state of a component's input gate.
type GateState int

const (
	GateEmpty GateState = iota
	GatePartial
	GateFired
)

func (s GateState) String() string {
	switch s {
	case GateEmpty:
		return "empty"
	case GatePartial:
		return "partial"
	case GateFired:
		return "fired"
	default:
		return fmt.Sprintf("gate(%d)", int(s))
	}
}

// Gate buffers same-phase inputs until every required sibling has arrived.
// It replaces "pending input" fields on components with an explicit arena
// that the cycle driver resets at each phase boundary.
type Gate[T any] struct {
	required []string
	arrived  map[string]T
	state    GateState
}

// NewGate returns a gate waiting for the named inputs. A gate with no
// required inputs is a root: it only fires through Trigger.
func NewGate[T any](required ...string) *Gate[T] {
	req := append([]string(nil), required...)
	sort.Strings(req)
	return &Gate[T]{required: req, arrived: make(map[string]T, len(req))}
}

// Offer buffers v for input. When it completes the set the gate moves to
// GateFired and returns the gathered inputs; the buffer is cleared.
func (g *Gate[T]) Offer(input string, v T) (map[string]T, bool, error) {
	if g.state == GateFired {
		return nil, false, fmt.Errorf("%w: %s", ErrGateFired, input)
	}
	if !g.requires(input) {
		return nil, false, fmt.Errorf("%w: %s", ErrUnexpectedInput, input)
	}
	if _, dup := g.arrived[input]; dup {
		return nil, false, fmt.Errorf("%w: %s", ErrDuplicateInput, input)
	}
	g.arrived[input] = v
	if len(g.arrived) < len(g.required) {
		g.state = GatePartial
		return nil, false, nil
	}
	out := g.arrived
	g.arrived = make(map[string]T, len(g.required))
	g.state = GateFired
	return out, true, nil
}

// Trigger fires a root gate once per phase.
func (g *Gate[T]) Trigger() bool {
	if !g.Root() || g.state == GateFired {
		return false
	}
	g.state = GateFired
	return true
}

// Reset returns the gate to GateEmpty and drops buffered inputs.
func (g *Gate[T]) Reset() {
	g.state = GateEmpty
	clear(g.arrived)
}

// State returns the gate state.
func (g *Gate[T]) State() GateState { return g.state }

// Fired reports whether the gate fired since the last Reset.
func (g *Gate[T]) Fired() bool { return g.state == GateFired }

// Root reports whether the gate has no required inputs.
func (g *Gate[T]) Root() bool { return len(g.required) == 0 }

// Required returns the sorted required input names.
func (g *Gate[T]) Required() []string {
	return append([]string(nil), g.required...)
}

// Missing returns the required inputs that have not arrived, sorted.
func (g *Gate[T]) Missing() []string {
	if g.state == GateFired {
		return nil
	}
	var out []string
	for _, r := range g.required {
		if _, ok := g.arrived[r]; !ok {
			out = append(out, r)
		}
	}
	return out
}

func (g *Gate[T]) requires(input string) bool {
	i := sort.SearchStrings(g.required, input)
	return i < len(g.required) && g.required[i] == input
}
