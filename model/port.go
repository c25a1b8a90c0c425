package model

import (
	"errors"
	"fmt"
	"math"
)

// Unconstrained marks a boundary field the requesting component leaves open.
const Unconstrained = -999999.99

// ErrConstrainedBoundary is reported when a boundary request carries a
// pressure or temperature value. Only mass-flow requests travel upstream.
var ErrConstrainedBoundary = errors.New("boundary request constrains pressure or temperature")

// PortKind classifies the payload carried across a connection.
type PortKind int

const (
	// KindFluid carries fluid state downstream and boundary demands upstream.
	KindFluid PortKind = iota
	// KindAnalog carries a single scalar control or sensor value.
	KindAnalog
	// KindForce carries mechanical loads, e.g. engine thrust to the structure.
	KindForce
)

func (k PortKind) String() string {
	switch k {
	case KindFluid:
		return "fluid"
	case KindAnalog:
		return "analog"
	case KindForce:
		return "force"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Port is a value exchanged between components. Implementations are plain
// value types so every subscriber receives its own copy.
type Port interface {
	PortKind() PortKind
}

// FluidPort is the state of a fluid stream at a component boundary.
type FluidPort struct {
	Fluid       string  // catalogue name, e.g. "helium", "mmh"
	Pressure    float64 // Pa
	Temperature float64 // K
	MassFlow    float64 // kg/s
}

// PortKind implements Port.
func (FluidPort) PortKind() PortKind { return KindFluid }

// WithMassFlow returns a copy of f carrying mdot.
func (f FluidPort) WithMassFlow(mdot float64) FluidPort {
	f.MassFlow = mdot
	return f
}

func (f FluidPort) String() string {
	return fmt.Sprintf("%s p=%.1fPa T=%.2fK mdot=%.6gkg/s", f.Fluid, f.Pressure, f.Temperature, f.MassFlow)
}

// BoundaryPort is the demand a component issues upstream during
// BackIteration. Pressure and Temperature stay Unconstrained in this network.
type BoundaryPort struct {
	Fluid       string
	Pressure    float64
	Temperature float64
	MassFlow    float64
}

// PortKind implements Port.
func (BoundaryPort) PortKind() PortKind { return KindFluid }

// Demand returns a boundary port requesting mdot of fluid with pressure and
// temperature left open.
func Demand(fluid string, mdot float64) BoundaryPort {
	return BoundaryPort{
		Fluid:       fluid,
		Pressure:    Unconstrained,
		Temperature: Unconstrained,
		MassFlow:    mdot,
	}
}

// IsUnconstrained reports whether v holds the Unconstrained sentinel.
func IsUnconstrained(v float64) bool {
	return math.Abs(v-Unconstrained) < 1e-6
}

// Validate returns ErrConstrainedBoundary when pressure or temperature is
// constrained. Callers keep using MassFlow after logging the error.
func (b BoundaryPort) Validate() error {
	p := !IsUnconstrained(b.Pressure)
	t := !IsUnconstrained(b.Temperature)
	switch {
	case p && t:
		return fmt.Errorf("%w: pressure=%g temperature=%g", ErrConstrainedBoundary, b.Pressure, b.Temperature)
	case p:
		return fmt.Errorf("%w: pressure=%g", ErrConstrainedBoundary, b.Pressure)
	case t:
		return fmt.Errorf("%w: temperature=%g", ErrConstrainedBoundary, b.Temperature)
	}
	return nil
}

// AnalogPort carries a scalar in [0, controlRangeMax].
type AnalogPort struct {
	Value float64
}

// PortKind implements Port.
func (AnalogPort) PortKind() PortKind { return KindAnalog }

// Read returns the value clamped to be non-negative.
func (a AnalogPort) Read() float64 {
	if a.Value < 0 || math.IsNaN(a.Value) {
		return 0
	}
	return a.Value
}

// ReadRange returns the value clamped to [0, max]. A non-positive max only
// applies the lower clamp.
func (a AnalogPort) ReadRange(max float64) float64 {
	v := a.Read()
	if max > 0 && v > max {
		return max
	}
	return v
}

// ForcePort carries engine thrust and the propellant mass flow producing it.
type ForcePort struct {
	Thrust   float64 // N
	MassFlow float64 // kg/s consumed
}

// PortKind implements Port.
func (ForcePort) PortKind() PortKind { return KindForce }
