package core

import (
	"context"
	"math"

	"github.com/signalsfoundry/propulsion-simulator/model"
)

// Valve meters flow in proportion to its analog control input:
// mdot = ReferenceMassFlow·control. The pressure drop is linear in flow
// about the reference point. During the first cycle it passes the
// downstream demand and the inlet flow through unmodified so the network
// can start from the ignition demand.
type Valve struct {
	Base

	ReferenceMassFlow     float64 // kg/s at full control
	ReferencePressureDrop float64 // Pa at ReferenceMassFlow
	ControlRange          float64 // upper clamp of the control value
	Fluid                 string

	Control      float64 // last control value read
	Demand       float64 // last upstream demand issued
	PressureDrop float64
	MassFlow     float64
}

// NewValve builds a valve from params.
func NewValve(name string, p Params) (*Valve, error) {
	r := newParamReader(name, p)
	c := buildValve(name, r)
	return c, r.Err()
}

func buildValve(name string, r *paramReader) *Valve {
	v := &Valve{
		Base:                  newBase(name, "valve", fluidIn("in"), fluidOut("out"), analogIn("control")),
		ReferenceMassFlow:     r.Float("reference_mass_flow", 0.1),
		ReferencePressureDrop: r.Float("reference_pressure_drop", 1e5),
		ControlRange:          r.Float("control_range", 1),
		Fluid:                 r.String("fluid", ""),
		Control:               r.Float("control", 0),
	}
	r.Positive("reference_mass_flow", v.ReferenceMassFlow)
	return v
}

// bootstrap reports whether the valve is in the first cycle of the run.
func (v *Valve) bootstrap() bool { return v.missionTime() == 0 }

// Fire implements Component.
func (v *Valve) Fire(ctx context.Context, phase model.Phase, in Inputs) error {
	if a, ok := in.Analog("control"); ok {
		v.Control = a.ReadRange(v.ControlRange)
	} else {
		v.Control = model.AnalogPort{Value: v.Control}.ReadRange(v.ControlRange)
	}

	if phase == model.BackIteration {
		if v.bootstrap() && v.Connected("out") {
			d, ok := v.demand(ctx, in, "out")
			if ok {
				v.Demand = d.MassFlow
				return v.emit(ctx, phase, "in", d)
			}
		}
		v.Demand = v.ReferenceMassFlow * v.Control
		return v.emit(ctx, phase, "in", model.Demand(v.Fluid, v.Demand))
	}

	f, _ := in.Fluid("in")
	out := f
	if !v.bootstrap() {
		out.MassFlow = math.Min(f.MassFlow, v.ReferenceMassFlow*v.Control)
	}
	if out.MassFlow <= FlowThreshold {
		out.MassFlow = math.Max(out.MassFlow, 0)
		v.PressureDrop, v.MassFlow = 0, out.MassFlow
		return v.emit(ctx, phase, "out", out)
	}
	v.PressureDrop = v.ReferencePressureDrop * out.MassFlow / v.ReferenceMassFlow
	out.Pressure = math.Max(f.Pressure-v.PressureDrop, 0)
	v.MassFlow = out.MassFlow
	return v.emit(ctx, phase, "out", out)
}
