package core

import (
	"context"
	"math"

	"github.com/signalsfoundry/propulsion-simulator/internal/logging"
	"github.com/signalsfoundry/propulsion-simulator/model"
	"github.com/signalsfoundry/propulsion-simulator/thermo"
)

// pressureScale converts the relative junction tolerance to Pa.
const pressureScale = 1e5

// Junction merges two streams. It apportions the downstream demand between
// its inlets by a split factor and, during Iteration, moves that factor by
// secant steps until both inlet pressures agree within Tolerance·1e5 Pa.
// The opening step is sized by the mismatch relative to the inlet pressure
// so that the mismatch shrinks on every round.
type Junction struct {
	Base

	Tolerance float64 // relative; the pressure band is Tolerance·1e5 Pa
	Fluid     string

	Split          float64 // fraction of the demand sent to "left"
	PressureLeft   float64
	PressureRight  float64
	PressureError  float64
	OutletPressure float64
	OutletTemp     float64
	MassFlow       float64
	Iterations     int // Iteration rounds in the current cycle

	iter      *thermo.SplitIterator
	converged bool
}

// NewJunction builds a junction from params.
func NewJunction(name string, p Params) (*Junction, error) {
	r := newParamReader(name, p)
	c := buildJunction(name, r)
	return c, r.Err()
}

func buildJunction(name string, r *paramReader) *Junction {
	j := &Junction{
		Base:      newBase(name, "junction", fluidIn("left"), fluidIn("right"), fluidOut("out")),
		Tolerance: r.Float("tolerance", 1e-3),
		Fluid:     r.String("fluid", ""),
	}
	r.Positive("tolerance", j.Tolerance)
	j.iter = thermo.NewSplitIterator(r.Float("split", 0.5), r.Float("seed_step", 0.05))
	j.Split = j.iter.Split
	return j
}

// Converged implements Converger.
func (j *Junction) Converged() bool { return j.converged }

// Fire implements Component.
func (j *Junction) Fire(ctx context.Context, phase model.Phase, in Inputs) error {
	switch phase {
	case model.BackIteration:
		d, ok := j.demand(ctx, in, "out")
		if !ok {
			d = model.Demand(j.Fluid, 0)
		}
		left := d
		left.MassFlow = d.MassFlow * j.Split
		right := d
		right.MassFlow = d.MassFlow - left.MassFlow
		if err := j.emit(ctx, phase, "left", left); err != nil {
			return err
		}
		return j.emit(ctx, phase, "right", right)

	case model.Iteration:
		j.Iterations++
		out := j.merge(ctx, in, true)
		return j.emit(ctx, phase, "out", out)

	case model.TimeIteration:
		out := j.merge(ctx, in, false)
		j.iter.Reset()
		j.Iterations = 0
		return j.emit(ctx, phase, "out", out)
	}
	return nil
}

// merge combines both inlets. With solve set it also updates the split
// factor for the next BackIteration.
func (j *Junction) merge(ctx context.Context, in Inputs, solve bool) model.FluidPort {
	l, _ := in.Fluid("left")
	r, _ := in.Fluid("right")
	j.PressureLeft, j.PressureRight = l.Pressure, r.Pressure

	out := model.FluidPort{Fluid: l.Fluid, MassFlow: l.MassFlow + r.MassFlow}
	if out.Fluid == "" {
		out.Fluid = r.Fluid
	}
	if l.Fluid != "" && r.Fluid != "" && l.Fluid != r.Fluid {
		j.logger().Warn(ctx, "merging different fluids",
			logging.String("left", l.Fluid),
			logging.String("right", r.Fluid),
		)
	}

	lowL, lowR := l.MassFlow <= FlowThreshold, r.MassFlow <= FlowThreshold
	switch {
	case lowL && lowR:
		out.Pressure = (l.Pressure + r.Pressure) / 2
		out.Temperature = (l.Temperature + r.Temperature) / 2
	case lowL:
		out.Pressure, out.Temperature = r.Pressure, r.Temperature
	case lowR:
		out.Pressure, out.Temperature = l.Pressure, l.Temperature
	default:
		out.Pressure = (l.Pressure + r.Pressure) / 2
		out.Temperature = (l.Temperature*l.MassFlow + r.Temperature*r.MassFlow) / out.MassFlow
	}

	if solve {
		if lowL || lowR {
			j.PressureError = 0
			j.converged = true
		} else {
			j.PressureError = l.Pressure - r.Pressure
			j.converged = math.Abs(j.PressureError) < j.Tolerance*pressureScale
			if !j.converged {
				j.Split = j.iter.Update(j.PressureError, math.Max(l.Pressure, r.Pressure))
			}
		}
	}
	j.OutletPressure, j.OutletTemp, j.MassFlow = out.Pressure, out.Temperature, out.MassFlow
	return out
}
