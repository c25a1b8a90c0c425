package core

import (
	"context"
	"math"

	"github.com/signalsfoundry/propulsion-simulator/internal/logging"
	"github.com/signalsfoundry/propulsion-simulator/model"
	"github.com/signalsfoundry/propulsion-simulator/thermo"
)

// Filter has a pressure loss linear in mass flow about a reference point
// and exchanges heat with a single lumped housing mass.
type Filter struct {
	Base

	ReferenceMassFlow     float64 // kg/s
	ReferencePressureDrop float64 // Pa at ReferenceMassFlow
	Diameter              float64 // m, hydraulic
	WettedArea            float64 // m^2
	Mass                  float64 // kg
	Cp                    float64 // J/(kg K)
	Fluid                 string

	WallTemperature float64
	HeatTransfer    float64
	PressureDrop    float64
	OutletTemp      float64
	MassFlow        float64
}

// NewFilter builds a filter from params.
func NewFilter(name string, p Params) (*Filter, error) {
	r := newParamReader(name, p)
	c := buildFilter(name, r)
	return c, r.Err()
}

func buildFilter(name string, r *paramReader) *Filter {
	f := &Filter{
		Base:                  newBase(name, "filter", fluidIn("in"), fluidOut("out")),
		ReferenceMassFlow:     r.Float("reference_mass_flow", 0.1),
		ReferencePressureDrop: r.Float("reference_pressure_drop", 0.2e5),
		Diameter:              r.Float("diameter", 0.01),
		WettedArea:            r.Float("wetted_area", 0.01),
		Mass:                  r.Float("mass", 0.3),
		Cp:                    r.Float("cp", 500),
		Fluid:                 r.String("fluid", ""),
		WallTemperature:       r.Float("wall_temperature", 293.15),
	}
	r.Positive("reference_mass_flow", f.ReferenceMassFlow)
	r.Positive("mass", f.Mass)
	r.Positive("cp", f.Cp)
	return f
}

// Fire implements Component.
func (f *Filter) Fire(ctx context.Context, phase model.Phase, in Inputs) error {
	if phase == model.BackIteration {
		return passDemand(ctx, &f.Base, in, "out", "in", f.Fluid)
	}
	fp, ok := in.Fluid("in")
	if !ok || fp.MassFlow <= FlowThreshold {
		return f.emit(ctx, phase, "out", fp)
	}
	fl, err := thermo.LookupFluid(fp.Fluid)
	if err != nil {
		f.logger().Error(ctx, "unknown fluid, passing through", logging.Err(err))
		return f.emit(ctx, phase, "out", fp)
	}

	props := fl.Properties(fp.Pressure, fp.Temperature)
	if phase == model.Iteration {
		f.HeatTransfer = thermo.ForcedHeatTransferCoefficient(fp.MassFlow, f.Diameter, props)
	}
	f.PressureDrop = f.ReferencePressureDrop * fp.MassFlow / f.ReferenceMassFlow

	q := f.HeatTransfer * f.WettedArea * (f.WallTemperature - fp.Temperature)
	dTf := q / (fp.MassFlow * props.Cp)
	if math.Abs(dTf) > math.Abs(f.WallTemperature-fp.Temperature) {
		dTf = f.WallTemperature - fp.Temperature
		q = dTf * fp.MassFlow * props.Cp
	}
	if phase == model.TimeIteration {
		f.WallTemperature -= q * f.dt() / (f.Mass * f.Cp)
	}

	out := fp
	out.Pressure = math.Max(fp.Pressure-f.PressureDrop, 0)
	out.Temperature = fp.Temperature + dTf
	f.OutletTemp, f.MassFlow = out.Temperature, out.MassFlow
	return f.emit(ctx, phase, "out", out)
}
