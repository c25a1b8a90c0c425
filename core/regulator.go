package core

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/propulsion-simulator/internal/logging"
	"github.com/signalsfoundry/propulsion-simulator/model"
	"github.com/signalsfoundry/propulsion-simulator/thermo"
)

// PressureRegulator drops the inlet pressure by a cubic polynomial of the
// inlet pressure. Gas streams change temperature by Joule-Kelvin
// throttling; helium above its inversion temperature warms.
type PressureRegulator struct {
	Base

	Coefficients thermo.Poly // Δp(pIn), ascending order, Pa
	Fluid        string

	PressureDrop   float64
	OutletPressure float64
	OutletTemp     float64
	MassFlow       float64
}

// NewPressureRegulator builds a regulator from params.
func NewPressureRegulator(name string, p Params) (*PressureRegulator, error) {
	r := newParamReader(name, p)
	c := buildRegulator(name, r)
	return c, r.Err()
}

func buildRegulator(name string, r *paramReader) *PressureRegulator {
	setpoint := r.Float("setpoint", 20e5)
	// Without explicit coefficients the regulator holds its setpoint:
	// Δp = pIn - setpoint.
	coeffs := r.Floats("pressure_drop_coefficients", []float64{-setpoint, 1, 0, 0})
	if len(coeffs) != 4 {
		r.errs = append(r.errs, fmt.Errorf("%w: %s.pressure_drop_coefficients: want 4 terms, got %d", ErrParamType, name, len(coeffs)))
		coeffs = []float64{-setpoint, 1, 0, 0}
	}
	return &PressureRegulator{
		Base:         newBase(name, "pressure_regulator", fluidIn("in"), fluidOut("out")),
		Coefficients: thermo.Poly(coeffs),
		Fluid:        r.String("fluid", "helium"),
	}
}

// Fire implements Component.
func (pr *PressureRegulator) Fire(ctx context.Context, phase model.Phase, in Inputs) error {
	if phase == model.BackIteration {
		return passDemand(ctx, &pr.Base, in, "out", "in", pr.Fluid)
	}
	f, ok := in.Fluid("in")
	if !ok || f.MassFlow <= FlowThreshold {
		return pr.emit(ctx, phase, "out", f)
	}

	// The outlet is never above the inlet and never below zero.
	pr.PressureDrop = thermo.Clamp(pr.Coefficients.Eval(f.Pressure), 0, f.Pressure)
	out := f
	out.Pressure = f.Pressure - pr.PressureDrop

	fl, err := thermo.LookupFluid(f.Fluid)
	switch {
	case err != nil:
		pr.logger().Error(ctx, "unknown fluid, temperature unchanged", logging.Err(err))
	case fl.IsGas():
		out.Temperature = thermo.ThrottleTemperature(f.Pressure, out.Pressure, f.Temperature)
	}
	pr.OutletPressure, pr.OutletTemp, pr.MassFlow = out.Pressure, out.Temperature, out.MassFlow
	return pr.emit(ctx, phase, "out", out)
}
