package core

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/propulsion-simulator/internal/logging"
	"github.com/signalsfoundry/propulsion-simulator/model"
	"github.com/signalsfoundry/propulsion-simulator/thermo"
)

// Engine is a bipropellant thrust chamber. Characteristic velocity and the
// isentropic exponent are degree-6 polynomials of the mixture ratio; the
// nozzle exit pressure comes from the area-ratio Newton solve.
type Engine struct {
	Base

	ThroatArea      float64     // m^2
	AreaRatio       float64     // Ae/At
	CStarPoly       thermo.Poly // m/s vs mixture ratio
	GammaPoly       thermo.Poly // k vs mixture ratio
	AmbientPressure float64     // Pa when "ambient" is not connected
	SeparationRatio float64     // flow separates when pe < ratio·pa
	IgnitionFuel    float64     // kg/s demanded on the first cycle
	IgnitionOx      float64
	Fuel            string
	Oxidizer        string

	MixtureRatio    float64
	CStar           float64
	Gamma           float64
	ChamberPressure float64
	ExitPressure    float64
	Thrust          float64 // N
	MassFlow        float64 // kg/s
	Separated       bool

	DemandFuel         float64 // committed for the next BackIteration
	DemandOx           float64
	Impulse            float64 // N·s
	PropellantConsumed float64 // kg
	BurnTime           float64 // s

	committed bool
}

// NewEngine builds an engine from params.
func NewEngine(name string, p Params) (*Engine, error) {
	r := newParamReader(name, p)
	c := buildEngine(name, r)
	return c, r.Err()
}

func buildEngine(name string, r *paramReader) *Engine {
	e := &Engine{
		Base: newBase(name, "engine",
			fluidIn("fuel"), fluidIn("oxidizer"), analogIn("ambient"),
			PortSpec{Name: "thrust", Direction: Out, Kind: model.KindForce}),
		ThroatArea:      r.Float("throat_area", 4.8e-4),
		AreaRatio:       r.Float("area_ratio", 50),
		CStarPoly:       thermo.Poly(r.Floats("cstar_coefficients", []float64{1556.65, 198, -60})),
		GammaPoly:       thermo.Poly(r.Floats("gamma_coefficients", []float64{1.25, -0.03, 0.005})),
		AmbientPressure: r.Float("ambient_pressure", 0),
		SeparationRatio: r.Float("separation_ratio", 0.4),
		IgnitionFuel:    r.Float("ignition_fuel_flow", 0.1),
		IgnitionOx:      r.Float("ignition_oxidizer_flow", 0.165),
		Fuel:            r.String("fuel", "mmh"),
		Oxidizer:        r.String("oxidizer", "nto"),
	}
	r.Positive("throat_area", e.ThroatArea)
	if e.AreaRatio <= 1 {
		r.errs = append(r.errs, fmt.Errorf("%w: %s.area_ratio must exceed 1, got %g", ErrParamType, name, e.AreaRatio))
	}
	for _, c := range []struct {
		key  string
		poly thermo.Poly
	}{{"cstar_coefficients", e.CStarPoly}, {"gamma_coefficients", e.GammaPoly}} {
		if len(c.poly) == 0 || len(c.poly) > 7 {
			r.errs = append(r.errs, fmt.Errorf("%w: %s.%s: want 1 to 7 terms, got %d", ErrParamType, name, c.key, len(c.poly)))
		}
	}
	return e
}

// Fire implements Component.
func (e *Engine) Fire(ctx context.Context, phase model.Phase, in Inputs) error {
	if a, ok := in.Analog("ambient"); ok {
		e.AmbientPressure = a.Read()
	}

	switch phase {
	case model.BackIteration:
		fuel, ox := e.IgnitionFuel, e.IgnitionOx
		if e.committed {
			fuel, ox = e.DemandFuel, e.DemandOx
		}
		if err := e.emit(ctx, phase, "fuel", model.Demand(e.Fuel, fuel)); err != nil {
			return err
		}
		if err := e.emit(ctx, phase, "oxidizer", model.Demand(e.Oxidizer, ox)); err != nil {
			return err
		}
		return e.emitThrust(ctx, phase)

	case model.Iteration:
		f, _ := in.Fluid("fuel")
		o, _ := in.Fluid("oxidizer")
		solveErr := e.solve(ctx, f.MassFlow, o.MassFlow)
		if err := e.emitThrust(ctx, phase); err != nil {
			return err
		}
		if solveErr != nil {
			return &SimError{Class: ClassUnphysical, Component: e.Name(), Phase: phase, Err: solveErr}
		}
		return nil

	case model.TimeIteration:
		f, _ := in.Fluid("fuel")
		o, _ := in.Fluid("oxidizer")
		dt := e.dt()
		e.DemandFuel, e.DemandOx = f.MassFlow, o.MassFlow
		e.committed = true
		e.Impulse += e.Thrust * dt
		e.PropellantConsumed += (f.MassFlow + o.MassFlow) * dt
		if e.Thrust > 0 {
			e.BurnTime += dt
		}
		return e.emitThrust(ctx, phase)
	}
	return nil
}

func (e *Engine) emitThrust(ctx context.Context, phase model.Phase) error {
	return e.emit(ctx, phase, "thrust", model.ForcePort{Thrust: e.Thrust, MassFlow: e.MassFlow})
}

// solve computes chamber and exit conditions and thrust for the given
// propellant flows. A non-nil error is ErrFlowSeparated or
// ErrNoThrustSolution; the thrust fields are valid either way.
func (e *Engine) solve(ctx context.Context, fuel, ox float64) error {
	e.MassFlow = fuel + ox
	e.Separated = false
	if fuel <= FlowThreshold || ox <= FlowThreshold {
		e.MixtureRatio, e.ChamberPressure, e.ExitPressure, e.Thrust = 0, 0, 0, 0
		return nil
	}
	e.MixtureRatio = ox / fuel
	e.CStar = e.CStarPoly.Eval(e.MixtureRatio)
	e.Gamma = e.GammaPoly.Eval(e.MixtureRatio)
	e.ChamberPressure = e.MassFlow * e.CStar / e.ThroatArea

	x, err := e.ExitPressureRatio()
	if err != nil {
		if errors.Is(err, thermo.ErrInvalidInput) {
			e.ExitPressure, e.Thrust = 0, 0
			return fmt.Errorf("%w: %v", ErrNoThrustSolution, err)
		}
		x = thermo.ExpansionEstimate(e.AreaRatio, e.Gamma)
		e.warnNonConvergence(ctx, "nozzle exit pressure", err, logging.Float("fallback_ratio", x))
	}
	e.ExitPressure = x * e.ChamberPressure

	cf := thermo.ThrustCoefficient(x, e.AmbientPressure/e.ChamberPressure, e.AreaRatio, e.Gamma)
	e.Thrust = math.Max(cf*e.ChamberPressure*e.ThroatArea, 0)

	if e.ExitPressure < e.SeparationRatio*e.AmbientPressure {
		e.Separated = true
		return fmt.Errorf("%w: pe=%.1f Pa below %.2f·pa=%.1f Pa", ErrFlowSeparated,
			e.ExitPressure, e.SeparationRatio, e.SeparationRatio*e.AmbientPressure)
	}
	return nil
}

// ExitPressureRatio solves the nozzle for pe/pc at the current isentropic
// exponent.
func (e *Engine) ExitPressureRatio() (float64, error) {
	return thermo.ExitPressureRatio(e.AreaRatio, e.Gamma)
}
