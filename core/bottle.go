package core

import (
	"context"
	"fmt"
	"math"

	"github.com/signalsfoundry/propulsion-simulator/internal/logging"
	"github.com/signalsfoundry/propulsion-simulator/model"
	"github.com/signalsfoundry/propulsion-simulator/thermo"
)

// HighPressureBottle is a spherical helium reservoir. It records the
// demand arriving in BackIteration and, in TimeIteration, blows down by
// that amount with a real-gas energy balance and natural convection to
// its wall.
type HighPressureBottle struct {
	Base

	Volume        float64 // m^3
	WallThickness float64 // m
	WallDensity   float64 // kg/m^3
	WallCp        float64 // J/(kg K)
	Gravity       float64 // m/s^2 driving natural convection

	Surface  float64 // m^2, derived
	WallMass float64 // kg, derived

	Mass            float64 // kg of helium
	Pressure        float64 // Pa
	Temperature     float64 // K
	WallTemperature float64 // K
	Demand          float64 // kg/s requested for the next commit
	HeatFlow        float64 // W into the gas
}

// NewHighPressureBottle builds a bottle from params.
func NewHighPressureBottle(name string, p Params) (*HighPressureBottle, error) {
	r := newParamReader(name, p)
	c := buildBottle(name, r)
	return c, r.Err()
}

func buildBottle(name string, r *paramReader) *HighPressureBottle {
	temp := r.Float("temperature", 293.15)
	b := &HighPressureBottle{
		Base:            newBase(name, "high_pressure_bottle", fluidOut("out")),
		Volume:          r.Float("volume", 0.05),
		WallThickness:   r.Float("wall_thickness", 0.01),
		WallDensity:     r.Float("wall_density", 4430),
		WallCp:          r.Float("wall_cp", 520),
		Gravity:         r.Float("acceleration", thermo.StandardGravity),
		Pressure:        r.Float("pressure", 300e5),
		Temperature:     temp,
		WallTemperature: r.Float("wall_temperature", temp),
	}
	if f := r.String("fluid", "helium"); f != "helium" {
		r.errs = append(r.errs, fmt.Errorf("%w: %s.fluid: only helium is supported, got %q", ErrParamType, name, f))
	}
	r.Positive("volume", b.Volume)
	r.Positive("pressure", b.Pressure)
	r.Positive("temperature", temp)
	r.Positive("wall_thickness", b.WallThickness)
	r.Positive("wall_density", b.WallDensity)
	r.Positive("wall_cp", b.WallCp)
	return b
}

// Initialize derives the wall geometry and helium inventory.
func (b *HighPressureBottle) Initialize(env Env) error {
	if err := b.Base.Initialize(env); err != nil {
		return err
	}
	b.Surface = thermo.SphereSurface(b.Volume)
	b.WallMass = b.Surface * b.WallThickness * b.WallDensity
	b.Mass = thermo.HeliumDensity(b.Pressure, b.Temperature) * b.Volume
	return nil
}

// Fire implements Component.
func (b *HighPressureBottle) Fire(ctx context.Context, phase model.Phase, in Inputs) error {
	switch phase {
	case model.BackIteration:
		b.Demand = 0
		if d, ok := b.demand(ctx, in, "out"); ok {
			b.Demand = d.MassFlow
		}
		return nil
	case model.TimeIteration:
		b.commit(ctx)
	}
	return b.emit(ctx, phase, "out", model.FluidPort{
		Fluid:       "helium",
		Pressure:    b.Pressure,
		Temperature: b.Temperature,
		MassFlow:    b.Demand,
	})
}

func (b *HighPressureBottle) commit(ctx context.Context) {
	dt := b.dt()
	if dt <= 0 {
		return
	}
	dm := b.Demand * dt
	if dm > b.Mass {
		b.logger().Warn(ctx, "bottle exhausted", logging.Float("demand", b.Demand), logging.Float("mass", b.Mass))
		dm = b.Mass
		b.Demand = dm / dt
	}

	props := thermo.Fluid{State: thermo.Gas}.Properties(b.Pressure, b.Temperature)
	h := thermo.NaturalHeatTransferCoefficient(b.Gravity, b.WallTemperature-b.Temperature,
		thermo.SphereDiameter(b.Volume), b.Temperature, props)
	b.HeatFlow = h * b.Surface * (b.WallTemperature - b.Temperature)
	if dm == 0 && b.HeatFlow == 0 {
		return
	}

	rho := b.Mass / b.Volume
	u := thermo.HeliumInternalEnergy(b.Pressure, b.Temperature, rho)
	energy := b.Mass*u - dm*thermo.HeliumEnthalpy(b.Pressure, b.Temperature) + b.HeatFlow*dt
	mass := b.Mass - dm
	b.WallTemperature -= b.HeatFlow * dt / (b.WallMass * b.WallCp)
	b.Mass = mass
	if mass <= 0 {
		b.Pressure = 0
		return
	}

	state, err := thermo.HeliumStateFromDensityEnergy(mass/b.Volume, energy/mass, b.Temperature)
	if err != nil {
		b.warnNonConvergence(ctx, "helium state", err, logging.Float("density", mass/b.Volume))
		if state.Temperature <= 0 || math.IsNaN(state.Pressure) {
			return
		}
	}
	b.Pressure, b.Temperature = state.Pressure, state.Temperature
}
