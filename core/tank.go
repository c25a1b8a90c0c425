package core

import (
	"context"
	"fmt"
	"math"

	"github.com/signalsfoundry/propulsion-simulator/internal/logging"
	"github.com/signalsfoundry/propulsion-simulator/model"
	"github.com/signalsfoundry/propulsion-simulator/thermo"
)

// Tank is a lumped propellant tank pressurized by helium. The ullage gas
// follows a real-gas energy balance; the outlet sees the ullage pressure
// plus the hydrostatic head of the liquid column.
type Tank struct {
	Base

	Volume            float64 // m^3
	Propellant        string
	CrossSection      float64 // m^2, for the liquid level
	WallMass          float64 // kg
	WallCp            float64 // J/(kg K)
	PropellantTemp    float64 // K
	DefaultAccel      float64 // m/s^2 when "accel" is not connected
	propellantDensity float64

	PropellantMass    float64 // kg
	PressurantMass    float64 // kg
	UllagePressure    float64 // Pa
	UllageTemperature float64 // K
	UllageVolume      float64 // m^3
	WallTemperature   float64 // K
	Acceleration      float64 // m/s^2
	Demand            float64 // propellant demand, kg/s
	PressurantDemand  float64 // helium demand, kg/s
	OutletPressure    float64
	HeatFlow          float64 // W into the ullage
}

// NewTank builds a tank from params.
func NewTank(name string, p Params) (*Tank, error) {
	r := newParamReader(name, p)
	c := buildTank(name, r)
	return c, r.Err()
}

func buildTank(name string, r *paramReader) *Tank {
	temp := r.Float("temperature", 293.15)
	t := &Tank{
		Base: newBase(name, "tank",
			fluidIn("pressurant"), fluidOut("out"), analogIn("accel")),
		Volume:            r.Float("volume", 0.1),
		Propellant:        r.String("propellant", "mmh"),
		WallMass:          r.Float("wall_mass", 10),
		WallCp:            r.Float("wall_cp", 900),
		PropellantTemp:    r.Float("propellant_temperature", temp),
		DefaultAccel:      r.Float("acceleration", thermo.StandardGravity),
		PropellantMass:    r.Float("propellant_mass", 50),
		UllagePressure:    r.Float("ullage_pressure", 20e5),
		UllageTemperature: temp,
		WallTemperature:   r.Float("wall_temperature", temp),
	}
	r.Positive("volume", t.Volume)
	r.Positive("wall_mass", t.WallMass)
	r.Positive("wall_cp", t.WallCp)
	r.Positive("ullage_pressure", t.UllagePressure)
	r.Positive("temperature", temp)
	d := thermo.SphereDiameter(t.Volume)
	t.CrossSection = r.Float("cross_section", math.Pi*d*d/4)
	r.Positive("cross_section", t.CrossSection)
	return t
}

// Initialize derives the ullage volume and helium inventory.
func (t *Tank) Initialize(env Env) error {
	if err := t.Base.Initialize(env); err != nil {
		return err
	}
	fl, err := thermo.LookupFluid(t.Propellant)
	if err != nil {
		return err
	}
	if fl.IsGas() {
		return fmt.Errorf("%w: tank propellant %q must be a liquid", ErrParamType, t.Propellant)
	}
	t.propellantDensity = fl.Density
	t.UllageVolume = t.Volume - t.PropellantMass/t.propellantDensity
	if t.UllageVolume <= 0 {
		return fmt.Errorf("%w: %.1f kg of %s overfills %.4f m^3", ErrParamType, t.PropellantMass, t.Propellant, t.Volume)
	}
	t.PressurantMass = thermo.HeliumDensity(t.UllagePressure, t.UllageTemperature) * t.UllageVolume
	t.Acceleration = t.DefaultAccel
	t.OutletPressure = t.outletPressure()
	return nil
}

// TotalMass returns propellant plus pressurant mass.
func (t *Tank) TotalMass() float64 { return t.PropellantMass + t.PressurantMass }

// LiquidLevel returns the height of the propellant column.
func (t *Tank) LiquidLevel() float64 {
	return t.PropellantMass / t.propellantDensity / t.CrossSection
}

func (t *Tank) outletPressure() float64 {
	return t.UllagePressure + t.propellantDensity*t.Acceleration*t.LiquidLevel()
}

// deliverable limits the demand to what is left in the tank over one step.
func (t *Tank) deliverable() float64 {
	mdot := t.Demand
	if dt := t.dt(); dt > 0 && mdot*dt > t.PropellantMass {
		mdot = t.PropellantMass / dt
	}
	return mdot
}

// Fire implements Component.
func (t *Tank) Fire(ctx context.Context, phase model.Phase, in Inputs) error {
	if a, ok := in.Analog("accel"); ok {
		t.Acceleration = a.Read()
	}

	if phase == model.BackIteration {
		t.Demand = 0
		if d, ok := t.demand(ctx, in, "out"); ok {
			t.Demand = d.MassFlow
		}
		// Helium replaces the displaced propellant volume at ullage density.
		rhoU := t.PressurantMass / t.UllageVolume
		t.PressurantDemand = rhoU * t.deliverable() / t.propellantDensity
		return t.emit(ctx, phase, "pressurant", model.Demand("helium", t.PressurantDemand))
	}

	flow := t.deliverable()
	if phase == model.TimeIteration {
		he, _ := in.Fluid("pressurant")
		t.commit(ctx, he, flow)
	} else {
		t.OutletPressure = t.outletPressure()
	}
	return t.emit(ctx, phase, "out", model.FluidPort{
		Fluid:       t.Propellant,
		Pressure:    t.OutletPressure,
		Temperature: t.PropellantTemp,
		MassFlow:    flow,
	})
}

// commit integrates the ullage over one step with propellant outflow mdotP.
func (t *Tank) commit(ctx context.Context, he model.FluidPort, mdotP float64) {
	dt := t.dt()
	if dt <= 0 {
		return
	}
	if mdotP < t.Demand {
		t.logger().Warn(ctx, "tank depleted", logging.Float("demand", t.Demand), logging.Float("delivered", mdotP))
	}
	mdotHe := math.Max(he.MassFlow, 0)

	rho := t.PressurantMass / t.UllageVolume
	props := thermo.Fluid{State: thermo.Gas}.Properties(t.UllagePressure, t.UllageTemperature)
	wetted := thermo.SphereSurface(t.Volume) * t.UllageVolume / t.Volume
	h := thermo.NaturalHeatTransferCoefficient(t.Acceleration, t.WallTemperature-t.UllageTemperature,
		thermo.SphereDiameter(t.Volume), t.UllageTemperature, props)
	t.HeatFlow = h * wetted * (t.WallTemperature - t.UllageTemperature)

	propellant := t.PropellantMass - mdotP*dt
	ullage := t.Volume - propellant/t.propellantDensity
	dV := ullage - t.UllageVolume
	pressurant := t.PressurantMass + mdotHe*dt

	// m·cv·dT = (h_in - u)·dm - p·dV + Q·dt
	var hIn float64
	if mdotHe > 0 {
		hIn = thermo.HeliumEnthalpy(he.Pressure, he.Temperature)
	}
	u := thermo.HeliumInternalEnergy(t.UllagePressure, t.UllageTemperature, rho)
	dE := (hIn-u)*mdotHe*dt - t.UllagePressure*dV + t.HeatFlow*dt
	if pressurant > 0 {
		t.UllageTemperature += dE / (pressurant * thermo.HeliumCv)
	}

	t.PropellantMass = propellant
	t.PressurantMass = pressurant
	t.UllageVolume = ullage
	t.WallTemperature -= t.HeatFlow * dt / (t.WallMass * t.WallCp)

	p, err := thermo.HeliumPressure(pressurant/ullage, t.UllageTemperature)
	if err != nil {
		t.warnNonConvergence(ctx, "helium pressure", err, logging.Float("density", pressurant/ullage))
	}
	t.UllagePressure = p
	t.OutletPressure = t.outletPressure()
}
