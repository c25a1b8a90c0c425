package core

import (
	"context"
	"fmt"
	"math"

	"github.com/signalsfoundry/propulsion-simulator/internal/logging"
	"github.com/signalsfoundry/propulsion-simulator/model"
	"github.com/signalsfoundry/propulsion-simulator/thermo"
)

// PipeSections is the fixed axial discretization of a pipe wall.
const PipeSections = 10

// maxSectionTemperatureRise is the fluid temperature change per section
// above which a data-quality warning is logged.
const maxSectionTemperatureRise = 10.0

// Pipe is a circular duct with Colebrook friction and forced convection
// between the fluid and a wall discretized into PipeSections sections.
type Pipe struct {
	Base

	Length    float64 // m
	Diameter  float64 // m
	Roughness float64 // m
	WallMass  float64 // kg, whole pipe
	WallCp    float64 // J/(kg K)
	Fluid     string

	WallTemperature []float64 // K per section
	HeatTransfer    []float64 // W/(m^2 K) per section, from the last Iteration
	Friction        float64
	PressureDrop    float64 // Pa
	OutletPressure  float64
	OutletTemp      float64
	MassFlow        float64
}

// NewPipe builds a pipe from params.
func NewPipe(name string, p Params) (*Pipe, error) {
	r := newParamReader(name, p)
	c := buildPipe(name, r)
	return c, r.Err()
}

func buildPipe(name string, r *paramReader) *Pipe {
	p := &Pipe{
		Base:      newBase(name, "pipe", fluidIn("in"), fluidOut("out")),
		Length:    r.Float("length", 1.0),
		Diameter:  r.Float("diameter", 0.01),
		Roughness: r.Float("roughness", 1.5e-6),
		WallMass:  r.Float("wall_mass", 0.5),
		WallCp:    r.Float("wall_cp", 500),
		Fluid:     r.String("fluid", ""),
	}
	r.Positive("length", p.Length)
	r.Positive("diameter", p.Diameter)
	r.Positive("wall_mass", p.WallMass)
	r.Positive("wall_cp", p.WallCp)

	t0 := r.Float("wall_temperature", 293.15)
	p.WallTemperature = make([]float64, PipeSections)
	for i := range p.WallTemperature {
		p.WallTemperature[i] = t0
	}
	p.HeatTransfer = make([]float64, PipeSections)
	return p
}

// Fire implements Component.
func (p *Pipe) Fire(ctx context.Context, phase model.Phase, in Inputs) error {
	switch phase {
	case model.BackIteration:
		return passDemand(ctx, &p.Base, in, "out", "in", p.Fluid)
	case model.Iteration:
		return p.iterate(ctx, in)
	case model.TimeIteration:
		return p.commit(ctx, in)
	}
	return nil
}

func (p *Pipe) iterate(ctx context.Context, in Inputs) error {
	f, ok := in.Fluid("in")
	if !ok || f.MassFlow <= FlowThreshold {
		return p.emit(ctx, model.Iteration, "out", f)
	}
	fl, err := thermo.LookupFluid(f.Fluid)
	if err != nil {
		p.logger().Error(ctx, "unknown fluid, passing through", logging.Err(err))
		return p.emit(ctx, model.Iteration, "out", f)
	}
	props := fl.Properties(f.Pressure, f.Temperature)
	re := thermo.Reynolds(f.MassFlow, p.Diameter, props.Viscosity)
	p.Friction = thermo.DarcyFriction(re, p.Roughness/p.Diameter)
	p.PressureDrop = thermo.DarcyPressureDrop(f.MassFlow, p.Diameter, p.Length, props.Density, p.Friction)

	out := f
	out.Pressure = math.Max(f.Pressure-p.PressureDrop, 0)
	out.Temperature = p.march(ctx, f, fl, 0)
	p.OutletPressure, p.OutletTemp, p.MassFlow = out.Pressure, out.Temperature, out.MassFlow
	return p.emit(ctx, model.Iteration, "out", out)
}

func (p *Pipe) commit(ctx context.Context, in Inputs) error {
	f, ok := in.Fluid("in")
	if !ok || f.MassFlow <= FlowThreshold {
		return p.emit(ctx, model.TimeIteration, "out", f)
	}
	fl, err := thermo.LookupFluid(f.Fluid)
	if err != nil {
		p.logger().Error(ctx, "unknown fluid, passing through", logging.Err(err))
		return p.emit(ctx, model.TimeIteration, "out", f)
	}
	out := f
	out.Pressure = math.Max(f.Pressure-p.PressureDrop, 0)
	out.Temperature = p.march(ctx, f, fl, p.dt())
	p.OutletPressure, p.OutletTemp, p.MassFlow = out.Pressure, out.Temperature, out.MassFlow
	return p.emit(ctx, model.TimeIteration, "out", out)
}

// march carries the fluid through the sections. With dt == 0 it refreshes
// the heat-transfer coefficients and leaves the wall alone; with dt > 0 it
// uses the stored coefficients and integrates the wall temperatures.
func (p *Pipe) march(ctx context.Context, f model.FluidPort, fl thermo.Fluid, dt float64) float64 {
	secLength := p.Length / PipeSections
	area := math.Pi * p.Diameter * secLength
	secMass := p.WallMass / PipeSections
	tf := f.Temperature
	for i := 0; i < PipeSections; i++ {
		props := fl.Properties(f.Pressure, tf)
		if dt == 0 {
			p.HeatTransfer[i] = thermo.ForcedHeatTransferCoefficient(f.MassFlow, p.Diameter, props)
		}
		q := p.HeatTransfer[i] * area * (p.WallTemperature[i] - tf)
		dTf := q / (f.MassFlow * props.Cp)
		// The fluid cannot leave a section hotter or colder than its wall.
		if math.Abs(dTf) > math.Abs(p.WallTemperature[i]-tf) {
			dTf = p.WallTemperature[i] - tf
			q = dTf * f.MassFlow * props.Cp
		}
		if dt > 0 {
			if math.Abs(dTf) > maxSectionTemperatureRise {
				p.logger().Warn(ctx, "large section temperature change",
					logging.Int("section", i),
					logging.Float("delta_t", dTf),
				)
			}
			p.WallTemperature[i] -= q * dt / (secMass * p.WallCp)
		}
		tf += dTf
	}
	return tf
}

// passDemand forwards the downstream demand on from as the upstream demand
// on to, unchanged. An unconnected downstream side requests nothing.
func passDemand(ctx context.Context, b *Base, in Inputs, from, to, fluid string) error {
	d, ok := b.demand(ctx, in, from)
	if !ok {
		d = model.Demand(fluid, 0)
	}
	if err := b.emit(ctx, model.BackIteration, to, d); err != nil {
		return fmt.Errorf("%s: forward demand: %w", b.Name(), err)
	}
	return nil
}
