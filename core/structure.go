package core

import (
	"context"
	"math"

	"github.com/signalsfoundry/propulsion-simulator/model"
)

// Structure is the spacecraft body. It turns engine thrust into
// acceleration and integrates velocity, distance and the mass lost to
// propellant consumption.
type Structure struct {
	Base

	DryMass float64 // kg

	Mass         float64 // kg, current
	Thrust       float64 // N
	Acceleration float64 // m/s^2
	Velocity     float64 // m/s, equal to the accumulated delta-v
	Distance     float64 // m
}

// NewStructure builds a structure from params.
func NewStructure(name string, p Params) (*Structure, error) {
	r := newParamReader(name, p)
	c := buildStructure(name, r)
	return c, r.Err()
}

func buildStructure(name string, r *paramReader) *Structure {
	s := &Structure{
		Base: newBase(name, "structure",
			PortSpec{Name: "thrust", Direction: In, Kind: model.KindForce}, analogOut("accel")),
		DryMass: r.Float("dry_mass", 100),
	}
	s.Mass = s.DryMass + r.Float("propellant_mass", 100)
	r.Positive("dry_mass", s.DryMass)
	return s
}

// Fire implements Component.
func (s *Structure) Fire(ctx context.Context, phase model.Phase, in Inputs) error {
	f, _ := in.Force("thrust")
	s.Thrust = f.Thrust
	s.Acceleration = 0
	if s.Mass > 0 {
		s.Acceleration = f.Thrust / s.Mass
	}
	if phase == model.TimeIteration {
		dt := s.dt()
		s.Distance += s.Velocity*dt + 0.5*s.Acceleration*dt*dt
		s.Velocity += s.Acceleration * dt
		s.Mass = math.Max(s.Mass-f.MassFlow*dt, s.DryMass)
	}
	return s.emit(ctx, phase, "accel", model.AnalogPort{Value: s.Acceleration})
}
