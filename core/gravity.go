package core

import (
	"context"
	"fmt"
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/propulsion-simulator/model"
	"github.com/signalsfoundry/propulsion-simulator/thermo"
)

const (
	// WGS72 constants used by go-satellite, in km and km^3/s^2.
	earthRadiusKm = 6378.135
	earthMuKm3    = 398600.8
)

// GravityMode selects the acceleration a Gravity component publishes.
type GravityMode int

const (
	Ground GravityMode = iota
	Orbit
)

// Gravity publishes the effective acceleration seen by liquids on board:
// standard gravity on the ground, a configured residual in orbit. In orbit
// mode with a TLE it also propagates the vehicle with SGP4 and reports
// altitude and local gravitational acceleration.
type Gravity struct {
	Base

	Mode     GravityMode
	Residual float64 // m/s^2 published in orbit

	Acceleration float64 // m/s^2 published
	Altitude     float64 // m above the WGS72 equatorial radius
	LocalGravity float64 // m/s^2 at the propagated position

	orbit *orbitPropagator
}

// NewGravity builds a gravity source from params.
func NewGravity(name string, p Params) (*Gravity, error) {
	r := newParamReader(name, p)
	c := buildGravity(name, r)
	return c, r.Err()
}

func buildGravity(name string, r *paramReader) *Gravity {
	g := &Gravity{
		Base:     newBase(name, "gravity", analogOut("accel")),
		Residual: r.Float("residual_acceleration", 0),
	}
	switch mode := r.String("mode", "ground"); mode {
	case "ground":
		g.Mode = Ground
	case "orbit":
		g.Mode = Orbit
	default:
		r.errs = append(r.errs, fmt.Errorf("%w: %s.mode: want ground or orbit, got %q", ErrParamType, name, mode))
	}
	tle1, tle2 := r.String("tle_line1", ""), r.String("tle_line2", "")
	if g.Mode == Orbit && tle1 != "" && tle2 != "" {
		g.orbit = newOrbitPropagator(tle1, tle2)
	}
	return g
}

// Initialize sets the published acceleration and the initial position.
func (g *Gravity) Initialize(env Env) error {
	if err := g.Base.Initialize(env); err != nil {
		return err
	}
	g.Acceleration = thermo.StandardGravity
	if g.Mode == Orbit {
		g.Acceleration = g.Residual
	}
	g.propagate()
	return nil
}

// Fire implements Component.
func (g *Gravity) Fire(ctx context.Context, phase model.Phase, _ Inputs) error {
	if phase == model.TimeIteration {
		g.propagate()
	}
	return g.emit(ctx, phase, "accel", model.AnalogPort{Value: g.Acceleration})
}

func (g *Gravity) propagate() {
	if g.orbit == nil || g.env.Clock == nil {
		return
	}
	g.Altitude, g.LocalGravity = g.orbit.at(g.env.Clock.Now())
}

type orbitPropagator struct {
	sat satellite.Satellite
}

func newOrbitPropagator(line1, line2 string) *orbitPropagator {
	return &orbitPropagator{sat: satellite.TLEToSat(line1, line2, satellite.GravityWGS72)}
}

// at returns altitude in m and gravitational acceleration in m/s^2.
// go-satellite works in kilometres.
func (o *orbitPropagator) at(t time.Time) (float64, float64) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	posECI, _ := satellite.Propagate(o.sat, year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(satellite.JDay(year, int(month), day, hour, min, sec))
	pos := satellite.ECIToECEF(posECI, gmst)

	r := math.Sqrt(pos.X*pos.X + pos.Y*pos.Y + pos.Z*pos.Z)
	if r == 0 || math.IsNaN(r) {
		return 0, 0
	}
	const kmToM = 1000.0
	return (r - earthRadiusKm) * kmToM, earthMuKm3 / (r * r) * kmToM
}
