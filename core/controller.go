package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/signalsfoundry/propulsion-simulator/model"
	"github.com/signalsfoundry/propulsion-simulator/thermo"
)

// Interpolation selects how a control profile is evaluated between points.
type Interpolation int

const (
	Step Interpolation = iota
	Linear
)

// Profile is a time series of (t, value) points, sorted by t.
type Profile struct {
	Times  []float64
	Values []float64
}

// ParseProfile reads flattened t0,v0,t1,v1,... pairs.
func ParseProfile(pairs []float64) (Profile, error) {
	if len(pairs)%2 != 0 {
		return Profile{}, fmt.Errorf("%w: profile needs time/value pairs, got %d numbers", ErrParamType, len(pairs))
	}
	type point struct{ t, v float64 }
	pts := make([]point, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		pts = append(pts, point{pairs[i], pairs[i+1]})
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].t < pts[j].t })
	p := Profile{Times: make([]float64, len(pts)), Values: make([]float64, len(pts))}
	for i, pt := range pts {
		p.Times[i], p.Values[i] = pt.t, pt.v
	}
	return p, nil
}

// At evaluates the profile at time t. Before the first point the first
// value holds, after the last the last.
func (p Profile) At(t float64, mode Interpolation) float64 {
	n := len(p.Times)
	if n == 0 {
		return 0
	}
	i := sort.SearchFloat64s(p.Times, t)
	switch {
	case i < n && p.Times[i] == t:
		return p.Values[i]
	case i == 0:
		return p.Values[0]
	case i == n:
		return p.Values[n-1]
	}
	if mode == Step {
		return p.Values[i-1]
	}
	frac := (t - p.Times[i-1]) / (p.Times[i] - p.Times[i-1])
	return thermo.Lerp(p.Values[i-1], p.Values[i], frac)
}

// EngineController drives analog outputs from time profiles. It publishes
// in every phase so valves see the current command during BackIteration.
type EngineController struct {
	Base

	Outputs      []string
	Mode         Interpolation
	ControlRange float64
	Hold         bool      // freeze the current values
	Values       []float64 // last published, parallel to Outputs
	profiles     []Profile
}

// NewEngineController builds a controller. "outputs" is a comma-separated
// list of port names; each gets its profile from "profile_<name>".
func NewEngineController(name string, p Params) (*EngineController, error) {
	r := newParamReader(name, p)
	c := buildController(name, r)
	return c, r.Err()
}

func buildController(name string, r *paramReader) *EngineController {
	var outputs []string
	for _, o := range strings.Split(r.String("outputs", ""), ",") {
		if o = strings.TrimSpace(o); o != "" {
			outputs = append(outputs, o)
		}
	}
	c := &EngineController{
		Outputs:      outputs,
		ControlRange: r.Float("control_range", 1),
		Values:       make([]float64, len(outputs)),
		profiles:     make([]Profile, len(outputs)),
	}
	switch mode := r.String("interpolation", "step"); mode {
	case "step":
		c.Mode = Step
	case "linear":
		c.Mode = Linear
	default:
		r.errs = append(r.errs, fmt.Errorf("%w: %s.interpolation: want step or linear, got %q", ErrParamType, name, mode))
	}
	ports := make([]PortSpec, 0, len(outputs))
	for i, o := range outputs {
		ports = append(ports, analogOut(o))
		prof, err := ParseProfile(r.Floats("profile_"+o, nil))
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s.profile_%s: %w", name, o, err))
		}
		c.profiles[i] = prof
	}
	c.Base = newBase(name, "engine_controller", ports...)
	return c
}

// Fire implements Component.
func (c *EngineController) Fire(ctx context.Context, phase model.Phase, _ Inputs) error {
	now := c.missionTime()
	for i, o := range c.Outputs {
		if !c.Hold {
			c.Values[i] = model.AnalogPort{Value: c.profiles[i].At(now, c.Mode)}.ReadRange(c.ControlRange)
		}
		if err := c.emit(ctx, phase, o, model.AnalogPort{Value: c.Values[i]}); err != nil {
			return err
		}
	}
	return nil
}
