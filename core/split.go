package core

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/propulsion-simulator/internal/logging"
	"github.com/signalsfoundry/propulsion-simulator/model"
)

// Split divides one stream into "left" and "right" by a ratio taken from
// the downstream demands of the last BackIteration.
type Split struct {
	Base

	Fluid string

	Ratio     float64 // fraction of the inlet flow sent to "left"
	LeftFlow  float64
	RightFlow float64

	ratioSet bool
	warned   bool
}

// NewSplit builds a split from params. An explicit "ratio" counts as
// initialized.
func NewSplit(name string, p Params) (*Split, error) {
	r := newParamReader(name, p)
	c := buildSplit(name, r)
	return c, r.Err()
}

func buildSplit(name string, r *paramReader) *Split {
	s := &Split{
		Base:  newBase(name, "split", fluidIn("in"), fluidOut("left"), fluidOut("right")),
		Fluid: r.String("fluid", ""),
		Ratio: 0.5,
	}
	if _, ok := r.params["ratio"]; ok {
		s.Ratio = r.Float("ratio", 0.5)
		s.ratioSet = true
	}
	if s.Ratio < 0 || s.Ratio > 1 {
		r.errs = append(r.errs, fmt.Errorf("%w: %s.ratio must be in [0,1], got %g", ErrParamType, name, s.Ratio))
		s.Ratio = 0.5
	}
	return s
}

// SetRatio fixes the left fraction until the next non-zero demand.
func (s *Split) SetRatio(ratio float64) {
	s.Ratio = ratio
	s.ratioSet = true
}

// Fire implements Component.
func (s *Split) Fire(ctx context.Context, phase model.Phase, in Inputs) error {
	if phase == model.BackIteration {
		var left, right float64
		if d, ok := s.demand(ctx, in, "left"); ok {
			left = d.MassFlow
		}
		if d, ok := s.demand(ctx, in, "right"); ok {
			right = d.MassFlow
		}
		if total := left + right; total > FlowThreshold {
			s.Ratio = left / total
			s.ratioSet = true
		}
		return s.emit(ctx, phase, "in", model.Demand(s.Fluid, left+right))
	}

	if !s.ratioSet {
		if !s.warned {
			s.logger().Warn(ctx, "split ratio never initialized, using 0.5", logging.Float("ratio", 0.5))
			s.warned = true
		}
		s.Ratio = 0.5
	}

	f, _ := in.Fluid("in")
	left, right := f, f
	left.MassFlow = f.MassFlow * s.Ratio
	right.MassFlow = f.MassFlow - left.MassFlow
	s.LeftFlow, s.RightFlow = left.MassFlow, right.MassFlow
	if err := s.emit(ctx, phase, "left", left); err != nil {
		return err
	}
	return s.emit(ctx, phase, "right", right)
}
