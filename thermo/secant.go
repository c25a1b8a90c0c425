package thermo

import "math"

// SplitIterator adjusts a split factor in [0,1] so that a hydraulic error
// (typically the pressure difference between two merging streams) goes to
// zero. The first update steps in the direction of the error by
//
//	SeedStep·min(1, |err|/scale)
//
// so a small error relative to the working pressure moves the split only
// slightly. Subsequent updates use the secant
//
//	split = split + err·(split − splitPrev)/(errPrev − err)
type SplitIterator struct {
	Split    float64
	SeedStep float64

	prevSplit float64
	prevErr   float64
	started   bool
}

// NewSplitIterator returns an iterator starting at split with the given seed.
func NewSplitIterator(split, seed float64) *SplitIterator {
	if seed <= 0 {
		seed = 0.01
	}
	return &SplitIterator{Split: Clamp(split, 0, 1), SeedStep: seed}
}

// Update consumes the hydraulic error observed at the current split and
// returns the split to use next. A positive error increases the split.
// scale is the magnitude the error is measured against; zero or less
// takes the full SeedStep on seed moves.
func (s *SplitIterator) Update(hydrErr, scale float64) float64 {
	current := s.Split
	var next float64
	switch {
	case !s.started, hydrErr == s.prevErr, current == s.prevSplit:
		next = current + s.seed(hydrErr, scale)
	default:
		next = current + hydrErr*(current-s.prevSplit)/(s.prevErr-hydrErr)
	}
	if math.IsNaN(next) || math.IsInf(next, 0) {
		next = current + s.seed(hydrErr, scale)
	}
	s.prevSplit = current
	s.prevErr = hydrErr
	s.started = true
	s.Split = Clamp(next, 0, 1)
	return s.Split
}

func (s *SplitIterator) seed(hydrErr, scale float64) float64 {
	step := s.SeedStep
	if scale > 0 {
		step *= math.Min(1, math.Abs(hydrErr)/scale)
	}
	return math.Copysign(step, hydrErr)
}

// Reset forgets the secant history while keeping the current split.
func (s *SplitIterator) Reset() {
	s.started = false
	s.prevErr = 0
	s.prevSplit = 0
}
