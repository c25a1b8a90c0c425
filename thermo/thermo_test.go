package thermo

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolyEvalAndDerivative(t *testing.T) {
	p := Poly{1, -2, 3} // 1 - 2x + 3x^2
	assert.InDelta(t, 1.0, p.Eval(0), 1e-15)
	assert.InDelta(t, 2.0, p.Eval(1), 1e-15)
	assert.InDelta(t, 9.0, p.Eval(2), 1e-15)

	d := p.Derivative() // -2 + 6x
	assert.Equal(t, Poly{-2, 6}, d)
	assert.Equal(t, 2, p.Degree())
	assert.Equal(t, Poly{0}, Poly{5}.Derivative())
}

func TestColebrookMatchesConvergedSolution(t *testing.T) {
	cases := []struct {
		re, rr, want float64
	}{
		{1e5, 1e-4, 0.0185138661},
		{1e4, 0, 0.0308829504},
	}
	for _, tc := range cases {
		got := Colebrook(tc.re, tc.rr)
		assert.InDelta(t, tc.want, got, 1e-6, "Re=%g rr=%g", tc.re, tc.rr)
	}
}

func TestDarcyFrictionLaminar(t *testing.T) {
	assert.InDelta(t, 64.0/1000, DarcyFriction(1000, 1e-4), 1e-15)
	assert.Equal(t, 0.0, DarcyFriction(0, 1e-4))
}

func TestHeliumPressureInvertsDensity(t *testing.T) {
	for _, p := range []float64{1e5, 2e6, 2e7, 3.5e7} {
		for _, temp := range []float64{150, 293.15, 350} {
			rho := HeliumDensity(p, temp)
			got, err := HeliumPressure(rho, temp)
			require.NoError(t, err)
			assert.InDelta(t, p, got, p*1e-8, "p=%g T=%g", p, temp)
		}
	}
}

func TestHeliumCompressibilityAboveIdealAtHighPressure(t *testing.T) {
	z := HeliumCompressibility(3e7, 300)
	assert.Greater(t, z, 1.1)
	assert.Less(t, z, 1.2)
	assert.InDelta(t, 1.0, HeliumCompressibility(1, 300), 1e-6)
}

func TestHeliumPressureRejectsInvalidInput(t *testing.T) {
	_, err := HeliumPressure(-1, 300)
	assert.ErrorIs(t, err, ErrInvalidInput)

	p, err := HeliumPressure(0, 300)
	require.NoError(t, err)
	assert.Equal(t, 0.0, p)
}

func TestHeliumPressureReportsDivergence(t *testing.T) {
	for _, rho := range []float64{800, 5000} {
		p, err := HeliumPressure(rho, 293.15)
		var ce *ConvergenceError
		require.True(t, errors.As(err, &ce), "rho=%g: err = %v", rho, err)
		assert.ErrorIs(t, err, ErrNoConvergence)
		assert.False(t, math.IsInf(p, 0), "rho=%g returned %g", rho, p)
	}
}

func TestHeliumStateFromDensityEnergyRoundTrip(t *testing.T) {
	const p, temp = 2.5e7, 280.0
	rho := HeliumDensity(p, temp)
	u := HeliumInternalEnergy(p, temp, rho)

	state, err := HeliumStateFromDensityEnergy(rho, u, 300)
	require.NoError(t, err)
	assert.InDelta(t, temp, state.Temperature, 1e-3)
	assert.InDelta(t, p, state.Pressure, p*1e-6)
}

func TestHeliumTransportPropertiesAtReference(t *testing.T) {
	assert.InDelta(t, 1.865e-5, HeliumViscosity(273.15), 1e-12)
	assert.InDelta(t, 0.1415, HeliumConductivity(273.15), 1e-12)
	props := Fluid{Name: FluidHelium, State: Gas}.Properties(1e5, 273.15)
	assert.InDelta(t, 0.68, props.Prandtl(), 0.03)
}

func TestLookupFluid(t *testing.T) {
	f, err := LookupFluid(" MMH ")
	require.NoError(t, err)
	assert.Equal(t, Liquid, f.State)
	assert.Equal(t, 874.0, f.Properties(1e6, 290).Density)

	_, err = LookupFluid("kerosene")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, []string{"helium", "mmh", "nto"}, FluidNames())
}

func TestExitPressureRatioResidual(t *testing.T) {
	const k, eps, pc = 1.2, 100.0, 2e6
	x, err := ExitPressureRatio(eps, k)
	require.NoError(t, err)
	pe := x * pc
	assert.Greater(t, pe, 0.0)
	assert.Less(t, math.Abs(eps-AreaRatio(pe/pc, k)), 1e-5)
	assert.InDelta(t, 1314.86, pe, 0.01)
}

func TestExitPressureRatioLowExpansion(t *testing.T) {
	for _, tc := range []struct{ eps, k float64 }{{2, 1.4}, {1.01, 1.4}, {40, 1.25}, {300, 1.15}} {
		x, err := ExitPressureRatio(tc.eps, tc.k)
		require.NoError(t, err, "eps=%g k=%g", tc.eps, tc.k)
		assert.InDelta(t, tc.eps, AreaRatio(x, tc.k), 1e-6)
	}
}

func TestExitPressureRatioInvalidNeverNaN(t *testing.T) {
	for _, tc := range []struct{ eps, k float64 }{{1, 1.2}, {0.5, 1.2}, {100, 1}, {math.NaN(), 1.2}} {
		x, err := ExitPressureRatio(tc.eps, tc.k)
		assert.Error(t, err)
		assert.False(t, math.IsNaN(x))
		assert.GreaterOrEqual(t, x, 0.0)
	}
}

func TestThrustCoefficientVacuum(t *testing.T) {
	x, err := ExitPressureRatio(100, 1.2)
	require.NoError(t, err)
	cf := ThrustCoefficient(x, 0, 100, 1.2)
	assert.Greater(t, cf, 1.8)
	assert.Less(t, cf, 2.1)
}

func TestSplitIteratorConvergesOnLinearError(t *testing.T) {
	// err(s) = 4e5 - 1e6*s has its root at s = 0.4.
	errAt := func(s float64) float64 { return 4e5 - 1e6*s }
	it := NewSplitIterator(0.5, 0.01)
	prev := math.Inf(1)
	for i := 0; i < 10; i++ {
		e := errAt(it.Split)
		if math.Abs(e) < 1 {
			break
		}
		assert.Less(t, math.Abs(e), prev)
		prev = math.Abs(e)
		it.Update(e, 0)
	}
	assert.InDelta(t, 0.4, it.Split, 1e-9)
}

func TestSplitIteratorClampsToUnitInterval(t *testing.T) {
	it := NewSplitIterator(0.99, 0.05)
	it.Update(1e6, 0)
	assert.Equal(t, 1.0, it.Split)
	it.Reset()
	it.Update(-1e6, 0)
	assert.InDelta(t, 0.95, it.Split, 1e-12)
}

func TestSplitIteratorScalesSeedToError(t *testing.T) {
	// err(s) = g - 8e4*(s - 0.5): a single step of 0.05 would move the
	// error by 4 kPa and overshoot every gap below 2 kPa.
	for _, gap := range []float64{150, 1e3, 1e4, 1e5, 1e6} {
		errAt := func(s float64) float64 { return gap - 8e4*(s-0.5) }
		it := NewSplitIterator(0.5, 0.05)
		first := it.Update(errAt(it.Split), 300e5)
		assert.Greater(t, first, 0.5)
		assert.LessOrEqual(t, first-0.5, 0.05)
		assert.Less(t, math.Abs(errAt(first)), gap, "gap %v", gap)
	}

	it := NewSplitIterator(0.5, 0.05)
	assert.InDelta(t, 0.45, it.Update(-2e6, 1e6), 1e-12)
}

func TestHeliumJKC(t *testing.T) {
	assert.InDelta(t, -5.452e-7, HeliumJKC(0, 300), 1e-10)

	mid := HeliumJKC(25e5, 300)
	assert.InDelta(t, (HeliumJKC(0, 300)+HeliumJKC(50e5, 300))/2, mid, 1e-15)

	// Clamped at the table edges.
	assert.Equal(t, HeliumJKC(350e5, 300), HeliumJKC(900e5, 300))
	assert.Equal(t, HeliumJKC(0, 100), HeliumJKC(-5, 20))
}

func TestThrottleTemperatureWarmsHelium(t *testing.T) {
	out := ThrottleTemperature(200e5, 20e5, 293)
	assert.Greater(t, out, 293.0)
	assert.Less(t, out, 305.0)
}

func TestConvectionCorrelations(t *testing.T) {
	assert.Equal(t, ForcedNusselt(MinConvectionReynolds, 0.7), ForcedNusselt(10, 0.7))
	assert.Equal(t, ForcedNusselt(MaxConvectionReynolds, 0.7), ForcedNusselt(1e9, 0.7))
	assert.Equal(t, 0.0, NaturalNusselt(0, 0.7))
	assert.InDelta(t, 0.59*math.Pow(1e6, 0.25), NaturalNusselt(1e6/0.7, 0.7), 1e-9)

	v := 0.05
	assert.InDelta(t, v, math.Pow(SphereDiameter(v), 3)*math.Pi/6, 1e-12)
	assert.InDelta(t, math.Pi*math.Pow(SphereDiameter(v), 2), SphereSurface(v), 1e-12)
}

func TestConvergenceErrorUnwraps(t *testing.T) {
	var err error = &ConvergenceError{Solver: "x", Iterations: 3}
	assert.True(t, errors.Is(err, ErrNoConvergence))
	assert.Contains(t, err.Error(), "3 iterations")
}
