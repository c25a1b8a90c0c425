package thermo

import "math"

const (
	colebrookPasses = 6
	laminarReynolds = 2300.0
	colebrookSeed   = 0.02
)

// Colebrook returns the Darcy friction factor from the Colebrook-White
// equation, iterated as a fixed point for six passes starting from f=0.02.
// relRoughness is roughness/diameter.
func Colebrook(re, relRoughness float64) float64 {
	f := colebrookSeed
	for i := 0; i < colebrookPasses; i++ {
		x := -2 * math.Log10(relRoughness/3.7+2.51/(re*math.Sqrt(f)))
		f = 1 / (x * x)
	}
	return f
}

// DarcyFriction returns 64/Re below the laminar limit and Colebrook above it.
func DarcyFriction(re, relRoughness float64) float64 {
	if re <= 0 {
		return 0
	}
	if re < laminarReynolds {
		return 64 / re
	}
	return Colebrook(re, relRoughness)
}

// Reynolds returns rho·v·D/mu expressed through mass flow: 4·mdot/(pi·D·mu).
func Reynolds(mdot, diameter, viscosity float64) float64 {
	if diameter <= 0 || viscosity <= 0 {
		return 0
	}
	return 4 * math.Abs(mdot) / (math.Pi * diameter * viscosity)
}

// DarcyPressureDrop returns f·(L/D)·rho·v²/2 for a circular duct.
func DarcyPressureDrop(mdot, diameter, length, density, friction float64) float64 {
	if diameter <= 0 || density <= 0 {
		return 0
	}
	area := math.Pi * diameter * diameter / 4
	v := mdot / (density * area)
	return friction * length / diameter * density * v * math.Abs(v) / 2
}
