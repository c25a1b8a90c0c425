package thermo

import "math"

// Reynolds bounds for the forced-convection correlation.
const (
	MinConvectionReynolds = 1000.0
	MaxConvectionReynolds = 2e6
)

// StandardGravity in m/s^2.
const StandardGravity = 9.80665

// ForcedNusselt returns the Dittus-Boelter Nusselt number with Re clamped to
// [1000, 2e6].
func ForcedNusselt(re, pr float64) float64 {
	re = Clamp(re, MinConvectionReynolds, MaxConvectionReynolds)
	if pr <= 0 {
		return 0
	}
	return 0.023 * math.Pow(re, 0.8) * math.Pow(pr, 0.4)
}

// ForcedHeatTransferCoefficient returns h = Nu·k/D for pipe flow.
func ForcedHeatTransferCoefficient(mdot, diameter float64, props Properties) float64 {
	if diameter <= 0 {
		return 0
	}
	re := Reynolds(mdot, diameter, props.Viscosity)
	return ForcedNusselt(re, props.Prandtl()) * props.Conductivity / diameter
}

// Grashof returns g·beta·|dT|·L³/nu².
func Grashof(gravity, beta, deltaT, length, density, viscosity float64) float64 {
	if viscosity <= 0 || density <= 0 {
		return 0
	}
	nu := viscosity / density
	return math.Abs(gravity) * beta * math.Abs(deltaT) * length * length * length / (nu * nu)
}

// NaturalNusselt returns the Nusselt number for free convection along a
// vertical wall: 0.59·Ra^¼ in the laminar range, 0.13·Ra^⅓ above 1e9.
func NaturalNusselt(gr, pr float64) float64 {
	ra := gr * pr
	if ra <= 0 {
		return 0
	}
	if ra < 1e9 {
		return 0.59 * math.Pow(ra, 0.25)
	}
	return 0.13 * math.Pow(ra, 1.0/3.0)
}

// NaturalHeatTransferCoefficient returns h for a gas volume of characteristic
// length l exchanging heat with a wall at deltaT = Twall - Tgas. Gas expansion
// coefficient is taken as 1/T.
func NaturalHeatTransferCoefficient(gravity, deltaT, length, gasTemperature float64, props Properties) float64 {
	if length <= 0 || gasTemperature <= 0 {
		return 0
	}
	gr := Grashof(gravity, 1/gasTemperature, deltaT, length, props.Density, props.Viscosity)
	return NaturalNusselt(gr, props.Prandtl()) * props.Conductivity / length
}

// SphereSurface returns the surface of a sphere of the given volume.
func SphereSurface(volume float64) float64 {
	if volume <= 0 {
		return 0
	}
	return math.Cbrt(math.Pi) * math.Pow(6*volume, 2.0/3.0)
}

// SphereDiameter returns the diameter of a sphere of the given volume.
func SphereDiameter(volume float64) float64 {
	if volume <= 0 {
		return 0
	}
	return math.Cbrt(6 * volume / math.Pi)
}
