package thermo

import "math"

// Helium constants.
const (
	UniversalGasConstant = 8.314462618 // J/(mol K)
	HeliumMolarMass      = 4.002602e-3 // kg/mol
	HeliumR              = UniversalGasConstant / HeliumMolarMass
	HeliumCp             = 5193.1 // J/(kg K), ideal-gas
	HeliumCv             = HeliumCp - HeliumR
	HeliumGamma          = HeliumCp / HeliumCv
)

// Virial coefficients for helium: B(T) = heB0 - heB1/T [m^3/mol], C [m^6/mol^2].
const (
	heB0 = 12.4e-6
	heB1 = 1.6e-4
	heC  = 1.0e-10
)

const (
	maxPressureIterations = 1000
	maxStateIterations    = 100
)

// HeliumSecondVirial returns B(T) in m^3/mol.
func HeliumSecondVirial(t float64) float64 {
	return heB0 - heB1/t
}

// HeliumCompressibility returns the compressibility factor Z(p,T) from the
// pressure-explicit virial series truncated after the quadratic term.
func HeliumCompressibility(p, t float64) float64 {
	b := HeliumSecondVirial(t)
	q := p / (UniversalGasConstant * t)
	return 1 + b*q + (heC-b*b)*q*q
}

// HeliumDensity returns the density at (p,T) in kg/m^3.
func HeliumDensity(p, t float64) float64 {
	if t <= 0 {
		return 0
	}
	return p / (HeliumCompressibility(p, t) * HeliumR * t)
}

// HeliumPressure solves p = Z(p,T)·rho·R·T for p by fixed-point iteration,
// starting from the ideal-gas value. At most 1000 steps are taken; on the cap
// the last iterate is returned together with a *ConvergenceError.
func HeliumPressure(rho, t float64) (float64, error) {
	if rho < 0 || t <= 0 || math.IsNaN(rho) || math.IsNaN(t) {
		return 0, invalid("helium pressure rho=%g T=%g", rho, t)
	}
	if rho == 0 {
		return 0, nil
	}
	ideal := rho * HeliumR * t
	p := ideal
	var delta float64
	for i := 0; i < maxPressureIterations; i++ {
		next := HeliumCompressibility(p, t) * ideal
		if math.IsInf(next, 0) || math.IsNaN(next) {
			return p, &ConvergenceError{Solver: "helium pressure", Iterations: i + 1, Residual: math.Inf(1)}
		}
		delta = math.Abs(next - p)
		p = next
		if delta <= 1e-9*p {
			return p, nil
		}
	}
	return p, &ConvergenceError{Solver: "helium pressure", Iterations: maxPressureIterations, Residual: delta}
}

// HeliumEnthalpy returns the specific enthalpy in J/kg, referenced to 0 K in
// the ideal-gas limit, with the first-order virial residual term.
func HeliumEnthalpy(p, t float64) float64 {
	return HeliumCp*t + (heB0-2*heB1/t)*p/HeliumMolarMass
}

// HeliumInternalEnergy returns u = h - p/rho in J/kg.
func HeliumInternalEnergy(p, t, rho float64) float64 {
	if rho <= 0 {
		return HeliumCv * t
	}
	return HeliumEnthalpy(p, t) - p/rho
}

// HeliumViscosity returns the dynamic viscosity in Pa·s.
func HeliumViscosity(t float64) float64 {
	return 1.865e-5 * math.Pow(t/273.15, 0.7)
}

// HeliumConductivity returns the thermal conductivity in W/(m K).
func HeliumConductivity(t float64) float64 {
	return 0.1415 * math.Pow(t/273.15, 0.7)
}

// HeliumState is a consistent (p, T) pair for a given density.
type HeliumState struct {
	Pressure    float64
	Temperature float64
}

// HeliumStateFromDensityEnergy finds the temperature whose real-gas internal
// energy at density rho equals u, iterating pressure and enthalpy together:
// each pass solves p(rho,T) and corrects T by (u - u(p,T,rho))/cv. guess seeds
// the temperature. On the iteration cap the last state is returned with a
// *ConvergenceError.
func HeliumStateFromDensityEnergy(rho, u, guess float64) (HeliumState, error) {
	if rho <= 0 || guess <= 0 {
		return HeliumState{}, invalid("helium state rho=%g guess=%g", rho, guess)
	}
	t := guess
	var state HeliumState
	var residual float64
	for i := 0; i < maxStateIterations; i++ {
		p, err := HeliumPressure(rho, t)
		if err != nil {
			return HeliumState{Pressure: p, Temperature: t}, err
		}
		residual = u - HeliumInternalEnergy(p, t, rho)
		state = HeliumState{Pressure: p, Temperature: t}
		if math.Abs(residual) < 1e-6*HeliumCv {
			return state, nil
		}
		t += residual / HeliumCv
		if t <= 0 {
			t = 1
		}
	}
	return state, &ConvergenceError{Solver: "helium state", Iterations: maxStateIterations, Residual: residual}
}
