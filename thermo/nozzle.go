package thermo

import "math"

const (
	maxNozzleIterations = 100
	nozzleStepTolerance = 1e-13
)

// AreaRatio returns the supersonic nozzle area ratio Ae/At for the exit to
// chamber pressure ratio x = pe/pc and isentropic exponent k.
func AreaRatio(x, k float64) float64 {
	if x <= 0 || x >= 1 || k <= 1 {
		return math.NaN()
	}
	c := math.Pow((k+1)/2, 1/(k-1))
	a := (k + 1) / (k - 1)
	b := (k - 1) / k
	return 1 / (c * math.Pow(x, 1/k) * math.Sqrt(a*(1-math.Pow(x, b))))
}

// ExitPressureRatio solves AreaRatio(x, k) = areaRatio for the supersonic
// root x = pe/pc by Newton iteration on ln(1/AreaRatio) in ln(x). The start
// value is the large-expansion asymptote, which lies on the low-pressure side
// of the root; the function is concave there so the iteration approaches the
// root monotonically and never crosses into the subsonic branch.
//
// After 100 iterations without convergence it returns 0 and a
// *ConvergenceError. The result is never NaN or negative.
func ExitPressureRatio(areaRatio, k float64) (float64, error) {
	if areaRatio <= 1 || k <= 1 || math.IsNaN(areaRatio) || math.IsNaN(k) {
		return 0, invalid("nozzle area ratio %g, k %g", areaRatio, k)
	}
	c := math.Pow((k+1)/2, 1/(k-1))
	a := (k + 1) / (k - 1)
	b := (k - 1) / k
	lnTarget := math.Log(c) + 0.5*math.Log(a) + math.Log(areaRatio)

	u := k * math.Log(1/(areaRatio*c*math.Sqrt(a)))
	var step float64
	for i := 0; i < maxNozzleIterations; i++ {
		x := math.Exp(u)
		xb := math.Pow(x, b)
		if xb >= 1 {
			break
		}
		r := lnTarget + u/k + 0.5*math.Log(1-xb)
		d := 1/k - 0.5*b*xb/(1-xb)
		if d <= 0 || math.IsNaN(r) {
			break
		}
		step = r / d
		u -= step
		if math.Abs(step) < nozzleStepTolerance {
			return math.Exp(u), nil
		}
	}
	return 0, &ConvergenceError{Solver: "nozzle exit pressure", Iterations: maxNozzleIterations, Residual: step}
}

// ExpansionEstimate returns the asymptotic large-expansion pressure ratio
// used as the Newton start value. It is a usable low-pressure fallback.
func ExpansionEstimate(areaRatio, k float64) float64 {
	if areaRatio <= 1 || k <= 1 {
		return 0
	}
	c := math.Pow((k+1)/2, 1/(k-1))
	a := (k + 1) / (k - 1)
	return math.Pow(1/(areaRatio*c*math.Sqrt(a)), k)
}

// ThrustCoefficient returns the nozzle thrust coefficient for pressure ratio
// x = pe/pc, ambient ratio pa/pc and area ratio.
func ThrustCoefficient(x, ambientRatio, areaRatio, k float64) float64 {
	if x <= 0 || x >= 1 || k <= 1 {
		return 0
	}
	ideal := math.Sqrt(2 * k * k / (k - 1) * math.Pow(2/(k+1), (k+1)/(k-1)) * (1 - math.Pow(x, (k-1)/k)))
	return ideal + (x-ambientRatio)*areaRatio
}
