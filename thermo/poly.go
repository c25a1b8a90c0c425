package thermo

// Poly is a polynomial with coefficients in ascending order of power:
// Poly{a0, a1, a2} evaluates a0 + a1*x + a2*x^2.
type Poly []float64

// Eval evaluates p at x using Horner's scheme.
func (p Poly) Eval(x float64) float64 {
	v := 0.0
	for i := len(p) - 1; i >= 0; i-- {
		v = v*x + p[i]
	}
	return v
}

// Derivative returns dp/dx as a new polynomial.
func (p Poly) Derivative() Poly {
	if len(p) <= 1 {
		return Poly{0}
	}
	d := make(Poly, len(p)-1)
	for i := 1; i < len(p); i++ {
		d[i-1] = float64(i) * p[i]
	}
	return d
}

// Degree returns the nominal degree of p.
func (p Poly) Degree() int {
	return len(p) - 1
}

// Lerp linearly interpolates between a and b for t in [0,1].
func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
