package thermo

// jkcBandStep is the pressure spacing of the JKC table bands (50 bar).
const jkcBandStep = 50e5

// heliumJKC holds helium Joule-Kelvin coefficients in K/Pa. Row i applies at
// i·50 bar; each row is a 4th-degree polynomial in temperature (K).
var heliumJKC = [8]Poly{
	{-2.886570e-07, -2.463207e-09, 9.852827e-12, -1.970565e-14, 1.576452e-17}, // 0 bar
	{-2.771108e-07, -2.364678e-09, 9.458714e-12, -1.891743e-14, 1.513394e-17}, // 50 bar
	{-2.655645e-07, -2.266150e-09, 9.064601e-12, -1.812920e-14, 1.450336e-17}, // 100 bar
	{-2.540182e-07, -2.167622e-09, 8.670488e-12, -1.734098e-14, 1.387278e-17}, // 150 bar
	{-2.424719e-07, -2.069094e-09, 8.276375e-12, -1.655275e-14, 1.324220e-17}, // 200 bar
	{-2.309256e-07, -1.970565e-09, 7.882262e-12, -1.576452e-14, 1.261162e-17}, // 250 bar
	{-2.193794e-07, -1.872037e-09, 7.488149e-12, -1.497630e-14, 1.198104e-17}, // 300 bar
	{-2.078331e-07, -1.773509e-09, 7.094035e-12, -1.418807e-14, 1.135046e-17}, // 350 bar
}

// JKCTemperatureRange is the temperature validity range of the table.
var JKCTemperatureRange = [2]float64{100, 400}

// HeliumJKC returns the Joule-Kelvin coefficient at (p,T) in K/Pa by linear
// interpolation between the bracketing pressure bands, each evaluated at T.
// Inputs outside the table are clamped to its edges.
func HeliumJKC(p, t float64) float64 {
	t = Clamp(t, JKCTemperatureRange[0], JKCTemperatureRange[1])
	pos := Clamp(p/jkcBandStep, 0, float64(len(heliumJKC)-1))
	lo := int(pos)
	if lo >= len(heliumJKC)-1 {
		return heliumJKC[len(heliumJKC)-1].Eval(t)
	}
	frac := pos - float64(lo)
	return Lerp(heliumJKC[lo].Eval(t), heliumJKC[lo+1].Eval(t), frac)
}

// ThrottleTemperature returns the outlet temperature of an isenthalpic
// throttle from pIn to pOut, using the coefficient at the mean pressure.
func ThrottleTemperature(pIn, pOut, tIn float64) float64 {
	mu := HeliumJKC((pIn+pOut)/2, tIn)
	return tIn + mu*(pOut-pIn)
}
