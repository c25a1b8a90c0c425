package thermo

import (
	"fmt"
	"sort"
	"strings"
)

// FluidState distinguishes gas streams from incompressible liquid streams.
type FluidState int

const (
	Gas FluidState = iota
	Liquid
)

// Properties are the transport and caloric properties of a fluid at (p,T).
type Properties struct {
	Density      float64 // kg/m^3
	Cp           float64 // J/(kg K)
	Viscosity    float64 // Pa s
	Conductivity float64 // W/(m K)
}

// Prandtl returns cp·mu/k.
func (p Properties) Prandtl() float64 {
	if p.Conductivity <= 0 {
		return 0
	}
	return p.Cp * p.Viscosity / p.Conductivity
}

// Fluid is an entry of the fluid catalogue.
type Fluid struct {
	Name  string
	State FluidState

	// Liquid constants; ignored for helium, whose properties come from the
	// real-gas correlations.
	Density      float64
	Cp           float64
	Viscosity    float64
	Conductivity float64
}

// Properties evaluates the fluid at (p,T).
func (f Fluid) Properties(p, t float64) Properties {
	if f.State == Gas {
		return Properties{
			Density:      HeliumDensity(p, t),
			Cp:           HeliumCp,
			Viscosity:    HeliumViscosity(t),
			Conductivity: HeliumConductivity(t),
		}
	}
	return Properties{
		Density:      f.Density,
		Cp:           f.Cp,
		Viscosity:    f.Viscosity,
		Conductivity: f.Conductivity,
	}
}

// IsGas reports whether the fluid is compressible.
func (f Fluid) IsGas() bool { return f.State == Gas }

// Catalogue names.
const (
	FluidHelium = "helium"
	FluidMMH    = "mmh"
	FluidNTO    = "nto"
)

var catalogue = map[string]Fluid{
	FluidHelium: {Name: FluidHelium, State: Gas},
	FluidMMH: {
		Name:         FluidMMH,
		State:        Liquid,
		Density:      874,
		Cp:           2920,
		Viscosity:    8.55e-4,
		Conductivity: 0.25,
	},
	FluidNTO: {
		Name:         FluidNTO,
		State:        Liquid,
		Density:      1443,
		Cp:           1550,
		Viscosity:    4.2e-4,
		Conductivity: 0.13,
	},
}

// LookupFluid returns the catalogue entry for name (case-insensitive).
func LookupFluid(name string) (Fluid, error) {
	f, ok := catalogue[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Fluid{}, fmt.Errorf("%w: unknown fluid %q (known: %s)", ErrInvalidInput, name, strings.Join(FluidNames(), ", "))
	}
	return f, nil
}

// FluidNames lists catalogue names in sorted order.
func FluidNames() []string {
	names := make([]string, 0, len(catalogue))
	for n := range catalogue {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
