// Package ewald provides the long-range electrostatics correction
// tabulation consumed by the tabulated Ewald kernel flavors.
package ewald

import (
	"fmt"
	"math"
)

// twoOverSqrtPi = 2/sqrt(pi), the derivative prefactor of erf.
const twoOverSqrtPi = 1.1283791670955126

// ForceCorrection evaluates the scaled Ewald force correction at distance r
// for splitting parameter beta:
//
//	f(r) = erfc(beta r)/r^2 + 2 beta/sqrt(pi) * exp(-(beta r)^2)/r
//
// This is the radial derivative magnitude of erfc(beta r)/r, the screened
// Coulomb potential the short-range kernel must reproduce.
func ForceCorrection(r, beta float64) float64 {
	br := beta * r
	return math.Erfc(br)/(r*r) + twoOverSqrtPi*beta*math.Exp(-br*br)/r
}

// FillForceTable samples the force correction on a uniform grid with the
// given spacing: tab[i] = f(i*spacing). The r=0 singularity is not sampled;
// slot 0 duplicates slot 1 so interpolation near the origin stays finite
// (pairs closer than one table spacing are excluded upstream).
func FillForceTable(tab []float32, spacing, beta float64) error {
	if len(tab) < 2 {
		return fmt.Errorf("ewald: table too small (%d samples)", len(tab))
	}
	if spacing <= 0 || beta <= 0 {
		return fmt.Errorf("ewald: invalid tabulation (spacing=%g beta=%g)", spacing, beta)
	}
	for i := 1; i < len(tab); i++ {
		r := float64(i) * spacing
		tab[i] = float32(ForceCorrection(r, beta))
	}
	tab[0] = tab[1]
	return nil
}
