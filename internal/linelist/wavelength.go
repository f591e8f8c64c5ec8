// Package linelist builds calibration arc line lists from a reference
// catalog: air/vacuum conversion, subset matching and the ASCII output.
package linelist

import "math"

// AirToVacuum converts an air wavelength in Angstrom to vacuum using the
// IDL airtovac relation (Ciddor-like two-term dispersion).
func AirToVacuum(air float64) float64 {
	sigma2 := math.Pow(1e4/air, 2)
	fact := 1 + 5.792105e-2/(238.0185-sigma2) + 1.67917e-3/(57.362-sigma2)
	return air * fact
}

// VacuumToAir inverts AirToVacuum by fixed-point iteration.
func VacuumToAir(vac float64) float64 {
	air := vac
	for i := 0; i < 8; i++ {
		air = vac * air / AirToVacuum(air)
	}
	return air
}

// AirToVacuumAll converts every wavelength of lines in a new slice.
func AirToVacuumAll(lines []Line) []Line {
	out := make([]Line, len(lines))
	for i, l := range lines {
		out[i] = Line{Wave: AirToVacuum(l.Wave), Ion: l.Ion}
	}
	return out
}
