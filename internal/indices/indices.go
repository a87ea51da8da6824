// Package indices implements empirical solar wind coupling and geomagnetic
// index formulas over plain arrays. Units: speed km/s, density cm⁻³, field
// nT, time seconds since the Unix epoch.
package indices

import (
	"math"
)

// protonMassFactor converts n[cm⁻³]·v²[km²/s²] to nPa.
const protonMassFactor = 1.6726e-6

// Btot returns the field magnitude √(bx²+by²+bz²) per sample.
func Btot(bx, by, bz []float64) []float64 {
	out := make([]float64, len(bx))
	for i := range out {
		out[i] = math.Sqrt(bx[i]*bx[i] + by[i]*by[i] + bz[i]*bz[i])
	}
	return out
}

// Pdyn returns the solar wind dynamic pressure in nPa.
func Pdyn(density, speed []float64) []float64 {
	out := make([]float64, len(density))
	for i := range out {
		out[i] = protonMassFactor * density[i] * speed[i] * speed[i]
	}
	return out
}

// NewellCoupling returns the Newell et al. (2007) coupling function
// dΦ/dt = v^(4/3) Bt^(2/3) sin^(8/3)(θ/2), with Bt the transverse field
// √(by²+bz²) and θ the clock angle atan2(by, bz). by and bz are GSM.
func NewellCoupling(by, bz, speed []float64) []float64 {
	out := make([]float64, len(by))
	for i := range out {
		bt := math.Hypot(by[i], bz[i])
		theta := math.Atan2(by[i], bz[i])
		out[i] = math.Pow(math.Abs(speed[i]), 4.0/3.0) *
			math.Pow(bt, 2.0/3.0) *
			math.Pow(math.Abs(math.Sin(theta/2)), 8.0/3.0)
	}
	return out
}

// ElectricField returns the dawn-dusk electric field v·Bs in mV/m, where Bs
// is the southward component of bz (zero when bz >= 0).
func ElectricField(speed, bz float64) float64 {
	bs := 0.0
	if bz < 0 {
		bs = -bz
	}
	return speed * bs * 1e-3
}
