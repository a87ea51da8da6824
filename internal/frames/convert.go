package frames

import (
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Vec is a three-component vector in whichever frame the caller tracks.
type Vec [3]float64

// Norm returns the Euclidean length of v.
func (v Vec) Norm() float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

func (v Vec) scale(f float64) Vec {
	return Vec{v[0] * f, v[1] * f, v[2] * f}
}

func (v Vec) unit() Vec {
	n := v.Norm()
	if n == 0 {
		return Vec{math.NaN(), math.NaN(), math.NaN()}
	}
	return v.scale(1 / n)
}

func cross(a, b Vec) Vec {
	return Vec{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

// RotZ returns the Hapgood rotation <θ, Z>.
func RotZ(theta float64) *mat.Dense {
	s, c := math.Sincos(theta)
	return mat.NewDense(3, 3, []float64{
		c, s, 0,
		-s, c, 0,
		0, 0, 1,
	})
}

// RotX returns the Hapgood rotation <θ, X>.
func RotX(theta float64) *mat.Dense {
	s, c := math.Sincos(theta)
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, c, s,
		0, -s, c,
	})
}

// Apply multiplies m by v.
func Apply(m mat.Matrix, v Vec) Vec {
	var out mat.VecDense
	out.MulVec(m, mat.NewVecDense(3, []float64{v[0], v[1], v[2]}))
	return Vec{out.AtVec(0), out.AtVec(1), out.AtVec(2)}
}

func mul(ms ...mat.Matrix) *mat.Dense {
	acc := mat.DenseCopyOf(ms[0])
	for _, m := range ms[1:] {
		var next mat.Dense
		next.Mul(acc, m)
		acc = &next
	}
	return acc
}

// RTNBasis returns the R, T and N unit vectors, expressed in HEEQ, for a
// spacecraft at HEEQ Cartesian position pos. R points away from the Sun, T is
// parallel to the solar equatorial plane and N completes the right-handed
// set.
func RTNBasis(pos Vec) (r, t, n Vec) {
	r = pos.unit()
	t = cross(Vec{0, 0, 1}, r).unit()
	n = cross(r, t).unit()
	return r, t, n
}

// RTNToHEEQ rotates an RTN vector measured at HEEQ position pos into HEEQ.
func RTNToHEEQ(b, pos Vec) Vec {
	r, t, n := RTNBasis(pos)
	return Vec{
		b[0]*r[0] + b[1]*t[0] + b[2]*n[0],
		b[0]*r[1] + b[1]*t[1] + b[2]*n[1],
		b[0]*r[2] + b[1]*t[2] + b[2]*n[2],
	}
}

// HEEQToHEEMatrix returns the HEEQ to HEE rotation for time t.
//
// The node angle θ is the solution of tan θ = cos i · tan(λ☉ − Ω) lying in
// the half-plane opposite λ☉ − Ω, so that HEEQ X maps onto the Sun-Earth line.
func HEEQToHEEMatrix(t time.Time) *mat.Dense {
	a := NewAngles(t)
	omega := AscendingNode(a.MJD)
	lo := a.SunLongitude - omega
	theta := math.Atan(math.Cos(SolarInclination) * math.Tan(lo))
	if math.Abs(math.Remainder(lo-theta, 2*math.Pi)) < math.Pi/2 {
		theta += math.Pi
	}

	s1 := RotZ(a.SunLongitude + math.Pi)
	s2 := mul(RotZ(-omega), RotX(-SolarInclination), RotZ(-theta))
	return mul(s1, s2)
}

// HEEQToHEE rotates v from HEEQ to HEE at time t.
func HEEQToHEE(v Vec, t time.Time) Vec {
	return Apply(HEEQToHEEMatrix(t), v)
}

// HEEToGSE converts a field vector from HEE to GSE. The two frames share
// the Z axis and have opposite X and Y.
func HEEToGSE(v Vec) Vec {
	return Vec{-v[0], -v[1], v[2]}
}

// HEEQToGSE composes HEEQToHEE and HEEToGSE.
func HEEQToGSE(v Vec, t time.Time) Vec {
	return HEEToGSE(HEEQToHEE(v, t))
}

// RTNToGSE rotates an RTN vector measured at HEEQ position pos into GSE at
// time t.
func RTNToGSE(b, pos Vec, t time.Time) Vec {
	return HEEQToGSE(RTNToHEEQ(b, pos), t)
}

// DipoleTilt returns ψ, the GSE to GSM rotation angle about X at time t.
func DipoleTilt(t time.Time) float64 {
	a := NewAngles(t)
	lat, lon := GeomagneticPole(a.MJD)
	qg := Vec{
		math.Cos(lat) * math.Cos(lon),
		math.Cos(lat) * math.Sin(lon),
		math.Sin(lat),
	}

	t1 := RotZ(a.GMST)
	t2 := mul(RotZ(a.SunLongitude), RotX(a.Obliquity))
	qe := Apply(mul(t2, t1.T()), qg)
	return math.Atan(qe[1] / qe[2])
}

// GSEToGSM rotates v from GSE to GSM at time t.
func GSEToGSM(v Vec, t time.Time) Vec {
	return Apply(RotX(-DipoleTilt(t)), v)
}

// CartToSphere returns radius, latitude and longitude (radians) of v.
func CartToSphere(v Vec) (r, lat, lon float64) {
	r = v.Norm()
	lat = math.Atan2(v[2], math.Hypot(v[0], v[1]))
	lon = math.Atan2(v[1], v[0])
	return r, lat, lon
}

// SphereToCart is the inverse of CartToSphere.
func SphereToCart(r, lon, lat float64) Vec {
	return Vec{
		r * math.Cos(lat) * math.Cos(lon),
		r * math.Cos(lat) * math.Sin(lon),
		r * math.Sin(lat),
	}
}
