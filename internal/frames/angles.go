// Package frames converts magnetic field vectors between the heliophysics
// frames used by the solar wind pipeline: spacecraft RTN, heliocentric HEEQ
// and HEE, and geocentric GSE and GSM.
//
// All angles follow the low-precision expressions of Hapgood (1992),
// "Space physics coordinate transformations: a user guide", which are good
// to roughly an arc-minute for dates within a century of J2000. Every
// timestamp is converted independently; nothing is cached between samples.
//
// Rotation matrices follow Hapgood's convention <θ, axis>: a rotation of the
// coordinate system by θ about the given axis.
package frames

import (
	"math"
	"time"
)

const (
	deg = math.Pi / 180.0

	// mjdJ2000 is the modified Julian date of 2000-01-01 12:00 UT.
	mjdJ2000 = 51544.5
	// mjdUnixEpoch is the modified Julian date of 1970-01-01 00:00 UT.
	mjdUnixEpoch = 40587
	// mjdPoleEpoch is the reference epoch (1985-01-01) of the drifting
	// geomagnetic pole position.
	mjdPoleEpoch = 46066

	secondsPerDay = 86400

	// SolarInclination is the inclination of the solar equator to the
	// ecliptic.
	SolarInclination = 7.25 * deg
)

// Angles holds the astronomical angles of a single timestamp. Angular fields
// are in radians.
type Angles struct {
	MJD float64 // modified Julian date, whole days
	UT  float64 // hours since 00:00 UT
	T0  float64 // Julian centuries from J2000 to MJD

	SunLongitude float64 // λ☉, Sun's ecliptic longitude
	MeanAnomaly  float64 // M
	Obliquity    float64 // ε, obliquity of the ecliptic
	GMST         float64 // θ, Greenwich mean sidereal time
}

// NewAngles computes the angles for t (converted to UTC).
func NewAngles(t time.Time) Angles {
	t = t.UTC()
	mjd := MJD(t)
	ut := UTHours(t)
	t0 := (mjd - mjdJ2000) / 36525.0

	meanLon := 280.460 + 36000.772*t0 + 0.04107*ut
	m := 357.528 + 35999.050*t0 + 0.04107*ut
	lambda := meanLon + (1.915-0.0048*t0)*math.Sin(m*deg) + 0.020*math.Sin(2*m*deg)

	return Angles{
		MJD:          mjd,
		UT:           ut,
		T0:           t0,
		SunLongitude: lambda * deg,
		MeanAnomaly:  m * deg,
		Obliquity:    (23.439 - 0.013*t0) * deg,
		GMST:         (100.461 + 36000.770*t0 + 15.04107*ut) * deg,
	}
}

// MJD returns the modified Julian date of the day containing t, truncated to
// whole days. Hapgood's expressions take the time of day separately as UT.
func MJD(t time.Time) float64 {
	days := t.Unix() / secondsPerDay
	if t.Unix() < 0 && t.Unix()%secondsPerDay != 0 {
		days--
	}
	return float64(days + mjdUnixEpoch)
}

// UTHours returns the time of day of t in decimal hours.
func UTHours(t time.Time) float64 {
	t = t.UTC()
	return float64(t.Hour()) + float64(t.Minute())/60.0 +
		(float64(t.Second())+float64(t.Nanosecond())/1e9)/3600.0
}

// AscendingNode returns Ω, the ecliptic longitude of the ascending node of
// the solar equator, for the given modified Julian date.
func AscendingNode(mjd float64) float64 {
	return (73.6667 + 0.013958*((mjd+3242)/365.25)) * deg
}

// GeomagneticPole returns the latitude and longitude (radians) of the north
// geomagnetic pole in geographic coordinates. The pole drifts linearly from
// its 1985 position.
func GeomagneticPole(mjd float64) (lat, lon float64) {
	years := (mjd - mjdPoleEpoch) / 365.25
	lat = (78.8 + 4.283*years*0.01) * deg
	lon = (289.1 - 1.413*years*0.01) * deg
	return lat, lon
}

// SunDistance returns the Sun-Earth distance in AU at t.
func SunDistance(t time.Time) float64 {
	m := NewAngles(t).MeanAnomaly
	return 1.00014 - 0.01671*math.Cos(m) - 0.00014*math.Cos(2*m)
}

// EarthHEEQ returns Earth's position in HEEQ, in AU, at t. Earth lies on the
// HEE X axis by definition; the HEEQ latitude is the solar B0 angle.
func EarthHEEQ(t time.Time) Vec {
	hee := Vec{SunDistance(t), 0, 0}
	return Apply(HEEQToHEEMatrix(t).T(), hee)
}
