// Package propagate maps solar wind measured away from the Sun-Earth line
// onto the L1 point. Timing follows the Parker spiral (Simunac et al. 2009,
// Thomas et al. 2018) and magnitudes are scaled for radial expansion.
package propagate

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/IWF-helio/PREDSTORM/internal/ephem"
	"github.com/IWF-helio/PREDSTORM/internal/satdata"
)

const (
	// DistToL1 is the distance from Earth to L1 in km.
	DistToL1 = 1.5e6
	// DefaultSunSynodicDays is the solar rotation period seen from Earth.
	DefaultSunSynodicDays = 26.24

	secondsPerDay = 86400.0
)

// LagMethod selects how ShiftTimeToL1 computes the time lag.
type LagMethod int

const (
	// LagPerSample computes one lag per sample from its position and speed.
	LagPerSample LagMethod = iota
	// LagMeanSpeed applies a single lag computed at the last sample with the
	// mean speed of the series.
	LagMeanSpeed
)

func (m LagMethod) String() string {
	if m == LagMeanSpeed {
		return "mean-speed"
	}
	return "per-sample"
}

// ParseLagMethod resolves a method name as used on the command line.
func ParseLagMethod(name string) (LagMethod, error) {
	switch strings.ToLower(name) {
	case "per-sample", "new", "":
		return LagPerSample, nil
	case "mean-speed", "old":
		return LagMeanSpeed, nil
	}
	return 0, fmt.Errorf("unknown lag method %q", name)
}

// Propagator shifts series to L1. Ephemeris answers the position queries for
// the spacecraft (named by Series.Source) and for Earth.
type Propagator struct {
	Ephemeris      ephem.Provider
	SunSynodicDays float64
	Method         LagMethod
}

// New returns a Propagator with the default rotation period and per-sample
// lags.
func New(p ephem.Provider) *Propagator {
	return &Propagator{
		Ephemeris:      p,
		SunSynodicDays: DefaultSunSynodicDays,
		Method:         LagPerSample,
	}
}

func (p *Propagator) synodicDays() float64 {
	if p.SunSynodicDays > 0 {
		return p.SunSynodicDays
	}
	return DefaultSunSynodicDays
}

// LoadPositions fills s.Position with the spacecraft positions at the
// series' own timestamps.
func (p *Propagator) LoadPositions(ctx context.Context, s *satdata.Series, opts ephem.Options) error {
	if p.Ephemeris == nil {
		return fmt.Errorf("load positions for %q: no ephemeris provider: %w", s.Source, satdata.ErrMissingPrerequisite)
	}
	pos, err := p.Ephemeris.Trajectory(ctx, s.Source, s.Time(), opts)
	if err != nil {
		return fmt.Errorf("load positions for %q: %w", s.Source, err)
	}
	pos.Header.Object = ephem.NormalizeBody(s.Source)
	s.Position = pos
	return nil
}

// L1Positions returns the L1 point at times as radius, longitude and
// latitude: Earth's position moved DistToL1 towards the Sun.
func (p *Propagator) L1Positions(ctx context.Context, times []float64, opts ephem.Options) (*satdata.Position, error) {
	if p.Ephemeris == nil {
		return nil, fmt.Errorf("l1 positions: no ephemeris provider: %w", satdata.ErrMissingPrerequisite)
	}
	kmPer, err := ephem.KmPer(opts.Units)
	if err != nil {
		return nil, fmt.Errorf("l1 positions: %w", err)
	}
	opts.Spherical = true
	earth, err := p.Ephemeris.Trajectory(ctx, ephem.Earth, times, opts)
	if err != nil {
		return nil, fmt.Errorf("l1 positions: %w", err)
	}
	r, _ := earth.Component("r")
	lon, _ := earth.Component("lon")
	lat, _ := earth.Component("lat")
	l1r := make([]float64, len(r))
	for i := range r {
		l1r[i] = r[i] - DistToL1/kmPer
	}
	l1, err := satdata.NewPositionFromComponents(l1r, lon, lat, satdata.Spherical)
	if err != nil {
		return nil, fmt.Errorf("l1 positions: %w", err)
	}
	l1.Header = earth.Header
	l1.Header.Object = "L1"
	return l1, nil
}

// geometry is the spacecraft and L1 geometry of a series, per sample.
type geometry struct {
	r, lon, lat []float64 // spacecraft, lon and lat in radians
	l1r, l1lat  []float64
	kmPer       float64
}

func (p *Propagator) ensurePositions(ctx context.Context, s *satdata.Series, op string) error {
	if s.Position == nil {
		log.Printf("propagate: %s: no positions for %q, loading from ephemeris", op, s.Source)
		if err := p.LoadPositions(ctx, s, ephem.DefaultOptions()); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if s.Position.Len() != s.Len() {
		return fmt.Errorf("%s: %d positions for %d samples: %w", op, s.Position.Len(), s.Len(), satdata.ErrMissingPrerequisite)
	}
	return nil
}

func (p *Propagator) geometry(ctx context.Context, s *satdata.Series, op string) (*geometry, error) {
	if err := p.ensurePositions(ctx, s, op); err != nil {
		return nil, err
	}
	h := s.Position.Header
	opts := ephem.Options{Frame: h.ReferenceFrame, Units: h.Units, Observer: h.Observer, Spherical: true}
	if opts.Frame == "" {
		opts.Frame = "HEEQ"
	}
	if opts.Units == "" {
		opts.Units = "AU"
	}
	if opts.Observer == "" {
		opts.Observer = ephem.Sun
	}
	kmPer, err := ephem.KmPer(opts.Units)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	l1, err := p.L1Positions(ctx, s.Time(), opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	n := s.Len()
	g := &geometry{
		r:     make([]float64, n),
		lon:   make([]float64, n),
		lat:   make([]float64, n),
		kmPer: kmPer,
	}
	for i := 0; i < n; i++ {
		g.r[i], g.lon[i], g.lat[i] = s.Position.Spherical(i)
	}
	g.l1r, _ = l1.Component("r")
	g.l1lat, _ = l1.Component("lat")
	return g, nil
}

// longitudeLag is the corotation delay in seconds for a spacecraft at
// longitude lon (radians) from Earth.
func (p *Propagator) longitudeLag(lon float64) float64 {
	deg := math.Abs(lon) * 180 / math.Pi
	return deg / (360 / p.synodicDays()) * secondsPerDay
}

// radialLag is the travel time in seconds between the spacecraft and L1
// distances at speed v (km/s). Wind observed further out arrived at L1
// earlier, hence the sign. NaN or non-positive speeds give no radial lag.
// Lags fills speed gaps before calling it, so this only happens for a
// series without any valid speed.
func radialLag(r, l1r, kmPer, v float64) float64 {
	if math.IsNaN(v) || v <= 0 || math.IsNaN(r) || math.IsNaN(l1r) {
		return 0
	}
	return -(r - l1r) * kmPer / v
}

// Lags returns the per-sample time lag in seconds that ShiftTimeToL1 would
// add to s.
func (p *Propagator) Lags(ctx context.Context, s *satdata.Series) ([]float64, error) {
	speed, err := s.Get(satdata.VarSpeed)
	if err != nil {
		return nil, fmt.Errorf("l1 lags: %w", err)
	}
	n := s.Len()
	if n == 0 {
		return nil, nil
	}
	g, err := p.geometry(ctx, s, "l1 lags")
	if err != nil {
		return nil, err
	}

	lags := make([]float64, n)
	switch p.Method {
	case LagMeanSpeed:
		last := n - 1
		lag := p.longitudeLag(g.lon[last]) + radialLag(g.r[last], g.l1r[last], g.kmPer, satdata.NaNMean(speed))
		for i := range lags {
			lags[i] = lag
		}
	default:
		// A gap with no radial lag would jump ahead of its neighbours.
		filled := satdata.FillNaNs(speed)
		for i := range lags {
			lags[i] = p.longitudeLag(g.lon[i]) + radialLag(g.r[i], g.l1r[i], g.kmPer, filled[i])
		}
	}
	return lags, nil
}

// ShiftTimeToL1 adds the Parker spiral time lag to the time axis of s so that
// each sample is stamped with its expected arrival at L1.
func (p *Propagator) ShiftTimeToL1(ctx context.Context, s *satdata.Series) error {
	lags, err := p.Lags(ctx, s)
	if err != nil {
		return fmt.Errorf("shift time to L1: %w", err)
	}
	if len(lags) == 0 {
		return nil
	}
	t := s.Time()
	shifted := make([]float64, len(t))
	for i := range t {
		shifted[i] = t[i] + lags[i]
	}
	if err := s.SetTime(shifted); err != nil {
		return fmt.Errorf("shift time to L1: %w", err)
	}
	log.Printf("propagate: shifted %q by %.1f-%.1f hours (%s)", s.Source, lags[0]/3600, lags[len(lags)-1]/3600, p.Method)
	return nil
}

// radialVars are scaled by the radial expansion factor.
var radialVars = []satdata.Var{
	satdata.VarBtot, satdata.VarBr, satdata.VarBt, satdata.VarBn,
	satdata.VarBx, satdata.VarBy, satdata.VarBz, satdata.VarDensity,
}

// ShiftWindToL1 scales the magnetic field and density of s from the
// spacecraft's heliocentric distance to the L1 distance with the factor
// (r_L1/r)^-2. Speed is left unchanged.
func (p *Propagator) ShiftWindToL1(ctx context.Context, s *satdata.Series) error {
	if s.Len() == 0 {
		return nil
	}
	g, err := p.geometry(ctx, s, "shift wind to L1")
	if err != nil {
		return err
	}
	factor := make([]float64, s.Len())
	for i := range factor {
		factor[i] = math.Pow(g.l1r[i]/g.r[i], -2)
	}
	var shifted []string
	for _, v := range radialVars {
		if !s.Has(v) {
			continue
		}
		values, _ := s.Get(v)
		for i := range values {
			values[i] *= factor[i]
		}
		shifted = append(shifted, v.String())
	}
	log.Printf("propagate: extrapolated %s of %q to L1 distance", strings.Join(shifted, ","), s.Source)
	return nil
}
