// Package ephem answers position queries for solar system bodies and
// spacecraft. The pipeline treats ephemerides as an external service; this
// package holds the interface and the adapters behind it.
package ephem

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/IWF-helio/PREDSTORM/internal/frames"
	"github.com/IWF-helio/PREDSTORM/internal/satdata"
)

// AU is the astronomical unit in km.
const AU = 149597870.700

// Well-known body names.
const (
	Earth = "EARTH"
	Sun   = "SUN"
)

var (
	ErrUnknownBody = errors.New("unknown body")
	ErrUnsupported = errors.New("unsupported query")
)

// Options selects the frame, units, observer and convention of a query.
type Options struct {
	Frame     string
	Units     string
	Observer  string
	Spherical bool
}

// DefaultOptions returns HEEQ positions in AU seen from the Sun, as radius,
// longitude and latitude.
func DefaultOptions() Options {
	return Options{Frame: "HEEQ", Units: "AU", Observer: Sun, Spherical: true}
}

// Provider returns the positions of body at the given times (seconds since
// the Unix epoch).
type Provider interface {
	Trajectory(ctx context.Context, body string, times []float64, opts Options) (*satdata.Position, error)
}

// KmPer returns how many km one unit is.
func KmPer(units string) (float64, error) {
	switch strings.ToLower(units) {
	case "au":
		return AU, nil
	case "km":
		return 1, nil
	case "m":
		return 1e-3, nil
	}
	return 0, fmt.Errorf("units %q: %w", units, ErrUnsupported)
}

// NormalizeBody upper-cases and trims a body name.
func NormalizeBody(body string) string {
	return strings.ToUpper(strings.TrimSpace(body))
}

// buildPosition converts Cartesian samples in AU to the requested units and
// convention.
func buildPosition(xyz [3][]float64, fromUnits string, opts Options) (*satdata.Position, error) {
	from, err := KmPer(fromUnits)
	if err != nil {
		return nil, err
	}
	to, err := KmPer(opts.Units)
	if err != nil {
		return nil, err
	}
	scale := from / to
	n := len(xyz[0])
	comps := [3][]float64{make([]float64, n), make([]float64, n), make([]float64, n)}
	for i := 0; i < n; i++ {
		x, y, z := xyz[0][i]*scale, xyz[1][i]*scale, xyz[2][i]*scale
		if opts.Spherical {
			r, lat, lon := frames.CartToSphere(frames.Vec{x, y, z})
			comps[0][i], comps[1][i], comps[2][i] = r, lon, lat
			continue
		}
		comps[0][i], comps[1][i], comps[2][i] = x, y, z
	}
	conv := satdata.Cartesian
	if opts.Spherical {
		conv = satdata.Spherical
	}
	pos, err := satdata.NewPositionFromComponents(comps[0], comps[1], comps[2], conv)
	if err != nil {
		return nil, err
	}
	pos.Header = satdata.PositionHeader{
		Units:          opts.Units,
		ReferenceFrame: opts.Frame,
		Observer:       opts.Observer,
	}
	return pos, nil
}
