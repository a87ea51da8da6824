package ephem

import (
	"context"
	"fmt"
	"strings"

	"github.com/IWF-helio/PREDSTORM/internal/frames"
	"github.com/IWF-helio/PREDSTORM/internal/satdata"
)

// Analytic computes Earth's heliocentric position from the low-precision
// solar ephemeris in package frames. It answers HEEQ and HEE queries with the
// Sun as observer.
type Analytic struct{}

func (Analytic) Trajectory(ctx context.Context, body string, times []float64, opts Options) (*satdata.Position, error) {
	if NormalizeBody(body) != Earth {
		return nil, fmt.Errorf("analytic ephemeris %q: %w", body, ErrUnknownBody)
	}
	if !strings.EqualFold(opts.Observer, Sun) {
		return nil, fmt.Errorf("analytic ephemeris: observer %q: %w", opts.Observer, ErrUnsupported)
	}
	var heeq bool
	switch strings.ToUpper(opts.Frame) {
	case "HEEQ":
		heeq = true
	case "HEE":
	default:
		return nil, fmt.Errorf("analytic ephemeris: frame %q: %w", opts.Frame, ErrUnsupported)
	}

	var xyz [3][]float64
	for c := range xyz {
		xyz[c] = make([]float64, len(times))
	}
	for i, t := range times {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		ts := satdata.NumToTime(t)
		v := frames.Vec{frames.SunDistance(ts), 0, 0}
		if heeq {
			v = frames.EarthHEEQ(ts)
		}
		xyz[0][i], xyz[1][i], xyz[2][i] = v[0], v[1], v[2]
	}
	return buildPosition(xyz, "AU", opts)
}
