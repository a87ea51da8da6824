package propagate

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/IWF-helio/PREDSTORM/internal/satdata"
)

// Details describes where the spacecraft of s was at the last sample not
// after at, and when wind seen there reaches L1 by corotation alone.
func (p *Propagator) Details(ctx context.Context, s *satdata.Series, at time.Time) (string, error) {
	t := s.Time()
	i := sort.SearchFloat64s(t, satdata.TimeToNum(at))
	if i < len(t) && t[i] == satdata.TimeToNum(at) {
		i++
	}
	i--
	if i < 0 {
		return "", fmt.Errorf("position details: no sample at or before %s: %w", at.Format(time.RFC3339), satdata.ErrPrecondition)
	}
	g, err := p.geometry(ctx, s, "position details")
	if err != nil {
		return "", err
	}

	lonDeg := g.lon[i] * 180 / math.Pi
	latDeg := g.lat[i] * 180 / math.Pi
	l1LatDeg := g.l1lat[i] * 180 / math.Pi
	lag := p.longitudeLag(g.lon[i])
	arrival := at.Add(time.Duration(lag * float64(time.Second))).UTC()

	var b strings.Builder
	fmt.Fprintf(&b, "%s HEEQ longitude wrt Earth is %.1f degrees.\n", s.Source, lonDeg)
	fmt.Fprintf(&b, "This is %.2f times the location of L5.\n", math.Abs(lonDeg)/60)
	fmt.Fprintf(&b, "%s HEEQ latitude is %.1f degrees.\n", s.Source, latDeg)
	fmt.Fprintf(&b, "Earth L1 HEEQ latitude is %.1f degrees.\n", l1LatDeg)
	fmt.Fprintf(&b, "Difference HEEQ latitude is %.1f degrees.\n", math.Abs(latDeg-l1LatDeg))
	fmt.Fprintf(&b, "%s heliocentric distance is %.3f %s.\n", s.Source, g.r[i], s.Position.Header.Units)
	fmt.Fprintf(&b, "The solar rotation period with respect to Earth is chosen as %.2f days.\n", p.synodicDays())
	fmt.Fprintf(&b, "This is a time lag of %.2f days.\n", lag/secondsPerDay)
	fmt.Fprintf(&b, "Arrival time of %s wind at L1: %s\n", s.Source, arrival.Format("2006-01-02 15:04"))
	return b.String(), nil
}
