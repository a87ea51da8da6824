package indices

import (
	"fmt"
	"math"
)

// Pressure correction of O'Brien and McPherron (2000):
// Dst = Dst* + pressureB·√Pdyn − pressureC.
const (
	pressureB = 7.26
	pressureC = 11.0
)

// DstModel selects the ring current injection and decay terms.
type DstModel int

const (
	// Burton is Burton, McPherron and Russell (1975).
	Burton DstModel = iota
	// OBrien is O'Brien and McPherron (2000).
	OBrien
)

func (m DstModel) String() string {
	switch m {
	case Burton:
		return "burton"
	case OBrien:
		return "obrien"
	}
	return fmt.Sprintf("DstModel(%d)", int(m))
}

// ParseDstModel resolves a model by name.
func ParseDstModel(name string) (DstModel, error) {
	switch name {
	case "burton":
		return Burton, nil
	case "obrien":
		return OBrien, nil
	}
	return 0, fmt.Errorf("unknown dst model %q", name)
}

// injection returns Q in nT/h and τ in hours for electric field ey [mV/m].
func (m DstModel) injection(ey float64) (q, tau float64) {
	switch m {
	case OBrien:
		if ey > 0.49 {
			q = -4.4 * (ey - 0.49)
		}
		tau = 2.4 * math.Exp(9.74/(4.69+ey))
	default:
		if ey > 0.5 {
			// -1.5e-3 nT/s per mV/m.
			q = -1.5e-3 * 3600 * (ey - 0.5)
		}
		tau = 7.7
	}
	return q, tau
}

// Dst integrates the ring current equation dDst*/dt = Q − Dst*/τ from an
// initial observed value dst0 at times[0] and returns Dst per sample.
// Samples with NaN speed or density report NaN. An interval whose driving
// sample has a NaN speed or bz injects nothing and only decays.
func Dst(m DstModel, times, speed, bz, density []float64, dst0 float64) []float64 {
	out := make([]float64, len(times))
	if len(times) == 0 {
		return out
	}
	pdyn := Pdyn(density, speed)
	pterm := func(i int) float64 {
		if math.IsNaN(pdyn[i]) || pdyn[i] < 0 {
			return 0
		}
		return pressureB*math.Sqrt(pdyn[i]) - pressureC
	}

	star := dst0 - pterm(0)
	out[0] = dst0
	for i := 1; i < len(times); i++ {
		dt := (times[i] - times[i-1]) / 3600
		ey := ElectricField(speed[i-1], bz[i-1])
		if math.IsNaN(ey) {
			ey = 0
		}
		q, tau := m.injection(ey)
		star += (q - star/tau) * dt
		if math.IsNaN(pdyn[i]) {
			out[i] = math.NaN()
			continue
		}
		out[i] = star + pterm(i)
	}
	return out
}
