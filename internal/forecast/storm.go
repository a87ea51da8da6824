package forecast

import "math"

// StormLevel is the geomagnetic storm class of a Dst value.
type StormLevel int

const (
	Quiet StormLevel = iota
	Moderate
	Intense
	SuperStorm
)

// Dst thresholds in nT.
const (
	moderateDst   = -50
	intenseDst    = -100
	superStormDst = -250
)

func ClassifyStorm(dst float64) StormLevel {
	switch {
	case dst <= superStormDst:
		return SuperStorm
	case dst <= intenseDst:
		return Intense
	case dst <= moderateDst:
		return Moderate
	}
	// NaN falls through to quiet
	return Quiet
}

func (l StormLevel) String() string {
	switch l {
	case Moderate:
		return "moderate"
	case Intense:
		return "intense"
	case SuperStorm:
		return "super-storm"
	}
	return "quiet"
}

// PeakStorm returns the minimum Dst of a forecast, its index and its level.
// NaNs are skipped; an all-NaN input gives index -1.
func PeakStorm(dst []float64) (peak float64, idx int, level StormLevel) {
	peak, idx = math.NaN(), -1
	for i, d := range dst {
		if math.IsNaN(d) {
			continue
		}
		if idx < 0 || d < peak {
			peak, idx = d, i
		}
	}
	return peak, idx, ClassifyStorm(peak)
}
