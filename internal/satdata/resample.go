package satdata

import (
	"cmp"
	"fmt"
	"log"
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/interp"
)

const (
	// samplingTolerance is how far a declared sampling rate may be from one
	// hour or one minute and still be snapped to it when merging.
	samplingTolerance = 8640 * time.Millisecond

	timeFormat = "2006-01-02 15:04:05"
)

// interpLinear evaluates the piecewise linear interpolant through (xs, ys)
// at every point of at. Values outside [xs[0], xs[n-1]] are clamped to the
// end values. xs must be strictly increasing.
func interpLinear(xs, ys, at []float64) ([]float64, error) {
	out := make([]float64, len(at))
	switch len(xs) {
	case 0:
		for i := range out {
			out[i] = math.NaN()
		}
		return out, nil
	case 1:
		for i := range out {
			out[i] = ys[0]
		}
		return out, nil
	}
	if err := checkIncreasing(xs); err != nil {
		return nil, err
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("fit: %w", err)
	}
	for i, x := range at {
		out[i] = pl.Predict(x)
	}
	return out, nil
}

func checkIncreasing(xs []float64) error {
	for i := 1; i < len(xs); i++ {
		if !(xs[i] > xs[i-1]) {
			return fmt.Errorf("time axis not strictly increasing at index %d: %w", i, ErrPrecondition)
		}
	}
	return nil
}

// Cut returns the samples with start <= t < end. Either bound may be nil.
func (s *Series) Cut(start, end *time.Time) *Series {
	lo, hi := math.Inf(-1), math.Inf(1)
	if start != nil {
		lo = TimeToNum(*start)
	}
	if end != nil {
		hi = TimeToNum(*end)
	}
	idx := make([]int, 0, s.Len())
	for i, t := range s.time {
		if t >= lo && t < hi {
			idx = append(idx, i)
		}
	}
	return s.Select(idx)
}

// InterpToTime linearly interpolates every active variable, and the
// attached positions, onto newTimes. The declared sampling rate of the result
// is the spacing of the first two new times.
func (s *Series) InterpToTime(newTimes []float64) (*Series, error) {
	out := &Series{
		Header: s.Header.Clone(),
		Source: s.Source,
		State:  make([]string, len(newTimes)),
		time:   slices.Clone(newTimes),
		data:   make(map[Var][]float64, len(s.data)),
	}
	if len(newTimes) > 1 {
		out.Header.SamplingRate = secondsToDuration(newTimes[1] - newTimes[0])
	}
	for v, values := range s.data {
		iv, err := interpLinear(s.time, values, newTimes)
		if err != nil {
			return nil, fmt.Errorf("interp %s of %q: %w", v, s.Source, err)
		}
		out.data[v] = iv
	}
	if s.Position != nil {
		pos, err := s.Position.InterpToTime(s.time, newTimes)
		if err != nil {
			return nil, fmt.Errorf("interp %q: %w", s.Source, err)
		}
		out.Position = pos
	}
	return out, nil
}

// MakeHourly interpolates the series onto whole hours, starting at the first
// sample rounded down to the hour and stopping before the last sample.
func (s *Series) MakeHourly() (*Series, error) {
	if s.Len() == 0 {
		return nil, fmt.Errorf("make hourly %q: empty series: %w", s.Source, ErrPrecondition)
	}
	anchor := math.Floor(s.time[0]/3600) * 3600
	nhours := (s.time[s.Len()-1] - anchor) / 3600
	grid := make([]float64, 0, int(math.Ceil(nhours)))
	for k := 0; float64(k) < nhours; k++ {
		grid = append(grid, anchor+float64(k)*3600)
	}
	out, err := s.InterpToTime(grid)
	if err != nil {
		return nil, err
	}
	out.Header.SamplingRate = time.Hour
	return out, nil
}

// InterpNaNs replaces NaNs in the given variables, or all active variables
// when none are given, by linear interpolation over sample index. Leading and
// trailing NaNs take the nearest valid value. A variable with no valid
// values is left untouched.
func (s *Series) InterpNaNs(vars ...Var) error {
	if len(vars) == 0 {
		vars = s.Vars()
	}
	for _, v := range vars {
		values, err := s.Get(v)
		if err != nil {
			return fmt.Errorf("interp nans: %w", err)
		}
		copy(values, FillNaNs(values))
	}
	return nil
}

// FillNaNs returns a copy of x with NaNs linearly interpolated by sample
// index. Leading and trailing NaNs take the nearest valid value. An all-NaN
// x comes back unchanged.
func FillNaNs(x []float64) []float64 {
	out := slices.Clone(x)
	var good, goodVals, bad []float64
	for i, v := range x {
		if math.IsNaN(v) {
			bad = append(bad, float64(i))
			continue
		}
		good = append(good, float64(i))
		goodVals = append(goodVals, v)
	}
	if len(bad) == 0 || len(good) == 0 {
		return out
	}
	// Indices are strictly increasing, so the fit cannot fail.
	filled, _ := interpLinear(good, goodVals, bad)
	for j, i := range bad {
		out[int(i)] = filled[j]
	}
	return out
}

// SortByTime returns the samples of s in time order, keeping the first of
// any samples that share a timestamp. s itself is returned when its time
// axis is already strictly increasing.
func (s *Series) SortByTime() *Series {
	if checkIncreasing(s.time) == nil {
		return s
	}
	idx := make([]int, len(s.time))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return cmp.Compare(s.time[a], s.time[b])
	})
	kept := idx[:0]
	for _, i := range idx {
		if len(kept) > 0 && s.time[kept[len(kept)-1]] == s.time[i] {
			continue
		}
		kept = append(kept, i)
	}
	log.Printf("satdata: reordered %q by time, dropped %d duplicate timestamps", s.Source, len(s.time)-len(kept))
	return s.Select(kept)
}

// Merge appends b to a. b is interpolated onto a continuation of a's time
// grid, a.last + k*step for k >= 1 up to and including b's last sample, where
// step is a's sampling rate snapped to one hour or one minute when close. Only
// vars are merged, defaulting to the variables both series share. a's values
// are kept unmodified. Positions are not merged.
//
// a is expected to end before b; this is not enforced.
func Merge(a, b *Series, vars ...Var) (*Series, error) {
	log.Printf("satdata: merging %q and %q", a.Source, b.Source)
	if a.Len() == 0 || b.Len() == 0 {
		return nil, fmt.Errorf("merge %q and %q: empty input: %w", a.Source, b.Source, ErrPrecondition)
	}
	if len(vars) == 0 {
		for _, v := range a.Vars() {
			if b.Has(v) {
				vars = append(vars, v)
			}
		}
		log.Printf("satdata: merge using common variables %v", vars)
	}
	for _, v := range vars {
		if !a.Has(v) || !b.Has(v) {
			return nil, fmt.Errorf("merge %q and %q: variable %s not in both series: %w", a.Source, b.Source, v, ErrSchema)
		}
	}

	step, err := mergeStep(a)
	if err != nil {
		return nil, fmt.Errorf("merge %q and %q: %w", a.Source, b.Source, err)
	}
	stepSec := step.Seconds()
	aLast := a.time[a.Len()-1]
	bLast := b.time[b.Len()-1]
	var cont []float64
	for k := 1; aLast+float64(k)*stepSec <= bLast; k++ {
		cont = append(cont, aLast+float64(k)*stepSec)
	}

	merged := make(map[Var][]float64, len(vars))
	for _, v := range vars {
		bv, _ := b.Get(v)
		iv, err := interpLinear(b.time, bv, cont)
		if err != nil {
			return nil, fmt.Errorf("merge %q and %q: interp %s: %w", a.Source, b.Source, v, err)
		}
		av, _ := a.Get(v)
		merged[v] = append(slices.Clone(av), iv...)
	}

	bStart, bEnd := b.time[0], bLast
	if len(cont) > 0 {
		bStart, bEnd = cont[0], cont[len(cont)-1]
	}
	h := Header{
		DataSource: fmt.Sprintf("%s (%s - %s) & %s (%s - %s)",
			a.Header.DataSource, NumToTime(a.time[0]).Format(timeFormat), NumToTime(aLast).Format(timeFormat),
			b.Header.DataSource, NumToTime(bStart).Format(timeFormat), NumToTime(bEnd).Format(timeFormat)),
		SamplingRate:   step,
		ReferenceFrame: a.Header.ReferenceFrame,
		Instruments:    unionStrings(a.Header.Instruments, b.Header.Instruments),
		FileVersion:    make(map[string]string, len(a.Header.FileVersion)+len(b.Header.FileVersion)),
	}
	for k, v := range a.Header.FileVersion {
		h.FileVersion[k] = v
	}
	for k, v := range b.Header.FileVersion {
		h.FileVersion[k] = v
	}

	out, err := NewFromVars(append(slices.Clone(a.time), cont...), merged, a.Source+"+"+b.Source, &h)
	if err != nil {
		return nil, fmt.Errorf("merge %q and %q: %w", a.Source, b.Source, err)
	}
	copy(out.State, a.State)
	log.Printf("satdata: merged %d + %d samples into %q", a.Len(), len(cont), out.Source)
	return out, nil
}

func mergeStep(a *Series) (time.Duration, error) {
	rate := a.Header.SamplingRate
	if rate <= 0 {
		if a.Len() < 2 {
			return 0, fmt.Errorf("no sampling rate and fewer than two samples: %w", ErrPrecondition)
		}
		rate = secondsToDuration(a.time[a.Len()-1] - a.time[a.Len()-2])
	}
	switch {
	case absDuration(rate-time.Hour) < samplingTolerance:
		return time.Hour, nil
	case absDuration(rate-time.Minute) < samplingTolerance:
		return time.Minute, nil
	}
	return rate, nil
}

func unionStrings(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	for _, s := range slices.Concat(a, b) {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(math.Round(sec * float64(time.Second)))
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
