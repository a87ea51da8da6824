// Package satdata holds solar wind and geomagnetic measurements on a shared
// time axis, together with the spacecraft positions needed to move them
// between reference frames.
package satdata

import (
	"fmt"
	"log"
	"maps"
	"math"
	"slices"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Header describes where a series came from.
type Header struct {
	DataSource     string
	SourceURL      string
	SamplingRate   time.Duration
	ReferenceFrame string
	Instruments    []string
	// FileVersion maps a product or instrument name to its file version.
	FileVersion map[string]string
}

// Clone returns a deep copy of h.
func (h Header) Clone() Header {
	h.Instruments = slices.Clone(h.Instruments)
	h.FileVersion = maps.Clone(h.FileVersion)
	return h
}

// Series is a multi-variable time series. Every active variable has exactly
// one value per timestamp. The time axis holds seconds since the Unix epoch.
type Series struct {
	Header   Header
	Source   string
	Position *Position
	// State holds an optional per-sample classification label.
	State []string

	time []float64
	data map[Var][]float64
}

// New builds a series from named arrays. "time" is required and every array
// must have the same length. Arrays are copied.
func New(data map[string][]float64, source string, h *Header) (*Series, error) {
	vars := make(map[Var][]float64, len(data))
	for name, values := range data {
		v, err := ParseVar(name)
		if err != nil {
			return nil, fmt.Errorf("new series: %w", err)
		}
		vars[v] = values
	}
	t, ok := vars[VarTime]
	if !ok {
		return nil, fmt.Errorf("new series: time variable is required: %w", ErrSchema)
	}
	delete(vars, VarTime)
	return NewFromVars(t, vars, source, h)
}

// NewFromVars is New for callers that already hold typed variables.
func NewFromVars(t []float64, vars map[Var][]float64, source string, h *Header) (*Series, error) {
	if len(t) == 0 {
		log.Printf("satdata: creating empty series for %q, is the data missing?", source)
	}
	s := &Series{
		Source: source,
		State:  make([]string, len(t)),
		time:   slices.Clone(t),
		data:   make(map[Var][]float64, len(vars)),
	}
	if h != nil {
		s.Header = h.Clone()
	}
	for v, values := range vars {
		if err := s.Set(v, values); err != nil {
			return nil, fmt.Errorf("new series: %w", err)
		}
	}
	return s, nil
}

// Len returns the number of samples.
func (s *Series) Len() int {
	return len(s.time)
}

// Time returns the time axis. The slice is shared with the series.
func (s *Series) Time() []float64 {
	return s.time
}

// Times returns the time axis as UTC time values.
func (s *Series) Times() []time.Time {
	out := make([]time.Time, len(s.time))
	for i, t := range s.time {
		out[i] = NumToTime(t)
	}
	return out
}

// SetTime replaces the time axis with a copy of t.
func (s *Series) SetTime(t []float64) error {
	if len(t) != len(s.time) {
		return fmt.Errorf("set time: got %d values for %d samples: %w", len(t), len(s.time), ErrSchema)
	}
	copy(s.time, t)
	return nil
}

// Get returns the stored values of v. The slice is shared with the series,
// so writes through it modify the series.
func (s *Series) Get(v Var) ([]float64, error) {
	if v == VarTime {
		return s.time, nil
	}
	values, ok := s.data[v]
	if !ok {
		return nil, fmt.Errorf("get %s: variable not in series %q: %w", v, s.Source, ErrSchema)
	}
	return values, nil
}

// GetName resolves name and returns its values.
func (s *Series) GetName(name string) ([]float64, error) {
	v, err := ParseVar(name)
	if err != nil {
		return nil, err
	}
	return s.Get(v)
}

// Set stores a copy of values under v, activating v if needed.
func (s *Series) Set(v Var, values []float64) error {
	if !v.Valid() {
		return fmt.Errorf("set %s: %w", v, ErrSchema)
	}
	if v == VarTime {
		return s.SetTime(values)
	}
	if len(values) != len(s.time) {
		return fmt.Errorf("set %s: got %d values for %d samples: %w", v, len(values), len(s.time), ErrSchema)
	}
	s.data[v] = slices.Clone(values)
	return nil
}

// Has reports whether v is active.
func (s *Series) Has(v Var) bool {
	if v == VarTime {
		return true
	}
	_, ok := s.data[v]
	return ok
}

// Vars returns the active variables in schema order.
func (s *Series) Vars() []Var {
	out := make([]Var, 0, len(s.data))
	for v := range s.data {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Select returns a new series holding the samples at idx, in that order.
func (s *Series) Select(idx []int) *Series {
	out := &Series{
		Header: s.Header.Clone(),
		Source: s.Source,
		State:  make([]string, len(idx)),
		time:   make([]float64, len(idx)),
		data:   make(map[Var][]float64, len(s.data)),
	}
	for j, i := range idx {
		out.time[j] = s.time[i]
		out.State[j] = s.State[i]
	}
	for v, values := range s.data {
		sel := make([]float64, len(idx))
		for j, i := range idx {
			sel[j] = values[i]
		}
		out.data[v] = sel
	}
	if s.Position != nil && s.Position.Len() == s.Len() {
		out.Position = s.Position.Select(idx)
	} else if s.Position != nil {
		out.Position = s.Position.Clone()
	}
	return out
}

// Clone returns a deep copy of s.
func (s *Series) Clone() *Series {
	out := &Series{
		Header: s.Header.Clone(),
		Source: s.Source,
		State:  slices.Clone(s.State),
		time:   slices.Clone(s.time),
		data:   make(map[Var][]float64, len(s.data)),
	}
	for v, values := range s.data {
		out.data[v] = slices.Clone(values)
	}
	if s.Position != nil {
		out.Position = s.Position.Clone()
	}
	return out
}

// String summarises the series: length, variables, time range, header and
// per-variable NaN-ignoring mean and standard deviation.
func (s *Series) String() string {
	var b strings.Builder
	names := make([]string, 0, len(s.data))
	for _, v := range s.Vars() {
		names = append(names, v.String())
	}
	fmt.Fprintf(&b, "Length of data:\t\t%d\n", s.Len())
	fmt.Fprintf(&b, "Keys in data:\t\t%v\n", names)
	if s.Len() > 0 {
		fmt.Fprintf(&b, "First data point:\t%s\n", NumToTime(s.time[0]).Format(time.RFC3339))
		fmt.Fprintf(&b, "Last data point:\t%s\n", NumToTime(s.time[s.Len()-1]).Format(time.RFC3339))
	}
	b.WriteString("\nHeader information:\n")
	writeField := func(name string, value any) {
		fmt.Fprintf(&b, "    %25s:\t%v\n", name, value)
	}
	writeField("DataSource", s.Header.DataSource)
	writeField("SourceURL", s.Header.SourceURL)
	writeField("SamplingRate", s.Header.SamplingRate)
	writeField("ReferenceFrame", s.Header.ReferenceFrame)
	writeField("Instruments", s.Header.Instruments)
	if len(s.Header.FileVersion) > 0 {
		writeField("FileVersion", s.Header.FileVersion)
	}
	b.WriteString("\nVariable statistics:\n")
	fmt.Fprintf(&b, "%12s%12s%12s\n", "VAR", "MEAN", "STD")
	for _, v := range s.Vars() {
		mean, std := NaNMeanStd(s.data[v])
		fmt.Fprintf(&b, "%12s%12.2f%12.2f\n", v, mean, std)
	}
	return b.String()
}

// NaNMeanStd returns the mean and population standard deviation of the
// non-NaN values of x, or NaN for both when none are valid.
func NaNMeanStd(x []float64) (mean, std float64) {
	valid := make([]float64, 0, len(x))
	for _, f := range x {
		if !math.IsNaN(f) {
			valid = append(valid, f)
		}
	}
	if len(valid) == 0 {
		return math.NaN(), math.NaN()
	}
	return stat.PopMeanStdDev(valid, nil)
}

// NaNMean returns the mean of the non-NaN values of x.
func NaNMean(x []float64) float64 {
	mean, _ := NaNMeanStd(x)
	return mean
}

// TimeToNum converts t to the numeric time axis.
func TimeToNum(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// NumToTime converts a numeric time axis value to UTC, rounded to the
// microsecond.
func NumToTime(x float64) time.Time {
	sec := math.Floor(x)
	nsec := math.Round((x-sec)*1e6) * 1e3
	return time.Unix(int64(sec), int64(nsec)).UTC()
}
