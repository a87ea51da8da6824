package ingest

import (
	"log"
	"maps"
	"math"
	"slices"

	"github.com/IWF-helio/PREDSTORM/internal/metrics"
	"github.com/IWF-helio/PREDSTORM/internal/satdata"
)

const (
	FlagFillValue  = "fill_value"
	FlagOutOfRange = "out_of_range"
)

// fillValues are the sentinels OMNI2 writes for missing data.
var fillValues = map[satdata.Var][]float64{
	satdata.VarSpeed:   {9999},
	satdata.VarSpeedX:  {9999},
	satdata.VarDensity: {999.9},
	satdata.VarTemp:    {9999999},
	satdata.VarPdyn:    {99.99},
	satdata.VarBx:      {999.9},
	satdata.VarBy:      {999.9},
	satdata.VarBz:      {999.9},
	satdata.VarBtot:    {999.9},
	satdata.VarDst:     {99999},
	satdata.VarAE:      {9999, 99999},
}

// cdfFill marks the large negative fill of CDF beacon products.
const cdfFill = -1e20

type Range struct {
	Min, Max float64
}

// physicalRanges bound plausible solar wind and index values.
var physicalRanges = map[satdata.Var]Range{
	satdata.VarSpeed:   {100, 3000},
	satdata.VarSpeedX:  {-3000, 0},
	satdata.VarDensity: {0, 500},
	satdata.VarTemp:    {0, 1e8},
	satdata.VarPdyn:    {0, 200},
	satdata.VarBx:      {-500, 500},
	satdata.VarBy:      {-500, 500},
	satdata.VarBz:      {-500, 500},
	satdata.VarBtot:    {0, 500},
	satdata.VarBr:      {-500, 500},
	satdata.VarBt:      {-500, 500},
	satdata.VarBn:      {-500, 500},
	satdata.VarDst:     {-2000, 200},
	satdata.VarKp:      {0, 9},
	satdata.VarAE:      {0, 5000},
}

// Report summarises a validation pass.
type Report struct {
	Source  string
	Samples int
	// Masked counts the values replaced by NaN per variable.
	Masked map[satdata.Var]int
	Flags  []string
}

func (r Report) TotalMasked() int {
	n := 0
	for _, c := range r.Masked {
		n += c
	}
	return n
}

// Validate replaces fill values and physically implausible values of s with
// NaN, in place. Existing NaNs are left alone and not counted.
func Validate(s *satdata.Series) Report {
	rep := Report{Source: s.Source, Samples: s.Len(), Masked: make(map[satdata.Var]int)}
	flags := make(map[string]bool)

	for _, v := range s.Vars() {
		values, err := s.Get(v)
		if err != nil {
			continue
		}
		fills := fillValues[v]
		rng, hasRange := physicalRanges[v]
		masked := 0
		for i, x := range values {
			if math.IsNaN(x) {
				continue
			}
			switch {
			case x < cdfFill || isFill(x, fills):
				flags[FlagFillValue] = true
			case hasRange && (x < rng.Min || x > rng.Max):
				flags[FlagOutOfRange] = true
			default:
				continue
			}
			values[i] = math.NaN()
			masked++
		}
		if masked > 0 {
			rep.Masked[v] = masked
			metrics.FillValuesMasked.WithLabelValues(s.Source, v.String()).Add(float64(masked))
		}
	}

	rep.Flags = slices.Sorted(maps.Keys(flags))
	if n := rep.TotalMasked(); n > 0 {
		log.Printf("ingest: %s: masked %d of %d samples' values %v", s.Source, n, rep.Samples, rep.Flags)
	}
	return rep
}

func isFill(x float64, fills []float64) bool {
	for _, f := range fills {
		if math.Abs(x-f) < 1e-6*math.Max(1, math.Abs(f)) {
			return true
		}
	}
	return false
}
