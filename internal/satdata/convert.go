package satdata

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/IWF-helio/PREDSTORM/internal/frames"
)

func (s *Series) vectors(vars []Var) ([]frames.Vec, error) {
	cols := make([][]float64, 3)
	for i, v := range vars {
		values, err := s.Get(v)
		if err != nil {
			return nil, err
		}
		cols[i] = values
	}
	out := make([]frames.Vec, s.Len())
	for i := range out {
		out[i] = frames.Vec{cols[0][i], cols[1][i], cols[2][i]}
	}
	return out, nil
}

func (s *Series) storeVectors(vs []frames.Vec) {
	cols := [3][]float64{}
	for c := range cols {
		cols[c] = make([]float64, len(vs))
		for i, v := range vs {
			cols[c][i] = v[c]
		}
	}
	for c, v := range MagneticVars {
		s.data[v] = cols[c]
	}
}

func (s *Series) rotateMagnetic(fn func(frames.Vec, time.Time) frames.Vec) error {
	vs, err := s.vectors(MagneticVars)
	if err != nil {
		return err
	}
	s.storeVectors(frames.Transform(vs, s.Times(), 0, fn))
	return nil
}

func (s *Series) requirePositions(op string) error {
	if s.Position == nil {
		return fmt.Errorf("%s %q: load positions first: %w", op, s.Source, ErrMissingPrerequisite)
	}
	if s.Position.Len() != s.Len() {
		return fmt.Errorf("%s %q: %d positions for %d samples: %w", op, s.Source, s.Position.Len(), s.Len(), ErrMissingPrerequisite)
	}
	return nil
}

// ConvertRTNToHEEQ projects br, bt and bn onto HEEQ using the attached
// positions and stores the result in bx, by and bz.
func (s *Series) ConvertRTNToHEEQ() error {
	if err := s.requirePositions("convert RTN to HEEQ"); err != nil {
		return err
	}
	rtn, err := s.vectors(RTNVars)
	if err != nil {
		return fmt.Errorf("convert RTN to HEEQ: %w", err)
	}
	out := make([]frames.Vec, len(rtn))
	for i, b := range rtn {
		out[i] = frames.RTNToHEEQ(b, s.Position.Cartesian(i))
	}
	s.storeVectors(out)
	s.Header.ReferenceFrame = "HEEQ"
	return nil
}

// ConvertHEEQToHEE rotates bx, by and bz from HEEQ to HEE.
func (s *Series) ConvertHEEQToHEE() error {
	if err := s.rotateMagnetic(frames.HEEQToHEE); err != nil {
		return fmt.Errorf("convert HEEQ to HEE: %w", err)
	}
	s.Header.ReferenceFrame = "HEE"
	return nil
}

// ConvertHEEToGSE flips bx and by from HEE to GSE.
func (s *Series) ConvertHEEToGSE() error {
	if err := s.rotateMagnetic(func(v frames.Vec, _ time.Time) frames.Vec { return frames.HEEToGSE(v) }); err != nil {
		return fmt.Errorf("convert HEE to GSE: %w", err)
	}
	s.Header.ReferenceFrame = "GSE"
	return nil
}

// ConvertRTNToGSE converts br, bt and bn to GSE bx, by and bz using the
// attached positions. "-GSE" is appended to the reference frame label.
func (s *Series) ConvertRTNToGSE() error {
	if err := s.requirePositions("convert RTN to GSE"); err != nil {
		return err
	}
	log.Printf("satdata: converting RTN field of %q to GSE", s.Source)
	pos := make([]frames.Vec, s.Len())
	for i := range pos {
		pos[i] = s.Position.Cartesian(i)
	}
	return s.convertRTNToGSE(pos)
}

// ConvertRTNToGSEWithPositions converts br, bt and bn to GSE using sparse
// positions: each sample takes the last position strictly before it.
// posTimes must be sorted.
func (s *Series) ConvertRTNToGSEWithPositions(pos *Position, posTimes []float64) error {
	if pos == nil || pos.Len() == 0 {
		return fmt.Errorf("convert RTN to GSE %q: no positions given: %w", s.Source, ErrMissingPrerequisite)
	}
	if len(posTimes) != pos.Len() {
		return fmt.Errorf("convert RTN to GSE %q: %d position times for %d positions: %w", s.Source, len(posTimes), pos.Len(), ErrSchema)
	}
	lookup := make([]frames.Vec, s.Len())
	for i, t := range s.time {
		j := sort.SearchFloat64s(posTimes, t) - 1
		if j < 0 {
			return fmt.Errorf("convert RTN to GSE %q: no position before %s: %w",
				s.Source, NumToTime(t).Format(time.RFC3339), ErrMissingPrerequisite)
		}
		lookup[i] = pos.Cartesian(j)
	}
	return s.convertRTNToGSE(lookup)
}

func (s *Series) convertRTNToGSE(pos []frames.Vec) error {
	rtn, err := s.vectors(RTNVars)
	if err != nil {
		return fmt.Errorf("convert RTN to GSE: %w", err)
	}
	heeq := make([]frames.Vec, len(rtn))
	for i, b := range rtn {
		heeq[i] = frames.RTNToHEEQ(b, pos[i])
	}
	s.storeVectors(frames.Transform(heeq, s.Times(), 0, frames.HEEQToGSE))
	if s.Header.ReferenceFrame == "" {
		s.Header.ReferenceFrame = "GSE"
	} else {
		s.Header.ReferenceFrame += "-GSE"
	}
	return nil
}

// ConvertGSEToGSM rotates bx, by and bz from GSE to GSM.
func (s *Series) ConvertGSEToGSM() error {
	if err := s.rotateMagnetic(frames.GSEToGSM); err != nil {
		return fmt.Errorf("convert GSE to GSM: %w", err)
	}
	if strings.Contains(s.Header.ReferenceFrame, "GSE") {
		s.Header.ReferenceFrame = strings.ReplaceAll(s.Header.ReferenceFrame, "GSE", "GSM")
	} else {
		s.Header.ReferenceFrame = "GSM"
	}
	return nil
}
