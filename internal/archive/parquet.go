// Package archive reads and writes series and trajectories as files:
// parquet for training archives and ephemeris tables, gzip-able text in the
// realtime column layout for exchange.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/IWF-helio/PREDSTORM/internal/satdata"
)

const (
	metaSource   = "predstorm.source"
	metaHeader   = "predstorm.header"
	metaPosition = "predstorm.position"
)

// seriesRow is one parquet row. A nil field is a variable the series does
// not carry; NaN values of carried variables are stored as NaN.
type seriesRow struct {
	Time    float64  `parquet:"time"`
	Speed   *float64 `parquet:"speed,optional"`
	SpeedX  *float64 `parquet:"speedx,optional"`
	Density *float64 `parquet:"density,optional"`
	Temp    *float64 `parquet:"temp,optional"`
	Pdyn    *float64 `parquet:"pdyn,optional"`
	Bx      *float64 `parquet:"bx,optional"`
	By      *float64 `parquet:"by,optional"`
	Bz      *float64 `parquet:"bz,optional"`
	Btot    *float64 `parquet:"btot,optional"`
	Br      *float64 `parquet:"br,optional"`
	Bt      *float64 `parquet:"bt,optional"`
	Bn      *float64 `parquet:"bn,optional"`
	Dst     *float64 `parquet:"dst,optional"`
	Kp      *float64 `parquet:"kp,optional"`
	Aurora  *float64 `parquet:"aurora,optional"`
	Ec      *float64 `parquet:"ec,optional"`
	AE      *float64 `parquet:"ae,optional"`
}

func (r *seriesRow) field(v satdata.Var) **float64 {
	switch v {
	case satdata.VarSpeed:
		return &r.Speed
	case satdata.VarSpeedX:
		return &r.SpeedX
	case satdata.VarDensity:
		return &r.Density
	case satdata.VarTemp:
		return &r.Temp
	case satdata.VarPdyn:
		return &r.Pdyn
	case satdata.VarBx:
		return &r.Bx
	case satdata.VarBy:
		return &r.By
	case satdata.VarBz:
		return &r.Bz
	case satdata.VarBtot:
		return &r.Btot
	case satdata.VarBr:
		return &r.Br
	case satdata.VarBt:
		return &r.Bt
	case satdata.VarBn:
		return &r.Bn
	case satdata.VarDst:
		return &r.Dst
	case satdata.VarKp:
		return &r.Kp
	case satdata.VarAurora:
		return &r.Aurora
	case satdata.VarEc:
		return &r.Ec
	case satdata.VarAE:
		return &r.AE
	}
	return nil
}

type fileHeader struct {
	DataSource      string            `json:"data_source,omitempty"`
	SourceURL       string            `json:"source_url,omitempty"`
	SamplingSeconds float64           `json:"sampling_seconds,omitempty"`
	ReferenceFrame  string            `json:"reference_frame,omitempty"`
	Instruments     []string          `json:"instruments,omitempty"`
	FileVersion     map[string]string `json:"file_version,omitempty"`
}

// WriteSeriesParquet writes s to w, one row per sample. Source and header
// travel in the file's key/value metadata. Positions are not written; use
// WriteTrajectoryParquet for those.
func WriteSeriesParquet(w io.Writer, s *satdata.Series) error {
	hdr, err := json.Marshal(fileHeader{
		DataSource:      s.Header.DataSource,
		SourceURL:       s.Header.SourceURL,
		SamplingSeconds: s.Header.SamplingRate.Seconds(),
		ReferenceFrame:  s.Header.ReferenceFrame,
		Instruments:     s.Header.Instruments,
		FileVersion:     s.Header.FileVersion,
	})
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}

	pw := parquet.NewGenericWriter[seriesRow](w,
		parquet.KeyValueMetadata(metaSource, s.Source),
		parquet.KeyValueMetadata(metaHeader, string(hdr)),
		parquet.Compression(&parquet.Zstd),
	)

	vars := s.Vars()
	columns := make([][]float64, len(vars))
	for i, v := range vars {
		columns[i], _ = s.Get(v)
	}
	t := s.Time()
	rows := make([]seriesRow, 0, min(len(t), 4096))
	for i := range t {
		row := seriesRow{Time: t[i]}
		for k, v := range vars {
			value := columns[k][i]
			*row.field(v) = &value
		}
		rows = append(rows, row)
		if len(rows) == cap(rows) {
			if _, err := pw.Write(rows); err != nil {
				return fmt.Errorf("write rows: %w", err)
			}
			rows = rows[:0]
		}
	}
	if len(rows) > 0 {
		if _, err := pw.Write(rows); err != nil {
			return fmt.Errorf("write rows: %w", err)
		}
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// ReadSeriesParquet reads a series written by WriteSeriesParquet. A
// variable is carried when any row holds it.
func ReadSeriesParquet(r io.ReaderAt, size int64) (*satdata.Series, error) {
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	source, _ := pf.Lookup(metaSource)
	var header *satdata.Header
	if raw, ok := pf.Lookup(metaHeader); ok {
		var fh fileHeader
		if err := json.Unmarshal([]byte(raw), &fh); err != nil {
			return nil, fmt.Errorf("parse header metadata: %w", err)
		}
		header = &satdata.Header{
			DataSource:     fh.DataSource,
			SourceURL:      fh.SourceURL,
			SamplingRate:   secondsToDuration(fh.SamplingSeconds),
			ReferenceFrame: fh.ReferenceFrame,
			Instruments:    fh.Instruments,
			FileVersion:    fh.FileVersion,
		}
	}

	reader := parquet.NewGenericReader[seriesRow](pf)
	defer reader.Close()

	n := int(reader.NumRows())
	times := make([]float64, 0, n)
	data := make(map[satdata.Var][]float64)
	buf := make([]seriesRow, 1024)
	for {
		k, err := reader.Read(buf)
		for i, row := range buf[:k] {
			idx := len(times)
			times = append(times, row.Time)
			for _, v := range satdata.AllVars() {
				p := *row.field(v)
				if p == nil {
					continue
				}
				col, ok := data[v]
				if !ok {
					col = nanColumn(n)
					data[v] = col
				}
				if idx < len(col) {
					col[idx] = *p
				}
			}
			buf[i] = seriesRow{}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read rows: %w", err)
		}
	}
	if len(times) != n {
		log.Printf("archive: parquet declared %d rows, read %d", n, len(times))
		for v, col := range data {
			data[v] = resize(col, len(times))
		}
	}
	return satdata.NewFromVars(times, data, source, header)
}

// WriteSeriesFile writes s to a parquet file at path.
func WriteSeriesFile(path string, s *satdata.Series) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteSeriesParquet(f, s); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// ReadSeriesFile reads a parquet series file.
func ReadSeriesFile(path string) (*satdata.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	s, err := ReadSeriesParquet(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return s, nil
}

func nanColumn(n int) []float64 {
	col := make([]float64, n)
	for i := range col {
		col[i] = nan
	}
	return col
}

func resize(col []float64, n int) []float64 {
	if len(col) >= n {
		return col[:n]
	}
	out := nanColumn(n)
	copy(out, col)
	return out
}
