package archive

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/pgzip"

	"github.com/IWF-helio/PREDSTORM/internal/satdata"
)

var nan = math.NaN()

// realtimeColumns are the value columns of the realtime text format, after
// the six calendar columns and the time column.
var realtimeColumns = []struct {
	v      satdata.Var
	label  string
	format string
}{
	{satdata.VarBtot, "B[nT]", "%7.2f"},
	{satdata.VarBx, "Bx", "%7.2f"},
	{satdata.VarBy, "By", "%7.2f"},
	{satdata.VarBz, "Bz", "%7.2f"},
	{satdata.VarDensity, "N[ccm-3]", "%9.0f"},
	{satdata.VarSpeed, "V[km/s]", "%9.0f"},
	{satdata.VarDst, "Dst[nT]", "%8.0f"},
	{satdata.VarKp, "Kp", "%7.2f"},
	{satdata.VarAurora, "AP[GW]", "%8.1f"},
	{satdata.VarEc, "Ec[Wb/s]", "%12.1f"},
}

// WriteRealtime writes s in the realtime text layout: calendar columns, the
// Unix time, then B, Bx, By, Bz, N, V, Dst, Kp, AP and Ec. Variables the
// series does not carry are written as NaN.
func WriteRealtime(w io.Writer, s *satdata.Series) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# %17s%16s", "Y  m  d  H  M  S", "unix_time")
	widths := []int{7, 7, 7, 7, 9, 9, 8, 7, 8, 12}
	for i, c := range realtimeColumns {
		fmt.Fprintf(bw, "%*s", widths[i], c.label)
	}
	bw.WriteString("\n")

	columns := make([][]float64, len(realtimeColumns))
	for i, c := range realtimeColumns {
		if values, err := s.Get(c.v); err == nil {
			columns[i] = values
		}
	}
	for i, t := range s.Time() {
		ts := satdata.NumToTime(t)
		fmt.Fprintf(bw, "%4d %2d %2d %2d %2d %2d %15.1f", ts.Year(), ts.Month(), ts.Day(),
			ts.Hour(), ts.Minute(), ts.Second(), t)
		for k, c := range realtimeColumns {
			v := nan
			if columns[k] != nil {
				v = columns[k][i]
			}
			fmt.Fprintf(bw, c.format, v)
		}
		bw.WriteString("\n")
	}
	return bw.Flush()
}

// ReadRealtime parses the realtime text layout written by WriteRealtime.
// Columns that are NaN on every row are left out of the series.
func ReadRealtime(r io.Reader, source string) (*satdata.Series, error) {
	var times []float64
	values := make([][]float64, len(realtimeColumns))

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 7+len(realtimeColumns) {
			return nil, fmt.Errorf("line %d: %d columns, want %d: %w", line, len(fields), 7+len(realtimeColumns), satdata.ErrSchema)
		}
		t, err := strconv.ParseFloat(fields[6], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: time: %w", line, err)
		}
		times = append(times, t)
		for k := range realtimeColumns {
			v, err := parseValue(fields[7+k])
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, realtimeColumns[k].v, err)
			}
			values[k] = append(values[k], v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	data := make(map[satdata.Var][]float64)
	for k, c := range realtimeColumns {
		if !allNaN(values[k]) {
			data[c.v] = values[k]
		}
	}
	return satdata.NewFromVars(times, data, source, nil)
}

// ReadCSV parses comma-separated values with a header row naming schema
// variables. The time column holds Unix seconds or RFC 3339 timestamps.
// Unknown columns are skipped and empty cells read as NaN.
func ReadCSV(r io.Reader, source string) (*satdata.Series, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	timeCol := -1
	cols := make(map[int]satdata.Var)
	for i, name := range head {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "time" {
			timeCol = i
			continue
		}
		v, err := satdata.ParseVar(name)
		if err != nil {
			continue
		}
		cols[i] = v
	}
	if timeCol < 0 {
		return nil, fmt.Errorf("csv has no time column: %w", satdata.ErrSchema)
	}

	var times []float64
	data := make(map[satdata.Var][]float64, len(cols))
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}
		line, _ := cr.FieldPos(0)
		t, err := parseTime(rec[timeCol])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		times = append(times, t)
		for i, v := range cols {
			x, err := parseValue(rec[i])
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, v, err)
			}
			data[v] = append(data[v], x)
		}
	}
	return satdata.NewFromVars(times, data, source, nil)
}

// ReadSeries reads a series file, choosing the reader by extension:
// .parquet, .csv, .dat for OMNI2 or the realtime text layout for anything
// else. Text files with a trailing .gz are decompressed first.
func ReadSeries(path, source string) (*satdata.Series, error) {
	if strings.HasSuffix(path, ".parquet") {
		s, err := ReadSeriesFile(path)
		if err != nil {
			return nil, err
		}
		if source != "" {
			s.Source = source
		}
		return s, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("gunzip %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	base := strings.TrimSuffix(path, ".gz")
	var s *satdata.Series
	switch {
	case strings.HasSuffix(base, ".csv"):
		s, err = ReadCSV(r, source)
	case strings.HasSuffix(base, ".dat"):
		s, err = ReadOMNI2(r, source)
	default:
		s, err = ReadRealtime(r, source)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return s, nil
}

// WriteSeries writes s to path. Parquet is used for .parquet paths, the
// realtime text layout otherwise; a .gz suffix compresses the output.
func WriteSeries(path string, s *satdata.Series) (err error) {
	if strings.HasSuffix(path, ".parquet") {
		return WriteSeriesFile(path, s)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	if !strings.HasSuffix(path, ".gz") {
		return WriteRealtime(f, s)
	}
	gz := gzip.NewWriter(f)
	gz.Name = filepath.Base(strings.TrimSuffix(path, ".gz"))
	gz.ModTime = time.Now()
	if err := WriteRealtime(gz, s); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return gz.Close()
}

func parseValue(field string) (float64, error) {
	field = strings.TrimSpace(field)
	if field == "" || strings.EqualFold(field, "nan") {
		return nan, nil
	}
	return strconv.ParseFloat(field, 64)
}

func parseTime(field string) (float64, error) {
	field = strings.TrimSpace(field)
	if x, err := strconv.ParseFloat(field, 64); err == nil {
		return x, nil
	}
	t, err := time.Parse(time.RFC3339, field)
	if err != nil {
		return 0, fmt.Errorf("parse time %q: %w", field, err)
	}
	return satdata.TimeToNum(t), nil
}

func allNaN(x []float64) bool {
	for _, v := range x {
		if !math.IsNaN(v) {
			return false
		}
	}
	return true
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(math.Round(sec * float64(time.Second)))
}
