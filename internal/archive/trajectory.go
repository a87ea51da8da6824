package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/IWF-helio/PREDSTORM/internal/ephem"
	"github.com/IWF-helio/PREDSTORM/internal/satdata"
)

type trajectoryRow struct {
	Time float64 `parquet:"time"`
	X    float64 `parquet:"x"`
	Y    float64 `parquet:"y"`
	Z    float64 `parquet:"z"`
}

// Trajectory is a tabulated body position as stored on disk.
type Trajectory struct {
	Body     string
	Times    []float64
	Position *satdata.Position
}

// WriteTrajectoryParquet writes tr with Cartesian components. The position
// header is kept in the file metadata.
func WriteTrajectoryParquet(w io.Writer, tr Trajectory) error {
	if len(tr.Times) != tr.Position.Len() {
		return fmt.Errorf("write trajectory %s: %d times for %d positions: %w",
			tr.Body, len(tr.Times), tr.Position.Len(), satdata.ErrSchema)
	}
	h := tr.Position.Header
	if h.Object == "" {
		h.Object = tr.Body
	}
	hdr, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal position header: %w", err)
	}

	rows := make([]trajectoryRow, len(tr.Times))
	for i, t := range tr.Times {
		v := tr.Position.Cartesian(i)
		rows[i] = trajectoryRow{Time: t, X: v[0], Y: v[1], Z: v[2]}
	}
	pw := parquet.NewGenericWriter[trajectoryRow](w, parquet.KeyValueMetadata(metaPosition, string(hdr)))
	if _, err := pw.Write(rows); err != nil {
		return fmt.Errorf("write trajectory rows: %w", err)
	}
	return pw.Close()
}

// ReadTrajectoryParquet reads a trajectory written by WriteTrajectoryParquet.
func ReadTrajectoryParquet(r io.ReaderAt, size int64) (Trajectory, error) {
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return Trajectory{}, fmt.Errorf("open parquet: %w", err)
	}
	var h satdata.PositionHeader
	if raw, ok := pf.Lookup(metaPosition); ok {
		if err := json.Unmarshal([]byte(raw), &h); err != nil {
			return Trajectory{}, fmt.Errorf("parse position metadata: %w", err)
		}
	}

	reader := parquet.NewGenericReader[trajectoryRow](pf)
	defer reader.Close()
	rows := make([]trajectoryRow, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return Trajectory{}, fmt.Errorf("read trajectory rows: %w", err)
	}
	rows = rows[:n]

	times := make([]float64, n)
	var xyz [3][]float64
	for c := range xyz {
		xyz[c] = make([]float64, n)
	}
	for i, row := range rows {
		times[i] = row.Time
		xyz[0][i], xyz[1][i], xyz[2][i] = row.X, row.Y, row.Z
	}
	pos, err := satdata.NewPositionFromComponents(xyz[0], xyz[1], xyz[2], satdata.Cartesian)
	if err != nil {
		return Trajectory{}, err
	}
	pos.Header = h
	return Trajectory{Body: h.Object, Times: times, Position: pos}, nil
}

// LoadTrajectories reads each parquet file in paths into a new ephemeris
// table.
func LoadTrajectories(paths ...string) (*ephem.Table, error) {
	tbl := ephem.NewTable()
	for _, path := range paths {
		tr, err := readTrajectoryFile(path)
		if err != nil {
			return nil, err
		}
		if tr.Body == "" {
			return nil, fmt.Errorf("trajectory %s: no body in metadata: %w", path, satdata.ErrSchema)
		}
		if err := tbl.Add(tr.Body, tr.Times, tr.Position); err != nil {
			return nil, fmt.Errorf("trajectory %s: %w", path, err)
		}
	}
	return tbl, nil
}

func readTrajectoryFile(path string) (Trajectory, error) {
	f, err := os.Open(path)
	if err != nil {
		return Trajectory{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return Trajectory{}, fmt.Errorf("stat %s: %w", path, err)
	}
	tr, err := ReadTrajectoryParquet(f, info.Size())
	if err != nil {
		return Trajectory{}, fmt.Errorf("read %s: %w", path, err)
	}
	return tr, nil
}
