package archive

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/IWF-helio/PREDSTORM/internal/satdata"
)

// omniColumns maps OMNI2 hourly columns (zero based) to schema variables.
// By and Bz are the GSM components; Bx is the same in GSE and GSM.
var omniColumns = []struct {
	col   int
	v     satdata.Var
	scale float64
}{
	{9, satdata.VarBtot, 1},
	{12, satdata.VarBx, 1},
	{15, satdata.VarBy, 1},
	{16, satdata.VarBz, 1},
	{22, satdata.VarTemp, 1},
	{23, satdata.VarDensity, 1},
	{24, satdata.VarSpeed, 1},
	{28, satdata.VarPdyn, 1},
	{38, satdata.VarKp, 0.1},
	{40, satdata.VarDst, 1},
	{41, satdata.VarAE, 1},
}

const omniMinColumns = 42

// Flow speed and its GSE azimuth (phi) and elevation (theta) angles in
// degrees, and their fill values.
const (
	omniSpeedCol = 24
	omniPhiCol   = 25
	omniThetaCol = 26

	omniSpeedFill = 9999
	omniAngleFill = 999.9
)

// ReadOMNI2 parses the whitespace separated OMNI2 hourly records (year, day
// of year, hour, ...). Fill values are kept as read; mask them with
// ingest.Validate.
func ReadOMNI2(r io.Reader, source string) (*satdata.Series, error) {
	if source == "" {
		source = "omni"
	}
	var times []float64
	data := make(map[satdata.Var][]float64, len(omniColumns))

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < omniMinColumns {
			return nil, fmt.Errorf("omni line %d: %d columns, want at least %d: %w", line, len(fields), omniMinColumns, satdata.ErrSchema)
		}
		var ymd [3]int
		for i := range ymd {
			n, err := strconv.Atoi(fields[i])
			if err != nil {
				return nil, fmt.Errorf("omni line %d: %w", line, err)
			}
			ymd[i] = n
		}
		t := time.Date(ymd[0], 1, 1, ymd[2], 0, 0, 0, time.UTC).AddDate(0, 0, ymd[1]-1)
		times = append(times, satdata.TimeToNum(t))

		for _, c := range omniColumns {
			x, err := strconv.ParseFloat(fields[c.col], 64)
			if err != nil {
				return nil, fmt.Errorf("omni line %d: %s: %w", line, c.v, err)
			}
			data[c.v] = append(data[c.v], x*c.scale)
		}
		vx, err := omniSpeedX(fields)
		if err != nil {
			return nil, fmt.Errorf("omni line %d: %w", line, err)
		}
		data[satdata.VarSpeedX] = append(data[satdata.VarSpeedX], vx)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan omni: %w", err)
	}

	return satdata.NewFromVars(times, data, source, &satdata.Header{
		DataSource:     "OMNI (NASA OMNI2 data)",
		SourceURL:      "https://spdf.gsfc.nasa.gov/pub/data/omni/low_res_omni/",
		SamplingRate:   time.Hour,
		ReferenceFrame: "GSM",
	})
}

// omniSpeedX is the GSE x component of the flow, -v·cos(theta)·cos(phi).
// A fill in any of the three inputs gives the speed fill.
func omniSpeedX(fields []string) (float64, error) {
	var in [3]float64
	for i, col := range []int{omniSpeedCol, omniPhiCol, omniThetaCol} {
		x, err := strconv.ParseFloat(fields[col], 64)
		if err != nil {
			return 0, fmt.Errorf("speedx: %w", err)
		}
		in[i] = x
	}
	v, phi, theta := in[0], in[1], in[2]
	if v == omniSpeedFill || phi == omniAngleFill || theta == omniAngleFill {
		return omniSpeedFill, nil
	}
	return -v * math.Cos(theta*math.Pi/180) * math.Cos(phi*math.Pi/180), nil
}
