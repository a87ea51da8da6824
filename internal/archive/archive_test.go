package archive

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/IWF-helio/PREDSTORM/internal/satdata"
)

var t0 = time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)

func hourly(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = satdata.TimeToNum(t0.Add(time.Duration(i) * time.Hour))
	}
	return out
}

func testSeries(t *testing.T) *satdata.Series {
	t.Helper()
	s, err := satdata.NewFromVars(hourly(4), map[satdata.Var][]float64{
		satdata.VarSpeed:   {400, 410, math.NaN(), 430},
		satdata.VarDensity: {5, 6, 7, 8},
		satdata.VarBz:      {-1.25, 2.5, -3.75, 0},
		satdata.VarDst:     {-10, -20, -30, -40},
	}, "noaa-rtsw", &satdata.Header{
		DataSource:     "NOAA real-time solar wind",
		SamplingRate:   time.Hour,
		ReferenceFrame: "GSM",
		Instruments:    []string{"DSCOVR MAG", "DSCOVR FC"},
		FileVersion:    map[string]string{"mag": "1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func assertSameData(t *testing.T, want, got *satdata.Series) {
	t.Helper()
	if diff := cmp.Diff(want.Time(), got.Time()); diff != "" {
		t.Errorf("time mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.Vars(), got.Vars()); diff != "" {
		t.Fatalf("vars mismatch (-want +got):\n%s", diff)
	}
	for _, v := range want.Vars() {
		w, _ := want.Get(v)
		g, _ := got.Get(v)
		if diff := cmp.Diff(w, g, cmpopts.EquateNaNs(), cmpopts.EquateApprox(0, 1e-9)); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", v, diff)
		}
	}
}

func TestSeriesParquetRoundTrip(t *testing.T) {
	s := testSeries(t)
	var buf bytes.Buffer
	if err := WriteSeriesParquet(&buf, s); err != nil {
		t.Fatalf("WriteSeriesParquet: %v", err)
	}

	got, err := ReadSeriesParquet(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("ReadSeriesParquet: %v", err)
	}
	assertSameData(t, s, got)
	if got.Source != "noaa-rtsw" {
		t.Errorf("Source = %q", got.Source)
	}
	if diff := cmp.Diff(s.Header, got.Header); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
	if got.Has(satdata.VarBtot) {
		t.Error("btot was never set and must stay absent")
	}
}

func TestRealtimeRoundTrip(t *testing.T) {
	s := testSeries(t)
	var buf bytes.Buffer
	if err := WriteRealtime(&buf, s); err != nil {
		t.Fatalf("WriteRealtime: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 5 || !strings.HasPrefix(lines[0], "#") {
		t.Fatalf("unexpected layout:\n%s", buf.String())
	}
	if !strings.HasPrefix(lines[1], "2020  3  1  0  0  0") {
		t.Errorf("first row = %q", lines[1])
	}

	got, err := ReadRealtime(&buf, "noaa-rtsw")
	if err != nil {
		t.Fatalf("ReadRealtime: %v", err)
	}
	assertSameData(t, s, got)
}

func TestReadRealtimeBadRow(t *testing.T) {
	_, err := ReadRealtime(strings.NewReader("2020 3 1 0 0 0 1583020800.0 1 2\n"), "x")
	if !errors.Is(err, satdata.ErrSchema) {
		t.Errorf("error = %v, want ErrSchema", err)
	}
}

func TestReadCSV(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[satdata.Var][]float64
		wantErr bool
	}{
		{
			name:  "unix seconds",
			input: "time,speed,bz,station\n1583020800,400,-2,x\n1583024400,,3,y\n",
			want: map[satdata.Var][]float64{
				satdata.VarSpeed: {400, math.NaN()},
				satdata.VarBz:    {-2, 3},
			},
		},
		{
			name:  "rfc3339 with comments",
			input: "# exported\ntime, density\n2020-03-01T00:00:00Z, 5\n2020-03-01T01:00:00Z, NaN\n",
			want: map[satdata.Var][]float64{
				satdata.VarDensity: {5, math.NaN()},
			},
		},
		{name: "no time column", input: "speed\n400\n", wantErr: true},
		{name: "bad value", input: "time,speed\n1583020800,fast\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ReadCSV(strings.NewReader(tt.input), "csv")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadCSV: %v", err)
			}
			if diff := cmp.Diff(hourly(2), s.Time()); diff != "" {
				t.Errorf("time mismatch (-want +got):\n%s", diff)
			}
			for v, want := range tt.want {
				got, err := s.Get(v)
				if err != nil {
					t.Fatal(err)
				}
				if diff := cmp.Diff(want, got, cmpopts.EquateNaNs()); diff != "" {
					t.Errorf("%s mismatch (-want +got):\n%s", v, diff)
				}
			}
		})
	}
}

const omniLine = "1963   1  0 1771 99 99 999 999 999.9 999.9 999.9 999.9 999.9 999.9 999.9 999.9 999.9 999.9 999.9 999.9 999.9 999.9 9999999. 999.9 9999. 999.9 999.9 9.999 99.99 9999999. 999.9 9999. 999.9 999.9 9.999 999.99 999.99 999.9  7  23    -6  119 999999.99 99999.99 99999.99 99999.99 99999.99 99999.99  0   3 999.9 999.9 99999 99999 99.9"

func TestReadOMNI2(t *testing.T) {
	s, err := ReadOMNI2(strings.NewReader(omniLine+"\n"), "")
	if err != nil {
		t.Fatalf("ReadOMNI2: %v", err)
	}
	if s.Source != "omni" || s.Len() != 1 {
		t.Fatalf("source %q with %d samples", s.Source, s.Len())
	}
	if got := s.Times()[0]; !got.Equal(time.Date(1963, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("time = %s", got)
	}
	tests := []struct {
		v    satdata.Var
		want float64
	}{
		{satdata.VarDst, -6},
		{satdata.VarKp, 0.7},
		{satdata.VarAE, 119},
		{satdata.VarSpeed, 9999},
		{satdata.VarSpeedX, 9999},
		{satdata.VarBtot, 999.9},
	}
	for _, tt := range tests {
		got, _ := s.Get(tt.v)
		if math.Abs(got[0]-tt.want) > 1e-9 {
			t.Errorf("%s = %v, want %v", tt.v, got[0], tt.want)
		}
	}

	if _, err := ReadOMNI2(strings.NewReader("1963 1 0 1771\n"), ""); !errors.Is(err, satdata.ErrSchema) {
		t.Errorf("short line error = %v, want ErrSchema", err)
	}
}

func TestReadOMNI2SpeedX(t *testing.T) {
	tests := []struct {
		name              string
		speed, phi, theta string
		want              float64
	}{
		{"along x", "450.", "0.0", "0.0", -450},
		{"deflected", "400.", "60.0", "0.0", -200},
		{"phi fill", "400.", "999.9", "0.0", 9999},
		{"theta fill", "400.", "1.5", "999.9", 9999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := strings.Fields(omniLine)
			fields[24], fields[25], fields[26] = tt.speed, tt.phi, tt.theta
			s, err := ReadOMNI2(strings.NewReader(strings.Join(fields, " ")+"\n"), "")
			if err != nil {
				t.Fatalf("ReadOMNI2: %v", err)
			}
			got, err := s.Get(satdata.VarSpeedX)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(got[0]-tt.want) > 1e-9 {
				t.Errorf("speedx = %v, want %v", got[0], tt.want)
			}
		})
	}
}

func TestWriteReadSeriesFiles(t *testing.T) {
	s := testSeries(t)
	dir := t.TempDir()

	for _, name := range []string{"wind.parquet", "wind.txt", "wind.txt.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := WriteSeries(path, s); err != nil {
				t.Fatalf("WriteSeries: %v", err)
			}
			got, err := ReadSeries(path, "noaa-rtsw")
			if err != nil {
				t.Fatalf("ReadSeries: %v", err)
			}
			assertSameData(t, s, got)
		})
	}

	raw, err := os.ReadFile(filepath.Join(dir, "wind.txt.gz"))
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) < 2 || raw[0] != 0x1f || raw[1] != 0x8b {
		t.Error("wind.txt.gz is not gzip compressed")
	}
}

func TestTrajectoryRoundTrip(t *testing.T) {
	times := hourly(3)
	pos, err := satdata.NewPositionFromComponents(
		[]float64{0.96, 0.96, 0.96},
		[]float64{-0.1, -0.1, -0.1},
		[]float64{0, 0.01, 0.02},
		satdata.Cartesian,
	)
	if err != nil {
		t.Fatal(err)
	}
	pos.Header = satdata.PositionHeader{Units: "AU", ReferenceFrame: "HEEQ", Observer: "SUN"}

	var buf bytes.Buffer
	if err := WriteTrajectoryParquet(&buf, Trajectory{Body: "STEREO-A", Times: times, Position: pos}); err != nil {
		t.Fatalf("WriteTrajectoryParquet: %v", err)
	}
	got, err := ReadTrajectoryParquet(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("ReadTrajectoryParquet: %v", err)
	}
	if got.Body != "STEREO-A" || got.Position.Header.ReferenceFrame != "HEEQ" {
		t.Errorf("got body %q header %+v", got.Body, got.Position.Header)
	}
	if diff := cmp.Diff(times, got.Times); diff != "" {
		t.Errorf("times mismatch (-want +got):\n%s", diff)
	}
	z, _ := got.Position.Component("z")
	if diff := cmp.Diff([]float64{0, 0.01, 0.02}, z); diff != "" {
		t.Errorf("z mismatch (-want +got):\n%s", diff)
	}

	path := filepath.Join(t.TempDir(), "sta.parquet")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	tbl, err := LoadTrajectories(path)
	if err != nil {
		t.Fatalf("LoadTrajectories: %v", err)
	}
	if len(tbl.Bodies()) != 1 {
		t.Errorf("bodies = %v", tbl.Bodies())
	}
}
