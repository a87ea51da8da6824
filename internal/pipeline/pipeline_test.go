package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"math/rand/v2"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	_ "modernc.org/sqlite"

	"github.com/IWF-helio/PREDSTORM/internal/archive"
	"github.com/IWF-helio/PREDSTORM/internal/ephem"
	"github.com/IWF-helio/PREDSTORM/internal/metrics"
	"github.com/IWF-helio/PREDSTORM/internal/propagate"
	"github.com/IWF-helio/PREDSTORM/internal/satdata"
	"github.com/IWF-helio/PREDSTORM/internal/store"
)

var t0 = time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)

var windVars = []satdata.Var{
	satdata.VarBtot, satdata.VarBx, satdata.VarBy, satdata.VarBz,
	satdata.VarSpeed, satdata.VarDensity,
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

// history returns n hours of synthetic solar wind.
func history(n int) map[satdata.Var][]float64 {
	rng := rand.New(rand.NewPCG(7, 11))
	base := map[satdata.Var]float64{
		satdata.VarBtot: 6, satdata.VarBx: 0, satdata.VarBy: 0, satdata.VarBz: -1,
		satdata.VarSpeed: 450, satdata.VarDensity: 6,
	}
	amp := map[satdata.Var]float64{
		satdata.VarBtot: 3, satdata.VarBx: 4, satdata.VarBy: 4, satdata.VarBz: 5,
		satdata.VarSpeed: 120, satdata.VarDensity: 3,
	}
	out := make(map[satdata.Var][]float64, len(windVars))
	for _, v := range windVars {
		values := make([]float64, n)
		for i := range values {
			values[i] = base[v] + amp[v]*math.Sin(float64(i)/13) + rng.NormFloat64()*amp[v]/4
		}
		out[v] = values
	}
	return out
}

// slice returns values[from:to] for every variable, with hourly times
// starting at start.
func slice(t *testing.T, data map[satdata.Var][]float64, from, to int, start time.Time, source string) *satdata.Series {
	t.Helper()
	times := make([]float64, to-from)
	vars := make(map[satdata.Var][]float64, len(data))
	for i := range times {
		times[i] = satdata.TimeToNum(start.Add(time.Duration(i) * time.Hour))
	}
	for v, values := range data {
		vars[v] = values[from:to]
	}
	s, err := satdata.NewFromVars(times, vars, source, &satdata.Header{SamplingRate: time.Hour, ReferenceFrame: "GSM"})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func save(t *testing.T, st *store.Store, s *satdata.Series) {
	t.Helper()
	if _, err := st.SaveSeries(s); err != nil {
		t.Fatalf("save %s: %v", s.Source, err)
	}
}

const matchAt = 200

// seeded stores 500 hours of training data and a real-time copy of hours
// 200-223 ending one hour before the returned issue time.
func seeded(t *testing.T) (*store.Store, map[satdata.Var][]float64, time.Time) {
	t.Helper()
	st := setupTestStore(t)
	data := history(500)
	save(t, st, slice(t, data, 0, 500, t0, "omni"))

	rtStart := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	save(t, st, slice(t, data, matchAt, matchAt+24, rtStart, "noaa-rtsw"))
	return st, data, rtStart.Add(24 * time.Hour)
}

func TestForecast(t *testing.T) {
	st, _, issued := seeded(t)
	before := testutil.ToFloat64(metrics.ForecastRunsTotal.WithLabelValues("ok"))

	r := NewRunner(st, nil, DefaultConfig())
	out, err := r.Forecast(context.Background(), issued)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}

	for _, v := range windVars {
		if m := out.Result.Matches[v]; m.Best != matchAt || m.Distance != 0 {
			t.Errorf("%s: best %d at %v, want %d at 0", v, m.Best, m.Distance, matchAt)
		}
	}
	if !out.Run.NowEnd.Equal(issued.Add(-time.Hour)) {
		t.Errorf("NowEnd = %s, want %s", out.Run.NowEnd, issued.Add(-time.Hour))
	}
	for _, v := range []satdata.Var{satdata.VarDst, satdata.VarEc} {
		values, err := out.Forecast.Get(v)
		if err != nil {
			t.Fatalf("forecast lacks %s", v)
		}
		if math.IsNaN(values[len(values)-1]) {
			t.Errorf("%s forecast ends in NaN", v)
		}
	}
	if math.IsNaN(out.PeakDst) || out.PeakTime.Before(issued) {
		t.Errorf("peak %v at %s", out.PeakDst, out.PeakTime)
	}

	run, err := st.GetLatestForecastRun()
	if err != nil {
		t.Fatal(err)
	}
	if run == nil || run.ID != out.Run.ID || run.Status != "ok" {
		t.Fatalf("latest run = %+v", run)
	}
	if !run.TrainStart.Equal(t0) {
		t.Errorf("TrainStart = %s, want first training sample", run.TrainStart)
	}

	values, err := st.GetForecastValues(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if want := (len(windVars) + 2) * 24; len(values) != want {
		t.Errorf("stored %d values, want %d", len(values), want)
	}
	matches, err := st.GetForecastMatches(run.ID, "speed")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 50 || matches[0].StartIndex != matchAt || !matches[0].StartTime.Equal(t0.Add(matchAt*time.Hour)) {
		t.Errorf("speed matches: %d, first %+v", len(matches), matches[0])
	}

	if got := testutil.ToFloat64(metrics.ForecastRunsTotal.WithLabelValues("ok")); got != before+1 {
		t.Errorf("ok runs counter = %v, want %v", got, before+1)
	}
}

func TestForecastWithoutObservations(t *testing.T) {
	st, _, _ := seeded(t)
	before := testutil.ToFloat64(metrics.ForecastRunsTotal.WithLabelValues("failed"))

	cfg := DefaultConfig()
	cfg.NowSource = "stereo-a"
	_, err := NewRunner(st, nil, cfg).Forecast(context.Background(), time.Now())
	if !errors.Is(err, satdata.ErrDataQuality) {
		t.Errorf("error = %v, want ErrDataQuality", err)
	}
	if got := testutil.ToFloat64(metrics.ForecastRunsTotal.WithLabelValues("failed")); got != before+1 {
		t.Errorf("failed runs counter = %v, want %v", got, before+1)
	}

	cfg.NowSource = "noaa-rtsw"
	cfg.ShiftToL1 = true
	_, err = NewRunner(st, nil, cfg).Forecast(context.Background(), time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, satdata.ErrMissingPrerequisite) {
		t.Errorf("shift without propagator error = %v, want ErrMissingPrerequisite", err)
	}
}

// stereoEphemeris places Earth on the HEEQ x axis and STEREO-A 0.02 AU
// further out, 10 degrees behind, for a week around start.
func stereoEphemeris(t *testing.T, start time.Time) *ephem.Table {
	t.Helper()
	span := []float64{satdata.TimeToNum(start.Add(-48 * time.Hour)), satdata.TimeToNum(start.Add(7 * 24 * time.Hour))}
	hdr := satdata.PositionHeader{Units: "AU", ReferenceFrame: "HEEQ", Observer: ephem.Sun}
	tbl := ephem.NewTable()

	earthR := 1 + propagate.DistToL1/ephem.AU
	lon := -10 * math.Pi / 180
	for body, pos := range map[string][3]float64{
		ephem.Earth: {earthR, 0, 0},
		"STEREO-A":  {1.02, lon, 0},
	} {
		p, err := satdata.NewPositionFromComponents(
			[]float64{pos[0], pos[0]}, []float64{pos[1], pos[1]}, []float64{pos[2], pos[2]}, satdata.Spherical)
		if err != nil {
			t.Fatal(err)
		}
		p.Header = hdr
		if err := tbl.Add(body, span, p); err != nil {
			t.Fatal(err)
		}
	}
	return tbl
}

func TestForecastShiftedToL1(t *testing.T) {
	st, data, issued := seeded(t)
	start := issued.Add(-24 * time.Hour)

	sta := slice(t, data, matchAt, matchAt+24, start, "stereo-a")
	speed, _ := sta.Get(satdata.VarSpeed)
	speed[5] = math.NaN()
	speed[12] = 700
	speed[13] = 300
	save(t, st, sta)

	cfg := DefaultConfig()
	cfg.NowSource = "stereo-a"
	cfg.ShiftToL1 = true
	r := NewRunner(st, propagate.New(stereoEphemeris(t, start)), cfg)

	out, err := r.Forecast(context.Background(), issued)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if !out.Run.NowEnd.After(issued.Add(-time.Hour)) {
		t.Errorf("NowEnd = %s, want it moved later by the corotation lag", out.Run.NowEnd)
	}
	run, err := st.GetForecastRun(out.Run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if run == nil || run.Status != "ok" {
		t.Errorf("stored run = %+v", run)
	}
}

func TestRunAllVerifiesEarlierRuns(t *testing.T) {
	st, data, issued := seeded(t)
	cfg := DefaultConfig()
	cfg.OutputPath = filepath.Join(t.TempDir(), "predstorm_forecast.txt")
	r := NewRunner(st, nil, cfg)

	first, err := r.RunAll(context.Background(), issued)
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	written, err := archive.ReadSeries(cfg.OutputPath, "predstorm")
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if written.Len() != first.Forecast.Len() {
		t.Errorf("output has %d rows, want %d", written.Len(), first.Forecast.Len())
	}

	// What happened next is exactly the continuation of the analogue.
	save(t, st, slice(t, data, matchAt+24, matchAt+48, issued, "noaa-rtsw"))

	n, err := r.VerifyPending(issued.Add(25 * time.Hour))
	if err != nil {
		t.Fatalf("VerifyPending: %v", err)
	}
	if n != 1 {
		t.Fatalf("verified %d runs, want 1", n)
	}
	scores, err := st.GetForecastVerification(first.Run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(scores) != len(windVars) {
		t.Fatalf("scores for %d variables, want %d: %+v", len(scores), len(windVars), scores)
	}
	for _, s := range scores {
		if s.Count != 24 || s.RMSE.Float64 > 1e-9 {
			t.Errorf("%s: n=%d rmse=%v, want 24 exact pairs", s.Variable, s.Count, s.RMSE.Float64)
		}
	}

	if n, err := r.VerifyPending(issued.Add(25 * time.Hour)); err != nil || n != 0 {
		t.Errorf("second VerifyPending = %d, %v; want 0", n, err)
	}
}
