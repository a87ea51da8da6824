package ephem

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/IWF-helio/PREDSTORM/internal/metrics"
	"github.com/IWF-helio/PREDSTORM/internal/satdata"
)

var day = satdata.TimeToNum(time.Date(2021, 7, 5, 0, 0, 0, 0, time.UTC))

func TestAnalyticEarth(t *testing.T) {
	times := []float64{day, day + 3600}

	pos, err := Analytic{}.Trajectory(context.Background(), "earth", times, DefaultOptions())
	if err != nil {
		t.Fatalf("Trajectory: %v", err)
	}
	if pos.Convention() != satdata.Spherical || pos.Header.Units != "AU" || pos.Header.ReferenceFrame != "HEEQ" {
		t.Errorf("unexpected position metadata: %v %+v", pos.Convention(), pos.Header)
	}
	r, _ := pos.Component("r")
	lon, _ := pos.Component("lon")
	if math.Abs(r[0]-1.0167) > 5e-4 {
		t.Errorf("r = %v AU, want ~1.0167 at aphelion", r[0])
	}
	if math.Abs(lon[0]) > 0.5*math.Pi/180 {
		t.Errorf("lon = %v, want near 0", lon[0])
	}

	km, err := Analytic{}.Trajectory(context.Background(), Earth, times, Options{Frame: "HEE", Units: "km", Observer: Sun})
	if err != nil {
		t.Fatal(err)
	}
	x, _ := km.Component("x")
	if math.Abs(x[0]-r[0]*AU) > 1 {
		t.Errorf("x = %v km, want %v", x[0], r[0]*AU)
	}
}

func TestAnalyticRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		opts Options
		want error
	}{
		{"unknown body", "STEREO-A", DefaultOptions(), ErrUnknownBody},
		{"frame", Earth, Options{Frame: "GSE", Units: "AU", Observer: Sun}, ErrUnsupported},
		{"observer", Earth, Options{Frame: "HEEQ", Units: "AU", Observer: "EARTH"}, ErrUnsupported},
		{"units", Earth, Options{Frame: "HEEQ", Units: "parsec", Observer: Sun}, ErrUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Analytic{}.Trajectory(context.Background(), tt.body, []float64{day}, tt.opts)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func stereoTable(t *testing.T) *Table {
	t.Helper()
	pos, err := satdata.NewPositionFromComponents(
		[]float64{0.96, 0.98},
		[]float64{-90 * math.Pi / 180, -90 * math.Pi / 180},
		[]float64{0, 0},
		satdata.Spherical)
	if err != nil {
		t.Fatal(err)
	}
	pos.Header = satdata.PositionHeader{Units: "AU", ReferenceFrame: "HEEQ", Observer: Sun}
	tbl := NewTable()
	if err := tbl.Add("stereo-a", []float64{day, day + 7200}, pos); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return tbl
}

func TestTableTrajectory(t *testing.T) {
	tbl := stereoTable(t)
	pos, err := tbl.Trajectory(context.Background(), "STEREO-A", []float64{day, day + 3600}, DefaultOptions())
	if err != nil {
		t.Fatalf("Trajectory: %v", err)
	}
	r, _ := pos.Component("r")
	lon, _ := pos.Component("lon")
	if math.Abs(r[1]-0.97) > 1e-9 {
		t.Errorf("r[1] = %v, want 0.97", r[1])
	}
	if math.Abs(lon[1]+math.Pi/2) > 1e-9 {
		t.Errorf("lon[1] = %v, want -pi/2", lon[1])
	}

	_, err = tbl.Trajectory(context.Background(), "STEREO-A", []float64{day + 10000}, DefaultOptions())
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("outside coverage error = %v, want ErrUnsupported", err)
	}
	_, err = tbl.Trajectory(context.Background(), "STEREO-A", []float64{day}, Options{Frame: "HCI", Units: "AU", Observer: Sun})
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("frame mismatch error = %v, want ErrUnsupported", err)
	}
	if got := tbl.Bodies(); len(got) != 1 || got[0] != "STEREO-A" {
		t.Errorf("Bodies = %v", got)
	}
}

func TestChainFallsThrough(t *testing.T) {
	chain := Chain{stereoTable(t), Analytic{}}
	if _, err := chain.Trajectory(context.Background(), Earth, []float64{day}, DefaultOptions()); err != nil {
		t.Errorf("earth through chain: %v", err)
	}
	if _, err := chain.Trajectory(context.Background(), "stereo-a", []float64{day}, DefaultOptions()); err != nil {
		t.Errorf("stereo-a through chain: %v", err)
	}
	if _, err := chain.Trajectory(context.Background(), "psp", []float64{day}, DefaultOptions()); !errors.Is(err, ErrUnknownBody) {
		t.Errorf("psp error = %v, want ErrUnknownBody", err)
	}
}

func TestHTTPClientTrajectory(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trajectory" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req TrajectoryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Body != "STEREO-A" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		resp := TrajectoryResponse{Frame: req.Frame, Units: "km", Observer: req.Observer}
		for range req.Times {
			resp.Positions = append(resp.Positions, [3]float64{0, -AU, 0})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL + "/")
	c.MaxElapsedTime = 10 * time.Second
	before := testutil.ToFloat64(metrics.EphemerisCallsTotal.WithLabelValues("STEREO-A", "200"))

	pos, err := c.Trajectory(context.Background(), "stereo-a", []float64{day, day + 60}, DefaultOptions())
	if err != nil {
		t.Fatalf("Trajectory: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want a retry after 503", calls.Load())
	}
	r, _ := pos.Component("r")
	lon, _ := pos.Component("lon")
	if math.Abs(r[0]-1) > 1e-12 || math.Abs(lon[0]+math.Pi/2) > 1e-12 {
		t.Errorf("position = r %v lon %v, want 1 AU at -90 deg", r[0], lon[0])
	}
	if got := testutil.ToFloat64(metrics.EphemerisCallsTotal.WithLabelValues("STEREO-A", "200")); got != before+1 {
		t.Errorf("calls metric = %v, want %v", got, before+1)
	}

	_, err = c.Trajectory(context.Background(), "voyager", []float64{day}, DefaultOptions())
	if !errors.Is(err, ErrUnknownBody) {
		t.Errorf("unknown body error = %v, want ErrUnknownBody", err)
	}
}
