package forecast

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/IWF-helio/PREDSTORM/internal/satdata"
)

func TestNowWindow(t *testing.T) {
	// 10 samples, 30 minutes apart, speed rising 1 km/s per minute.
	n := 10
	times := make([]float64, n)
	speed := make([]float64, n)
	for i := range times {
		times[i] = satdata.TimeToNum(t0.Add(time.Duration(i) * 30 * time.Minute))
		speed[i] = 400 + float64(i)*30
	}
	s, err := satdata.NewFromVars(times, map[satdata.Var][]float64{satdata.VarSpeed: speed}, "noaa-rtsw", nil)
	if err != nil {
		t.Fatal(err)
	}

	w, err := NowWindow(s, 3, time.Hour)
	if err != nil {
		t.Fatalf("NowWindow: %v", err)
	}
	end := t0.Add(270 * time.Minute)
	wantTimes := []float64{
		satdata.TimeToNum(end.Add(-2 * time.Hour)),
		satdata.TimeToNum(end.Add(-time.Hour)),
		satdata.TimeToNum(end),
	}
	if diff := cmp.Diff(wantTimes, w.Time()); diff != "" {
		t.Errorf("times mismatch (-want +got):\n%s", diff)
	}
	got, _ := w.Get(satdata.VarSpeed)
	if diff := cmp.Diff([]float64{550, 610, 670}, got); diff != "" {
		t.Errorf("speed mismatch (-want +got):\n%s", diff)
	}
	if w.Header.SamplingRate != time.Hour {
		t.Errorf("SamplingRate = %s, want 1h", w.Header.SamplingRate)
	}
}

func TestNowWindowErrors(t *testing.T) {
	empty, err := satdata.NewFromVars(nil, nil, "empty", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NowWindow(empty, 24, time.Hour); !errors.Is(err, satdata.ErrPrecondition) {
		t.Errorf("empty series error = %v, want ErrPrecondition", err)
	}
	if _, err := NowWindow(empty, 0, time.Hour); !errors.Is(err, satdata.ErrPrecondition) {
		t.Errorf("zero window error = %v, want ErrPrecondition", err)
	}
}
