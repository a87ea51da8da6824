package forecast

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/IWF-helio/PREDSTORM/internal/satdata"
)

var t0 = time.Date(2015, 3, 1, 0, 0, 0, 0, time.UTC)

func hourlyAxis(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = satdata.TimeToNum(t0.Add(time.Duration(i) * time.Hour))
	}
	return out
}

// trainingSeries returns n hours of noisy solar wind.
func trainingSeries(t *testing.T, n int) *satdata.Series {
	t.Helper()
	rng := rand.New(rand.NewPCG(1, 2))
	vars := make(map[satdata.Var][]float64)
	for _, v := range DefaultConfig().Vars {
		values := make([]float64, n)
		for i := range values {
			values[i] = 10*math.Sin(float64(i)/17) + rng.NormFloat64()*3
		}
		vars[v] = values
	}
	s, err := satdata.NewFromVars(hourlyAxis(n), vars, "omni", &satdata.Header{SamplingRate: time.Hour, ReferenceFrame: "GSM"})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func window(s *satdata.Series, start, n int) *satdata.Series {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = start + i
	}
	return s.Select(idx)
}

func TestDistances(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name     string
		now      []float64
		hist     []float64
		starts   []int
		minValid float64
		want     []float64
	}{
		{"exact copy", []float64{1, 2, 3}, []float64{0, 1, 2, 3}, []int{1}, 0.5, []float64{0}},
		{"constant offset", []float64{1, 2, 3}, []float64{3, 4, 5}, []int{0}, 0.5, []float64{2}},
		{"nan pairs skipped", []float64{1, 2, nan, 4}, []float64{1, 2, 100, 5}, []int{0}, 0.5, []float64{math.Sqrt(1.0 / 3)}},
		{"too few valid pairs", []float64{1, nan, nan, 4}, []float64{1, 2, 3, nan}, []int{0}, 0.5, []float64{nan}},
		{"window past end", []float64{1, 2}, []float64{1, 2, 3}, []int{0, 2}, 0.5, []float64{0, nan}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distances(tt.now, tt.hist, tt.starts, tt.minValid)
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateNaNs(), cmpopts.EquateApprox(0, 1e-12)); diff != "" {
				t.Errorf("Distances mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRank(t *testing.T) {
	got := Rank([]float64{2, 1, 1, math.NaN(), 0})
	if diff := cmp.Diff([]int{4, 1, 2, 0}, got); diff != "" {
		t.Errorf("Rank mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchFindsExactCopy(t *testing.T) {
	hist := trainingSeries(t, 500)
	const p = 200
	now := window(hist, p, 24)

	res, err := Search(context.Background(), now, hist, DefaultConfig())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Candidates != 500-48+1 {
		t.Errorf("Candidates = %d, want %d", res.Candidates, 500-48+1)
	}
	for _, v := range DefaultConfig().Vars {
		m := res.Matches[v]
		if m.Best != p || m.Distance != 0 {
			t.Errorf("%s: best = %d at distance %v, want %d at 0", v, m.Best, m.Distance, p)
		}
		if !m.BestTime.Equal(t0.Add(p * time.Hour)) {
			t.Errorf("%s: BestTime = %s", v, m.BestTime)
		}
		if len(m.Top) != 50 || m.Top[0] != p {
			t.Errorf("%s: top-K = %d entries starting at %d", v, len(m.Top), m.Top[0])
		}
	}

	fc := res.Forecast
	if fc.Len() != 48 {
		t.Fatalf("forecast length = %d, want 48", fc.Len())
	}
	for _, v := range DefaultConfig().Vars {
		got, _ := fc.Get(v)
		want, _ := hist.Get(v)
		if diff := cmp.Diff(want[p:p+48], got); diff != "" {
			t.Errorf("%s: forecast is not window + continuation (-want +got):\n%s", v, diff)
		}
	}
	times := fc.Time()
	for i := 1; i < len(times); i++ {
		if times[i]-times[i-1] != 3600 {
			t.Fatalf("forecast step at %d = %v s, want 3600", i, times[i]-times[i-1])
		}
	}
	if fc.Header.SamplingRate != time.Hour || fc.Header.ReferenceFrame != "GSM" {
		t.Errorf("forecast header = %+v", fc.Header)
	}
	if !res.NowEnd.Equal(t0.Add((p + 23) * time.Hour)) {
		t.Errorf("NowEnd = %s", res.NowEnd)
	}
	if got := res.FutureTimes(); len(got) != 24 || !got[0].Equal(res.NowEnd.Add(time.Hour)) {
		t.Errorf("FutureTimes starts at %v (%d entries)", got[0], len(got))
	}
}

func TestSearchMatchPolicy(t *testing.T) {
	hist := trainingSeries(t, 500)
	now := window(hist, 200, 24)
	other, _ := window(hist, 300, 24).Get(satdata.VarBx)
	if err := now.Set(satdata.VarBx, other); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		policy   MatchPolicy
		wantBx   int
		wantFrom bool
	}{
		{PerVariable, 300, false},
		{SharedBtot, 200, true},
	}

	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Policy = tt.policy
			res, err := Search(context.Background(), now, hist, cfg)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			bx := res.Matches[satdata.VarBx]
			if bx.Best != tt.wantBx {
				t.Errorf("bx best = %d, want %d", bx.Best, tt.wantBx)
			}
			if (bx.SharedFrom != nil) != tt.wantFrom {
				t.Errorf("bx SharedFrom = %v", bx.SharedFrom)
			}
			if got := res.Matches[satdata.VarBtot].Best; got != 200 {
				t.Errorf("btot best = %d, want 200", got)
			}
		})
	}
}

func TestSearchErrors(t *testing.T) {
	hist := trainingSeries(t, 100)
	now := window(hist, 10, 24)

	allNaN := hist.Clone()
	nans := make([]float64, allNaN.Len())
	for i := range nans {
		nans[i] = math.NaN()
	}
	if err := allNaN.Set(satdata.VarSpeed, nans); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		now    *satdata.Series
		hist   *satdata.Series
		modify func(*Config)
		want   error
	}{
		{"short training range", now, hist, func(c *Config) {
			c.TrainStart = t0
			c.TrainEnd = t0.Add(40 * time.Hour)
		}, satdata.ErrPrecondition},
		{"short now window", window(hist, 0, 10), hist, nil, satdata.ErrPrecondition},
		{"missing variable", now, hist, func(c *Config) { c.Vars = append(c.Vars, satdata.VarDst) }, satdata.ErrSchema},
		{"no valid window", now, allNaN, nil, satdata.ErrDataQuality},
		{"bad config", now, hist, func(c *Config) { c.TopK = 0 }, satdata.ErrPrecondition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.modify != nil {
				tt.modify(&cfg)
			}
			_, err := Search(context.Background(), tt.now, tt.hist, cfg)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSearchTrainingRange(t *testing.T) {
	hist := trainingSeries(t, 500)
	now := window(hist, 200, 24)

	cfg := DefaultConfig()
	cfg.TrainStart = t0.Add(250 * time.Hour)
	res, err := Search(context.Background(), now, hist, cfg)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for v, m := range res.Matches {
		for _, i := range m.Top {
			if i < 250 || i > 500-48 {
				t.Errorf("%s: candidate %d outside training range", v, i)
			}
		}
	}
}

func TestEnsembleAndSpread(t *testing.T) {
	n := 100
	vars := map[satdata.Var][]float64{satdata.VarSpeed: make([]float64, n)}
	for i := range vars[satdata.VarSpeed] {
		vars[satdata.VarSpeed][i] = 450
	}
	hist, err := satdata.NewFromVars(hourlyAxis(n), vars, "omni", &satdata.Header{SamplingRate: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	now := window(hist, 0, 24)

	cfg := DefaultConfig()
	cfg.Vars = []satdata.Var{satdata.VarSpeed}
	cfg.TopK = 5
	res, err := Search(context.Background(), now, hist, cfg)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if m := res.Matches[satdata.VarSpeed]; m.Best != 0 || len(m.Top) != 5 || m.Top[4] != 4 {
		t.Errorf("ties must keep the lowest indices first: %+v", m.Top)
	}

	ens, err := res.Ensemble(satdata.VarSpeed)
	if err != nil {
		t.Fatal(err)
	}
	if len(ens) != 5 || len(ens[0]) != 24 {
		t.Fatalf("ensemble shape = %d x %d, want 5 x 24", len(ens), len(ens[0]))
	}
	mean, std, err := res.Spread(satdata.VarSpeed)
	if err != nil {
		t.Fatal(err)
	}
	for k := range mean {
		if mean[k] != 450 || std[k] != 0 {
			t.Fatalf("spread[%d] = %v ± %v, want 450 ± 0", k, mean[k], std[k])
		}
	}

	if _, err := res.Ensemble(satdata.VarBz); !errors.Is(err, satdata.ErrSchema) {
		t.Errorf("Ensemble(bz) error = %v, want ErrSchema", err)
	}
}

func TestParseMatchPolicy(t *testing.T) {
	for _, p := range []MatchPolicy{PerVariable, SharedBtot} {
		got, err := ParseMatchPolicy(p.String())
		if err != nil || got != p {
			t.Errorf("ParseMatchPolicy(%q) = %v, %v", p, got, err)
		}
	}
	if _, err := ParseMatchPolicy("median"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
