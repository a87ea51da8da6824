package forecast

import (
	"context"
	"fmt"
	"log"
	"math"
	"slices"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/IWF-helio/PREDSTORM/internal/metrics"
	"github.com/IWF-helio/PREDSTORM/internal/satdata"
)

// Distances returns, for each start in starts, the RMS difference between now
// and hist[start:start+len(now)]. Pairs where either side is NaN are skipped
// and the mean is taken over the valid pairs. A window with fewer than
// minValid*len(now) valid pairs, or running past the end of hist, gets NaN.
func Distances(now, hist []float64, starts []int, minValid float64) []float64 {
	w := len(now)
	need := minValid * float64(w)
	out := make([]float64, len(starts))
	for k, i := range starts {
		if i < 0 || i+w > len(hist) {
			out[k] = math.NaN()
			continue
		}
		var sum float64
		var n int
		for j, a := range now {
			b := hist[i+j]
			if math.IsNaN(a) || math.IsNaN(b) {
				continue
			}
			d := a - b
			sum += d * d
			n++
		}
		if n == 0 || float64(n) < need {
			out[k] = math.NaN()
			continue
		}
		out[k] = math.Sqrt(sum / float64(n))
	}
	return out
}

// Rank returns the positions of dist in ascending order of distance. Equal
// distances keep their original order and NaN distances are left out.
func Rank(dist []float64) []int {
	idx := make([]int, 0, len(dist))
	for i, d := range dist {
		if !math.IsNaN(d) {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool { return dist[idx[a]] < dist[idx[b]] })
	return idx
}

// Match holds the analogues found for one variable. Indices point into the
// training series.
type Match struct {
	Var          satdata.Var
	Best         int
	BestTime     time.Time
	Distance     float64
	Top          []int
	TopDistances []float64
	// SharedFrom is set when the match was taken over from another variable.
	SharedFrom *satdata.Var
}

// Result is the outcome of Search.
type Result struct {
	Config Config
	// Forecast covers the now window followed by the best-match
	// continuation of every variable.
	Forecast *satdata.Series
	Matches  map[satdata.Var]Match
	// Candidates is the number of training windows compared per variable.
	Candidates int
	NowEnd     time.Time
	Step       time.Duration

	ensembles map[satdata.Var][][]float64
}

// Ensemble returns the continuations of the top-K analogues of v, best first.
func (r *Result) Ensemble(v satdata.Var) ([][]float64, error) {
	ens, ok := r.ensembles[v]
	if !ok {
		return nil, fmt.Errorf("ensemble %s: variable not forecast: %w", v, satdata.ErrSchema)
	}
	return ens, nil
}

// Spread returns the per-step mean and standard deviation of the ensemble of
// v, ignoring NaN members.
func (r *Result) Spread(v satdata.Var) (mean, std []float64, err error) {
	ens, err := r.Ensemble(v)
	if err != nil {
		return nil, nil, err
	}
	h := r.Config.Horizon
	mean = make([]float64, h)
	std = make([]float64, h)
	column := make([]float64, len(ens))
	for k := 0; k < h; k++ {
		for m, member := range ens {
			column[m] = member[k]
		}
		mean[k], std[k] = satdata.NaNMeanStd(column)
	}
	return mean, std, nil
}

// FutureTimes returns the timestamps of the forecast horizon.
func (r *Result) FutureTimes() []time.Time {
	times := r.Forecast.Times()
	return times[len(times)-r.Config.Horizon:]
}

// trainingRange returns the candidate start indices of hist under cfg.
func trainingRange(hist *satdata.Series, cfg Config) ([]int, error) {
	t := hist.Time()
	s, e := 0, len(t)
	if !cfg.TrainStart.IsZero() {
		s = sort.SearchFloat64s(t, satdata.TimeToNum(cfg.TrainStart))
	}
	if !cfg.TrainEnd.IsZero() {
		e = sort.SearchFloat64s(t, satdata.TimeToNum(cfg.TrainEnd))
	}
	last := e - cfg.Window - cfg.Horizon
	if last < s {
		return nil, fmt.Errorf("training range holds %d samples, need at least %d: %w",
			max(e-s, 0), cfg.Window+cfg.Horizon, satdata.ErrPrecondition)
	}
	starts := make([]int, last-s+1)
	for i := range starts {
		starts[i] = s + i
	}
	return starts, nil
}

// searchVars returns the variables that need their own distance scan.
func searchVars(cfg Config) []satdata.Var {
	if cfg.Policy != SharedBtot {
		return slices.Clone(cfg.Vars)
	}
	var out []satdata.Var
	needBtot := false
	for _, v := range cfg.Vars {
		if slices.Contains(satdata.MagneticVars, v) {
			needBtot = true
			continue
		}
		out = append(out, v)
	}
	if needBtot && !slices.Contains(out, satdata.VarBtot) {
		out = append(out, satdata.VarBtot)
	}
	return out
}

// Search finds the historical windows of hist closest to the last
// cfg.Window samples of now and assembles the forecast from what followed
// them. Variables are scanned in parallel.
func Search(ctx context.Context, now, hist *satdata.Series, cfg Config) (*Result, error) {
	start := time.Now()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if now.Len() < cfg.Window {
		return nil, fmt.Errorf("search: now window has %d samples, need %d: %w", now.Len(), cfg.Window, satdata.ErrPrecondition)
	}
	if now.Len() > cfg.Window {
		idx := make([]int, cfg.Window)
		for i := range idx {
			idx[i] = now.Len() - cfg.Window + i
		}
		now = now.Select(idx)
	}
	starts, err := trainingRange(hist, cfg)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	vars := searchVars(cfg)
	nowValues := make([][]float64, len(vars))
	histValues := make([][]float64, len(vars))
	for i, v := range vars {
		if nowValues[i], err = now.Get(v); err != nil {
			return nil, fmt.Errorf("search: now window: %w", err)
		}
		if histValues[i], err = hist.Get(v); err != nil {
			return nil, fmt.Errorf("search: training data: %w", err)
		}
	}

	histTimes := hist.Time()
	found := make([]Match, len(vars))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers())
	for i, v := range vars {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			dist := Distances(nowValues[i], histValues[i], starts, cfg.MinValidFraction)
			order := Rank(dist)
			if len(order) == 0 {
				return fmt.Errorf("%s: no valid analogue window among %d candidates: %w", v, len(starts), satdata.ErrDataQuality)
			}
			k := min(cfg.TopK, len(order))
			m := Match{
				Var:          v,
				Best:         starts[order[0]],
				Distance:     dist[order[0]],
				Top:          make([]int, k),
				TopDistances: make([]float64, k),
			}
			m.BestTime = satdata.NumToTime(histTimes[m.Best])
			for r := 0; r < k; r++ {
				m.Top[r] = starts[order[r]]
				m.TopDistances[r] = dist[order[r]]
			}
			found[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	matches := make(map[satdata.Var]Match, len(cfg.Vars))
	for _, m := range found {
		matches[m.Var] = m
	}
	if cfg.Policy == SharedBtot {
		btot := matches[satdata.VarBtot]
		for _, v := range cfg.Vars {
			if slices.Contains(satdata.MagneticVars, v) {
				m := btot
				m.Var = v
				from := satdata.VarBtot
				m.SharedFrom = &from
				matches[v] = m
			}
		}
	}

	res, err := assemble(now, hist, cfg, matches)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	res.Candidates = len(starts)

	elapsed := time.Since(start)
	metrics.ForecastSearchDuration.WithLabelValues(cfg.Policy.String()).Observe(elapsed.Seconds())
	log.Printf("forecast: compared %d windows for %d variables in %s", len(starts), len(vars), elapsed.Round(time.Millisecond))
	return res, nil
}

// forecastStep is the spacing of the forecast samples.
func forecastStep(now, hist *satdata.Series) (time.Duration, error) {
	if now.Header.SamplingRate > 0 {
		return now.Header.SamplingRate, nil
	}
	if hist.Header.SamplingRate > 0 {
		return hist.Header.SamplingRate, nil
	}
	t := now.Time()
	if len(t) >= 2 {
		return time.Duration((t[len(t)-1] - t[len(t)-2]) * float64(time.Second)).Round(time.Second), nil
	}
	return 0, fmt.Errorf("cannot infer forecast step: %w", satdata.ErrPrecondition)
}

func assemble(now, hist *satdata.Series, cfg Config, matches map[satdata.Var]Match) (*Result, error) {
	step, err := forecastStep(now, hist)
	if err != nil {
		return nil, err
	}
	w, h := cfg.Window, cfg.Horizon

	nowTimes := now.Time()
	last := nowTimes[len(nowTimes)-1]
	times := make([]float64, 0, w+h)
	times = append(times, nowTimes...)
	for k := 1; k <= h; k++ {
		times = append(times, last+float64(k)*step.Seconds())
	}

	values := make(map[satdata.Var][]float64, len(cfg.Vars))
	ensembles := make(map[satdata.Var][][]float64, len(cfg.Vars))
	for _, v := range cfg.Vars {
		m := matches[v]
		nv, err := now.Get(v)
		if err != nil {
			return nil, err
		}
		hv, err := hist.Get(v)
		if err != nil {
			return nil, err
		}
		out := make([]float64, 0, w+h)
		out = append(out, nv...)
		out = append(out, hv[m.Best+w:m.Best+w+h]...)
		values[v] = out

		ens := make([][]float64, len(m.Top))
		for r, i := range m.Top {
			ens[r] = slices.Clone(hv[i+w : i+w+h])
		}
		ensembles[v] = ens
	}

	header := &satdata.Header{
		DataSource: fmt.Sprintf("analogue ensemble from %s (%s - %s)", hist.Source,
			satdata.NumToTime(hist.Time()[0]).Format("2006-01-02"),
			satdata.NumToTime(hist.Time()[hist.Len()-1]).Format("2006-01-02")),
		SamplingRate:   step,
		ReferenceFrame: hist.Header.ReferenceFrame,
		Instruments:    hist.Header.Instruments,
	}
	fc, err := satdata.NewFromVars(times, values, "predstorm", header)
	if err != nil {
		return nil, err
	}
	return &Result{
		Config:    cfg,
		Forecast:  fc,
		Matches:   matches,
		NowEnd:    satdata.NumToTime(last),
		Step:      step,
		ensembles: ensembles,
	}, nil
}
