package forecast

import (
	"database/sql"
	"fmt"
	"log"
	"math"
	"slices"
	"time"

	"github.com/IWF-helio/PREDSTORM/internal/metrics"
	"github.com/IWF-helio/PREDSTORM/internal/models"
	"github.com/IWF-helio/PREDSTORM/internal/satdata"
	"github.com/IWF-helio/PREDSTORM/internal/store"
)

// Errors returns the RMSE and mean bias (forecast minus observed) over the
// pairs where both values are present, and how many pairs that was.
func Errors(forecast, observed []float64) (rmse, bias float64, n int) {
	var sq, sum float64
	for i := range min(len(forecast), len(observed)) {
		f, o := forecast[i], observed[i]
		if math.IsNaN(f) || math.IsNaN(o) {
			continue
		}
		d := f - o
		sq += d * d
		sum += d
		n++
	}
	if n == 0 {
		return math.NaN(), math.NaN(), 0
	}
	return math.Sqrt(sq / float64(n)), sum / float64(n), n
}

// Verifier scores stored forecast runs against later observations.
type Verifier struct {
	store *store.Store
}

func NewVerifier(s *store.Store) *Verifier {
	return &Verifier{store: s}
}

// VerifyRun compares the stored values of run with obs and stores one
// verification per forecast variable. Forecast times outside obs are not
// scored; variables obs does not carry are skipped.
func (v *Verifier) VerifyRun(run models.ForecastRun, obs *satdata.Series) ([]models.ForecastVerification, error) {
	values, err := v.store.GetForecastValues(run.ID)
	if err != nil {
		return nil, fmt.Errorf("get forecast values: %w", err)
	}
	if obs.Len() == 0 {
		return nil, fmt.Errorf("verify run %s: no observations: %w", run.ID, satdata.ErrPrecondition)
	}

	t := obs.Time()
	first, last := t[0], t[len(t)-1]
	var times []float64
	for _, fv := range values {
		x := satdata.TimeToNum(fv.ValidAt)
		if x >= first && x <= last {
			times = append(times, x)
		}
	}
	slices.Sort(times)
	times = slices.Compact(times)
	if len(times) == 0 {
		return nil, nil
	}
	observed, err := obs.InterpToTime(times)
	if err != nil {
		return nil, fmt.Errorf("verify run %s: %w", run.ID, err)
	}

	type pairs struct{ forecast, observed []float64 }
	byVar := make(map[string]*pairs)
	var order []string
	for _, fv := range values {
		variable, err := satdata.ParseVar(fv.Variable)
		if err != nil || !observed.Has(variable) {
			continue
		}
		i, ok := slices.BinarySearch(times, satdata.TimeToNum(fv.ValidAt))
		if !ok {
			continue
		}
		p, seen := byVar[fv.Variable]
		if !seen {
			p = &pairs{}
			byVar[fv.Variable] = p
			order = append(order, fv.Variable)
		}
		ov, _ := observed.Get(variable)
		f := math.NaN()
		if fv.Value.Valid {
			f = fv.Value.Float64
		}
		p.forecast = append(p.forecast, f)
		p.observed = append(p.observed, ov[i])
	}

	now := time.Now().UTC()
	var out []models.ForecastVerification
	for _, name := range order {
		p := byVar[name]
		rmse, bias, n := Errors(p.forecast, p.observed)
		ver := models.ForecastVerification{
			RunID:      run.ID,
			Variable:   name,
			Count:      n,
			VerifiedAt: now,
		}
		if n > 0 {
			ver.RMSE = sql.NullFloat64{Float64: rmse, Valid: true}
			ver.Bias = sql.NullFloat64{Float64: bias, Valid: true}
			metrics.VerificationRMSE.WithLabelValues(name).Set(rmse)
		}
		if err := v.store.UpsertForecastVerification(ver); err != nil {
			return nil, fmt.Errorf("store verification %s: %w", name, err)
		}
		out = append(out, ver)
	}
	return out, nil
}

// VerifyPending verifies every successful run whose horizon ended within the
// coverage of obs. It returns the number of runs verified.
func (v *Verifier) VerifyPending(obs *satdata.Series) (int, error) {
	if obs.Len() == 0 {
		return 0, nil
	}
	cutoff := satdata.NumToTime(obs.Time()[obs.Len()-1])
	runs, err := v.store.GetUnverifiedRuns(cutoff)
	if err != nil {
		return 0, fmt.Errorf("get unverified runs: %w", err)
	}

	verified := 0
	for _, run := range runs {
		results, err := v.VerifyRun(run, obs)
		if err != nil {
			log.Printf("forecast: verify run %s: %v", run.ID, err)
			continue
		}
		if len(results) > 0 {
			verified++
		}
	}
	return verified, nil
}
