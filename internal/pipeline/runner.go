// Package pipeline chains archive loading, L1 propagation, the analogue
// search and the index formulas into one forecast run, and keeps the
// results in the store.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/IWF-helio/PREDSTORM/internal/archive"
	"github.com/IWF-helio/PREDSTORM/internal/forecast"
	"github.com/IWF-helio/PREDSTORM/internal/indices"
	"github.com/IWF-helio/PREDSTORM/internal/metrics"
	"github.com/IWF-helio/PREDSTORM/internal/models"
	"github.com/IWF-helio/PREDSTORM/internal/propagate"
	"github.com/IWF-helio/PREDSTORM/internal/satdata"
	"github.com/IWF-helio/PREDSTORM/internal/store"
)

type Config struct {
	// NowSource is the archived source the now window is built from.
	NowSource string
	// TrainingSource is the archived source searched for analogues.
	TrainingSource string
	// VerifySource holds the observations forecasts are scored against.
	// Empty means NowSource.
	VerifySource string

	Forecast forecast.Config
	// Step is the spacing of the now window. It must match the sampling of
	// the training source.
	Step time.Duration
	// Lookback is how much of NowSource before the issue time is loaded.
	Lookback time.Duration

	DstModel indices.DstModel
	// ShiftToL1 propagates NowSource from its spacecraft to L1 before the
	// now window is taken.
	ShiftToL1 bool

	// OutputPath, when set, receives the forecast in the realtime layout.
	OutputPath       string
	RawRetentionDays int
}

func DefaultConfig() Config {
	return Config{
		NowSource:        "noaa-rtsw",
		TrainingSource:   "omni",
		Forecast:         forecast.DefaultConfig(),
		Step:             time.Hour,
		Lookback:         3 * 24 * time.Hour,
		DstModel:         indices.OBrien,
		RawRetentionDays: 30,
	}
}

func (c Config) verifySource() string {
	if c.VerifySource != "" {
		return c.VerifySource
	}
	return c.NowSource
}

type Runner struct {
	store    *store.Store
	prop     *propagate.Propagator
	verifier *forecast.Verifier
	cfg      Config
}

// NewRunner returns a runner. prop may be nil unless cfg.ShiftToL1 is set.
func NewRunner(st *store.Store, prop *propagate.Propagator, cfg Config) *Runner {
	return &Runner{
		store:    st,
		prop:     prop,
		verifier: forecast.NewVerifier(st),
		cfg:      cfg,
	}
}

// Outcome is a finished forecast run.
type Outcome struct {
	Run    *models.ForecastRun
	Result *forecast.Result
	// Forecast is the search forecast with dst and ec derived from the
	// forecast wind.
	Forecast *satdata.Series
	PeakDst  float64
	PeakTime time.Time
	Level    forecast.StormLevel
}

// Forecast issues one forecast from the observations archived before
// issued and stores it.
func (r *Runner) Forecast(ctx context.Context, issued time.Time) (*Outcome, error) {
	out, err := r.forecast(ctx, issued)
	status := "ok"
	if err != nil {
		status = "failed"
	}
	metrics.ForecastRunsTotal.WithLabelValues(status).Inc()
	return out, err
}

func (r *Runner) forecast(ctx context.Context, issued time.Time) (*Outcome, error) {
	cfg := r.cfg
	obs, err := r.store.LoadSeries(cfg.NowSource, issued.Add(-cfg.Lookback), issued)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", cfg.NowSource, err)
	}
	if obs.Len() == 0 {
		return nil, fmt.Errorf("no %s observations in the %s before %s: %w",
			cfg.NowSource, cfg.Lookback, issued.Format(time.RFC3339), satdata.ErrDataQuality)
	}
	if cfg.ShiftToL1 {
		if r.prop == nil {
			return nil, fmt.Errorf("shift to L1 without a propagator: %w", satdata.ErrMissingPrerequisite)
		}
		if err := r.prop.ShiftTimeToL1(ctx, obs); err != nil {
			return nil, err
		}
		if err := r.prop.ShiftWindToL1(ctx, obs); err != nil {
			return nil, err
		}
		// Per-sample lags can reorder samples when the speed changes faster
		// than the sampling step.
		obs = obs.SortByTime()
	}
	if !obs.Has(satdata.VarBtot) && obs.Has(satdata.VarBx) {
		if err := obs.ComputeBtot(); err != nil {
			return nil, err
		}
	}

	now, err := forecast.NowWindow(obs, cfg.Forecast.Window, cfg.Step)
	if err != nil {
		return nil, err
	}
	hist, err := r.store.LoadSeries(cfg.TrainingSource, cfg.Forecast.TrainStart, cfg.Forecast.TrainEnd)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", cfg.TrainingSource, err)
	}

	nowTimes := now.Time()
	run := &models.ForecastRun{
		ID:         uuid.NewString(),
		Source:     cfg.NowSource,
		IssuedAt:   issued.UTC(),
		NowEnd:     satdata.NumToTime(nowTimes[len(nowTimes)-1]),
		TrainStart: cfg.Forecast.TrainStart,
		TrainEnd:   cfg.Forecast.TrainEnd,
		Window:     cfg.Forecast.Window,
		Horizon:    cfg.Forecast.Horizon,
		TopK:       cfg.Forecast.TopK,
		Policy:     cfg.Forecast.Policy.String(),
	}
	if hist.Len() > 0 {
		ht := hist.Time()
		if run.TrainStart.IsZero() {
			run.TrainStart = satdata.NumToTime(ht[0])
		}
		if run.TrainEnd.IsZero() {
			run.TrainEnd = satdata.NumToTime(ht[len(ht)-1])
		}
	}
	if err := r.store.CreateForecastRun(run); err != nil {
		return nil, fmt.Errorf("create forecast run: %w", err)
	}

	out, err := r.searchAndStore(ctx, run, now, hist)
	if cerr := r.store.CompleteForecastRun(run, err); cerr != nil {
		log.Printf("pipeline: complete run %s: %v", run.ID, cerr)
	}
	if err != nil {
		return nil, fmt.Errorf("forecast run %s: %w", run.ID, err)
	}
	return out, nil
}

func (r *Runner) searchAndStore(ctx context.Context, run *models.ForecastRun, now, hist *satdata.Series) (*Outcome, error) {
	res, err := forecast.Search(ctx, now, hist, r.cfg.Forecast)
	if err != nil {
		return nil, err
	}
	fc := res.Forecast
	if err := deriveIndices(fc, now, r.cfg.DstModel); err != nil {
		return nil, err
	}

	out := &Outcome{Run: run, Result: res, Forecast: fc, PeakDst: math.NaN(), Level: forecast.Quiet}
	if dst, err := fc.Get(satdata.VarDst); err == nil {
		peak, idx, level := forecast.PeakStorm(dst[len(dst)-res.Config.Horizon:])
		out.PeakDst, out.Level = peak, level
		if idx >= 0 {
			out.PeakTime = res.FutureTimes()[idx]
		}
	}

	if err := r.store.InsertForecastMatches(matchRows(run.ID, res, hist)); err != nil {
		return nil, fmt.Errorf("store matches: %w", err)
	}
	if err := r.store.InsertForecastValues(valueRows(run.ID, res)); err != nil {
		return nil, fmt.Errorf("store values: %w", err)
	}

	log.Printf("pipeline: run %s issued %s: peak dst %.0f nT (%s) at %s",
		run.ID, run.IssuedAt.Format("2006-01-02 15:04"), out.PeakDst, out.Level, out.PeakTime.Format("2006-01-02 15:04"))

	if alert, ok := stormAlert(out); ok {
		if err := r.store.UpsertAlert(alert, time.Now()); err != nil {
			log.Printf("pipeline: store alert: %v", err)
		}
	}
	return out, nil
}

// stormAlert turns a forecast reaching at least a moderate storm into an
// alert; intense and super storms are warnings.
func stormAlert(out *Outcome) (models.StormAlert, bool) {
	if out.Level < forecast.Moderate {
		return models.StormAlert{}, false
	}
	severity := models.SeverityWatch
	if out.Level >= forecast.Intense {
		severity = models.SeverityWarning
	}
	return models.StormAlert{
		ID:       "predstorm-" + out.Run.ID,
		Source:   "predstorm",
		Code:     "DST",
		Severity: severity,
		IssuedAt: out.Run.IssuedAt,
		Headline: fmt.Sprintf("FORECAST: %s geomagnetic storm, Dst %.0f nT at %s",
			out.Level, out.PeakDst, out.PeakTime.UTC().Format("2006-01-02 15:04 UTC")),
		RunID: sql.NullString{String: out.Run.ID, Valid: true},
	}, true
}

// deriveIndices adds dst and ec to fc where the forecast wind allows it.
// The Dst integration starts from the first observed Dst of the now
// window, or zero when the now source carries none.
func deriveIndices(fc, now *satdata.Series, model indices.DstModel) error {
	speed, errV := fc.Get(satdata.VarSpeed)
	bz, errB := fc.Get(satdata.VarBz)
	if errV != nil || errB != nil {
		log.Printf("pipeline: forecast lacks speed or bz, no dst derived")
		return nil
	}
	if by, err := fc.Get(satdata.VarBy); err == nil {
		if err := fc.Set(satdata.VarEc, indices.NewellCoupling(by, bz, speed)); err != nil {
			return err
		}
	}
	density, err := fc.Get(satdata.VarDensity)
	if err != nil {
		return nil
	}
	dst0 := 0.0
	if observed, err := now.Get(satdata.VarDst); err == nil && !math.IsNaN(observed[0]) {
		dst0 = observed[0]
	}
	return fc.Set(satdata.VarDst, indices.Dst(model, fc.Time(), speed, bz, density, dst0))
}

func matchRows(runID string, res *forecast.Result, hist *satdata.Series) []models.ForecastMatch {
	ht := hist.Time()
	var rows []models.ForecastMatch
	for _, v := range res.Config.Vars {
		m := res.Matches[v]
		for rank, idx := range m.Top {
			rows = append(rows, models.ForecastMatch{
				RunID:      runID,
				Variable:   v.String(),
				Rank:       rank + 1,
				StartTime:  satdata.NumToTime(ht[idx]),
				StartIndex: idx,
				Distance:   m.TopDistances[rank],
			})
		}
	}
	return rows
}

func valueRows(runID string, res *forecast.Result) []models.ForecastValue {
	fc := res.Forecast
	h := res.Config.Horizon
	future := res.FutureTimes()
	var rows []models.ForecastValue
	for _, v := range fc.Vars() {
		values, _ := fc.Get(v)
		_, std, err := res.Spread(v)
		if err != nil {
			std = nil
		}
		for k := range h {
			x := values[len(values)-h+k]
			row := models.ForecastValue{
				RunID:    runID,
				Variable: v.String(),
				Lead:     k + 1,
				ValidAt:  future[k],
				Value:    sql.NullFloat64{Float64: x, Valid: !math.IsNaN(x)},
			}
			if std != nil && !math.IsNaN(std[k]) {
				row.Spread = sql.NullFloat64{Float64: std[k], Valid: true}
			}
			rows = append(rows, row)
		}
	}
	return rows
}

// RunAll issues a forecast for issued, verifies earlier runs, writes the
// optional output file and prunes old raw files. Only a failed forecast is
// returned as an error; the other steps log and carry on.
func (r *Runner) RunAll(ctx context.Context, issued time.Time) (*Outcome, error) {
	log.Printf("pipeline: running forecast for %s", issued.Format("2006-01-02 15:04"))

	out, err := r.Forecast(ctx, issued)
	if err != nil {
		log.Printf("pipeline: forecast error: %v", err)
	}

	if n, verr := r.VerifyPending(issued); verr != nil {
		log.Printf("pipeline: verification error: %v", verr)
	} else if n > 0 {
		log.Printf("pipeline: verified %d runs", n)
	}

	if out != nil && r.cfg.OutputPath != "" {
		if werr := archive.WriteSeries(r.cfg.OutputPath, out.Forecast); werr != nil {
			log.Printf("pipeline: write %s: %v", r.cfg.OutputPath, werr)
		}
	}

	if r.cfg.RawRetentionDays > 0 {
		if n, cerr := r.store.CleanupOldRawFiles(r.cfg.RawRetentionDays); cerr != nil {
			log.Printf("pipeline: raw file cleanup error: %v", cerr)
		} else if n > 0 {
			log.Printf("pipeline: removed %d raw files older than %d days", n, r.cfg.RawRetentionDays)
		}
	}
	return out, err
}

// VerifyPending scores every finished run against the observations of the
// verify source archived before until.
func (r *Runner) VerifyPending(until time.Time) (int, error) {
	src := r.cfg.verifySource()
	start := until.Add(-r.cfg.Lookback - time.Duration(r.cfg.Forecast.Horizon)*r.cfg.Step)
	obs, err := r.store.LoadSeries(src, start, until)
	if err != nil {
		return 0, fmt.Errorf("load %s: %w", src, err)
	}
	if obs.Len() == 0 {
		return 0, nil
	}
	if !obs.Has(satdata.VarBtot) && obs.Has(satdata.VarBx) {
		if err := obs.ComputeBtot(); err != nil && !errors.Is(err, satdata.ErrSchema) {
			return 0, err
		}
	}
	return r.verifier.VerifyPending(obs)
}
