package main

import (
	"database/sql"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	_ "modernc.org/sqlite"

	"github.com/IWF-helio/PREDSTORM/internal/forecast"
	"github.com/IWF-helio/PREDSTORM/internal/indices"
	"github.com/IWF-helio/PREDSTORM/internal/models"
	"github.com/IWF-helio/PREDSTORM/internal/satdata"
	"github.com/IWF-helio/PREDSTORM/internal/store"
)

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

func TestRunFlagsConfig(t *testing.T) {
	f := RunFlags{
		NowSource:      "stereo-a",
		TrainingSource: "omni",
		Window:         12,
		Horizon:        6,
		TopK:           10,
		Step:           time.Hour,
		Lookback:       48 * time.Hour,
		Policy:         "shared-btot",
		DstModel:       "burton",
		ShiftToL1:      true,
	}
	cfg, err := f.config()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.Forecast.Policy != forecast.SharedBtot || cfg.DstModel != indices.Burton {
		t.Errorf("policy = %v, dst model = %v", cfg.Forecast.Policy, cfg.DstModel)
	}
	if cfg.Forecast.Window != 12 || cfg.Forecast.Horizon != 6 || cfg.Forecast.TopK != 10 {
		t.Errorf("forecast config = %+v", cfg.Forecast)
	}
	if !cfg.ShiftToL1 || cfg.NowSource != "stereo-a" {
		t.Errorf("pipeline config = %+v", cfg)
	}

	f.Policy = "median"
	if _, err := f.config(); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestPropagatorChain(t *testing.T) {
	p, err := EphemerisFlags{LagMethod: "mean-speed", SynodicDays: 27.27}.propagator()
	if err != nil {
		t.Fatalf("propagator: %v", err)
	}
	if p.SunSynodicDays != 27.27 || p.Method.String() != "mean-speed" {
		t.Errorf("propagator = %+v", p)
	}
}

func TestRunSeries(t *testing.T) {
	st := setupTestStore(t)
	t0 := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	run := &models.ForecastRun{
		ID:       "0b8e2d3c-1f5a-4e8b-9c7d-6a5b4c3d2e1f",
		Source:   "noaa-rtsw",
		IssuedAt: t0,
		NowEnd:   t0,
		Window:   24,
		Horizon:  3,
		TopK:     50,
		Policy:   "per-variable",
	}
	if err := st.CreateForecastRun(run); err != nil {
		t.Fatal(err)
	}
	var values []models.ForecastValue
	for lead := 1; lead <= 3; lead++ {
		values = append(values,
			models.ForecastValue{RunID: run.ID, Variable: "speed", Lead: lead, ValidAt: t0.Add(time.Duration(lead) * time.Hour),
				Value: sql.NullFloat64{Float64: 400 + float64(lead), Valid: true}},
			models.ForecastValue{RunID: run.ID, Variable: "bz", Lead: lead, ValidAt: t0.Add(time.Duration(lead) * time.Hour),
				Value: sql.NullFloat64{Float64: -float64(lead), Valid: lead != 2}},
		)
	}
	if err := st.InsertForecastValues(values); err != nil {
		t.Fatal(err)
	}
	if err := st.CompleteForecastRun(run, nil); err != nil {
		t.Fatal(err)
	}

	s, err := runSeries(st, "latest")
	if err != nil {
		t.Fatalf("runSeries: %v", err)
	}
	if s.Len() != 3 || s.Header.SamplingRate != time.Hour {
		t.Fatalf("series has %d samples at %s", s.Len(), s.Header.SamplingRate)
	}
	speed, _ := s.Get(satdata.VarSpeed)
	if diff := cmp.Diff([]float64{401, 402, 403}, speed); diff != "" {
		t.Errorf("speed mismatch (-want +got):\n%s", diff)
	}
	bz, _ := s.Get(satdata.VarBz)
	if diff := cmp.Diff([]float64{-1, math.NaN(), -3}, bz, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("bz mismatch (-want +got):\n%s", diff)
	}

	if _, err := runSeries(st, "missing"); err == nil {
		t.Error("expected error for unknown run")
	}
}
