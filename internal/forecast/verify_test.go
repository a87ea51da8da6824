package forecast

import (
	"database/sql"
	"math"
	"testing"
	"time"

	_ "modernc.org/sqlite"

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

func TestErrors(t *testing.T) {
	tests := []struct {
		name     string
		forecast []float64
		observed []float64
		wantRMSE float64
		wantBias float64
		wantN    int
	}{
		{"perfect", []float64{1, 2, 3}, []float64{1, 2, 3}, 0, 0, 3},
		{"over-forecast", []float64{2, 3}, []float64{1, 2}, 1, 1, 2},
		{"mixed", []float64{5, 6}, []float64{5, 5}, math.Sqrt(0.5), 0.5, 2},
		{"nan skipped", []float64{5, math.NaN(), 7}, []float64{5, 1, math.NaN()}, 0, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rmse, bias, n := Errors(tt.forecast, tt.observed)
			if math.Abs(rmse-tt.wantRMSE) > 1e-12 || math.Abs(bias-tt.wantBias) > 1e-12 || n != tt.wantN {
				t.Errorf("Errors = %v, %v, %d; want %v, %v, %d", rmse, bias, n, tt.wantRMSE, tt.wantBias, tt.wantN)
			}
		})
	}

	if rmse, _, n := Errors([]float64{math.NaN()}, []float64{1}); !math.IsNaN(rmse) || n != 0 {
		t.Errorf("no valid pairs = %v, %d; want NaN, 0", rmse, n)
	}
}

func TestVerifier(t *testing.T) {
	st := setupTestStore(t)
	run := &models.ForecastRun{
		ID: "run-1", Source: "noaa-rtsw", IssuedAt: time.Now().UTC(), NowEnd: t0,
		TrainStart: t0.AddDate(-10, 0, 0), TrainEnd: t0.AddDate(-1, 0, 0),
		Window: 24, Horizon: 3, TopK: 50, Policy: PerVariable.String(),
	}
	if err := st.CreateForecastRun(run); err != nil {
		t.Fatal(err)
	}
	var values []models.ForecastValue
	for lead, v := range []float64{5, 6, 7} {
		values = append(values, models.ForecastValue{
			RunID: run.ID, Variable: "btot", Lead: lead + 1,
			ValidAt: t0.Add(time.Duration(lead+1) * time.Hour),
			Value:   sql.NullFloat64{Float64: v, Valid: true},
		})
	}
	if err := st.InsertForecastValues(values); err != nil {
		t.Fatal(err)
	}
	if err := st.CompleteForecastRun(run, nil); err != nil {
		t.Fatal(err)
	}

	observed := func(hours int) *satdata.Series {
		n := hours + 1
		btot := make([]float64, n)
		for i := range btot {
			btot[i] = 5
		}
		s, err := satdata.NewFromVars(hourlyAxis(n), map[satdata.Var][]float64{satdata.VarBtot: btot}, "noaa-rtsw", nil)
		if err != nil {
			t.Fatal(err)
		}
		return s
	}

	v := NewVerifier(st)
	if n, err := v.VerifyPending(observed(2)); err != nil || n != 0 {
		t.Errorf("VerifyPending before the horizon ended = %d, %v; want 0", n, err)
	}

	// Scores only the leads inside the observations.
	results, err := v.VerifyRun(*run, observed(2))
	if err != nil {
		t.Fatalf("VerifyRun: %v", err)
	}
	if len(results) != 1 || results[0].Count != 2 || math.Abs(results[0].RMSE.Float64-math.Sqrt(0.5)) > 1e-12 {
		t.Errorf("results = %+v", results)
	}

	stored, err := st.GetForecastVerification(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || stored[0].Bias.Float64 != 0.5 {
		t.Errorf("stored = %+v", stored)
	}
}

func TestVerifyPending(t *testing.T) {
	st := setupTestStore(t)
	run := &models.ForecastRun{
		ID: "run-2", Source: "noaa-rtsw", IssuedAt: time.Now().UTC(), NowEnd: t0,
		TrainStart: t0, TrainEnd: t0, Window: 24, Horizon: 1, TopK: 1, Policy: "per-variable",
	}
	if err := st.CreateForecastRun(run); err != nil {
		t.Fatal(err)
	}
	err := st.InsertForecastValues([]models.ForecastValue{{
		RunID: run.ID, Variable: "speed", Lead: 1, ValidAt: t0.Add(time.Hour),
		Value: sql.NullFloat64{Float64: 420, Valid: true},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.CompleteForecastRun(run, nil); err != nil {
		t.Fatal(err)
	}

	obs, err := satdata.NewFromVars(hourlyAxis(3), map[satdata.Var][]float64{satdata.VarSpeed: {400, 400, 400}}, "noaa-rtsw", nil)
	if err != nil {
		t.Fatal(err)
	}
	n, err := NewVerifier(st).VerifyPending(obs)
	if err != nil || n != 1 {
		t.Fatalf("VerifyPending = %d, %v; want 1", n, err)
	}
	stored, _ := st.GetForecastVerification(run.ID)
	if len(stored) != 1 || stored[0].RMSE.Float64 != 20 {
		t.Errorf("stored = %+v", stored)
	}
}
