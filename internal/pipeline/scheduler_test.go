package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/IWF-helio/PREDSTORM/internal/forecast"
	"github.com/IWF-helio/PREDSTORM/internal/ingest"
	"github.com/IWF-helio/PREDSTORM/internal/models"
)

func TestStormAlert(t *testing.T) {
	run := &models.ForecastRun{ID: "run-1", IssuedAt: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)}
	peakTime := run.IssuedAt.Add(7 * time.Hour)

	tests := []struct {
		level        forecast.StormLevel
		peak         float64
		wantAlert    bool
		wantSeverity int
	}{
		{forecast.Quiet, -20, false, 0},
		{forecast.Moderate, -65, true, models.SeverityWatch},
		{forecast.Intense, -180, true, models.SeverityWarning},
		{forecast.SuperStorm, -400, true, models.SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			a, ok := stormAlert(&Outcome{Run: run, PeakDst: tt.peak, PeakTime: peakTime, Level: tt.level})
			if ok != tt.wantAlert {
				t.Fatalf("alert raised = %v, want %v", ok, tt.wantAlert)
			}
			if !ok {
				return
			}
			if a.Severity != tt.wantSeverity || a.ID != "predstorm-run-1" || a.RunID.String != "run-1" {
				t.Errorf("alert = %+v", a)
			}
		})
	}
}

func TestSchedulerRunOnce(t *testing.T) {
	st, _, issued := seeded(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"product_id":"K05A","issue_datetime":"2024-05-10 20:00:00.000","message":"Space Weather Message Code: ALTK05\r\nSerial Number: 1999\r\nIssue Time: 2024 May 10 2000 UTC\r\n\r\nALERT: Geomagnetic K-index of 5\r\n"}]`))
	}))
	defer srv.Close()

	s := NewScheduler(NewRunner(st, nil, DefaultConfig()), ingest.NewImporter(st), nil, time.Hour)
	s.SetAlertClient(ingest.NewAlertClient(srv.URL))
	s.now = func() time.Time { return issued.Add(30 * time.Second) }
	s.RunOnce(context.Background())

	run, err := st.GetLatestForecastRun()
	if err != nil {
		t.Fatal(err)
	}
	if run == nil || !run.IssuedAt.Equal(issued) {
		t.Fatalf("latest run = %+v, want one issued at %s", run, issued)
	}

	alerts, err := st.GetActiveAlerts(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	var relayed bool
	for _, a := range alerts {
		if a.ID == "ALTK05-1999" {
			relayed = true
		}
	}
	if !relayed {
		t.Errorf("SWPC alert not stored: %+v", alerts)
	}
}
