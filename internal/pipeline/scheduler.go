package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/IWF-helio/PREDSTORM/internal/ingest"
)

// Scheduler repeats the batch pipeline: import the latest real-time data,
// then issue and verify a forecast.
type Scheduler struct {
	runner   *Runner
	importer *ingest.Importer
	swpc     *ingest.SWPC
	alerts   *ingest.AlertClient
	days     int
	interval time.Duration
	now      func() time.Time
}

// NewScheduler returns a scheduler running every interval. swpc may be nil
// when the now source is filled by other means.
func NewScheduler(runner *Runner, importer *ingest.Importer, swpc *ingest.SWPC, interval time.Duration) *Scheduler {
	return &Scheduler{
		runner:   runner,
		importer: importer,
		swpc:     swpc,
		days:     1,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetAlertClient makes every run also relay the SWPC geomagnetic alerts.
func (s *Scheduler) SetAlertClient(c *ingest.AlertClient) {
	s.alerts = c
}

func (s *Scheduler) Run(ctx context.Context) {
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: shutting down")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce imports and forecasts a single time.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if s.swpc != nil {
		if _, err := s.importer.ImportRealtime(ctx, s.swpc, s.days); err != nil {
			log.Printf("scheduler: import realtime: %v", err)
		}
	}
	if s.alerts != nil {
		if n, err := s.importer.ImportAlerts(ctx, s.alerts); err != nil {
			log.Printf("scheduler: import alerts: %v", err)
		} else if n > 0 {
			log.Printf("scheduler: %d geomagnetic alerts active", n)
		}
	}
	if ctx.Err() != nil {
		return
	}
	issued := s.now().Truncate(time.Minute)
	if _, err := s.runner.RunAll(ctx, issued); err != nil {
		log.Printf("scheduler: run: %v", err)
	}
}
