package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/IWF-helio/PREDSTORM/internal/archive"
	"github.com/IWF-helio/PREDSTORM/internal/metrics"
	"github.com/IWF-helio/PREDSTORM/internal/satdata"
	"github.com/IWF-helio/PREDSTORM/internal/store"
)

// Importer validates series and archives them in the store, recording every
// attempt as an import run.
type Importer struct {
	store *store.Store
	// KeepRaw stores a compressed copy of every imported file or payload.
	// Content seen before is then not imported again.
	KeepRaw bool
}

func NewImporter(s *store.Store) *Importer {
	return &Importer{store: s, KeepRaw: true}
}

// Result describes one import.
type Result struct {
	Source  string
	Parsed  int
	Stored  int
	Report  Report
	Skipped bool
}

// ImportFile reads the series file at path (see archive.ReadSeries), masks
// fill values and archives it under source.
func (im *Importer) ImportFile(path, source string) (*Result, error) {
	run, err := im.store.StartImportRun(source, path)
	if err != nil {
		return nil, fmt.Errorf("start import run: %w", err)
	}

	if im.KeepRaw {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, im.fail(run, fmt.Errorf("read %s: %w", path, err))
		}
		id, err := im.store.StoreRawFile(&run.ID, source, path, content)
		if err != nil {
			log.Printf("ingest: store raw file %s: %v", path, err)
		} else if id == 0 {
			log.Printf("ingest: %s unchanged since last import, skipping", path)
			run.Success = true
			run.RecordsStored = sql.NullInt64{Valid: true}
			im.complete(run)
			return &Result{Source: source, Skipped: true}, nil
		}
	}

	s, err := archive.ReadSeries(path, source)
	if err != nil {
		return nil, im.fail(run, err)
	}
	s.Source = source
	return im.save(run, s)
}

// ImportRealtime downloads the last days of NOAA real-time solar wind and
// archives it under SourceRTSW.
func (im *Importer) ImportRealtime(ctx context.Context, c *SWPC, days int) (*Result, error) {
	run, err := im.store.StartImportRun(SourceRTSW, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("start import run: %w", err)
	}

	s, fetched, err := c.Fetch(ctx, days)
	if im.KeepRaw {
		for _, f := range fetched {
			if len(f.Body) == 0 {
				continue
			}
			if _, err := im.store.StoreRawFile(&run.ID, SourceRTSW, f.Product, f.Body); err != nil {
				log.Printf("ingest: store raw payload %s: %v", f.Product, err)
			}
		}
	}
	if err != nil {
		return nil, im.fail(run, err)
	}
	return im.save(run, s)
}

// ImportSeries validates and archives an in-memory series.
func (im *Importer) ImportSeries(s *satdata.Series, origin string) (*Result, error) {
	run, err := im.store.StartImportRun(s.Source, origin)
	if err != nil {
		return nil, fmt.Errorf("start import run: %w", err)
	}
	return im.save(run, s)
}

func (im *Importer) save(run *store.ImportRun, s *satdata.Series) (*Result, error) {
	res := &Result{Source: s.Source, Parsed: s.Len()}
	run.RecordsParsed = sql.NullInt64{Int64: int64(res.Parsed), Valid: true}

	res.Report = Validate(s)
	run.FillValuesMasked = sql.NullInt64{Int64: int64(res.Report.TotalMasked()), Valid: true}

	n, err := im.store.SaveSeries(s)
	if err != nil {
		return nil, im.fail(run, fmt.Errorf("save series: %w", err))
	}
	res.Stored = n
	run.RecordsStored = sql.NullInt64{Int64: int64(n), Valid: true}
	run.Success = true
	im.complete(run)

	metrics.SamplesIngested.WithLabelValues(s.Source).Add(float64(n))
	log.Printf("ingest: %s: stored %d samples from %s", s.Source, n, run.Path)
	return res, nil
}

func (im *Importer) fail(run *store.ImportRun, err error) error {
	run.Success = false
	run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
	im.complete(run)
	return err
}

func (im *Importer) complete(run *store.ImportRun) {
	if err := im.store.CompleteImportRun(run); err != nil {
		log.Printf("ingest: complete import run %d: %v", run.ID, err)
	}
}

// ImportAlerts fetches the SWPC geomagnetic alerts and upserts them. It
// returns the number of alerts seen.
func (im *Importer) ImportAlerts(ctx context.Context, c *AlertClient) (int, error) {
	alerts, err := c.Fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch alerts: %w", err)
	}
	now := time.Now()
	for _, a := range alerts {
		if err := im.store.UpsertAlert(a, now); err != nil {
			return 0, fmt.Errorf("store alert %s: %w", a.ID, err)
		}
	}
	return len(alerts), nil
}
