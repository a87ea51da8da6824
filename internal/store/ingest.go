package store

import (
	"database/sql"
	"time"
)

// ImportRun records one file import for auditing.
type ImportRun struct {
	ID               int64
	StartedAt        time.Time
	FinishedAt       sql.NullTime
	Source           string // "omni", "noaa-rtsw", "stereo-a"
	Path             string
	RecordsParsed    sql.NullInt64
	RecordsStored    sql.NullInt64
	FillValuesMasked sql.NullInt64
	Success          bool
	ErrorMessage     sql.NullString
}

// StartImportRun creates a new import run record and returns it.
func (s *Store) StartImportRun(source, path string) (*ImportRun, error) {
	run := &ImportRun{
		StartedAt: time.Now().UTC(),
		Source:    source,
		Path:      path,
	}

	result, err := s.db.Exec(`
		INSERT INTO import_runs (started_at, source, path, success)
		VALUES (?, ?, ?, FALSE)
	`, run.StartedAt, run.Source, run.Path)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return run, nil
}

// CompleteImportRun updates the import run with results.
func (s *Store) CompleteImportRun(run *ImportRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE import_runs SET
			finished_at = ?,
			records_parsed = ?,
			records_stored = ?,
			fill_values_masked = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.RecordsParsed, run.RecordsStored, run.FillValuesMasked,
		run.Success, run.ErrorMessage, run.ID)
	return err
}

// ImportHealthSummary is a per-day summary of imports for one source.
type ImportHealthSummary struct {
	Date         string
	Source       string
	TotalRuns    int
	SuccessRuns  int
	FailedRuns   int
	TotalRecords int64
	TotalMasked  int64
}

// GetImportHealth returns import summaries for the last N days.
func (s *Store) GetImportHealth(days int) ([]ImportHealthSummary, error) {
	rows, err := s.db.Query(`
		SELECT
			DATE(SUBSTR(started_at, 1, 19)) as date,
			source,
			COUNT(*) as total_runs,
			SUM(CASE WHEN success THEN 1 ELSE 0 END) as success_runs,
			SUM(CASE WHEN NOT success THEN 1 ELSE 0 END) as failed_runs,
			COALESCE(SUM(records_stored), 0) as total_records,
			COALESCE(SUM(fill_values_masked), 0) as total_masked
		FROM import_runs
		WHERE SUBSTR(started_at, 1, 19) > datetime('now', '-' || ? || ' days')
		GROUP BY date, source
		ORDER BY date DESC, source
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ImportHealthSummary
	for rows.Next() {
		var h ImportHealthSummary
		if err := rows.Scan(&h.Date, &h.Source, &h.TotalRuns, &h.SuccessRuns,
			&h.FailedRuns, &h.TotalRecords, &h.TotalMasked); err != nil {
			return nil, err
		}
		results = append(results, h)
	}
	return results, rows.Err()
}

// GetRecentImportErrors returns recent failed import runs.
func (s *Store) GetRecentImportErrors(limit int) ([]ImportRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, source, path,
			   records_parsed, records_stored, fill_values_masked,
			   success, error_message
		FROM import_runs
		WHERE success = FALSE
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ImportRun
	for rows.Next() {
		var r ImportRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Source, &r.Path,
			&r.RecordsParsed, &r.RecordsStored, &r.FillValuesMasked,
			&r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
