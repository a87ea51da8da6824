package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/IWF-helio/PREDSTORM/internal/models"
)

// CreateForecastRun inserts run with status "running".
func (s *Store) CreateForecastRun(run *models.ForecastRun) error {
	run.Status = "running"
	_, err := s.db.Exec(`
		INSERT INTO forecast_runs (id, source, issued_at, now_end, train_start, train_end, window_len, horizon, top_k, policy, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Source, run.IssuedAt.UTC(), run.NowEnd.UTC(), run.TrainStart.UTC(), run.TrainEnd.UTC(),
		run.Window, run.Horizon, run.TopK, run.Policy, run.Status)
	return err
}

// CompleteForecastRun stores the final status of run. A non-nil runErr marks
// the run failed.
func (s *Store) CompleteForecastRun(run *models.ForecastRun, runErr error) error {
	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	run.Status = "ok"
	run.ErrorMessage = sql.NullString{}
	if runErr != nil {
		run.Status = "failed"
		run.ErrorMessage = sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := s.db.Exec(`
		UPDATE forecast_runs SET status = ?, error_message = ?, finished_at = ? WHERE id = ?
	`, run.Status, run.ErrorMessage, run.FinishedAt, run.ID)
	return err
}

const forecastRunColumns = `id, source, issued_at, now_end, train_start, train_end, window_len, horizon, top_k, policy, status, error_message, finished_at, created_at`

func scanForecastRun(row interface{ Scan(...any) error }) (*models.ForecastRun, error) {
	var r models.ForecastRun
	err := row.Scan(&r.ID, &r.Source, &r.IssuedAt, &r.NowEnd, &r.TrainStart, &r.TrainEnd,
		&r.Window, &r.Horizon, &r.TopK, &r.Policy, &r.Status, &r.ErrorMessage, &r.FinishedAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) GetForecastRun(id string) (*models.ForecastRun, error) {
	run, err := scanForecastRun(s.db.QueryRow(`SELECT `+forecastRunColumns+` FROM forecast_runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// GetLatestForecastRun returns the most recently issued successful run.
func (s *Store) GetLatestForecastRun() (*models.ForecastRun, error) {
	run, err := scanForecastRun(s.db.QueryRow(`
		SELECT ` + forecastRunColumns + ` FROM forecast_runs
		WHERE status = 'ok'
		ORDER BY issued_at DESC
		LIMIT 1
	`))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// GetUnverifiedRuns returns successful runs whose horizon ended before
// cutoff and that have no verification yet, oldest first.
func (s *Store) GetUnverifiedRuns(cutoff time.Time) ([]models.ForecastRun, error) {
	rows, err := s.db.Query(`
		SELECT `+forecastRunColumns+` FROM forecast_runs r
		WHERE r.status = 'ok'
		  AND NOT EXISTS (SELECT 1 FROM forecast_verification v WHERE v.run_id = r.id)
		  AND (SELECT MAX(valid_at) FROM forecast_values fv WHERE fv.run_id = r.id) <= ?
		ORDER BY r.issued_at
	`, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.ForecastRun
	for rows.Next() {
		r, err := scanForecastRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *Store) InsertForecastMatches(matches []models.ForecastMatch) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO forecast_matches (run_id, variable, rank, start_time, start_index, distance)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range matches {
		if _, err := stmt.Exec(m.RunID, m.Variable, m.Rank, m.StartTime.UTC(), m.StartIndex, m.Distance); err != nil {
			return fmt.Errorf("insert match %s/%d: %w", m.Variable, m.Rank, err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetForecastMatches(runID, variable string) ([]models.ForecastMatch, error) {
	rows, err := s.db.Query(`
		SELECT run_id, variable, rank, start_time, start_index, distance
		FROM forecast_matches
		WHERE run_id = ? AND variable = ?
		ORDER BY rank
	`, runID, variable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []models.ForecastMatch
	for rows.Next() {
		var m models.ForecastMatch
		if err := rows.Scan(&m.RunID, &m.Variable, &m.Rank, &m.StartTime, &m.StartIndex, &m.Distance); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (s *Store) InsertForecastValues(values []models.ForecastValue) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO forecast_values (run_id, variable, lead, valid_at, value, spread)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, variable, lead) DO UPDATE SET
			valid_at = excluded.valid_at,
			value = excluded.value,
			spread = excluded.spread
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, v := range values {
		if _, err := stmt.Exec(v.RunID, v.Variable, v.Lead, v.ValidAt.UTC(), v.Value, v.Spread); err != nil {
			return fmt.Errorf("insert value %s/%d: %w", v.Variable, v.Lead, err)
		}
	}
	return tx.Commit()
}

// GetForecastValues returns the values of a run ordered by variable and
// lead.
func (s *Store) GetForecastValues(runID string) ([]models.ForecastValue, error) {
	rows, err := s.db.Query(`
		SELECT run_id, variable, lead, valid_at, value, spread
		FROM forecast_values
		WHERE run_id = ?
		ORDER BY variable, lead
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []models.ForecastValue
	for rows.Next() {
		var v models.ForecastValue
		if err := rows.Scan(&v.RunID, &v.Variable, &v.Lead, &v.ValidAt, &v.Value, &v.Spread); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (s *Store) UpsertForecastVerification(v models.ForecastVerification) error {
	_, err := s.db.Exec(`
		INSERT INTO forecast_verification (run_id, variable, n, rmse, bias, verified_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, variable) DO UPDATE SET
			n = excluded.n,
			rmse = excluded.rmse,
			bias = excluded.bias,
			verified_at = excluded.verified_at
	`, v.RunID, v.Variable, v.Count, v.RMSE, v.Bias, v.VerifiedAt.UTC())
	return err
}

func (s *Store) GetForecastVerification(runID string) ([]models.ForecastVerification, error) {
	rows, err := s.db.Query(`
		SELECT run_id, variable, n, rmse, bias, verified_at
		FROM forecast_verification
		WHERE run_id = ?
		ORDER BY variable
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ForecastVerification
	for rows.Next() {
		var v models.ForecastVerification
		if err := rows.Scan(&v.RunID, &v.Variable, &v.Count, &v.RMSE, &v.Bias, &v.VerifiedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetVerificationStats averages RMSE and bias per variable over runs issued
// in the last windowDays.
func (s *Store) GetVerificationStats(windowDays int) ([]models.VerificationStats, error) {
	rows, err := s.db.Query(`
		SELECT v.variable, COUNT(*), AVG(v.rmse), AVG(v.bias)
		FROM forecast_verification v
		JOIN forecast_runs r ON r.id = v.run_id
		WHERE SUBSTR(r.issued_at, 1, 19) > datetime('now', '-' || ? || ' days')
		GROUP BY v.variable
		ORDER BY v.variable
	`, windowDays)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []models.VerificationStats
	for rows.Next() {
		var st models.VerificationStats
		if err := rows.Scan(&st.Variable, &st.Runs, &st.MeanRMSE, &st.MeanBias); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
