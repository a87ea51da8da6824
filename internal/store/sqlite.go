package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/IWF-helio/PREDSTORM/internal/models"
	"github.com/IWF-helio/PREDSTORM/internal/satdata"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func quoteColumns(vars []satdata.Var) []string {
	cols := make([]string, len(vars))
	for i, v := range vars {
		cols[i] = `"` + v.String() + `"`
	}
	return cols
}

// SaveSeries archives every sample of s under s.Source. Existing samples at
// the same time are updated for the variables s carries; other columns keep
// their values. NaN is stored as NULL.
func (s *Store) SaveSeries(series *satdata.Series) (int, error) {
	if series.Source == "" {
		return 0, fmt.Errorf("save series: empty source name")
	}
	vars := series.Vars()
	cols := quoteColumns(vars)

	var b strings.Builder
	b.WriteString("INSERT INTO series_samples (source, time_s")
	for _, c := range cols {
		b.WriteString(", " + c)
	}
	b.WriteString(") VALUES (?, ?" + strings.Repeat(", ?", len(cols)) + ")")
	b.WriteString(" ON CONFLICT(source, time_s) DO ")
	if len(cols) == 0 {
		b.WriteString("NOTHING")
	} else {
		b.WriteString("UPDATE SET ")
		for i, c := range cols {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c + " = excluded." + c)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(b.String())
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	data := make([][]float64, len(vars))
	for i, v := range vars {
		data[i], _ = series.Get(v)
	}
	args := make([]any, 2+len(vars))
	args[0] = series.Source
	for i, t := range series.Time() {
		args[1] = t
		for j := range vars {
			args[2+j] = nullFloat(data[j][i])
		}
		if _, err := stmt.Exec(args...); err != nil {
			return 0, fmt.Errorf("insert sample %d: %w", i, err)
		}
	}

	if err := upsertSeriesMeta(tx, series); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return series.Len(), nil
}

func upsertSeriesMeta(tx *sql.Tx, series *satdata.Series) error {
	instruments, err := json.Marshal(series.Header.Instruments)
	if err != nil {
		return fmt.Errorf("marshal instruments: %w", err)
	}
	versions, err := json.Marshal(series.Header.FileVersion)
	if err != nil {
		return fmt.Errorf("marshal file versions: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO series_meta (source, data_source, source_url, sampling_seconds, reference_frame, instruments, file_version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			data_source = excluded.data_source,
			source_url = excluded.source_url,
			sampling_seconds = excluded.sampling_seconds,
			reference_frame = excluded.reference_frame,
			instruments = excluded.instruments,
			file_version = excluded.file_version,
			updated_at = excluded.updated_at
	`, series.Source, series.Header.DataSource, series.Header.SourceURL, series.Header.SamplingRate.Seconds(),
		series.Header.ReferenceFrame, string(instruments), string(versions), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert series meta: %w", err)
	}
	return nil
}

// GetSeriesMeta returns the stored header of source, or nil if unknown.
func (s *Store) GetSeriesMeta(source string) (*models.SeriesMeta, error) {
	row := s.db.QueryRow(`
		SELECT source, data_source, source_url, sampling_seconds, reference_frame, instruments, file_version, updated_at
		FROM series_meta WHERE source = ?
	`, source)

	var m models.SeriesMeta
	var dataSource, sourceURL, frame, instruments, versions sql.NullString
	var sampling sql.NullFloat64
	err := row.Scan(&m.Source, &dataSource, &sourceURL, &sampling, &frame, &instruments, &versions, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.DataSource = dataSource.String
	m.SourceURL = sourceURL.String
	m.SamplingSeconds = sampling.Float64
	m.ReferenceFrame = frame.String
	if instruments.Valid && instruments.String != "" {
		if err := json.Unmarshal([]byte(instruments.String), &m.Instruments); err != nil {
			return nil, fmt.Errorf("unmarshal instruments: %w", err)
		}
	}
	if versions.Valid && versions.String != "" {
		if err := json.Unmarshal([]byte(versions.String), &m.FileVersion); err != nil {
			return nil, fmt.Errorf("unmarshal file versions: %w", err)
		}
	}
	return &m, nil
}

// LoadSeries reads the archived samples of source with start <= t < end.
// Zero bounds are open. Variables that are NULL for every returned sample are
// left out of the series.
func (s *Store) LoadSeries(source string, start, end time.Time) (*satdata.Series, error) {
	all := satdata.AllVars()
	query := "SELECT time_s, " + strings.Join(quoteColumns(all), ", ") +
		" FROM series_samples WHERE source = ?"
	args := []any{source}
	if !start.IsZero() {
		query += " AND time_s >= ?"
		args = append(args, satdata.TimeToNum(start))
	}
	if !end.IsZero() {
		query += " AND time_s < ?"
		args = append(args, satdata.TimeToNum(end))
	}
	query += " ORDER BY time_s"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var times []float64
	columns := make([][]float64, len(all))
	seen := make([]bool, len(all))
	values := make([]sql.NullFloat64, len(all))
	dest := make([]any, 1+len(all))
	var t float64
	dest[0] = &t
	for i := range values {
		dest[1+i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		times = append(times, t)
		for i, v := range values {
			columns[i] = append(columns[i], floatOrNaN(v))
			seen[i] = seen[i] || v.Valid
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	vars := make(map[satdata.Var][]float64)
	for i, v := range all {
		if seen[i] {
			vars[v] = columns[i]
		}
	}

	var h *satdata.Header
	meta, err := s.GetSeriesMeta(source)
	if err != nil {
		return nil, fmt.Errorf("get series meta: %w", err)
	}
	if meta != nil {
		h = &satdata.Header{
			DataSource:     meta.DataSource,
			SourceURL:      meta.SourceURL,
			SamplingRate:   time.Duration(meta.SamplingSeconds * float64(time.Second)),
			ReferenceFrame: meta.ReferenceFrame,
			Instruments:    meta.Instruments,
			FileVersion:    meta.FileVersion,
		}
	}
	return satdata.NewFromVars(times, vars, source, h)
}

// GetSeriesRanges lists the archived sources with their sample counts and
// time coverage.
func (s *Store) GetSeriesRanges() ([]models.SeriesRange, error) {
	rows, err := s.db.Query(`
		SELECT source, COUNT(*), MIN(time_s), MAX(time_s)
		FROM series_samples
		GROUP BY source
		ORDER BY source
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ranges []models.SeriesRange
	for rows.Next() {
		var r models.SeriesRange
		var first, last float64
		if err := rows.Scan(&r.Source, &r.Samples, &first, &last); err != nil {
			return nil, err
		}
		r.First = satdata.NumToTime(first)
		r.Last = satdata.NumToTime(last)
		ranges = append(ranges, r)
	}
	return ranges, rows.Err()
}

// DeleteSeries removes every archived sample and the header of source.
func (s *Store) DeleteSeries(source string) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`DELETE FROM series_samples WHERE source = ?`, source)
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`DELETE FROM series_meta WHERE source = ?`, source); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
