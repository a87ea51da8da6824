package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS series_meta (
    source TEXT PRIMARY KEY,
    data_source TEXT,
    source_url TEXT,
    sampling_seconds REAL,
    reference_frame TEXT,
    instruments TEXT,
    file_version TEXT,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS series_samples (
    source TEXT NOT NULL,
    time_s REAL NOT NULL,
    "speed" REAL,
    "speedx" REAL,
    "density" REAL,
    "temp" REAL,
    "pdyn" REAL,
    "bx" REAL,
    "by" REAL,
    "bz" REAL,
    "btot" REAL,
    "br" REAL,
    "bt" REAL,
    "bn" REAL,
    "dst" REAL,
    "kp" REAL,
    "aurora" REAL,
    "ec" REAL,
    "ae" REAL,
    PRIMARY KEY (source, time_s)
);
`,
	},
	{
		Version:     2,
		Description: "Add import_runs and raw_files for import auditing",
		SQL: `
CREATE TABLE IF NOT EXISTS import_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    source TEXT NOT NULL,
    path TEXT NOT NULL,
    records_parsed INTEGER,
    records_stored INTEGER,
    fill_values_masked INTEGER,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_import_runs_started ON import_runs(started_at);

CREATE TABLE IF NOT EXISTS raw_files (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    import_run_id INTEGER REFERENCES import_runs(id),
    stored_at DATETIME NOT NULL,
    source TEXT NOT NULL,
    path TEXT NOT NULL,
    content_compressed BLOB NOT NULL,
    content_hash TEXT NOT NULL UNIQUE,
    size_bytes INTEGER NOT NULL
);
`,
	},
	{
		Version:     3,
		Description: "Add forecast run tables",
		SQL: `
CREATE TABLE IF NOT EXISTS forecast_runs (
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    issued_at DATETIME NOT NULL,
    now_end DATETIME NOT NULL,
    train_start DATETIME NOT NULL,
    train_end DATETIME NOT NULL,
    window_len INTEGER NOT NULL,
    horizon INTEGER NOT NULL,
    top_k INTEGER NOT NULL,
    policy TEXT NOT NULL,
    status TEXT NOT NULL,
    error_message TEXT,
    finished_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_forecast_runs_issued ON forecast_runs(issued_at);

CREATE TABLE IF NOT EXISTS forecast_matches (
    run_id TEXT NOT NULL REFERENCES forecast_runs(id),
    variable TEXT NOT NULL,
    rank INTEGER NOT NULL,
    start_time DATETIME NOT NULL,
    start_index INTEGER NOT NULL,
    distance REAL NOT NULL,
    PRIMARY KEY (run_id, variable, rank)
);

CREATE TABLE IF NOT EXISTS forecast_values (
    run_id TEXT NOT NULL REFERENCES forecast_runs(id),
    variable TEXT NOT NULL,
    lead INTEGER NOT NULL,
    valid_at DATETIME NOT NULL,
    value REAL,
    spread REAL,
    PRIMARY KEY (run_id, variable, lead)
);
`,
	},
	{
		Version:     4,
		Description: "Add forecast_verification table",
		SQL: `
CREATE TABLE IF NOT EXISTS forecast_verification (
    run_id TEXT NOT NULL REFERENCES forecast_runs(id),
    variable TEXT NOT NULL,
    n INTEGER NOT NULL,
    rmse REAL,
    bias REAL,
    verified_at DATETIME NOT NULL,
    PRIMARY KEY (run_id, variable)
);
`,
	},
	{
		Version:     5,
		Description: "Add storm_alerts table",
		SQL: `
CREATE TABLE IF NOT EXISTS storm_alerts (
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    code TEXT,
    severity INTEGER NOT NULL,
    issued_at DATETIME NOT NULL,
    headline TEXT,
    message TEXT,
    run_id TEXT REFERENCES forecast_runs(id),
    first_seen_at DATETIME NOT NULL,
    last_seen_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_storm_alerts_seen ON storm_alerts(last_seen_at);
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		log.Printf("migrations: applying %d - %s", m.Version, m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// MigrationVersion returns the highest applied migration, 0 if none.
func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
