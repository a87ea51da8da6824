package store

import (
	"time"

	"github.com/IWF-helio/PREDSTORM/internal/models"
)

// UpsertAlert inserts or updates a storm alert.
// Updates last_seen_at on conflict to track when alerts are still active.
func (s *Store) UpsertAlert(alert models.StormAlert, now time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO storm_alerts (
			id, source, code, severity, issued_at, headline, message, run_id,
			first_seen_at, last_seen_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			severity = excluded.severity,
			headline = excluded.headline,
			message = excluded.message,
			last_seen_at = excluded.last_seen_at
	`,
		alert.ID, alert.Source, alert.Code, alert.Severity, alert.IssuedAt.UTC(),
		alert.Headline, alert.Message, alert.RunID,
		now.UTC(), now.UTC(),
	)
	return err
}

// GetActiveAlerts returns alerts that were seen within the given duration.
func (s *Store) GetActiveAlerts(maxAge time.Duration) ([]models.StormAlert, error) {
	return s.queryAlerts(time.Now().Add(-maxAge), models.SeverityUnknown)
}

// GetUrgentAlerts returns active alerts at warning level or above.
func (s *Store) GetUrgentAlerts(maxAge time.Duration) ([]models.StormAlert, error) {
	return s.queryAlerts(time.Now().Add(-maxAge), models.SeverityWarning)
}

func (s *Store) queryAlerts(cutoff time.Time, maxSeverity int) ([]models.StormAlert, error) {
	rows, err := s.db.Query(`
		SELECT id, source, code, severity, issued_at, headline, message, run_id,
		       first_seen_at, last_seen_at
		FROM storm_alerts
		WHERE last_seen_at > ? AND severity <= ?
		ORDER BY severity ASC, issued_at DESC
	`, cutoff.UTC(), maxSeverity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []models.StormAlert
	for rows.Next() {
		var a models.StormAlert
		if err := rows.Scan(
			&a.ID, &a.Source, &a.Code, &a.Severity, &a.IssuedAt, &a.Headline, &a.Message, &a.RunID,
			&a.FirstSeenAt, &a.LastSeenAt,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}
