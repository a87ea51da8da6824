package store

import (
	"bytes"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
)

// RawFile is an imported input file kept for provenance.
type RawFile struct {
	ID                int64
	ImportRunID       sql.NullInt64
	StoredAt          time.Time
	Source            string
	Path              string
	ContentCompressed []byte
	ContentHash       string
	SizeBytes         int64
}

// HashContent returns the hex SHA-256 of content, the key raw files are
// deduplicated by.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// StoreRawFile stores a compressed copy of an imported file.
// Returns the file ID, or 0 if the same content was stored before.
func (s *Store) StoreRawFile(runID *int64, source, path string, content []byte) (int64, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(content); err != nil {
		return 0, fmt.Errorf("compress file: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("close gzip: %w", err)
	}

	var importRunID sql.NullInt64
	if runID != nil {
		importRunID = sql.NullInt64{Int64: *runID, Valid: true}
	}

	result, err := s.db.Exec(`
		INSERT INTO raw_files
		(import_run_id, stored_at, source, path, content_compressed, content_hash, size_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO NOTHING
	`, importRunID, time.Now().UTC(), source, path, buf.Bytes(), HashContent(content), len(content))
	if err != nil {
		return 0, fmt.Errorf("insert raw file: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return result.LastInsertId()
}

// GetRawFile retrieves and decompresses a stored file by ID.
func (s *Store) GetRawFile(id int64) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRow(`SELECT content_compressed FROM raw_files WHERE id = ?`, id).
		Scan(&compressed)
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

// GetRawFileByHash looks a file up by content hash, nil if not stored.
func (s *Store) GetRawFileByHash(hash string) (*RawFile, error) {
	row := s.db.QueryRow(`
		SELECT id, import_run_id, stored_at, source, path, content_compressed, content_hash, size_bytes
		FROM raw_files WHERE content_hash = ?
	`, hash)

	var f RawFile
	err := row.Scan(&f.ID, &f.ImportRunID, &f.StoredAt, &f.Source, &f.Path,
		&f.ContentCompressed, &f.ContentHash, &f.SizeBytes)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// CleanupOldRawFiles deletes raw files older than retentionDays and returns
// how many were removed.
func (s *Store) CleanupOldRawFiles(retentionDays int) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM raw_files
		WHERE stored_at < DATE('now', '-' || ? || ' days')
	`, retentionDays)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
