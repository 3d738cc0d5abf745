// Package store keeps a local SQLite history of upload runs and the parts
// each run got acknowledged, so a failed finalize can be retried.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// Store provides SQLite-backed persistence
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: the CLI is the only writer and ":memory:" databases
	// are per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("store initialized", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// UploadRun Operations
// ============================================================================

// CreateRun inserts a new UploadRun, assigning an ID when empty
func (s *Store) CreateRun(run *UploadRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.State == "" {
		run.State = StateRunning
	}
	if run.StartTime.IsZero() {
		run.StartTime = time.Now().UTC()
	}

	const query = `
		INSERT INTO upload_runs (
			id, app_id, app_name, build_id, artifact_path, artifact_size,
			uncompressed_size, mode, session_key, session_id, total_parts,
			bytes_sent, state, phase, error_kind, error_message, start_time, end_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(
		query,
		run.ID, run.AppID, run.AppName, run.BuildID, run.ArtifactPath, run.ArtifactSize,
		run.UncompressedSize, run.Mode, run.SessionKey, run.SessionID, run.TotalParts,
		run.BytesSent, run.State, run.Phase, run.ErrorKind, run.ErrorMessage, run.StartTime, nullTime(run.EndTime),
	)
	if err != nil {
		return fmt.Errorf("failed to insert upload run: %w", err)
	}
	return nil
}

// UpdateRun updates an existing UploadRun by ID
func (s *Store) UpdateRun(run *UploadRun) error {
	const query = `
		UPDATE upload_runs SET
			app_id = ?, app_name = ?, build_id = ?, artifact_path = ?, artifact_size = ?,
			uncompressed_size = ?, mode = ?, session_key = ?, session_id = ?, total_parts = ?,
			bytes_sent = ?, state = ?, phase = ?, error_kind = ?, error_message = ?, end_time = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(
		query,
		run.AppID, run.AppName, run.BuildID, run.ArtifactPath, run.ArtifactSize,
		run.UncompressedSize, run.Mode, run.SessionKey, run.SessionID, run.TotalParts,
		run.BytesSent, run.State, run.Phase, run.ErrorKind, run.ErrorMessage, nullTime(run.EndTime),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update upload run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("upload run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

const runColumns = `
	id, app_id, app_name, build_id, artifact_path, artifact_size,
	uncompressed_size, mode, session_key, session_id, total_parts,
	bytes_sent, state, phase, error_kind, error_message, start_time, end_time
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*UploadRun, error) {
	run := &UploadRun{}
	var end sql.NullTime
	err := row.Scan(
		&run.ID, &run.AppID, &run.AppName, &run.BuildID, &run.ArtifactPath, &run.ArtifactSize,
		&run.UncompressedSize, &run.Mode, &run.SessionKey, &run.SessionID, &run.TotalParts,
		&run.BytesSent, &run.State, &run.Phase, &run.ErrorKind, &run.ErrorMessage, &run.StartTime, &end,
	)
	if err != nil {
		return nil, err
	}
	if end.Valid {
		run.EndTime = end.Time
	}
	return run, nil
}

// GetRun retrieves an UploadRun by ID
func (s *Store) GetRun(id string) (*UploadRun, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM upload_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("upload run %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query upload run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by state.
// A limit of 0 returns all runs.
func (s *Store) ListRuns(state string, limit int) ([]UploadRun, error) {
	query := `SELECT ` + runColumns + ` FROM upload_runs`
	var args []any
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, state)
	}
	query += ` ORDER BY start_time DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query upload runs: %w", err)
	}
	defer rows.Close()

	var runs []UploadRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan upload run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating upload runs: %w", err)
	}
	return runs, nil
}

// ============================================================================
// UploadPart Operations
// ============================================================================

// RecordPart stores an acknowledged part, replacing an earlier record of
// the same part number.
func (s *Store) RecordPart(part *UploadPart) error {
	if part.UploadedAt.IsZero() {
		part.UploadedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO upload_parts (run_id, part_number, start_byte, end_byte, etag, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, part_number) DO UPDATE SET
			start_byte = excluded.start_byte,
			end_byte = excluded.end_byte,
			etag = excluded.etag,
			uploaded_at = excluded.uploaded_at
	`

	result, err := s.db.Exec(query, part.RunID, part.PartNumber, part.StartByte, part.EndByte, part.ETag, part.UploadedAt)
	if err != nil {
		return fmt.Errorf("failed to record upload part: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		part.ID = id
	}
	return nil
}

// ListParts returns the parts of a run in part-number order.
func (s *Store) ListParts(runID string) ([]UploadPart, error) {
	const query = `
		SELECT id, run_id, part_number, start_byte, end_byte, etag, uploaded_at
		FROM upload_parts WHERE run_id = ? ORDER BY part_number
	`

	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query upload parts: %w", err)
	}
	defer rows.Close()

	var parts []UploadPart
	for rows.Next() {
		var p UploadPart
		if err := rows.Scan(&p.ID, &p.RunID, &p.PartNumber, &p.StartByte, &p.EndByte, &p.ETag, &p.UploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan upload part: %w", err)
		}
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating upload parts: %w", err)
	}
	return parts, nil
}

// DeleteRun removes a run and its parts.
func (s *Store) DeleteRun(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM upload_parts WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete upload parts: %w", err)
	}
	result, err := tx.Exec(`DELETE FROM upload_runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete upload run: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("upload run %s: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
