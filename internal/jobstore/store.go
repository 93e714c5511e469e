// SPDX-License-Identifier: MIT

// Package jobstore persists print job history in SQLite so callers can
// rediscover a job by ID after a pipeline timeout or restart.
package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go driver

	"github.com/mwrenn/ppubsd/internal/ppubs"
)

const schemaVersion = 1

// Store is a SQLite-backed job history. It implements ppubs.JobRecorder.
type Store struct {
	db *sql.DB
}

// Open creates or opens the job database at path. WAL mode and busy_timeout
// are applied through the DSN so they hold for every pooled connection.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("jobstore: open failed: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("jobstore: ping failed: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("jobstore: migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	var current int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS print_jobs (
		id TEXT PRIMARY KEY,
		guid TEXT NOT NULL,
		state TEXT NOT NULL,
		artifact_name TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		submitted_at TEXT NOT NULL,
		last_polled_at TEXT,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_print_jobs_guid ON print_jobs(guid);
	CREATE INDEX IF NOT EXISTS idx_print_jobs_updated ON print_jobs(updated_at);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// Record upserts the job's current state.
func (s *Store) Record(ctx context.Context, job ppubs.PrintJob) error {
	query := `
	INSERT INTO print_jobs (id, guid, state, artifact_name, failure_reason, submitted_at, last_polled_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		state = excluded.state,
		artifact_name = excluded.artifact_name,
		failure_reason = excluded.failure_reason,
		last_polled_at = excluded.last_polled_at,
		updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.GUID,
		string(job.State),
		job.ArtifactName,
		job.FailureReason,
		job.SubmittedAt.UTC().Format(time.RFC3339Nano),
		formatNullableTime(job.LastPolledAt),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Get returns the stored job, or nil when the ID is unknown.
func (s *Store) Get(ctx context.Context, id string) (*ppubs.PrintJob, error) {
	query := `SELECT id, guid, state, artifact_name, failure_reason, submitted_at, last_polled_at FROM print_jobs WHERE id = ?`

	var job ppubs.PrintJob
	var state, submittedAt string
	var lastPolledAt sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&job.ID, &job.GUID, &state, &job.ArtifactName, &job.FailureReason, &submittedAt, &lastPolledAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	job.State = ppubs.JobState(state)
	job.SubmittedAt, _ = time.Parse(time.RFC3339Nano, submittedAt)
	if lastPolledAt.Valid {
		job.LastPolledAt, _ = time.Parse(time.RFC3339Nano, lastPolledAt.String)
	}
	return &job, nil
}

// Recent lists the most recently updated jobs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]ppubs.PrintJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, guid, state, artifact_name, failure_reason, submitted_at, last_polled_at
	FROM print_jobs ORDER BY updated_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var jobs []ppubs.PrintJob
	for rows.Next() {
		var job ppubs.PrintJob
		var state, submittedAt string
		var lastPolledAt sql.NullString
		if err := rows.Scan(&job.ID, &job.GUID, &state, &job.ArtifactName, &job.FailureReason, &submittedAt, &lastPolledAt); err != nil {
			return nil, err
		}
		job.State = ppubs.JobState(state)
		job.SubmittedAt, _ = time.Parse(time.RFC3339Nano, submittedAt)
		if lastPolledAt.Valid {
			job.LastPolledAt, _ = time.Parse(time.RFC3339Nano, lastPolledAt.String)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func formatNullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
