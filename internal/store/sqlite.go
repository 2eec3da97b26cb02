package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/taskrunner/internal/model"

	_ "modernc.org/sqlite"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id          TEXT PRIMARY KEY,
    session_id  TEXT NOT NULL,
    name        TEXT NOT NULL,
    task_index  INTEGER NOT NULL,
    status      TEXT NOT NULL,
    result      TEXT,
    error       TEXT,
    duration_ms INTEGER,
    created_at  DATETIME NOT NULL,
    started_at  DATETIME,
    finished_at DATETIME
)`

const jobColumns = `id, session_id, name, task_index, status, result, error,
	duration_ms, created_at, started_at, finished_at`

// ErrNotFound is returned when a job is not found.
var ErrNotFound = errors.New("job not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent and serializes
	// writers from concurrent workers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createJobsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create jobs table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*model.JobRecord, error) {
	j := &model.JobRecord{}
	var result, errMsg sql.NullString
	var duration sql.NullInt64
	var startedAt, finishedAt sql.NullTime
	if err := r.Scan(
		&j.ID, &j.SessionID, &j.Name, &j.TaskIndex, &j.Status, &result, &errMsg,
		&duration, &j.CreatedAt, &startedAt, &finishedAt,
	); err != nil {
		return nil, err
	}
	j.Result = result.String
	j.Error = errMsg.String
	if duration.Valid {
		d := int(duration.Int64)
		j.DurationMS = &d
	}
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		j.FinishedAt = &t
	}
	return j, nil
}

// CreateJob inserts a new job record.
func (s *SQLiteStore) CreateJob(ctx context.Context, j *model.JobRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.SessionID, j.Name, j.TaskIndex, j.Status, j.Result, j.Error,
		j.DurationMS, j.CreatedAt, j.StartedAt, j.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.JobRecord, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ListJobs returns a page of jobs, newest first, along with the total count.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit, offset int) ([]*model.JobRecord, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.JobRecord
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", err)
	}

	return jobs, total, nil
}

// MarkRunning moves a pending job to running.
func (s *SQLiteStore) MarkRunning(ctx context.Context, id string, startedAt time.Time) error {
	return s.transition(ctx, id, model.StatusRunning, func(tx *sql.Tx) (sql.Result, error) {
		return tx.ExecContext(ctx,
			"UPDATE jobs SET status = ?, started_at = ? WHERE id = ?",
			model.StatusRunning, startedAt, id,
		)
	})
}

// FinishJob records the terminal status, outcome and timing of a job.
func (s *SQLiteStore) FinishJob(ctx context.Context, j *model.JobRecord) error {
	if !model.IsTerminal(j.Status) {
		return fmt.Errorf("finish job with status %q: %w", j.Status, ErrInvalidTransition)
	}
	return s.transition(ctx, j.ID, j.Status, func(tx *sql.Tx) (sql.Result, error) {
		return tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, result = ?, error = ?, duration_ms = ?,
				started_at = COALESCE(?, started_at), finished_at = ?
			WHERE id = ?`,
			j.Status, j.Result, j.Error, j.DurationMS, j.StartedAt, j.FinishedAt, j.ID,
		)
	})
}

// transition checks the stored status against the transition table before
// applying update inside one transaction.
func (s *SQLiteStore) transition(ctx context.Context, id, to string, update func(*sql.Tx) (sql.Result, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var from string
	err = tx.QueryRowContext(ctx, "SELECT status FROM jobs WHERE id = ?", id).Scan(&from)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read job status: %w", err)
	}
	if !model.ValidTransition(from, to) {
		return fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
	}

	if _, err := update(tx); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit job update: %w", err)
	}
	return nil
}

// GetJobStats returns aggregate counts and the mean duration of finished jobs.
func (s *SQLiteStore) GetJobStats(ctx context.Context) (*JobStats, error) {
	stats := &JobStats{CountByStatus: make(map[string]int)}

	if err := s.countByStatus(ctx, stats); err != nil {
		return nil, err
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM jobs WHERE duration_ms IS NOT NULL",
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	stats.AvgDurationMS = avg.Float64

	return stats, nil
}

// countByStatus fills the per-status counts. The rows are released before it
// returns so the single connection is free for the next query.
func (s *SQLiteStore) countByStatus(ctx context.Context, stats *JobStats) error {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM jobs GROUP BY status")
	if err != nil {
		return fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return fmt.Errorf("scan status count: %w", err)
		}
		stats.CountByStatus[status] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate status counts: %w", err)
	}
	return nil
}
