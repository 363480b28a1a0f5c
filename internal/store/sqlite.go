package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/address-pipeline/internal/model"
	"github.com/sells-group/address-pipeline/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db        *sql.DB
	locks     *jobLocks
	retention time.Duration
}

// NewSQLite opens a SQLite database at the given DSN and configures WAL mode.
func NewSQLite(dsn string, retention time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{
		db:        db,
		locks:     newJobLocks(),
		retention: normalizeRetention(retention),
	}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id                TEXT PRIMARY KEY,
	status            TEXT NOT NULL DEFAULT 'queued',
	progress          INTEGER NOT NULL DEFAULT 0,
	message           TEXT NOT NULL DEFAULT '',
	error             TEXT NOT NULL DEFAULT '',
	filename          TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	output_file       TEXT NOT NULL DEFAULT '',
	callback_url      TEXT NOT NULL DEFAULT '',
	options           TEXT NOT NULL DEFAULT '{}',
	steps             TEXT NOT NULL DEFAULT '[]',
	logs              TEXT NOT NULL DEFAULT '[]',
	created_at        DATETIME NOT NULL,
	started_at        DATETIME,
	updated_at        DATETIME NOT NULL,
	finished_at       DATETIME,
	expires_at        DATETIME
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_expires_at ON jobs(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = model.JobStatusQueued
	}
	if job.Steps == nil {
		job.Steps = model.DefaultSteps()
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	optionsJSON, stepsJSON, logsJSON, err := marshalJobBlobs(job)
	if err != nil {
		return err
	}

	err = resilience.Do(ctx, resilience.StoreRetryConfig(), func(ctx context.Context) error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO jobs
			 (id, status, progress, message, error, filename, original_filename, output_file,
			  callback_url, options, steps, logs, created_at, started_at, updated_at, finished_at, expires_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID, string(job.Status), job.Progress, job.Message, job.Error,
			job.Filename, job.OriginalFilename, job.OutputFile, job.CallbackURL,
			optionsJSON, stepsJSON, logsJSON,
			job.CreatedAt, nullTime(job.StartedAt), job.UpdatedAt,
			nullTime(job.FinishedAt), nullTime(job.ExpiresAt),
		)
		return execErr
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return eris.Wrapf(ErrDuplicateID, "%s", job.ID)
		}
		return eris.Wrapf(err, "sqlite: insert job %s", job.ID)
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	return scanJob(row)
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, jobID string, upd JobUpdate) (*model.Job, error) {
	unlock := s.locks.lock(jobID)
	defer unlock()

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := applyUpdate(job, upd, time.Now().UTC(), s.retention); err != nil {
		return nil, err
	}
	if err := s.writeJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *SQLiteStore) AppendLog(ctx context.Context, jobID string, message string, progress int) error {
	unlock := s.locks.lock(jobID)
	defer unlock()

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	job.AppendLog(model.JobLogEntry{Timestamp: now, Message: message, Progress: progress})
	job.UpdatedAt = now
	return s.writeJob(ctx, job)
}

func (s *SQLiteStore) writeJob(ctx context.Context, job *model.Job) error {
	optionsJSON, stepsJSON, logsJSON, err := marshalJobBlobs(job)
	if err != nil {
		return err
	}

	err = resilience.Do(ctx, resilience.StoreRetryConfig(), func(ctx context.Context) error {
		res, execErr := s.db.ExecContext(ctx,
			`UPDATE jobs SET
			 status = ?, progress = ?, message = ?, error = ?, output_file = ?,
			 options = ?, steps = ?, logs = ?,
			 started_at = ?, updated_at = ?, finished_at = ?, expires_at = ?
			 WHERE id = ?`,
			string(job.Status), job.Progress, job.Message, job.Error, job.OutputFile,
			optionsJSON, stepsJSON, logsJSON,
			nullTime(job.StartedAt), job.UpdatedAt, nullTime(job.FinishedAt), nullTime(job.ExpiresAt),
			job.ID,
		)
		if execErr != nil {
			return execErr
		}
		return checkRowsAffected(res, job.ID)
	})
	return eris.Wrapf(err, "sqlite: write job %s", job.ID)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) ListExpired(ctx context.Context, now time.Time) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE expires_at IS NOT NULL AND expires_at <= ? ORDER BY expires_at ASC`,
		now.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list expired jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list expired iterate")
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete job %s", jobID)
	}
	return checkRowsAffected(res, jobID)
}

// helpers

const jobColumns = `id, status, progress, message, error, filename, original_filename, output_file,
	callback_url, options, steps, logs, created_at, started_at, updated_at, finished_at, expires_at`

func marshalJobBlobs(job *model.Job) (options, steps, logs string, err error) {
	optionsJSON, err := json.Marshal(job.Options)
	if err != nil {
		return "", "", "", eris.Wrap(err, "store: marshal options")
	}
	stepsJSON, err := json.Marshal(job.Steps)
	if err != nil {
		return "", "", "", eris.Wrap(err, "store: marshal steps")
	}
	if job.Logs == nil {
		job.Logs = []model.JobLogEntry{}
	}
	logsJSON, err := json.Marshal(job.Logs)
	if err != nil {
		return "", "", "", eris.Wrap(err, "store: marshal logs")
	}
	return string(optionsJSON), string(stepsJSON), string(logsJSON), nil
}

func unmarshalJobBlobs(job *model.Job, options, steps, logs string) error {
	if err := json.Unmarshal([]byte(options), &job.Options); err != nil {
		return eris.Wrap(err, "store: unmarshal options")
	}
	if err := json.Unmarshal([]byte(steps), &job.Steps); err != nil {
		return eris.Wrap(err, "store: unmarshal steps")
	}
	if err := json.Unmarshal([]byte(logs), &job.Logs); err != nil {
		return eris.Wrap(err, "store: unmarshal logs")
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func checkRowsAffected(res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s", jobID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	var options, steps, logs string
	var startedAt, finishedAt, expiresAt sql.NullTime

	err := row.Scan(
		&j.ID, &j.Status, &j.Progress, &j.Message, &j.Error,
		&j.Filename, &j.OriginalFilename, &j.OutputFile, &j.CallbackURL,
		&options, &steps, &logs,
		&j.CreatedAt, &startedAt, &j.UpdatedAt, &finishedAt, &expiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}

	if err := unmarshalJobBlobs(&j, options, steps, logs); err != nil {
		return nil, err
	}
	j.StartedAt = timePtr(startedAt)
	j.FinishedAt = timePtr(finishedAt)
	j.ExpiresAt = timePtr(expiresAt)
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	return &j, nil
}
