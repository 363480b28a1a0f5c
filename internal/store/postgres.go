package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/address-pipeline/internal/db"
	"github.com/sells-group/address-pipeline/internal/model"
	"github.com/sells-group/address-pipeline/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool      db.Pool
	locks     *jobLocks
	retention time.Duration
	closeFn   func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig, retention time.Duration) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{
		pool:      pool,
		locks:     newJobLocks(),
		retention: normalizeRetention(retention),
		closeFn:   pool.Close,
	}, nil
}

// NewPostgresWithPool wires an existing pool, primarily for tests.
func NewPostgresWithPool(pool db.Pool, retention time.Duration) *PostgresStore {
	return &PostgresStore{
		pool:      pool,
		locks:     newJobLocks(),
		retention: normalizeRetention(retention),
	}
}

const postgresMigration = `
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
	options           JSONB NOT NULL DEFAULT '{}',
	steps             JSONB NOT NULL DEFAULT '[]',
	logs              JSONB NOT NULL DEFAULT '[]',
	created_at        TIMESTAMPTZ NOT NULL,
	started_at        TIMESTAMPTZ,
	updated_at        TIMESTAMPTZ NOT NULL,
	finished_at       TIMESTAMPTZ,
	expires_at        TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_expires_at ON jobs(expires_at);

CREATE TABLE IF NOT EXISTS standardized_results (
	job_id       TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	global_index INTEGER NOT NULL,
	formatted    TEXT NOT NULL DEFAULT '',
	street_number TEXT NOT NULL DEFAULT '',
	street_name  TEXT NOT NULL DEFAULT '',
	unit         TEXT NOT NULL DEFAULT '',
	city         TEXT NOT NULL DEFAULT '',
	state        TEXT NOT NULL DEFAULT '',
	postal_code  TEXT NOT NULL DEFAULT '',
	country      TEXT NOT NULL DEFAULT '',
	confidence   TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (job_id, global_index)
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
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
		_, execErr := s.pool.Exec(ctx,
			`INSERT INTO jobs
			 (id, status, progress, message, error, filename, original_filename, output_file,
			  callback_url, options, steps, logs, created_at, started_at, updated_at, finished_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			job.ID, string(job.Status), job.Progress, job.Message, job.Error,
			job.Filename, job.OriginalFilename, job.OutputFile, job.CallbackURL,
			[]byte(optionsJSON), []byte(stepsJSON), []byte(logsJSON),
			job.CreatedAt, job.StartedAt, job.UpdatedAt, job.FinishedAt, job.ExpiresAt,
		)
		return execErr
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return eris.Wrapf(ErrDuplicateID, "%s", job.ID)
		}
		return eris.Wrapf(err, "postgres: insert job %s", job.ID)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, status, progress, message, error, filename, original_filename, output_file,
		        callback_url, options, steps, logs, created_at, started_at, updated_at, finished_at, expires_at
		 FROM jobs WHERE id = $1`,
		jobID,
	)
	return scanPgJob(row)
}

func (s *PostgresStore) UpdateJob(ctx context.Context, jobID string, upd JobUpdate) (*model.Job, error) {
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

func (s *PostgresStore) AppendLog(ctx context.Context, jobID string, message string, progress int) error {
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

func (s *PostgresStore) writeJob(ctx context.Context, job *model.Job) error {
	optionsJSON, stepsJSON, logsJSON, err := marshalJobBlobs(job)
	if err != nil {
		return err
	}

	err = resilience.Do(ctx, resilience.StoreRetryConfig(), func(ctx context.Context) error {
		tag, execErr := s.pool.Exec(ctx,
			`UPDATE jobs SET
			 status = $1, progress = $2, message = $3, error = $4, output_file = $5,
			 options = $6, steps = $7, logs = $8,
			 started_at = $9, updated_at = $10, finished_at = $11, expires_at = $12
			 WHERE id = $13`,
			string(job.Status), job.Progress, job.Message, job.Error, job.OutputFile,
			[]byte(optionsJSON), []byte(stepsJSON), []byte(logsJSON),
			job.StartedAt, job.UpdatedAt, job.FinishedAt, job.ExpiresAt,
			job.ID,
		)
		if execErr != nil {
			return execErr
		}
		if tag.RowsAffected() == 0 {
			return eris.Wrapf(ErrNotFound, "%s", job.ID)
		}
		return nil
	})
	return eris.Wrapf(err, "postgres: write job %s", job.ID)
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, status, progress, message, error, filename, original_filename, output_file,
	                 callback_url, options, steps, logs, created_at, started_at, updated_at, finished_at, expires_at
	          FROM jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) ListExpired(ctx context.Context, now time.Time) ([]model.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, status, progress, message, error, filename, original_filename, output_file,
		        callback_url, options, steps, logs, created_at, started_at, updated_at, finished_at, expires_at
		 FROM jobs WHERE expires_at IS NOT NULL AND expires_at <= $1 ORDER BY expires_at ASC`,
		now.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list expired jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list expired iterate")
}

func (s *PostgresStore) DeleteJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, jobID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s", jobID)
	}
	return nil
}

func scanPgJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var options, steps, logs []byte

	err := row.Scan(
		&j.ID, &j.Status, &j.Progress, &j.Message, &j.Error,
		&j.Filename, &j.OriginalFilename, &j.OutputFile, &j.CallbackURL,
		&options, &steps, &logs,
		&j.CreatedAt, &j.StartedAt, &j.UpdatedAt, &j.FinishedAt, &j.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan job")
	}

	if err := unmarshalJobBlobs(&j, string(options), string(steps), string(logs)); err != nil {
		return nil, err
	}
	return &j, nil
}
