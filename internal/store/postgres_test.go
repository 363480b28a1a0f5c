package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/address-pipeline/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock, DefaultRetention), mock
}

var pgJobColumns = []string{
	"id", "status", "progress", "message", "error", "filename", "original_filename",
	"output_file", "callback_url", "options", "steps", "logs",
	"created_at", "started_at", "updated_at", "finished_at", "expires_at",
}

func pgJobRow(id string, status model.JobStatus, progress int) *pgxmock.Rows {
	now := time.Now().UTC()
	return pgxmock.NewRows(pgJobColumns).AddRow(
		id, string(status), progress, "", "", "input.csv", "upload.csv",
		"", "", []byte(`{"address_column":"address"}`), []byte(`[]`), []byte(`[]`),
		now, nil, now, nil, nil,
	)
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM jobs WHERE id = \$1`).
		WithArgs("nonexistent-job").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "nonexistent-job")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(pgJobRow("job-1", model.JobStatusQueued, 0))

	job, err := s.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, job.Status)
	assert.Equal(t, "address", job.Options.AddressColumn)
	assert.Nil(t, job.StartedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO jobs`).
		WithArgs(pgxmock.AnyArg(), "queued", 0, "", "", "input.csv", "upload.csv", "", "",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job := newQueuedJob("")
	require.NoError(t, s.CreateJob(context.Background(), job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusQueued, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateJob_StampsTerminalExpiry(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM jobs WHERE id = \$1`).
		WithArgs("job-2").
		WillReturnRows(pgJobRow("job-2", model.JobStatusProcessing, 85))
	mock.ExpectExec(`UPDATE jobs SET`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	job, err := s.UpdateJob(context.Background(), "job-2", JobUpdate{
		Status:   statusPtr(model.JobStatusCompleted),
		Progress: intPtr(100),
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.FinishedAt)
	require.NotNil(t, job.ExpiresAt)
	assert.WithinDuration(t, job.FinishedAt.Add(DefaultRetention), *job.ExpiresAt, time.Second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateJob_RejectsTerminalTransition(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	row := pgJobRow("job-3", model.JobStatusCompleted, 100)
	mock.ExpectQuery(`FROM jobs WHERE id = \$1`).
		WithArgs("job-3").
		WillReturnRows(row)

	_, err := s.UpdateJob(context.Background(), "job-3", JobUpdate{
		Status: statusPtr(model.JobStatusProcessing),
	})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrIllegalTransition))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM jobs WHERE id = \$1`).
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := s.DeleteJob(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListExpired(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM jobs WHERE expires_at IS NOT NULL AND expires_at <= \$1`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgJobRow("job-old", model.JobStatusCompleted, 100))

	jobs, err := s.ListExpired(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-old", jobs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
