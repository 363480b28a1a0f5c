// Package store persists job records across the pipeline's lifecycle. Two
// drivers implement the same interface: SQLite for single-node deployments
// and Postgres for shared ones. All writes to a given job are serialized
// through a per-job lock so concurrent progress updates never interleave.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/address-pipeline/internal/model"
)

// DefaultRetention is how long finished jobs and their artifacts stay on disk
// before the cleanup sweep removes them.
const DefaultRetention = 7 * 24 * time.Hour

var (
	ErrNotFound          = eris.New("store: job not found")
	ErrDuplicateID       = eris.New("store: job id already exists")
	ErrIllegalTransition = eris.New("store: illegal status transition")
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status model.JobStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// JobUpdate is a partial update. Nil fields are left untouched.
type JobUpdate struct {
	Status     *model.JobStatus
	Progress   *int
	Message    *string
	Error      *string
	OutputFile *string
	// ExpiresAt overrides the retention-derived expiry. It is honored only
	// on the transition that first makes the job terminal.
	ExpiresAt *time.Time
}

// Store defines the persistence interface for standardization jobs.
type Store interface {
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	UpdateJob(ctx context.Context, jobID string, upd JobUpdate) (*model.Job, error)
	AppendLog(ctx context.Context, jobID string, message string, progress int) error
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)
	ListExpired(ctx context.Context, now time.Time) ([]model.Job, error)
	DeleteJob(ctx context.Context, jobID string) error

	Migrate(ctx context.Context) error
	Close() error
}

// applyUpdate folds upd into job in place, enforcing the lifecycle rules
// shared by both drivers:
//   - status moves forward only (queued -> processing -> terminal); a
//     terminal job accepts no further status change
//   - progress never decreases
//   - started_at is stamped at the first transition into processing
//   - finished_at and expires_at are stamped exactly once, at the first
//     transition into a terminal status
func applyUpdate(job *model.Job, upd JobUpdate, now time.Time, retention time.Duration) error {
	if upd.Status != nil && *upd.Status != job.Status {
		next := *upd.Status
		switch {
		case job.Status.Terminal():
			return eris.Wrapf(ErrIllegalTransition, "%s -> %s", job.Status, next)
		case next == model.JobStatusQueued:
			return eris.Wrapf(ErrIllegalTransition, "%s -> %s", job.Status, next)
		case next == model.JobStatusProcessing && job.Status != model.JobStatusQueued:
			return eris.Wrapf(ErrIllegalTransition, "%s -> %s", job.Status, next)
		}

		job.Status = next
		if next == model.JobStatusProcessing && job.StartedAt == nil {
			t := now
			job.StartedAt = &t
		}
		if next.Terminal() && job.FinishedAt == nil {
			t := now
			job.FinishedAt = &t
			if job.ExpiresAt == nil {
				exp := now.Add(retention)
				if upd.ExpiresAt != nil {
					exp = *upd.ExpiresAt
				}
				job.ExpiresAt = &exp
			}
		}
	}

	if upd.Progress != nil && *upd.Progress > job.Progress {
		job.Progress = *upd.Progress
	}
	if upd.Message != nil {
		job.Message = *upd.Message
	}
	if upd.Error != nil {
		job.Error = *upd.Error
	}
	if upd.OutputFile != nil {
		job.OutputFile = *upd.OutputFile
	}
	job.UpdatedAt = now
	return nil
}

// jobLocks hands out one mutex per job ID so read-modify-write updates to the
// same record never race. Entries are never reclaimed; job IDs are bounded by
// retention.
type jobLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newJobLocks() *jobLocks {
	return &jobLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *jobLocks) lock(jobID string) func() {
	l.mu.Lock()
	m, ok := l.locks[jobID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[jobID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func normalizeRetention(retention time.Duration) time.Duration {
	if retention <= 0 {
		return DefaultRetention
	}
	return retention
}
