// Package cleanup removes expired jobs and their artifacts. A sweep runs at
// startup and then daily on a cron schedule; one bad record never aborts the
// rest of the sweep.
package cleanup

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/address-pipeline/internal/model"
	"github.com/sells-group/address-pipeline/internal/store"
)

// Sweeper deletes expired jobs and the files they left behind.
type Sweeper struct {
	store store.Store
	log   *zap.Logger
}

func NewSweeper(s store.Store) *Sweeper {
	return &Sweeper{store: s, log: zap.L().Named("cleanup")}
}

// SweepError records one job the sweep could not fully remove.
type SweepError struct {
	JobID string
	Err   error
}

// Sweep removes every job whose expiry is at or before now. Artifacts are
// deleted before the record so a crash leaves a re-sweepable row rather than
// an orphaned file. Per-job failures are collected, not fatal.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, []SweepError) {
	expired, err := s.store.ListExpired(ctx, now)
	if err != nil {
		return 0, []SweepError{{Err: eris.Wrap(err, "cleanup: list expired")}}
	}

	deleted := 0
	var sweepErrs []SweepError
	for _, job := range expired {
		if ctx.Err() != nil {
			sweepErrs = append(sweepErrs, SweepError{JobID: job.ID, Err: ctx.Err()})
			break
		}
		if err := s.sweepJob(ctx, job); err != nil {
			s.log.Warn("failed to sweep job", zap.String("job_id", job.ID), zap.Error(err))
			sweepErrs = append(sweepErrs, SweepError{JobID: job.ID, Err: err})
			continue
		}
		deleted++
	}

	s.log.Info("cleanup sweep finished",
		zap.Int("expired", len(expired)),
		zap.Int("deleted", deleted),
		zap.Int("errors", len(sweepErrs)))
	return deleted, sweepErrs
}

func (s *Sweeper) sweepJob(ctx context.Context, job model.Job) error {
	for _, path := range []string{job.Filename, job.OutputFile} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return eris.Wrapf(err, "cleanup: remove artifact %s", path)
		}
	}
	if err := s.store.DeleteJob(ctx, job.ID); err != nil && !eris.Is(err, store.ErrNotFound) {
		return eris.Wrapf(err, "cleanup: delete job %s", job.ID)
	}
	return nil
}

// ScheduleConfig controls the recurring sweep.
type ScheduleConfig struct {
	Enabled    bool
	Hour       int
	Minute     int
	RunAtStart bool
}

// Scheduler runs the sweep daily at a fixed time.
type Scheduler struct {
	sweeper *Sweeper
	cfg     ScheduleConfig
	cron    *cron.Cron
	log     *zap.Logger
}

func NewScheduler(sweeper *Sweeper, cfg ScheduleConfig) *Scheduler {
	return &Scheduler{
		sweeper: sweeper,
		cfg:     cfg,
		log:     zap.L().Named("cleanup"),
	}
}

// Start registers the daily sweep and optionally runs one immediately.
// It returns without blocking; Stop halts the schedule.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Info("cleanup schedule disabled")
		return nil
	}

	if s.cfg.RunAtStart {
		go s.run(ctx)
	}

	s.cron = cron.New()
	spec := cronSpec(s.cfg.Hour, s.cfg.Minute)
	if _, err := s.cron.AddFunc(spec, func() { s.run(ctx) }); err != nil {
		return eris.Wrapf(err, "cleanup: schedule %q", spec)
	}
	s.cron.Start()
	s.log.Info("cleanup schedule started", zap.String("spec", spec))
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

func (s *Scheduler) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.sweeper.Sweep(ctx, time.Now().UTC())
}

func cronSpec(hour, minute int) string {
	if hour < 0 || hour > 23 {
		hour = 2
	}
	if minute < 0 || minute > 59 {
		minute = 0
	}
	return fmt.Sprintf("%d %d * * *", minute, hour)
}
