package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/address-pipeline/internal/model"
	"github.com/sells-group/address-pipeline/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "jobs.db"), store.DefaultRetention)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func completedJob(t *testing.T, s store.Store, id string, inputPath, outputPath string, expiresAt time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, &model.Job{
		ID:               id,
		Filename:         inputPath,
		OriginalFilename: "upload.csv",
	}))
	status := model.JobStatusCompleted
	_, err := s.UpdateJob(ctx, id, store.JobUpdate{
		Status:     &status,
		OutputFile: &outputPath,
		ExpiresAt:  &expiresAt,
	})
	require.NoError(t, err)
}

func TestSweepNothingExpired(t *testing.T) {
	s := newTestStore(t)
	completedJob(t, s, "fresh", "", "", time.Now().UTC().Add(time.Hour))

	deleted, errs := NewSweeper(s).Sweep(context.Background(), time.Now().UTC())
	assert.Equal(t, 0, deleted)
	assert.Empty(t, errs)

	_, err := s.GetJob(context.Background(), "fresh")
	assert.NoError(t, err)
}

func TestSweepDeletesExpiredJobsAndArtifacts(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()

	input := filepath.Join(dir, "in.csv")
	output := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(input, []byte("address\n"), 0o644))
	require.NoError(t, os.WriteFile(output, []byte("address\n"), 0o644))

	past := time.Now().UTC().Add(-time.Hour)
	completedJob(t, s, "old-1", input, output, past)
	completedJob(t, s, "old-2", "", "", past)
	completedJob(t, s, "fresh", "", "", time.Now().UTC().Add(time.Hour))

	deleted, errs := NewSweeper(s).Sweep(context.Background(), time.Now().UTC())
	assert.Equal(t, 2, deleted)
	assert.Empty(t, errs)

	_, statErr := os.Stat(input)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(output)
	assert.True(t, os.IsNotExist(statErr))

	ctx := context.Background()
	_, err := s.GetJob(ctx, "old-1")
	assert.Error(t, err)
	_, err = s.GetJob(ctx, "old-2")
	assert.Error(t, err)
	_, err = s.GetJob(ctx, "fresh")
	assert.NoError(t, err)
}

func TestSweepMissingArtifactsAreNotErrors(t *testing.T) {
	s := newTestStore(t)
	past := time.Now().UTC().Add(-time.Hour)
	completedJob(t, s, "ghost", filepath.Join(t.TempDir(), "never-written.csv"), "", past)

	deleted, errs := NewSweeper(s).Sweep(context.Background(), time.Now().UTC())
	assert.Equal(t, 1, deleted)
	assert.Empty(t, errs)
}

func TestSweepIsolatesPerJobFailures(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()

	// An artifact path pointing at a non-empty directory makes os.Remove fail
	// for that job only.
	blocked := filepath.Join(dir, "blocked")
	require.NoError(t, os.MkdirAll(filepath.Join(blocked, "child"), 0o755))

	past := time.Now().UTC().Add(-time.Hour)
	completedJob(t, s, "bad", blocked, "", past)
	completedJob(t, s, "good", "", "", past)

	deleted, errs := NewSweeper(s).Sweep(context.Background(), time.Now().UTC())
	assert.Equal(t, 1, deleted)
	require.Len(t, errs, 1)
	assert.Equal(t, "bad", errs[0].JobID)

	ctx := context.Background()
	_, err := s.GetJob(ctx, "bad")
	assert.NoError(t, err, "failed job remains for the next sweep")
	_, err = s.GetJob(ctx, "good")
	assert.Error(t, err)
}

func TestCronSpec(t *testing.T) {
	assert.Equal(t, "30 2 * * *", cronSpec(2, 30))
	assert.Equal(t, "0 2 * * *", cronSpec(99, -5))
}

func TestSchedulerDisabled(t *testing.T) {
	s := NewScheduler(NewSweeper(newTestStore(t)), ScheduleConfig{Enabled: false})
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}
