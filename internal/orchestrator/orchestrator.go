// Package orchestrator runs standardization jobs end to end: read the input
// table, expand multi-address fields, reconcile against the oracle, merge
// results back by position, write the output artifact, and report progress
// milestones to the job store along the way.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/address-pipeline/internal/artifact"
	"github.com/sells-group/address-pipeline/internal/cost"
	"github.com/sells-group/address-pipeline/internal/model"
	"github.com/sells-group/address-pipeline/internal/notify"
	"github.com/sells-group/address-pipeline/internal/standardize"
	"github.com/sells-group/address-pipeline/internal/store"
	"github.com/sells-group/address-pipeline/pkg/oracle"
)

const defaultMaxWorkers = 4

// Config tunes the orchestrator.
type Config struct {
	// OutputDir receives finished artifacts, named by job ID.
	OutputDir string
	// MaxWorkers caps concurrently processing jobs.
	MaxWorkers int
	// Country and Templates seed the per-job standardizer; a job's own
	// country option wins.
	Country   string
	Templates map[string]string
	// BatchSize, CompareBatchSize, and FallbackRPS are defaults for jobs
	// that do not set their own.
	BatchSize        int
	CompareBatchSize int
	FallbackRPS      float64
	// Model names the oracle model for cost estimation.
	Model string
}

// Orchestrator owns the background workers that drive jobs to completion.
type Orchestrator struct {
	store    store.Store
	oracle   oracle.Client
	notifier *notify.Notifier
	cfg      Config
	costs    *cost.Calculator
	log      *zap.Logger

	group   *errgroup.Group
	workCtx context.Context
}

// New builds an Orchestrator whose workers live until ctx is cancelled.
func New(ctx context.Context, st store.Store, client oracle.Client, notifier *notify.Notifier, cfg Config) *Orchestrator {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = defaultMaxWorkers
	}
	group, workCtx := errgroup.WithContext(ctx)
	group.SetLimit(cfg.MaxWorkers)

	return &Orchestrator{
		store:    st,
		oracle:   client,
		notifier: notifier,
		cfg:      cfg,
		costs:    cost.NewCalculator(nil),
		log:      zap.L().Named("orchestrator"),
		group:    group,
		workCtx:  workCtx,
	}
}

// Submit records a new job and hands it to a background worker. The returned
// ID is immediately queryable through the store.
func (o *Orchestrator) Submit(ctx context.Context, inputPath, originalFilename, callbackURL string, opts model.JobOptions) (string, error) {
	job := &model.Job{
		Filename:         inputPath,
		OriginalFilename: originalFilename,
		CallbackURL:      callbackURL,
		Options:          opts,
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return "", err
	}

	jobID := job.ID
	o.group.Go(func() error {
		// Worker errors land on the job record, not the group.
		o.process(o.workCtx, jobID)
		return nil
	})
	return jobID, nil
}

// Run processes a job synchronously. The CLI run command uses it; the serve
// surface goes through Submit.
func (o *Orchestrator) Run(ctx context.Context, inputPath, originalFilename string, opts model.JobOptions) (*model.Job, error) {
	job := &model.Job{
		Filename:         inputPath,
		OriginalFilename: originalFilename,
		Options:          opts,
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	o.process(ctx, job.ID)
	return o.store.GetJob(ctx, job.ID)
}

// Wait blocks until every in-flight worker has finished.
func (o *Orchestrator) Wait() error {
	return o.group.Wait()
}

// steps, indexed by name for milestone lookups.
var steps = func() map[string]model.JobStep {
	m := make(map[string]model.JobStep)
	for _, s := range model.DefaultSteps() {
		m[s.Name] = s
	}
	return m
}()

func (o *Orchestrator) process(ctx context.Context, jobID string) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		o.log.Error("worker could not load job", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	o.log.Info("job started", zap.String("job_id", jobID), zap.String("file", job.OriginalFilename))

	finished, err := o.run(ctx, job)
	if err != nil {
		o.fail(jobID, err)
		return
	}
	o.deliver(finished)
}

// run drives a job through every stage. It returns the terminal job record
// on success; any error is translated into a terminal error status by the
// caller so a job can never be left stuck in processing.
func (o *Orchestrator) run(ctx context.Context, job *model.Job) (*model.Job, error) {
	if err := o.advance(ctx, job.ID, steps["initialize"]); err != nil {
		return nil, err
	}
	table, err := artifact.ReadTable(job.Filename)
	if err != nil {
		return nil, err
	}
	addrCol, secCol, cmpCol, err := resolveColumns(table.Headers, job.Options)
	if err != nil {
		return nil, err
	}

	if err := o.advance(ctx, job.ID, steps["split"]); err != nil {
		return nil, err
	}
	expanded := expandRows(table, addrCol, secCol)
	o.log.Debug("split stage done",
		zap.String("job_id", job.ID),
		zap.Int("input_rows", len(table.Rows)),
		zap.Int("expanded_rows", len(expanded)))

	if err := o.advance(ctx, job.ID, steps["standardize"]); err != nil {
		return nil, err
	}
	usageBefore := o.usageSnapshot()
	std := o.newStandardizer(job.Options)
	items := make([]string, len(expanded))
	for i, row := range expanded {
		items[i] = row.address
	}
	results := std.StandardizeBatch(ctx, items)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var comparisons []standardize.Comparison
	if cmpCol >= 0 {
		pairs := make([][2]string, len(table.Rows))
		for i, row := range table.Rows {
			pairs[i] = [2]string{cellAt(row, addrCol), cellAt(row, cmpCol)}
		}
		comparisons = std.CompareBatch(ctx, pairs)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	o.logUsage(job.ID, usageBefore)

	if err := o.advance(ctx, job.ID, steps["merge"]); err != nil {
		return nil, err
	}
	output := mergeResults(table, expanded, results, comparisons, addrCol)

	if err := o.advance(ctx, job.ID, steps["finalize"]); err != nil {
		return nil, err
	}
	outPath := o.outputPath(job)
	if err := artifact.WriteTable(outPath, output); err != nil {
		return nil, err
	}

	// Archival is best effort; the artifact is the product.
	if archiver, ok := o.store.(store.ResultArchiver); ok {
		if _, err := archiver.ArchiveResults(ctx, job.ID, results); err != nil {
			o.log.Warn("result archive failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	completed := model.JobStatusCompleted
	progress := 100
	message := fmt.Sprintf("standardized %d addresses", len(results))
	finished, err := o.store.UpdateJob(ctx, job.ID, store.JobUpdate{
		Status:     &completed,
		Progress:   &progress,
		Message:    &message,
		OutputFile: &outPath,
	})
	if err != nil {
		return nil, err
	}
	o.appendLog(job.ID, message, 100)
	o.log.Info("job completed", zap.String("job_id", job.ID), zap.String("output", outPath))
	return finished, nil
}

// advance moves the job to the given milestone. The first milestone also
// flips the job into processing.
func (o *Orchestrator) advance(ctx context.Context, jobID string, step model.JobStep) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	upd := store.JobUpdate{Progress: &step.TargetProgress, Message: &step.Label}
	if step.Name == "initialize" {
		processing := model.JobStatusProcessing
		upd.Status = &processing
	}
	if _, err := o.store.UpdateJob(ctx, jobID, upd); err != nil {
		return err
	}
	o.appendLog(jobID, step.Label, step.TargetProgress)
	return nil
}

func (o *Orchestrator) appendLog(jobID, message string, progress int) {
	// Log writes are best effort; milestone state already persisted.
	if err := o.store.AppendLog(context.Background(), jobID, message, progress); err != nil {
		o.log.Warn("append job log failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// fail marks the job terminal with the error. It uses a fresh context so a
// cancelled worker can still record its own demise.
func (o *Orchestrator) fail(jobID string, cause error) {
	o.log.Warn("job failed", zap.String("job_id", jobID), zap.Error(cause))

	errStatus := model.JobStatusError
	msg := "job failed"
	errText := cause.Error()
	job, err := o.store.UpdateJob(context.Background(), jobID, store.JobUpdate{
		Status:  &errStatus,
		Message: &msg,
		Error:   &errText,
	})
	if err != nil {
		o.log.Error("could not mark job failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	o.appendLog(jobID, "job failed: "+errText, job.Progress)
	o.deliver(job)
}

// deliver fires the terminal webhook without blocking the worker.
func (o *Orchestrator) deliver(job *model.Job) {
	if o.notifier == nil || job == nil || job.CallbackURL == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		_ = o.notifier.NotifyTerminal(ctx, job)
	}()
}

func (o *Orchestrator) newStandardizer(opts model.JobOptions) *standardize.Standardizer {
	country := opts.Country
	if country == "" {
		country = o.cfg.Country
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = o.cfg.BatchSize
	}
	return standardize.New(o.oracle, standardize.Config{
		BatchSize:        batchSize,
		CompareBatchSize: o.cfg.CompareBatchSize,
		Country:          country,
		Templates:        o.cfg.Templates,
		FallbackRPS:      o.cfg.FallbackRPS,
	})
}

func (o *Orchestrator) usageSnapshot() oracle.Usage {
	if reporter, ok := o.oracle.(oracle.UsageReporter); ok {
		return reporter.Usage()
	}
	return oracle.Usage{}
}

// logUsage records the token delta since before. Deltas overlap when jobs run
// concurrently, so this is an estimate, not an invoice.
func (o *Orchestrator) logUsage(jobID string, before oracle.Usage) {
	reporter, ok := o.oracle.(oracle.UsageReporter)
	if !ok {
		return
	}
	delta := reporter.Usage().Sub(before)
	if delta.InputTokens == 0 && delta.OutputTokens == 0 {
		return
	}
	o.log.Info("oracle usage",
		zap.String("job_id", jobID),
		zap.Int64("input_tokens", delta.InputTokens),
		zap.Int64("output_tokens", delta.OutputTokens),
		zap.Float64("estimated_cost_usd", o.costs.Oracle(o.cfg.Model, delta.InputTokens, delta.OutputTokens)))
}

func (o *Orchestrator) outputPath(job *model.Job) string {
	ext := strings.ToLower(filepath.Ext(job.Filename))
	if ext != ".xlsx" {
		ext = ".csv"
	}
	return filepath.Join(o.cfg.OutputDir, job.ID+ext)
}

func resolveColumns(headers []string, opts model.JobOptions) (addr, secondary, compare int, err error) {
	addrName := opts.AddressColumn
	if addrName == "" {
		addrName = "address"
	}
	addr = findColumn(headers, addrName)
	if addr < 0 {
		return 0, 0, 0, eris.Errorf("orchestrator: address column %q not found", addrName)
	}

	secondary = -1
	if opts.SecondaryColumn != "" {
		if secondary = findColumn(headers, opts.SecondaryColumn); secondary < 0 {
			return 0, 0, 0, eris.Errorf("orchestrator: secondary column %q not found", opts.SecondaryColumn)
		}
	}
	compare = -1
	if opts.CompareColumn != "" {
		if compare = findColumn(headers, opts.CompareColumn); compare < 0 {
			return 0, 0, 0, eris.Errorf("orchestrator: compare column %q not found", opts.CompareColumn)
		}
	}
	return addr, secondary, compare, nil
}

func findColumn(headers []string, name string) int {
	for i, h := range headers {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
