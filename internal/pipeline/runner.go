package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"pushpipe/internal/types"
)

// DefaultBatchSize bounds how many due jobs one invocation claims when no
// explicit size is configured.
const DefaultBatchSize = 50

// aggregationTypes lists the notification types that trigger a decoupled
// downstream aggregation task after the job completes.
var aggregationTypes = map[string]bool{
	"incident_reported":  true,
	"material_low_stock": true,
}

// reasonNoTargets finalizes jobs whose criteria matched no deliverable
// recipients.
const reasonNoTargets = "no target recipients"

// Runner orchestrates one batch invocation: claim due jobs, then process
// each independently through resolve -> filter -> fan-out -> finalize.
// A failure in one job never escapes to its siblings.
type Runner struct {
	jobs      JobStore
	resolver  *Resolver
	filter    *PreferenceFilter
	fanout    *Fanout
	tasks     TaskSubmitter // nil disables follow-up submission
	metrics   Metrics
	clock     types.Clock
	logger    types.Logger
	batchSize int
}

// NewRunner creates a batch runner. tasks may be nil when no follow-up queue
// is configured. A non-positive batchSize falls back to DefaultBatchSize.
func NewRunner(
	jobs JobStore,
	resolver *Resolver,
	filter *PreferenceFilter,
	fanout *Fanout,
	tasks TaskSubmitter,
	metrics Metrics,
	clock types.Clock,
	logger types.Logger,
	batchSize int,
) *Runner {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Runner{
		jobs:      jobs,
		resolver:  resolver,
		filter:    filter,
		fanout:    fanout,
		tasks:     tasks,
		metrics:   metrics,
		clock:     clock,
		logger:    logger,
		batchSize: batchSize,
	}
}

// Run executes one batch invocation. limit overrides the configured batch
// size when positive. A job-listing failure aborts the whole invocation;
// everything after claiming is isolated per job, and the summary always
// exposes the full per-job breakdown.
func (r *Runner) Run(ctx context.Context, limit int) (*BatchSummary, error) {
	if limit <= 0 {
		limit = r.batchSize
	}

	now := r.clock.Now()
	batchID := uuid.New().String()
	logger := r.logger.With("batch_id", batchID)

	jobs, err := r.jobs.ClaimDue(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}

	summary := &BatchSummary{
		BatchID: batchID,
		Results: make([]JobResult, 0, len(jobs)),
	}
	if len(jobs) == 0 {
		logger.Info("no due jobs")
		return summary, nil
	}

	logger.Info("processing batch", "jobs", len(jobs))

	for _, job := range jobs {
		result := r.processJob(ctx, job, logger)

		summary.Processed++
		if result.Status == types.JobStatusCompleted {
			summary.Successful++
		} else {
			summary.Failed++
		}
		summary.Results = append(summary.Results, result)
	}

	logger.Info("batch finished",
		"processed", summary.Processed,
		"successful", summary.Successful,
		"failed", summary.Failed,
	)
	r.metrics.RecordBatch(ctx, summary.Processed, summary.Successful, summary.Failed)

	return summary, nil
}

// processJob runs one job to a terminal state. Both returned errors and
// panics are contained here: the job is marked failed with the fault
// recorded, and the caller proceeds to the next job.
func (r *Runner) processJob(ctx context.Context, job *types.NotificationJob, batchLogger types.Logger) (result JobResult) {
	start := r.clock.Now()
	logger := batchLogger.With("job_id", job.ID, "notification_type", job.Type)

	defer func() {
		if p := recover(); p != nil {
			detail := fmt.Sprintf("panic: %v", p)
			logger.Error("job processing panicked", "panic", fmt.Sprintf("%v", p))
			r.markFailed(ctx, job.ID, detail, logger)
			result = JobResult{JobID: job.ID, Status: types.JobStatusFailed, Reason: detail}
		}
		r.metrics.RecordJobDuration(ctx, r.clock.Now().Sub(start))
	}()

	candidates, err := r.resolver.Resolve(ctx, job)
	if err != nil {
		logger.Error("recipient resolution failed", "error", err.Error())
		r.markFailed(ctx, job.ID, err.Error(), logger)
		return JobResult{JobID: job.ID, Status: types.JobStatusFailed, Reason: err.Error()}
	}

	// Zero matching recipients is a normal terminal outcome, not a fault.
	if len(candidates) == 0 {
		if err := r.jobs.MarkCompleted(ctx, job.ID); err != nil {
			logger.Error("failed to finalize empty-target job", "error", err.Error())
			return JobResult{JobID: job.ID, Status: types.JobStatusFailed, Reason: err.Error()}
		}
		logger.Info("job completed with no target recipients")
		return JobResult{JobID: job.ID, Status: types.JobStatusCompleted, Reason: reasonNoTargets}
	}

	eligible := r.filter.Eligible(job, candidates)
	logger.Info("eligibility filtered",
		"candidates", len(candidates),
		"eligible", len(eligible),
	)

	sent, failed := r.fanout.Deliver(ctx, job, eligible)

	// Completed regardless of sent count: zero-success is a normal terminal
	// outcome, distinct from a pipeline-level fault.
	if err := r.jobs.MarkCompleted(ctx, job.ID); err != nil {
		logger.Error("failed to finalize job", "error", err.Error())
		return JobResult{
			JobID: job.ID, Status: types.JobStatusFailed,
			Sent: sent, Failed: failed, Total: len(eligible),
			Reason: err.Error(),
		}
	}

	logger.Info("job completed",
		"sent", sent,
		"failed", failed,
		"total", len(eligible),
	)

	r.submitFollowUp(ctx, job, logger)

	return JobResult{
		JobID:  job.ID,
		Status: types.JobStatusCompleted,
		Sent:   sent,
		Failed: failed,
		Total:  len(eligible),
	}
}

// markFailed records a terminal failure, logging rather than escalating if
// even that write fails; the job row will be retried by operators, not by
// this invocation.
func (r *Runner) markFailed(ctx context.Context, jobID, detail string, logger types.Logger) {
	if err := r.jobs.MarkFailed(ctx, jobID, detail); err != nil {
		logger.Error("failed to mark job failed", "error", err.Error())
	}
}

// submitFollowUp submits the downstream aggregation task for qualifying
// notification types. Fire-and-forget: no delivery guarantee, and neither
// failure nor latency here affects the job's outcome.
func (r *Runner) submitFollowUp(ctx context.Context, job *types.NotificationJob, logger types.Logger) {
	if r.tasks == nil || !aggregationTypes[job.Type] {
		return
	}
	if err := r.tasks.SubmitAggregation(ctx, job.ID, job.Type); err != nil {
		logger.Warn("aggregation task submission failed",
			"error", err.Error(),
		)
	}
}
