// Package pipeline implements the scheduled notification delivery pipeline:
// claiming due jobs, resolving recipient sets, preference and quiet-hour
// filtering, concurrent push fan-out with per-recipient failure
// classification, and job finalization with an auditable outcome log.
package pipeline

import (
	"context"
	"time"

	"pushpipe/internal/push"
	"pushpipe/internal/types"
)

// JobStore is the narrow job persistence interface the runner depends on.
// Satisfied by db.JobRepository.
type JobStore interface {
	// ClaimDue atomically transitions up to limit due pending jobs to
	// processing and returns them. Only one concurrent invocation can win any
	// given job.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*types.NotificationJob, error)

	// MarkCompleted transitions a processing job to completed.
	MarkCompleted(ctx context.Context, jobID string) error

	// MarkFailed transitions a processing job to failed, recording the
	// orchestration error.
	MarkFailed(ctx context.Context, jobID string, errDetail string) error
}

// RecipientStore is the recipient access interface. Satisfied by
// db.RecipientRepository.
type RecipientStore interface {
	// QueryByCriteria returns candidates matching the job's targeting
	// criteria, restricted to recipients with a non-null push subscription.
	QueryByCriteria(ctx context.Context, criteria types.TargetCriteria) ([]*types.Recipient, error)

	// ClearSubscription nulls a stale push subscription. Idempotent.
	ClearSubscription(ctx context.Context, recipientID string) error
}

// OutcomeStore is the append-only audit log interface. Satisfied by
// db.OutcomeRepository.
type OutcomeStore interface {
	Append(ctx context.Context, outcome *types.DeliveryOutcome) error
}

// Gateway is the opaque push delivery capability. Satisfied by push.Client.
type Gateway interface {
	Send(ctx context.Context, subscription string, payload push.DeliveryPayload, opts push.DeliveryOptions) error
}

// TaskSubmitter submits decoupled follow-up work after a job completes.
// Submission is fire-and-forget: no delivery guarantee, and a failure never
// affects the job's outcome.
type TaskSubmitter interface {
	SubmitAggregation(ctx context.Context, jobID string, notificationType string) error
}

// MetricResult categorizes a delivery outcome for metrics reporting.
type MetricResult string

const (
	MetricSuccess MetricResult = "success"
	MetricFailed  MetricResult = "failed"
)

// Metrics abstracts telemetry for the pipeline. Publishing is best-effort;
// implementations log and swallow their own failures.
type Metrics interface {
	RecordDelivery(ctx context.Context, result MetricResult)
	RecordJobDuration(ctx context.Context, d time.Duration)
	RecordBatch(ctx context.Context, processed, successful, failed int)
}

// NopMetrics discards all measurements. Used when no telemetry backend is
// configured and by tests.
type NopMetrics struct{}

func (NopMetrics) RecordDelivery(context.Context, MetricResult)     {}
func (NopMetrics) RecordJobDuration(context.Context, time.Duration) {}
func (NopMetrics) RecordBatch(context.Context, int, int, int)       {}

// JobResult is the per-job entry in a batch summary. Sent and Failed count
// recipient deliveries; Status is the job's terminal state.
type JobResult struct {
	JobID  string          `json:"job_id"`
	Status types.JobStatus `json:"status"`
	Sent   int             `json:"sent"`
	Failed int             `json:"failed"`
	Total  int             `json:"total"`
	Reason string          `json:"reason,omitempty"`
}

// BatchSummary is the structured result of one pipeline invocation.
// Successful and Failed count jobs that reached completed vs failed, not
// per-recipient deliveries; partial failure is always observable through
// Results.
type BatchSummary struct {
	BatchID    string      `json:"batch_id"`
	Processed  int         `json:"processed"`
	Successful int         `json:"successful"`
	Failed     int         `json:"failed"`
	Results    []JobResult `json:"results"`
}
