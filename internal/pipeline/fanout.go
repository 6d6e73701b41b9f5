package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"pushpipe/internal/push"
	"pushpipe/internal/types"
)

// DefaultFanoutConcurrency caps concurrent gateway calls within one job when
// no explicit limit is configured.
const DefaultFanoutConcurrency = 16

// Fanout concurrently attempts delivery to every eligible recipient of a job
// and records one outcome per recipient. No recipient's failure cancels or
// blocks any other recipient's attempt; the engine always waits for every
// attempt to settle.
type Fanout struct {
	gateway     Gateway
	recipients  RecipientStore
	outcomes    OutcomeStore
	metrics     Metrics
	clock       types.Clock
	logger      types.Logger
	concurrency int
}

// NewFanout creates a fan-out engine. A non-positive concurrency falls back
// to DefaultFanoutConcurrency.
func NewFanout(
	gateway Gateway,
	recipients RecipientStore,
	outcomes OutcomeStore,
	metrics Metrics,
	clock types.Clock,
	logger types.Logger,
	concurrency int,
) *Fanout {
	if concurrency <= 0 {
		concurrency = DefaultFanoutConcurrency
	}
	return &Fanout{
		gateway:     gateway,
		recipients:  recipients,
		outcomes:    outcomes,
		metrics:     metrics,
		clock:       clock,
		logger:      logger,
		concurrency: concurrency,
	}
}

// Deliver fans out to all eligible recipients and returns the delivered and
// failed counts once every attempt has settled. Per-recipient errors are
// isolated: they are classified, recorded, and counted, never propagated
// into the group.
func (f *Fanout) Deliver(ctx context.Context, job *types.NotificationJob, eligible []*types.Recipient) (sent, failed int) {
	if len(eligible) == 0 {
		return 0, 0
	}

	opts := push.OptionsFor(job.Payload.EffectiveUrgency())

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for _, rec := range eligible {
		rec := rec
		g.Go(func() error {
			delivered := f.deliverOne(gCtx, job, rec, opts)

			mu.Lock()
			if delivered {
				sent++
			} else {
				failed++
			}
			mu.Unlock()

			// Never propagate: sibling attempts must run regardless.
			return nil
		})
	}

	// Error is always nil by construction; Wait is the settle barrier.
	_ = g.Wait()

	return sent, failed
}

// deliverOne attempts a single recipient delivery: build the merged payload,
// call the gateway, classify any failure, and record the outcome.
func (f *Fanout) deliverOne(ctx context.Context, job *types.NotificationJob, rec *types.Recipient, opts push.DeliveryOptions) bool {
	payload := push.BuildPayload(job, rec)

	err := f.gateway.Send(ctx, *rec.Subscription, payload, opts)
	if err == nil {
		f.metrics.RecordDelivery(ctx, MetricSuccess)
		f.recordOutcome(ctx, job, rec, types.OutcomeDelivered, "")
		return true
	}

	// Stale endpoint: clear the stored subscription so future jobs stop
	// targeting it. The nulling write is idempotent, so concurrent
	// invalidation from sibling jobs is safe.
	if push.IsExpired(err) {
		if clearErr := f.recipients.ClearSubscription(ctx, rec.ID); clearErr != nil {
			f.logger.Error("failed to clear expired subscription",
				"job_id", job.ID,
				"recipient_id", rec.ID,
				"error", clearErr.Error(),
			)
		} else {
			f.logger.Info("expired subscription cleared",
				"job_id", job.ID,
				"recipient_id", rec.ID,
			)
		}
	} else {
		f.logger.Warn("delivery failed",
			"job_id", job.ID,
			"recipient_id", rec.ID,
			"error", err.Error(),
		)
	}

	f.metrics.RecordDelivery(ctx, MetricFailed)
	f.recordOutcome(ctx, job, rec, types.OutcomeFailed, err.Error())
	return false
}

// recordOutcome appends to the audit log best-effort: a write failure is
// logged and never changes the delivery's classification.
func (f *Fanout) recordOutcome(ctx context.Context, job *types.NotificationJob, rec *types.Recipient, status types.OutcomeStatus, errDetail string) {
	outcome := &types.DeliveryOutcome{
		JobID:       job.ID,
		RecipientID: rec.ID,
		Status:      status,
		ErrorDetail: errDetail,
		SentAt:      f.clock.Now(),
	}
	if err := f.outcomes.Append(ctx, outcome); err != nil {
		f.logger.Error("failed to append delivery outcome",
			"job_id", job.ID,
			"recipient_id", rec.ID,
			"status", string(status),
			"error", err.Error(),
		)
	}
}
