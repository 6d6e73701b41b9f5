package pipeline

import (
	"context"
	"fmt"

	"pushpipe/internal/types"
)

// Resolver turns a job's targeting criteria into the candidate recipient
// set. The store performs the criteria intersection; the resolver guards the
// contract that every candidate is actually deliverable.
type Resolver struct {
	recipients RecipientStore
	logger     types.Logger
}

// NewResolver creates a Resolver backed by the given recipient store.
func NewResolver(recipients RecipientStore, logger types.Logger) *Resolver {
	return &Resolver{recipients: recipients, logger: logger}
}

// Resolve returns the candidate set for a job. An empty result is not an
// error; the runner finalizes such jobs as completed with zero deliveries.
func (r *Resolver) Resolve(ctx context.Context, job *types.NotificationJob) ([]*types.Recipient, error) {
	rows, err := r.recipients.QueryByCriteria(ctx, job.Target)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients for job %s: %w", job.ID, err)
	}

	// The store's base set already excludes null subscriptions; re-check so a
	// raced invalidation between query and fan-out cannot produce a send
	// against an empty address.
	candidates := rows[:0]
	for _, rec := range rows {
		if rec.Deliverable() {
			candidates = append(candidates, rec)
		}
	}

	r.logger.Info("recipients resolved",
		"job_id", job.ID,
		"candidates", len(candidates),
	)
	return candidates, nil
}
