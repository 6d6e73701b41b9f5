package db

import (
	"context"
	"time"

	"github.com/google/uuid"

	"pushpipe/internal/types"
)

// OutcomeRepository provides append access to the delivery_outcomes audit
// log, plus the archival queries used by the outcome archiver.
type OutcomeRepository struct {
	db DBTX
}

// NewOutcomeRepository creates an OutcomeRepository backed by the given
// database connection (pool or transaction).
func NewOutcomeRepository(db DBTX) *OutcomeRepository {
	return &OutcomeRepository{db: db}
}

// Append inserts a delivery outcome. A unique index on (job_id, recipient_id)
// backs the at-most-one-outcome-per-pair invariant; a conflicting insert is
// silently ignored rather than failing the delivery that produced it.
func (r *OutcomeRepository) Append(ctx context.Context, outcome *types.DeliveryOutcome) error {
	if outcome.ID == "" {
		outcome.ID = uuid.New().String()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO delivery_outcomes (id, job_id, recipient_id, status, error_detail, sent_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		 ON CONFLICT (job_id, recipient_id) DO NOTHING`,
		outcome.ID,
		outcome.JobID,
		outcome.RecipientID,
		string(outcome.Status),
		outcome.ErrorDetail,
		outcome.SentAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeAuditWrite, "failed to append delivery outcome", err)
	}
	return nil
}

// ListBefore returns up to limit outcomes sent before the cutoff, oldest
// first. Used by the archiver to page through aged audit rows.
func (r *OutcomeRepository) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]*types.DeliveryOutcome, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, job_id, recipient_id, status, COALESCE(error_detail, ''), sent_at
		 FROM delivery_outcomes
		 WHERE sent_at < $1
		 ORDER BY sent_at
		 LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list aged outcomes", err)
	}
	defer rows.Close()

	var outcomes []*types.DeliveryOutcome
	for rows.Next() {
		var o types.DeliveryOutcome
		if err := rows.Scan(&o.ID, &o.JobID, &o.RecipientID, &o.Status, &o.ErrorDetail, &o.SentAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan outcome", err)
		}
		outcomes = append(outcomes, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read outcomes", err)
	}
	return outcomes, nil
}

// StoreArchive persists one compressed archive batch and deletes the
// archived originals in the same transaction scope the caller provides.
func (r *OutcomeRepository) StoreArchive(ctx context.Context, archivedBefore time.Time, count int, body []byte) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO delivery_outcome_archives (id, archived_before, outcome_count, body, created_at)
		 VALUES ($1, $2, $3, $4, NOW())`,
		uuid.New().String(), archivedBefore, count, body,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to store outcome archive", err)
	}
	return nil
}

// DeleteByIDs removes archived outcomes from the hot table.
func (r *OutcomeRepository) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`DELETE FROM delivery_outcomes WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete archived outcomes", err)
	}
	return nil
}
