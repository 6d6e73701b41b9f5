package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"pushpipe/internal/types"
)

// JobRepository provides data access for the notification_jobs table.
//
// Claiming is atomic: ClaimDue flips pending jobs to processing inside a
// single UPDATE guarded by FOR UPDATE SKIP LOCKED, so two overlapping batch
// invocations can never claim the same job. This closes the double-processing
// race the reference behavior carried.
type JobRepository struct {
	db DBTX
}

// NewJobRepository creates a JobRepository backed by the given database
// connection (pool or transaction).
func NewJobRepository(db DBTX) *JobRepository {
	return &JobRepository{db: db}
}

// ClaimDue atomically selects up to limit due pending jobs (scheduled_at <=
// now) and transitions them to processing, returning the claimed rows.
// Rows locked by a concurrent invocation are skipped rather than waited on,
// so overlapping batches partition the due set instead of double-processing.
func (r *JobRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*types.NotificationJob, error) {
	rows, err := r.db.Query(ctx,
		`UPDATE notification_jobs SET status = 'processing'
		 WHERE id IN (
		   SELECT id FROM notification_jobs
		   WHERE status = 'pending' AND scheduled_at <= $1
		   ORDER BY scheduled_at
		   LIMIT $2
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, status, notification_type, payload,
		   target_user_ids, target_site_ids, target_roles, target_org_id,
		   scheduled_at, processed_at, created_by, error_detail, created_at`,
		now, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeJobListing, "failed to claim due jobs", err)
	}
	defer rows.Close()

	var jobs []*types.NotificationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeJobListing, "failed to scan claimed job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeJobListing, "failed to read claimed jobs", err)
	}
	return jobs, nil
}

// MarkCompleted transitions a processing job to its completed terminal state
// and stamps processed_at. The status guard keeps transitions monotonic.
func (r *JobRepository) MarkCompleted(ctx context.Context, jobID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_jobs
		 SET status = 'completed', processed_at = NOW(), error_detail = NULL
		 WHERE id = $1 AND status = 'processing'`,
		jobID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark job completed", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalDB,
			fmt.Sprintf("job %s not in processing state", jobID), nil)
	}
	return nil
}

// MarkFailed transitions a processing job to its failed terminal state,
// recording the orchestration error for the audit trail.
func (r *JobRepository) MarkFailed(ctx context.Context, jobID string, errDetail string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE notification_jobs
		 SET status = 'failed', processed_at = NOW(), error_detail = $2
		 WHERE id = $1 AND status = 'processing'`,
		jobID, errDetail,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark job failed", err)
	}
	return nil
}

// scanJob hydrates a NotificationJob from a claimed row. The payload column
// is jsonb; targeting arrays are nullable text[] columns.
func scanJob(row pgx.Row) (*types.NotificationJob, error) {
	var (
		job         types.NotificationJob
		payloadRaw  []byte
		orgID       *string
		processedAt *time.Time
		createdBy   *string
		errDetail   *string
	)
	if err := row.Scan(
		&job.ID, &job.Status, &job.Type, &payloadRaw,
		&job.Target.UserIDs, &job.Target.SiteIDs, &job.Target.Roles, &orgID,
		&job.ScheduledAt, &processedAt, &createdBy, &errDetail, &job.CreatedAt,
	); err != nil {
		return nil, err
	}

	if len(payloadRaw) > 0 {
		if err := json.Unmarshal(payloadRaw, &job.Payload); err != nil {
			return nil, fmt.Errorf("job %s: malformed payload: %w", job.ID, err)
		}
	}
	if orgID != nil {
		job.Target.OrganizationID = *orgID
	}
	job.ProcessedAt = processedAt
	if createdBy != nil {
		job.CreatedBy = *createdBy
	}
	if errDetail != nil {
		job.ErrorDetail = *errDetail
	}
	return &job, nil
}
