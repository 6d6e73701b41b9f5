package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pushpipe/internal/types"
)

func claimedJobRow(id string) []any {
	return []any{
		id,
		"processing",
		"incident_reported",
		[]byte(`{"title":"Incident","body":"Gate 3","urgency":"critical","data":{"incident_id":"inc-1"}}`),
		[]string{},
		[]string{"site-1"},
		[]string{},
		"org-1",
		time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC),
		nil,
		nil,
		nil,
		time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestJobRepository_ClaimDue_Success(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewJobRepository(dbtx)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	dbtx.On("Query", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "FOR UPDATE SKIP LOCKED") &&
			strings.Contains(sql, "status = 'pending'") &&
			strings.Contains(sql, "SET status = 'processing'")
	}), []any{now, 10}).
		Return(newMockRows([][]any{claimedJobRow("job-1")}), nil)

	jobs, err := repo.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	job := jobs[0]
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, types.JobStatusProcessing, job.Status)
	assert.Equal(t, "incident_reported", job.Type)
	assert.Equal(t, "Incident", job.Payload.Title)
	assert.Equal(t, types.UrgencyCritical, job.Payload.Urgency)
	assert.Equal(t, []string{"site-1"}, job.Target.SiteIDs)
	assert.Equal(t, "org-1", job.Target.OrganizationID)
	assert.Nil(t, job.ProcessedAt)
	dbtx.AssertExpectations(t)
}

func TestJobRepository_ClaimDue_QueryError(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewJobRepository(dbtx)
	ctx := context.Background()

	dbtx.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("connection refused"))

	_, err := repo.ClaimDue(ctx, time.Now(), 10)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeJobListing, appErr.Code)
}

func TestJobRepository_ClaimDue_MalformedPayload(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewJobRepository(dbtx)
	ctx := context.Background()

	row := claimedJobRow("job-1")
	row[3] = []byte(`{not json`)
	dbtx.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows([][]any{row}), nil)

	_, err := repo.ClaimDue(ctx, time.Now(), 10)
	require.Error(t, err)
}

func TestJobRepository_MarkCompleted_Success(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewJobRepository(dbtx)
	ctx := context.Background()

	dbtx.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "status = 'completed'") &&
			strings.Contains(sql, "AND status = 'processing'")
	}), []any{"job-1"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, repo.MarkCompleted(ctx, "job-1"))
	dbtx.AssertExpectations(t)
}

func TestJobRepository_MarkCompleted_NotProcessing(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewJobRepository(dbtx)
	ctx := context.Background()

	dbtx.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.MarkCompleted(ctx, "job-1")
	require.Error(t, err)
}

func TestJobRepository_MarkFailed_RecordsDetail(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewJobRepository(dbtx)
	ctx := context.Background()

	dbtx.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "status = 'failed'") &&
			strings.Contains(sql, "error_detail = $2")
	}), []any{"job-1", "recipient query failed"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, repo.MarkFailed(ctx, "job-1", "recipient query failed"))
	dbtx.AssertExpectations(t)
}
