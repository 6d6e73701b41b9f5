// Package tasks provides SQS-based submission of decoupled follow-up work.
// Submission is fire-and-forget by contract: there is no delivery guarantee,
// and a submission failure never affects the outcome of the pipeline run
// that requested it.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"pushpipe/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// AggregationTask is the message body consumed by the downstream statistics
// aggregator.
type AggregationTask struct {
	TaskID           string    `json:"task_id"`
	JobID            string    `json:"job_id"`
	NotificationType string    `json:"notification_type"`
	SubmittedAt      time.Time `json:"submitted_at"`
}

// Trigger submits aggregation tasks to the configured SQS queue.
type Trigger struct {
	client   SQSSender
	queueURL string
	clock    types.Clock
	logger   types.Logger
}

// NewTrigger creates a task trigger for the given queue.
func NewTrigger(client SQSSender, queueURL string, clock types.Clock, logger types.Logger) *Trigger {
	return &Trigger{
		client:   client,
		queueURL: queueURL,
		clock:    clock,
		logger:   logger,
	}
}

// SubmitAggregation enqueues one aggregation task. Callers treat an error
// from this method as advisory only.
func (t *Trigger) SubmitAggregation(ctx context.Context, jobID string, notificationType string) error {
	task := AggregationTask{
		TaskID:           uuid.New().String(),
		JobID:            jobID,
		NotificationType: notificationType,
		SubmittedAt:      t.clock.Now(),
	}

	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal aggregation task: %w", err)
	}

	_, err = t.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(t.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("send aggregation task for job %s: %w", jobID, err)
	}

	t.logger.Info("aggregation task submitted",
		"task_id", task.TaskID,
		"job_id", jobID,
		"notification_type", notificationType,
	)
	return nil
}
