package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"pushpipe/internal/types"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...any)      {}
func (nopLogger) Warn(string, ...any)      {}
func (nopLogger) Error(string, ...any)     {}
func (nopLogger) With(...any) types.Logger { return nopLogger{} }

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{}, nil
}

func TestTrigger_SubmitAggregation(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	client := &fakeSQS{}
	trigger := NewTrigger(client, "https://sqs.test/queue", fixedClock{now: now}, nopLogger{})

	err := trigger.SubmitAggregation(context.Background(), "job-1", "incident_reported")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(client.inputs) != 1 {
		t.Fatalf("expected 1 send, got %d", len(client.inputs))
	}
	input := client.inputs[0]
	if *input.QueueUrl != "https://sqs.test/queue" {
		t.Errorf("queue URL = %s", *input.QueueUrl)
	}

	var task AggregationTask
	if err := json.Unmarshal([]byte(*input.MessageBody), &task); err != nil {
		t.Fatalf("decoding message body: %v", err)
	}
	if task.JobID != "job-1" || task.NotificationType != "incident_reported" {
		t.Errorf("task = %+v", task)
	}
	if task.TaskID == "" {
		t.Error("task must carry a generated ID")
	}
	if !task.SubmittedAt.Equal(now) {
		t.Errorf("submitted_at = %v, want %v", task.SubmittedAt, now)
	}
}

func TestTrigger_SubmitAggregation_UniqueTaskIDs(t *testing.T) {
	client := &fakeSQS{}
	trigger := NewTrigger(client, "https://sqs.test/queue", fixedClock{now: time.Now()}, nopLogger{})

	for i := 0; i < 3; i++ {
		if err := trigger.SubmitAggregation(context.Background(), "job-1", "material_low_stock"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	seen := map[string]bool{}
	for _, input := range client.inputs {
		var task AggregationTask
		if err := json.Unmarshal([]byte(*input.MessageBody), &task); err != nil {
			t.Fatalf("decoding message body: %v", err)
		}
		if seen[task.TaskID] {
			t.Fatalf("duplicate task ID %s", task.TaskID)
		}
		seen[task.TaskID] = true
	}
}

func TestTrigger_SubmitAggregation_SendError(t *testing.T) {
	client := &fakeSQS{err: errors.New("queue unavailable")}
	trigger := NewTrigger(client, "https://sqs.test/queue", fixedClock{now: time.Now()}, nopLogger{})

	err := trigger.SubmitAggregation(context.Background(), "job-1", "incident_reported")
	if err == nil {
		t.Fatal("expected error when the send fails")
	}
}
