package pipeline

import (
	"context"
	"sync"
	"time"

	"pushpipe/internal/push"
	"pushpipe/internal/types"
)

// Shared test doubles for the pipeline package.

// mockClock returns a fixed instant.
type mockClock struct {
	now time.Time
}

func (c *mockClock) Now() time.Time { return c.now }

// mockLogger discards all output.
type mockLogger struct{}

func (l *mockLogger) Info(string, ...any)      {}
func (l *mockLogger) Warn(string, ...any)      {}
func (l *mockLogger) Error(string, ...any)     {}
func (l *mockLogger) With(...any) types.Logger { return l }

// fakeJobStore records lifecycle transitions in memory.
type fakeJobStore struct {
	mu        sync.Mutex
	due       []*types.NotificationJob
	claimErr  error
	completed []string
	failed    map[string]string

	completeErr map[string]error
}

func newFakeJobStore(due ...*types.NotificationJob) *fakeJobStore {
	return &fakeJobStore{due: due, failed: make(map[string]string)}
}

func (s *fakeJobStore) ClaimDue(_ context.Context, _ time.Time, limit int) ([]*types.NotificationJob, error) {
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	if len(s.due) > limit {
		return s.due[:limit], nil
	}
	return s.due, nil
}

func (s *fakeJobStore) MarkCompleted(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.completeErr[jobID]; err != nil {
		return err
	}
	s.completed = append(s.completed, jobID)
	return nil
}

func (s *fakeJobStore) MarkFailed(_ context.Context, jobID string, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[jobID] = detail
	return nil
}

// fakeRecipientStore serves canned candidates and records cleared
// subscriptions.
type fakeRecipientStore struct {
	mu         sync.Mutex
	byCriteria func(types.TargetCriteria) ([]*types.Recipient, error)
	cleared    []string
	clearErr   error
}

func (s *fakeRecipientStore) QueryByCriteria(_ context.Context, criteria types.TargetCriteria) ([]*types.Recipient, error) {
	if s.byCriteria == nil {
		return nil, nil
	}
	return s.byCriteria(criteria)
}

func (s *fakeRecipientStore) ClearSubscription(_ context.Context, recipientID string) error {
	if s.clearErr != nil {
		return s.clearErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = append(s.cleared, recipientID)
	return nil
}

// fakeOutcomeStore accumulates appended outcomes.
type fakeOutcomeStore struct {
	mu        sync.Mutex
	outcomes  []*types.DeliveryOutcome
	appendErr error
}

func (s *fakeOutcomeStore) Append(_ context.Context, outcome *types.DeliveryOutcome) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcome)
	return nil
}

func (s *fakeOutcomeStore) byRecipient() map[string]types.OutcomeStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := make(map[string]types.OutcomeStatus, len(s.outcomes))
	for _, o := range s.outcomes {
		m[o.RecipientID] = o.Status
	}
	return m
}

// fakeGateway resolves each send through a per-subscription result table.
type fakeGateway struct {
	mu      sync.Mutex
	results map[string]error // keyed by subscription; absent means success
	calls   []string
}

func (g *fakeGateway) Send(_ context.Context, subscription string, _ push.DeliveryPayload, _ push.DeliveryOptions) error {
	g.mu.Lock()
	g.calls = append(g.calls, subscription)
	g.mu.Unlock()
	if g.results == nil {
		return nil
	}
	return g.results[subscription]
}

// fakeTaskSubmitter records follow-up submissions.
type fakeTaskSubmitter struct {
	mu        sync.Mutex
	submitted [][2]string
	err       error
}

func (s *fakeTaskSubmitter) SubmitAggregation(_ context.Context, jobID string, notificationType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, [2]string{jobID, notificationType})
	return s.err
}

// Test data helpers.

func strPtr(s string) *string { return &s }

func testRecipient(id string, prefs types.NotificationPreferences) *types.Recipient {
	return &types.Recipient{
		ID:           id,
		Role:         "worker",
		Subscription: strPtr("sub-" + id),
		Preferences:  prefs,
	}
}

func testJob(id, notifType string, urgency types.Urgency) *types.NotificationJob {
	return &types.NotificationJob{
		ID:     id,
		Status: types.JobStatusProcessing,
		Type:   notifType,
		Payload: types.JobPayload{
			Title:   "Test",
			Body:    "Test body",
			Urgency: urgency,
		},
		ScheduledAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		CreatedAt:   time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	}
}
