package pipeline

import (
	"context"
	"errors"
	"testing"

	"pushpipe/internal/types"
)

func TestResolver_PassesJobCriteriaThrough(t *testing.T) {
	var seen types.TargetCriteria
	recipients := &fakeRecipientStore{
		byCriteria: func(c types.TargetCriteria) ([]*types.Recipient, error) {
			seen = c
			return nil, nil
		},
	}

	job := testJob("job-1", "generic_update", types.UrgencyNormal)
	job.Target = types.TargetCriteria{
		SiteIDs:        []string{"site-1"},
		Roles:          []string{"manager"},
		OrganizationID: "org-1",
	}

	resolver := NewResolver(recipients, &mockLogger{})
	if _, err := resolver.Resolve(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(seen.SiteIDs) != 1 || seen.SiteIDs[0] != "site-1" {
		t.Errorf("site criteria not passed through: %+v", seen)
	}
	if seen.OrganizationID != "org-1" {
		t.Errorf("org criteria not passed through: %+v", seen)
	}
}

func TestResolver_DropsUndeliverableRows(t *testing.T) {
	empty := ""
	recipients := &fakeRecipientStore{
		byCriteria: candidatesForAll(
			testRecipient("a", types.DefaultPreferences()),
			&types.Recipient{ID: "b", Preferences: types.DefaultPreferences()},
			&types.Recipient{ID: "c", Subscription: &empty, Preferences: types.DefaultPreferences()},
		),
	}

	resolver := NewResolver(recipients, &mockLogger{})
	candidates, err := resolver.Resolve(context.Background(), testJob("job-1", "generic_update", types.UrgencyNormal))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(candidates) != 1 || candidates[0].ID != "a" {
		ids := make([]string, len(candidates))
		for i, r := range candidates {
			ids[i] = r.ID
		}
		t.Errorf("candidates = %v, want [a]", ids)
	}
}

func TestResolver_QueryErrorWrapsJobID(t *testing.T) {
	recipients := &fakeRecipientStore{
		byCriteria: func(types.TargetCriteria) ([]*types.Recipient, error) {
			return nil, errors.New("query failed")
		},
	}

	resolver := NewResolver(recipients, &mockLogger{})
	_, err := resolver.Resolve(context.Background(), testJob("job-42", "generic_update", types.UrgencyNormal))
	if err == nil {
		t.Fatal("expected error")
	}
}
