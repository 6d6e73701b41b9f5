// Package types defines the domain model shared by every component of the
// pushpipe delivery pipeline: notification jobs, recipients and their
// preferences, delivery outcomes, and the error and logging contracts.
package types

import "time"

// JobStatus is the lifecycle state of a NotificationJob. Transitions are
// monotonic: pending -> processing -> {completed, failed}. Terminal states
// never revert.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Urgency controls quiet-hour bypass and delivery TTL.
type Urgency string

const (
	UrgencyNormal   Urgency = "normal"
	UrgencyCritical Urgency = "critical"
)

// OutcomeStatus is the per-recipient delivery result.
type OutcomeStatus string

const (
	OutcomeDelivered OutcomeStatus = "delivered"
	OutcomeFailed    OutcomeStatus = "failed"
)

// JobPayload is the notification content attached to a job. Data carries
// arbitrary structured fields forwarded to the client application.
type JobPayload struct {
	Title   string         `json:"title"`
	Body    string         `json:"body"`
	Urgency Urgency        `json:"urgency,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// EffectiveUrgency normalizes an absent urgency to UrgencyNormal.
func (p JobPayload) EffectiveUrgency() Urgency {
	if p.Urgency == UrgencyCritical {
		return UrgencyCritical
	}
	return UrgencyNormal
}

// TargetCriteria narrows the recipient set for a job. All present filters are
// intersected; an empty criteria matches every recipient with a non-null
// push subscription.
type TargetCriteria struct {
	UserIDs        []string `json:"user_ids,omitempty"`
	SiteIDs        []string `json:"site_ids,omitempty"`
	Roles          []string `json:"roles,omitempty"`
	OrganizationID string   `json:"organization_id,omitempty"`
}

// NotificationJob is a scheduled notification intended for a criteria-defined
// recipient set. Jobs are created externally in the pending state; the
// pipeline owns all subsequent transitions.
type NotificationJob struct {
	ID          string         `json:"id"`
	Status      JobStatus      `json:"status"`
	Type        string         `json:"notification_type"`
	Payload     JobPayload     `json:"payload"`
	Target      TargetCriteria `json:"target"`
	ScheduledAt time.Time      `json:"scheduled_at"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
	CreatedBy   string         `json:"created_by,omitempty"`
	ErrorDetail string         `json:"error_detail,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Default quiet-hour window boundaries, applied when a recipient has quiet
// hours enabled but no explicit window configured.
const (
	DefaultQuietHoursStart = "22:00"
	DefaultQuietHoursEnd   = "08:00"
)

// NotificationPreferences holds a recipient's delivery preferences.
// Types maps preference keys to an enablement flag; keys absent from the map
// default to enabled.
type NotificationPreferences struct {
	PushEnabled       bool            `json:"push_enabled"`
	Types             map[string]bool `json:"types,omitempty"`
	QuietHoursEnabled bool            `json:"quiet_hours_enabled"`
	QuietHoursStart   string          `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd     string          `json:"quiet_hours_end,omitempty"`
	SoundEnabled      bool            `json:"sound_enabled"`
	ShowPreviews      bool            `json:"show_previews"`
	VibrationEnabled  bool            `json:"vibration_enabled"`
}

// DefaultPreferences returns the preferences applied to recipients that have
// never customized their settings: everything on, quiet hours off.
func DefaultPreferences() NotificationPreferences {
	return NotificationPreferences{
		PushEnabled:      true,
		SoundEnabled:     true,
		ShowPreviews:     true,
		VibrationEnabled: true,
	}
}

// QuietWindow returns the configured quiet-hour boundaries, falling back to
// the documented defaults when either is unset.
func (p NotificationPreferences) QuietWindow() (start, end string) {
	start, end = p.QuietHoursStart, p.QuietHoursEnd
	if start == "" {
		start = DefaultQuietHoursStart
	}
	if end == "" {
		end = DefaultQuietHoursEnd
	}
	return start, end
}

// TypeEnabled reports whether the given preference key is enabled for this
// recipient. Keys absent from the map are enabled.
func (p NotificationPreferences) TypeEnabled(key string) bool {
	enabled, ok := p.Types[key]
	if !ok {
		return true
	}
	return enabled
}

// Recipient is an addressable delivery target. Subscription is the opaque
// push address; nil means undeliverable. The recipient record is owned by an
// external system; this pipeline only reads it and, on stale-subscription
// classification, nulls the subscription.
type Recipient struct {
	ID             string                  `json:"id"`
	Role           string                  `json:"role"`
	SiteID         string                  `json:"site_id,omitempty"`
	OrganizationID string                  `json:"organization_id,omitempty"`
	Subscription   *string                 `json:"push_subscription,omitempty"`
	Preferences    NotificationPreferences `json:"notification_preferences"`
}

// Deliverable reports whether the recipient has a usable push subscription.
func (r *Recipient) Deliverable() bool {
	return r.Subscription != nil && *r.Subscription != ""
}

// DeliveryOutcome is one row of the append-only audit log: the result of a
// single delivery attempt. At most one outcome exists per (job, recipient)
// pair per run; the repository enforces this with a conflict-ignoring insert.
type DeliveryOutcome struct {
	ID          string        `json:"id"`
	JobID       string        `json:"job_id"`
	RecipientID string        `json:"recipient_id"`
	Status      OutcomeStatus `json:"status"`
	ErrorDetail string        `json:"error_detail,omitempty"`
	SentAt      time.Time     `json:"sent_at"`
}
