package pipeline

import (
	"fmt"
	"time"

	"pushpipe/internal/types"
)

// typePreferenceKeys maps notification types to the preference key recipients
// toggle. Types absent from this table are always allowed through; the table
// is deliberately explicit rather than derived from the type string.
var typePreferenceKeys = map[string]string{
	"document_uploaded":        "documents",
	"material_request_created": "materials",
	"material_low_stock":       "materials",
	"site_assignment":          "sites",
	"incident_reported":        "incidents",
	"schedule_changed":         "schedule",
}

// PreferenceFilter reduces a candidate recipient set to the eligible set
// using enablement flags, per-type preferences, and quiet-hour suppression.
//
// Quiet hours are evaluated in a single configured location. Recipients carry
// no timezone of their own, so this is a documented pipeline-wide choice, not
// an implicit host-clock dependency.
type PreferenceFilter struct {
	clock  types.Clock
	loc    *time.Location
	logger types.Logger
}

// NewPreferenceFilter creates a filter evaluating quiet hours at clock.Now()
// in the given location. A nil location defaults to UTC.
func NewPreferenceFilter(clock types.Clock, loc *time.Location, logger types.Logger) *PreferenceFilter {
	if loc == nil {
		loc = time.UTC
	}
	return &PreferenceFilter{clock: clock, loc: loc, logger: logger}
}

// Eligible returns the subset of candidates that pass every check for the
// given job. Checks apply in order; a candidate is excluded as soon as one
// fails:
//
//  1. push_enabled must be true
//  2. the job's type, mapped through typePreferenceKeys, must not be disabled
//  3. quiet hours must not suppress (skipped entirely for critical urgency)
func (f *PreferenceFilter) Eligible(job *types.NotificationJob, candidates []*types.Recipient) []*types.Recipient {
	eligible := make([]*types.Recipient, 0, len(candidates))
	for _, rec := range candidates {
		if f.allows(job, rec) {
			eligible = append(eligible, rec)
		}
	}
	return eligible
}

// allows applies the per-recipient checks.
func (f *PreferenceFilter) allows(job *types.NotificationJob, rec *types.Recipient) bool {
	prefs := rec.Preferences

	if !prefs.PushEnabled {
		return false
	}

	if key, mapped := typePreferenceKeys[job.Type]; mapped && !prefs.TypeEnabled(key) {
		return false
	}

	// Critical urgency bypasses quiet hours unconditionally.
	if job.Payload.EffectiveUrgency() == types.UrgencyCritical {
		return true
	}
	if !prefs.QuietHoursEnabled {
		return true
	}

	suppressed, err := f.inQuietHours(prefs)
	if err != nil {
		// Fail open: a malformed window must not silently drop deliveries.
		f.logger.Error("quiet hours evaluation failed, delivering anyway",
			"recipient_id", rec.ID,
			"error", err.Error(),
		)
		return true
	}
	return !suppressed
}

// inQuietHours reports whether the current wall-clock time in the configured
// location falls inside the recipient's quiet window. Both boundaries are
// inclusive. A window whose start exceeds its end crosses midnight.
func (f *PreferenceFilter) inQuietHours(prefs types.NotificationPreferences) (bool, error) {
	now := f.clock.Now().In(f.loc)
	current := now.Hour()*60 + now.Minute()

	startStr, endStr := prefs.QuietWindow()
	start, err := parseMinuteOfDay(startStr)
	if err != nil {
		return false, fmt.Errorf("invalid quiet_hours_start %q: %w", startStr, err)
	}
	end, err := parseMinuteOfDay(endStr)
	if err != nil {
		return false, fmt.Errorf("invalid quiet_hours_end %q: %w", endStr, err)
	}

	if start > end {
		// Overnight window (e.g. 22:00-08:00).
		return current >= start || current <= end, nil
	}
	return start <= current && current <= end, nil
}

// parseMinuteOfDay parses an "HH:MM" string into minutes since midnight.
func parseMinuteOfDay(s string) (int, error) {
	var h, m int
	n, err := fmt.Sscanf(s, "%d:%d", &h, &m)
	if err != nil || n != 2 {
		return 0, fmt.Errorf("expected HH:MM format, got %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time out of range: %q", s)
	}
	return h*60 + m, nil
}
