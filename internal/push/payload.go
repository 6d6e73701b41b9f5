// Package push implements the Push Gateway client and the typed delivery
// payload construction for the pipeline. The gateway wire protocol is opaque
// to the rest of the system; this package owns the one HTTP surface that
// talks to it.
package push

import (
	"pushpipe/internal/types"
)

// Delivery TTLs in seconds, selected by urgency. Critical notifications stay
// queued at the gateway for a full day; routine ones expire after an hour.
const (
	TTLCritical = 86400
	TTLNormal   = 3600
)

// redactedBody replaces the notification body for recipients who disabled
// content previews.
const redactedBody = "You have a new notification"

// DeliveryOptions are the per-send gateway options.
type DeliveryOptions struct {
	Urgency types.Urgency `json:"urgency"`
	TTL     int           `json:"ttl"`
}

// OptionsFor derives gateway options from the job's urgency.
func OptionsFor(urgency types.Urgency) DeliveryOptions {
	ttl := TTLNormal
	if urgency == types.UrgencyCritical {
		ttl = TTLCritical
	}
	return DeliveryOptions{Urgency: urgency, TTL: ttl}
}

// DeliveryPayload is the fully merged, per-recipient notification body sent
// to the gateway.
type DeliveryPayload struct {
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	Type        string         `json:"notification_type"`
	RecipientID string         `json:"recipient_id"`
	JobID       string         `json:"job_id"`
	Silent      bool           `json:"silent,omitempty"`
	Vibrate     []int          `json:"vibrate,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// BuildPayload merges the job's base payload with delivery metadata and the
// recipient's overrides. Precedence: recipient overrides win over job
// defaults.
//
//   - sound_enabled=false marks the payload silent
//   - show_previews=false replaces the body with a generic placeholder
//   - vibration_enabled=false strips the vibration pattern
//
// A "vibrate" entry in the job's structured data is lifted into the typed
// Vibrate field so the override above has a single place to act on.
func BuildPayload(job *types.NotificationJob, rec *types.Recipient) DeliveryPayload {
	p := DeliveryPayload{
		Title:       job.Payload.Title,
		Body:        job.Payload.Body,
		Type:        job.Type,
		RecipientID: rec.ID,
		JobID:       job.ID,
	}

	if len(job.Payload.Data) > 0 {
		p.Data = make(map[string]any, len(job.Payload.Data))
		for k, v := range job.Payload.Data {
			p.Data[k] = v
		}
		p.Vibrate = liftVibration(p.Data)
	}

	prefs := rec.Preferences
	if !prefs.SoundEnabled {
		p.Silent = true
	}
	if !prefs.ShowPreviews {
		p.Body = redactedBody
	}
	if !prefs.VibrationEnabled {
		p.Vibrate = nil
	}

	return p
}

// liftVibration extracts a "vibrate" pattern from the structured data, if one
// is present, and removes the raw entry. JSON-decoded numbers arrive as
// float64; integer slices are accepted for callers constructing jobs in Go.
func liftVibration(data map[string]any) []int {
	raw, ok := data["vibrate"]
	if !ok {
		return nil
	}
	delete(data, "vibrate")

	switch v := raw.(type) {
	case []int:
		return v
	case []any:
		pattern := make([]int, 0, len(v))
		for _, item := range v {
			switch n := item.(type) {
			case float64:
				pattern = append(pattern, int(n))
			case int:
				pattern = append(pattern, n)
			default:
				return nil
			}
		}
		return pattern
	default:
		return nil
	}
}
