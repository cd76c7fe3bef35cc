// Package types defines the domain entities, queue message envelopes, error
// taxonomy, and shared interfaces for the greeter platform.
package types

import (
	"fmt"
	"time"
)

// NotifyTimeLayout is the canonical wire format for notify_utc values:
// ISO-8601 UTC with millisecond precision. All store writes and queue
// payloads use this layout so that the GSI range key sorts lexicographically
// in chronological order.
const NotifyTimeLayout = "2006-01-02T15:04:05.000Z"

// EventType identifies a kind of yearly recurring event. The set is closed;
// unknown values are rejected at message validation time.
type EventType string

const (
	EventBirthday    EventType = "birthday"
	EventAnniversary EventType = "anniversary"
)

// ValidEventTypes is the exhaustive set of supported event types.
var ValidEventTypes = map[EventType]bool{
	EventBirthday:    true,
	EventAnniversary: true,
}

// SendingStatus tracks the per-year delivery lifecycle of an event record.
// The empty string is equivalent to StatusPending (the attribute is omitted
// on records that have never been claimed).
type SendingStatus string

const (
	StatusPending   SendingStatus = "pending"
	StatusSending   SendingStatus = "sending"
	StatusCompleted SendingStatus = "completed"
	StatusFailed    SendingStatus = "failed"
)

// User is the owner record for one or more events. One per user_id.
type User struct {
	UserID    string    `dynamodbav:"user_id" json:"user_id"`
	FirstName string    `dynamodbav:"first_name" json:"first_name"`
	LastName  string    `dynamodbav:"last_name" json:"last_name"`
	Timezone  string    `dynamodbav:"timezone" json:"timezone"`
	CreatedAt time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// FullName returns the display name used in outbound greeting bodies.
func (u User) FullName() string {
	return fmt.Sprintf("%s %s", u.FirstName, u.LastName)
}

// Event is a yearly recurring notification target, identified by
// (user_id, event type). The Date's year component is historical and ignored
// for scheduling; only month/day matter.
//
// Optional lifecycle attributes are pointers or zero-defaulted values the
// store omits entirely when unset, never persisting NULL placeholders.
type Event struct {
	UserID          string    `json:"user_id"`
	Type            EventType `json:"event_type"`
	Date            string    `json:"date"`              // YYYY-MM-DD
	NotifyLocalTime string    `json:"notify_local_time"` // HH:MM, 24h
	Label           string    `json:"label,omitempty"`

	// NotifyUTC is the next absolute instant this event should fire,
	// maintained by the claim protocol (advanced one year on each claim).
	NotifyUTC time.Time `json:"notify_utc"`

	// LastSentYear is the calendar year of the most recent claim. The claim
	// writes it before delivery, so it also advances on attempts that later
	// fail. Zero means never claimed.
	LastSentYear int `json:"last_sent_year,omitempty"`

	SendingStatus      SendingStatus `json:"sending_status,omitempty"`
	SendingAttemptedAt *time.Time    `json:"sending_attempted_at,omitempty"`
	SendingCompletedAt *time.Time    `json:"sending_completed_at,omitempty"`
	MarkedFailedAt     *time.Time    `json:"marked_failed_at,omitempty"`
	FailureReason      string        `json:"failure_reason,omitempty"`

	// Delivery proof, written by MarkCompleted.
	WebhookResponseCode int        `json:"webhook_response_code,omitempty"`
	WebhookDeliveredAt  *time.Time `json:"webhook_delivered_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveStatus resolves the absent-means-pending convention.
func (e Event) EffectiveStatus() SendingStatus {
	if e.SendingStatus == "" {
		return StatusPending
	}
	return e.SendingStatus
}

// CompletedForYear reports whether this event already has a completed delivery
// for the given year. Both clauses are required: a record can carry
// last_sent_year >= year with status=failed after a Phase-2 webhook failure,
// and that record must remain eligible for re-claim.
func (e Event) CompletedForYear(year int) bool {
	return e.LastSentYear >= year && e.SendingStatus == StatusCompleted
}

// MonthDay extracts the scheduling-relevant components of the anniversary
// date. The stored year is historical and discarded.
func (e Event) MonthDay() (time.Month, int, error) {
	t, err := time.Parse("2006-01-02", e.Date)
	if err != nil {
		return 0, 0, fmt.Errorf("event date %q: %w", e.Date, err)
	}
	return t.Month(), t.Day(), nil
}
