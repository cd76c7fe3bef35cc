package types

import (
	"fmt"
	"time"
)

// GreeterMessage is the SQS payload produced by the scheduler sweep and
// consumed by the sender. It is a self-contained snapshot: the sender can
// build the greeting and recompute next-fire instants from the message alone,
// re-reading the store only for the claim protocol. JSON tags use camelCase
// to match the wire contract shared with the webhook receiver tooling.
type GreeterMessage struct {
	// Core identity
	ID string `json:"id"` // user_id
	PK string `json:"pk"` // USER#<id>
	SK string `json:"sk"` // EVENT#<type>

	// User snapshot for greeting content
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Timezone  string `json:"timezone"`

	// Event snapshot
	EventType       EventType `json:"eventType"`
	EventDate       string    `json:"eventDate"`       // YYYY-MM-DD
	NotifyLocalTime string    `json:"notifyLocalTime"` // HH:MM

	// Claim state: LastSentYear as observed by the sweep, and the calendar
	// year the sweep ran in. YearNow anchors the dedup key and the claim.
	LastSentYear int `json:"lastSentYear"`
	YearNow      int `json:"yearNow"`
}

// GroupID returns the FIFO message group key. Grouping by event type keeps
// per-type ordering at the transport without serializing unrelated events.
func (m GreeterMessage) GroupID() string {
	return string(m.EventType)
}

// DedupID returns the content deduplication key {user_id}-{event_type}-{year}.
// The same string doubles as the webhook Idempotency-Key, so the transport
// window and the receiver collapse duplicates on the same identity.
func (m GreeterMessage) DedupID() string {
	return fmt.Sprintf("%s-%s-%d", m.ID, m.EventType, m.YearNow)
}

// Validate rejects malformed messages before any store or webhook I/O.
// A message that fails validation is dropped permanently by the sender.
func (m GreeterMessage) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("greeter message: missing id")
	}
	if m.PK == "" || m.SK == "" {
		return fmt.Errorf("greeter message: missing pk/sk")
	}
	if !ValidEventTypes[m.EventType] {
		return fmt.Errorf("greeter message: unknown event type %q", m.EventType)
	}
	if _, err := time.Parse("2006-01-02", m.EventDate); err != nil {
		return fmt.Errorf("greeter message: invalid event date %q: %w", m.EventDate, err)
	}
	if _, err := time.Parse("15:04", m.NotifyLocalTime); err != nil {
		return fmt.Errorf("greeter message: invalid notify local time %q: %w", m.NotifyLocalTime, err)
	}
	if m.YearNow <= 0 {
		return fmt.Errorf("greeter message: invalid yearNow %d", m.YearNow)
	}
	return nil
}

// GreetingBody renders the outbound webhook message text.
func (m GreeterMessage) GreetingBody() string {
	return fmt.Sprintf("Hey %s %s, it's your %s!", m.FirstName, m.LastName, m.EventType)
}
