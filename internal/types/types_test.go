package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMessage() GreeterMessage {
	return GreeterMessage{
		ID:              "u-ada",
		PK:              "USER#u-ada",
		SK:              "EVENT#birthday",
		FirstName:       "Ada",
		LastName:        "Lovelace",
		Timezone:        "UTC",
		EventType:       EventBirthday,
		EventDate:       "1990-06-15",
		NotifyLocalTime: "09:00",
		YearNow:         2026,
	}
}

func TestGreeterMessage_Keys(t *testing.T) {
	msg := validMessage()
	assert.Equal(t, "birthday", msg.GroupID())
	assert.Equal(t, "u-ada-birthday-2026", msg.DedupID())
}

func TestGreeterMessage_GreetingBody(t *testing.T) {
	msg := validMessage()
	assert.Equal(t, "Hey Ada Lovelace, it's your birthday!", msg.GreetingBody())

	msg.EventType = EventAnniversary
	assert.Equal(t, "Hey Ada Lovelace, it's your anniversary!", msg.GreetingBody())
}

func TestGreeterMessage_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*GreeterMessage)
		wantErr bool
	}{
		{"valid", func(*GreeterMessage) {}, false},
		{"missing id", func(m *GreeterMessage) { m.ID = "" }, true},
		{"missing pk", func(m *GreeterMessage) { m.PK = "" }, true},
		{"unknown event type", func(m *GreeterMessage) { m.EventType = "graduation" }, true},
		{"bad date", func(m *GreeterMessage) { m.EventDate = "June 15" }, true},
		{"bad local time", func(m *GreeterMessage) { m.NotifyLocalTime = "9am" }, true},
		{"zero year", func(m *GreeterMessage) { m.YearNow = 0 }, true},
		{"midnight local time", func(m *GreeterMessage) { m.NotifyLocalTime = "00:00" }, false},
		{"end of day local time", func(m *GreeterMessage) { m.NotifyLocalTime = "23:59" }, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg := validMessage()
			tc.mutate(&msg)
			err := msg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEvent_CompletedForYear(t *testing.T) {
	e := Event{LastSentYear: 2026, SendingStatus: StatusCompleted}
	assert.True(t, e.CompletedForYear(2026))
	assert.True(t, e.CompletedForYear(2025))
	assert.False(t, e.CompletedForYear(2027))

	// The year alone is not enough: failed attempts also advance it.
	e = Event{LastSentYear: 2026, SendingStatus: StatusFailed}
	assert.False(t, e.CompletedForYear(2026))

	e = Event{SendingStatus: StatusCompleted}
	assert.False(t, e.CompletedForYear(2026))
}

func TestEvent_EffectiveStatus(t *testing.T) {
	assert.Equal(t, StatusPending, Event{}.EffectiveStatus())
	assert.Equal(t, StatusSending, Event{SendingStatus: StatusSending}.EffectiveStatus())
}

func TestEvent_MonthDay(t *testing.T) {
	e := Event{Date: "1992-02-29"}
	month, day, err := e.MonthDay()
	require.NoError(t, err)
	assert.Equal(t, 2, int(month))
	assert.Equal(t, 29, day)

	e = Event{Date: "not-a-date"}
	_, _, err = e.MonthDay()
	assert.Error(t, err)
}

func TestRetriable(t *testing.T) {
	base := errors.New("throttled")
	wrapped := Retriable(base)

	assert.True(t, IsRetriable(wrapped))
	assert.True(t, IsRetriable(fmt.Errorf("outer: %w", wrapped)))
	assert.False(t, IsRetriable(base))
	assert.False(t, IsRetriable(nil))
	assert.ErrorIs(t, wrapped, base)
	assert.Nil(t, Retriable(nil))
}
