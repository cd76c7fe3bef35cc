package sender

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greeter/internal/store"
	"greeter/internal/types"
)

var senderNow = time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)

// --- Stateful fake store ---

// fakeStore mimics the conditional-write semantics of the real gateway
// against a single in-memory event record.
type fakeStore struct {
	event *types.Event // nil = record missing

	getErr        error
	claimErr      error
	forceLostRace bool
	completeErr error
	failErr   error

	claimCalls    int
	failedReasons []string
}

func (f *fakeStore) GetEvent(_ context.Context, _ string, _ types.EventType) (*types.Event, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.event == nil {
		return nil, types.ErrEventNotFound
	}
	copied := *f.event
	return &copied, nil
}

func (f *fakeStore) ClaimForYear(_ context.Context, _ string, _ types.EventType, currentLastSentYear, currentYear int, newNotifyUTC, now time.Time) (store.ClaimResult, error) {
	f.claimCalls++
	if f.claimErr != nil {
		return "", f.claimErr
	}
	if f.forceLostRace {
		return store.ClaimLostRace, nil
	}
	if f.event == nil {
		return store.ClaimLostRace, nil
	}
	if f.event.LastSentYear != currentLastSentYear {
		return store.ClaimLostRace, nil
	}
	if f.event.SendingStatus == types.StatusSending || f.event.SendingStatus == types.StatusCompleted {
		return store.ClaimLostRace, nil
	}
	f.event.SendingStatus = types.StatusSending
	f.event.SendingAttemptedAt = &now
	f.event.LastSentYear = currentYear
	f.event.NotifyUTC = newNotifyUTC
	f.event.FailureReason = ""
	f.event.MarkedFailedAt = nil
	return store.ClaimAcquired, nil
}

func (f *fakeStore) MarkCompleted(_ context.Context, _ string, _ types.EventType, responseCode int, now time.Time) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	f.event.SendingStatus = types.StatusCompleted
	f.event.SendingCompletedAt = &now
	f.event.WebhookResponseCode = responseCode
	f.event.WebhookDeliveredAt = &now
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, _ string, _ types.EventType, reason string, now time.Time) error {
	f.failedReasons = append(f.failedReasons, reason)
	if f.failErr != nil {
		return f.failErr
	}
	if f.event != nil {
		f.event.SendingStatus = types.StatusFailed
		f.event.MarkedFailedAt = &now
		f.event.FailureReason = reason
	}
	return nil
}

// --- Fake webhook ---

type fakeWebhook struct {
	statuses []int // per-call status codes; exhausted = 200
	err      error

	messages []string
	keys     []string
}

func (f *fakeWebhook) SendGreeting(_ context.Context, message, idempotencyKey string) (int, error) {
	f.messages = append(f.messages, message)
	f.keys = append(f.keys, idempotencyKey)
	if f.err != nil {
		return 0, f.err
	}
	call := len(f.messages) - 1
	if call < len(f.statuses) {
		code := f.statuses[call]
		if code != http.StatusOK {
			return code, errors.New("non-200 response")
		}
		return code, nil
	}
	return http.StatusOK, nil
}

// --- Helpers ---

func adaMessage() types.GreeterMessage {
	return types.GreeterMessage{
		ID:              "u-ada",
		PK:              "USER#u-ada",
		SK:              "EVENT#birthday",
		FirstName:       "Ada",
		LastName:        "Lovelace",
		Timezone:        "UTC",
		EventType:       types.EventBirthday,
		EventDate:       "1990-06-15",
		NotifyLocalTime: "09:00",
		LastSentYear:    0,
		YearNow:         2026,
	}
}

func pendingEvent() *types.Event {
	return &types.Event{
		UserID:          "u-ada",
		Type:            types.EventBirthday,
		Date:            "1990-06-15",
		NotifyLocalTime: "09:00",
		NotifyUTC:       senderNow,
	}
}

func newTestSender(st *fakeStore, wh *fakeWebhook) *Sender {
	return New(Config{
		Store:   st,
		Webhook: wh,
		Clock:   types.FixedClock{T: senderNow},
	})
}

// --- Tests ---

func TestProcess_HappyPath(t *testing.T) {
	st := &fakeStore{event: pendingEvent()}
	wh := &fakeWebhook{}

	outcome, err := newTestSender(st, wh).Process(context.Background(), adaMessage())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, outcome)

	// One webhook call with the greeting body and idempotency key.
	require.Len(t, wh.messages, 1)
	assert.Equal(t, "Hey Ada Lovelace, it's your birthday!", wh.messages[0])
	assert.Equal(t, "u-ada-birthday-2026", wh.keys[0])

	// Record reflects the completed year and the advanced fire instant.
	assert.Equal(t, types.StatusCompleted, st.event.SendingStatus)
	assert.Equal(t, 2026, st.event.LastSentYear)
	assert.Equal(t, 200, st.event.WebhookResponseCode)
	assert.Equal(t,
		time.Date(2027, 6, 15, 9, 0, 0, 0, time.UTC),
		st.event.NotifyUTC,
	)
}

func TestProcess_TwiceSendsOneWebhook(t *testing.T) {
	st := &fakeStore{event: pendingEvent()}
	wh := &fakeWebhook{}
	s := newTestSender(st, wh)
	msg := adaMessage()

	outcome, err := s.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, outcome)

	outcome, err = s.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	assert.Len(t, wh.messages, 1)
	assert.Equal(t, types.StatusCompleted, st.event.SendingStatus)
}

func TestProcess_MissingEventDropped(t *testing.T) {
	st := &fakeStore{event: nil}
	wh := &fakeWebhook{}

	outcome, err := newTestSender(st, wh).Process(context.Background(), adaMessage())
	require.NoError(t, err)
	assert.Equal(t, OutcomeMissingEvent, outcome)
	assert.Empty(t, wh.messages)
}

func TestProcess_LoadFailureIsRetriable(t *testing.T) {
	st := &fakeStore{getErr: errors.New("throttled")}
	wh := &fakeWebhook{}

	_, err := newTestSender(st, wh).Process(context.Background(), adaMessage())
	require.Error(t, err)
	assert.True(t, types.IsRetriable(err))
	assert.Empty(t, wh.messages)
}

func TestProcess_FreshClaimDropped(t *testing.T) {
	attempted := senderNow.Add(-2 * time.Minute)
	e := pendingEvent()
	e.SendingStatus = types.StatusSending
	e.SendingAttemptedAt = &attempted
	e.LastSentYear = 2026
	st := &fakeStore{event: e}
	wh := &fakeWebhook{}

	outcome, err := newTestSender(st, wh).Process(context.Background(), adaMessage())
	require.NoError(t, err)
	assert.Equal(t, OutcomeInFlight, outcome)
	assert.Empty(t, wh.messages)
	assert.Zero(t, st.claimCalls)
}

func TestProcess_StaleClaimPromotedAndReclaimed(t *testing.T) {
	// Crash recovery: a worker died six minutes ago between phases 1 and 3.
	attempted := senderNow.Add(-6 * time.Minute)
	e := pendingEvent()
	e.SendingStatus = types.StatusSending
	e.SendingAttemptedAt = &attempted
	e.LastSentYear = 2026 // advanced by the dead worker's claim
	st := &fakeStore{event: e}
	wh := &fakeWebhook{}

	msg := adaMessage()
	msg.LastSentYear = 2026

	outcome, err := newTestSender(st, wh).Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, outcome)

	require.NotEmpty(t, st.failedReasons)
	assert.Equal(t, stuckReason, st.failedReasons[0])
	assert.Len(t, wh.messages, 1)
	assert.Equal(t, types.StatusCompleted, st.event.SendingStatus)
}

func TestProcess_LostRaceDropped(t *testing.T) {
	// Another worker wins the CAS between the read and the claim.
	st := &fakeStore{event: pendingEvent(), forceLostRace: true}
	wh := &fakeWebhook{}

	outcome, err := newTestSender(st, wh).Process(context.Background(), adaMessage())
	require.NoError(t, err)
	assert.Equal(t, OutcomeLostRace, outcome)
	assert.Empty(t, wh.messages, "losing the race must not send")
}

func TestProcess_WebhookFailureMarksFailedAndRetries(t *testing.T) {
	st := &fakeStore{event: pendingEvent()}
	wh := &fakeWebhook{statuses: []int{http.StatusServiceUnavailable}}

	_, err := newTestSender(st, wh).Process(context.Background(), adaMessage())
	require.Error(t, err)
	assert.True(t, types.IsRetriable(err))

	// The claim already advanced the year; the failure is recorded.
	assert.Equal(t, types.StatusFailed, st.event.SendingStatus)
	assert.Equal(t, 2026, st.event.LastSentYear)
	require.Len(t, st.failedReasons, 1)
	assert.Contains(t, st.failedReasons[0], "503")
}

func TestProcess_FailedRecordIsReclaimable(t *testing.T) {
	// DLQ recovery: the record failed in a previous attempt for this year
	// (last_sent_year already advanced). The redriven message must re-claim
	// and deliver exactly once.
	e := pendingEvent()
	e.LastSentYear = 2026
	e.SendingStatus = types.StatusFailed
	e.FailureReason = "webhook delivery failed with status 503"
	st := &fakeStore{event: e}
	wh := &fakeWebhook{}

	// The message still carries the pre-claim year; the claim is anchored on
	// the freshly loaded record, so the stale message state is irrelevant.
	msg := adaMessage()

	outcome, err := newTestSender(st, wh).Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, outcome)
	assert.Len(t, wh.messages, 1)
	assert.Equal(t, types.StatusCompleted, st.event.SendingStatus)
	assert.Equal(t, "u-ada-birthday-2026", wh.keys[0])
	assert.Equal(t, 200, st.event.WebhookResponseCode)
}

func TestProcess_Phase3FailureDoesNotRetry(t *testing.T) {
	st := &fakeStore{event: pendingEvent(), completeErr: errors.New("store down")}
	wh := &fakeWebhook{}

	outcome, err := newTestSender(st, wh).Process(context.Background(), adaMessage())
	require.NoError(t, err, "delivery already happened; redelivering would double-send")
	assert.Equal(t, OutcomeDelivered, outcome)
	assert.Len(t, wh.messages, 1)
	// Record is left in sending; the health monitor reconciles it.
	assert.Equal(t, types.StatusSending, st.event.SendingStatus)
	assert.Equal(t, 2026, st.event.LastSentYear)
}

func TestProcess_InvalidMessageDropped(t *testing.T) {
	st := &fakeStore{event: pendingEvent()}
	wh := &fakeWebhook{}

	msg := adaMessage()
	msg.EventType = "graduation" // outside the closed enumeration

	outcome, err := newTestSender(st, wh).Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalid, outcome)
	assert.Empty(t, wh.messages)
}

func TestProcess_InvalidTimezoneDropped(t *testing.T) {
	st := &fakeStore{event: pendingEvent()}
	wh := &fakeWebhook{}

	msg := adaMessage()
	msg.Timezone = "Mars/Olympus_Mons"

	outcome, err := newTestSender(st, wh).Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalid, outcome)
	assert.Empty(t, wh.messages)
	require.Len(t, st.failedReasons, 1)
	assert.Contains(t, st.failedReasons[0], "unresolvable schedule")
}

func TestProcess_ClaimTransientFailureIsRetriable(t *testing.T) {
	st := &fakeStore{event: pendingEvent(), claimErr: errors.New("throttled")}
	wh := &fakeWebhook{}

	_, err := newTestSender(st, wh).Process(context.Background(), adaMessage())
	require.Error(t, err)
	assert.True(t, types.IsRetriable(err))
	assert.Empty(t, wh.messages, "no webhook call without a claim")
}
