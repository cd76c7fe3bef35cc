package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greeter/internal/types"
)

var monitorNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

// --- Fake store ---

type markFailedCall struct {
	userID    string
	eventType types.EventType
	reason    string
}

type fakeMonitorStore struct {
	rangeEvents []*types.Event
	rangeErr    error
	stuckEvents []*types.Event
	stuckErr    error

	markFailed    []markFailedCall
	markFailedErr error
}

func (f *fakeMonitorStore) QueryByNotifyRange(_ context.Context, _, _ time.Time) ([]*types.Event, error) {
	return f.rangeEvents, f.rangeErr
}

func (f *fakeMonitorStore) QueryBySendingStatus(_ context.Context, _ types.SendingStatus) ([]*types.Event, error) {
	return f.stuckEvents, f.stuckErr
}

func (f *fakeMonitorStore) MarkFailed(_ context.Context, userID string, eventType types.EventType, reason string, _ time.Time) error {
	f.markFailed = append(f.markFailed, markFailedCall{userID: userID, eventType: eventType, reason: reason})
	return f.markFailedErr
}

func newTestMonitor(st *fakeMonitorStore) *Monitor {
	return New(Config{
		Store: st,
		Clock: types.FixedClock{T: monitorNow},
	})
}

func overdueEvent(userID string, overdueBy time.Duration, lastSentYear int, status types.SendingStatus) *types.Event {
	return &types.Event{
		UserID:          userID,
		Type:            types.EventBirthday,
		Date:            "1990-06-15",
		NotifyLocalTime: "09:00",
		NotifyUTC:       monitorNow.Add(-overdueBy),
		LastSentYear:    lastSentYear,
		SendingStatus:   status,
	}
}

func stuckEvent(userID string, heldFor time.Duration) *types.Event {
	attempted := monitorNow.Add(-heldFor)
	return &types.Event{
		UserID:             userID,
		Type:               types.EventAnniversary,
		SendingStatus:      types.StatusSending,
		SendingAttemptedAt: &attempted,
	}
}

// --- Tests ---

func TestRun_HealthyWhenNoIssues(t *testing.T) {
	st := &fakeMonitorStore{}

	report, err := newTestMonitor(st).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Zero(t, report.MissedCount)
	assert.Zero(t, report.StuckCount)
	assert.Equal(t, monitorNow, report.Timestamp)
}

func TestRun_MissedEventsReported(t *testing.T) {
	st := &fakeMonitorStore{rangeEvents: []*types.Event{
		overdueEvent("u-1", 3*time.Hour, 0, ""),
		overdueEvent("u-2", 30*time.Minute, 2025, types.StatusFailed),
		// Completed this year: not missed.
		overdueEvent("u-3", 2*time.Hour, 2026, types.StatusCompleted),
		// Claimed this year, still sending: owned by the stuck check.
		overdueEvent("u-4", 2*time.Hour, 2026, types.StatusSending),
	}}

	report, err := newTestMonitor(st).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.MissedCount)
	assert.Equal(t, StatusWarning, report.Status)

	assert.Equal(t, "u-1", report.Missed[0].UserID)
	assert.InDelta(t, 3.0, report.Missed[0].HoursOverdue, 0.01)
	assert.Equal(t, types.StatusPending, report.Missed[0].Status)
	assert.InDelta(t, 0.5, report.Missed[1].HoursOverdue, 0.01)
}

func TestRun_StuckEventPromotedAfterTimeout(t *testing.T) {
	st := &fakeMonitorStore{stuckEvents: []*types.Event{
		stuckEvent("u-slow", 12*time.Minute),
		stuckEvent("u-fresh", 4*time.Minute),
	}}

	report, err := newTestMonitor(st).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.StuckCount)

	byUser := map[string]StuckEvent{}
	for _, s := range report.Stuck {
		byUser[s.UserID] = s
	}
	assert.Equal(t, ActionMarkedFailedForRetry, byUser["u-slow"].Action)
	assert.Equal(t, ActionMonitoring, byUser["u-fresh"].Action)

	require.Len(t, st.markFailed, 1)
	assert.Equal(t, "u-slow", st.markFailed[0].userID)
	assert.Equal(t, "Stuck in sending state detected by health check", st.markFailed[0].reason)
}

func TestRun_StuckWithoutAttemptTimestampIgnored(t *testing.T) {
	st := &fakeMonitorStore{stuckEvents: []*types.Event{
		{UserID: "u-odd", Type: types.EventBirthday, SendingStatus: types.StatusSending},
	}}

	report, err := newTestMonitor(st).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.StuckCount)
	assert.Empty(t, st.markFailed)
}

func TestRun_PromotionFailureKeepsMonitoringAction(t *testing.T) {
	st := &fakeMonitorStore{
		stuckEvents:   []*types.Event{stuckEvent("u-slow", 15 * time.Minute)},
		markFailedErr: errors.New("store down"),
	}

	report, err := newTestMonitor(st).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.StuckCount)
	assert.Equal(t, ActionMonitoring, report.Stuck[0].Action)
}

func TestRun_CriticalAtFiveIssues(t *testing.T) {
	st := &fakeMonitorStore{
		rangeEvents: []*types.Event{
			overdueEvent("u-1", time.Hour, 0, ""),
			overdueEvent("u-2", time.Hour, 0, ""),
			overdueEvent("u-3", time.Hour, 0, ""),
		},
		stuckEvents: []*types.Event{
			stuckEvent("u-4", 20*time.Minute),
			stuckEvent("u-5", 20*time.Minute),
		},
	}

	report, err := newTestMonitor(st).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCritical, report.Status)
	assert.Equal(t, 3, report.MissedCount)
	assert.Equal(t, 2, report.StuckCount)
}

func TestRun_QueryFailurePropagates(t *testing.T) {
	st := &fakeMonitorStore{rangeErr: errors.New("index unavailable")}

	_, err := newTestMonitor(st).Run(context.Background())
	assert.Error(t, err)

	st = &fakeMonitorStore{stuckErr: errors.New("scan failed")}
	_, err = newTestMonitor(st).Run(context.Background())
	assert.Error(t, err)
}
