// Package monitor implements the periodic health report over the event
// store: missed deliveries in the trailing day, and events stuck in the
// sending state whose worker died.
//
// The monitor's stuck timeout is strictly longer than the sender's, so the
// sender's own redelivery recovery always gets the first chance and the two
// never race each other's promotions.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"greeter/internal/metrics"
	"greeter/internal/types"
)

// StuckTimeout is how long an event may hold the sending state before the
// monitor promotes it to failed for retry.
const StuckTimeout = 10 * time.Minute

// missedWindow is how far back the missed-events check looks.
const missedWindow = 24 * time.Hour

// stuckReason is recorded when the monitor promotes a stuck event.
const stuckReason = "Stuck in sending state detected by health check"

// Report status values.
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// criticalThreshold is the issue count at which the report turns critical.
const criticalThreshold = 5

// Stuck-event actions.
const (
	ActionMarkedFailedForRetry = "marked_failed_for_retry"
	ActionMonitoring           = "monitoring"
)

// MonitorStore defines the store operations the monitor needs.
type MonitorStore interface {
	QueryByNotifyRange(ctx context.Context, fromUTC, toUTC time.Time) ([]*types.Event, error)
	QueryBySendingStatus(ctx context.Context, status types.SendingStatus) ([]*types.Event, error)
	MarkFailed(ctx context.Context, userID string, eventType types.EventType, reason string, now time.Time) error
}

// MissedEvent describes an event whose fire instant passed without a
// completed delivery.
type MissedEvent struct {
	UserID       string          `json:"user_id"`
	EventType    types.EventType `json:"event_type"`
	NotifyUTC    time.Time       `json:"notify_utc"`
	HoursOverdue float64         `json:"hours_overdue"`
	LastSentYear int             `json:"last_sent_year"`
	Status       types.SendingStatus `json:"sending_status"`
}

// StuckEvent describes an event holding the sending state.
type StuckEvent struct {
	UserID         string          `json:"user_id"`
	EventType      types.EventType `json:"event_type"`
	AttemptedAt    time.Time       `json:"sending_attempted_at"`
	ElapsedMinutes float64         `json:"elapsed_minutes"`
	Action         string          `json:"action"`
}

// Report is the output of one monitor run.
type Report struct {
	Status      string       `json:"status"`
	MissedCount int          `json:"missed_count"`
	StuckCount  int          `json:"stuck_count"`
	Missed      []MissedEvent `json:"missed"`
	Stuck       []StuckEvent  `json:"stuck"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Monitor produces health reports and unsticks long-stuck events.
type Monitor struct {
	store   MonitorStore
	clock   types.Clock
	metrics metrics.Recorder
	logger  *slog.Logger
}

// Config holds the dependencies for creating a Monitor.
type Config struct {
	Store   MonitorStore
	Clock   types.Clock
	Metrics metrics.Recorder
	Logger  *slog.Logger
}

// New creates a Monitor with the given dependencies.
func New(cfg Config) *Monitor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.NopRecorder{}
	}
	return &Monitor{
		store:   cfg.Store,
		clock:   clock,
		metrics: rec,
		logger:  logger,
	}
}

// Run executes both checks and assembles the report. The checks are
// independent reads over different access paths and run concurrently.
func (m *Monitor) Run(ctx context.Context) (*Report, error) {
	now := m.clock.Now().UTC()
	currentYear := now.Year()

	var missed []MissedEvent
	var stuck []StuckEvent

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		missed, err = m.checkMissed(gctx, now, currentYear)
		return err
	})
	g.Go(func() error {
		var err error
		stuck, err = m.checkStuck(gctx, now)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{
		Status:      classify(len(missed) + len(stuck)),
		MissedCount: len(missed),
		StuckCount:  len(stuck),
		Missed:      missed,
		Stuck:       stuck,
		Timestamp:   now,
	}

	m.logger.InfoContext(ctx, "health report",
		"status", report.Status,
		"missed_count", report.MissedCount,
		"stuck_count", report.StuckCount,
	)

	m.metrics.Count(ctx, metrics.MetricMonitorMissed, float64(report.MissedCount), nil)
	m.metrics.Count(ctx, metrics.MetricMonitorStuck, float64(report.StuckCount), nil)
	return report, nil
}

// checkMissed finds events whose fire instant fell in the trailing window
// without a completed delivery this year.
func (m *Monitor) checkMissed(ctx context.Context, now time.Time, currentYear int) ([]MissedEvent, error) {
	events, err := m.store.QueryByNotifyRange(ctx, now.Add(-missedWindow), now)
	if err != nil {
		return nil, fmt.Errorf("monitor: missed-events query: %w", err)
	}

	var missed []MissedEvent
	for _, e := range events {
		if e.SendingStatus == types.StatusCompleted {
			continue
		}
		if e.LastSentYear >= currentYear {
			// Claimed this year but not completed (sending or failed); not
			// reported as missed. Sending records are covered by the stuck check.
			continue
		}
		missed = append(missed, MissedEvent{
			UserID:       e.UserID,
			EventType:    e.Type,
			NotifyUTC:    e.NotifyUTC,
			HoursOverdue: now.Sub(e.NotifyUTC).Hours(),
			LastSentYear: e.LastSentYear,
			Status:       e.EffectiveStatus(),
		})
	}
	return missed, nil
}

// checkStuck finds events holding the sending state and promotes the
// long-stuck ones to failed so the next redelivery can re-claim them.
func (m *Monitor) checkStuck(ctx context.Context, now time.Time) ([]StuckEvent, error) {
	events, err := m.store.QueryBySendingStatus(ctx, types.StatusSending)
	if err != nil {
		return nil, fmt.Errorf("monitor: stuck-events query: %w", err)
	}

	var stuck []StuckEvent
	for _, e := range events {
		if e.SendingAttemptedAt == nil {
			continue
		}
		elapsed := now.Sub(*e.SendingAttemptedAt)

		entry := StuckEvent{
			UserID:         e.UserID,
			EventType:      e.Type,
			AttemptedAt:    *e.SendingAttemptedAt,
			ElapsedMinutes: elapsed.Minutes(),
			Action:         ActionMonitoring,
		}

		if elapsed > StuckTimeout {
			if err := m.store.MarkFailed(ctx, e.UserID, e.Type, stuckReason, now); err != nil {
				m.logger.ErrorContext(ctx, "failed to promote stuck event",
					"user_id", e.UserID,
					"event_type", string(e.Type),
					"error", err,
				)
			} else {
				entry.Action = ActionMarkedFailedForRetry
				m.logger.WarnContext(ctx, "promoted stuck event to failed",
					"user_id", e.UserID,
					"event_type", string(e.Type),
					"elapsed", elapsed.String(),
				)
			}
		}

		stuck = append(stuck, entry)
	}
	return stuck, nil
}

// classify maps an issue count to a report status.
func classify(issues int) string {
	switch {
	case issues == 0:
		return StatusHealthy
	case issues < criticalThreshold:
		return StatusWarning
	default:
		return StatusCritical
	}
}
