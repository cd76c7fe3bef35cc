// Package scheduler implements the due-event sweep.
//
// Each invocation performs at most one full pass over the due index,
// enqueueing a greeter message for every discovered event. The sweep is a
// pure producer: it never mutates event records. Idempotency across
// invocations rests on the transport's content deduplication (the dedup key
// is stable for a given (event, year)) and, past the dedup window, on the
// sender's claim protocol.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"greeter/internal/metrics"
	"greeter/internal/store"
	"greeter/internal/types"
)

// PageSize is the maximum number of due events fetched per index page.
const PageSize = 100

// DueStore defines the store operations the sweep needs.
type DueStore interface {
	// QueryDue returns one page of events due at nowUTC that have not yet
	// been delivered in currentYear.
	QueryDue(ctx context.Context, nowUTC time.Time, currentYear int, pageCursor string, limit int) (*store.DuePage, error)
	// GetUser returns the owning user record for an event.
	GetUser(ctx context.Context, userID string) (*types.User, error)
}

// GreeterEnqueuer defines the queue operation the sweep needs.
type GreeterEnqueuer interface {
	EnqueueGreeter(ctx context.Context, msg types.GreeterMessage) error
}

// SweepResult carries the counters for one sweep invocation.
type SweepResult struct {
	Processed       int `json:"processed"`
	EnqueueFailures int `json:"enqueue_failures"`
	SkippedNoUser   int `json:"skipped_no_user"`
	LookupFailures  int `json:"lookup_failures"`
	Pages           int `json:"pages"`
}

// Sweeper discovers due events and enqueues them for delivery.
type Sweeper struct {
	store   DueStore
	queue   GreeterEnqueuer
	clock   types.Clock
	metrics metrics.Recorder
	logger  *slog.Logger
}

// SweeperConfig holds the dependencies for creating a Sweeper.
type SweeperConfig struct {
	Store   DueStore
	Queue   GreeterEnqueuer
	Clock   types.Clock
	Metrics metrics.Recorder
	Logger  *slog.Logger
}

// NewSweeper creates a Sweeper with the given dependencies.
func NewSweeper(cfg SweeperConfig) *Sweeper {
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
	return &Sweeper{
		store:   cfg.Store,
		queue:   cfg.Queue,
		clock:   clock,
		metrics: rec,
		logger:  logger,
	}
}

// Sweep runs one full pass over the due index.
//
// nowUTC and currentYear are captured once at the top and held constant for
// the whole sweep, so a sweep that crosses a midnight or year boundary stays
// internally consistent.
//
// A page-read failure aborts the sweep with the partial counters; items
// already enqueued are collapsed by the transport dedup when the sweep
// re-runs. Per-item failures (user lookup, enqueue) are counted and skipped.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	now := s.clock.Now().UTC()
	currentYear := now.Year()

	var result SweepResult
	cursor := ""

	s.logger.InfoContext(ctx, "sweep starting",
		"now", now.Format(time.RFC3339),
		"current_year", currentYear,
	)

	for {
		page, err := s.store.QueryDue(ctx, now, currentYear, cursor, PageSize)
		if err != nil {
			s.emit(ctx, result)
			return result, fmt.Errorf("scheduler: due page read failed: %w", err)
		}
		result.Pages++

		for _, event := range page.Events {
			s.processEvent(ctx, event, currentYear, &result)
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	s.logger.InfoContext(ctx, "sweep complete",
		"processed", result.Processed,
		"enqueue_failures", result.EnqueueFailures,
		"skipped_no_user", result.SkippedNoUser,
		"lookup_failures", result.LookupFailures,
		"pages", result.Pages,
	)

	s.emit(ctx, result)
	return result, nil
}

// processEvent enqueues one due event, counting and skipping per-item
// failures so the sweep always makes progress.
func (s *Sweeper) processEvent(ctx context.Context, event *types.Event, currentYear int, result *SweepResult) {
	user, err := s.store.GetUser(ctx, event.UserID)
	if err != nil {
		if errors.Is(err, types.ErrUserNotFound) {
			s.logger.WarnContext(ctx, "due event has no owning user, skipping",
				"user_id", event.UserID,
				"event_type", string(event.Type),
			)
			result.SkippedNoUser++
			return
		}
		s.logger.ErrorContext(ctx, "user lookup failed, skipping event",
			"user_id", event.UserID,
			"event_type", string(event.Type),
			"error", err,
		)
		result.LookupFailures++
		return
	}

	msg := types.GreeterMessage{
		ID:              user.UserID,
		PK:              store.UserPK(user.UserID),
		SK:              store.EventSK(event.Type),
		FirstName:       user.FirstName,
		LastName:        user.LastName,
		Timezone:        user.Timezone,
		EventType:       event.Type,
		EventDate:       event.Date,
		NotifyLocalTime: event.NotifyLocalTime,
		LastSentYear:    event.LastSentYear,
		YearNow:         currentYear,
	}

	if err := s.queue.EnqueueGreeter(ctx, msg); err != nil {
		s.logger.ErrorContext(ctx, "failed to enqueue greeter",
			"user_id", user.UserID,
			"event_type", string(event.Type),
			"error", err,
		)
		result.EnqueueFailures++
		return
	}

	result.Processed++
}

// emit publishes the sweep counters.
func (s *Sweeper) emit(ctx context.Context, result SweepResult) {
	s.metrics.Count(ctx, metrics.MetricSweepProcessed, float64(result.Processed), nil)
	s.metrics.Count(ctx, metrics.MetricSweepEnqueueFailures, float64(result.EnqueueFailures), nil)
	s.metrics.Count(ctx, metrics.MetricSweepPages, float64(result.Pages), nil)
}
