// Package sender implements the per-message delivery state machine.
//
// For each greeter message the sender runs a three-phase protocol against the
// event store:
//
//	pre-step  load the event, drop duplicates, recover stuck claims
//	phase 1   conditionally claim the event for this year (CAS)
//	phase 2   deliver the greeting over the webhook
//	phase 3   mark the record completed
//
// At-most-one external side effect per (event, year) is enforced by the
// phase-1 claim plus the Idempotency-Key the webhook receives. The sender is
// written as explicit transitions on the loaded record so the recovery paths
// (stuck-claim promotion, failed-state re-claim) are first-class rather than
// buried in a call chain.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"greeter/internal/firetime"
	"greeter/internal/metrics"
	"greeter/internal/store"
	"greeter/internal/types"
)

// StuckTimeout is how long a sending claim may stand before a redelivery
// treats the prior worker as dead and promotes the record to failed. The
// health monitor uses a strictly longer timeout so it never races this path.
const StuckTimeout = 5 * time.Minute

// stuckReason is recorded when a redelivery unsticks a stale claim.
const stuckReason = "Stuck in sending state - likely webhook timeout or crash"

// Outcome classifies how the sender disposed of one message.
type Outcome string

const (
	// OutcomeDelivered: the webhook accepted the greeting. The record was
	// marked completed, or, if that write failed, was left in sending.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeDuplicate: a completed delivery for this year already exists.
	OutcomeDuplicate Outcome = "duplicate_dropped"
	// OutcomeMissingEvent: the event record was deleted after enqueue.
	OutcomeMissingEvent Outcome = "dropped_missing_event"
	// OutcomeInvalid: the message failed validation or carries data the
	// resolver rejects; retrying cannot help.
	OutcomeInvalid Outcome = "dropped_invalid"
	// OutcomeLostRace: another worker claimed this (event, year).
	OutcomeLostRace Outcome = "dropped_lost_race"
	// OutcomeInFlight: another worker holds a fresh sending claim.
	OutcomeInFlight Outcome = "dropped_in_flight"
)

// EventStore defines the store operations the sender needs.
type EventStore interface {
	GetEvent(ctx context.Context, userID string, eventType types.EventType) (*types.Event, error)
	ClaimForYear(ctx context.Context, userID string, eventType types.EventType, currentLastSentYear, currentYear int, newNotifyUTC, now time.Time) (store.ClaimResult, error)
	MarkCompleted(ctx context.Context, userID string, eventType types.EventType, responseCode int, now time.Time) error
	MarkFailed(ctx context.Context, userID string, eventType types.EventType, reason string, now time.Time) error
}

// GreetingSender defines the webhook operation the sender needs.
type GreetingSender interface {
	SendGreeting(ctx context.Context, message, idempotencyKey string) (int, error)
}

// Sender processes greeter messages.
type Sender struct {
	store   EventStore
	webhook GreetingSender
	clock   types.Clock
	metrics metrics.Recorder
	logger  *slog.Logger
}

// Config holds the dependencies for creating a Sender.
type Config struct {
	Store   EventStore
	Webhook GreetingSender
	Clock   types.Clock
	Metrics metrics.Recorder
	Logger  *slog.Logger
}

// New creates a Sender with the given dependencies.
func New(cfg Config) *Sender {
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
	return &Sender{
		store:   cfg.Store,
		webhook: cfg.Webhook,
		clock:   clock,
		metrics: rec,
		logger:  logger,
	}
}

// Process runs the delivery protocol for one message.
//
// A nil error means the message is finished and must be acknowledged,
// whatever the outcome. A non-nil error is always retriable: the caller
// surfaces it to the transport so the message is redelivered (and routed to
// the DLQ once redeliveries are exhausted).
func (s *Sender) Process(ctx context.Context, msg types.GreeterMessage) (Outcome, error) {
	if err := msg.Validate(); err != nil {
		s.logger.ErrorContext(ctx, "dropping malformed greeter message", "error", err)
		return OutcomeInvalid, nil
	}

	now := s.clock.Now().UTC()
	logger := s.logger.With(
		"user_id", msg.ID,
		"event_type", string(msg.EventType),
		"year_now", msg.YearNow,
	)

	// Pre-step: load the current record.
	event, err := s.store.GetEvent(ctx, msg.ID, msg.EventType)
	if err != nil {
		if errors.Is(err, types.ErrEventNotFound) {
			logger.WarnContext(ctx, "event record missing, dropping message")
			return OutcomeMissingEvent, nil
		}
		return "", types.Retriable(fmt.Errorf("sender: loading event: %w", err))
	}

	// Duplicate guard. Both clauses matter: last_sent_year alone also
	// advances on failed attempts (the claim writes it), and a failed
	// record must remain eligible for redelivery.
	if event.CompletedForYear(msg.YearNow) {
		logger.InfoContext(ctx, "delivery already completed for this year, dropping duplicate")
		s.metrics.Count(ctx, metrics.MetricSenderDuplicates, 1, nil)
		return OutcomeDuplicate, nil
	}

	// Stuck-claim handling: a fresh sending claim belongs to a live worker;
	// a stale one belongs to a dead worker and is promoted to failed so the
	// claim below can proceed. Duplicates past this point are still stopped
	// by the webhook's idempotency key.
	if event.SendingStatus == types.StatusSending && event.SendingAttemptedAt != nil {
		held := now.Sub(*event.SendingAttemptedAt)
		if held < StuckTimeout {
			logger.InfoContext(ctx, "another worker holds a fresh claim, dropping",
				"held_for", held.String(),
			)
			return OutcomeInFlight, nil
		}

		logger.WarnContext(ctx, "promoting stale sending claim to failed",
			"held_for", held.String(),
		)
		if err := s.store.MarkFailed(ctx, msg.ID, msg.EventType, stuckReason, now); err != nil {
			return "", types.Retriable(fmt.Errorf("sender: unsticking stale claim: %w", err))
		}
	}

	// Phase 1: claim. The next-year instant is computed before the CAS so
	// the claim advances notify_utc and fences concurrent workers in one
	// conditional write.
	nextNotify, err := firetime.ForYear(msg.EventDate, msg.Timezone, msg.NotifyLocalTime, msg.YearNow+1)
	if err != nil {
		logger.ErrorContext(ctx, "cannot resolve next fire instant, dropping", "error", err)
		if markErr := s.store.MarkFailed(ctx, msg.ID, msg.EventType, fmt.Sprintf("unresolvable schedule: %v", err), now); markErr != nil {
			logger.ErrorContext(ctx, "failed to record unresolvable schedule", "error", markErr)
		}
		return OutcomeInvalid, nil
	}

	claim, err := s.store.ClaimForYear(ctx, msg.ID, msg.EventType, event.LastSentYear, msg.YearNow, nextNotify, now)
	if err != nil {
		return "", types.Retriable(fmt.Errorf("sender: claim failed: %w", err))
	}
	if claim == store.ClaimLostRace {
		logger.InfoContext(ctx, "claim lost, another worker owns this delivery")
		return OutcomeLostRace, nil
	}
	s.metrics.Count(ctx, metrics.MetricSenderClaimed, 1, nil)

	// Phase 2: deliver. Success is exactly HTTP 200.
	statusCode, sendErr := s.webhook.SendGreeting(ctx, msg.GreetingBody(), msg.DedupID())
	if sendErr != nil || statusCode != http.StatusOK {
		reason := fmt.Sprintf("webhook delivery failed with status %d", statusCode)
		if sendErr != nil {
			reason = fmt.Sprintf("webhook delivery failed (status %d): %v", statusCode, sendErr)
		}
		logger.ErrorContext(ctx, "webhook delivery failed",
			"status", statusCode,
			"error", sendErr,
		)
		s.metrics.Count(ctx, metrics.MetricSenderWebhookFailure, 1, nil)

		// Best effort: a failed mark that itself fails still leaves the
		// record in sending, which the stuck-claim paths recover.
		if markErr := s.store.MarkFailed(ctx, msg.ID, msg.EventType, reason, now); markErr != nil {
			logger.ErrorContext(ctx, "failed to mark delivery failure", "error", markErr)
		}
		return "", types.Retriable(fmt.Errorf("sender: %s", reason))
	}

	// Phase 3: complete. The webhook already fired; a store failure here
	// must not trigger a redelivery. The record stays in sending until a
	// stuck-claim path promotes it to failed; a later message for the same
	// year then re-claims it and sends again, and the idempotency key lets
	// the receiver collapse that repeat.
	if err := s.store.MarkCompleted(ctx, msg.ID, msg.EventType, statusCode, now); err != nil {
		logger.ErrorContext(ctx, "delivery succeeded but completion mark failed; monitor will reconcile",
			"error", err,
		)
	}

	s.metrics.Count(ctx, metrics.MetricSenderCompleted, 1, nil)
	logger.InfoContext(ctx, "greeting delivered",
		"status", statusCode,
		"next_notify_utc", nextNotify.Format(types.NotifyTimeLayout),
	)
	return OutcomeDelivered, nil
}
