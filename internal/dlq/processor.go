// Package dlq implements the dead-letter redrive loop.
//
// Messages land in the DLQ after the transport exhausts redeliveries,
// typically during a webhook outage. Each run probes the receiver first and
// redrives a bounded batch only when it has recovered: redriving into a live
// outage would just cycle the messages straight back.
package dlq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"greeter/internal/metrics"
	"greeter/internal/queue"
	"greeter/internal/types"
)

// BatchSize is the maximum number of messages redriven per run.
const BatchSize = 10

// receiveWaitSeconds is the DLQ long-poll duration.
const receiveWaitSeconds = 5

// redriveGroupFallback is the message group used when a DLQ message carries
// no group attribute.
const redriveGroupFallback = "redrive"

// DLQQueue defines the queue operations the processor needs.
type DLQQueue interface {
	DLQDepth(ctx context.Context) (int, error)
	ReceiveDLQ(ctx context.Context, max int32, waitSeconds int32) ([]queue.Message, error)
	Redrive(ctx context.Context, body, groupID, dedupID string) error
	DeleteFromDLQ(ctx context.Context, receiptHandle string) error
}

// HealthProber checks whether the webhook receiver has recovered.
type HealthProber interface {
	ProbeHealth(ctx context.Context) error
}

// Result carries the counters for one processor run.
type Result struct {
	Depth            int  `json:"depth"`
	Redriven         int  `json:"redriven"`
	Failures         int  `json:"failures"`
	SkippedUnhealthy bool `json:"skipped_unhealthy"`
}

// Processor drains the DLQ back onto the main queue when the receiver is
// healthy.
type Processor struct {
	queue   DLQQueue
	prober  HealthProber
	clock   types.Clock
	metrics metrics.Recorder
	logger  *slog.Logger
}

// Config holds the dependencies for creating a Processor.
type Config struct {
	Queue   DLQQueue
	Prober  HealthProber
	Clock   types.Clock
	Metrics metrics.Recorder
	Logger  *slog.Logger
}

// New creates a Processor with the given dependencies.
func New(cfg Config) *Processor {
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
	return &Processor{
		queue:   cfg.Queue,
		prober:  cfg.Prober,
		clock:   clock,
		metrics: rec,
		logger:  logger,
	}
}

// Run performs one redrive pass.
//
// Per-message delete-after-send keeps the DLQ accurate when a redrive
// partially succeeds: a message whose redrive or delete fails simply stays in
// the DLQ for the next run. A redriven-but-not-deleted message can reappear,
// which the sender's claim protocol and the webhook idempotency key absorb.
func (p *Processor) Run(ctx context.Context) (Result, error) {
	var result Result

	depth, err := p.queue.DLQDepth(ctx)
	if err != nil {
		return result, fmt.Errorf("dlq: depth query failed: %w", err)
	}
	result.Depth = depth

	if depth == 0 {
		p.logger.InfoContext(ctx, "DLQ empty, nothing to redrive")
		return result, nil
	}

	if err := p.prober.ProbeHealth(ctx); err != nil {
		p.logger.WarnContext(ctx, "webhook still unhealthy, skipping redrive",
			"depth", depth,
			"error", err,
		)
		result.SkippedUnhealthy = true
		return result, nil
	}

	messages, err := p.queue.ReceiveDLQ(ctx, BatchSize, receiveWaitSeconds)
	if err != nil {
		return result, fmt.Errorf("dlq: receive failed: %w", err)
	}

	for _, msg := range messages {
		if err := p.redriveOne(ctx, msg); err != nil {
			p.logger.ErrorContext(ctx, "redrive failed, message stays in DLQ",
				"message_id", msg.MessageID,
				"error", err,
			)
			result.Failures++
			continue
		}
		result.Redriven++
	}

	p.logger.InfoContext(ctx, "redrive pass complete",
		"depth", result.Depth,
		"redriven", result.Redriven,
		"failures", result.Failures,
	)

	p.metrics.Count(ctx, metrics.MetricDLQRedriven, float64(result.Redriven), nil)
	p.metrics.Count(ctx, metrics.MetricDLQFailures, float64(result.Failures), nil)
	return result, nil
}

// redriveOne copies one message back to the main queue, then deletes it from
// the DLQ. Group and dedup keys are preserved when present; a missing dedup
// key gets a synthetic one so FIFO content deduplication cannot silently
// swallow the redrive.
func (p *Processor) redriveOne(ctx context.Context, msg queue.Message) error {
	groupID := msg.GroupID
	if groupID == "" {
		groupID = redriveGroupFallback
	}
	dedupID := msg.DedupID
	if dedupID == "" {
		dedupID = fmt.Sprintf("redrive-%d-%s", p.clock.Now().Unix(), uuid.New().String()[:8])
	}

	if err := p.queue.Redrive(ctx, msg.Body, groupID, dedupID); err != nil {
		return fmt.Errorf("sending to main queue: %w", err)
	}
	if err := p.queue.DeleteFromDLQ(ctx, msg.ReceiptHandle); err != nil {
		return fmt.Errorf("deleting from DLQ: %w", err)
	}
	return nil
}
