// Package queue provides the SQS gateway for greeter messages: FIFO enqueue
// with group and deduplication keys, DLQ receive/delete/redrive, and queue
// depth queries.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"greeter/internal/types"
)

// SQSAPI abstracts the SQS operations the gateway uses. Production code uses
// the *sqs.Client from aws-sdk-go-v2.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Message is a received queue message with the attributes the DLQ processor
// needs to redrive it faithfully.
type Message struct {
	MessageID     string
	ReceiptHandle string
	Body          string
	GroupID       string
	DedupID       string
}

// Gateway is the typed SQS gateway over the greeter FIFO queue and its DLQ.
type Gateway struct {
	client     SQSAPI
	greeterURL string
	dlqURL     string
	logger     *slog.Logger
}

// New creates a Gateway, resolving both queue names to URLs. Name resolution
// failures are fatal configuration errors.
func New(ctx context.Context, client SQSAPI, greeterQueueName, dlqQueueName string, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	greeterURL, err := resolveQueueURL(ctx, client, greeterQueueName)
	if err != nil {
		return nil, err
	}
	dlqURL, err := resolveQueueURL(ctx, client, dlqQueueName)
	if err != nil {
		return nil, err
	}

	return &Gateway{
		client:     client,
		greeterURL: greeterURL,
		dlqURL:     dlqURL,
		logger:     logger,
	}, nil
}

// NewWithURLs creates a Gateway from already-resolved queue URLs. This
// constructor exists for tests and for environments that configure URLs
// directly.
func NewWithURLs(client SQSAPI, greeterURL, dlqURL string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{client: client, greeterURL: greeterURL, dlqURL: dlqURL, logger: logger}
}

func resolveQueueURL(ctx context.Context, client SQSAPI, name string) (string, error) {
	out, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("queue: resolving URL for %s: %w", name, err)
	}
	return aws.ToString(out.QueueUrl), nil
}

// EnqueueGreeter serializes a greeter message and sends it to the main FIFO
// queue. The message group key preserves per-event-type ordering; the
// deduplication key {user_id}-{event_type}-{year} collapses duplicate
// enqueues across sweep invocations within the transport's dedup window.
func (g *Gateway) EnqueueGreeter(ctx context.Context, msg types.GreeterMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal greeter message: %w", err)
	}

	_, err = g.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:               aws.String(g.greeterURL),
		MessageBody:            aws.String(string(body)),
		MessageGroupId:         aws.String(msg.GroupID()),
		MessageDeduplicationId: aws.String(msg.DedupID()),
	})
	if err != nil {
		return fmt.Errorf("queue: failed to enqueue greeter for %s/%s: %w", msg.ID, msg.EventType, err)
	}

	g.logger.InfoContext(ctx, "greeter message enqueued",
		"user_id", msg.ID,
		"event_type", string(msg.EventType),
		"dedup_id", msg.DedupID(),
	)

	return nil
}

// Redrive sends a raw message body back onto the main queue, preserving the
// original group and deduplication keys.
func (g *Gateway) Redrive(ctx context.Context, body, groupID, dedupID string) error {
	_, err := g.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:               aws.String(g.greeterURL),
		MessageBody:            aws.String(body),
		MessageGroupId:         aws.String(groupID),
		MessageDeduplicationId: aws.String(dedupID),
	})
	if err != nil {
		return fmt.Errorf("queue: failed to redrive message: %w", err)
	}
	return nil
}

// ReceiveDLQ long-polls the DLQ for up to max messages, returning their
// bodies along with the group and dedup attributes needed for redrive.
func (g *Gateway) ReceiveDLQ(ctx context.Context, max int32, waitSeconds int32) ([]Message, error) {
	out, err := g.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(g.dlqURL),
		MaxNumberOfMessages: max,
		WaitTimeSeconds:     waitSeconds,
		MessageSystemAttributeNames: []sqsTypes.MessageSystemAttributeName{
			sqsTypes.MessageSystemAttributeNameMessageGroupId,
			sqsTypes.MessageSystemAttributeNameMessageDeduplicationId,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("queue: failed to receive from DLQ: %w", err)
	}

	messages := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, Message{
			MessageID:     aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          aws.ToString(m.Body),
			GroupID:       m.Attributes[string(sqsTypes.MessageSystemAttributeNameMessageGroupId)],
			DedupID:       m.Attributes[string(sqsTypes.MessageSystemAttributeNameMessageDeduplicationId)],
		})
	}

	return messages, nil
}

// DeleteFromDLQ removes a message from the DLQ after a successful redrive.
func (g *Gateway) DeleteFromDLQ(ctx context.Context, receiptHandle string) error {
	_, err := g.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(g.dlqURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("queue: failed to delete DLQ message: %w", err)
	}
	return nil
}

// DLQDepth returns the approximate number of messages waiting in the DLQ.
func (g *Gateway) DLQDepth(ctx context.Context) (int, error) {
	out, err := g.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(g.dlqURL),
		AttributeNames: []sqsTypes.QueueAttributeName{sqsTypes.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, fmt.Errorf("queue: failed to query DLQ depth: %w", err)
	}

	raw := out.Attributes[string(sqsTypes.QueueAttributeNameApproximateNumberOfMessages)]
	if raw == "" {
		return 0, nil
	}
	depth, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("queue: unparseable DLQ depth %q: %w", raw, err)
	}
	return depth, nil
}
