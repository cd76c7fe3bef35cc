// Package main is the entrypoint for the sender Lambda function.
//
// The sender consumes greeter messages from the FIFO queue and runs the
// claim/deliver/complete protocol for each. Lambda's SQS integration uses
// partial batch responses: a record that fails with a retriable error is
// reported in batchItemFailures so the transport redelivers only that
// message; everything else in the batch is acknowledged.
//
// Handler flow per SQS record:
//  1. Unmarshal the greeter message (parse failures are dropped permanently).
//  2. Run the sender state machine.
//  3. Retriable failure -> report the record for redelivery.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"greeter/internal/config"
	"greeter/internal/metrics"
	"greeter/internal/sender"
	"greeter/internal/store"
	"greeter/internal/types"
	"greeter/internal/webhook"
)

// Handler holds the dependencies for the sender Lambda handler.
type Handler struct {
	sender *sender.Sender
	logger *slog.Logger
}

// Handle processes an SQS event containing one or more greeter messages.
// Records are processed sequentially; FIFO ordering within a group is
// preserved by the transport, not re-derived here.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		var msg types.GreeterMessage
		if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
			h.logger.Error("failed to unmarshal greeter message, dropping",
				"message_id", record.MessageId,
				"error", err,
			)
			// Permanent parse failure: acknowledge rather than poison the queue.
			continue
		}

		outcome, err := h.sender.Process(ctx, msg)
		if err != nil {
			h.logger.Error("greeter message failed, reporting for redelivery",
				"message_id", record.MessageId,
				"user_id", msg.ID,
				"event_type", string(msg.EventType),
				"error", err,
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
			continue
		}

		h.logger.Info("greeter message processed",
			"message_id", record.MessageId,
			"user_id", msg.ID,
			"event_type", string(msg.EventType),
			"outcome", string(outcome),
		)
	}

	return response, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}

	endpoint := cfg.AWS.EndpointURL
	ddbClient := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	var recorder metrics.Recorder = metrics.NopRecorder{}
	if cfg.Metrics.Enabled {
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
		recorder = metrics.NewCloudWatchRecorder(cwClient, cfg.Metrics.Namespace, logger)
	}

	handler := &Handler{
		sender: sender.New(sender.Config{
			Store:   store.New(ddbClient, cfg.Store.UsersTable),
			Webhook: webhook.New(cfg.Webhook, logger),
			Metrics: recorder,
			Logger:  logger,
		}),
		logger: logger,
	}

	logger.Info("sender Lambda initialized",
		"users_table", cfg.Store.UsersTable,
		"webhook_url", cfg.Webhook.HookbinURL,
		"webhook_timeout", cfg.Webhook.Timeout.String(),
	)

	lambda.Start(handler.Handle)
}
