// Package main is the entrypoint for the scheduler Lambda function.
//
// The scheduler is fired by a periodic EventBridge rule. Each invocation
// performs one sweep over the due-events index and enqueues a greeter
// message for every due event. It never mutates event records; delivery
// idempotency is owned by the sender.
//
// Cold start:
//  1. Initialize the structured logger.
//  2. Load and validate configuration.
//  3. Load AWS SDK configuration (honoring AWS_ENDPOINT_URL for local runs).
//  4. Initialize DynamoDB, SQS, and CloudWatch clients.
//  5. Build the store and queue gateways and the sweeper.
//  6. Register the handler and call lambda.Start.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"greeter/internal/config"
	"greeter/internal/metrics"
	"greeter/internal/queue"
	"greeter/internal/scheduler"
	"greeter/internal/store"
)

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
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	gateway, err := queue.New(ctx, sqsClient, cfg.Queue.GreeterQueueName, cfg.Queue.DLQQueueName, logger)
	if err != nil {
		logger.Error("failed to initialize queue gateway", "error", err)
		os.Exit(1)
	}

	var recorder metrics.Recorder = metrics.NopRecorder{}
	if cfg.Metrics.Enabled {
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
		recorder = metrics.NewCloudWatchRecorder(cwClient, cfg.Metrics.Namespace, logger)
	}

	sweeper := scheduler.NewSweeper(scheduler.SweeperConfig{
		Store:   store.New(ddbClient, cfg.Store.UsersTable),
		Queue:   gateway,
		Metrics: recorder,
		Logger:  logger,
	})

	logger.Info("scheduler Lambda initialized",
		"users_table", cfg.Store.UsersTable,
		"greeter_queue", cfg.Queue.GreeterQueueName,
	)

	lambda.Start(func(ctx context.Context) (scheduler.SweepResult, error) {
		return sweeper.Sweep(ctx)
	})
}
