// Package main is the entrypoint for the DLQ processor Lambda function.
//
// Fired by a periodic EventBridge rule. Each invocation checks the DLQ depth,
// probes the webhook receiver, and redrives a bounded batch of dead-lettered
// messages back onto the main queue when the receiver is healthy.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"greeter/internal/config"
	"greeter/internal/dlq"
	"greeter/internal/metrics"
	"greeter/internal/queue"
	"greeter/internal/webhook"
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

	processor := dlq.New(dlq.Config{
		Queue:   gateway,
		Prober:  webhook.New(cfg.Webhook, logger),
		Metrics: recorder,
		Logger:  logger,
	})

	logger.Info("DLQ processor Lambda initialized",
		"dlq_queue", cfg.Queue.DLQQueueName,
		"webhook_url", cfg.Webhook.HookbinURL,
	)

	lambda.Start(func(ctx context.Context) (dlq.Result, error) {
		return processor.Run(ctx)
	})
}
