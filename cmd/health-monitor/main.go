// Package main is the entrypoint for the health monitor Lambda function.
//
// Fired by a periodic EventBridge rule. Each invocation reports missed
// deliveries in the trailing day and events stuck in the sending state,
// promoting long-stuck events to failed so the next redelivery can re-claim
// them.
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

	"greeter/internal/config"
	"greeter/internal/metrics"
	"greeter/internal/monitor"
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

	var recorder metrics.Recorder = metrics.NopRecorder{}
	if cfg.Metrics.Enabled {
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
		recorder = metrics.NewCloudWatchRecorder(cwClient, cfg.Metrics.Namespace, logger)
	}

	mon := monitor.New(monitor.Config{
		Store:   store.New(ddbClient, cfg.Store.UsersTable),
		Metrics: recorder,
		Logger:  logger,
	})

	logger.Info("health monitor Lambda initialized",
		"users_table", cfg.Store.UsersTable,
	)

	lambda.Start(func(ctx context.Context) (*monitor.Report, error) {
		return mon.Run(ctx)
	})
}
