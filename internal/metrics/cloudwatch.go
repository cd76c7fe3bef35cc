// Package metrics emits operational counters to CloudWatch. Metric failures
// are logged and swallowed: telemetry must never fail a delivery.
package metrics

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metric names emitted by the platform.
const (
	MetricSweepProcessed       = "SweepProcessed"
	MetricSweepEnqueueFailures = "SweepEnqueueFailures"
	MetricSweepPages           = "SweepPages"
	MetricSenderClaimed        = "SenderClaimed"
	MetricSenderDuplicates     = "SenderDuplicatesDropped"
	MetricSenderWebhookFailure = "SenderWebhookFailures"
	MetricSenderCompleted      = "SenderCompleted"
	MetricDLQRedriven          = "DLQRedriven"
	MetricDLQFailures          = "DLQRedriveFailures"
	MetricMonitorMissed        = "MonitorMissedEvents"
	MetricMonitorStuck         = "MonitorStuckEvents"
)

// Recorder is the counter-emission interface components depend on.
type Recorder interface {
	// Count emits a count metric with optional dimensions.
	Count(ctx context.Context, name string, value float64, dims map[string]string)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchRecorder implements Recorder against CloudWatch.
type CloudWatchRecorder struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchRecorder creates a Recorder publishing to the given namespace.
func NewCloudWatchRecorder(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchRecorder{client: client, namespace: namespace, logger: logger}
}

// Count emits a count metric with the given dimensions.
func (r *CloudWatchRecorder) Count(ctx context.Context, name string, value float64, dims map[string]string) {
	datum := cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       cwtypes.StandardUnitCount,
	}
	for k, v := range dims {
		datum.Dimensions = append(datum.Dimensions, cwtypes.Dimension{
			Name:  aws.String(k),
			Value: aws.String(v),
		})
	}

	_, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(r.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to record metric",
			"metric", name,
			"error", err,
		)
	}
}

// NopRecorder discards all metrics. Used in local runs and tests.
type NopRecorder struct{}

// Count discards the metric.
func (NopRecorder) Count(context.Context, string, float64, map[string]string) {}

var (
	_ Recorder = (*CloudWatchRecorder)(nil)
	_ Recorder = NopRecorder{}
)
