// Package config defines the global configuration structure for the greeter
// platform. Configuration is loaded once at process initialization (Lambda
// cold start) and is immutable thereafter. It follows 12-Factor App
// principles by strictly separating code from configuration.
//
// Any missing required value or invalid format causes the process to exit
// immediately on startup (fail fast).
package config

import "time"

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific config subsets they require.
type Config struct {
	// System metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain configurations
	Store   StoreConfig
	Queue   QueueConfig
	Webhook WebhookConfig
	AWS     AWSConfig
	Metrics MetricsConfig
}

// StoreConfig holds the DynamoDB table identity.
type StoreConfig struct {
	UsersTable string `envconfig:"USERS_TABLE" validate:"required"`
}

// QueueConfig holds SQS queue identifiers. Names are resolved to URLs at
// client construction time via GetQueueUrl.
type QueueConfig struct {
	GreeterQueueName string `envconfig:"GREETER_QUEUE_NAME" validate:"required"`
	DLQQueueName     string `envconfig:"DLQ_QUEUE_NAME" validate:"required"`
}

// WebhookConfig holds settings for outbound webhook delivery. The request
// timeout must stay well below the sender's stuck-claim timeout so a hung
// receiver cannot hold a claim past recovery.
type WebhookConfig struct {
	HookbinURL string        `envconfig:"HOOKBIN_URL" validate:"required,url"`
	Timeout    time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	UserAgent  string        `envconfig:"WEBHOOK_USER_AGENT" default:"Greeter-Webhook/1.0"`
}

// AWSConfig holds regional configuration and the LocalStack endpoint override.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// EndpointURL points all AWS clients at a local emulator when set.
	// Empty in production.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// MetricsConfig holds telemetry settings.
type MetricsConfig struct {
	Namespace string `envconfig:"METRIC_NAMESPACE" default:"Greeter"`
	Enabled   bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
