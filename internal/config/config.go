// Package config defines the process configuration for the pushpipe
// dispatcher and its scheduled workers. Configuration is loaded once at
// startup and immutable thereafter; components receive only the subsets they
// require.
//
// Values are resolved via a priority chain: OS environment (highest) ->
// dotenv file. Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"pushpipe/internal/types"
)

// SecretString aliases types.SecretString, the redacted secret type used for
// sensitive configuration values.
type SecretString = types.SecretString

// Config is the top-level configuration struct.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"pushpipe-dispatcher"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	Trigger  TriggerConfig
	Pipeline PipelineConfig
	Gateway  GatewayConfig
	AWS      AWSConfig
	Archive  ArchiveConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// DatabaseConfig holds connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// TriggerConfig holds the external scheduler's shared credential. The secret
// is stored as a bcrypt hash so a leaked config dump never exposes the
// plaintext credential presented by the scheduler.
type TriggerConfig struct {
	SecretHash SecretString `envconfig:"TRIGGER_SECRET_HASH" validate:"required"`
}

// PipelineConfig holds batch and fan-out tuning parameters.
type PipelineConfig struct {
	// BatchSize bounds how many due jobs a single invocation claims.
	BatchSize int `envconfig:"PIPELINE_BATCH_SIZE" default:"50" validate:"min=1,max=200"`

	// FanoutConcurrency caps concurrent gateway calls within one job.
	FanoutConcurrency int `envconfig:"PIPELINE_FANOUT_CONCURRENCY" default:"16" validate:"min=1,max=128"`

	// Timezone is the location quiet hours are evaluated in. Recipients carry
	// no timezone of their own; this is the documented pipeline-wide choice.
	Timezone string `envconfig:"PIPELINE_TIMEZONE" default:"UTC"`
}

// GatewayConfig holds Push Gateway client settings.
type GatewayConfig struct {
	URL        string        `envconfig:"PUSH_GATEWAY_URL" validate:"required,url"`
	Timeout    time.Duration `envconfig:"PUSH_GATEWAY_TIMEOUT" default:"10s"`
	MaxRetries int           `envconfig:"PUSH_GATEWAY_MAX_RETRIES" default:"2" validate:"min=0,max=5"`
	UserAgent  string        `envconfig:"PUSH_GATEWAY_USER_AGENT" default:"pushpipe-dispatcher/1.0"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
// TasksQueueURL may be empty, which disables fire-and-forget task submission.
type AWSConfig struct {
	Region          string `envconfig:"AWS_REGION" default:"us-east-1"`
	TasksQueueURL   string `envconfig:"SQS_TASKS_QUEUE"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"PushPipe"`

	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ArchiveConfig holds outcome archival tuning.
type ArchiveConfig struct {
	Retention time.Duration `envconfig:"ARCHIVE_RETENTION" default:"2160h"` // 90 days
	BatchSize int           `envconfig:"ARCHIVE_BATCH_SIZE" default:"5000" validate:"min=1"`
}
