// Package config defines the global configuration structure for the
// OrderPulse delivery worker. Configuration is loaded once at process
// initialization (Lambda cold start or daemon boot) and is immutable
// thereafter. It follows 12-Factor App principles by strictly separating
// code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format causes the process to fail
// immediately on startup.
package config

import (
	"time"

	"orderpulse/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Run modes for the delivery worker.
const (
	RunModeLambda = "lambda"
	RunModeDaemon = "daemon"
)

// Config is the top-level configuration struct for the delivery worker.
// It is populated once during process initialization and never modified.
// Components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"orderpulse-delivery"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// RunMode selects how cycles are scheduled: "lambda" relies on the
	// EventBridge rule, "daemon" runs the in-process cycle loop.
	RunMode string `envconfig:"RUN_MODE" default:"lambda" validate:"oneof=lambda daemon"`

	// Domain Configurations
	Backend  BackendConfig
	Cycle    CycleConfig
	Database DatabaseConfig
	AWS      AWSConfig
	Server   ServerConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// BackendConfig holds the order backend endpoints and client settings.
type BackendConfig struct {
	// BaseURL is the REST root for polling, e.g. https://api.example.com.
	BaseURL string `envconfig:"BACKEND_BASE_URL" validate:"required,url"`

	// StreamURL is the push stream endpoint, e.g. wss://api.example.com/orders/stream.
	StreamURL string `envconfig:"BACKEND_STREAM_URL" validate:"required"`

	// APIToken, when set, is sent as a bearer token on both transports.
	APIToken SecretString `envconfig:"BACKEND_API_TOKEN"`

	UserAgent string        `envconfig:"BACKEND_USER_AGENT" default:"OrderPulse-Delivery/1.0"`
	Timeout   time.Duration `envconfig:"BACKEND_TIMEOUT" default:"15s"`
}

// CycleConfig holds delivery cycle timing parameters.
type CycleConfig struct {
	// Deadline bounds one cycle; kept under the 15 minute Lambda ceiling.
	Deadline time.Duration `envconfig:"CYCLE_DEADLINE" default:"14m"`

	PollIntervalConnected time.Duration `envconfig:"POLL_INTERVAL_CONNECTED" default:"60s"`
	PollIntervalDegraded  time.Duration `envconfig:"POLL_INTERVAL_DEGRADED" default:"5s"`

	// DrainGrace bounds the flush and watermark advance after the working
	// phase ends.
	DrainGrace time.Duration `envconfig:"DRAIN_GRACE" default:"10s"`

	// LoopInterval is the daemon-mode rest between cycles when no follow-up
	// is requested.
	LoopInterval time.Duration `envconfig:"CYCLE_LOOP_INTERVAL" default:"1m"`
}

// DatabaseConfig holds watermark store connection and pool tuning parameters.
// When URL is empty the worker falls back to the local file store at
// StatePath, which suits single-instance daemon deployments.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL"`

	StatePath string `envconfig:"WATERMARK_STATE_PATH" default:"orderpulse-state.json"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"4"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// PresentationQueue receives notification presentation commands. Empty
	// in daemon mode runs the log-only presenter.
	PresentationQueue string `envconfig:"SQS_PRESENTATIONS"`

	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"OrderPulse"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ServerConfig holds the daemon-mode ops HTTP server settings.
type ServerConfig struct {
	Port string `envconfig:"OPS_PORT" default:"8080"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
