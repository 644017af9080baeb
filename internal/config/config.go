// Package config defines the configuration of the newsletter pipeline.
// Configuration is loaded once at process initialization and is immutable
// thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format is reported as a ConfigError
// and the process exits on startup.
package config

import (
	"time"

	"bulletin/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"bulletin"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	AWS           AWSConfig
	Email         EmailConfig
	Identity      IdentityConfig
	Dispatch      DispatchConfig
	Breaker       BreakerConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// IsLocal reports whether the process runs against local stubs.
func (c *Config) IsLocal() bool { return c.Environment == localEnv }

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"5m"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int32         `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns        int32         `envconfig:"DB_MIN_CONNS" default:"2" validate:"min=0"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	MaxConnIdleTime time.Duration `envconfig:"DB_MAX_CONN_IDLE_TIME" default:"5m"`
	ConnectAttempts int           `envconfig:"DB_CONNECT_ATTEMPTS" default:"3" validate:"min=1"`
	RetryInterval   time.Duration `envconfig:"DB_RETRY_INTERVAL" default:"2s"`
	AutoMigrate     bool          `envconfig:"DB_AUTO_MIGRATE" default:"false"`
}

// RedisConfig configures the run lock and the shared body cache. An empty URL
// disables both in favour of in-process implementations.
type RedisConfig struct {
	URL       SecretString  `envconfig:"REDIS_URL"`
	KeyPrefix string        `envconfig:"REDIS_KEY_PREFIX" default:"bulletin:"`
	LockTTL   time.Duration `envconfig:"CAMPAIGN_LOCK_TTL" default:"15m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// BodiesBucket holds newsletter bodies referenced by body_key.
	BodiesBucket  string        `envconfig:"BODIES_BUCKET"`
	BodyCacheTTL  time.Duration `envconfig:"BODY_CACHE_TTL" default:"15m"`
	CampaignQueue string        `envconfig:"SQS_CAMPAIGNS" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// EmailConfig holds the transport provider credentials and sender identity.
type EmailConfig struct {
	Provider     string       `envconfig:"EMAIL_PROVIDER" default:"resend" validate:"oneof=resend stub"`
	ResendAPIKey SecretString `envconfig:"RESEND_API_KEY"`
	FromAddress  string       `envconfig:"EMAIL_FROM_ADDRESS" default:"newsletter@bulletin.local" validate:"required,email"`
	FromName     string       `envconfig:"EMAIL_FROM_NAME" default:"The Bulletin"`
}

// IdentityConfig points at the token introspection service.
type IdentityConfig struct {
	BaseURL string        `envconfig:"IDENTITY_BASE_URL" validate:"omitempty,url"`
	Timeout time.Duration `envconfig:"IDENTITY_TIMEOUT" default:"5s"`

	// LocalToken is accepted as an admin bearer token when APP_ENV=local.
	LocalToken SecretString `envconfig:"LOCAL_ADMIN_TOKEN" default:"local-admin-token"`
}

// DispatchConfig holds the default batch dispatcher settings. Campaign
// requests may override the first four per run.
type DispatchConfig struct {
	BatchSize           int           `envconfig:"DISPATCH_BATCH_SIZE" default:"5" validate:"min=1,max=100"`
	DelayBetweenBatches time.Duration `envconfig:"DISPATCH_BATCH_DELAY" default:"1s"`
	MaxRetries          int           `envconfig:"DISPATCH_MAX_RETRIES" default:"3" validate:"min=1,max=10"`
	RetryDelay          time.Duration `envconfig:"DISPATCH_RETRY_DELAY" default:"1s"`
	AttemptTimeout      time.Duration `envconfig:"DISPATCH_ATTEMPT_TIMEOUT" default:"10s"`
	Jitter              bool          `envconfig:"DISPATCH_JITTER" default:"false"`
	CreateConcurrency   int           `envconfig:"TRACKING_CREATE_CONCURRENCY" default:"10" validate:"min=1"`
}

// BreakerConfig configures every circuit breaker in the process.
type BreakerConfig struct {
	Threshold int           `envconfig:"BREAKER_THRESHOLD" default:"5" validate:"min=1"`
	Timeout   time.Duration `envconfig:"BREAKER_TIMEOUT" default:"60s"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	EnableMetrics bool `envconfig:"ENABLE_METRICS" default:"true"`
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
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
