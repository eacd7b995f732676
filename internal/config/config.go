// Package config implements the configuration loading lifecycle for the hub
// alerting services.
//
// The loading sequence is:
//  1. Load .env file via godotenv (non-fatal if absent).
//  2. Use envconfig to process struct tags and populate the Config struct.
//  3. Validate the struct using go-playground/validator.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the root configuration for both the alarm service and the
// notification worker.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server ServerConfig
	AWS    AWSConfig
	DB     DBConfig
	Retry  RetryConfig
	Push   PushConfig
	Email  EmailConfig
	IVR    IVRConfig
}

// ServerConfig configures the alarm service's health endpoint listener.
type ServerConfig struct {
	Port            int           `envconfig:"SERVER_PORT" default:"8080" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"10s"`
}

// AWSConfig holds queue URLs and the metric namespace.
type AWSConfig struct {
	NotificationQueueURL string `envconfig:"SQS_NOTIFICATIONS" validate:"required"`
	BusResponseQueueURL  string `envconfig:"SQS_BUS_RESPONSES"`
	DeviceCommandQueue   string `envconfig:"SQS_DEVICE_COMMANDS"`
	MetricNamespace      string `envconfig:"METRIC_NAMESPACE" default:"HubAlert"`
}

// DBConfig holds the PostgreSQL connection string.
type DBConfig struct {
	URL string `envconfig:"DATABASE_URL"`
}

// RetryConfig bounds notification retries. TTL is the maximum age of a
// notification before RetryManager declares it expired.
type RetryConfig struct {
	MaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3" validate:"min=1"`
	BaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"1s"`
	MaxDelay    time.Duration `envconfig:"RETRY_MAX_DELAY" default:"30s"`
	TTL         time.Duration `envconfig:"RETRY_TTL" default:"5m"`
}

// PushConfig configures the push provider connections.
type PushConfig struct {
	APNSTopic          string        `envconfig:"APNS_TOPIC" default:"com.hubalert.app"`
	APNSHost           string        `envconfig:"APNS_HOST"`
	APNSAuthToken      string        `envconfig:"APNS_AUTH_TOKEN"`
	GCMAPIKey          string        `envconfig:"GCM_API_KEY"`
	SendTimeout        time.Duration `envconfig:"PUSH_SEND_TIMEOUT" default:"10s"`
	BreakerMaxFailures uint32        `envconfig:"PUSH_BREAKER_MAX_FAILURES" default:"1" validate:"min=1"`
	BreakerOpenFor     time.Duration `envconfig:"PUSH_BREAKER_OPEN_FOR" default:"60s"`
	FeedbackURL        string        `envconfig:"PUSH_FEEDBACK_URL"`
	SweepInterval      time.Duration `envconfig:"PUSH_SWEEP_INTERVAL" default:"1h"`
}

// EmailConfig configures the SendGrid-backed email provider.
type EmailConfig struct {
	SendGridAPIKey string `envconfig:"SENDGRID_API_KEY"`
	SenderEmail    string `envconfig:"EMAIL_SENDER_EMAIL" default:"alerts@hubalert.io"`
	SenderName     string `envconfig:"EMAIL_SENDER_NAME" default:"HubAlert"`
	ReplyTo        string `envconfig:"EMAIL_REPLY_TO" default:"no-reply@hubalert.io"`
	FilterDomain   string `envconfig:"EMAIL_FILTER_DOMAIN"`
}

// IVRConfig configures the outbound call gateway.
type IVRConfig struct {
	GatewayURL string `envconfig:"IVR_GATEWAY_URL"`
	APIKey     string `envconfig:"IVR_API_KEY"`
}

// Load reads configuration from the environment, optionally seeded by a .env
// file, and validates it.
func Load() (*Config, error) {
	// .env is a local-development convenience; absence is not an error.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: processing environment: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}
