// Package config defines the global configuration structure for the LifeSync
// task runner. Configuration is loaded once at process initialization and is
// immutable thereafter; it follows 12-Factor principles by strictly
// separating code from configuration.
//
// Values come from the OS environment, optionally seeded by a .env file.
// Any missing required value or invalid format fails startup immediately.
package config

import (
	"time"

	"lifesync/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Components receive only the
// specific subsets they require.
type Config struct {
	// System metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"lifesync-tasks"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain configurations
	Server   ServerConfig
	Database DatabaseConfig
	Store    StoreConfig
	AWS      AWSConfig
	Email    EmailConfig
	WhatsApp WhatsAppConfig
	Alerts   AlertsConfig
	Dispatch DispatchConfig
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// DashboardURL is the public web app URL used in email links
	// (no trailing slash).
	DashboardURL string `envconfig:"DASHBOARD_URL" validate:"required,url"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// StoreConfig selects the task store backend. The default "postgres" backend
// needs DATABASE_URL; "sqlite" runs everything against a local file for
// single-node and development deployments.
type StoreConfig struct {
	Backend    string `envconfig:"STORE_BACKEND" default:"postgres" validate:"oneof=postgres sqlite"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"lifesync.db"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// DispatchQueue is the SQS queue carrying manual dispatch triggers.
	DispatchQueue string `envconfig:"SQS_DISPATCH_QUEUE"`

	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`

	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"LifeSync"`
}

// EmailConfig holds email delivery provider credentials.
type EmailConfig struct {
	ResendAPIKey SecretString `envconfig:"RESEND_API_KEY" validate:"required"`
	FromDomain   string       `envconfig:"EMAIL_FROM_DOMAIN" default:"lifesync.app"`
}

// WhatsAppConfig holds the WhatsApp gateway connection settings. GatewayURL
// empty disables the channel.
type WhatsAppConfig struct {
	GatewayURL string       `envconfig:"WHATSAPP_GATEWAY_URL"`
	APIToken   SecretString `envconfig:"WHATSAPP_API_TOKEN"`
	SessionID  string       `envconfig:"WHATSAPP_SESSION_ID" default:"lifesync"`
}

// AlertsConfig holds price alert delivery settings.
type AlertsConfig struct {
	// UnsubscribeSecret signs the unsubscribe tokens embedded in alert
	// emails.
	UnsubscribeSecret SecretString `envconfig:"UNSUBSCRIBE_SECRET" validate:"required,min=16"`
	// TestMode reroutes all alerts to TestAddress.
	TestMode    bool   `envconfig:"ALERT_TEST_MODE" default:"false"`
	TestAddress string `envconfig:"ALERT_TEST_ADDRESS" default:"delivered@resend.dev"`
}

// DispatchConfig holds task dispatch tuning.
type DispatchConfig struct {
	// BatchSize caps how many due tasks one dispatcher run claims.
	BatchSize int `envconfig:"DISPATCH_BATCH_SIZE" default:"10" validate:"gt=0"`
	// CronSpec drives the standalone scheduler daemon.
	CronSpec string `envconfig:"DISPATCH_CRON" default:"* * * * *"`
	// LockTTL bounds how long one dispatcher invocation may hold the
	// dispatch job lock.
	LockTTL time.Duration `envconfig:"DISPATCH_LOCK_TTL" default:"5m"`
}
