// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load a .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Validate the struct using go-playground/validator.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigErrorType classifies configuration loading failures.
type ConfigErrorType string

const (
	// ErrParsing indicates envconfig could not map the environment onto
	// the Config struct.
	ErrParsing ConfigErrorType = "parsing"
	// ErrValidation indicates the populated struct failed validation.
	ErrValidation ConfigErrorType = "validation"
)

// ConfigError is a diagnostic error type returned by LoadConfig to aid
// debugging startup failures.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoadConfig loads and validates the configuration from the environment.
// Any missing required value or invalid format returns an error; callers
// fail fast at startup rather than running half-configured.
func LoadConfig() (*Config, error) {
	// Enforce UTC so epoch-millis scheduling math never crosses a DST
	// boundary differently than the database does.
	time.Local = time.UTC

	// godotenv silently succeeds when no .env file exists and never
	// overrides variables already set in the environment.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	// Cross-field checks envconfig tags cannot express.
	if cfg.Store.Backend == "postgres" && cfg.Database.URL == "" {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "DATABASE_URL is required when STORE_BACKEND=postgres",
		}
	}

	return &cfg, nil
}
