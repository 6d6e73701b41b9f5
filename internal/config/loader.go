package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by Load to aid debugging.
type ConfigError struct {
	Stage   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Stage, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load loads and validates the pipeline configuration.
//
// Steps, in order:
//  1. Enforce UTC as the process timezone to prevent drift bugs; quiet-hour
//     evaluation uses the explicitly configured Pipeline.Timezone instead.
//  2. Load a .env file if present (non-fatal if missing; never overrides
//     existing environment variables).
//  3. Process envconfig tags to populate the Config struct.
//  4. Validate the struct, including that Pipeline.Timezone resolves.
func Load() (*Config, error) {
	time.Local = time.UTC

	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Stage:   "parse",
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Stage:   "validate",
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	if _, err := cfg.Pipeline.Location(); err != nil {
		return nil, &ConfigError{
			Stage:   "validate",
			Message: fmt.Sprintf("invalid PIPELINE_TIMEZONE %q", cfg.Pipeline.Timezone),
			Err:     err,
		}
	}

	return &cfg, nil
}

// Location resolves the configured pipeline timezone.
func (p PipelineConfig) Location() (*time.Location, error) {
	if p.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(p.Timezone)
}
