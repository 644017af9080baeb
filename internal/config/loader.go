// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load dotenv files via godotenv (a missing file is not an error).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Populate BuildInfo from linker-injected variables.
//  5. Validate the struct using go-playground/validator, then the
//     environment-dependent requirements.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig to aid debugging.
// It wraps a ConfigErrorType and an underlying error message.
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

// localEnv is the APP_ENV value that enables local stubs.
const localEnv = "local"

// LoadConfig loads and validates the configuration. dotenvFiles are read in
// order before the environment is processed; with none given, ".env" in the
// working directory is tried. Values already present in the environment are
// never overridden by dotenv files.
func LoadConfig(dotenvFiles ...string) (*Config, error) {
	time.Local = time.UTC

	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, &ConfigError{
				Type:    ErrParsing,
				Message: fmt.Sprintf("failed to read dotenv file %s", f),
				Err:     err,
			}
		}
	}

	// The empty prefix means envconfig uses the exact tag values.
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	if missing := cfg.missingForEnvironment(); len(missing) > 0 {
		return nil, &ConfigError{
			Type:    ErrMissingEnv,
			Message: fmt.Sprintf("required for APP_ENV=%s: %s", cfg.Environment, strings.Join(missing, ", ")),
		}
	}

	return &cfg, nil
}

// missingForEnvironment lists variables that are optional locally but
// required in deployed environments.
func (c *Config) missingForEnvironment() []string {
	if c.IsLocal() {
		return nil
	}
	var missing []string
	if c.Email.Provider == "resend" && c.Email.ResendAPIKey == "" {
		missing = append(missing, "RESEND_API_KEY")
	}
	if c.Identity.BaseURL == "" {
		missing = append(missing, "IDENTITY_BASE_URL")
	}
	if c.Email.Provider == "stub" {
		missing = append(missing, "EMAIL_PROVIDER=resend")
	}
	return missing
}
