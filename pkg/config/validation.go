package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	http := &cfg.Adapters.HTTP

	if !http.Enabled {
		return fmt.Errorf("adapters: at least one adapter must be enabled")
	}

	if http.AcceptBurst > 0 && http.AcceptRate == 0 {
		return fmt.Errorf("adapters.http: accept_burst is %d but accept_rate is 0 (unlimited)", http.AcceptBurst)
	}

	if cfg.Server.Metrics.Enabled && cfg.Server.Metrics.Port != 0 && cfg.Server.Metrics.Port == http.Port {
		return fmt.Errorf("server.metrics: port %d is already used by the HTTP adapter", http.Port)
	}

	return nil
}

// CheckDocumentRoot verifies that the HTTP document root is an existing
// directory. Kept apart from Validate so that a config can be generated and
// validated on a machine that does not serve it.
func CheckDocumentRoot(cfg *Config) error {
	root := cfg.Adapters.HTTP.DocumentRoot

	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("adapters.http.document_root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("adapters.http.document_root: %s is not a directory", root)
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		// Return the first validation error with context
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
