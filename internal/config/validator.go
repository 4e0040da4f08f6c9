package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "sessions.max_sessions")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidDriverKinds returns the list of valid driver kinds
func ValidDriverKinds() []string {
	return []string{DriverChrome, DriverNoop}
}

// ValidStoreKinds returns the list of valid store kinds
func ValidStoreKinds() []string {
	return []string{StoreSQLite, StoreMemory}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateSessions()...)
	errors = append(errors, c.validateSubmit()...)
	errors = append(errors, c.validateControl()...)
	errors = append(errors, c.validateDriver()...)
	errors = append(errors, c.validateStore()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateSessions() []ValidationError {
	var errors []ValidationError

	// Sessions map to browser tabs; more than this is almost certainly a typo
	const maxSessionsLimit = 64
	if c.Sessions.MaxSessions < 1 {
		errors = append(errors, ValidationError{
			Field:   "sessions.max_sessions",
			Value:   c.Sessions.MaxSessions,
			Message: "must be at least 1",
		})
	} else if c.Sessions.MaxSessions > maxSessionsLimit {
		errors = append(errors, ValidationError{
			Field:   "sessions.max_sessions",
			Value:   c.Sessions.MaxSessions,
			Message: fmt.Sprintf("exceeds maximum of %d", maxSessionsLimit),
		})
	}

	if c.Sessions.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "sessions.batch_size",
			Value:   c.Sessions.BatchSize,
			Message: "must be at least 1",
		})
	}

	if c.Sessions.SubBatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "sessions.sub_batch_size",
			Value:   c.Sessions.SubBatchSize,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateSubmit() []ValidationError {
	var errors []ValidationError

	const maxRetriesLimit = 10
	if c.Submit.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "submit.max_retries",
			Value:   c.Submit.MaxRetries,
			Message: "must be non-negative",
		})
	} else if c.Submit.MaxRetries > maxRetriesLimit {
		errors = append(errors, ValidationError{
			Field:   "submit.max_retries",
			Value:   c.Submit.MaxRetries,
			Message: fmt.Sprintf("exceeds maximum of %d", maxRetriesLimit),
		})
	}

	if c.Submit.CallTimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "submit.call_timeout_seconds",
			Value:   c.Submit.CallTimeoutSeconds,
			Message: "must be at least 1",
		})
	}

	if c.Submit.FormSteps < 1 {
		errors = append(errors, ValidationError{
			Field:   "submit.form_steps",
			Value:   c.Submit.FormSteps,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateControl() []ValidationError {
	var errors []ValidationError

	if c.Control.PollIntervalMs < 1 {
		errors = append(errors, ValidationError{
			Field:   "control.poll_interval_ms",
			Value:   c.Control.PollIntervalMs,
			Message: "must be at least 1",
		})
	}

	if c.Control.MaxPollIntervalMs < c.Control.PollIntervalMs {
		errors = append(errors, ValidationError{
			Field:   "control.max_poll_interval_ms",
			Value:   c.Control.MaxPollIntervalMs,
			Message: "must not be less than control.poll_interval_ms",
		})
	}

	return errors
}

func (c *Config) validateDriver() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidDriverKinds(), c.Driver.Kind) {
		errors = append(errors, ValidationError{
			Field:   "driver.kind",
			Value:   c.Driver.Kind,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidDriverKinds(), ", ")),
		})
	}

	if c.Driver.BaseURL != "" {
		u, err := url.Parse(c.Driver.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "driver.base_url",
				Value:   c.Driver.BaseURL,
				Message: "must be an absolute URL",
			})
		}
	}

	// base_url itself is checked when the chrome driver is built, so that
	// commands which never open a browser work with an empty one.
	if c.Driver.Kind == DriverChrome {
		if !strings.Contains(c.Driver.Selectors.Field, "%s") {
			errors = append(errors, ValidationError{
				Field:   "driver.selectors.field",
				Value:   c.Driver.Selectors.Field,
				Message: "must contain %s for the field name",
			})
		}
		for field, path := range map[string]string{
			"driver.probe_path": c.Driver.ProbePath,
			"driver.edit_path":  c.Driver.EditPath,
		} {
			if !strings.Contains(path, "{id}") {
				errors = append(errors, ValidationError{
					Field:   field,
					Value:   path,
					Message: "must contain {id}",
				})
			}
		}
		for field, sel := range map[string]string{
			"driver.selectors.submit": c.Driver.Selectors.Submit,
			"driver.selectors.save":   c.Driver.Selectors.Save,
		} {
			if strings.TrimSpace(sel) == "" {
				errors = append(errors, ValidationError{
					Field:   field,
					Value:   sel,
					Message: "must not be empty",
				})
			}
		}
	}

	return errors
}

func (c *Config) validateStore() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidStoreKinds(), c.Store.Kind) {
		errors = append(errors, ValidationError{
			Field:   "store.kind",
			Value:   c.Store.Kind,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidStoreKinds(), ", ")),
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
