package config

import (
	"strings"
	"testing"
)

func hasFieldError(errs []ValidationError, field string) bool {
	for _, err := range errs {
		if err.Field == field {
			return true
		}
	}
	return false
}

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test.field",
		Value:   123,
		Message: "must be greater than zero",
	}

	expected := "test.field: must be greater than zero (got: 123)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "test.field", Value: 123, Message: "is invalid"},
		}
		expected := "test.field: is invalid (got: 123)"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "field1") || !strings.Contains(result, "field2") {
			t.Errorf("Error() should mention both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Default config should be valid, got errors: %v", errs)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero sessions", func(c *Config) { c.Sessions.MaxSessions = 0 }, "sessions.max_sessions"},
		{"too many sessions", func(c *Config) { c.Sessions.MaxSessions = 500 }, "sessions.max_sessions"},
		{"zero batch size", func(c *Config) { c.Sessions.BatchSize = 0 }, "sessions.batch_size"},
		{"zero sub-batch size", func(c *Config) { c.Sessions.SubBatchSize = 0 }, "sessions.sub_batch_size"},
		{"negative retries", func(c *Config) { c.Submit.MaxRetries = -1 }, "submit.max_retries"},
		{"too many retries", func(c *Config) { c.Submit.MaxRetries = 50 }, "submit.max_retries"},
		{"zero call timeout", func(c *Config) { c.Submit.CallTimeoutSeconds = 0 }, "submit.call_timeout_seconds"},
		{"zero form steps", func(c *Config) { c.Submit.FormSteps = 0 }, "submit.form_steps"},
		{"zero poll interval", func(c *Config) { c.Control.PollIntervalMs = 0 }, "control.poll_interval_ms"},
		{"max poll below poll", func(c *Config) { c.Control.MaxPollIntervalMs = 100 }, "control.max_poll_interval_ms"},
		{"unknown driver", func(c *Config) { c.Driver.Kind = "firefox" }, "driver.kind"},
		{"relative base url", func(c *Config) { c.Driver.BaseURL = "portal.local/app" }, "driver.base_url"},
		{"field selector without verb", func(c *Config) { c.Driver.Selectors.Field = "input" }, "driver.selectors.field"},
		{"probe path without id", func(c *Config) { c.Driver.ProbePath = "/macros" }, "driver.probe_path"},
		{"edit path without id", func(c *Config) { c.Driver.EditPath = "/macros/edit" }, "driver.edit_path"},
		{"empty save selector", func(c *Config) { c.Driver.Selectors.Save = " " }, "driver.selectors.save"},
		{"unknown store", func(c *Config) { c.Store.Kind = "postgres" }, "store.kind"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"zero log size", func(c *Config) { c.Logging.MaxSizeMB = 0 }, "logging.max_size_mb"},
		{"huge log size", func(c *Config) { c.Logging.MaxSizeMB = 5000 }, "logging.max_size_mb"},
		{"negative backups", func(c *Config) { c.Logging.MaxBackups = -1 }, "logging.max_backups"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if errs := cfg.Validate(); !hasFieldError(errs, tt.field) {
				t.Errorf("expected error for %s, got %v", tt.field, errs)
			}
		})
	}
}

func TestConfig_Validate_NoopDriverSkipsSelectors(t *testing.T) {
	cfg := Default()
	cfg.Driver.Kind = DriverNoop
	cfg.Driver.Selectors = SelectorsConfig{}
	cfg.Driver.ProbePath = ""
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("noop driver should not require selectors, got %v", errs)
	}
}

func TestConfig_Validate_LogLevelCaseInsensitive(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "DEBUG"
	if errs := cfg.Validate(); hasFieldError(errs, "logging.level") {
		t.Errorf("DEBUG should be accepted, got %v", errs)
	}
}
