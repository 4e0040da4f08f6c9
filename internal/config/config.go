package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete formrunner configuration
type Config struct {
	Sessions SessionsConfig `mapstructure:"sessions" yaml:"sessions"`
	Submit   SubmitConfig   `mapstructure:"submit" yaml:"submit"`
	Control  ControlConfig  `mapstructure:"control" yaml:"control"`
	Driver   DriverConfig   `mapstructure:"driver" yaml:"driver"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// SessionsConfig controls how work is spread across concurrent sessions
type SessionsConfig struct {
	// MaxSessions is K, the upper bound on concurrent sessions (default: 3).
	// A start command may request fewer.
	MaxSessions int `mapstructure:"max_sessions" yaml:"max_sessions"`
	// BatchSize is B: jobs of at most this many items run on one session (default: 10)
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
	// SubBatchSize is how many items one form submission carries (default: 10)
	SubBatchSize int `mapstructure:"sub_batch_size" yaml:"sub_batch_size"`
}

// SubmitConfig controls the submission state machine
type SubmitConfig struct {
	// MaxRetries is how many times a rejected step is refilled and resubmitted (default: 2)
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
	// CallTimeoutSeconds bounds every driver call (default: 30)
	CallTimeoutSeconds int `mapstructure:"call_timeout_seconds" yaml:"call_timeout_seconds"`
	// FormSteps is the number of pages in the form; the last one is saved (default: 2)
	FormSteps int `mapstructure:"form_steps" yaml:"form_steps"`
}

// ControlConfig controls the pause checkpoint
type ControlConfig struct {
	// PollIntervalMs is the initial wait between pause checks (default: 500)
	PollIntervalMs int `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
	// MaxPollIntervalMs caps the backoff between pause checks (default: 2000)
	MaxPollIntervalMs int `mapstructure:"max_poll_interval_ms" yaml:"max_poll_interval_ms"`
}

// DriverConfig selects and configures the form driver
type DriverConfig struct {
	// Kind is "chrome" or "noop" (default: "chrome")
	Kind string `mapstructure:"kind" yaml:"kind"`
	// Headless runs the browser without a window (default: true)
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// BaseURL is the portal root; FormPath and ProbePath are resolved against it
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// FormPath is the path of the entry form. "{target}" is replaced by the target ID.
	FormPath string `mapstructure:"form_path" yaml:"form_path"`
	// ProbePath is the path of a record page. "{id}" is replaced by the external ID.
	ProbePath string `mapstructure:"probe_path" yaml:"probe_path"`
	// EditPath reopens a saved record for editing. "{id}" is replaced by the external ID.
	EditPath string `mapstructure:"edit_path" yaml:"edit_path"`
	// UserAgent overrides the browser user agent when set
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
	// Selectors locate the form's controls
	Selectors SelectorsConfig `mapstructure:"selectors" yaml:"selectors"`
}

// SelectorsConfig holds the CSS selectors the chrome driver relies on
type SelectorsConfig struct {
	// Field is a format string applied to each payload key, e.g. `[name="%s"]`
	Field string `mapstructure:"field" yaml:"field"`
	// Submit is the button that advances or finishes a step
	Submit string `mapstructure:"submit" yaml:"submit"`
	// Save is the button that persists the record on the last step
	Save string `mapstructure:"save" yaml:"save"`
	// ValidationError is present on the page when the form rejected input
	ValidationError string `mapstructure:"validation_error" yaml:"validation_error"`
	// ExternalID holds the identifier of a saved record
	ExternalID string `mapstructure:"external_id" yaml:"external_id"`
	// Incomplete is present on a record page while the record is incomplete
	Incomplete string `mapstructure:"incomplete" yaml:"incomplete"`
}

// StoreConfig selects the item store
type StoreConfig struct {
	// Kind is "sqlite" or "memory" (default: "sqlite")
	Kind string `mapstructure:"kind" yaml:"kind"`
	// Path is the sqlite database file. Empty means formrunner.db in the config dir.
	Path string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// Dir is where formrunner.log is written. Empty means stderr.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated log files (default: false)
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Sessions: SessionsConfig{
			MaxSessions:  3,
			BatchSize:    10,
			SubBatchSize: 10,
		},
		Submit: SubmitConfig{
			MaxRetries:         2,
			CallTimeoutSeconds: 30,
			FormSteps:          2,
		},
		Control: ControlConfig{
			PollIntervalMs:    500,
			MaxPollIntervalMs: 2000,
		},
		Driver: DriverConfig{
			Kind:      DriverChrome,
			Headless:  true,
			FormPath:  "/report/{target}/macros/new",
			ProbePath: "/macros/{id}",
			EditPath:  "/macros/{id}/edit",
			Selectors: SelectorsConfig{
				Field:           `[name="%s"]`,
				Submit:          `button[type="submit"]`,
				Save:            `button[name="save"]`,
				ValidationError: `.invalid-feedback, .alert-danger`,
				ExternalID:      `[data-record-id]`,
				Incomplete:      `.status-incomplete`,
			},
		},
		Store: StoreConfig{
			Kind: StoreSQLite,
			Path: "",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Driver kinds
const (
	DriverChrome = "chrome"
	DriverNoop   = "noop"
)

// Store kinds
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// CallTimeout returns the per-call driver timeout as a time.Duration
func (c *SubmitConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// PollInterval returns the initial pause poll interval as a time.Duration
func (c *ControlConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// MaxPollInterval returns the pause poll interval cap as a time.Duration
func (c *ControlConfig) MaxPollInterval() time.Duration {
	return time.Duration(c.MaxPollIntervalMs) * time.Millisecond
}

// ResolvePath returns the database path, defaulting to formrunner.db in
// the config directory and expanding a leading ~.
func (s *StoreConfig) ResolvePath() string {
	if s.Path == "" {
		return filepath.Join(ConfigDir(), "formrunner.db")
	}
	return expandHome(s.Path)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Session defaults
	viper.SetDefault("sessions.max_sessions", defaults.Sessions.MaxSessions)
	viper.SetDefault("sessions.batch_size", defaults.Sessions.BatchSize)
	viper.SetDefault("sessions.sub_batch_size", defaults.Sessions.SubBatchSize)

	// Submit defaults
	viper.SetDefault("submit.max_retries", defaults.Submit.MaxRetries)
	viper.SetDefault("submit.call_timeout_seconds", defaults.Submit.CallTimeoutSeconds)
	viper.SetDefault("submit.form_steps", defaults.Submit.FormSteps)

	// Control defaults
	viper.SetDefault("control.poll_interval_ms", defaults.Control.PollIntervalMs)
	viper.SetDefault("control.max_poll_interval_ms", defaults.Control.MaxPollIntervalMs)

	// Driver defaults
	viper.SetDefault("driver.kind", defaults.Driver.Kind)
	viper.SetDefault("driver.headless", defaults.Driver.Headless)
	viper.SetDefault("driver.base_url", defaults.Driver.BaseURL)
	viper.SetDefault("driver.form_path", defaults.Driver.FormPath)
	viper.SetDefault("driver.probe_path", defaults.Driver.ProbePath)
	viper.SetDefault("driver.edit_path", defaults.Driver.EditPath)
	viper.SetDefault("driver.user_agent", defaults.Driver.UserAgent)
	viper.SetDefault("driver.selectors.field", defaults.Driver.Selectors.Field)
	viper.SetDefault("driver.selectors.submit", defaults.Driver.Selectors.Submit)
	viper.SetDefault("driver.selectors.save", defaults.Driver.Selectors.Save)
	viper.SetDefault("driver.selectors.validation_error", defaults.Driver.Selectors.ValidationError)
	viper.SetDefault("driver.selectors.external_id", defaults.Driver.Selectors.ExternalID)
	viper.SetDefault("driver.selectors.incomplete", defaults.Driver.Selectors.Incomplete)

	// Store defaults
	viper.SetDefault("store.kind", defaults.Store.Kind)
	viper.SetDefault("store.path", defaults.Store.Path)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "formrunner")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".formrunner"
	}
	return filepath.Join(home, ".config", "formrunner")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
