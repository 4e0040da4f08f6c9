package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Sessions.MaxSessions != 3 {
		t.Errorf("Sessions.MaxSessions = %d, want 3", cfg.Sessions.MaxSessions)
	}
	if cfg.Sessions.BatchSize != 10 {
		t.Errorf("Sessions.BatchSize = %d, want 10", cfg.Sessions.BatchSize)
	}
	if cfg.Sessions.SubBatchSize != 10 {
		t.Errorf("Sessions.SubBatchSize = %d, want 10", cfg.Sessions.SubBatchSize)
	}
	if cfg.Submit.MaxRetries != 2 {
		t.Errorf("Submit.MaxRetries = %d, want 2", cfg.Submit.MaxRetries)
	}
	if cfg.Driver.Kind != DriverChrome {
		t.Errorf("Driver.Kind = %q, want %q", cfg.Driver.Kind, DriverChrome)
	}
	if !cfg.Driver.Headless {
		t.Error("Driver.Headless should be true by default")
	}
	if cfg.Store.Kind != StoreSQLite {
		t.Errorf("Store.Kind = %q, want %q", cfg.Store.Kind, StoreSQLite)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestDurations(t *testing.T) {
	cfg := Default()
	if got := cfg.Submit.CallTimeout(); got != 30*time.Second {
		t.Errorf("CallTimeout() = %v, want 30s", got)
	}
	if got := cfg.Control.PollInterval(); got != 500*time.Millisecond {
		t.Errorf("PollInterval() = %v, want 500ms", got)
	}
	if got := cfg.Control.MaxPollInterval(); got != 2*time.Second {
		t.Errorf("MaxPollInterval() = %v, want 2s", got)
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got, want := ConfigDir(), "/custom/config/formrunner"; got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		want := filepath.Join(home, ".config", "formrunner")
		if got := ConfigDir(); got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got, want := ConfigFile(), "/custom/config/formrunner/config.yaml"; got != want {
		t.Errorf("ConfigFile() = %q, want %q", got, want)
	}
}

func TestStoreConfig_ResolvePath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	home, _ := os.UserHomeDir()

	tests := []struct {
		path string
		want string
	}{
		{"", "/custom/config/formrunner/formrunner.db"},
		{"/var/lib/formrunner.db", "/var/lib/formrunner.db"},
		{"~/data/items.db", filepath.Join(home, "data", "items.db")},
	}
	for _, tt := range tests {
		s := StoreConfig{Path: tt.path}
		if got := s.ResolvePath(); got != tt.want {
			t.Errorf("ResolvePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestLoad_FromViper(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	SetDefaults()
	viper.Set("sessions.max_sessions", 7)
	viper.Set("driver.kind", DriverNoop)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Sessions.MaxSessions != 7 {
		t.Errorf("Sessions.MaxSessions = %d, want 7", cfg.Sessions.MaxSessions)
	}
	if cfg.Sessions.BatchSize != 10 {
		t.Errorf("Sessions.BatchSize = %d, want default 10", cfg.Sessions.BatchSize)
	}
	if cfg.Driver.Kind != DriverNoop {
		t.Errorf("Driver.Kind = %q, want noop", cfg.Driver.Kind)
	}
}

func TestLoad_Invalid(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	SetDefaults()
	viper.Set("sessions.max_sessions", 0)

	if _, err := Load(); err == nil {
		t.Fatal("Load() should fail for max_sessions=0")
	}
	if cfg := Get(); cfg.Sessions.MaxSessions != 3 {
		t.Errorf("Get() should fall back to defaults, got max_sessions=%d", cfg.Sessions.MaxSessions)
	}
}
