// Package config loads the application configuration from a config file
// and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the daemon and the CLI need to run.
type Config struct {
	// DatabasePath is the client-and-tab store location.
	DatabasePath string `mapstructure:"database_path"`

	// PrefsPath is the preferences database location.
	PrefsPath string `mapstructure:"prefs_path"`

	// ServerURL is the remote storage service base URL.
	ServerURL string `mapstructure:"server_url"`

	// LoginsDBPath, when set, is watched for local login changes to
	// trigger debounced logins syncs.
	LoginsDBPath string `mapstructure:"logins_db_path"`

	// DashboardAddr is the WebSocket dashboard listen address. Empty
	// disables the dashboard.
	DashboardAddr string `mapstructure:"dashboard_addr"`

	// SyncInterval is the background sync timer period.
	SyncInterval time.Duration `mapstructure:"sync_interval"`

	// LogFile, when set, routes daemon logs into a rotated file instead
	// of stderr.
	LogFile string `mapstructure:"log_file"`
}

// Load reads configuration from an optional config file plus WEAVE_*
// environment variables. Path may be empty, in which case only defaults
// and the environment apply; a missing config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database_path", defaultDataPath("weave.db"))
	v.SetDefault("prefs_path", defaultDataPath("prefs.db"))
	v.SetDefault("server_url", "")
	v.SetDefault("logins_db_path", "")
	v.SetDefault("dashboard_addr", "")
	v.SetDefault("sync_interval", 15*time.Minute)
	v.SetDefault("log_file", "")

	v.SetEnvPrefix("WEAVE")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("weave")
		v.SetConfigType("yaml")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "weave"))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.SyncInterval <= 0 {
		return nil, fmt.Errorf("sync_interval must be positive, got %s", cfg.SyncInterval)
	}

	return &cfg, nil
}

func defaultDataPath(name string) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return name
	}
	return filepath.Join(dir, "weave", name)
}
