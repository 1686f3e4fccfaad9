// Package config loads and watches the gwatch configuration file.
//
// Recognized keys live under watcher.*, display.*, review.*, viewer.*,
// dashboard.* and log.*. Changes written to the config file while a
// watch session runs are picked up and applied without a restart.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all configurable gwatch settings.
type Config struct {
	Watcher   WatcherConfig   `mapstructure:"watcher"`
	Display   DisplayConfig   `mapstructure:"display"`
	Review    ReviewConfig    `mapstructure:"review"`
	Viewer    ViewerConfig    `mapstructure:"viewer"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
}

// WatcherConfig controls the event pipeline.
type WatcherConfig struct {
	// DebounceMs is the quiet period after a path's last event before
	// its diff request is emitted.
	DebounceMs int `mapstructure:"debounce_ms"`
	// MaxEventsBuffer caps the event history length.
	MaxEventsBuffer int `mapstructure:"max_events_buffer"`
	// IgnorePatterns are globs matched against path components and
	// repo-relative paths; matching paths never enter the pipeline.
	IgnorePatterns []string `mapstructure:"ignore_patterns"`
}

// DisplayConfig controls the hunk model.
type DisplayConfig struct {
	// ContextLines is the number of unchanged lines kept around each
	// change run.
	ContextLines int `mapstructure:"context_lines"`
}

// ReviewConfig controls review-state persistence.
type ReviewConfig struct {
	// DBPath overrides the review database location. Empty means
	// <config dir>/review.db.
	DBPath string `mapstructure:"db_path"`
}

// ViewerConfig controls external diff viewer resolution.
type ViewerConfig struct {
	// Command is auto, delta, difftastic or internal.
	Command string `mapstructure:"command"`
}

// DashboardConfig controls the snapshot broadcast server.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LogConfig controls the session log file.
type LogConfig struct {
	// File overrides the log location. Empty means <config dir>/gwatch.log.
	File string `mapstructure:"file"`
	// MaxSizeMB is the size at which the log file rotates.
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is how many rotated files to keep.
	MaxBackups int `mapstructure:"max_backups"`
}

// Dir returns the gwatch configuration directory.
func Dir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "gwatch")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("watcher.debounce_ms", 50)
	v.SetDefault("watcher.max_events_buffer", 300)
	v.SetDefault("watcher.ignore_patterns", []string{
		"node_modules", "dist", "build", "*.log", "target",
	})
	v.SetDefault("display.context_lines", 3)
	v.SetDefault("review.db_path", "")
	v.SetDefault("viewer.command", "auto")
	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8080)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
}

// Load reads the config file from dir (or the default config directory
// when dir is empty). A missing file yields defaults; an unreadable or
// malformed file logs a warning and yields defaults too, so a broken
// edit never prevents startup.
func Load(dir string, logger *log.Logger) (*Config, *viper.Viper, error) {
	if logger == nil {
		logger = log.Default()
	}
	if dir == "" {
		dir = Dir()
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			logger.Printf("Config file invalid, using defaults: %v", err)
		}
	}

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Watch re-reads the config whenever the file changes and hands the
// fresh result to onChange. Malformed edits are logged and skipped; the
// running session keeps its last good configuration.
func Watch(v *viper.Viper, logger *log.Logger, onChange func(*Config)) {
	if logger == nil {
		logger = log.Default()
	}

	v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := unmarshal(v)
		if err != nil {
			logger.Printf("Ignoring config update: %v", err)
			return
		}
		logger.Printf("Config updated, applying at runtime")
		onChange(cfg)
	})
	v.WatchConfig()
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// LogPath resolves the session log file location.
func (c *Config) LogPath() string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return filepath.Join(Dir(), "gwatch.log")
}

// ReviewDBPath resolves the review database location.
func (c *Config) ReviewDBPath() string {
	if c.Review.DBPath != "" {
		return c.Review.DBPath
	}
	return filepath.Join(Dir(), "review.db")
}
