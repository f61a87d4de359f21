package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Remote backend the sync queue drains into
	Remote RemoteConfig `json:"remote" mapstructure:"remote"`

	// On-device storage paths
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Sync queue behavior
	Sync SyncConfig `json:"sync" mapstructure:"sync"`

	// Network signal and probing
	Connectivity ConnectivityConfig `json:"connectivity" mapstructure:"connectivity"`

	// Photo compression budgets
	Photo PhotoConfig `json:"photo" mapstructure:"photo"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`
}

// RemoteConfig selects and configures the remote-backend adapter.
type RemoteConfig struct {
	Backend    string        `json:"backend" mapstructure:"backend"` // http, aws, none
	BaseURL    string        `json:"base_url" mapstructure:"base_url"`
	APIKey     string        `json:"api_key,omitempty" mapstructure:"api_key"`
	Bucket     string        `json:"bucket" mapstructure:"bucket"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`
	UserAgent  string        `json:"user_agent" mapstructure:"user_agent"`

	// AWS backend only
	Region      string `json:"region,omitempty" mapstructure:"region"`
	TablePrefix string `json:"table_prefix,omitempty" mapstructure:"table_prefix"`
}

// StorageConfig for local file paths.
type StorageConfig struct {
	DataDir string `json:"data_dir" mapstructure:"data_dir"` // Base directory for all data
	DBPath  string `json:"db_path" mapstructure:"db_path"`   // Local store database
	TempDir string `json:"temp_dir" mapstructure:"temp_dir"` // Transient photo display handles
}

// SyncConfig for queue draining behavior.
type SyncConfig struct {
	MaxAttempts        int           `json:"max_attempts" mapstructure:"max_attempts"`               // Attempts before an item is failed
	RetryDelay         time.Duration `json:"retry_delay" mapstructure:"retry_delay"`                 // Base backoff between attempts
	CompletedRetention time.Duration `json:"completed_retention" mapstructure:"completed_retention"` // Reap completed items after
	PhotoRetentionDays int           `json:"photo_retention_days" mapstructure:"photo_retention_days"`
	CacheRetention     time.Duration `json:"cache_retention" mapstructure:"cache_retention"` // Synced assessments and appointments
	AutoSync           bool          `json:"auto_sync" mapstructure:"auto_sync"`             // Drain on online transitions
	Interval           time.Duration `json:"interval" mapstructure:"interval"`               // Periodic drain while online, 0 disables
}

// ConnectivityConfig for the connectivity monitor.
type ConnectivityConfig struct {
	ProbeURL      string        `json:"probe_url" mapstructure:"probe_url"`
	ProbeTimeout  time.Duration `json:"probe_timeout" mapstructure:"probe_timeout"`
	PollInterval  time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
	LinkStateFile string        `json:"link_state_file" mapstructure:"link_state_file"` // Written by the OS network dispatcher
}

// PhotoConfig for compression budgets.
type PhotoConfig struct {
	MaxWidth         int     `json:"max_width" mapstructure:"max_width"`
	MaxHeight        int     `json:"max_height" mapstructure:"max_height"`
	Quality          float64 `json:"quality" mapstructure:"quality"`
	Format           string  `json:"format" mapstructure:"format"`
	ThumbnailSize    int     `json:"thumbnail_size" mapstructure:"thumbnail_size"`
	ThumbnailQuality float64 `json:"thumbnail_quality" mapstructure:"thumbnail_quality"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level      string `json:"level" mapstructure:"level"`             // debug, info, warn, error
	Format     string `json:"format" mapstructure:"format"`           // text, json
	File       string `json:"file" mapstructure:"file"`               // Log file path (empty = stdout)
	MaxSize    int    `json:"max_size" mapstructure:"max_size"`       // Max log file size in MB
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"` // Max number of old logs
	MaxAge     int    `json:"max_age" mapstructure:"max_age"`         // Max age in days
	Color      bool   `json:"color" mapstructure:"color"`             // Enable colored output
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".fieldsync"

	return &Config{
		Remote: RemoteConfig{
			Backend:    "http",
			BaseURL:    "http://localhost:54321",
			Bucket:     "assessment-photos",
			Timeout:    30 * time.Second,
			MaxRetries: 2,
			UserAgent:  "fieldsync/1.0",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
			DBPath:  filepath.Join(dataDir, "fieldsync.db"),
			TempDir: filepath.Join(dataDir, "temp"),
		},
		Sync: SyncConfig{
			MaxAttempts:        3,
			RetryDelay:         time.Second,
			CompletedRetention: 24 * time.Hour,
			PhotoRetentionDays: 7,
			CacheRetention:     30 * 24 * time.Hour,
			AutoSync:           true,
			Interval:           5 * time.Minute,
		},
		Connectivity: ConnectivityConfig{
			ProbeURL:     "http://localhost:54321/health",
			ProbeTimeout: 5 * time.Second,
			PollInterval: 30 * time.Second,
		},
		Photo: PhotoConfig{
			MaxWidth:         1920,
			MaxHeight:        1920,
			Quality:          0.8,
			Format:           "jpeg",
			ThumbnailSize:    200,
			ThumbnailQuality: 0.6,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			File:       "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
			Color:      true,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	validBackends := map[string]bool{"http": true, "aws": true, "none": true}
	if !validBackends[c.Remote.Backend] {
		return fmt.Errorf("invalid remote backend: %s", c.Remote.Backend)
	}

	if c.Remote.Backend == "http" && c.Remote.BaseURL == "" {
		return errors.New("remote.base_url is required")
	}

	if c.Remote.Backend != "none" && c.Remote.Bucket == "" {
		return errors.New("remote.bucket is required")
	}

	if c.Remote.Timeout <= 0 {
		return errors.New("remote.timeout must be positive")
	}

	if c.Storage.DBPath == "" {
		return errors.New("storage.db_path is required")
	}

	if c.Sync.MaxAttempts <= 0 {
		return errors.New("sync.max_attempts must be positive")
	}

	if c.Sync.RetryDelay < 0 {
		return errors.New("sync.retry_delay cannot be negative")
	}

	if c.Sync.Interval < 0 {
		return errors.New("sync.interval cannot be negative")
	}

	if c.Connectivity.ProbeTimeout <= 0 {
		return errors.New("connectivity.probe_timeout must be positive")
	}

	if c.Connectivity.PollInterval <= 0 {
		return errors.New("connectivity.poll_interval must be positive")
	}

	if c.Photo.MaxWidth <= 0 || c.Photo.MaxHeight <= 0 {
		return errors.New("photo dimensions must be positive")
	}

	if c.Photo.Quality <= 0 || c.Photo.Quality > 1 {
		return fmt.Errorf("photo.quality must be in (0, 1]: %v", c.Photo.Quality)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		c.Storage.TempDir,
		filepath.Dir(c.Storage.DBPath),
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
