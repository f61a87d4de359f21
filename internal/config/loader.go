package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	envPrefix  string
	v          *viper.Viper
}

// NewLoader creates a config loader.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envPrefix:  "FIELDSYNC",
		v:          viper.New(),
	}
}

// Load reads configuration from file and environment.
func (l *Loader) Load() (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()
	l.setDefaults(cfg)

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configPath != "" {
		l.v.SetConfigFile(l.configPath)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	} else {
		l.v.SetConfigName("fieldsync")
		for _, dir := range l.defaultDirs() {
			l.v.AddConfigPath(dir)
		}
		if err := l.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("load config file %s: %w", l.v.ConfigFileUsed(), err)
			}
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// A data dir override moves dependent paths still at their defaults
	defaults := DefaultConfig().Storage
	if cfg.Storage.DataDir != defaults.DataDir {
		if cfg.Storage.DBPath == defaults.DBPath {
			cfg.Storage.DBPath = filepath.Join(cfg.Storage.DataDir, "fieldsync.db")
		}
		if cfg.Storage.TempDir == defaults.TempDir {
			cfg.Storage.TempDir = filepath.Join(cfg.Storage.DataDir, "temp")
		}
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	// Validate final config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ConfigFileUsed reports the file the last Load read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// defaultDirs returns default config file locations.
func (l *Loader) defaultDirs() []string {
	dirs := []string{"."}

	if homeDir, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs,
			filepath.Join(homeDir, ".config", "fieldsync"),
			filepath.Join(homeDir, ".fieldsync"),
		)
	}

	return dirs
}

// setDefaults registers every key so environment overrides resolve
// even when no config file mentions them.
func (l *Loader) setDefaults(cfg *Config) {
	d := map[string]interface{}{
		"remote.backend":               cfg.Remote.Backend,
		"remote.base_url":              cfg.Remote.BaseURL,
		"remote.api_key":               cfg.Remote.APIKey,
		"remote.bucket":                cfg.Remote.Bucket,
		"remote.timeout":               cfg.Remote.Timeout,
		"remote.max_retries":           cfg.Remote.MaxRetries,
		"remote.user_agent":            cfg.Remote.UserAgent,
		"remote.region":                cfg.Remote.Region,
		"remote.table_prefix":          cfg.Remote.TablePrefix,
		"storage.data_dir":             cfg.Storage.DataDir,
		"storage.db_path":              cfg.Storage.DBPath,
		"storage.temp_dir":             cfg.Storage.TempDir,
		"sync.max_attempts":            cfg.Sync.MaxAttempts,
		"sync.retry_delay":             cfg.Sync.RetryDelay,
		"sync.completed_retention":     cfg.Sync.CompletedRetention,
		"sync.photo_retention_days":    cfg.Sync.PhotoRetentionDays,
		"sync.cache_retention":         cfg.Sync.CacheRetention,
		"sync.auto_sync":               cfg.Sync.AutoSync,
		"sync.interval":                cfg.Sync.Interval,
		"connectivity.probe_url":       cfg.Connectivity.ProbeURL,
		"connectivity.probe_timeout":   cfg.Connectivity.ProbeTimeout,
		"connectivity.poll_interval":   cfg.Connectivity.PollInterval,
		"connectivity.link_state_file": cfg.Connectivity.LinkStateFile,
		"photo.max_width":              cfg.Photo.MaxWidth,
		"photo.max_height":             cfg.Photo.MaxHeight,
		"photo.quality":                cfg.Photo.Quality,
		"photo.format":                 cfg.Photo.Format,
		"photo.thumbnail_size":         cfg.Photo.ThumbnailSize,
		"photo.thumbnail_quality":      cfg.Photo.ThumbnailQuality,
		"log.level":                    cfg.Log.Level,
		"log.format":                   cfg.Log.Format,
		"log.file":                     cfg.Log.File,
		"log.max_size":                 cfg.Log.MaxSize,
		"log.max_backups":              cfg.Log.MaxBackups,
		"log.max_age":                  cfg.Log.MaxAge,
		"log.color":                    cfg.Log.Color,
	}

	for key, value := range d {
		l.v.SetDefault(key, value)
	}
}

// SaveExample writes an example config file.
func SaveExample(path string) error {
	cfg := DefaultConfig()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}
