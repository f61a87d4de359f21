package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/fieldsync/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.Equal(t, "http", cfg.Remote.Backend)
	assert.Positive(t, cfg.Remote.Timeout)
	assert.NotEmpty(t, cfg.Storage.DBPath)
	assert.Equal(t, 3, cfg.Sync.MaxAttempts)
	assert.Equal(t, 24*time.Hour, cfg.Sync.CompletedRetention)
	assert.Equal(t, 5*time.Second, cfg.Connectivity.ProbeTimeout)
	assert.Equal(t, 30*time.Second, cfg.Connectivity.PollInterval)
	assert.Equal(t, 1920, cfg.Photo.MaxWidth)
	assert.Equal(t, 0.8, cfg.Photo.Quality)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr string
	}{
		{
			name:    "valid config",
			modify:  func(c *config.Config) {},
			wantErr: "",
		},
		{
			name: "unknown backend",
			modify: func(c *config.Config) {
				c.Remote.Backend = "ftp"
			},
			wantErr: "invalid remote backend",
		},
		{
			name: "missing base URL",
			modify: func(c *config.Config) {
				c.Remote.BaseURL = ""
			},
			wantErr: "remote.base_url is required",
		},
		{
			name: "no remote needs no URL",
			modify: func(c *config.Config) {
				c.Remote.Backend = "none"
				c.Remote.BaseURL = ""
				c.Remote.Bucket = ""
			},
			wantErr: "",
		},
		{
			name: "zero attempts",
			modify: func(c *config.Config) {
				c.Sync.MaxAttempts = 0
			},
			wantErr: "sync.max_attempts must be positive",
		},
		{
			name: "quality out of range",
			modify: func(c *config.Config) {
				c.Photo.Quality = 1.5
			},
			wantErr: "photo.quality",
		},
		{
			name: "invalid log level",
			modify: func(c *config.Config) {
				c.Log.Level = "invalid"
			},
			wantErr: "invalid log level",
		},
		{
			name: "negative timeout",
			modify: func(c *config.Config) {
				c.Remote.Timeout = -1
			},
			wantErr: "remote.timeout must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoaderEnv(t *testing.T) {
	t.Setenv("FIELDSYNC_REMOTE_BASE_URL", "https://test.example.com")
	t.Setenv("FIELDSYNC_REMOTE_TIMEOUT", "45s")
	t.Setenv("FIELDSYNC_SYNC_MAX_ATTEMPTS", "5")
	t.Setenv("FIELDSYNC_LOG_LEVEL", "DEBUG")

	tmpDir := t.TempDir()
	t.Setenv("FIELDSYNC_STORAGE_DATA_DIR", tmpDir)

	// Point at an explicit empty file so no config in the working tree leaks in
	path := filepath.Join(tmpDir, "empty.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0600))

	cfg, err := config.NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "https://test.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, 5, cfg.Sync.MaxAttempts)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, filepath.Join(tmpDir, "fieldsync.db"), cfg.Storage.DBPath)
	assert.Equal(t, filepath.Join(tmpDir, "temp"), cfg.Storage.TempDir)
}

func TestLoaderFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "fieldsync.json")

	content := `{
		"remote": {"backend": "aws", "bucket": "field-photos", "region": "eu-west-1"},
		"sync": {"max_attempts": 7, "retry_delay": "2s"},
		"log": {"format": "json"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := config.NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "aws", cfg.Remote.Backend)
	assert.Equal(t, "field-photos", cfg.Remote.Bucket)
	assert.Equal(t, "eu-west-1", cfg.Remote.Region)
	assert.Equal(t, 7, cfg.Sync.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Sync.RetryDelay)
	assert.Equal(t, "json", cfg.Log.Format)

	// Untouched keys keep their defaults
	assert.Equal(t, 1920, cfg.Photo.MaxWidth)
	assert.Equal(t, 24*time.Hour, cfg.Sync.CompletedRetention)
}

func TestLoaderInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"log": {"level": "loud"}}`), 0600))

	_, err := config.NewLoader(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestSaveExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.json")

	require.NoError(t, config.SaveExample(path))

	cfg, err := config.NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Remote.Bucket, cfg.Remote.Bucket)
	assert.Equal(t, config.DefaultConfig().Sync.RetryDelay, cfg.Sync.RetryDelay)
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = filepath.Join(tmpDir, "data")
	cfg.Storage.DBPath = filepath.Join(tmpDir, "data", "db", "fieldsync.db")
	cfg.Storage.TempDir = filepath.Join(tmpDir, "data", "temp")

	require.NoError(t, cfg.EnsureDirectories())

	for _, dir := range []string{cfg.Storage.DataDir, cfg.Storage.TempDir, filepath.Dir(cfg.Storage.DBPath)} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
