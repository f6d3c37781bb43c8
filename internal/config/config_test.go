package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinsync/skein/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Sync.ScanInterval)
	assert.Equal(t, 3*time.Second, cfg.Sync.NagleDelay)
	assert.Equal(t, 256, cfg.Sync.EventBuffer)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NotEmpty(t, cfg.Storage.StateFile)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "missing base url",
			mutate:  func(c *config.Config) { c.API.BaseURL = "" },
			wantErr: "api.base_url",
		},
		{
			name:    "non-positive timeout",
			mutate:  func(c *config.Config) { c.API.Timeout = 0 },
			wantErr: "api.timeout",
		},
		{
			name:    "missing state file",
			mutate:  func(c *config.Config) { c.Storage.StateFile = "" },
			wantErr: "storage.state_file",
		},
		{
			name:    "bad event buffer",
			mutate:  func(c *config.Config) { c.Sync.EventBuffer = -1 },
			wantErr: "sync.event_buffer",
		},
		{
			name:    "bad log format",
			mutate:  func(c *config.Config) { c.Log.Format = "xml" },
			wantErr: "log.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skein.yaml")
	yaml := `
api:
  base_url: https://api.test.example
  timeout: 10s
account:
  email: user@test.example
storage:
  sync_root: /tmp/vault
sync:
  nagle_delay: 5s
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.test.example", cfg.API.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	assert.Equal(t, "user@test.example", cfg.Account.Email)
	assert.Equal(t, "/tmp/vault", cfg.Storage.SyncRoot)
	assert.Equal(t, 5*time.Second, cfg.Sync.NagleDelay)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Unspecified fields keep their defaults.
	assert.Equal(t, 3, cfg.API.MaxRetries)
	assert.Equal(t, 256, cfg.Sync.EventBuffer)
}

func TestLoad_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skein.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  format: xml\n"), 0o644))

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.format")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SKEIN_LOG_LEVEL", "warn")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}
