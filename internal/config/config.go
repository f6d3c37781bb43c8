package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Account AccountConfig `mapstructure:"account"`
	Storage StorageConfig `mapstructure:"storage"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Log     LogConfig     `mapstructure:"log"`
}

// APIConfig for server communication.
type APIConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	EventURL   string        `mapstructure:"event_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	UserAgent  string        `mapstructure:"user_agent"`
}

// AccountConfig identifies the account whose tree is mirrored.
type AccountConfig struct {
	Email string `mapstructure:"email"`

	// Base64 per-account salt for master-key derivation.
	Salt string `mapstructure:"salt"`
}

// StorageConfig for local paths.
type StorageConfig struct {
	DataDir   string `mapstructure:"data_dir"`
	StateFile string `mapstructure:"state_file"`
	SyncRoot  string `mapstructure:"sync_root"`
}

// SyncConfig tunes the scan and upload cadence.
type SyncConfig struct {
	ScanInterval time.Duration `mapstructure:"scan_interval"`
	NagleDelay   time.Duration `mapstructure:"nagle_delay"`
	EventBuffer  int           `mapstructure:"event_buffer"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".skein"
	return &Config{
		API: APIConfig{
			BaseURL:    "https://api.skein.example",
			EventURL:   "wss://events.skein.example/stream",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			UserAgent:  "skein-go",
		},
		Storage: StorageConfig{
			DataDir:   dataDir,
			StateFile: filepath.Join(dataDir, "state.db"),
			SyncRoot:  "",
		},
		Sync: SyncConfig{
			ScanInterval: 30 * time.Second,
			NagleDelay:   3 * time.Second,
			EventBuffer:  256,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive, got %s", c.API.Timeout)
	}
	if c.Storage.StateFile == "" {
		return errors.New("storage.state_file is required")
	}
	if c.Sync.EventBuffer <= 0 {
		return fmt.Errorf("sync.event_buffer must be positive, got %d", c.Sync.EventBuffer)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
