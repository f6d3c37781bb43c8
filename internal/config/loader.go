package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from an optional file plus SKEIN_*
// environment overrides, layered over defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("skein")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/skein")

	v.SetEnvPrefix("SKEIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.event_url", d.API.EventURL)
	v.SetDefault("api.timeout", d.API.Timeout)
	v.SetDefault("api.max_retries", d.API.MaxRetries)
	v.SetDefault("api.user_agent", d.API.UserAgent)
	v.SetDefault("storage.data_dir", d.Storage.DataDir)
	v.SetDefault("storage.state_file", d.Storage.StateFile)
	v.SetDefault("storage.sync_root", d.Storage.SyncRoot)
	v.SetDefault("sync.scan_interval", d.Sync.ScanInterval)
	v.SetDefault("sync.nagle_delay", d.Sync.NagleDelay)
	v.SetDefault("sync.event_buffer", d.Sync.EventBuffer)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
}
