package main

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skeinsync/skein/internal/config"
	"github.com/skeinsync/skein/internal/events"
)

var (
	cfgFile string

	cfg    *config.Config
	logger *events.Logger
)

var rootCmd = &cobra.Command{
	Use:   "skein",
	Short: "Encrypted cloud tree mirror",
	Long: `Skein maintains a local mirror of an encrypted cloud file tree:
node keys, attributes, fingerprints and sync state, cached across runs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}

		out := os.Stderr
		if cfg.Log.File != "" {
			f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			out = f
		}
		logger = events.NewLogger(events.ParseLevel(cfg.Log.Level), cfg.Log.Format, out)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Config file (default skein.yaml, $HOME/.config/skein/skein.yaml)")
}

func sessionKeyPath() string {
	return filepath.Join(cfg.Storage.DataDir, "session.key")
}

// loadMasterKey reads the key material written by `skein unlock`.
func loadMasterKey() ([]byte, error) {
	raw, err := os.ReadFile(sessionKeyPath())
	if err != nil {
		return nil, fmt.Errorf("no session key, run `skein unlock` first: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("malformed session key: %w", err)
	}
	return key, nil
}

func accountSalt() ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(cfg.Account.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode account.salt: %w", err)
	}
	return salt, nil
}
