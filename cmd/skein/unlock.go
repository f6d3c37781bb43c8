package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/skeinsync/skein/internal/crypto"
)

var unlockPassword string

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Derive and cache the session master key",
	Long: `Unlock derives the master key from the account password and caches
it for subsequent commands. The state cache cannot be read without it.`,
	RunE: runUnlock,
}

func init() {
	rootCmd.AddCommand(unlockCmd)
	unlockCmd.Flags().StringVarP(&unlockPassword, "password", "p", "",
		"Account password (will prompt if not provided)")
}

func runUnlock(cmd *cobra.Command, args []string) error {
	password := unlockPassword
	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		password = string(raw)
	}

	salt, err := accountSalt()
	if err != nil {
		return err
	}

	provider := crypto.NewProvider()
	key, err := provider.DeriveMasterKey(cfg.Account.Email, password, salt)
	if err != nil {
		return fmt.Errorf("derive master key: %w", err)
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(sessionKeyPath(), []byte(hex.EncodeToString(key)), 0o600); err != nil {
		return fmt.Errorf("write session key: %w", err)
	}

	logger.WithField("email", cfg.Account.Email).Info("Session unlocked")
	return nil
}
