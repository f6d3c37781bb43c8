package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skeinsync/skein/internal/crypto"
	"github.com/skeinsync/skein/internal/scanner"
	"github.com/skeinsync/skein/internal/services/session"
	"github.com/skeinsync/skein/internal/state"
	"github.com/skeinsync/skein/internal/transport"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run the sync loop until interrupted",
	RunE:  runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	if cfg.Storage.SyncRoot == "" {
		return fmt.Errorf("storage.sync_root is not configured")
	}
	key, err := loadMasterKey()
	if err != nil {
		return err
	}

	provider := crypto.NewProvider()
	store, err := state.NewSQLiteStore(cfg.Storage.StateFile, provider, key, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	tp := transport.New(&cfg.API, logger)
	defer tp.Close()

	scan := scanner.New(cfg.Storage.SyncRoot, logger)

	sess := session.New(cfg, provider, key, store, tp, scan, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.WithField("root", cfg.Storage.SyncRoot).Info("Sync started")
	if err := sess.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	logger.Info("Sync stopped")
	return nil
}
